// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by EnvSource.
const EnvPrefix = "SKEWPRINT_"

// ConfigSource represents a configuration source that can load values into koanf.
// Sources are loaded in priority order (lowest first), with higher priority sources
// overriding lower priority values.
//
// Built-in sources and their priorities:
//   - DefaultSource (10): Hardcoded default values
//   - FileSource (20): Config file (e.g., skewprint.yaml)
//   - DotEnvSource (25): SKEWPRINT_* entries of a .env file
//   - EnvSource (30): Environment variables (SKEWPRINT_*)
//   - FlagSource (40): Command-line flags
type ConfigSource interface {
	// Name returns a human-readable name for this source (for logging/debugging)
	Name() string

	// Priority returns the load priority. Lower values are loaded first,
	// higher values override lower ones.
	Priority() int

	// Load loads configuration values into the provided koanf instance.
	Load(k *koanf.Koanf) error
}

// DefaultSource provides hardcoded default configuration values.
type DefaultSource struct{}

func (s *DefaultSource) Name() string  { return "defaults" }
func (s *DefaultSource) Priority() int { return 10 }

func (s *DefaultSource) Load(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(DefaultConfigAsMap(), "."), nil); err != nil {
		return fmt.Errorf("error loading defaults: %w", err)
	}
	return nil
}

// FileSource loads configuration from a YAML file.
type FileSource struct {
	Path string // optional, silently skipped if empty or missing
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}

	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error checking config file %s: %w", s.Path, err)
	}

	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("error loading config file %s: %w", s.Path, err)
	}
	return nil
}

// DotEnvSource loads the prefixed entries of a dotenv file without touching
// the process environment.
type DotEnvSource struct {
	Path   string // default ".env"; a missing file is skipped
	Prefix string // default EnvPrefix
}

func (s *DotEnvSource) Name() string  { return "dotenv:" + s.path() }
func (s *DotEnvSource) Priority() int { return 25 }

func (s *DotEnvSource) path() string {
	if s.Path == "" {
		return ".env"
	}
	return s.Path
}

func (s *DotEnvSource) Load(k *koanf.Koanf) error {
	values, err := godotenv.Read(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading %s: %w", s.path(), err)
	}

	prefix := prefixOr(s.Prefix)
	m := make(map[string]interface{})
	for name, value := range values {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		m[envKey(prefix, name)] = parseEnvValue(value)
	}
	if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
		return fmt.Errorf("error loading %s: %w", s.path(), err)
	}
	return nil
}

// EnvSource loads configuration from environment variables.
// The first underscore after the prefix separates section and key:
//
//	SKEWPRINT_LOG_LEVEL           -> log.level
//	SKEWPRINT_TRACKING_TIME_LIMIT -> tracking.time_limit
type EnvSource struct {
	Prefix string // default EnvPrefix
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := prefixOr(s.Prefix)
	err := k.Load(env.ProviderWithValue(prefix, ".", func(name, value string) (string, interface{}) {
		return envKey(prefix, name), parseEnvValue(value)
	}), nil)
	if err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}
	return nil
}

func prefixOr(prefix string) string {
	if prefix == "" {
		return EnvPrefix
	}
	return prefix
}

func envKey(prefix, name string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(name, prefix)), "_", ".", 1)
}

// parseEnvValue splits space separated lists such as probe targets.
func parseEnvValue(value string) interface{} {
	if fields := strings.Fields(value); len(fields) > 1 {
		return fields
	}
	return value
}

// FlagSource loads configuration from command-line flags. Keys maps flag
// names to configuration keys; flags without an entry are ignored.
type FlagSource struct {
	Flags *pflag.FlagSet
	Keys  map[string]string
	Debug bool // if true, set log.level to "debug"
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags != nil {
		provider := posflag.ProviderWithFlag(s.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := s.Keys[f.Name]
			if !ok {
				return "", nil
			}
			// Keys without a default, like calibration.skew, stay unset.
			if !f.Changed && !k.Exists(key) {
				return "", nil
			}
			return key, posflag.FlagVal(s.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return fmt.Errorf("error loading command-line flags: %w", err)
		}
	}

	if s.Debug {
		_ = k.Set("log.level", "debug")
	}
	return nil
}

// DefaultSources returns the standard configuration sources.
// Order: defaults -> file -> .env -> env -> flags
func DefaultSources(configPath string, flags *pflag.FlagSet, keys map[string]string, debug bool) []ConfigSource {
	return []ConfigSource{
		&DefaultSource{},
		&FileSource{Path: configPath},
		&DotEnvSource{},
		&EnvSource{Prefix: EnvPrefix},
		&FlagSource{Flags: flags, Keys: keys, Debug: debug},
	}
}
