// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// ValidationError reports one rejected configuration key.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Manager handles loading and accessing application configuration.
type Manager struct {
	koanfInstance *koanf.Koanf
	currentConfig Config
	mu            sync.RWMutex
	validate      *validator.Validate
}

// NewManager creates a manager with an empty koanf instance.
func NewManager() *Manager {
	return &Manager{
		koanfInstance: koanf.New("."),
		currentConfig: DefaultConfig(),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// DefaultConfig returns a new Config populated with the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracking: TrackingConfig{
			Block:          100,
			TimeLimit:      3600,
			Threshold:      0.001,
			SkewValidAfter: 300,
		},
		Capture: CaptureConfig{
			TCP:     true,
			ICMP:    true,
			Snaplen: 262144,
		},
		Probe: ProbeConfig{
			Interval:    time.Second,
			PingTimeout: 2 * time.Second,
		},
		Storage: StorageConfig{
			Database:   "skews.db",
			Catalog:    "database.yaml",
			SampleLogs: true,
		},
	}
}

// Load loads configuration from sources in priority order, unmarshals the
// merged result and validates it.
func (m *Manager) Load(sources ...ConfigSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := make([]ConfigSource, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })

	k := koanf.New(".")
	for _, src := range sorted {
		if err := src.Load(k); err != nil {
			return fmt.Errorf("config source %s: %w", src.Name(), err)
		}
	}

	var newCfg Config
	if err := k.UnmarshalWithConf("", &newCfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("error unmarshaling final config: %w", err)
	}
	if err := m.check(newCfg); err != nil {
		return err
	}

	m.koanfInstance = k
	m.currentConfig = newCfg
	return nil
}

func (m *Manager) check(cfg Config) error {
	err := m.validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	// Report the first failure by its koanf key.
	fe := verrs[0]
	return &ValidationError{Key: koanfKey(fe.StructNamespace()), Reason: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt", "gte", "lte":
		return fmt.Sprintf("must be %s %s", map[string]string{"gt": ">", "gte": ">=", "lte": "<="}[fe.Tag()], fe.Param())
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value())
	}
}

// koanfKey turns "Config.Tracking.TimeLimit" into "tracking.time_limit".
func koanfKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 0 && parts[0] == "Config" {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	switch s {
	case "SYN", "ACK", "TCP", "ICMP":
		return strings.ToLower(s)
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := m.currentConfig
	cfg.Probe.Targets = append([]string(nil), m.currentConfig.Probe.Targets...)
	return cfg
}

// Keys returns the keys of the loaded configuration.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.koanfInstance.Keys()
}

// DefaultConfigAsMap converts DefaultConfig to a flat map for koanf's
// confmap provider.
func DefaultConfigAsMap() map[string]interface{} {
	def := DefaultConfig()
	return map[string]interface{}{
		"log.level":  def.Log.Level,
		"log.format": def.Log.Format,
		"log.file":   def.Log.File,

		"tracking.block":            def.Tracking.Block,
		"tracking.time_limit":       def.Tracking.TimeLimit,
		"tracking.threshold":        def.Tracking.Threshold,
		"tracking.reduce":           def.Tracking.Reduce,
		"tracking.port_enable":      def.Tracking.PortEnable,
		"tracking.skew_valid_after": def.Tracking.SkewValidAfter,

		"calibration.frequency": def.Calibration.Frequency,

		"capture.interface": def.Capture.Interface,
		"capture.file":      def.Capture.File,
		"capture.port":      def.Capture.Port,
		"capture.src":       def.Capture.Src,
		"capture.dst":       def.Capture.Dst,
		"capture.syn":       def.Capture.SYN,
		"capture.ack":       def.Capture.ACK,
		"capture.filter":    def.Capture.Filter,
		"capture.packets":   def.Capture.Packets,
		"capture.duration":  def.Capture.Duration,
		"capture.tcp":       def.Capture.TCP,
		"capture.icmp":      def.Capture.ICMP,
		"capture.snaplen":   def.Capture.Snaplen,

		"probe.targets":      def.Probe.Targets,
		"probe.interval":     def.Probe.Interval,
		"probe.privileged":   def.Probe.Privileged,
		"probe.ping_timeout": def.Probe.PingTimeout,

		"storage.workspace_dir": def.Storage.WorkspaceDir,
		"storage.database":      def.Storage.Database,
		"storage.catalog":       def.Storage.Catalog,
		"storage.sample_logs":   def.Storage.SampleLogs,

		"metrics.addr": def.Metrics.Addr,
	}
}

// BindFlags defines the global command-line flags that are not bound to a
// configuration key by a subcommand.
func BindFlags(flags *pflag.FlagSet) {
	var flagvar bool
	flags.BoolVar(&flagvar, "debug", false, "Enable debug logging")
}
