// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSource_Load(t *testing.T) {
	k := koanf.New(".")
	src := &DefaultSource{}
	assert.Equal(t, 10, src.Priority())
	assert.Equal(t, "defaults", src.Name())

	require.NoError(t, src.Load(k))
	assert.Equal(t, "info", k.String("log.level"))
	assert.Equal(t, 100, k.Int("tracking.block"))
	assert.Equal(t, 0.001, k.Float64("tracking.threshold"))
	assert.True(t, k.Bool("capture.tcp"))
	assert.Equal(t, "skews.db", k.String("storage.database"))
}

func TestFileSource_Load(t *testing.T) {
	k := koanf.New(".")
	require.NoError(t, (&FileSource{}).Load(k), "empty path is skipped")
	require.NoError(t, (&FileSource{Path: "/nonexistent/path/config.yaml"}).Load(k), "missing file is skipped")

	path := filepath.Join(t.TempDir(), "skewprint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
tracking:
  time_limit: 600
  reduce: true
probe:
  targets: [10.0.0.1, 10.0.0.2]
`), 0o644))

	src := &FileSource{Path: path}
	assert.Equal(t, 20, src.Priority())
	require.NoError(t, src.Load(k))
	assert.Equal(t, "warn", k.String("log.level"))
	assert.Equal(t, 600, k.Int("tracking.time_limit"))
	assert.True(t, k.Bool("tracking.reduce"))
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, k.Strings("probe.targets"))
}

func TestFileSource_Load_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o644))
	require.Error(t, (&FileSource{Path: path}).Load(koanf.New(".")))
}

func TestDotEnvSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"SKEWPRINT_TRACKING_PORT_ENABLE=true\nSKEWPRINT_PROBE_TARGETS=\"10.0.0.1 10.0.0.2\"\nOTHER_VALUE=1\n"), 0o644))

	k := koanf.New(".")
	src := &DotEnvSource{Path: path}
	assert.Equal(t, 25, src.Priority())
	require.NoError(t, src.Load(k))
	assert.True(t, k.Bool("tracking.port_enable"))
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, k.Strings("probe.targets"))
	assert.False(t, k.Exists("other.value"))

	_, set := os.LookupEnv("SKEWPRINT_TRACKING_PORT_ENABLE")
	assert.False(t, set, "process environment is untouched")

	require.NoError(t, (&DotEnvSource{Path: filepath.Join(t.TempDir(), "missing.env")}).Load(k))
}

func TestEnvSource_Load(t *testing.T) {
	t.Setenv("SKEWPRINT_LOG_LEVEL", "debug")
	t.Setenv("SKEWPRINT_TRACKING_SKEW_VALID_AFTER", "120")
	t.Setenv("SKEWPRINT_PROBE_INTERVAL", "500ms")

	k := koanf.New(".")
	src := &EnvSource{}
	assert.Equal(t, 30, src.Priority())
	require.NoError(t, src.Load(k))
	assert.Equal(t, "debug", k.String("log.level"))
	assert.Equal(t, 120, k.Int("tracking.skew_valid_after"))
	assert.Equal(t, 500*time.Millisecond, k.Duration("probe.interval"))
}

func TestFlagSource_Load(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("block", 100, "")
	flags.String("interface", "", "")
	flags.Bool("unmapped", false, "")
	require.NoError(t, flags.Parse([]string{"--block", "50", "--unmapped"}))

	k := koanf.New(".")
	require.NoError(t, (&DefaultSource{}).Load(k))

	src := &FlagSource{
		Flags: flags,
		Keys:  map[string]string{"block": "tracking.block", "interface": "capture.interface"},
		Debug: true,
	}
	assert.Equal(t, 40, src.Priority())
	require.NoError(t, src.Load(k))
	assert.Equal(t, 50, k.Int("tracking.block"))
	assert.Equal(t, "", k.String("capture.interface"))
	assert.False(t, k.Exists("unmapped"))
	assert.Equal(t, "debug", k.String("log.level"))
}

func TestDefaultSources_Order(t *testing.T) {
	sources := DefaultSources("cfg.yaml", nil, nil, false)
	require.Len(t, sources, 5)
	for i := 1; i < len(sources); i++ {
		assert.Less(t, sources[i-1].Priority(), sources[i].Priority())
	}
}
