// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Tracking.Block)
	assert.Equal(t, 3600.0, cfg.Tracking.TimeLimit)
	assert.Equal(t, 0.001, cfg.Tracking.Threshold)
	assert.Equal(t, 300.0, cfg.Tracking.SkewValidAfter)
	assert.False(t, cfg.Tracking.Reduce)
	assert.Zero(t, cfg.Calibration.Frequency)
	assert.Equal(t, time.Second, cfg.Probe.Interval)
	assert.Equal(t, "database.yaml", cfg.Storage.Catalog)
}

func TestDefaultConfigAsMap_CoversEveryKey(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Load(&DefaultSource{}))
	assert.Equal(t, DefaultConfig(), m.Get())
	assert.Contains(t, m.Keys(), "tracking.skew_valid_after")
}

func TestManager_LoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skewprint.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracking:\n  block: 200\n  threshold: 0.002\ncapture:\n  port: 443\n"), 0o644))
	t.Setenv("SKEWPRINT_TRACKING_BLOCK", "300")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Float64("threshold", 0.001, "")
	require.NoError(t, flags.Parse([]string{"--threshold", "0.005"}))

	m := NewManager()
	// Deliberately out of order: Load sorts by priority.
	require.NoError(t, m.Load(
		&FlagSource{Flags: flags, Keys: map[string]string{"threshold": "tracking.threshold"}},
		&EnvSource{},
		&FileSource{Path: path},
		&DefaultSource{},
	))

	cfg := m.Get()
	assert.Equal(t, 300, cfg.Tracking.Block, "env overrides file")
	assert.Equal(t, 0.005, cfg.Tracking.Threshold, "flag overrides file")
	assert.Equal(t, 443, cfg.Capture.Port, "file overrides defaults")
	assert.Equal(t, 3600.0, cfg.Tracking.TimeLimit)
}

func TestManager_LoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		key  string
	}{
		{"zero block", "tracking:\n  block: 0\n", "tracking.block"},
		{"negative threshold", "tracking:\n  threshold: -1\n", "tracking.threshold"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"port out of range", "capture:\n  port: 70000\n", "capture.port"},
		{"bad source host", "capture:\n  src: \"not a host!\"\n", "capture.src"},
		{"empty database", "storage:\n  database: \"\"\n", "storage.database"},
		{"negative frequency", "calibration:\n  frequency: -5\n", "calibration.frequency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "skewprint.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			m := NewManager()
			err := m.Load(&DefaultSource{}, &FileSource{Path: path})
			require.ErrorIs(t, err, ErrInvalid)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.key, verr.Key)
			assert.Equal(t, DefaultConfig(), m.Get(), "rejected config is not applied")
		})
	}
}

func TestManager_GetReturnsCopy(t *testing.T) {
	t.Setenv("SKEWPRINT_PROBE_TARGETS", "10.0.0.1 10.0.0.2")
	m := NewManager()
	require.NoError(t, m.Load(&DefaultSource{}, &EnvSource{}))

	cfg := m.Get()
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Probe.Targets)
	cfg.Probe.Targets[0] = "changed"
	assert.Equal(t, "10.0.0.1", m.Get().Probe.Targets[0])
}

func TestKoanfKey(t *testing.T) {
	assert.Equal(t, "tracking.time_limit", koanfKey("Config.Tracking.TimeLimit"))
	assert.Equal(t, "capture.syn", koanfKey("Config.Capture.SYN"))
	assert.Equal(t, "storage.workspace_dir", koanfKey("Config.Storage.WorkspaceDir"))
}

func TestBindFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	require.NotNil(t, flags.Lookup("debug"))
}

func TestManager_CalibrationSkewTarget(t *testing.T) {
	newFlags := func(args ...string) *pflag.FlagSet {
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.Float64("skew", 0, "")
		require.NoError(t, flags.Parse(args))
		return flags
	}
	keys := map[string]string{"skew": "calibration.skew"}

	m := NewManager()
	require.NoError(t, m.Load(&DefaultSource{}, &FlagSource{Flags: newFlags(), Keys: keys}))
	assert.Nil(t, m.Get().Calibration.Skew, "an unchanged flag does not set a target")

	require.NoError(t, m.Load(&DefaultSource{}, &FlagSource{Flags: newFlags("--skew", "0"), Keys: keys}))
	require.NotNil(t, m.Get().Calibration.Skew)
	assert.Zero(t, *m.Get().Calibration.Skew)

	require.NoError(t, m.Load(&DefaultSource{}, &FlagSource{Flags: newFlags("--skew", "-0.25"), Keys: keys}))
	require.NotNil(t, m.Get().Calibration.Skew)
	assert.Equal(t, -0.25, *m.Get().Calibration.Skew)
}
