// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package config

import "time"

// Config is the root configuration structure for skewprint.
type Config struct {
	Log         LogConfig         `description:"Logging configuration" koanf:"log"`
	Tracking    TrackingConfig    `description:"Skew tracking configuration" koanf:"tracking"`
	Calibration CalibrationConfig `description:"Calibration mode" koanf:"calibration"`
	Capture     CaptureConfig     `description:"Packet capture configuration" koanf:"capture"`
	Probe       ProbeConfig       `description:"Active ICMP probing" koanf:"probe"`
	Storage     StorageConfig     `description:"Workspace and persistence" koanf:"storage"`
	Metrics     MetricsConfig     `description:"Prometheus endpoint" koanf:"metrics"`
}

// LogConfig holds logging related configuration.
type LogConfig struct {
	Level  string `description:"Log level" koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `description:"Log format: json | text" koanf:"format" validate:"omitempty,oneof=json text"`
	File   string `description:"Log file path" koanf:"file"`
}

// TrackingConfig tunes the per-host trackers and the identity registries.
type TrackingConfig struct {
	Block          int     `description:"Samples between two skew recomputations" koanf:"block" validate:"gt=0"`
	TimeLimit      float64 `description:"Seconds of silence before a host is forgotten" koanf:"time_limit" validate:"gt=0"`
	Threshold      float64 `description:"Skew difference (ms/s) still considered similar" koanf:"threshold" validate:"gt=0"`
	Reduce         bool    `description:"Drop samples that cannot affect the skew estimate" koanf:"reduce"`
	PortEnable     bool    `description:"Key hosts by address and port" koanf:"port_enable"`
	SkewValidAfter float64 `description:"Seconds after which a skew must be confirmed again" koanf:"skew_valid_after" validate:"gt=0"`
}

// CalibrationConfig enables calibration mode when Frequency is set.
type CalibrationConfig struct {
	Frequency int      `description:"Forced clock frequency in Hz (0 = infer)" koanf:"frequency" validate:"gte=0"`
	Skew      *float64 `description:"Expected skew in ms/s (unset = no target)" koanf:"skew"`
}

// CaptureConfig selects and filters the packet source.
type CaptureConfig struct {
	Interface string        `description:"Network interface for live capture" koanf:"interface"`
	File      string        `description:"pcap or pcapng file to read instead of an interface" koanf:"file"`
	Port      int           `description:"Only TCP packets from or to this port" koanf:"port" validate:"gte=0,lte=65535"`
	Src       string        `description:"Only packets from this host" koanf:"src" validate:"omitempty,ip|hostname"`
	Dst       string        `description:"Only packets to this host" koanf:"dst" validate:"omitempty,ip|hostname"`
	SYN       bool          `description:"Only TCP packets with SYN set" koanf:"syn"`
	ACK       bool          `description:"Only TCP packets with ACK set" koanf:"ack"`
	Filter    string        `description:"Extra BPF expression for live capture" koanf:"filter"`
	Packets   int           `description:"Stop after this many packets (0 = no limit)" koanf:"packets" validate:"gte=0"`
	Duration  time.Duration `description:"Stop after this long (0 = no limit)" koanf:"duration" validate:"gte=0"`
	TCP       bool          `description:"Use TCP timestamps" koanf:"tcp"`
	ICMP      bool          `description:"Use ICMP timestamp replies" koanf:"icmp"`
	Snaplen   int           `description:"Live capture snapshot length" koanf:"snaplen" validate:"gte=0"`
}

// ProbeConfig configures active ICMP timestamp probing.
type ProbeConfig struct {
	Targets     []string      `description:"Hosts to probe" koanf:"targets" validate:"dive,required"`
	Interval    time.Duration `description:"Time between two requests to a target" koanf:"interval" validate:"gt=0"`
	Privileged  bool          `description:"Use raw sockets for the liveness ping" koanf:"privileged"`
	PingTimeout time.Duration `description:"Liveness ping timeout" koanf:"ping_timeout" validate:"gte=0"`
}

// StorageConfig locates the workspace and its files.
type StorageConfig struct {
	WorkspaceDir string `description:"Workspace root directory" koanf:"workspace_dir"`
	Database     string `description:"Snapshot database file, relative to the workspace data dir" koanf:"database" validate:"required"`
	Catalog      string `description:"Saved identities file, relative to the workspace root" koanf:"catalog"`
	SampleLogs   bool   `description:"Write per-host sample logs" koanf:"sample_logs"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `description:"Listen address of /metrics (empty = off)" koanf:"addr" validate:"omitempty,hostname_port"`
}
