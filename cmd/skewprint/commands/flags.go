// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"github.com/spf13/pflag"

	"github.com/vulntor/skewprint/pkg/config"
)

// flagKeys maps command-line flags to configuration keys. Flags missing
// here are read by the commands directly.
var flagKeys = map[string]string{
	"workspace-dir": "storage.workspace_dir",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"log-file":      "log.file",

	"block":            "tracking.block",
	"time-limit":       "tracking.time_limit",
	"threshold":        "tracking.threshold",
	"reduce":           "tracking.reduce",
	"port-enable":      "tracking.port_enable",
	"skew-valid-after": "tracking.skew_valid_after",

	"frequency": "calibration.frequency",
	"skew":      "calibration.skew",

	"file":     "capture.file",
	"port":     "capture.port",
	"src":      "capture.src",
	"dst":      "capture.dst",
	"syn":      "capture.syn",
	"ack":      "capture.ack",
	"filter":   "capture.filter",
	"packets":  "capture.packets",
	"duration": "capture.duration",
	"tcp":      "capture.tcp",
	"icmp":     "capture.icmp",
	"snaplen":  "capture.snaplen",

	"probe":        "probe.targets",
	"interval":     "probe.interval",
	"privileged":   "probe.privileged",
	"ping-timeout": "probe.ping_timeout",

	"database":    "storage.database",
	"catalog":     "storage.catalog",
	"sample-logs": "storage.sample_logs",

	"metrics-addr": "metrics.addr",
}

var defaults = config.DefaultConfig()

func addLogFlags(fs *pflag.FlagSet) {
	fs.String("log-level", defaults.Log.Level, "Log level (trace, debug, info, warn, error)")
	fs.String("log-format", defaults.Log.Format, "Log format (text or json)")
	fs.String("log-file", "", "Write logs to this file instead of stderr")
}

func addTrackingFlags(fs *pflag.FlagSet) {
	d := defaults.Tracking
	fs.Int("block", d.Block, "Samples between two skew recomputations")
	fs.Float64("time-limit", d.TimeLimit, "Seconds of silence before a host is forgotten")
	fs.Float64("threshold", d.Threshold, "Largest skew difference (ms/s) still considered similar")
	fs.Bool("reduce", d.Reduce, "Drop samples that cannot change the skew estimate")
	fs.BoolP("port-enable", "d", d.PortEnable, "Key hosts by address and port (hosts behind NAT)")
	fs.Float64("skew-valid-after", d.SkewValidAfter, "Seconds a skew must hold before it is confirmed")

	fs.IntP("frequency", "f", 0, "Force the clock frequency in Hz (calibration mode)")
	fs.Float64P("skew", "s", 0, "Expected skew in ms/s; stop once it is reached (calibration mode)")
}

func addStorageFlags(fs *pflag.FlagSet) {
	d := defaults.Storage
	fs.String("database", d.Database, "Snapshot database, relative to the workspace data directory")
	fs.String("catalog", d.Catalog, "Saved identities file, relative to the workspace")
	fs.Bool("sample-logs", d.SampleLogs, "Write per-host sample logs to the workspace log directory")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
}

func addCaptureFlags(fs *pflag.FlagSet) {
	d := defaults.Capture
	fs.StringP("file", "r", "", "Read packets from a pcap or pcapng file")
	fs.Int("port", 0, "Only TCP packets from or to this port")
	fs.String("src", "", "Only packets sent by this host")
	fs.String("dst", "", "Only packets sent to this host")
	fs.Bool("syn", false, "Only TCP segments with SYN set")
	fs.Bool("ack", false, "Only TCP segments with ACK set")
	fs.String("filter", "", "Additional BPF expression (live capture only)")
	fs.Int("packets", 0, "Stop after this many packets")
	fs.Duration("duration", 0, "Stop after this long")
	fs.Bool("tcp", d.TCP, "Use TCP timestamps")
	fs.Bool("icmp", d.ICMP, "Use ICMP timestamp replies")
	fs.Int("snaplen", d.Snaplen, "Live capture snapshot length")
}

func addProbeFlags(fs *pflag.FlagSet) {
	d := defaults.Probe
	fs.Duration("interval", d.Interval, "Time between two timestamp requests to a target")
	fs.Bool("privileged", d.Privileged, "Use raw sockets for the liveness ping")
	fs.Duration("ping-timeout", d.PingTimeout, "Liveness ping timeout")
}
