// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vulntor/skewprint/pkg/config"
	"github.com/vulntor/skewprint/pkg/identity"
	"github.com/vulntor/skewprint/pkg/probe"
	"github.com/vulntor/skewprint/pkg/tracking"
)

func newProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <targets...>",
		Short: "Track hosts by probing them with ICMP timestamp requests",
		Example: `  skewprint probe 10.0.0.1 10.0.0.2
  skewprint probe --interval 500ms --privileged router.lan`,
		GroupID: "track",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newTracker(cmd)
			if err != nil {
				return err
			}
			targets := append(append([]string{}, t.cfg.Probe.Targets...), args...)
			if len(targets) == 0 {
				return tracking.ErrNoSource
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return t.run(ctx, "probe "+strings.Join(targets, ","), []string{identity.SourceICMP},
				probeProducer(t.cfg.Probe, targets, t.log))
		},
	}

	addProbeFlags(cmd.Flags())
	addTrackingFlags(cmd.Flags())
	addStorageFlags(cmd.Flags())
	return cmd
}

func probeProducer(pc config.ProbeConfig, targets []string, logger zerolog.Logger) tracking.Producer {
	return func(ctx context.Context, out chan<- identity.Observation) error {
		prober := probe.New(probe.Options{
			Interval:    pc.Interval,
			Privileged:  pc.Privileged,
			PingTimeout: pc.PingTimeout,
		}, logger)
		return tracking.NewCaptureError("probe", prober.Run(ctx, targets, out))
	}
}
