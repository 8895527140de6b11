// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vulntor/skewprint/pkg/capture"
	"github.com/vulntor/skewprint/pkg/capture/live"
	"github.com/vulntor/skewprint/pkg/config"
	"github.com/vulntor/skewprint/pkg/identity"
	"github.com/vulntor/skewprint/pkg/tracking"
)

type packetSource interface {
	capture.PacketSource
	io.Closer
}

func newCaptureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture [interface]",
		Short: "Track hosts seen on an interface or in a capture file",
		Long: `Capture TCP timestamps and ICMP timestamp replies, estimate the clock skew
of every sender and report hosts whose skew histories are similar.

Without --file the packets are captured live; an empty interface selects the
first capture device.`,
		Example: `  skewprint capture eth0
  skewprint capture --file dump.pcapng --port 443
  skewprint capture eth0 --probe 10.0.0.1 --probe 10.0.0.2`,
		GroupID: "track",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newTracker(cmd)
			if err != nil {
				return err
			}
			cc := t.cfg.Capture
			if len(args) == 1 {
				cc.Interface = args[0]
			}
			targets := t.cfg.Probe.Targets

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			producers := []tracking.Producer{
				captureProducer(cc, len(targets) > 0, t.cfg.Tracking.PortEnable, t.log),
			}
			if len(targets) > 0 {
				producers = append(producers, probeProducer(t.cfg.Probe, targets, t.log))
			}
			return t.run(ctx, captureLabel(cc), captureSources(cc, len(targets) > 0), producers...)
		},
	}

	addCaptureFlags(cmd.Flags())
	cmd.Flags().StringSlice("probe", nil, "Also probe these hosts with ICMP timestamp requests")
	addProbeFlags(cmd.Flags())
	addTrackingFlags(cmd.Flags())
	addStorageFlags(cmd.Flags())
	return cmd
}

func captureLabel(cc config.CaptureConfig) string {
	if cc.File != "" {
		return cc.File
	}
	if cc.Interface != "" {
		return cc.Interface
	}
	return "live"
}

func captureSources(cc config.CaptureConfig, probing bool) []string {
	var sources []string
	if cc.TCP {
		sources = append(sources, identity.SourceTCP)
	}
	if cc.ICMP || probing {
		sources = append(sources, identity.SourceICMP)
	}
	return sources
}

func captureFilter(cc config.CaptureConfig) capture.Filter {
	return capture.Filter{
		TCP:        cc.TCP,
		ICMP:       cc.ICMP,
		Port:       uint16(cc.Port),
		Src:        cc.Src,
		Dst:        cc.Dst,
		SYN:        cc.SYN,
		ACK:        cc.ACK,
		Expression: cc.Filter,
	}
}

// captureProducer reads packets from the configured file or interface.
// While probing, ICMP replies are reported by the prober and not decoded
// from the capture.
func captureProducer(cc config.CaptureConfig, probing, portKeys bool, logger zerolog.Logger) tracking.Producer {
	return func(ctx context.Context, out chan<- identity.Observation) error {
		filter := captureFilter(cc)
		if probing && filter.ICMP {
			logger.Debug().Msg("ICMP replies are taken from the prober")
			filter.ICMP = false
		}
		if !filter.TCP && !filter.ICMP {
			return nil
		}

		src, name, err := openPacketSource(cc, filter, logger)
		if err != nil {
			return tracking.NewCaptureError(name, err)
		}
		defer src.Close()

		if cc.Duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cc.Duration)
			defer cancel()
		}

		stats, err := capture.Run(ctx, src, out, capture.Options{
			Filter:     filter,
			PortKeys:   portKeys,
			MaxPackets: cc.Packets,
		}, logger)
		logger.Info().
			Str("source", name).
			Int("packets", stats.Packets).
			Int("observations", stats.Observations).
			Int("undecodable", stats.Undecodable).
			Msg("capture finished")
		return tracking.NewCaptureError(name, err)
	}
}

func openPacketSource(cc config.CaptureConfig, filter capture.Filter, logger zerolog.Logger) (packetSource, string, error) {
	if cc.File != "" {
		if filter.Expression != "" {
			logger.Warn().Str("filter", filter.Expression).Msg("BPF expressions only apply to live capture, ignoring")
		}
		src, err := capture.OpenFile(cc.File)
		if err != nil {
			return nil, cc.File, err
		}
		return src, cc.File, nil
	}

	src, err := live.Open(cc.Interface, cc.Snaplen, filter)
	if err != nil {
		return nil, captureLabel(cc), err
	}
	logger.Debug().Str("bpf", src.Filter()).Msg("live capture started")
	return src, captureLabel(cc), nil
}
