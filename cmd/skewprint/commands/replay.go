// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vulntor/skewprint/cmd/skewprint/internal/format"
	"github.com/vulntor/skewprint/pkg/identity"
	"github.com/vulntor/skewprint/pkg/output"
	"github.com/vulntor/skewprint/pkg/samplelog"
	"github.com/vulntor/skewprint/pkg/skew"
	"github.com/vulntor/skewprint/pkg/tracking"
)

// replayedLog is one sample log read by replay.
type replayedLog struct {
	path    string
	key     string
	records []samplelog.Record
}

func newReplayCommand() *cobra.Command {
	var (
		source     string
		outputMode string
	)

	cmd := &cobra.Command{
		Use:   "replay <log...>",
		Short: "Re-analyse per-host sample logs",
		Long: `Estimate the skew of every sample log. Logs that carry raw arrival times
and clocks (four columns) are also fed through the tracker again, in arrival
order, so that similar hosts are reported as during the capture.

The host is named after the log file.`,
		Example: `  skewprint replay ~/.local/share/skewprint/log/tcp/*.log
  skewprint replay --source icmp -o json router.log`,
		GroupID: "track",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := format.ValidateMode(outputMode); err != nil {
				return tracking.NewConfigError("output", err)
			}
			t, err := newTracker(cmd)
			if err != nil {
				return err
			}

			logs := make([]replayedLog, 0, len(args))
			for _, path := range args {
				records, err := samplelog.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				logs = append(logs, replayedLog{
					path:    path,
					key:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
					records: records,
				})
			}

			mode := format.ParseMode(outputMode)
			if mode == format.ModeJSON {
				// Keep stdout machine-readable.
				t.stream = output.NewOutputEventStream()
			}

			if obs := replayObservations(source, logs); len(obs) > 0 {
				// The logs being replayed may live in the workspace log dir.
				t.cfg.Storage.SampleLogs = false
				t.cfg.Tracking.PortEnable = false
				err := t.run(cmd.Context(), "replay", []string{source}, func(ctx context.Context, out chan<- identity.Observation) error {
					for _, o := range obs {
						select {
						case out <- o:
						case <-ctx.Done():
							return nil
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
			}

			f := format.New(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode, false, false)
			return f.PrintTable([]string{"log", "samples", "skew", "offset"}, estimateRows(logs))
		},
	}

	cmd.Flags().StringVar(&source, "source", identity.SourceTCP, "Sample source of the logs (tcp or icmp)")
	cmd.Flags().StringVarP(&outputMode, "output", "o", string(format.ModeTable), "Output format (table or json)")
	addTrackingFlags(cmd.Flags())
	addStorageFlags(cmd.Flags())
	return cmd
}

// replayObservations merges the raw records of all logs by arrival time.
func replayObservations(source string, logs []replayedLog) []identity.Observation {
	var obs []identity.Observation
	for _, l := range logs {
		for _, r := range l.records {
			if !r.Raw {
				continue
			}
			obs = append(obs, identity.Observation{
				Source:  source,
				Address: l.key,
				Arrival: r.Arrival,
				Clock:   r.Clock,
			})
		}
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Arrival < obs[j].Arrival })
	return obs
}

func estimateRows(logs []replayedLog) [][]string {
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		points := samplelog.Points(l.records)
		sort.Slice(points, func(i, j int) bool { return points[i].X < points[j].X })
		line := skew.EstimatePoints(points)

		alpha, beta := "-", "-"
		if line.Defined() {
			alpha = strconv.FormatFloat(line.Alpha, 'f', 6, 64)
			beta = strconv.FormatFloat(line.Beta, 'f', 6, 64)
		}
		rows = append(rows, []string{l.key, strconv.Itoa(len(l.records)), alpha, beta})
	}
	return rows
}
