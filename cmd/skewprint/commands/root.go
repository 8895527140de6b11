// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/skewprint/pkg/appctx"
	"github.com/vulntor/skewprint/pkg/config"
	"github.com/vulntor/skewprint/pkg/logging"
	"github.com/vulntor/skewprint/pkg/output"
	"github.com/vulntor/skewprint/pkg/output/subscribers"
	"github.com/vulntor/skewprint/pkg/tracking"
	"github.com/vulntor/skewprint/pkg/workspace"
)

const cliExecutable = "skewprint"

// NewCommand constructs the top-level skewprint CLI command, wiring global
// flags, configuration loading, logging and workspace preparation.
func NewCommand() *cobra.Command {
	var (
		configFile     string
		verbosityCount int
		noColor        bool
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "skewprint identifies hosts by the skew of their clocks",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")

			mgr := config.NewManager()
			if err := mgr.Load(config.DefaultSources(configFile, cmd.Flags(), flagKeys, debug)...); err != nil {
				return tracking.NewConfigError(configKey(err), err)
			}
			cfg := mgr.Get()

			if err := logging.ConfigureGlobalLogging(logging.Options{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				File:   cfg.Log.File,
			}); err != nil {
				return tracking.NewConfigError("log.file", err)
			}

			prepared, err := workspace.Prepare(cfg.Storage.WorkspaceDir)
			if err != nil {
				return fmt.Errorf("prepare workspace: %w", err)
			}
			log.Debug().Str("workspace", prepared).Msg("workspace ready")

			ctx := appctx.WithConfig(cmd.Context(), mgr)
			ctx = workspace.WithContext(ctx, prepared)
			ctx = appctx.WithStream(ctx, newStream(cmd, verbosityCount, !noColor && !color.NoColor))

			cmd.SetContext(ctx)
			if root := cmd.Root(); root != nil && root != cmd {
				root.SetContext(ctx)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Close()
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().String("workspace-dir", "", "Override workspace root directory")
	cmd.PersistentFlags().CountVarP(&verbosityCount, "verbosity", "v", "Increase output verbosity (repeatable)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	addLogFlags(cmd.PersistentFlags())

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddGroup(&cobra.Group{ID: "track", Title: "Tracking Commands"})
	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands"})

	cmd.AddCommand(newCaptureCommand())
	cmd.AddCommand(newProbeCommand())
	cmd.AddCommand(newReplayCommand())
	cmd.AddCommand(newReportCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// newStream builds the console output pipeline: skew changes go to stdout,
// diagnostics to stderr.
func newStream(cmd *cobra.Command, verbosity int, colored bool) *output.OutputEventStream {
	level := output.LevelNormal
	switch {
	case verbosity >= 2:
		level = output.LevelDebug
	case verbosity == 1:
		level = output.LevelVerbose
	}

	stream := output.NewOutputEventStream()
	stream.Subscribe(subscribers.NewChangeExporter(cmd.OutOrStdout(), colored))
	stream.Subscribe(subscribers.NewDiagnosticSubscriber(level, cmd.ErrOrStderr(), colored))
	return stream
}

func configKey(err error) string {
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return verr.Key
	}
	return "config"
}
