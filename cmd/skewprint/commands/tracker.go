// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vulntor/skewprint/pkg/appctx"
	"github.com/vulntor/skewprint/pkg/catalog"
	"github.com/vulntor/skewprint/pkg/config"
	"github.com/vulntor/skewprint/pkg/identity"
	"github.com/vulntor/skewprint/pkg/metrics"
	"github.com/vulntor/skewprint/pkg/output"
	"github.com/vulntor/skewprint/pkg/skew"
	"github.com/vulntor/skewprint/pkg/store"
	"github.com/vulntor/skewprint/pkg/tracking"
	"github.com/vulntor/skewprint/pkg/workspace"
)

// tracker carries what the tracking commands share: the loaded config, the
// prepared workspace and the console stream.
type tracker struct {
	cfg    config.Config
	root   string
	stream *output.OutputEventStream
	log    zerolog.Logger
}

func newTracker(cmd *cobra.Command) (*tracker, error) {
	ctx := cmd.Context()
	mgr, ok := appctx.Config(ctx)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	root, ok := workspace.FromContext(ctx)
	if !ok {
		return nil, errors.New("workspace not prepared")
	}
	stream, ok := appctx.Stream(ctx)
	if !ok {
		stream = output.NewOutputEventStream()
	}
	return &tracker{
		cfg:    mgr.Get(),
		root:   root,
		stream: stream,
		log:    log.With().Str("command", cmd.Name()).Logger(),
	}, nil
}

func (t *tracker) registryOptions() identity.Options {
	tc := t.cfg.Tracking
	host := skew.DefaultOptions()
	host.Block = tc.Block
	host.SkewValidAfter = tc.SkewValidAfter
	host.Threshold = tc.Threshold
	host.Reduce = tc.Reduce
	host.ForcedFrequency = t.cfg.Calibration.Frequency
	host.TargetSkew = t.cfg.Calibration.Skew
	return identity.Options{
		TimeLimit:  tc.TimeLimit,
		PortEnable: tc.PortEnable,
		Host:       host,
	}
}

func (t *tracker) layout() workspace.Layout { return workspace.Layout{Root: t.root} }

func (t *tracker) databasePath() string {
	return t.layout().Database(t.cfg.Storage.Database)
}

// run tracks the given sources until every producer finished or ctx is
// done. Reports go to the console, the snapshot store and, when enabled,
// sample logs and the metrics endpoint.
func (t *tracker) run(ctx context.Context, label string, sources []string, producers ...tracking.Producer) error {
	opts := tracking.Options{
		Sources:  sources,
		Registry: t.registryOptions(),
	}
	options := []tracking.Option{
		tracking.WithListener(t.stream),
		tracking.WithActiveSink(t.stream),
	}

	if cat := t.openCatalog(ctx); cat != nil {
		options = append(options, tracking.WithCatalog(cat))
	}

	db, err := store.Open(t.databasePath(), t.log)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer db.Close()
	sess, err := db.StartSession(label)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	options = append(options, tracking.WithListener(db), tracking.WithActiveSink(db))

	if t.cfg.Storage.SampleLogs {
		options = append(options, tracking.WithSampleLogs(t.layout().Logs()))
	}

	if addr := t.cfg.Metrics.Addr; addr != "" {
		collector := metrics.NewCollector()
		options = append(options,
			tracking.WithListener(collector),
			tracking.WithActiveSink(collector),
			tracking.WithOutcomeObserver(collector),
		)
		mctx, stop := context.WithCancel(ctx)
		defer stop()
		go func() {
			if err := collector.Serve(mctx, addr, t.log); err != nil {
				t.log.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	svc, err := tracking.NewService(opts, t.log, options...)
	if err != nil {
		return err
	}

	t.log.Info().Str("session", sess.ID).Strs("sources", svc.Sources()).Msg("tracking started")
	err = svc.Run(ctx, producers...)
	t.summarize(svc, sess)
	return err
}

func (t *tracker) openCatalog(ctx context.Context) *catalog.Catalog {
	path := t.layout().File(t.cfg.Storage.Catalog)
	if path == "" {
		return nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		t.log.Warn().Err(err).Str("file", path).Msg("catalog unreadable, continuing without saved identities")
		cat = catalog.New()
	}

	watcher, err := catalog.NewWatcher(cat, t.log)
	if err != nil {
		t.log.Warn().Err(err).Msg("catalog changes will not be picked up")
		return cat
	}
	watcher.OnReload(func(entries int) {
		t.stream.Diag(output.LevelVerbose, fmt.Sprintf("catalog reloaded (%d identities)", entries), nil)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.log.Warn().Err(err).Msg("catalog watcher stopped")
		}
	}()
	return cat
}

func (t *tracker) summarize(svc *tracking.Service, sess store.Session) {
	hosts := 0
	for _, source := range svc.Sources() {
		if reg, ok := svc.Registry(source); ok {
			hosts += reg.Len()
		}
	}
	t.log.Info().
		Str("session", sess.ID).
		Int("hosts", hosts).
		Int("dropped", svc.Dropped()).
		Msg("tracking finished")

	if key, cal, ok := svc.Calibration(); ok {
		t.stream.Diag(output.LevelNormal, fmt.Sprintf(
			"calibration of %s converged: target %.6f computed %.6f last %.6f after %.0f s (%d recomputes, mean gap %.3f s, stddev %.6f)",
			key, cal.Target, cal.Computed, cal.Last, cal.Elapsed, cal.Samples, cal.MeanGap, cal.StdDev), nil)
	}
}
