// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package tracking funnels clock readings from every sample source into the
// identity registries. A single goroutine owns all registries.
package tracking

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vulntor/skewprint/pkg/identity"
	"github.com/vulntor/skewprint/pkg/samplelog"
	"github.com/vulntor/skewprint/pkg/skew"
)

// DefaultBuffer is the capacity of the observation funnel.
const DefaultBuffer = 1024

// Producer emits observations into out until ctx is done or its input is
// exhausted. It must not close out.
type Producer func(ctx context.Context, out chan<- identity.Observation) error

// OutcomeObserver is told what happened to every observation.
type OutcomeObserver interface {
	Observed(source string, outcome identity.Outcome)
}

// Options configures a Service.
type Options struct {
	// Sources lists the sample sources to track, one registry each.
	Sources []string
	// Registry is the template for every registry; Source is filled in.
	Registry identity.Options
	Buffer   int
}

// Service owns one identity registry per sample source.
type Service struct {
	opts Options
	log  zerolog.Logger

	catalog      identity.Catalog
	sampleLogDir string
	listeners    []identity.Listener
	sinks        []identity.ActiveSink
	observers    []OutcomeObserver

	registries map[string]*identity.Registry
	dropped    int
	calibrated bool
}

// Option customizes a Service.
type Option func(*Service)

// WithCatalog consults saved identities when correlating hosts.
func WithCatalog(c identity.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithSampleLogs writes per-host sample logs below dir/<source>.
func WithSampleLogs(dir string) Option {
	return func(s *Service) { s.sampleLogDir = dir }
}

// WithListener subscribes l to the skew changes of every registry.
func WithListener(l identity.Listener) Option {
	return func(s *Service) { s.listeners = append(s.listeners, l) }
}

// WithActiveSink subscribes sink to the active-host snapshots of every registry.
func WithActiveSink(sink identity.ActiveSink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sink) }
}

// WithOutcomeObserver reports the outcome of every observation to o.
func WithOutcomeObserver(o OutcomeObserver) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// NewService creates the registries for all configured sources.
func NewService(opts Options, logger zerolog.Logger, options ...Option) (*Service, error) {
	if len(opts.Sources) == 0 {
		return nil, ErrNoSource
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}

	s := &Service{
		opts:       opts,
		log:        logger.With().Str("component", "tracking").Logger(),
		registries: make(map[string]*identity.Registry, len(opts.Sources)),
	}
	for _, o := range options {
		o(s)
	}

	for _, source := range opts.Sources {
		if source != identity.SourceTCP && source != identity.SourceICMP {
			return nil, NewConfigError("source", fmt.Errorf("unknown sample source %q", source))
		}
		if _, dup := s.registries[source]; dup {
			continue
		}

		ropts := opts.Registry
		ropts.Source = source
		var regOpts []identity.Option
		if s.catalog != nil {
			regOpts = append(regOpts, identity.WithCatalog(s.catalog))
		}
		if s.sampleLogDir != "" {
			w, err := samplelog.NewWriter(filepath.Join(s.sampleLogDir, source))
			if err != nil {
				return nil, fmt.Errorf("sample log for %s: %w", source, err)
			}
			regOpts = append(regOpts, identity.WithSampleLog(w))
		}

		reg := identity.NewRegistry(ropts, logger, regOpts...)
		for _, l := range s.listeners {
			reg.Subscribe(l)
		}
		for _, sink := range s.sinks {
			reg.SubscribeActive(sink)
		}
		s.registries[source] = reg
	}
	return s, nil
}

// Run starts every producer and feeds their observations to the registries
// until all producers finished, ctx is done or a calibration converged.
// Active hosts are flushed to the active sinks before Run returns.
func (s *Service) Run(ctx context.Context, producers ...Producer) error {
	g, gctx := errgroup.WithContext(ctx)
	pctx, stopProducers := context.WithCancel(gctx)
	defer stopProducers()

	in := make(chan identity.Observation, s.opts.Buffer)
	var wg sync.WaitGroup
	for _, p := range producers {
		p := p
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return p(pctx, in)
		})
	}
	go func() {
		wg.Wait()
		close(in)
	}()

	g.Go(func() error {
		defer stopProducers()
		s.consume(gctx, in)
		return nil
	})

	err := g.Wait()
	s.Flush()
	return err
}

func (s *Service) consume(ctx context.Context, in <-chan identity.Observation) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-in:
			if !ok {
				s.log.Debug().Msg("all sample sources finished")
				return
			}
			if s.Observe(obs) {
				return
			}
		}
	}
}

// Observe routes obs to the registry of its source. It reports true once a
// calibration has converged and tracking should stop.
func (s *Service) Observe(obs identity.Observation) bool {
	reg, ok := s.registries[obs.Source]
	if !ok {
		s.dropped++
		s.log.Debug().Str("source", obs.Source).Str("address", obs.Address).Msg("observation from untracked source dropped")
		return false
	}

	outcome := reg.Observe(obs)
	for _, o := range s.observers {
		o.Observed(obs.Source, outcome)
	}

	if s.calibrated {
		return true
	}
	if key, c, done := reg.Calibration(); done {
		s.calibrated = true
		s.log.Info().
			Str("source", obs.Source).
			Str("host", key).
			Float64("target", c.Target).
			Float64("computed", c.Computed).
			Float64("last", c.Last).
			Int("samples", c.Samples).
			Float64("stddev", c.StdDev).
			Msg("calibration finished")
		return true
	}
	return false
}

// Flush hands the active hosts of every registry to the active sinks.
func (s *Service) Flush() {
	for _, source := range s.Sources() {
		s.registries[source].SaveActive()
	}
}

// Sources returns the tracked sources in sorted order.
func (s *Service) Sources() []string {
	out := make([]string, 0, len(s.registries))
	for source := range s.registries {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// Registry returns the registry of source.
func (s *Service) Registry(source string) (*identity.Registry, bool) {
	reg, ok := s.registries[source]
	return reg, ok
}

// Calibration returns the first converged calibration of any source.
func (s *Service) Calibration() (string, skew.Calibration, bool) {
	for _, source := range s.Sources() {
		if key, c, ok := s.registries[source].Calibration(); ok {
			return key, c, true
		}
	}
	return "", skew.Calibration{}, false
}

// Dropped returns the number of observations from untracked sources.
func (s *Service) Dropped() int { return s.dropped }
