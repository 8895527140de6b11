// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package identity

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/vulntor/skewprint/pkg/skew"
)

// DefaultTimeLimit is the silence (s) after which a host is forgotten.
const DefaultTimeLimit = 3600.0

// Options configures a Registry.
type Options struct {
	Source     string
	TimeLimit  float64
	PortEnable bool
	Host       skew.Options
}

type entry struct {
	host    *skew.Host
	address string
	port    uint16
}

// Registry tracks the hosts of one sample source and correlates their skew
// histories. It is not safe for concurrent use; a single goroutine owns it.
type Registry struct {
	opts      Options
	log       zerolog.Logger
	catalog   Catalog
	sampleLog skew.SampleLog

	hosts     map[string]*entry
	histories map[string]skew.History
	evicted   map[string]float64 // eviction time of keys with a retained history
	listeners []Listener
	sinks     []ActiveSink

	lastSweep   float64
	calibrated  bool
	calibration skew.Calibration
	calibKey    string
}

// Option customizes a Registry.
type Option func(*Registry)

// WithCatalog consults saved identities for hosts with a constant skew.
func WithCatalog(c Catalog) Option {
	return func(r *Registry) { r.catalog = c }
}

// WithSampleLog persists per-host samples.
func WithSampleLog(l skew.SampleLog) Option {
	return func(r *Registry) { r.sampleLog = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, logger zerolog.Logger, options ...Option) *Registry {
	if opts.TimeLimit <= 0 {
		opts.TimeLimit = DefaultTimeLimit
	}
	if opts.Host.Threshold <= 0 {
		opts.Host.Threshold = skew.DefaultThreshold
	}
	r := &Registry{
		opts:      opts,
		log:       logger.With().Str("component", "identity").Str("source", opts.Source).Logger(),
		hosts:     make(map[string]*entry),
		histories: make(map[string]skew.History),
		evicted:   make(map[string]float64),
		lastSweep: -1,
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Subscribe registers a listener for skew changes.
func (r *Registry) Subscribe(l Listener) {
	r.listeners = append(r.listeners, l)
}

// SubscribeActive registers a sink for active-host snapshots.
func (r *Registry) SubscribeActive(s ActiveSink) {
	r.sinks = append(r.sinks, s)
}

// Source returns the sample source this registry tracks.
func (r *Registry) Source() string { return r.opts.Source }

// Observe feeds one clock reading into the registry.
func (r *Registry) Observe(obs Observation) Outcome {
	outcome := r.observe(obs)
	r.maybeSweep(obs.Arrival)
	return outcome
}

func (r *Registry) observe(obs Observation) Outcome {
	key := obs.Key(r.opts.PortEnable)
	e, ok := r.hosts[key]
	if !ok {
		h := skew.NewHost(key, obs.Arrival, obs.Clock, r.opts.Host, r.sampleLog, r.log)
		r.hosts[key] = &entry{host: h, address: obs.Address, port: obs.Port}
		r.log.Debug().Str("host", key).Msg("tracking new host")
		if _, retained := r.histories[key]; retained {
			// The new epoch has not confirmed anything yet.
			delete(r.evicted, key)
			r.update(key, skew.History{})
		}
		return Created
	}
	h := e.host

	if obs.Arrival-h.LastPacketTime() > r.opts.TimeLimit {
		r.log.Debug().
			Str("host", key).
			Float64("silence", obs.Arrival-h.LastPacketTime()).
			Msg("host silent for too long, restarting")
		h.Restart(obs.Arrival, obs.Clock)
		return Restarted
	}
	if obs.Clock <= h.LastClock() {
		return Stale
	}

	h.Insert(obs.Arrival, obs.Clock)
	changed := h.MaybeRecompute(obs.Arrival)
	if skew.ImplausibleFrequency(h.Frequency()) {
		r.log.Debug().Str("host", key).Int("frequency", h.Frequency()).Msg("implausible clock frequency, restarting")
		h.Restart(obs.Arrival, obs.Clock)
		return Restarted
	}
	if changed {
		r.update(key, h.History())
	}
	if !r.calibrated {
		if c, done := h.Calibration(); done {
			r.calibrated, r.calibration, r.calibKey = true, c, key
			r.log.Info().
				Str("host", key).
				Float64("skew", c.Computed).
				Float64("elapsed", c.Elapsed).
				Msg("calibration converged")
		}
	}
	return Accepted
}

// update publishes a new history for key and refreshes every host whose
// similarity with key flipped.
func (r *Registry) update(key string, history skew.History) {
	before := r.Similar(key)
	r.histories[key] = history
	after := r.Similar(key)

	r.notify(key, after)
	for _, other := range symmetricDifference(before, after) {
		if _, ok := r.hosts[other]; ok {
			r.notify(other, r.Similar(other))
		}
	}
}

// Similar returns the sorted keys of all histories similar to the published
// history of key, plus saved identities when the skew of key is constant.
func (r *Registry) Similar(key string) []string {
	history, ok := r.histories[key]
	if !ok {
		return nil
	}

	set := make(map[string]struct{})
	for other, h := range r.histories {
		if other == key {
			continue
		}
		if history.IsSimilarWith(h, r.opts.Host.Threshold) {
			set[other] = struct{}{}
		}
	}
	if r.catalog != nil && history.IsConstant() {
		for _, name := range r.catalog.Lookup(history.LastAlpha(), r.opts.Host.Threshold) {
			set[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) notify(key string, similar []string) {
	report := r.report(key, similar)
	for _, l := range r.listeners {
		l.SkewChanged(report)
	}
}

func (r *Registry) report(key string, similar []string) Report {
	rep := Report{
		Source:  r.opts.Source,
		Key:     key,
		Address: key,
		History: r.histories[key],
		Similar: similar,
	}
	if e, ok := r.hosts[key]; ok {
		rep.Address = e.address
		rep.Port = e.port
		rep.Frequency = e.host.Frequency()
		rep.SampleCount = e.host.SampleCount()
		rep.LastSeen = e.host.LastPacketTime()
	}
	return rep
}

func (r *Registry) maybeSweep(now float64) {
	if r.lastSweep < 0 {
		r.lastSweep = now
		return
	}
	if now-r.lastSweep <= r.opts.TimeLimit/4 {
		return
	}
	r.lastSweep = now
	r.Evict(now)
	r.SaveActive()
}

// Evict forgets hosts that have been silent for longer than the time limit.
// Their published histories stay available for correlation for one more
// time limit and are dropped afterwards.
func (r *Registry) Evict(now float64) int {
	for key, at := range r.evicted {
		if now-at > r.opts.TimeLimit {
			delete(r.evicted, key)
			delete(r.histories, key)
			r.log.Debug().Str("host", key).Msg("history of evicted host dropped")
		}
	}

	evicted := 0
	for key, e := range r.hosts {
		if now-e.host.LastPacketTime() > r.opts.TimeLimit {
			delete(r.hosts, key)
			if _, ok := r.histories[key]; ok {
				r.evicted[key] = now
			}
			evicted++
			r.log.Debug().Str("host", key).Msg("host evicted")
		}
	}
	return evicted
}

// SaveActive hands a snapshot of every active host to the active sinks.
func (r *Registry) SaveActive() {
	if len(r.sinks) == 0 {
		return
	}
	reports := r.Active()
	for _, s := range r.sinks {
		s.SaveActive(r.opts.Source, reports)
	}
}

// Active returns reports for all active hosts ordered by key.
func (r *Registry) Active() []Report {
	keys := make([]string, 0, len(r.hosts))
	for key := range r.hosts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	reports := make([]Report, 0, len(keys))
	for _, key := range keys {
		reports = append(reports, r.report(key, r.Similar(key)))
	}
	return reports
}

// Host returns the tracker of an active host.
func (r *Registry) Host(key string) (*skew.Host, bool) {
	e, ok := r.hosts[key]
	if !ok {
		return nil, false
	}
	return e.host, true
}

// History returns the last published history of key, including evicted hosts.
func (r *Registry) History(key string) (skew.History, bool) {
	h, ok := r.histories[key]
	return h, ok
}

// Len returns the number of active hosts.
func (r *Registry) Len() int { return len(r.hosts) }

// Calibration returns the first converged calibration result.
func (r *Registry) Calibration() (string, skew.Calibration, bool) {
	return r.calibKey, r.calibration, r.calibrated
}

func symmetricDifference(a, b []string) []string {
	seen := make(map[string]int, len(a)+len(b))
	for _, k := range a {
		seen[k] |= 1
	}
	for _, k := range b {
		seen[k] |= 2
	}
	var out []string
	for k, v := range seen {
		if v != 3 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
