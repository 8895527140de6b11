// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package identity

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vulntor/skewprint/pkg/skew"
)

const start = 1_700_000_000.0

type recorder struct {
	reports []Report
	last    map[string]Report
	active  [][]Report
}

func newRecorder() *recorder {
	return &recorder{last: make(map[string]Report)}
}

func (r *recorder) SkewChanged(rep Report) {
	r.reports = append(r.reports, rep)
	r.last[rep.Key] = rep
}

func (r *recorder) SaveActive(_ string, reports []Report) {
	r.active = append(r.active, reports)
}

type staticCatalog map[string]float64

func (c staticCatalog) Lookup(alpha, threshold float64) []string {
	var out []string
	for name, s := range c {
		if math.Abs(s-alpha) < threshold {
			out = append(out, name)
		}
	}
	return out
}

// remote is a simulated 1000 Hz clock with a constant skew (ms/s).
type remote struct {
	address string
	alpha   float64
	offset  uint64
}

func (h remote) observe(elapsed float64) Observation {
	ms := elapsed*1000 + h.alpha*elapsed
	return Observation{
		Source:  SourceTCP,
		Address: h.address,
		Port:    443,
		Arrival: start + elapsed,
		Clock:   h.offset + uint64(math.Floor(ms)),
	}
}

// run interleaves the remotes every two seconds from 'from' to 'to' seconds.
func run(r *Registry, rng *rand.Rand, from, to float64, remotes ...remote) {
	for t := from; t < to; t += 2 {
		for _, h := range remotes {
			r.Observe(h.observe(t + rng.Float64()))
		}
	}
}

func newTestRegistry(options ...Option) *Registry {
	return NewRegistry(Options{Source: SourceTCP, Host: skew.DefaultOptions()}, zerolog.Nop(), options...)
}

func TestObservation_Key(t *testing.T) {
	obs := Observation{Address: "192.0.2.7", Port: 8080}
	require.Equal(t, "192.0.2.7", obs.Key(false))
	require.Equal(t, "192.0.2.7_8080", obs.Key(true))
}

func TestRegistry_SimilarHostsAreSymmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	rec := newRecorder()
	r := newTestRegistry()
	r.Subscribe(rec)

	a := remote{address: "10.0.0.1", alpha: 0.0100, offset: 5000}
	b := remote{address: "10.0.0.2", alpha: 0.0103, offset: 90000}
	c := remote{address: "10.0.0.3", alpha: 0.0500, offset: 777}
	run(r, rng, 0, 800, a, b, c)

	require.Equal(t, 3, r.Len())
	require.Equal(t, []string{"10.0.0.2"}, r.Similar("10.0.0.1"))
	require.Equal(t, []string{"10.0.0.1"}, r.Similar("10.0.0.2"))
	require.Empty(t, r.Similar("10.0.0.3"))

	require.Equal(t, []string{"10.0.0.2"}, rec.last["10.0.0.1"].Similar)
	require.Equal(t, []string{"10.0.0.1"}, rec.last["10.0.0.2"].Similar)
	require.Empty(t, rec.last["10.0.0.3"].Similar)

	rep := rec.last["10.0.0.1"]
	require.Equal(t, SourceTCP, rep.Source)
	require.Equal(t, 1000, rep.Frequency)
	require.Equal(t, uint16(443), rep.Port)
	require.False(t, rep.History.Empty())
}

func TestRegistry_SilentHostIsRestarted(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	r := newTestRegistry()
	a := remote{address: "10.0.0.1", alpha: 0.01}
	run(r, rng, 0, 400, a)

	h, ok := r.Host("10.0.0.1")
	require.True(t, ok)
	require.Equal(t, 1000, h.Frequency())
	last := h.LastPacketTime() - start

	obs := a.observe(last + DefaultTimeLimit + 1)
	require.Equal(t, Restarted, r.Observe(obs))

	h, ok = r.Host("10.0.0.1")
	require.True(t, ok)
	require.Equal(t, 1, h.SampleCount())
	require.Zero(t, h.Frequency())
	segs := h.Segments()
	require.Len(t, segs, 1)
	require.Equal(t, obs.Arrival, segs[0].Start.Arrival)
	require.Equal(t, obs.Clock, segs[0].Start.Clock)
}

func TestRegistry_StaleClockIsDropped(t *testing.T) {
	r := newTestRegistry()
	a := remote{address: "10.0.0.1", alpha: 0.01}

	require.Equal(t, Created, r.Observe(a.observe(0)))
	require.Equal(t, Accepted, r.Observe(a.observe(2)))
	require.Equal(t, Stale, r.Observe(a.observe(2)))
	require.Equal(t, Stale, r.Observe(a.observe(1)))

	h, _ := r.Host("10.0.0.1")
	require.Equal(t, 2, h.SampleCount())
}

func TestRegistry_ImplausibleFrequencyRestarts(t *testing.T) {
	r := newTestRegistry()
	var outcome Outcome
	for i := 0; i < 100; i++ {
		elapsed := float64(i) * 2
		outcome = r.Observe(Observation{
			Source:  SourceTCP,
			Address: "10.0.0.9",
			Arrival: start + elapsed,
			Clock:   uint64(elapsed * 50000),
		})
	}
	require.Equal(t, Restarted, outcome)

	h, _ := r.Host("10.0.0.9")
	require.Zero(t, h.Frequency())
	require.Equal(t, 1, h.SampleCount())
}

func TestRegistry_EvictionKeepsHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rec := newRecorder()
	r := newTestRegistry()
	r.SubscribeActive(rec)

	a := remote{address: "10.0.0.1", alpha: 0.01}
	run(r, rng, 0, 800, a)
	_, ok := r.History("10.0.0.1")
	require.True(t, ok)

	b := remote{address: "10.0.0.2", alpha: 0.02}
	r.Observe(b.observe(800 + DefaultTimeLimit + 10))

	require.Equal(t, 1, r.Len())
	_, ok = r.Host("10.0.0.1")
	require.False(t, ok)
	history, ok := r.History("10.0.0.1")
	require.True(t, ok)
	require.False(t, history.Empty())

	require.NotEmpty(t, rec.active)
	latest := rec.active[len(rec.active)-1]
	require.Len(t, latest, 1)
	require.Equal(t, "10.0.0.2", latest[0].Key)
}

func TestRegistry_EvictedHistoryIsDroppedAfterTimeLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	r := newTestRegistry()
	run(r, rng, 0, 800, remote{address: "10.0.0.1", alpha: 0.01})

	evictedAt := start + 800 + DefaultTimeLimit + 10
	require.Equal(t, 1, r.Evict(evictedAt))
	_, ok := r.History("10.0.0.1")
	require.True(t, ok)

	require.Zero(t, r.Evict(evictedAt+DefaultTimeLimit/2))
	_, ok = r.History("10.0.0.1")
	require.True(t, ok, "a just evicted history stays comparable")

	require.Zero(t, r.Evict(evictedAt+DefaultTimeLimit+1))
	_, ok = r.History("10.0.0.1")
	require.False(t, ok)
	require.Empty(t, r.evicted)
}

func TestRegistry_ReturningHostStartsWithEmptyHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	rec := newRecorder()
	r := newTestRegistry()
	r.Subscribe(rec)

	a := remote{address: "10.0.0.1", alpha: 0.0100, offset: 5000}
	b := remote{address: "10.0.0.2", alpha: 0.0102, offset: 9000}
	run(r, rng, 0, 800, a, b)
	require.Equal(t, []string{"10.0.0.1"}, r.Similar("10.0.0.2"))

	require.Equal(t, 2, r.Evict(start+800+DefaultTimeLimit+10))
	require.Equal(t, []string{"10.0.0.1"}, r.Similar("10.0.0.2"))

	require.Equal(t, Created, r.Observe(a.observe(800+DefaultTimeLimit+20)))

	history, ok := r.History("10.0.0.1")
	require.True(t, ok)
	require.True(t, history.Empty())
	require.Empty(t, r.Similar("10.0.0.2"))
	require.Empty(t, r.Similar("10.0.0.1"))

	rep := rec.last["10.0.0.1"]
	require.True(t, rep.History.Empty())
	require.Empty(t, rep.Similar)
	require.NotContains(t, r.evicted, "10.0.0.1")
}

func TestRegistry_CatalogMatchesConstantSkew(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	rec := newRecorder()
	r := newTestRegistry(WithCatalog(staticCatalog{"lab-router": 0.0101, "printer": 0.3}))
	r.Subscribe(rec)

	run(r, rng, 0, 800, remote{address: "10.0.0.1", alpha: 0.01})

	require.Equal(t, []string{"lab-router"}, r.Similar("10.0.0.1"))
	require.Equal(t, []string{"lab-router"}, rec.last["10.0.0.1"].Similar)
}

func TestRegistry_PortKeys(t *testing.T) {
	r := NewRegistry(Options{Source: SourceTCP, PortEnable: true, Host: skew.DefaultOptions()}, zerolog.Nop())
	r.Observe(Observation{Address: "10.0.0.1", Port: 1000, Arrival: start, Clock: 1})
	r.Observe(Observation{Address: "10.0.0.1", Port: 2000, Arrival: start + 1, Clock: 1})

	require.Equal(t, 2, r.Len())
	_, ok := r.Host("10.0.0.1_1000")
	require.True(t, ok)
	_, ok = r.Host("10.0.0.1_2000")
	require.True(t, ok)
}

func TestSymmetricDifference(t *testing.T) {
	require.Equal(t, []string{"a", "d"}, symmetricDifference([]string{"a", "b", "c"}, []string{"b", "c", "d"}))
	require.Empty(t, symmetricDifference(nil, nil))
	require.Empty(t, symmetricDifference([]string{"x"}, []string{"x"}))
}

func TestOutcome_String(t *testing.T) {
	require.Equal(t, "accepted", Accepted.String())
	require.Equal(t, "restarted", Restarted.String())
	require.Equal(t, "unknown", Outcome(42).String())
}
