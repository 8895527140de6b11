// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package skew

import (
	"math"

	"github.com/rs/zerolog"
)

// Default tracking parameters.
const (
	DefaultBlock          = 100
	DefaultSkewValidAfter = 5 * 60.0
	DefaultThreshold      = 0.001
	// ConfirmTolerance scales the threshold when a new estimate is checked
	// against the previously confirmed skew.
	ConfirmTolerance = 10
	// ReduceAfterBlocks enables reduction on confirmation once the host holds
	// more than this many blocks of samples.
	ReduceAfterBlocks = 15
)

// Options controls a Host. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	Block          int     // samples per recompute cycle
	SkewValidAfter float64 // seconds a skew must hold before confirmation
	Threshold      float64 // similarity threshold (ms/s)
	Reduce         bool    // prune samples on confirmation / re-segmentation

	// ForcedFrequency switches the host into calibration mode: the frequency
	// is fixed, the skew is recomputed after every sample and no skew is
	// ever confirmed.
	ForcedFrequency int
	// TargetSkew is the expected skew in calibration mode; nil disables the
	// convergence report.
	TargetSkew *float64
}

// DefaultOptions returns the default tracking parameters.
func DefaultOptions() Options {
	return Options{
		Block:          DefaultBlock,
		SkewValidAfter: DefaultSkewValidAfter,
		Threshold:      DefaultThreshold,
	}
}

// SampleLog persists the sample set of a host.
type SampleLog interface {
	// Rewrite replaces the whole log of key.
	Rewrite(key string, samples []Sample) error
	// Append adds samples to the log of key.
	Append(key string, samples []Sample) error
}

// Segment is a contiguous sample range over which one skew line holds.
// Start, Confirmed and Last are handles into the host's samples.
type Segment struct {
	Alpha          float64
	Beta           float64
	ConfirmedAlpha float64
	ConfirmedBeta  float64
	Start          *Sample
	Confirmed      *Sample
	Last           *Sample
}

// Host tracks the clock of one remote address.
type Host struct {
	key       string
	opts      Options
	log       zerolog.Logger
	sampleLog SampleLog

	freq      int
	samples   Samples
	segments  []*Segment
	confirmed Line

	startTime         float64
	lastPacketTime    float64
	lastConfirmedTime float64
	persistedSeq      uint64
	rewritePending    bool

	history     History
	calibration *calibrator
}

// NewHost starts tracking key with its first sample. sampleLog may be nil.
func NewHost(key string, arrival float64, clock uint64, opts Options, sampleLog SampleLog, logger zerolog.Logger) *Host {
	if opts.Block <= 0 {
		opts.Block = DefaultBlock
	}
	if opts.SkewValidAfter <= 0 {
		opts.SkewValidAfter = DefaultSkewValidAfter
	}
	h := &Host{
		key:       key,
		opts:      opts,
		log:       logger.With().Str("host", key).Logger(),
		sampleLog: sampleLog,
	}
	h.reset(arrival, clock)
	return h
}

func (h *Host) reset(arrival float64, clock uint64) {
	h.samples.Clear()
	h.segments = nil
	h.freq = h.opts.ForcedFrequency
	h.confirmed = Undefined
	h.startTime = arrival
	h.lastPacketTime = arrival
	h.lastConfirmedTime = arrival
	h.persistedSeq = 0
	// A forced frequency never locks, so each epoch starts a fresh log.
	h.rewritePending = h.freq != 0
	if h.opts.ForcedFrequency != 0 && h.opts.TargetSkew != nil {
		h.calibration = newCalibrator(*h.opts.TargetSkew, arrival)
	}

	h.Insert(arrival, clock)
	h.openSegment(h.samples.Front())
}

// Restart drops all samples and segments and starts a new tracking epoch
// with the given sample.
func (h *Host) Restart(arrival float64, clock uint64) {
	h.log.Debug().Float64("arrival", arrival).Msg("restarting skew tracking")
	h.reset(arrival, clock)
}

// Insert appends a sample without recomputing anything.
func (h *Host) Insert(arrival float64, clock uint64) *Sample {
	s := h.samples.PushBack(arrival, clock)
	if h.freq != 0 {
		SetOffset(s, h.samples.Front(), h.freq)
	}
	h.lastPacketTime = arrival
	return s
}

// MaybeRecompute recomputes the skew when a block is complete, when the
// confirmed skew is older than SkewValidAfter or in calibration mode. It
// reports whether the published history changed.
func (h *Host) MaybeRecompute(now float64) bool {
	if h.opts.ForcedFrequency == 0 &&
		h.samples.Len()%h.opts.Block != 0 &&
		now-h.lastConfirmedTime <= h.opts.SkewValidAfter {
		return false
	}
	if !h.recompute(now) {
		return false
	}
	return h.publish()
}

// recompute runs one estimation cycle. It returns false when the cycle was
// deferred or produced no estimate.
func (h *Host) recompute(now float64) bool {
	locked := false
	if h.freq == 0 {
		if now-h.startTime < FrequencyWarmup {
			return false
		}
		freq := EstimateFrequency(&h.samples)
		if freq == 0 {
			return false
		}
		h.lockFrequency(freq)
		locked = true
	}

	h.persist(locked)

	live := h.segments[len(h.segments)-1]
	estimate := EstimateSkew(live.Start, nil)
	if h.calibration != nil {
		h.calibration.observe(now, estimate)
	}
	if !estimate.Defined() {
		h.log.Debug().Msg("clock skew not set")
		return false
	}
	live.Alpha, live.Beta = estimate.Alpha, estimate.Beta

	if h.opts.ForcedFrequency == 0 && now-h.lastConfirmedTime > h.opts.SkewValidAfter {
		check := EstimateSkew(live.Confirmed, nil)
		if math.Abs(check.Alpha-h.confirmed.Alpha) < ConfirmTolerance*h.opts.Threshold ||
			math.IsNaN(h.confirmed.Alpha) {
			h.confirm(live, estimate, now)
		} else {
			h.resegment(live, now)
		}
	}
	return true
}

func (h *Host) lockFrequency(freq int) {
	h.freq = freq
	first := h.samples.Front()
	for s := first; s != nil; s = s.next {
		SetOffset(s, first, freq)
	}
	h.log.Info().Int("frequency", freq).Msg("clock frequency locked")
}

func (h *Host) confirm(live *Segment, estimate Line, now float64) {
	h.confirmed = estimate
	live.ConfirmedAlpha, live.ConfirmedBeta = estimate.Alpha, estimate.Beta
	live.Confirmed = live.Last
	live.Last = h.samples.Back()
	h.lastConfirmedTime = now
	h.log.Debug().
		Float64("alpha", estimate.Alpha).
		Float64("beta", estimate.Beta).
		Float64("elapsed", live.Last.Offset.X).
		Msg("clock skew confirmed")

	if h.opts.Reduce && h.samples.Len() > h.opts.Block*ReduceAfterBlocks {
		h.reduce(live.Start, live.Confirmed)
	}
}

func (h *Host) resegment(closed *Segment, now float64) {
	h.openSegment(h.samples.Back())
	h.confirmed = Undefined
	h.lastConfirmedTime = now
	h.log.Debug().
		Int("segments", len(h.segments)).
		Float64("alpha", closed.Alpha).
		Msg("clock skew changed, new segment opened")

	if h.opts.Reduce {
		h.reduce(closed.Start, closed.Last)
	}
}

func (h *Host) reduce(start, end *Sample) {
	if removed := h.samples.Reduce(start, end); removed > 0 {
		h.log.Debug().Int("removed", removed).Int("samples", h.samples.Len()).Msg("samples reduced")
	}
}

func (h *Host) openSegment(start *Sample) {
	h.segments = append(h.segments, &Segment{
		Alpha:          math.NaN(),
		Beta:           math.NaN(),
		ConfirmedAlpha: math.NaN(),
		ConfirmedBeta:  math.NaN(),
		Start:          start,
		Confirmed:      start,
		Last:           h.samples.Back(),
	})
}

func (h *Host) persist(rewrite bool) {
	if h.sampleLog == nil {
		return
	}

	rewrite = rewrite || h.rewritePending
	var err error
	if rewrite {
		err = h.sampleLog.Rewrite(h.key, h.samples.Slice(h.samples.Front(), nil))
	} else {
		var fresh []Sample
		for s := h.samples.Back(); s != nil && s.Seq > h.persistedSeq; s = s.prev {
			fresh = append(fresh, Sample{Arrival: s.Arrival, Clock: s.Clock, Offset: s.Offset, Seq: s.Seq})
		}
		for i, k := 0, len(fresh)-1; i < k; i, k = i+1, k-1 {
			fresh[i], fresh[k] = fresh[k], fresh[i]
		}
		if len(fresh) == 0 {
			return
		}
		err = h.sampleLog.Append(h.key, fresh)
	}
	if err != nil {
		h.log.Warn().Err(err).Msg("cannot save samples")
		return
	}
	if rewrite {
		h.rewritePending = false
	}
	if back := h.samples.Back(); back != nil {
		h.persistedSeq = back.Seq
	}
}

// publish rebuilds the history from every segment with a confirmed skew and
// reports whether it differs from the previously published one.
func (h *Host) publish() bool {
	var next History
	for _, seg := range h.segments {
		if math.IsNaN(seg.ConfirmedAlpha) || math.IsNaN(seg.ConfirmedBeta) {
			continue
		}
		next.Add(TimeSegment{
			Alpha:         seg.ConfirmedAlpha,
			Beta:          seg.ConfirmedBeta,
			StartTime:     seg.Start.Offset.X + h.startTime,
			EndTime:       seg.Last.Offset.X + h.startTime,
			RelativeStart: seg.Start.Offset.X,
			RelativeEnd:   seg.Last.Offset.X,
		})
	}
	next.SetEndTime(h.samples.Back().Offset.X + h.startTime)

	if next.Empty() && h.history.Empty() {
		h.history = next
		return false
	}
	if next.Equal(h.history) {
		return false
	}
	h.history = next
	return true
}

// Key returns the registry key (address or address_port).
func (h *Host) Key() string { return h.key }

// Frequency returns the remote clock rate in Hz, or 0 when unknown.
func (h *Host) Frequency() int { return h.freq }

// SampleCount returns the number of stored samples.
func (h *Host) SampleCount() int { return h.samples.Len() }

// StartTime returns the arrival time of the first sample of this epoch.
func (h *Host) StartTime() float64 { return h.startTime }

// LastPacketTime returns the arrival time of the newest sample.
func (h *Host) LastPacketTime() float64 { return h.lastPacketTime }

// LastClock returns the remote clock value of the newest sample.
func (h *Host) LastClock() uint64 {
	if back := h.samples.Back(); back != nil {
		return back.Clock
	}
	return 0
}

// ConfirmedSkew returns the last confirmed skew line.
func (h *Host) ConfirmedSkew() Line { return h.confirmed }

// History returns the published segment history.
func (h *Host) History() History { return h.history }

// Samples exposes the sample sequence for read-only walks.
func (h *Host) Samples() *Samples { return &h.samples }

// Segments returns copies of all segments, the live one last.
func (h *Host) Segments() []Segment {
	out := make([]Segment, len(h.segments))
	for i, seg := range h.segments {
		out[i] = *seg
	}
	return out
}

// Calibration returns the calibration result once the skew has converged to
// the target for a full hour.
func (h *Host) Calibration() (Calibration, bool) {
	if h.calibration == nil {
		return Calibration{}, false
	}
	return h.calibration.result()
}
