// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package skew

import "math"

// Calibration constants.
const (
	CalibrationTolerance = 0.001
	CalibrationHold      = 3600.0
)

// Calibration summarizes a converged calibration run.
type Calibration struct {
	Target   float64 // expected skew (ms/s)
	Computed float64 // skew when the estimate first entered the tolerance
	Last     float64 // skew at the end of the hold period
	Samples  int     // recomputes before convergence started
	Elapsed  float64 // seconds from the first sample to convergence
	MeanGap  float64 // mean seconds between recomputes
	Variance float64
	StdDev   float64
}

type calibrator struct {
	target float64
	start  float64
	prev   float64

	n          int
	sum, sumSq float64

	since    float64
	computed float64
	snapN    int
	snapSum  float64
	snapSq   float64

	done bool
	res  Calibration
}

func newCalibrator(target, start float64) *calibrator {
	return &calibrator{target: target, start: start, prev: start}
}

func (c *calibrator) observe(now float64, estimate Line) {
	if c.done {
		return
	}
	gap := now - c.prev
	c.prev = now
	c.n++
	c.sum += gap
	c.sumSq += gap * gap

	if !estimate.Defined() || math.Abs(estimate.Alpha-c.target) > CalibrationTolerance {
		c.since = 0
		return
	}
	if c.since == 0 {
		c.since = now
		c.computed = estimate.Alpha
		c.snapN, c.snapSum, c.snapSq = c.n, c.sum, c.sumSq
		return
	}
	if now-c.since <= CalibrationHold {
		return
	}

	mean := c.snapSum / float64(c.snapN)
	variance := (c.snapSq - c.snapSum*c.snapSum/float64(c.snapN)) / float64(c.snapN)
	if variance < 0 {
		variance = 0
	}
	c.res = Calibration{
		Target:   c.target,
		Computed: c.computed,
		Last:     estimate.Alpha,
		Samples:  c.snapN,
		Elapsed:  c.since - c.start,
		MeanGap:  mean,
		Variance: variance,
		StdDev:   math.Sqrt(variance),
	}
	c.done = true
}

func (c *calibrator) result() (Calibration, bool) {
	return c.res, c.done
}
