// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package skew

import "math"

const (
	// MinFrequencySamples is the number of samples beyond FrequencyWarmup
	// needed before a frequency is inferred.
	MinFrequencySamples = 10
	// FrequencyWarmup is the minimal elapsed time (s) from the first sample.
	FrequencyWarmup = 60.0
	// MaxPlausibleFrequency bounds non-canonical inferred rates (Hz).
	MaxPlausibleFrequency = 10000
)

type frequencyBand struct {
	low, high int
	snap      int
}

var canonicalFrequencies = []frequencyBand{
	{low: 970, high: 1030, snap: 1000},
	{low: 95, high: 105, snap: 100},
	{low: 230, high: 270, snap: 250},
	{low: 9990000, high: 10010000, snap: 10000000},
}

// EstimateFrequency infers the tick rate of the remote clock from samples.
// It returns 0 while there is not enough data.
func EstimateFrequency(samples *Samples) int {
	first := samples.Front()
	if first == nil {
		return 0
	}

	sum := 0.0
	count := 0
	for s := first.next; s != nil; s = s.next {
		elapsed := s.Arrival - first.Arrival
		if elapsed > FrequencyWarmup {
			sum += float64(s.Clock-first.Clock) / elapsed
			count++
		}
	}
	if count < MinFrequencySamples {
		return 0
	}

	return SnapFrequency(sum / float64(count))
}

// SnapFrequency rounds an averaged rate and snaps it to a canonical clock
// rate when it falls into one of the known bands.
func SnapFrequency(avg float64) int {
	freq := int(math.Round(avg))
	for _, band := range canonicalFrequencies {
		if freq >= band.low && freq <= band.high {
			return band.snap
		}
	}
	return freq
}

// ImplausibleFrequency reports whether freq is too high to belong to a real
// timestamp clock.
func ImplausibleFrequency(freq int) bool {
	for _, band := range canonicalFrequencies {
		if freq == band.snap {
			return false
		}
	}
	return freq > MaxPlausibleFrequency || freq < -MaxPlausibleFrequency
}
