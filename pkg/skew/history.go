// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package skew

import "math"

// SkewCorrespondence is the fraction of the common active time during which
// two changing histories must agree to be considered similar.
const SkewCorrespondence = 0.9

// TimeSegment is a skew line together with the time span it is valid for.
type TimeSegment struct {
	Alpha         float64 `json:"alpha" yaml:"alpha"`
	Beta          float64 `json:"beta" yaml:"beta"`
	StartTime     float64 `json:"start_time" yaml:"start_time"`
	EndTime       float64 `json:"end_time" yaml:"end_time"`
	RelativeStart float64 `json:"relative_start" yaml:"relative_start"`
	RelativeEnd   float64 `json:"relative_end" yaml:"relative_end"`
}

// History is the ordered list of finalized skew segments of one host.
type History struct {
	atoms   []TimeSegment
	endTime float64
}

// Add appends a segment and moves the end time watermark.
func (h *History) Add(atom TimeSegment) {
	h.atoms = append(h.atoms, atom)
	h.SetEndTime(atom.EndTime)
}

// SetEndTime raises the end time watermark; lower values are ignored.
func (h *History) SetEndTime(end float64) float64 {
	h.endTime = math.Max(h.endTime, end)
	return h.endTime
}

// EndTime returns the end of the measurement.
func (h History) EndTime() float64 { return h.endTime }

// StartTime returns the start of the first segment, or 0 for an empty history.
func (h History) StartTime() float64 {
	if len(h.atoms) == 0 {
		return 0
	}
	return h.atoms[0].StartTime
}

// Len returns the number of segments.
func (h History) Len() int { return len(h.atoms) }

// Empty reports whether no segment has been confirmed yet.
func (h History) Empty() bool { return len(h.atoms) == 0 }

// Segments returns a copy of the segments.
func (h History) Segments() []TimeSegment {
	out := make([]TimeSegment, len(h.atoms))
	copy(out, h.atoms)
	return out
}

// IsConstant reports whether the skew has not changed over time.
func (h History) IsConstant() bool { return len(h.atoms) == 1 }

// LastAlpha returns the latest known skew, or NaN for an empty history.
func (h History) LastAlpha() float64 {
	if len(h.atoms) == 0 {
		return math.NaN()
	}
	return h.atoms[len(h.atoms)-1].Alpha
}

// Equal compares segments and the end time watermark.
func (h History) Equal(other History) bool {
	if h.endTime != other.endTime || len(h.atoms) != len(other.atoms) {
		return false
	}
	for i := range h.atoms {
		a, b := h.atoms[i], other.atoms[i]
		if a.Alpha != b.Alpha || a.Beta != b.Beta || a.StartTime != b.StartTime || a.EndTime != b.EndTime {
			return false
		}
	}
	return true
}

// SimilarAlpha reports whether two skews differ by less than threshold.
func SimilarAlpha(a, b, threshold float64) bool {
	return math.Abs(a-b) < threshold
}

// IsSimilarWith reports whether both histories describe the same clock.
// Constant histories compare their only skew; otherwise the skews have to
// agree during at least SkewCorrespondence of the time both were active.
func (h History) IsSimilarWith(other History, threshold float64) bool {
	if h.IsConstant() && other.IsConstant() {
		return SimilarAlpha(h.atoms[0].Alpha, other.atoms[0].Alpha, threshold)
	}
	return h.compareChanging(other, threshold)
}

func (h History) compareChanging(other History, threshold float64) bool {
	bothActive := 0.0
	similar := 0.0

	i, j := 0, 0
	for i < len(h.atoms) && j < len(other.atoms) {
		mine, theirs := h.atoms[i], other.atoms[j]
		switch {
		case mine.EndTime < theirs.StartTime:
			i++
		case theirs.EndTime < mine.StartTime:
			j++
		default:
			start := math.Max(mine.StartTime, theirs.StartTime)
			var end float64
			if mine.EndTime < theirs.EndTime {
				end = mine.EndTime
				i++
			} else {
				end = theirs.EndTime
				j++
			}
			overlap := end - start
			bothActive += overlap
			if SimilarAlpha(mine.Alpha, theirs.Alpha, threshold) {
				similar += overlap
			}
		}
	}

	return bothActive > 0 && similar > SkewCorrespondence*bothActive
}
