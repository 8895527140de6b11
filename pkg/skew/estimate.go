// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package skew

import "math"

// Edge-rejection limits for hull edges. Both values are empirical.
const (
	// MaxBaselineSlope rejects the whole range when the middle hull edge is
	// steeper than this.
	MaxBaselineSlope = 100.0
	// MaxEdgeSlope skips secondary hull edges steeper than this.
	MaxEdgeSlope = 3.0
)

// Line is the clock skew line y = Alpha*x + Beta. Alpha is the drift in
// milliseconds per elapsed second.
type Line struct {
	Alpha float64
	Beta  float64
}

// Undefined is the line of a range that has no usable estimate yet.
var Undefined = Line{Alpha: math.NaN(), Beta: math.NaN()}

// Defined reports whether both coefficients are set.
func (l Line) Defined() bool {
	return !math.IsNaN(l.Alpha) && !math.IsNaN(l.Beta)
}

// EstimateSkew fits the skew line over the samples in [start, end). A nil end
// means the tail of the sequence.
//
// Only edges of the upper convex hull can minimise the one-sided residual
// sum, so the search is linear in the hull size.
func EstimateSkew(start, end *Sample) Line {
	var points []Point
	for s := start; s != nil && s != end; s = s.next {
		points = append(points, s.Offset)
	}
	return EstimatePoints(points)
}

// EstimatePoints fits the skew line over offset points sorted by X.
func EstimatePoints(points []Point) Line {
	if len(points) < 2 {
		return Undefined
	}

	scratch := make([]Point, len(points))
	copy(scratch, points)
	hull := ConvexHull(scratch)
	if len(hull) < 2 {
		return Undefined
	}

	j := len(hull) / 2
	alpha := slope(hull[j-1], hull[j])
	if math.IsNaN(alpha) || math.Abs(alpha) > MaxBaselineSlope {
		return Undefined
	}
	beta := hull[j-1].Y - alpha*hull[j-1].X
	best := residual(points, alpha, beta, math.Inf(1))
	result := Line{Alpha: alpha, Beta: beta}

	for i := 1; i < len(hull); i++ {
		if i == j {
			continue
		}
		alpha = slope(hull[i-1], hull[i])
		if math.IsNaN(alpha) || alpha > MaxEdgeSlope || alpha < -MaxEdgeSlope {
			continue
		}
		beta = hull[i-1].Y - alpha*hull[i-1].X
		if sum := residual(points, alpha, beta, best); sum < best {
			result = Line{Alpha: alpha, Beta: beta}
			best = sum
		}
	}

	return result
}

func slope(a, b Point) float64 {
	return (b.Y - a.Y) / (b.X - a.X)
}

// residual sums alpha*x+beta-y over points and gives up as soon as the
// partial sum reaches limit.
func residual(points []Point, alpha, beta, limit float64) float64 {
	sum := 0.0
	for _, p := range points {
		sum += alpha*p.X + beta - p.Y
		if sum >= limit {
			break
		}
	}
	return sum
}
