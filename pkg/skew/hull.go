// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package skew

// ccw is the counter-clockwise orientation test. Positive for a left turn,
// negative for a right (clockwise) turn, zero when collinear.
func ccw(p1, p2, p3 Point) float64 {
	return (p2.X-p1.X)*(p3.Y-p1.Y) - (p2.Y-p1.Y)*(p3.X-p1.X)
}

// ConvexHull returns the upper convex hull of points, which must be sorted by
// ascending X. The scan works in place: the returned slice aliases points and
// the input order is destroyed.
//
// See Graham, R. L.: An efficient algorithm for determining the convex hull of
// a finite planar set. Information Processing Letters 1(4), 1972.
func ConvexHull(points []Point) []Point {
	m := 0
	for i := range points {
		p := points[i]
		for m >= 2 && ccw(points[m-2], points[m-1], p) >= 0 {
			m--
		}
		points[m] = p
		m++
	}
	return points[:m]
}
