// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package skew

// Reduce removes samples strictly inside (start, end) that cannot shape the
// upper envelope of the offset curve. start, end and the sample right before
// end are never removed. A nil end means the tail. It returns the number of
// removed samples.
func (l *Samples) Reduce(start, end *Sample) int {
	if start == nil || start.list != l {
		return 0
	}
	current := start.next
	if current == nil || current == end {
		return 0
	}

	removed := 0
	for current != nil && current != end {
		prev := current.prev
		next := current.next
		if next == nil || next == end {
			break
		}

		if redundant(prev.Offset, current.Offset, next.Offset) {
			l.Remove(current)
			removed++
			current = prev
			if current == start {
				current = current.next
			}
		} else {
			current = next
		}
	}
	return removed
}

// redundant classifies the middle point of a neighbour triple.
//
// The falling branch compares its tangents with an asymmetric denominator
// (next.X-prev.X); this is kept as-is pending review.
func redundant(prev, cur, next Point) bool {
	switch {
	case prev.Y > cur.Y && cur.Y < next.Y:
		return true
	case prev.Y <= cur.Y && cur.Y < next.Y:
		tanCurr := (cur.Y - prev.Y) / (cur.X - prev.X)
		tanNext := (next.Y - prev.Y) / (next.X - prev.X)
		return tanCurr <= tanNext
	case prev.Y > cur.Y && cur.Y >= next.Y:
		tanCurr := (cur.Y - next.Y) / (cur.X - next.X)
		tanNext := (prev.Y - next.Y) / (next.X - prev.X)
		return tanCurr <= tanNext
	}
	return false
}
