// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package skew

// Point is an offset point: X is the local elapsed time in seconds since the
// first sample, Y is the remote clock offset in milliseconds.
type Point struct {
	X float64
	Y float64
}

// Sample is a single timing observation of a remote clock.
//
// A *Sample doubles as a stable handle into its Samples sequence: segment
// markers keep pointing at the same sample while other samples are appended
// or reduced away.
type Sample struct {
	Arrival float64 // local arrival time (s)
	Clock   uint64  // remote clock value (ticks)
	Offset  Point
	Seq     uint64 // per-host insertion number

	prev, next *Sample
	list       *Samples
}

// Next returns the following sample or nil at the tail.
func (s *Sample) Next() *Sample {
	if s == nil {
		return nil
	}
	return s.next
}

// Prev returns the preceding sample or nil at the head.
func (s *Sample) Prev() *Sample {
	if s == nil {
		return nil
	}
	return s.prev
}

// Samples is an arrival-ordered doubly linked sequence of samples.
type Samples struct {
	head, tail *Sample
	size       int
	seq        uint64
}

// Len returns the number of stored samples.
func (l *Samples) Len() int { return l.size }

// Front returns the first sample or nil.
func (l *Samples) Front() *Sample { return l.head }

// Back returns the last sample or nil.
func (l *Samples) Back() *Sample { return l.tail }

// PushBack appends a new sample and returns its handle.
func (l *Samples) PushBack(arrival float64, clock uint64) *Sample {
	l.seq++
	s := &Sample{Arrival: arrival, Clock: clock, Seq: l.seq, prev: l.tail, list: l}
	if l.tail != nil {
		l.tail.next = s
	} else {
		l.head = s
	}
	l.tail = s
	l.size++
	return s
}

// Remove unlinks s from the sequence. The handle keeps its values but must
// not be used to walk the sequence afterwards.
func (l *Samples) Remove(s *Sample) {
	if s == nil || s.list != l {
		return
	}
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		l.tail = s.prev
	}
	s.prev, s.next, s.list = nil, nil, nil
	l.size--
}

// Clear drops every sample. The insertion counter keeps running so that
// sample logs can tell epochs apart.
func (l *Samples) Clear() {
	for s := l.head; s != nil; {
		next := s.next
		s.prev, s.next, s.list = nil, nil, nil
		s = next
	}
	l.head, l.tail, l.size = nil, nil, 0
}

// Slice copies the samples in [start, end) into a new slice. A nil end means
// the tail of the sequence.
func (l *Samples) Slice(start, end *Sample) []Sample {
	var out []Sample
	for s := start; s != nil && s != end; s = s.next {
		out = append(out, Sample{Arrival: s.Arrival, Clock: s.Clock, Offset: s.Offset, Seq: s.Seq})
	}
	return out
}

// SetOffset computes the offset of s relative to head for a remote clock
// running at freq Hz.
func SetOffset(s, head *Sample, freq int) {
	s.Offset.X = s.Arrival - head.Arrival
	ticks := float64(s.Clock - head.Clock)
	s.Offset.Y = (ticks/float64(freq) - s.Offset.X) * 1000
}
