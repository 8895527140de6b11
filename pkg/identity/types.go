// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package identity

import (
	"strconv"

	"github.com/vulntor/skewprint/pkg/skew"
)

// Sample sources. Each source is tracked by its own Registry.
const (
	SourceTCP  = "tcp"
	SourceICMP = "icmp"
)

// Observation is one remote clock reading.
type Observation struct {
	Source  string
	Address string
	Port    uint16
	Arrival float64 // local capture time (s)
	Clock   uint64  // remote clock value (ticks)
}

// Key returns the registry key of the observation. With ports enabled every
// address_port pair is tracked on its own, which separates devices behind
// a NAT.
func (o Observation) Key(withPort bool) string {
	if !withPort {
		return o.Address
	}
	return o.Address + "_" + strconv.Itoa(int(o.Port))
}

// Report is the snapshot of one host handed to listeners.
type Report struct {
	Source      string
	Key         string
	Address     string
	Port        uint16
	Frequency   int
	SampleCount int
	LastSeen    float64
	History     skew.History
	Similar     []string
}

// Listener is notified when the published skew history of a host or its
// set of similar identities changes.
type Listener interface {
	SkewChanged(Report)
}

// ActiveSink receives periodic snapshots of all hosts that are still active.
type ActiveSink interface {
	SaveActive(source string, reports []Report)
}

// Catalog resolves a skew to the names of saved identities.
type Catalog interface {
	Lookup(skew, threshold float64) []string
}

// Outcome tells what Observe did with an observation.
type Outcome int

const (
	Accepted Outcome = iota
	Created
	Stale
	Restarted
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Created:
		return "created"
	case Stale:
		return "stale"
	case Restarted:
		return "restarted"
	default:
		return "unknown"
	}
}
