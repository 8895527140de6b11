// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package output

import (
	"time"

	"github.com/vulntor/skewprint/pkg/identity"
)

// EventType classifies output events.
type EventType int

const (
	// EventSkewChange carries a published skew history and its similar hosts.
	EventSkewChange EventType = iota
	// EventActive carries the periodic snapshot of active hosts of one source.
	EventActive
	// EventDiag is a diagnostic message for humans.
	EventDiag
)

// OutputLevel is the verbosity an event needs to be shown.
type OutputLevel int

const (
	LevelNormal OutputLevel = iota
	LevelVerbose
	LevelDebug
)

// OutputEvent is one item dispatched through an OutputEventStream.
type OutputEvent struct {
	Type      EventType
	Level     OutputLevel
	Timestamp time.Time
	Source    string
	Message   string
	Report    identity.Report
	Active    []identity.Report
	Metadata  map[string]any
}
