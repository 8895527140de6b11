// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package output

import (
	"sync"
	"time"

	"github.com/vulntor/skewprint/pkg/identity"
)

// OutputSubscriber handles output events.
type OutputSubscriber interface {
	// Handle processes an output event.
	// Called synchronously by OutputEventStream.Emit().
	Handle(event OutputEvent)

	// Name returns a unique identifier for this subscriber.
	Name() string

	// ShouldHandle decides if this subscriber cares about this event.
	ShouldHandle(event OutputEvent) bool
}

// OutputEventStream is a synchronous event dispatcher. It is an
// identity.Listener and identity.ActiveSink, so registries can feed it
// directly.
type OutputEventStream struct {
	subscribers []OutputSubscriber
	mu          sync.RWMutex
	now         func() time.Time
}

// NewOutputEventStream creates a new event stream with no subscribers.
func NewOutputEventStream() *OutputEventStream {
	return &OutputEventStream{
		subscribers: make([]OutputSubscriber, 0, 4),
		now:         time.Now,
	}
}

// Subscribe registers a new subscriber to receive events.
// Subscribers are called in registration order.
func (s *OutputEventStream) Subscribe(sub OutputSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Emit dispatches an event to all registered subscribers.
// A zero Timestamp is set to the current time.
func (s *OutputEventStream) Emit(event OutputEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscribers {
		if sub.ShouldHandle(event) {
			sub.Handle(event)
		}
	}
}

// SkewChanged emits an EventSkewChange for rep.
func (s *OutputEventStream) SkewChanged(rep identity.Report) {
	s.Emit(OutputEvent{Type: EventSkewChange, Source: rep.Source, Report: rep})
}

// SaveActive emits an EventActive for the active hosts of source.
func (s *OutputEventStream) SaveActive(source string, reports []identity.Report) {
	s.Emit(OutputEvent{Type: EventActive, Level: LevelVerbose, Source: source, Active: reports})
}

// Diag emits a diagnostic message.
func (s *OutputEventStream) Diag(level OutputLevel, message string, metadata map[string]any) {
	s.Emit(OutputEvent{Type: EventDiag, Level: level, Message: message, Metadata: metadata})
}

// SubscriberCount returns the number of registered subscribers.
func (s *OutputEventStream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
