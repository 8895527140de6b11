// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package store

import "time"

// Session is one capture run.
type Session struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Label     string
	Version   string // skewprint version that wrote the session
	StartedAt time.Time
}

// Host is the latest snapshot of one tracked host in a session.
type Host struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"type:varchar(36);uniqueIndex:idx_host_key,priority:1"`
	Source      string `gorm:"uniqueIndex:idx_host_key,priority:2"`
	Key         string `gorm:"column:host_key;uniqueIndex:idx_host_key,priority:3"`
	Address     string `gorm:"index:idx_host_address"`
	Port        uint16
	Frequency   int
	SampleCount int
	LastSeen    time.Time
	Active      bool
	Skew        float64 // last confirmed skew, 0 with an empty history
	UpdatedAt   time.Time

	Segments []Segment `gorm:"constraint:OnDelete:CASCADE"`
	Similar  []Similar `gorm:"constraint:OnDelete:CASCADE"`
}

// Segment is one atom of a host's skew history.
type Segment struct {
	ID            uint `gorm:"primaryKey;autoIncrement"`
	HostID        uint `gorm:"index:idx_segment_host"`
	Position      int
	Alpha         float64
	Beta          float64
	StartTime     float64
	EndTime       float64
	RelativeStart float64
	RelativeEnd   float64
}

// Similar names an identity similar to the host.
type Similar struct {
	ID     uint `gorm:"primaryKey;autoIncrement"`
	HostID uint `gorm:"index:idx_similar_host"`
	Name   string
}
