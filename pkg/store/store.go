// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package store keeps host snapshots in a SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vulntor/skewprint/pkg/identity"
	"github.com/vulntor/skewprint/pkg/version"
)

// DefaultDBFile is the database file name inside the workspace data dir.
const DefaultDBFile = "skews.db"

// Store persists the reports of a capture session. It implements
// identity.Listener and identity.ActiveSink.
type Store struct {
	db  *gorm.DB
	sql *sql.DB
	log zerolog.Logger

	mu      sync.Mutex
	session *Session
	closed  bool
}

// Open opens or creates the database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	// SQLite serializes writers anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Session{}, &Host{}, &Segment{}, &Similar{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &Store{
		db:  db,
		sql: sqlDB,
		log: log.With().Str("component", "store").Logger(),
	}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sql.Close()
}

// StartSession opens a new capture session that subsequent reports belong to.
func (s *Store) StartSession(label string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Session{}, ErrClosed
	}

	sess := Session{ID: uuid.NewString(), Label: label, Version: version.Version, StartedAt: time.Now().UTC()}
	if err := s.db.Create(&sess).Error; err != nil {
		return Session{}, fmt.Errorf("creating session: %w", err)
	}
	s.session = &sess
	s.log.Debug().Str("session", sess.ID).Str("label", label).Msg("session started")
	return sess, nil
}

// SkewChanged stores a report. Failures are logged.
func (s *Store) SkewChanged(rep identity.Report) {
	if err := s.SaveReport(rep, true); err != nil {
		s.log.Warn().Err(err).Str("host", rep.Key).Msg("cannot store report")
	}
}

// SaveActive refreshes the active flag of every host of source. Failures
// are logged.
func (s *Store) SaveActive(source string, reports []identity.Report) {
	if err := s.SaveActiveReports(source, reports); err != nil {
		s.log.Warn().Err(err).Str("source", source).Msg("cannot store active hosts")
	}
}

// SaveReport upserts the snapshot of one host.
func (s *Store) SaveReport(rep identity.Report, active bool) error {
	sessionID, err := s.sessionID()
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return saveReport(tx, sessionID, rep, active)
	})
}

// SaveActiveReports marks exactly the given hosts of source as active.
func (s *Store) SaveActiveReports(source string, reports []identity.Report) error {
	sessionID, err := s.sessionID()
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Host{}).
			Where("session_id = ? AND source = ?", sessionID, source).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("clearing active hosts: %w", err)
		}
		for _, rep := range reports {
			if err := saveReport(tx, sessionID, rep, true); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) sessionID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if s.session == nil {
		return "", &InvalidInputError{Field: "session", Reason: "no session started"}
	}
	return s.session.ID, nil
}

func saveReport(tx *gorm.DB, sessionID string, rep identity.Report, active bool) error {
	if rep.Key == "" {
		return &InvalidInputError{Field: "key", Reason: "empty host key"}
	}

	var h Host
	err := tx.Where("session_id = ? AND source = ? AND host_key = ?", sessionID, rep.Source, rep.Key).First(&h).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		h = Host{SessionID: sessionID, Source: rep.Source, Key: rep.Key}
	case err != nil:
		return fmt.Errorf("querying host: %w", err)
	}

	h.Address = rep.Address
	h.Port = rep.Port
	h.Frequency = rep.Frequency
	h.SampleCount = rep.SampleCount
	h.LastSeen = unixTime(rep.LastSeen)
	h.Active = active
	h.Skew = 0
	if alpha := rep.History.LastAlpha(); !math.IsNaN(alpha) {
		h.Skew = alpha
	}
	if err := tx.Save(&h).Error; err != nil {
		return fmt.Errorf("saving host: %w", err)
	}

	if err := tx.Where("host_id = ?", h.ID).Delete(&Segment{}).Error; err != nil {
		return fmt.Errorf("clearing segments: %w", err)
	}
	if err := tx.Where("host_id = ?", h.ID).Delete(&Similar{}).Error; err != nil {
		return fmt.Errorf("clearing similar identities: %w", err)
	}

	var segments []Segment
	for i, atom := range rep.History.Segments() {
		segments = append(segments, Segment{
			HostID:        h.ID,
			Position:      i,
			Alpha:         atom.Alpha,
			Beta:          atom.Beta,
			StartTime:     atom.StartTime,
			EndTime:       atom.EndTime,
			RelativeStart: atom.RelativeStart,
			RelativeEnd:   atom.RelativeEnd,
		})
	}
	if len(segments) > 0 {
		if err := tx.Create(&segments).Error; err != nil {
			return fmt.Errorf("saving segments: %w", err)
		}
	}

	var similar []Similar
	for _, name := range rep.Similar {
		similar = append(similar, Similar{HostID: h.ID, Name: name})
	}
	if len(similar) > 0 {
		if err := tx.Create(&similar).Error; err != nil {
			return fmt.Errorf("saving similar identities: %w", err)
		}
	}
	return nil
}

// Sessions lists all sessions, newest first.
func (s *Store) Sessions() ([]Session, error) {
	var sessions []Session
	if err := s.db.Order("started_at desc").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// LatestSession returns the most recently started session.
func (s *Store) LatestSession() (Session, error) {
	var sess Session
	err := s.db.Order("started_at desc").First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Session{}, &NotFoundError{ResourceType: "session", ResourceID: "latest"}
	}
	if err != nil {
		return Session{}, fmt.Errorf("querying sessions: %w", err)
	}
	return sess, nil
}

// Hosts returns the hosts of a session with their segments and similar
// identities, ordered by source and key.
func (s *Store) Hosts(sessionID string) ([]Host, error) {
	var count int64
	if err := s.db.Model(&Session{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	if count == 0 {
		return nil, &NotFoundError{ResourceType: "session", ResourceID: sessionID}
	}

	var hosts []Host
	err := s.db.
		Preload("Segments", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Similar", func(db *gorm.DB) *gorm.DB { return db.Order("name") }).
		Where("session_id = ?", sessionID).
		Order("source").Order("host_key").
		Find(&hosts).Error
	if err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}
	return hosts, nil
}

func unixTime(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
