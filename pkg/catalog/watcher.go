// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a catalog whenever its file changes. Bursts of writes are
// coalesced into a single reload.
type Watcher struct {
	catalog       *Catalog
	watcher       *fsnotify.Watcher
	debounceDelay time.Duration
	logger        zerolog.Logger

	// mu protects the debounce timer
	mu            sync.Mutex
	debounceTimer *time.Timer
	onReload      func(int)
}

// NewWatcher creates a watcher for a file-backed catalog.
func NewWatcher(c *Catalog, logger zerolog.Logger) (*Watcher, error) {
	if c.Path() == "" {
		return nil, errors.New("catalog has no backing file")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		catalog:       c,
		watcher:       w,
		debounceDelay: 100 * time.Millisecond,
		logger:        logger.With().Str("component", "catalog.watcher").Logger(),
	}, nil
}

// OnReload registers a callback run after every successful reload with the
// new number of entries.
func (w *Watcher) OnReload(fn func(entries int)) {
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// Start watches until ctx is canceled. Run it in its own goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	// fsnotify watches directories; the file may not exist yet.
	dir := filepath.Dir(w.catalog.Path())
	file := filepath.Base(w.catalog.Path())

	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error().Err(err).Str("dir", dir).Msg("Failed to watch catalog directory")
		return err
	}
	w.logger.Debug().Str("file", w.catalog.Path()).Dur("debounce", w.debounceDelay).Msg("Watching catalog")

	defer func() {
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("Error closing watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != file {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.logger.Debug().Str("op", event.Op.String()).Msg("Catalog changed")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, func() {
		if err := w.catalog.Reload(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to reload catalog")
			return
		}
		n := w.catalog.Len()
		w.logger.Info().Int("entries", n).Msg("Catalog reloaded")

		w.mu.Lock()
		fn := w.onReload
		w.mu.Unlock()
		if fn != nil {
			fn(n)
		}
	})
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
