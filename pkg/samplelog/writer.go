// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package samplelog writes and reads the per-host sample logs.
//
// A log holds one sample per line:
//
//	elapsed<TAB>offset<TAB>arrival<TAB>clock
//
// Older logs carry only the first two columns.
package samplelog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/vulntor/skewprint/pkg/skew"
)

// Writer stores sample logs below a directory, one file per host key.
type Writer struct {
	dir string
}

// NewWriter creates dir if needed and returns a writer for it.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sample log directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Path returns the log file of key.
func (w *Writer) Path(key string) string {
	return filepath.Join(w.dir, sanitize(key)+".log")
}

// Rewrite replaces the log of key with samples.
func (w *Writer) Rewrite(key string, samples []skew.Sample) error {
	return w.write(key, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, samples)
}

// Append adds samples to the log of key.
func (w *Writer) Append(key string, samples []skew.Sample) error {
	return w.write(key, os.O_CREATE|os.O_WRONLY|os.O_APPEND, samples)
}

func (w *Writer) write(key string, flag int, samples []skew.Sample) error {
	path := w.Path(key)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	bw := bufio.NewWriter(f)
	for _, s := range samples {
		fmt.Fprintf(bw, "%.6f\t%.6f\t%.6f\t%d\n", s.Offset.X, s.Offset.Y, s.Arrival, s.Clock)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// sanitize keeps host keys (IPv4, IPv6, optional _port) usable as file names.
func sanitize(key string) string {
	return strings.NewReplacer("/", "_", ":", "-", "\\", "_").Replace(key)
}
