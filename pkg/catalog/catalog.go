// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package catalog holds the saved identities that live hosts are matched
// against by skew.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Entry is one saved identity.
type Entry struct {
	Name      string  `yaml:"name"`
	Skew      float64 `yaml:"skew"`
	Address   string  `yaml:"address,omitempty"`
	Frequency int     `yaml:"frequency,omitempty"`
	Date      string  `yaml:"date,omitempty"`
}

type document struct {
	Computers []Entry `yaml:"computers"`
}

// Catalog is a set of saved identities loaded from a YAML file. It is safe
// for concurrent use: the watcher swaps entries while the tracker reads them.
type Catalog struct {
	path string

	mu      sync.RWMutex
	entries []Entry
}

// Load reads the catalog at path. A missing file yields an empty catalog.
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// New returns an in-memory catalog.
func New(entries ...Entry) *Catalog {
	return &Catalog{entries: entries}
}

// Path returns the backing file, if any.
func (c *Catalog) Path() string { return c.path }

// Reload re-reads the backing file.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.swap(nil)
			return nil
		}
		return fmt.Errorf("read catalog: %w", err)
	}

	entries, err := parse(data)
	if err != nil {
		return err
	}
	c.swap(entries)
	return nil
}

func parse(data []byte) ([]Entry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	entries := doc.Computers[:0]
	for _, e := range doc.Computers {
		if e.Name == "" || math.IsNaN(e.Skew) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *Catalog) swap(entries []Entry) {
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// Lookup returns the sorted names of entries whose skew differs from skew by
// less than threshold.
func (c *Catalog) Lookup(skew, threshold float64) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for _, e := range c.entries {
		if math.Abs(e.Skew-skew) < threshold {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Entries returns a copy of all entries.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Add inserts or replaces the entry with the same name.
func (c *Catalog) Add(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].Name == entry.Name {
			c.entries[i] = entry
			return
		}
	}
	c.entries = append(c.entries, entry)
}

// Save writes the catalog to path, or to its backing file when path is empty.
func (c *Catalog) Save(path string) error {
	if path == "" {
		path = c.path
	}
	if path == "" {
		return errors.New("catalog path not specified")
	}

	data, err := yaml.Marshal(document{Computers: c.Entries()})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
