// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package workspace manages the directory that holds sample logs, the
// snapshot database and the saved identities catalog.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// EnvRoot overrides the default workspace root.
const EnvRoot = "SKEWPRINT_WORKSPACE"

// Workspace subdirectories.
const (
	LogDir  = "log"  // per-host sample logs, one subdirectory per source
	DataDir = "data" // snapshot database
)

var defaultSubdirs = []string{
	LogDir,
	DataDir,
}

var (
	userHomeDir = os.UserHomeDir
	getGOOS     = func() string { return runtime.GOOS }
)

// Layout resolves files inside a prepared workspace.
type Layout struct {
	Root string
}

// Logs returns the sample log directory.
func (l Layout) Logs() string { return filepath.Join(l.Root, LogDir) }

// Data returns the database directory.
func (l Layout) Data() string { return filepath.Join(l.Root, DataDir) }

// Database resolves a database file name against the data directory.
func (l Layout) Database(name string) string { return Resolve(l.Data(), name) }

// File resolves name against the workspace root.
func (l Layout) File(name string) string { return Resolve(l.Root, name) }

// Prepare ensures the workspace root and its subdirectories exist and
// returns the absolute root. An empty root selects the default location.
func Prepare(root string) (string, error) {
	if root == "" {
		var err error
		if root, err = defaultRoot(); err != nil {
			return "", err
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o750); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}
	for _, sub := range defaultSubdirs {
		if err := os.MkdirAll(filepath.Join(absRoot, sub), 0o750); err != nil {
			return "", fmt.Errorf("create workspace subdir %q: %w", sub, err)
		}
	}
	return absRoot, nil
}

// Resolve returns name below dir unless name is absolute or empty.
func Resolve(dir, name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

type ctxKey struct{}

// WithContext stores the prepared workspace root on ctx.
func WithContext(ctx context.Context, root string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey{}, root)
}

// FromContext extracts the workspace root from ctx.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	root, ok := ctx.Value(ctxKey{}).(string)
	return root, ok && root != ""
}

// defaultRoot follows the XDG data directory on Unix and Application
// Support on macOS. Live capture needs libpcap, so other platforms fall
// back to the Unix layout.
func defaultRoot() (string, error) {
	if dir := os.Getenv(EnvRoot); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" && getGOOS() != "darwin" {
		return filepath.Join(xdg, "skewprint"), nil
	}

	home, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if home == "" {
		return "", errors.New("cannot determine workspace directory")
	}
	if getGOOS() == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Skewprint"), nil
	}
	return filepath.Join(home, ".local", "share", "skewprint"), nil
}

// Subdirectories returns the workspace subdirectories.
func Subdirectories() []string {
	subs := make([]string, len(defaultSubdirs))
	copy(subs, defaultSubdirs)
	return subs
}
