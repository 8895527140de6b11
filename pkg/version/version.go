// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package version provides version metadata for the application.
package version

import (
	"fmt"
	"runtime"
	"time"

	"github.com/Masterminds/semver/v3"
)

// These variables are typically injected at build time using -ldflags
var (
	// Version holds the current version of skewprint.
	Version = "dev"
	// Commit holds the current version commit of skewprint.
	Commit = "none"
	// BuildDate holds the build date of skewprint.
	BuildDate = "unknown"
	// StartDate holds the start date of skewprint.
	StartDate = time.Now()
)

// Struct returns version information in a structured format.
type Struct struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Info returns a formatted version string.
func Info() string {
	return fmt.Sprintf("skewprint %s (commit: %s, date: %s)", Version, Commit, BuildDate)
}

// Get returns version information as a Struct.
func Get() Struct {
	return Struct{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Compatible reports whether data written by a skewprint of version other
// can be read by this build. Development builds and unversioned data are
// always compatible; otherwise the major versions must match and other must
// not be newer.
func Compatible(other string) (bool, error) {
	if other == "" || other == "dev" || Version == "dev" {
		return true, nil
	}
	current, err := semver.NewVersion(Version)
	if err != nil {
		return false, fmt.Errorf("parse build version %q: %w", Version, err)
	}
	constraint, err := semver.NewConstraint(fmt.Sprintf("^%d.0.0-0, <= %s", current.Major(), current.String()))
	if err != nil {
		return false, fmt.Errorf("build version constraint: %w", err)
	}
	written, err := semver.NewVersion(other)
	if err != nil {
		return false, fmt.Errorf("parse data version %q: %w", other, err)
	}
	return constraint.Check(written), nil
}
