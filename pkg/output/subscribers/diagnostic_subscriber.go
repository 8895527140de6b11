// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package subscribers

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vulntor/skewprint/pkg/identity"
	"github.com/vulntor/skewprint/pkg/output"
)

// Lipgloss styles for diagnostic messages
var (
	// Skew change style - cyan
	skewStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	// Similar hosts style - bright green
	similarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	// Active snapshot style - blue
	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33"))

	// Calibration result style - yellow
	calibrationStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("11"))

	// Generic diagnostic style - gray
	diagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	metaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// DiagnosticSubscriber renders diagnostics, active-host snapshots and skew
// changes for humans, based on verbosity level.
//
// Verbosity levels:
//   - LevelNormal (0): diagnostics only
//   - LevelVerbose (1): skew changes and active snapshots
//   - LevelDebug (2): debug diagnostics
type DiagnosticSubscriber struct {
	level        output.OutputLevel
	writer       io.Writer
	colorEnabled bool
}

// NewDiagnosticSubscriber creates a new DiagnosticSubscriber.
func NewDiagnosticSubscriber(level output.OutputLevel, writer io.Writer, colored bool) *DiagnosticSubscriber {
	return &DiagnosticSubscriber{
		level:        level,
		writer:       writer,
		colorEnabled: colored,
	}
}

// Name returns the subscriber identifier.
func (s *DiagnosticSubscriber) Name() string {
	return "diagnostic-subscriber"
}

// ShouldHandle reports whether the event is within the subscriber's level.
// Skew changes need at least LevelVerbose.
func (s *DiagnosticSubscriber) ShouldHandle(event output.OutputEvent) bool {
	if event.Type == output.EventSkewChange {
		return s.level >= output.LevelVerbose
	}
	return event.Level <= s.level
}

// Handle renders event.
func (s *DiagnosticSubscriber) Handle(event output.OutputEvent) {
	var line string
	var style lipgloss.Style

	switch event.Type {
	case output.EventSkewChange:
		line, style = describeChange(event.Report), skewStyle
		if len(event.Report.Similar) > 0 {
			style = similarStyle
		}
	case output.EventActive:
		line, style = describeActive(event.Source, event.Active), activeStyle
	default:
		line, style = fmt.Sprintf("%s %s %s", getLevelPrefix(event.Level), event.Timestamp.Format("15:04:05"), event.Message), diagStyle
		if strings.HasPrefix(event.Message, "Calibration") {
			style = calibrationStyle
		}
	}

	if s.colorEnabled {
		line = style.Render(line)
	}
	fmt.Fprintln(s.writer, line)

	if len(event.Metadata) > 0 {
		meta := fmt.Sprintf("    %+v", event.Metadata)
		if s.colorEnabled {
			meta = metaStyle.Render(meta)
		}
		fmt.Fprintln(s.writer, meta)
	}
}

func describeChange(rep identity.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  [%s] %s", rep.Source, rep.Key)
	if rep.Frequency > 0 {
		fmt.Fprintf(&b, " %d Hz", rep.Frequency)
	}
	segments := rep.History.Segments()
	if len(segments) > 0 {
		fmt.Fprintf(&b, " skew %.6f ms/s", segments[len(segments)-1].Alpha)
		if len(segments) > 1 {
			fmt.Fprintf(&b, " (%d segments)", len(segments))
		}
	}
	if len(rep.Similar) > 0 {
		fmt.Fprintf(&b, " similar to %s", strings.Join(rep.Similar, ", "))
	}
	return b.String()
}

func describeActive(source string, reports []identity.Report) string {
	return fmt.Sprintf("  [%s] %d active hosts", source, len(reports))
}

// getLevelPrefix returns the display prefix for a given output level.
func getLevelPrefix(level output.OutputLevel) string {
	switch level {
	case output.LevelVerbose:
		return "[VERBOSE]"
	case output.LevelDebug:
		return "[DEBUG]"
	default:
		return "[INFO]"
	}
}
