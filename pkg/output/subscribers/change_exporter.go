// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package subscribers

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/vulntor/skewprint/pkg/output"
)

// ChangeExporter writes one line per skew change:
//
//	source<TAB>address<TAB>similar...
//
// Addresses carry the port when hosts are keyed by address and port.
type ChangeExporter struct {
	writer  io.Writer
	source  *color.Color
	similar *color.Color
}

// NewChangeExporter creates an exporter. Colors are only used when colored
// is set; the line layout is the same either way.
func NewChangeExporter(writer io.Writer, colored bool) *ChangeExporter {
	e := &ChangeExporter{
		writer:  writer,
		source:  color.New(color.FgCyan),
		similar: color.New(color.FgGreen, color.Bold),
	}
	if colored {
		e.source.EnableColor()
		e.similar.EnableColor()
	} else {
		e.source.DisableColor()
		e.similar.DisableColor()
	}
	return e
}

// Name returns the subscriber identifier.
func (e *ChangeExporter) Name() string {
	return "change-exporter"
}

// ShouldHandle accepts skew changes only.
func (e *ChangeExporter) ShouldHandle(event output.OutputEvent) bool {
	return event.Type == output.EventSkewChange
}

// Handle writes the line for event.
func (e *ChangeExporter) Handle(event output.OutputEvent) {
	rep := event.Report
	fields := []string{e.source.Sprint(rep.Source), rep.Key}
	for _, name := range rep.Similar {
		fields = append(fields, e.similar.Sprint(name))
	}
	fmt.Fprintln(e.writer, strings.Join(fields, "\t"))
}
