// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package samplelog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cast"

	"github.com/vulntor/skewprint/pkg/skew"
)

// Record is one parsed log line. Arrival and Clock are only set when Raw is
// true.
type Record struct {
	Offset  skew.Point
	Arrival float64
	Clock   uint64
	Raw     bool
}

// Read parses a sample log. Blank lines and lines starting with '#' are
// skipped.
func Read(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rec, err := parseLine(strings.Fields(text))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadFile parses the sample log at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func parseLine(fields []string) (Record, error) {
	if len(fields) != 2 && len(fields) != 4 {
		return Record{}, fmt.Errorf("expected 2 or 4 columns, got %d", len(fields))
	}

	var rec Record
	var err error
	if rec.Offset.X, err = cast.ToFloat64E(fields[0]); err != nil {
		return Record{}, fmt.Errorf("elapsed: %w", err)
	}
	if rec.Offset.Y, err = cast.ToFloat64E(fields[1]); err != nil {
		return Record{}, fmt.Errorf("offset: %w", err)
	}
	if len(fields) == 2 {
		return rec, nil
	}

	if rec.Arrival, err = cast.ToFloat64E(fields[2]); err != nil {
		return Record{}, fmt.Errorf("arrival: %w", err)
	}
	if rec.Clock, err = cast.ToUint64E(fields[3]); err != nil {
		return Record{}, fmt.Errorf("clock: %w", err)
	}
	rec.Raw = true
	return rec, nil
}

// Points returns the offsets of records.
func Points(records []Record) []skew.Point {
	points := make([]skew.Point, len(records))
	for i, r := range records {
		points[i] = r.Offset
	}
	return points
}
