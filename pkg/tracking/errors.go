// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package tracking

import (
	"errors"
	"fmt"
)

// Sentinel errors for common CLI failures.
var (
	// ErrNoSource indicates that neither a capture nor a probe source was configured.
	ErrNoSource = errors.New("no sample source configured")

	// ErrInvalidConfig indicates a configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCaptureFailed indicates that a packet source or prober stopped with an error.
	ErrCaptureFailed = errors.New("capture failed")
)

// Error codes used by the CLI.
const (
	errorCodeNoSource      = "NO_SOURCE"
	errorCodeInvalidConfig = "INVALID_CONFIG"
	errorCodeCapture       = "CAPTURE_FAILURE"
	errorCodeFailure       = "TRACKING_FAILURE"
)

// codedError wraps an error with an explicit error code.
type codedError struct {
	error
	code string
}

func (e *codedError) Error() string {
	return e.error.Error()
}

func (e *codedError) Unwrap() error {
	return e.error
}

func (e *codedError) Code() string {
	return e.code
}

// WithErrorCode wraps err with a specific CLI error code.
func WithErrorCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &codedError{error: err, code: code}
}

// ErrorCode resolves an error into a CLI error code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		if code := coded.Code(); code != "" {
			return code
		}
	}

	switch {
	case errors.Is(err, ErrNoSource):
		return errorCodeNoSource
	case errors.Is(err, ErrInvalidConfig):
		return errorCodeInvalidConfig
	case errors.Is(err, ErrCaptureFailed):
		return errorCodeCapture
	}

	return errorCodeFailure
}

// ExitCode maps errors to CLI exit codes. Usage problems exit with 2.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch ErrorCode(err) {
	case errorCodeNoSource,
		errorCodeInvalidConfig:
		return 2
	default:
		return 1
	}
}

// Suggestions provides CLI hints for tracking errors.
func Suggestions(err error) []string {
	if err == nil {
		return nil
	}

	switch ErrorCode(err) {
	case errorCodeNoSource:
		return []string{
			"Capture on an interface:    skewprint capture eth0",
			"Read a capture file:        skewprint capture --file dump.pcap",
			"Probe hosts actively:       skewprint probe 10.0.0.1",
		}
	case errorCodeInvalidConfig:
		return []string{
			"Check the config file:      skewprint --config skewprint.yaml ...",
			"Run help for options:       skewprint --help",
		}
	case errorCodeCapture:
		return []string{
			"Live capture and probing need raw socket privileges (root or CAP_NET_RAW)",
			"Retry with verbose logs:    skewprint --debug ...",
		}
	default:
		return []string{
			"Retry with verbose logs:    skewprint --debug ...",
		}
	}
}

// NewCaptureError annotates a failed sample source.
func NewCaptureError(source string, reason error) error {
	if reason == nil {
		return nil
	}
	return WithErrorCode(fmt.Errorf("%w: %s: %w", ErrCaptureFailed, source, reason), errorCodeCapture)
}

// NewConfigError annotates an unusable configuration value.
func NewConfigError(key string, reason error) error {
	return WithErrorCode(fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, reason), errorCodeInvalidConfig)
}
