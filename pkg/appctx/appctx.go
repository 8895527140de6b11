// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package appctx carries process-wide collaborators on a command context.
package appctx

import (
	"context"

	"github.com/vulntor/skewprint/pkg/config"
	"github.com/vulntor/skewprint/pkg/output"
)

type key string

const (
	configKey key = "skewprint.config.manager"
	streamKey key = "skewprint.output.stream"
)

// WithConfig stores the shared config manager on context.
func WithConfig(ctx context.Context, manager *config.Manager) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey, manager)
}

// Config retrieves the shared config manager from context.
func Config(ctx context.Context) (*config.Manager, bool) {
	if ctx == nil {
		return nil, false
	}
	mgr, ok := ctx.Value(configKey).(*config.Manager)
	return mgr, ok && mgr != nil
}

// WithStream stores the output event stream on context.
func WithStream(ctx context.Context, stream *output.OutputEventStream) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, streamKey, stream)
}

// Stream retrieves the output event stream from context.
func Stream(ctx context.Context) (*output.OutputEventStream, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(streamKey).(*output.OutputEventStream)
	return s, ok && s != nil
}
