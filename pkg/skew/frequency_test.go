// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package skew

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapFrequency(t *testing.T) {
	tests := []struct {
		avg  float64
		want int
	}{
		{969, 969},
		{970, 1000},
		{971, 1000},
		{1029, 1000},
		{1030, 1000},
		{1031, 1031},
		{94.4, 94},
		{95, 100},
		{104.6, 100},
		{106, 106},
		{229, 229},
		{231.2, 250},
		{270, 250},
		{271, 271},
		{9990000, 10000000},
		{10010001, 10010001},
		{512.5, 513},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SnapFrequency(tt.avg), "avg %v", tt.avg)
	}
}

func TestImplausibleFrequency(t *testing.T) {
	assert.False(t, ImplausibleFrequency(1000))
	assert.False(t, ImplausibleFrequency(10000))
	assert.False(t, ImplausibleFrequency(10000000))
	assert.True(t, ImplausibleFrequency(10001))
	assert.True(t, ImplausibleFrequency(-20000))
	assert.True(t, ImplausibleFrequency(2000000))
}

func TestEstimateFrequency(t *testing.T) {
	var l Samples
	require.Zero(t, EstimateFrequency(&l))

	// 30 s apart: only samples past the first minute count.
	for i := 0; i <= 11; i++ {
		sec := float64(i * 30)
		l.PushBack(1000+sec, uint64(5000+sec*1002))
	}
	require.Zero(t, EstimateFrequency(&l), "only nine samples beyond the warmup")

	l.PushBack(1000+12*30, uint64(5000+12*30*1002))
	require.Equal(t, 1000, EstimateFrequency(&l))
}

func TestEstimateFrequency_Uncommon(t *testing.T) {
	var l Samples
	for i := 0; i < 40; i++ {
		sec := float64(i * 5)
		l.PushBack(sec, uint64(sec*512))
	}
	require.Equal(t, 512, EstimateFrequency(&l))
}
