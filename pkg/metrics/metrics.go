// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package metrics exposes tracking activity as Prometheus metrics.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vulntor/skewprint/pkg/identity"
)

// Metric names and help texts.
const (
	ObservationsN = "skewprint_observations_total"
	ObservationsH = "The total number of clock readings by source and outcome"

	SkewChangesN = "skewprint_skew_changes_total"
	SkewChangesH = "The total number of published skew histories by source"

	ActiveHostsN = "skewprint_active_hosts"
	ActiveHostsH = "The number of hosts tracked by source at the last snapshot"

	CorrelatedHostsN = "skewprint_correlated_hosts"
	CorrelatedHostsH = "The number of active hosts with at least one similar identity"

	HostSkewN = "skewprint_host_skew_ms_per_second"
	HostSkewH = "The last confirmed clock skew of an active host"
)

// Collector records tracking activity. It is an identity.Listener, an
// identity.ActiveSink and a tracking outcome observer.
type Collector struct {
	registry *prometheus.Registry

	observations *prometheus.CounterVec
	skewChanges  *prometheus.CounterVec
	activeHosts  *prometheus.GaugeVec
	correlated   *prometheus.GaugeVec
	hostSkew     *prometheus.GaugeVec
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		observations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: ObservationsN,
			Help: ObservationsH,
		}, []string{"source", "outcome"}),
		skewChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: SkewChangesN,
			Help: SkewChangesH,
		}, []string{"source"}),
		activeHosts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: ActiveHostsN,
			Help: ActiveHostsH,
		}, []string{"source"}),
		correlated: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: CorrelatedHostsN,
			Help: CorrelatedHostsH,
		}, []string{"source"}),
		hostSkew: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: HostSkewN,
			Help: HostSkewH,
		}, []string{"source", "host"}),
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Observed counts one clock reading.
func (c *Collector) Observed(source string, outcome identity.Outcome) {
	c.observations.WithLabelValues(source, outcome.String()).Inc()
}

// SkewChanged counts a published history and records its last skew.
func (c *Collector) SkewChanged(rep identity.Report) {
	c.skewChanges.WithLabelValues(rep.Source).Inc()
	if alpha := rep.History.LastAlpha(); !math.IsNaN(alpha) {
		c.hostSkew.WithLabelValues(rep.Source, rep.Key).Set(alpha)
	}
}

// SaveActive replaces the per-source host gauges with the snapshot.
func (c *Collector) SaveActive(source string, reports []identity.Report) {
	c.activeHosts.WithLabelValues(source).Set(float64(len(reports)))

	correlated := 0
	c.hostSkew.DeletePartialMatch(prometheus.Labels{"source": source})
	for _, rep := range reports {
		if len(rep.Similar) > 0 {
			correlated++
		}
		if alpha := rep.History.LastAlpha(); !math.IsNaN(alpha) {
			c.hostSkew.WithLabelValues(source, rep.Key).Set(alpha)
		}
	}
	c.correlated.WithLabelValues(source).Set(float64(correlated))
}
