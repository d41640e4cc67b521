// SPDX-FileCopyrightText: Copyright 2026 Preview Labs, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry defines the prometheus metrics exposed by previewd.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument used by the orchestrator. Each process
// constructs its own set against a private registry so tests never collide
// on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	// ProvisionTotal counts provisioning attempts by outcome
	// (provisioned, already_claimed, capacity_exhausted, failed).
	ProvisionTotal *prometheus.CounterVec

	// ProvisionDuration observes end-to-end provisioning latency.
	ProvisionDuration prometheus.Histogram

	// ActiveSchemas gauges the last observed count of live preview schemas.
	ActiveSchemas prometheus.Gauge

	// ClientCacheSize gauges the current number of cached schema clients.
	ClientCacheSize prometheus.Gauge

	// ClientCacheEvictions counts evictions by reason (lru, idle, drop).
	ClientCacheEvictions *prometheus.CounterVec

	// SessionCacheLookups counts lookups by result (hit, miss).
	SessionCacheLookups *prometheus.CounterVec

	// CircuitState gauges the authority circuit breaker state
	// (0 closed, 1 half-open, 2 open).
	CircuitState prometheus.Gauge

	// OrphansDropped counts schemas removed by the orphan sweeper.
	OrphansDropped prometheus.Counter

	// SessionsExpired counts sessions retired by the expiry sweeper.
	SessionsExpired prometheus.Counter
}

// NewMetrics builds the metric set for the named subsystem
// ("authority" or "gateway").
func NewMetrics(subsystem string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: "previewd", Subsystem: subsystem, Name: name, Help: help}
	}
	gauge := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: "previewd", Subsystem: subsystem, Name: name, Help: help}
	}

	m := &Metrics{
		registry: registry,
		ProvisionTotal: prometheus.NewCounterVec(
			factory("provision_total", "Provisioning attempts by outcome."), []string{"outcome"}),
		ProvisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "previewd", Subsystem: subsystem,
			Name:    "provision_duration_seconds",
			Help:    "End-to-end schema provisioning latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ActiveSchemas:   prometheus.NewGauge(gauge("active_schemas", "Live preview schemas at last probe.")),
		ClientCacheSize: prometheus.NewGauge(gauge("client_cache_size", "Cached schema-pinned clients.")),
		ClientCacheEvictions: prometheus.NewCounterVec(
			factory("client_cache_evictions_total", "Client cache evictions by reason."), []string{"reason"}),
		SessionCacheLookups: prometheus.NewCounterVec(
			factory("session_cache_lookups_total", "Session cache lookups by result."), []string{"result"}),
		CircuitState:    prometheus.NewGauge(gauge("authority_circuit_state", "Circuit state: 0 closed, 1 half-open, 2 open.")),
		OrphansDropped:  prometheus.NewCounter(factory("orphans_dropped_total", "Schemas removed by the orphan sweeper.")),
		SessionsExpired: prometheus.NewCounter(factory("sessions_expired_total", "Sessions retired by the expiry sweeper.")),
	}

	registry.MustRegister(
		m.ProvisionTotal, m.ProvisionDuration, m.ActiveSchemas,
		m.ClientCacheSize, m.ClientCacheEvictions, m.SessionCacheLookups,
		m.CircuitState, m.OrphansDropped, m.SessionsExpired,
	)
	return m
}

// Handler returns the /metrics endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
