// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package metrics holds the Prometheus collectors for synchronization passes.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "popmirror"

// Pass results.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultError   = "error"
)

type Metrics struct {
	passes   *prometheus.CounterVec
	stored   *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Synchronization passes by result.",
		}, []string{"account", "result"}),
		stored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_stored_total",
			Help:      "Messages fetched and stored.",
		}, []string{"account"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_failures_total",
			Help:      "Messages that failed to fetch, parse, or store.",
		}, []string{"account"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a synchronization pass.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"account"}),
	}
	reg.MustRegister(m.passes, m.stored, m.failures, m.duration)
	return m
}

// ObservePass records one pass. err is the pass-level error, if any.
func (m *Metrics) ObservePass(account string, stored, failed int, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := ResultOK
	switch {
	case err != nil:
		result = ResultError
	case failed > 0:
		result = ResultPartial
	}
	m.passes.WithLabelValues(account, result).Inc()
	m.stored.WithLabelValues(account).Add(float64(stored))
	m.failures.WithLabelValues(account).Add(float64(failed))
	m.duration.WithLabelValues(account).Observe(d.Seconds())
}
