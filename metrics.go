// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the prometheus collectors of a scheduler. A nil *metrics is valid and
// records nothing.
type metrics struct {
	units        *prometheus.GaugeVec
	pendingJobs  prometheus.Gauge
	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	replacements *prometheus.CounterVec
}

func newMetrics(namespace string, reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &metrics{
		units: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_units",
				Help:      "Number of execution units per pool and state",
			},
			[]string{"pool", "state"},
		),
		pendingJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_jobs",
				Help:      "Number of dispatched jobs waiting for a response",
			},
		),
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Total number of settled jobs by final status",
			},
			[]string{"pool", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Time from submission to settlement of dispatched jobs",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
			[]string{"pool", "status"},
		),
		replacements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_replacements_total",
				Help:      "Crashed units replaced, by outcome",
			},
			[]string{"pool", "result"},
		),
	}

	reg.MustRegister(
		m.units,
		m.pendingJobs,
		m.jobsTotal,
		m.jobDuration,
		m.replacements,
	)

	return m
}

func (m *metrics) observePool(p *unitPool) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(p.id, UnitAvailable.String()).Set(float64(len(p.available)))
	m.units.WithLabelValues(p.id, UnitBusy.String()).Set(float64(len(p.busy)))
}

func (m *metrics) forgetPool(id string) {
	if m == nil {
		return
	}
	m.units.DeleteLabelValues(id, UnitAvailable.String())
	m.units.DeleteLabelValues(id, UnitBusy.String())
}

func (m *metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pendingJobs.Set(float64(n))
}

func (m *metrics) recordJob(pool string, status JobStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(pool, status.String()).Inc()
	if d > 0 {
		m.jobDuration.WithLabelValues(pool, status.String()).Observe(d.Seconds())
	}
}

func (m *metrics) recordReplacement(pool string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.replacements.WithLabelValues(pool, result).Inc()
}
