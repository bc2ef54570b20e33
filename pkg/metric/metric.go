// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metric exposes the process's counters/gauges/histograms directly
// through github.com/prometheus/client_golang, one registry per process.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters/gauges/histograms for the relay core.
type Metrics struct {
	registry *prometheus.Registry

	// Signal pool
	SignalsInserted prometheus.Counter
	SignalsDeduped  prometheus.Counter
	SignalsSampled  prometheus.Counter
	PoolSize        prometheus.Gauge

	// Puzzle / decrypt
	PuzzleFailures   prometheus.Counter
	RelayFailures    prometheus.Counter
	DecryptFailures  prometheus.Counter
	PuzzleDuration   prometheus.Histogram

	// Choreography
	ChoreographyOutcomes *prometheus.CounterVec
	ChoreographyDuration prometheus.Histogram

	// Proof builder
	ProofBuildFailures prometheus.Counter

	// Keyshare
	KeyshareAttempts *prometheus.CounterVec
}

// NewMetrics creates a new metrics instance backed by a fresh registry.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		SignalsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_signals_inserted_total",
			Help: "Total signals successfully inserted into the pool",
		}),
		SignalsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_signals_deduped_total",
			Help: "Total signals rejected as duplicates",
		}),
		SignalsSampled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_signals_sampled_total",
			Help: "Total signals removed from the pool via sample()",
		}),
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_pool_size",
			Help: "Current number of signals resident in the pool",
		}),
		PuzzleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_puzzle_failures_total",
			Help: "Total puzzle VM execution failures",
		}),
		RelayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_share_fetch_failures_total",
			Help: "Total failures fetching the relay key share",
		}),
		DecryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_decrypt_failures_total",
			Help: "Total AEAD decrypt failures for encrypted signals",
		}),
		PuzzleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_puzzle_decrypt_duration_seconds",
			Help:    "Time to execute puzzle + fetch share + decrypt",
			Buckets: prometheus.DefBuckets,
		}),
		ChoreographyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_choreography_outcomes_total",
			Help: "Choreography terminal outcomes by state",
		}, []string{"state"}),
		ChoreographyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_choreography_duration_seconds",
			Help:    "Time to run a full bond/transfer/collect choreography",
			Buckets: prometheus.DefBuckets,
		}),
		ProofBuildFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_proof_build_failures_total",
			Help: "Total Merkle proof build failures",
		}),
		KeyshareAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_keyshare_attempts_total",
			Help: "Peer bootstrap key-share attempts by outcome",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		m.SignalsInserted, m.SignalsDeduped, m.SignalsSampled, m.PoolSize,
		m.PuzzleFailures, m.RelayFailures, m.DecryptFailures, m.PuzzleDuration,
		m.ChoreographyOutcomes, m.ChoreographyDuration, m.ProofBuildFailures,
		m.KeyshareAttempts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Registry returns the prometheus registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
