// Package stats wires the module's runtime counters into Prometheus, the
// same promauto-backed pattern the rest of the example pack uses for its
// own metrics.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/liuhatry/Aluminum/collective"
)

const (
	labelName = "collective"
	labelComm = "communicator"
)

var collectiveLabels = []string{labelName, labelComm}

var (
	collectivesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aluminum_collectives_issued_total",
		Help: "Number of collectives enqueued with the progress engine, by kind and communicator.",
	}, collectiveLabels)

	bytesStaged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aluminum_pinned_bytes_staged_total",
		Help: "Bytes copied through the pinned host-memory pool, by communicator.",
	}, []string{labelComm})

	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aluminum_progress_inflight",
		Help: "Number of collective states currently tracked by the progress engine.",
	})

	completionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aluminum_collective_latency_seconds",
		Help:    "Time from Enqueue to the progress engine observing completion, by kind.",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{labelName})
)

// IssueCollective increments the issued counter for name/comm.
func IssueCollective(name, comm string) {
	collectivesIssued.WithLabelValues(name, comm).Inc()
}

// StageBytes adds n to the bytes-staged counter for comm.
func StageBytes(comm string, n int) {
	bytesStaged.WithLabelValues(comm).Add(float64(n))
}

// SetInFlight sets the progress-engine in-flight gauge to n - called by the
// housekeeper on its polling interval, not on every enqueue/complete (spec's
// progress engine must never pay metrics overhead per poll iteration).
func SetInFlight(n int) { inFlight.Set(float64(n)) }

// ObserveLatency records the enqueue-to-complete duration for a collective
// named name.
func ObserveLatency(name string, d time.Duration) {
	completionLatency.WithLabelValues(name).Observe(d.Seconds())
}

// Since is a small helper so callers don't import time just to compute a
// duration before calling ObserveLatency.
func Since(t time.Time) time.Duration { return time.Since(t) }

// Observer implements progress.Observer by structural typing (this package
// does not import progress, avoiding a needless dependency edge): every
// enqueue and completion the progress engine observes is folded straight
// into the counters above.
type Observer struct{}

func (Observer) OnEnqueue(s *collective.State) {
	IssueCollective(s.Name(), s.Comm)
}

func (Observer) OnComplete(s *collective.State, enqueuedAt time.Time) {
	ObserveLatency(s.Name(), Since(enqueuedAt))
}
