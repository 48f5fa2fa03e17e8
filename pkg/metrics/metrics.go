// Copyright 2023 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Statement kinds.
	KindQuery       = "query"
	KindCommand     = "command"
	KindTransaction = "transaction"

	// Outcomes.
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

var (
	namespace = "sqlgateway"

	statementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "statements_total",
			Help:      "Total number of executed statements by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	statementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "statement_duration_seconds",
			Help:      "Statement execution time including connection acquisition",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"kind"},
	)

	discardedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "discarded_connections_total",
			Help:      "Connections dropped instead of returned to the pool",
		},
	)

	acquireFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_failures_total",
			Help:      "Failed connection acquisitions by reason",
		},
		[]string{"reason"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Asynchronous jobs that reached a terminal state",
		},
		[]string{"status"},
	)

	jobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Asynchronous jobs currently processing",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)
)

// ObserveStatement records one statement of the given kind.
func ObserveStatement(kind string, outcome string, took time.Duration) {
	statementsTotal.WithLabelValues(kind, outcome).Inc()
	statementDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func IncDiscardedConnections() {
	discardedConnections.Inc()
}

func IncAcquireFailure(reason string) {
	acquireFailures.WithLabelValues(reason).Inc()
}

func JobStarted() {
	jobsRunning.Inc()
}

func JobFinished(status string) {
	jobsRunning.Dec()
	jobsTotal.WithLabelValues(status).Inc()
}

func ObserveCache(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(cache, result).Inc()
}

// PoolStats is implemented by the connection pool.
type PoolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
	MaxConns() int32
}

// RegisterPool exposes the pool statistics as gauges. It must be called at most once per registry.
func RegisterPool(reg prometheus.Registerer, stats func() PoolStats) error {
	gauges := map[string]func(PoolStats) int32{
		"acquired_connections": PoolStats.AcquiredConns,
		"idle_connections":     PoolStats.IdleConns,
		"total_connections":    PoolStats.TotalConns,
		"max_connections":      PoolStats.MaxConns,
	}
	for name, get := range gauges {
		get := get
		err := reg.Register(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      name,
				Help:      "Connection pool " + name,
			},
			func() float64 {
				s := stats()
				if s == nil {
					return 0
				}
				return float64(get(s))
			},
		))
		if err != nil {
			return err
		}
	}
	return nil
}
