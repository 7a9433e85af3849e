// Package metrics exposes the worker's prometheus counters and gauges:
// games played, update_task latency, measured NPS and object-cache hit
// rate. Collection is always on; the /metrics HTTP handler that serves
// them is optional and wired up by cmd/worker only when a listen address
// is configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GamesPlayed counts completed games by outcome (win/loss/draw),
	// labelled by whether they came from a match or a datagen task.
	GamesPlayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worker",
		Name:      "games_played_total",
		Help:      "Games reported to the coordinator, by task kind and outcome.",
	}, []string{"task_kind", "outcome"})

	// Crashes and TimeLosses count the corresponding match-runner
	// anomalies (spec §4.C7).
	Crashes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worker",
		Name:      "engine_crashes_total",
		Help:      "Engine crashes/disconnects observed by the match-runner supervisor.",
	})
	TimeLosses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worker",
		Name:      "engine_time_losses_total",
		Help:      "Engine time losses observed by the match-runner supervisor.",
	})

	// UpdateTaskLatency tracks the coordinator's own reported handling
	// duration for update_task calls, separately from the client-measured
	// round trip (both are logged per-request to api.log; this is the
	// aggregate view).
	UpdateTaskLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worker",
		Name:      "update_task_duration_seconds",
		Help:      "Coordinator-reported duration of update_task calls.",
		Buckets:   prometheus.DefBuckets,
	})

	// MeasuredNPS is the most recent bench-verified nodes/sec, per engine
	// revision (spec §4.C6).
	MeasuredNPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "worker",
		Name:      "measured_nps",
		Help:      "Most recent bench-verified nodes per second, by engine revision.",
	}, []string{"revision"})

	// CacheHits and CacheMisses track internal/objcache effectiveness.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worker",
		Name:      "object_cache_hits_total",
		Help:      "Object cache reads satisfied without a download.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "worker",
		Name:      "object_cache_misses_total",
		Help:      "Object cache reads that required a download.",
	})
)
