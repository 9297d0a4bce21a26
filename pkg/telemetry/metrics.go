package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Engine ──────────────────────────────────────────────────────────────────

	EngineStartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "engine",
		Name:      "starts_total",
		Help:      "Timer start operations, labelled by outcome.",
	}, []string{"result"}) // started | noop | transferred | error

	EngineStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "engine",
		Name:      "stops_total",
		Help:      "Timer stop operations, labelled by outcome.",
	}, []string{"result"}) // completed | idle | skew_discarded | error

	EngineTimerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "timekeep",
		Subsystem: "engine",
		Name:      "timer_active",
		Help:      "1 while this instance believes a timer is running, else 0.",
	})

	EngineCheckpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "engine",
		Name:      "checkpoints_total",
		Help:      "Periodic durability checkpoints, labelled by result.",
	}, []string{"result"}) // ok | error

	EngineReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "engine",
		Name:      "reloads_total",
		Help:      "State reloads, labelled by trigger.",
	}, []string{"trigger"}) // boot | notification | manual

	RecoveryDiscardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "engine",
		Name:      "recovery_discards_total",
		Help:      "Persisted records rejected during recovery, labelled by reason.",
	}, []string{"reason"}) // corrupt | clock_skew | stale | orphaned

	EngineEntryMinutesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "engine",
		Name:      "entry_minutes_total",
		Help:      "Total whole minutes recorded across completed time entries.",
	})

	// ─── API ─────────────────────────────────────────────────────────────────────

	APITimerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "api",
		Name:      "timer_requests_total",
		Help:      "Timer API requests, labelled by operation and result.",
	}, []string{"op", "result"})

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Timer mutations rejected by the rate limiter.",
	})

	APIWatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "timekeep",
		Subsystem: "api",
		Name:      "watchers",
		Help:      "Currently connected elapsed-time stream subscribers.",
	})

	// ─── Sweeper ─────────────────────────────────────────────────────────────────

	SweeperSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "sweeper",
		Name:      "sweeps_total",
		Help:      "Completed sweep passes on this instance.",
	})

	SweeperDiscardsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timekeep",
		Subsystem: "sweeper",
		Name:      "discards_total",
		Help:      "Records discarded by the sweeper, labelled by reason.",
	}, []string{"reason"})

	SweeperLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "timekeep",
		Subsystem: "sweeper",
		Name:      "leader",
		Help:      "1 while this instance holds sweep leadership, else 0.",
	})
)
