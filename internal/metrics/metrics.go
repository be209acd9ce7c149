package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "groupwarden"

var (
	// EventsReceived counts inbound platform events by type.
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_received_total",
		Help:      "Inbound platform events by type.",
	}, []string{"type"})

	// IntentsProcessed counts moderation intents that reached the engine.
	IntentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intents_processed_total",
		Help:      "Moderation intents processed by the engine.",
	}, []string{"kind", "status"})

	// IntentsRejected counts intents rejected before persistence.
	IntentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intents_rejected_total",
		Help:      "Intents rejected before persistence.",
	}, []string{"kind", "reason"})

	// EnforcementFailures counts platform enforcement calls that failed
	// after the record was persisted.
	EnforcementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enforcement_failures_total",
		Help:      "Platform enforcement failures after persistence.",
	}, []string{"kind"})

	// EnforcementDuration records platform enforcement latency.
	EnforcementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "enforcement_duration_seconds",
		Help:      "Platform enforcement latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"kind"})

	// PlatformCalls counts raw Bot API calls.
	PlatformCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "platform_calls_total",
		Help:      "Raw Bot API call counts.",
	}, []string{"endpoint", "status"})

	// PlatformCallDuration records Bot API call latency.
	PlatformCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "platform_call_duration_seconds",
		Help:      "Bot API call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"endpoint"})

	// ScheduledReversals tracks timers currently armed for expiry.
	ScheduledReversals = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduled_reversals",
		Help:      "Expiry timers currently armed.",
	})

	// ExpiryFired counts scheduler fires by outcome.
	ExpiryFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "expiry_fired_total",
		Help:      "Scheduler expiry fires by outcome.",
	}, []string{"kind", "outcome"})

	// FloodTriggers counts flood detections by enforcement mode.
	FloodTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flood_triggers_total",
		Help:      "Flood detections by enforcement mode.",
	}, []string{"mode"})

	// WarningsIssued counts warnings, labelled by whether they escalated.
	WarningsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "warnings_issued_total",
		Help:      "Warnings issued, by escalation outcome.",
	}, []string{"escalated"})

	// FederationFanout counts per-chat federation propagation results.
	FederationFanout = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "federation_fanout_total",
		Help:      "Per-chat federation propagation results.",
	}, []string{"op", "status"})

	// FederationFanoutDuration records whole fan-out duration.
	FederationFanoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "federation_fanout_duration_seconds",
		Help:      "Whole federation fan-out duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
	}, []string{"op"})

	// ActiveActions is a gauge for currently active actions per kind.
	ActiveActions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_actions",
		Help:      "Currently active stored actions per kind.",
	}, []string{"kind"})

	// UnconfirmedActions tracks persisted actions awaiting enforcement.
	UnconfirmedActions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "unconfirmed_actions",
		Help:      "Persisted actions with no confirmed enforcement.",
	})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})

	// DispatchEnqueued counts events placed onto worker queues.
	DispatchEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_enqueued_total",
		Help:      "Events placed onto dispatch worker queues.",
	}, []string{"type"})

	// DispatchDropped counts events discarded because a queue was full.
	DispatchDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_dropped_total",
		Help:      "Events discarded without processing.",
	}, []string{"reason"})

	// DispatchQueueDepth tracks pending events per worker queue.
	DispatchQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_queue_depth",
		Help:      "Pending events per dispatch worker queue.",
	}, []string{"worker"})

	// ReconcileDuration records full janitor reconcile duration.
	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Full reconcile sweep duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
	}, []string{"trigger"})

	// ReconcileRepaired counts actions repaired by a reconcile sweep.
	ReconcileRepaired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_repaired_total",
		Help:      "Actions repaired by reconcile sweeps.",
	}, []string{"repair"})

	// AdminCacheLookups counts authorizer cache hits and misses.
	AdminCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admin_cache_lookups_total",
		Help:      "Admin cache lookups by result.",
	}, []string{"result"})
)
