// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmeter_sessions_started_total",
			Help: "Streaming sessions initialized",
		},
		[]string{"model"},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmeter_sessions_finished_total",
			Help: "Streaming sessions reaching a terminal status",
		},
		[]string{"model", "status"},
	)

	InsufficientCredits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmeter_insufficient_credits_total",
			Help: "Initialize calls rejected for insufficient credits",
		},
		[]string{"model"},
	)

	CreditUsage = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmeter_credit_usage_total",
			Help: "Credits moved by the session manager",
		},
		[]string{"model", "credit_type"},
	)

	StreamTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmeter_stream_tokens_total",
			Help: "Estimated tokens streamed to clients",
		},
		[]string{"model"},
	)

	TimeToFirstChunk = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatmeter_time_to_first_chunk_seconds",
			Help:    "Time to first chunk in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 60},
		},
		[]string{"model"},
	)

	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatmeter_stream_duration_seconds",
			Help:    "Total stream time in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 15, 20, 30, 60, 120, 300},
		},
		[]string{"model", "status"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatmeter_active_streams",
			Help: "Streams currently running upstream",
		},
	)

	ObservableSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatmeter_observable_sessions",
			Help: "Sessions live or inside the grace window",
		},
	)

	ActiveObservers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatmeter_active_observers",
			Help: "Observers attached across all sessions",
		},
	)

	EvictedObservers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatmeter_evicted_observers_total",
			Help: "Observers dropped for falling behind",
		},
	)

	SweptSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatmeter_swept_sessions_total",
			Help: "Stale active sessions aborted by the sweeper",
		},
	)

	StalledClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatmeter_stalled_clients_total",
			Help: "Chat clients detached for not reading their stream",
		},
	)

	DeferredRefunds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmeter_deferred_refunds_total",
			Help: "Session refunds left owed after a ledger failure, by outcome",
		},
		[]string{"outcome"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatmeter_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
