package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Parser metrics
	MalformedLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadside_malformed_lines_total",
		Help: "Killfeed lines skipped as malformed",
	}, []string{"server", "reason"})

	EventsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadside_events_parsed_total",
		Help: "Events emitted by the parsers",
	}, []string{"server", "type"})

	// Transport metrics
	ConnectRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadside_connect_retries_total",
		Help: "Connection establishment retries",
	}, []string{"server"})

	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadside_sessions_evicted_total",
		Help: "Idle sessions closed by the pool",
	})

	RotationsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadside_rotations_detected_total",
		Help: "Log rotations that reset a file cursor",
	}, []string{"server"})

	// Aggregator metrics
	FlushFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadside_flush_failures_total",
		Help: "Stats flushes that failed and were retried",
	}, []string{"server"})

	// Sync metrics
	SchemaSyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadside_schema_syncs_total",
		Help: "Schema sync gate outcomes",
	}, []string{"result"}) // "synced" or "skipped"

	LeaderboardTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deadside_leaderboard_ticks_total",
		Help: "Leaderboard scheduler tick outcomes per view",
	}, []string{"view", "result"}) // "ok" or "error"
)

func init() {
	// Pre-initialize Vec metrics so they appear in /metrics output before first use.
	SchemaSyncs.WithLabelValues("synced")
	SchemaSyncs.WithLabelValues("skipped")
}
