// ABOUTME: Prometheus metrics for sync runs.
// ABOUTME: Counts transferred and failed sessions and tracks the sync watermark.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifts",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Sync runs by kind (sync, migrate) and outcome (ok, error).",
	}, []string{"kind", "outcome"})
	sessionsTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lifts",
		Subsystem: "sync",
		Name:      "sessions_total",
		Help:      "Sessions transferred by direction (pull, push).",
	}, []string{"direction"})
	sessionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lifts",
		Subsystem: "sync",
		Name:      "sessions_failed_total",
		Help:      "Sessions that could not be transferred.",
	})
	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lifts",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the watermark written by the last successful sync.",
	})
	replayedIntents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "lifts",
		Subsystem: "outbox",
		Name:      "replayed_total",
		Help:      "Pending cloud writes applied during replay.",
	})
)

func init() {
	prometheus.MustRegister(syncRuns, sessionsTransferred, sessionsFailed, lastSyncGauge, replayedIntents)
}

// RecordRun counts one sync or migration run.
func RecordRun(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	syncRuns.WithLabelValues(kind, outcome).Inc()
}

// RecordTransfers adds pulled, pushed and failed session counts.
func RecordTransfers(pulled, pushed, failed int) {
	sessionsTransferred.WithLabelValues("pull").Add(float64(pulled))
	sessionsTransferred.WithLabelValues("push").Add(float64(pushed))
	sessionsFailed.Add(float64(failed))
}

// RecordWatermark updates the last successful sync gauge.
func RecordWatermark(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}

// RecordReplayed counts replayed intents.
func RecordReplayed(n int) {
	replayedIntents.Add(float64(n))
}
