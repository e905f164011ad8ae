// Package metrics exposes Prometheus instrumentation for build
// sessions.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Recorder abstracts session metric recording so tests can use NoopRecorder.
type Recorder interface {
	SessionStarted()
	SessionFinished(status string, duration time.Duration)
	FSEventApplied()
	ForcedRebuild(reason string)
}

// NoopRecorder discards all metrics.
type NoopRecorder struct{}

func (NoopRecorder) SessionStarted()                       {}
func (NoopRecorder) SessionFinished(string, time.Duration) {}
func (NoopRecorder) FSEventApplied()                       {}
func (NoopRecorder) ForcedRebuild(string)                  {}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	sessionsStarted prom.Counter
	sessionOutcome  *prom.CounterVec
	sessionDuration prom.Histogram
	fsEventsApplied prom.Counter
	forcedRebuilds  *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers session metrics on reg
// (a fresh registry when nil).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		sessionsStarted: prom.NewCounter(prom.CounterOpts{
			Namespace: "buildforge",
			Name:      "sessions_started_total",
			Help:      "Build sessions started",
		}),
		sessionOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildforge",
			Name:      "session_outcomes_total",
			Help:      "Session outcomes by terminal status",
		}, []string{"status"}),
		sessionDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "buildforge",
			Name:      "session_duration_seconds",
			Help:      "Total session duration",
			Buckets:   prom.DefBuckets,
		}),
		fsEventsApplied: prom.NewCounter(prom.CounterOpts{
			Namespace: "buildforge",
			Name:      "fs_events_applied_total",
			Help:      "Filesystem deltas applied to session state",
		}),
		forcedRebuilds: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "buildforge",
			Name:      "forced_rebuilds_total",
			Help:      "Forced full rebuilds by trigger reason",
		}, []string{"reason"}),
	}
	reg.MustRegister(pr.sessionsStarted, pr.sessionOutcome, pr.sessionDuration, pr.fsEventsApplied, pr.forcedRebuilds)
	return pr
}

// SessionStarted counts a new session.
func (pr *PrometheusRecorder) SessionStarted() { pr.sessionsStarted.Inc() }

// SessionFinished counts a terminal status and observes the duration.
func (pr *PrometheusRecorder) SessionFinished(status string, duration time.Duration) {
	pr.sessionOutcome.WithLabelValues(status).Inc()
	pr.sessionDuration.Observe(duration.Seconds())
}

// FSEventApplied counts one applied filesystem delta.
func (pr *PrometheusRecorder) FSEventApplied() { pr.fsEventsApplied.Inc() }

// ForcedRebuild counts a forced-rebuild trigger.
func (pr *PrometheusRecorder) ForcedRebuild(reason string) {
	pr.forcedRebuilds.WithLabelValues(reason).Inc()
}
