package metrics

import (
	"github.com/28Pollux28/zync/internal/poller"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStartedTotal counts polling sessions by challenge and trigger.
	// trigger is "start", "reset" or "watch".
	SessionsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zync_poll_sessions_started_total",
			Help: "Total number of polling sessions opened",
		},
		[]string{"challenge_id", "trigger"},
	)

	// SessionsFinishedTotal counts polling sessions that reached a terminal
	// state. outcome is "resolved", "timed_out" or "cancelled".
	SessionsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zync_poll_sessions_finished_total",
			Help: "Total number of polling sessions by outcome",
		},
		[]string{"challenge_id", "outcome"},
	)

	// ActiveSessions is the number of sessions currently starting or polling.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zync_poll_sessions_active",
		Help: "Number of polling sessions currently starting or polling",
	})

	// TimeToResolveSeconds tracks how long teams wait for a usable instance.
	TimeToResolveSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zync_time_to_resolve_seconds",
			Help:    "Time from session start until the instance was usable",
			Buckets: []float64{1, 2, 4, 6, 10, 15, 20, 30, 45, 60},
		},
		[]string{"challenge_id"},
	)

	// PollIterations tracks how many fetches a session needed before it ended.
	PollIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zync_poll_iterations",
			Help:    "Number of fetch iterations per finished polling session",
			Buckets: []float64{1, 2, 3, 5, 8, 12, 16, 20, 25},
		},
		[]string{"outcome"},
	)

	// FetchErrorsTotal counts failed orchestrator calls.
	// kind is "transient", "not_found" or "other".
	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zync_orchestrator_errors_total",
			Help: "Total number of failed orchestrator calls by operation and kind",
		},
		[]string{"operation", "kind"},
	)

	// NotificationsTotal counts access notifications by result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zync_access_notifications_total",
			Help: "Total number of resolved access notifications published",
		},
		[]string{"result"},
	)
)

// PollerObserver feeds poller transitions into the package metrics.
type PollerObserver struct{}

var _ poller.Observer = PollerObserver{}

func (PollerObserver) OnTransition(tr poller.Transition) {
	switch {
	case tr.From == poller.StateIdle:
		SessionsStartedTotal.WithLabelValues(tr.ChallengeID, string(tr.Trigger)).Inc()
		ActiveSessions.Inc()
	case tr.To.Terminal():
		outcome := tr.To.String()
		SessionsFinishedTotal.WithLabelValues(tr.ChallengeID, outcome).Inc()
		PollIterations.WithLabelValues(outcome).Observe(float64(tr.Iterations))
		ActiveSessions.Dec()
		if tr.To == poller.StateResolved {
			TimeToResolveSeconds.WithLabelValues(tr.ChallengeID).Observe(tr.Elapsed.Seconds())
		}
	}
}
