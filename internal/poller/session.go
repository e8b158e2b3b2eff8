package poller

import (
	"context"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StatePolling
	StateResolved
	StateTimedOut
	// StateCancelled marks a session that was stopped or replaced by a newer
	// one before it finished.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == StateResolved || s == StateTimedOut || s == StateCancelled
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trigger is what opened a session.
type Trigger string

const (
	TriggerStart   Trigger = "start"
	TriggerReset   Trigger = "reset"
	TriggerWatch   Trigger = "watch"
	TriggerRefresh Trigger = "refresh"
)

// View is a copy of what a session last saw. Challenge, Instance and Access
// are nil until a fetch succeeds; Access stays nil while nothing is usable.
type View struct {
	ChallengeID string                    `json:"challenge_id"`
	Token       string                    `json:"token"`
	Trigger     Trigger                   `json:"trigger"`
	State       State                     `json:"state"`
	Iterations  int                       `json:"iterations"`
	StartedAt   time.Time                 `json:"started_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	LastError   string                    `json:"last_error,omitempty"`
	Challenge   *challenge.Challenge      `json:"-"`
	Instance    *challenge.Instance       `json:"-"`
	Access      *challenge.ResolvedAccess `json:"access,omitempty"`
}

// Transition is emitted to observers on every state change.
type Transition struct {
	ChallengeID string
	Token       string
	Team        identity.Identity
	Trigger     Trigger
	From        State
	To          State
	Iterations  int
	// Elapsed is measured from the session's creation.
	Elapsed time.Duration
	At      time.Time
	Access  *challenge.ResolvedAccess
}

// Observer is notified synchronously, outside the poller's lock. It must not
// block for long.
type Observer interface {
	OnTransition(Transition)
}

type ObserverFunc func(Transition)

func (f ObserverFunc) OnTransition(tr Transition) { f(tr) }

// Observers fans a transition out to several observers.
type Observers []Observer

func (os Observers) OnTransition(tr Transition) {
	for _, o := range os {
		o.OnTransition(tr)
	}
}

// session is guarded by the owning Poller's mutex.
type session struct {
	view         View
	team         identity.Identity
	pollingSince time.Time
	ctx          context.Context
	cancel       context.CancelFunc
}

func newSession(challengeID string, trigger Trigger, now time.Time) *session {
	return &session{
		view: View{
			ChallengeID: challengeID,
			Token:       newToken(),
			Trigger:     trigger,
			State:       StateIdle,
			StartedAt:   now,
			UpdatedAt:   now,
		},
	}
}

func (s *session) transitionLocked(to State, now time.Time) Transition {
	tr := Transition{
		ChallengeID: s.view.ChallengeID,
		Token:       s.view.Token,
		Team:        s.team,
		Trigger:     s.view.Trigger,
		From:        s.view.State,
		To:          to,
		Iterations:  s.view.Iterations,
		Elapsed:     now.Sub(s.view.StartedAt),
		At:          now,
		Access:      s.view.Access,
	}
	s.view.State = to
	s.view.UpdatedAt = now
	return tr
}

// cancelLocked stops the session's goroutine. Only sessions that were still
// running produce a transition.
func (s *session) cancelLocked(now time.Time) (Transition, bool) {
	if s.cancel != nil {
		s.cancel()
	}
	if s.view.State == StateIdle || s.view.State.Terminal() {
		return Transition{}, false
	}
	return s.transitionLocked(StateCancelled, now), true
}

func (s *session) record(ch *challenge.Challenge, inst *challenge.Instance, ra *challenge.ResolvedAccess, now time.Time) {
	s.view.Challenge = ch
	s.view.Instance = inst
	s.view.Access = ra
	s.view.LastError = ""
	s.view.UpdatedAt = now
}

// snapshot copies the view; the pointed to values are never mutated after
// being recorded.
func (s *session) snapshot() View {
	return s.view
}
