package models

import (
	"time"

	"github.com/28Pollux28/zync/internal/poller"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SessionRecorder persists poller transitions as PollSession rows.
type SessionRecorder struct {
	db *gorm.DB
	l  *zap.SugaredLogger
}

var _ poller.Observer = (*SessionRecorder)(nil)

func NewSessionRecorder(db *gorm.DB, logger *zap.SugaredLogger) *SessionRecorder {
	return &SessionRecorder{db: db, l: logger}
}

func (r *SessionRecorder) OnTransition(tr poller.Transition) {
	if tr.From == poller.StateIdle {
		err := CreatePollSession(r.db, &PollSession{
			Token:          tr.Token,
			ChallengeID:    tr.ChallengeID,
			TeamCode:       string(tr.Team.Code),
			TeamIdentifier: string(tr.Team.Identifier),
			Trigger:        string(tr.Trigger),
			State:          tr.To.String(),
			StartedAt:      tr.At.Add(-tr.Elapsed),
		})
		if err != nil {
			r.l.Errorf("Failed to record poll session %s: %v", tr.Token, err)
		}
		return
	}

	var finishedAt *time.Time
	if tr.To.Terminal() {
		at := tr.At
		finishedAt = &at
	}
	if err := UpdatePollSessionState(r.db, tr.Token, tr.To.String(), tr.Iterations, finishedAt); err != nil {
		r.l.Errorf("Failed to update poll session %s: %v", tr.Token, err)
		return
	}
	if tr.To == poller.StateResolved && tr.Access != nil {
		if err := SetPollSessionAccess(r.db, tr.Token, tr.Access.Address, tr.Access.AccessURL, tr.Access.ConsoleURL); err != nil {
			r.l.Errorf("Failed to record access for poll session %s: %v", tr.Token, err)
		}
	}
}
