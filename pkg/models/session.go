package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("poll session not found")

// PollSession is the history record of one polling session.
type PollSession struct {
	gorm.Model
	Token          string `gorm:"uniqueIndex"`
	ChallengeID    string `gorm:"index"`
	TeamCode       string `gorm:"index"`
	TeamIdentifier string
	Trigger        string
	State          string `gorm:"index"`
	Iterations     int
	Address        string
	AccessURL      string
	ConsoleURL     string
	StartedAt      time.Time
	FinishedAt     *time.Time `gorm:"index"`
}

// Finished reports whether the session reached a terminal state.
func (s *PollSession) Finished() bool {
	return s.FinishedAt != nil
}

// Duration is the time from start to finish, or zero while running.
func (s *PollSession) Duration() time.Duration {
	if s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

func CreatePollSession(db *gorm.DB, session *PollSession) error {
	return db.Create(session).Error
}

func GetPollSession(db *gorm.DB, token string, lock bool) (*PollSession, error) {
	var session PollSession
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	result := query.Where("token = ?", token).Limit(1).Find(&session)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &session, nil
}

// UpdatePollSessionState records a state change. finishedAt is only set for
// terminal states.
func UpdatePollSessionState(db *gorm.DB, token, state string, iterations int, finishedAt *time.Time) error {
	updates := map[string]interface{}{
		"state":      state,
		"iterations": iterations,
	}
	if finishedAt != nil {
		updates["finished_at"] = *finishedAt
	}
	result := db.Model(&PollSession{}).Where("token = ?", token).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPollSessionAccess stores where the team ended up being able to reach its
// instance.
func SetPollSessionAccess(db *gorm.DB, token, address, accessURL, consoleURL string) error {
	return db.Model(&PollSession{}).Where("token = ?", token).Updates(map[string]interface{}{
		"address":     address,
		"access_url":  accessURL,
		"console_url": consoleURL,
	}).Error
}

// ListPollSessions returns the most recent sessions first. An empty teamCode
// lists every team.
func ListPollSessions(db *gorm.DB, teamCode string, limit int) ([]PollSession, error) {
	var sessions []PollSession
	query := db.Order("started_at DESC, id DESC")
	if teamCode != "" {
		query = query.Where("team_code = ?", teamCode)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&sessions)
	return sessions, result.Error
}

// DeleteFinishedBefore permanently removes finished sessions older than t and
// returns how many were removed.
func DeleteFinishedBefore(db *gorm.DB, t time.Time) (int64, error) {
	result := db.Unscoped().Where("finished_at IS NOT NULL AND finished_at < ?", t).Delete(&PollSession{})
	return result.RowsAffected, result.Error
}

// MarkUnfinishedCancelled closes every session left open, e.g. by a restart.
func MarkUnfinishedCancelled(db *gorm.DB, at time.Time) (int64, error) {
	result := db.Model(&PollSession{}).Where("finished_at IS NULL").Updates(map[string]interface{}{
		"state":       "cancelled",
		"finished_at": at,
	})
	return result.RowsAffected, result.Error
}
