package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/28Pollux28/zync/pkg/config"
	"github.com/28Pollux28/zync/pkg/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"k8s.io/utils/clock"
)

// SessionJanitor purges finished poll session records once they are older
// than the configured retention. Retention and interval are read from the
// provider on every run so config reloads apply without a restart.
type SessionJanitor struct {
	db       *gorm.DB
	confProv config.Provider
	clock    clock.WithTicker
	mu       sync.Mutex
	lastRun  time.Time
	removed  int64
	trigger  chan struct{}
	l        *zap.SugaredLogger
}

func NewSessionJanitor(db *gorm.DB, confProv config.Provider, clk clock.WithTicker, logger *zap.SugaredLogger) *SessionJanitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SessionJanitor{
		db:       db,
		confProv: confProv,
		clock:    clk,
		trigger:  make(chan struct{}, 1),
		l:        logger,
	}
}

// Start closes sessions a previous process left open, then purges on every
// tick until ctx is done.
func (j *SessionJanitor) Start(ctx context.Context) {
	j.l.Debug("starting session janitor")
	if n, err := models.MarkUnfinishedCancelled(j.db, j.clock.Now()); err != nil {
		j.l.Errorf("failed to close stale poll sessions: %v", err)
	} else if n > 0 {
		j.l.Infof("closed %d poll sessions left open by a previous run", n)
	}
	j.RunOnce()

	ticker := j.clock.NewTicker(j.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			j.RunOnce()
		case <-j.trigger:
			j.RunOnce()
		}
	}
}

// Trigger asks for a purge as soon as possible without blocking.
func (j *SessionJanitor) Trigger() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// RunOnce purges once and returns how many records were removed.
func (j *SessionJanitor) RunOnce() int64 {
	retention := config.DefaultSessionRetention
	if cfg := j.confProv.GetConfig(); cfg != nil && cfg.Gateway.SessionRetention > 0 {
		retention = cfg.Gateway.SessionRetention
	}
	now := j.clock.Now()
	n, err := models.DeleteFinishedBefore(j.db, now.Add(-retention))

	j.mu.Lock()
	j.lastRun = now
	if err == nil {
		j.removed += n
	}
	j.mu.Unlock()

	if err != nil {
		j.l.Errorf("failed to purge poll sessions: %v", err)
		return 0
	}
	if n > 0 {
		j.l.Debugf("purged %d poll sessions finished before %s", n, now.Add(-retention).Format(time.RFC3339))
	}
	return n
}

// Stats returns the time of the last purge and the total number of records
// removed since start.
func (j *SessionJanitor) Stats() (time.Time, int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun, j.removed
}

func (j *SessionJanitor) interval() time.Duration {
	if cfg := j.confProv.GetConfig(); cfg != nil && cfg.Gateway.JanitorInterval > 0 {
		return cfg.Gateway.JanitorInterval
	}
	return config.DefaultJanitorInterval
}
