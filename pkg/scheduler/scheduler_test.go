package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/28Pollux28/zync/pkg/config"
	"github.com/28Pollux28/zync/pkg/models"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	testclock "k8s.io/utils/clock/testing"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.PollSession{}))
	return db
}

func finishedAt(t *testing.T, db *gorm.DB, token string, at time.Time) {
	t.Helper()
	require.NoError(t, models.CreatePollSession(db, &models.PollSession{Token: token, State: "resolved", StartedAt: at, FinishedAt: &at}))
}

func TestSessionJanitor_RunOnce(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	clk := testclock.NewFakeClock(now)
	cfg := config.Defaults()
	cfg.Gateway.SessionRetention = time.Hour

	finishedAt(t, db, "old", now.Add(-2*time.Hour))
	finishedAt(t, db, "fresh", now.Add(-30*time.Minute))

	j := NewSessionJanitor(db, &config.StaticProvider{Cfg: cfg}, clk, zap.S())
	assert.Equal(t, int64(1), j.RunOnce())

	_, err := models.GetPollSession(db, "old", false)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = models.GetPollSession(db, "fresh", false)
	assert.NoError(t, err)

	last, removed := j.Stats()
	assert.Equal(t, now, last)
	assert.Equal(t, int64(1), removed)
}

func TestSessionJanitor_StartClosesStaleAndPurgesOnTick(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	clk := testclock.NewFakeClock(now)
	cfg := config.Defaults()
	cfg.Gateway.SessionRetention = time.Hour
	cfg.Gateway.JanitorInterval = time.Minute

	require.NoError(t, models.CreatePollSession(db, &models.PollSession{Token: "left-open", State: "polling", StartedAt: now.Add(-time.Minute)}))

	j := NewSessionJanitor(db, &config.StaticProvider{Cfg: cfg}, clk, zap.S())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	s, err := models.GetPollSession(db, "left-open", false)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", s.State)

	// The closed session ages past the retention and goes on a later tick.
	clk.Step(61 * time.Minute)
	require.Eventually(t, func() bool {
		_, err := models.GetPollSession(db, "left-open", false)
		return err == models.ErrNotFound
	}, time.Second, 5*time.Millisecond)
}
