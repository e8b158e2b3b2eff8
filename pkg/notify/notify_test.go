package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"github.com/28Pollux28/zync/internal/poller"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeRedis keeps keys in a map and records publishes.
type fakeRedis struct {
	mu        sync.Mutex
	keys      map[string]string
	ttls      map[string]time.Duration
	published map[string][]string
	failSet   bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]string{}, ttls: map[string]time.Duration{}, published: map[string][]string{}}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return redis.NewStatusResult("", errors.New("READONLY You can't write against a read only replica"))
	}
	f.keys[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.keys[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Close() error { return nil }

func resolvedTransition() poller.Transition {
	return poller.Transition{
		ChallengeID: "web",
		Token:       "tok-1",
		Team:        identity.New("alpha01"),
		Trigger:     poller.TriggerStart,
		From:        poller.StatePolling,
		To:          poller.StateResolved,
		At:          time.Date(2026, 3, 1, 12, 0, 6, 0, time.UTC),
		Access:      &challenge.ResolvedAccess{Category: challenge.CategoryContainerized, TeamCode: "alpha01", AccessURL: "http://10.0.0.5:8080"},
	}
}

func TestNotifier_PublishesOnResolved(t *testing.T) {
	rdb := newFakeRedis()
	n := newNotifier(rdb, Config{TTL: time.Hour}, zap.S())

	n.OnTransition(resolvedTransition())

	msgs := rdb.published["zync:access:team-3fc0b5b9"]
	require.Len(t, msgs, 1)
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &msg))
	assert.Equal(t, "web", msg.ChallengeID)
	assert.Equal(t, "tok-1", msg.Token)
	assert.Equal(t, "start", msg.Trigger)
	assert.Equal(t, "http://10.0.0.5:8080", msg.Access.AccessURL)
	assert.Equal(t, time.Hour, rdb.ttls["zync:access:team-3fc0b5b9:web"])

	latest, err := n.Latest(context.Background(), "team-3fc0b5b9", "web")
	require.NoError(t, err)
	assert.Equal(t, msg.Token, latest.Token)
}

func TestNotifier_IgnoresOtherTransitions(t *testing.T) {
	rdb := newFakeRedis()
	n := newNotifier(rdb, Config{}, zap.S())

	tr := resolvedTransition()
	tr.To = poller.StateTimedOut
	n.OnTransition(tr)

	tr = resolvedTransition()
	tr.Access = nil
	n.OnTransition(tr)

	tr = resolvedTransition()
	tr.Team = identity.New("")
	n.OnTransition(tr)

	assert.Empty(t, rdb.published)
}

func TestNotifier_SetFailureSkipsPublish(t *testing.T) {
	rdb := newFakeRedis()
	rdb.failSet = true
	n := newNotifier(rdb, Config{}, zap.S())
	n.OnTransition(resolvedTransition())
	assert.Empty(t, rdb.published)
}

func TestNotifier_LatestMissing(t *testing.T) {
	n := newNotifier(newFakeRedis(), Config{Prefix: "ctf"}, zap.S())
	assert.Equal(t, "ctf:team-3fc0b5b9", n.Channel("team-3fc0b5b9"))
	_, err := n.Latest(context.Background(), "team-3fc0b5b9", "web")
	assert.ErrorIs(t, err, ErrNoRecord)
}
