package pkg

import (
	"context"
	"sync"
	"time"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"github.com/28Pollux28/zync/internal/orchestrator"
	"github.com/28Pollux28/zync/internal/poller"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// pollerRegistry keeps one poller per team code, created on first use.
type pollerRegistry struct {
	orch  orchestrator.Orchestrator
	clock clock.WithTicker
	opts  func() []poller.Option

	mu      sync.Mutex
	entries map[challenge.TeamCode]*registryEntry
}

type registryEntry struct {
	poller   *poller.Poller
	lastUsed time.Time
}

func newPollerRegistry(orch orchestrator.Orchestrator, clk clock.WithTicker, opts func() []poller.Option) *pollerRegistry {
	return &pollerRegistry{
		orch:    orch,
		clock:   clk,
		opts:    opts,
		entries: make(map[challenge.TeamCode]*registryEntry),
	}
}

// get returns the poller for code. Codes with no identity get no poller.
func (r *pollerRegistry) get(code challenge.TeamCode) (*poller.Poller, error) {
	id := identity.New(code)
	if !id.Known() {
		return nil, identity.ErrIdentityUnknown
	}
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[code]
	if !ok {
		opts := append(r.opts(), poller.WithClock(r.clock))
		e = &registryEntry{poller: poller.New(r.orch, id, opts...)}
		r.entries[code] = e
		zap.S().Debugf("Created poller for team %s", id)
	}
	e.lastUsed = now
	return e.poller, nil
}

// lookup returns the poller for code without creating one.
func (r *pollerRegistry) lookup(code challenge.TeamCode) (*poller.Poller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[code]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.clock.Now()
	return e.poller, true
}

// Teams is the number of teams holding a poller.
func (r *pollerRegistry) Teams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// polling is the number of teams with at least one running session.
func (r *pollerRegistry) polling() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.poller.Active() {
			n++
		}
	}
	return n
}

// releaseIdle closes pollers unused for longer than timeout and not polling.
func (r *pollerRegistry) releaseIdle(ctx context.Context, timeout time.Duration) int {
	cutoff := r.clock.Now().Add(-timeout)
	r.mu.Lock()
	var idle []*poller.Poller
	for code, e := range r.entries {
		if e.lastUsed.Before(cutoff) && !e.poller.Active() {
			idle = append(idle, e.poller)
			delete(r.entries, code)
		}
	}
	r.mu.Unlock()

	for _, p := range idle {
		if err := p.Close(ctx); err != nil {
			zap.S().Warnf("Failed to close poller for team %s: %v", p.Identity(), err)
		}
	}
	return len(idle)
}

func (r *pollerRegistry) closeAll(ctx context.Context) error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[challenge.TeamCode]*registryEntry)
	r.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.poller.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
