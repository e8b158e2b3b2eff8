// Package poller drives the bounded background poll that follows a start or
// reset action, until the team's instance exposes something usable or the
// ceiling elapses.
//
// A Poller belongs to one team session. Each challenge has at most one live
// polling session; opening a new one cancels the previous session and any
// fetch still in flight for it is discarded when it returns.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/28Pollux28/zync/internal/access"
	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/identity"
	"github.com/28Pollux28/zync/internal/orchestrator"
	"github.com/28Pollux28/zync/internal/resolver"
	zerrors "github.com/28Pollux28/zync/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultCeiling  = 45 * time.Second
)

var ErrClosed = errors.New("poller closed")

type Poller struct {
	orch      orchestrator.Orchestrator
	id        identity.Identity
	clock     clock.WithTicker
	interval  time.Duration
	ceiling   time.Duration
	composer  access.Composer
	observers []Observer
	l         *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithCeiling(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.ceiling = d
		}
	}
}

func WithClock(clk clock.WithTicker) Option {
	return func(p *Poller) {
		p.clock = clk
	}
}

func WithObserver(o Observer) Option {
	return func(p *Poller) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Poller) {
		p.l = l
	}
}

// New returns a poller acting for id. An unknown identity is allowed: such a
// poller refuses mutations and every resolution comes back empty.
func New(orch orchestrator.Orchestrator, id identity.Identity, opts ...Option) *Poller {
	p := &Poller{
		orch:     orch,
		id:       id,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		ceiling:  DefaultCeiling,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.l == nil {
		p.l = zap.S().With("team", id.String())
	}
	p.composer = access.Composer{Now: p.clock.Now}
	return p
}

func (p *Poller) Identity() identity.Identity {
	return p.id
}

// Start asks the orchestrator for the team's instance of challengeID and then
// polls until it is usable. A failed mutation is logged and polling goes ahead
// anyway: the backend may still converge.
func (p *Poller) Start(ctx context.Context, challengeID string) (View, error) {
	return p.mutateAndPoll(ctx, challengeID, TriggerStart, func(ctx context.Context) error {
		err := p.orch.StartInstance(ctx, challengeID, p.id.Code)
		if errors.Is(err, orchestrator.ErrConflict) {
			return nil
		}
		return err
	})
}

// Reset issues a reset with mode and polls like Start.
func (p *Poller) Reset(ctx context.Context, challengeID string, mode orchestrator.ResetMode) (View, error) {
	return p.mutateAndPoll(ctx, challengeID, TriggerReset, func(ctx context.Context) error {
		return p.orch.ResetInstance(ctx, challengeID, p.id.Code, mode)
	})
}

// Watch opens a polling session without issuing a mutation.
func (p *Poller) Watch(challengeID string) (View, error) {
	if !p.id.Known() {
		return View{}, identity.ErrIdentityUnknown
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return View{}, ErrClosed
	}
	s, events := p.openLocked(challengeID, TriggerWatch, StatePolling)
	view := s.snapshot()
	p.wg.Add(1)
	p.mu.Unlock()

	p.emit(events...)
	go p.run(s)
	return view, nil
}

func (p *Poller) mutateAndPoll(ctx context.Context, challengeID string, trigger Trigger, mutate func(context.Context) error) (View, error) {
	if !p.id.Known() {
		return View{}, identity.ErrIdentityUnknown
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return View{}, ErrClosed
	}
	s, events := p.openLocked(challengeID, trigger, StateStarting)
	p.mu.Unlock()
	p.emit(events...)

	if err := mutate(ctx); err != nil {
		p.logFailure(err, "%s mutation for challenge %s failed, polling anyway", trigger, challengeID)
		p.mu.Lock()
		s.view.LastError = err.Error()
		p.mu.Unlock()
	}

	p.mu.Lock()
	if !p.currentLocked(s) {
		// Replaced or stopped while the mutation was in flight.
		view := s.snapshot()
		p.mu.Unlock()
		return view, nil
	}
	tr := s.transitionLocked(StatePolling, p.clock.Now())
	s.pollingSince = p.clock.Now()
	view := s.snapshot()
	p.wg.Add(1)
	p.mu.Unlock()

	p.emit(tr)
	go p.run(s)
	return view, nil
}

// Refresh fetches and resolves challengeID once, synchronously. The result
// replaces the stored view whatever the session state; a running poll keeps
// going. If another session was opened, or the view dismissed, while the fetch
// was in flight, the answer is not stored: the live session's view is returned
// instead, or a detached Idle view when there is none.
func (p *Poller) Refresh(ctx context.Context, challengeID string) (View, error) {
	p.mu.Lock()
	var seen string
	if s, ok := p.sessions[challengeID]; ok {
		seen = s.view.Token
	}
	p.mu.Unlock()

	ch, err := p.orch.GetChallenge(ctx, challengeID)
	if err != nil {
		return View{}, fmt.Errorf("refresh challenge %s: %w", challengeID, err)
	}
	inst, ra := p.resolve(ch)
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[challengeID]
	switch {
	case ok && s.view.Token == seen:
	case !ok && seen == "":
		s = newSession(challengeID, TriggerRefresh, now)
		s.team = p.id
		p.sessions[challengeID] = s
	case ok:
		p.l.Debugf("Discarding stale refresh for challenge %s (session %s)", challengeID, s.view.Token)
		return s.snapshot(), nil
	default:
		detached := newSession(challengeID, TriggerRefresh, now)
		detached.record(ch, inst, ra, now)
		return detached.snapshot(), nil
	}
	s.record(ch, inst, ra, now)
	return s.snapshot(), nil
}

// View returns the last known state for challengeID.
func (p *Poller) View(challengeID string) (View, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[challengeID]
	if !ok {
		return View{}, false
	}
	return s.snapshot(), true
}

// Views returns every stored view, in no particular order.
func (p *Poller) Views() []View {
	p.mu.Lock()
	defer p.mu.Unlock()
	views := make([]View, 0, len(p.sessions))
	for _, s := range p.sessions {
		views = append(views, s.snapshot())
	}
	return views
}

// Stop cancels the session for challengeID and forgets its view.
func (p *Poller) Stop(challengeID string) bool {
	p.mu.Lock()
	s, ok := p.sessions[challengeID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.sessions, challengeID)
	tr, changed := s.cancelLocked(p.clock.Now())
	p.mu.Unlock()

	if changed {
		p.emit(tr)
	}
	return true
}

// Active reports whether any session is still polling.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		if !s.view.State.Terminal() && s.view.State != StateIdle {
			return true
		}
	}
	return false
}

// Close cancels every session and waits for the polling goroutines to exit
// or ctx to be done.
func (p *Poller) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	var events []Transition
	for _, s := range p.sessions {
		if tr, changed := s.cancelLocked(p.clock.Now()); changed {
			events = append(events, tr)
		}
	}
	p.mu.Unlock()
	p.emit(events...)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openLocked replaces any session for challengeID with a new one in state.
func (p *Poller) openLocked(challengeID string, trigger Trigger, state State) (*session, []Transition) {
	now := p.clock.Now()
	var events []Transition
	prev, ok := p.sessions[challengeID]
	if ok {
		if tr, changed := prev.cancelLocked(now); changed {
			events = append(events, tr)
		}
	}
	s := newSession(challengeID, trigger, now)
	s.team = p.id
	if ok {
		// Keep showing the last fetch until the new session produces one.
		s.view.Challenge = prev.view.Challenge
		s.view.Instance = prev.view.Instance
		s.view.Access = prev.view.Access
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	events = append(events, s.transitionLocked(state, now))
	if state == StatePolling {
		s.pollingSince = now
	}
	p.sessions[challengeID] = s
	return s, events
}

// currentLocked reports whether s is still the live session for its challenge.
func (p *Poller) currentLocked(s *session) bool {
	cur, ok := p.sessions[s.view.ChallengeID]
	return ok && cur.view.Token == s.view.Token && s.ctx.Err() == nil
}

// run must be started after p.wg.Add(1) under p.mu, so Close never waits on
// a zero counter that is about to grow.
func (p *Poller) run(s *session) {
	defer p.wg.Done()
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
		}
		if p.tick(s) {
			return
		}
	}
}

// tick runs one fetch and resolve iteration and reports whether the session
// reached a terminal state.
func (p *Poller) tick(s *session) bool {
	ch, err := p.orch.GetChallenge(s.ctx, s.view.ChallengeID)
	now := p.clock.Now()

	p.mu.Lock()
	if !p.currentLocked(s) {
		p.mu.Unlock()
		p.l.Debugf("Discarding stale poll result for challenge %s (session %s)", s.view.ChallengeID, s.view.Token)
		return true
	}
	s.view.Iterations++
	var inst *challenge.Instance
	if err != nil {
		s.view.LastError = err.Error()
		s.view.UpdatedAt = now
	} else {
		var ra *challenge.ResolvedAccess
		inst, ra = p.resolve(ch)
		s.record(ch, inst, ra, now)
	}

	var tr Transition
	terminal := false
	switch {
	case err == nil && resolver.Usable(ch, inst):
		tr = s.transitionLocked(StateResolved, now)
		terminal = true
	case now.Sub(s.pollingSince) > p.ceiling:
		tr = s.transitionLocked(StateTimedOut, now)
		terminal = true
	}
	if terminal {
		s.cancel()
	}
	p.mu.Unlock()

	if err != nil {
		p.logFailure(err, "Polling challenge %s failed", s.view.ChallengeID)
	}
	if terminal {
		p.emit(tr)
	}
	return terminal
}

func (p *Poller) resolve(ch *challenge.Challenge) (*challenge.Instance, *challenge.ResolvedAccess) {
	var inst *challenge.Instance
	if ch.Category.Instanced() {
		inst = resolver.Resolve(ch.Instances, p.id)
	}
	return inst, p.composer.Compose(ch, inst, p.id.Code)
}

func (p *Poller) emit(events ...Transition) {
	for _, tr := range events {
		for _, o := range p.observers {
			o.OnTransition(tr)
		}
	}
}

func (p *Poller) logFailure(err error, template string, args ...any) {
	if transient, pattern := zerrors.IsTransientError(err); transient {
		p.l.Warnw(fmt.Sprintf(template, args...), "error", err, "pattern", pattern)
		return
	}
	p.l.Errorw(fmt.Sprintf(template, args...), "error", err)
}

func newToken() string {
	return uuid.NewString()
}
