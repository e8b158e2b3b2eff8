package metrics

import (
	"context"
	"errors"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/orchestrator"
	zerrors "github.com/28Pollux28/zync/pkg/errors"
)

// InstrumentedOrchestrator counts failed calls in FetchErrorsTotal.
type InstrumentedOrchestrator struct {
	orchestrator.Orchestrator
}

var _ orchestrator.Orchestrator = InstrumentedOrchestrator{}

func Instrument(o orchestrator.Orchestrator) InstrumentedOrchestrator {
	return InstrumentedOrchestrator{Orchestrator: o}
}

func (o InstrumentedOrchestrator) ListChallenges(ctx context.Context) ([]challenge.Challenge, error) {
	challs, err := o.Orchestrator.ListChallenges(ctx)
	observeError("list", err)
	return challs, err
}

func (o InstrumentedOrchestrator) GetChallenge(ctx context.Context, id string) (*challenge.Challenge, error) {
	ch, err := o.Orchestrator.GetChallenge(ctx, id)
	observeError("get", err)
	return ch, err
}

func (o InstrumentedOrchestrator) StartInstance(ctx context.Context, id string, team challenge.TeamCode) error {
	err := o.Orchestrator.StartInstance(ctx, id, team)
	observeError("start", err)
	return err
}

func (o InstrumentedOrchestrator) ResetInstance(ctx context.Context, id string, team challenge.TeamCode, mode orchestrator.ResetMode) error {
	err := o.Orchestrator.ResetInstance(ctx, id, team, mode)
	observeError("reset", err)
	return err
}

func (o InstrumentedOrchestrator) Stats(ctx context.Context) (*orchestrator.Stats, error) {
	s, err := o.Orchestrator.Stats(ctx)
	observeError("stats", err)
	return s, err
}

func observeError(operation string, err error) {
	if err == nil || errors.Is(err, orchestrator.ErrConflict) {
		return
	}
	FetchErrorsTotal.WithLabelValues(operation, zerrors.Kind(err, orchestrator.ErrNotFound)).Inc()
}
