package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/orchestrator"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type failingOrchestrator struct {
	err error
}

func (f failingOrchestrator) ListChallenges(context.Context) ([]challenge.Challenge, error) {
	return nil, f.err
}

func (f failingOrchestrator) GetChallenge(context.Context, string) (*challenge.Challenge, error) {
	return nil, f.err
}

func (f failingOrchestrator) StartInstance(context.Context, string, challenge.TeamCode) error {
	return f.err
}

func (f failingOrchestrator) ResetInstance(context.Context, string, challenge.TeamCode, orchestrator.ResetMode) error {
	return f.err
}

func (f failingOrchestrator) Stats(context.Context) (*orchestrator.Stats, error) {
	return nil, f.err
}

func TestInstrument_CountsErrorsByKind(t *testing.T) {
	ctx := context.Background()
	transient := testutil.ToFloat64(FetchErrorsTotal.WithLabelValues("get", "transient"))
	notFound := testutil.ToFloat64(FetchErrorsTotal.WithLabelValues("get", "not_found"))
	other := testutil.ToFloat64(FetchErrorsTotal.WithLabelValues("reset", "other"))

	_, _ = Instrument(failingOrchestrator{err: errors.New("dial tcp 10.0.0.1:443: connection refused")}).GetChallenge(ctx, "web")
	_, _ = Instrument(failingOrchestrator{err: fmt.Errorf("%w: /api/v1/challenges/x", orchestrator.ErrNotFound)}).GetChallenge(ctx, "x")
	_ = Instrument(failingOrchestrator{err: errors.New("reset mode required")}).ResetInstance(ctx, "vm", "alpha", "")

	assert.Equal(t, transient+1, testutil.ToFloat64(FetchErrorsTotal.WithLabelValues("get", "transient")))
	assert.Equal(t, notFound+1, testutil.ToFloat64(FetchErrorsTotal.WithLabelValues("get", "not_found")))
	assert.Equal(t, other+1, testutil.ToFloat64(FetchErrorsTotal.WithLabelValues("reset", "other")))
}

func TestInstrument_IgnoresConflict(t *testing.T) {
	before := testutil.ToFloat64(FetchErrorsTotal.WithLabelValues("start", "other"))
	err := Instrument(failingOrchestrator{err: orchestrator.ErrConflict}).StartInstance(context.Background(), "web", "alpha")
	assert.ErrorIs(t, err, orchestrator.ErrConflict)
	assert.Equal(t, before, testutil.ToFloat64(FetchErrorsTotal.WithLabelValues("start", "other")))
}
