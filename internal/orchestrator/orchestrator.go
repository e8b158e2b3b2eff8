// Package orchestrator talks to the backend that provisions challenge
// instances. zync only queries and mutates through this interface; it never
// provisions anything itself.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/28Pollux28/zync/internal/challenge"
)

var (
	ErrNotFound = errors.New("challenge not found")
	// ErrConflict is returned when an instance already exists. Callers that
	// start instances treat it as success.
	ErrConflict = errors.New("instance already exists")
)

type ResetMode string

const (
	ResetNone     ResetMode = ""
	ResetRestart  ResetMode = "restart"
	ResetRedeploy ResetMode = "redeploy"
)

// ValidateResetMode checks mode against the category: virtual machines need
// restart or redeploy, other categories take no mode.
func ValidateResetMode(category challenge.Category, mode ResetMode) error {
	switch category {
	case challenge.CategoryVirtualized:
		if mode != ResetRestart && mode != ResetRedeploy {
			return fmt.Errorf("reset mode must be %q or %q for virtualized challenges", ResetRestart, ResetRedeploy)
		}
	case challenge.CategoryContainerized:
		if mode != ResetNone {
			return fmt.Errorf("reset mode %q not supported for containerized challenges", mode)
		}
	default:
		return fmt.Errorf("challenges of category %q cannot be reset", category)
	}
	return nil
}

// Stats are aggregate counters across all teams, for display only.
type Stats struct {
	RunningInstances int `json:"running_instances"`
	Teams            int `json:"teams"`
	Challenges       int `json:"challenges"`
}

type Orchestrator interface {
	ListChallenges(ctx context.Context) ([]challenge.Challenge, error)
	GetChallenge(ctx context.Context, id string) (*challenge.Challenge, error)
	// StartInstance asks for team's instance of challenge id. Starting an
	// already running instance returns nil or ErrConflict.
	StartInstance(ctx context.Context, id string, team challenge.TeamCode) error
	ResetInstance(ctx context.Context, id string, team challenge.TeamCode, mode ResetMode) error
	Stats(ctx context.Context) (*Stats, error)
}
