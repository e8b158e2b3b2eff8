package cmd

import (
	"fmt"
	"os"

	"github.com/28Pollux28/zync/internal/challenge"
	"github.com/28Pollux28/zync/internal/orchestrator"
	"github.com/28Pollux28/zync/pkg/config"
	"github.com/28Pollux28/zync/pkg/metrics"
	"go.uber.org/zap"
)

var fixturesDir string

// newOrchestrator returns the in-memory fixture orchestrator when a fixtures
// directory is configured, the HTTP client otherwise. The returned func
// releases it.
func newOrchestrator(cfg *config.Config) (orchestrator.Orchestrator, func(), error) {
	oc := cfg.Orchestrator
	if fixturesDir != "" {
		oc.FixturesDir = fixturesDir
	}

	if oc.FixturesDir != "" {
		idx, err := challenge.NewIndex(oc.FixturesDir)
		if err != nil {
			return nil, nil, fmt.Errorf("load fixtures from %s: %w", oc.FixturesDir, err)
		}
		var opts []orchestrator.MemoryOption
		if oc.ProvisionDelay > 0 {
			opts = append(opts, orchestrator.WithProvisionDelay(oc.ProvisionDelay))
		}
		mem := orchestrator.NewMemory(idx, opts...)
		zap.S().Infof("Using fixture orchestrator with %d challenges from %s", len(idx.GetAll()), oc.FixturesDir)
		return metrics.Instrument(mem), mem.Close, nil
	}

	// Orchestrator secret strictly from env when set
	secret := os.Getenv("ORCHESTRATOR_SECRET")
	if secret == "" {
		secret = oc.Secret
	}
	client, err := orchestrator.NewClient(orchestrator.ClientConfig{
		BaseURL:     oc.URL,
		Secret:      secret,
		Role:        oc.Role,
		Timeout:     oc.Timeout,
		InsecureTLS: oc.InsecureTLS,
	})
	if err != nil {
		return nil, nil, err
	}
	zap.S().Infof("Using orchestrator at %s", oc.URL)
	return metrics.Instrument(client), func() {}, nil
}
