package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/basketlabs/bvm/internal/logger"
)

// Scheduler drives automated upkeep for one vault instance. Each pass runs
// the check and execute steps back to back against the same snapshot.
type Scheduler struct {
	vault       *Vault
	logger      zerolog.Logger
	upkeepCount int
}

// NewScheduler creates a scheduler for the given vault.
func NewScheduler(v *Vault) (*Scheduler, error) {
	if v == nil {
		return nil, errors.New("vault cannot be nil")
	}
	return &Scheduler{
		vault:  v,
		logger: logger.GetForComponent("scheduler"),
	}, nil
}

// RunLoop starts the upkeep loop with the specified interval
func (s *Scheduler) RunLoop(ctx context.Context, interval time.Duration) {
	s.logger.Info().
		Dur("interval", interval).
		Msg("Starting upkeep loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first pass immediately
	s.runUpkeep(ctx)

	// Continue with ticker
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Upkeep loop stopped due to context cancellation")
			return
		case <-ticker.C:
			s.runUpkeep(ctx)
		}
	}
}

// runUpkeep performs one check/execute pass.
func (s *Scheduler) runUpkeep(ctx context.Context) {
	s.upkeepCount++
	passLogger := s.logger.With().Int("pass", s.upkeepCount).Logger()

	if !s.vault.AutomationEnabled() {
		passLogger.Debug().Msg("Automation disabled, skipping upkeep pass")
		return
	}

	needed, snapshot, err := s.vault.NeedsRebalance(ctx)
	if err != nil {
		passLogger.Error().Err(err).Msg("Upkeep check failed")
		return
	}
	if !needed {
		passLogger.Info().
			Str("total_usd", snapshot.TotalUSD.String()).
			Msg("Portfolio within threshold, no upkeep needed")
		return
	}

	passLogger.Info().
		Str("total_usd", snapshot.TotalUSD.String()).
		Msg("Deviation detected, executing upkeep")

	report, err := s.vault.PerformUpkeep(ctx, snapshot)
	if err != nil {
		passLogger.Error().Err(err).Msg("Upkeep execution failed")
		return
	}

	passLogger.Info().
		Str("trace_id", report.TraceID).
		Int("trades", len(report.Receipts)).
		Int("skipped_pairs", report.SkippedPairs).
		Msg("Upkeep pass completed")
}
