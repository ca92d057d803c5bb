package reconciler

import (
	"context"
	"time"

	"app/internal/model"
	"app/internal/repository"
	"app/internal/service"

	"github.com/rs/zerolog"
)

// Reconciler runs the periodic sweeps: draining stuck queued provisions and
// resetting monthly usage counters at calendar month boundaries.
type Reconciler struct {
	userRepo        repository.UserRepository
	provisionRepo   repository.ProvisionRepository
	provisioningSvc service.ProvisioningService
	logger          zerolog.Logger
}

func New(userRepo repository.UserRepository, provisionRepo repository.ProvisionRepository, provisioningSvc service.ProvisioningService, logger zerolog.Logger) *Reconciler {
	lg := logger.With().Str("service", "Reconciler").Logger()
	return &Reconciler{userRepo: userRepo, provisionRepo: provisionRepo, provisioningSvc: provisioningSvc, logger: lg}
}

// DrainResult reports one drain pass. Failures count jobs that reached a
// FAILED terminal state or errored; skips count jobs a concurrent runner
// claimed first. Each job is independent, so one failure never stops the
// batch.
type DrainResult struct {
	Picked    int
	Succeeded int
	Failed    int
	Skipped   int
}

// DrainQueuedProvisions picks up to batch queued provisions, oldest first, and
// runs each to a terminal state. Jobs a worker already claimed lose the QUEUED
// to RUNNING claim inside RunProvisionJob and come back non-terminal; they are
// skipped, not errors.
func (r *Reconciler) DrainQueuedProvisions(ctx context.Context, batch int) (DrainResult, error) {
	var res DrainResult
	queued, err := r.provisionRepo.ListQueued(ctx, batch)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list queued provisions")
		return res, err
	}
	res.Picked = len(queued)
	for _, p := range queued {
		prov, err := r.provisioningSvc.RunProvisionJob(ctx, p.ID)
		switch {
		case err != nil:
			r.logger.Warn().Err(err).Str("provision_id", p.ID).Msg("Provision drain run failed")
			res.Failed++
		case prov != nil && prov.Status == model.ProvisionSucceeded:
			res.Succeeded++
		case prov != nil && !prov.IsTerminal():
			res.Skipped++
		default:
			res.Failed++
		}
	}
	r.logger.Info().Int("picked", res.Picked).Int("succeeded", res.Succeeded).Int("failed", res.Failed).Int("skipped", res.Skipped).Msg("Provision drain pass complete")
	return res, nil
}

// ResetMonthlyUsage zeroes monthly counters for users whose last reset falls
// before the current calendar month. Safe to run daily: already-reset rows
// do not match the predicate.
func (r *Reconciler) ResetMonthlyUsage(ctx context.Context, now time.Time) (int64, error) {
	monthStart := MonthStart(now)
	n, err := r.userRepo.ResetMonthlyUsage(ctx, monthStart)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to reset monthly usage counters")
		return 0, err
	}
	if n > 0 {
		r.logger.Info().Int64("users_reset", n).Time("month_start", monthStart).Msg("Monthly usage counters reset")
	}
	return n, nil
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
