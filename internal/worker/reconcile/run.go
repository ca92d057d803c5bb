package reconcile

import (
	"context"
	"time"

	"app/internal/config"
	"app/internal/pubsub"
	"app/internal/reconciler"
	"app/internal/repository"
	"app/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Run starts the reconciliation worker. Two scheduled sweeps: queued
// provisions are drained every five minutes in case queue messages were lost,
// and monthly usage counters are reset shortly after each day rolls over.
func Run(ctx context.Context, logger zerolog.Logger, cfg *config.Config, pool *pgxpool.Pool) error {
	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
		}
		publisher = p
	}

	userRepo := repository.NewUserRepo(pool)
	walletRepo := repository.NewWalletRepo(pool)
	provisionRepo := repository.NewProvisionRepo(pool)
	walletSvc := service.NewWalletService(walletRepo, publisher, cfg.BillingEventsTopic, logger)
	provider := service.NewInfraProvider(cfg)
	provisioningSvc := service.NewProvisioningService(provisionRepo, walletSvc, provider, nil, cfg.ProvisionQueueName, publisher, cfg.BillingEventsTopic, logger)
	rec := reconciler.New(userRepo, provisionRepo, provisioningSvc, logger)

	c := cron.New()
	if _, err := c.AddFunc("*/5 * * * *", func() {
		if _, err := rec.DrainQueuedProvisions(ctx, cfg.ReconcileDrainBatch); err != nil {
			logger.Error().Err(err).Msg("Provision drain sweep failed")
		}
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc("10 0 * * *", func() {
		if _, err := rec.ResetMonthlyUsage(ctx, time.Now()); err != nil {
			logger.Error().Err(err).Msg("Monthly usage reset sweep failed")
		}
	}); err != nil {
		return err
	}

	logger.Info().Int("drain_batch", cfg.ReconcileDrainBatch).Msg("Starting reconciliation worker")
	c.Start()
	<-ctx.Done()
	logger.Info().Msg("Shutting down reconciliation worker")

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("Timed out waiting for running sweeps to finish")
	}
	return nil
}
