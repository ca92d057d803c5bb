package provision

import (
	"context"
	"encoding/json"
	"time"

	"app/internal/config"
	"app/internal/pgmq"
	"app/internal/pubsub"
	"app/internal/repository"
	"app/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Run starts the provisioning worker. It polls the provision queue and drives
// each job to a terminal state. Jobs are deleted after every run attempt;
// retries happen through the reconciler sweep, not redelivery, because a
// FAILED record is a deliberate terminal outcome.
func Run(ctx context.Context, logger zerolog.Logger, cfg *config.Config, pool *pgxpool.Pool) error {
	queue := cfg.ProvisionQueueName
	client := pgmq.New(pool)

	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
		}
		publisher = p
	}

	walletRepo := repository.NewWalletRepo(pool)
	provisionRepo := repository.NewProvisionRepo(pool)
	walletSvc := service.NewWalletService(walletRepo, publisher, cfg.BillingEventsTopic, logger)
	provider := service.NewInfraProvider(cfg)
	provisioningSvc := service.NewProvisioningService(provisionRepo, walletSvc, provider, client, queue, publisher, cfg.BillingEventsTopic, logger)

	logger.Info().Str("queue", queue).Msg("Starting provisioning worker")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down provisioning worker")
			return nil
		default:
		}

		msgs, err := client.ReadWithPoll(ctx, queue, cfg.ProvisionPollTimeoutSec, cfg.ProvisionPollMaxMsg)
		if err != nil {
			logger.Error().Err(err).Msg("Error reading provision queue")
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		msg := msgs[0]
		logger.Info().Int64("msg_id", msg.ID).Msgf("Received provision job: %s", string(msg.Data))

		var payload service.ProvisionJobMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.Error().Err(err).Msg("Failed to unmarshal provision payload; deleting message")
			client.Delete(ctx, queue, []int64{msg.ID})
			continue
		}

		prov, err := provisioningSvc.RunProvisionJob(ctx, payload.ProvisionID)
		if err != nil {
			logger.Warn().Err(err).Str("provision_id", payload.ProvisionID).Msg("Provision job did not succeed")
		} else if prov != nil {
			logger.Info().Str("provision_id", prov.ID).Str("status", prov.Status).Msg("Provision job finished")
		}

		if err := client.Delete(ctx, queue, []int64{msg.ID}); err != nil {
			logger.Error().Err(err).Msg("Error deleting provision message")
		}
	}
}
