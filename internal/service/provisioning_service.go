package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"app/internal/apperr"
	"app/internal/model"
	"app/internal/pubsub"
	"app/internal/quota"
	"app/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EnsureResult reports what EnsureProvisionForTier decided.
type EnsureResult struct {
	Required           bool                  `json:"required"`
	AlreadyProvisioned bool                  `json:"already_provisioned,omitempty"`
	InProgress         bool                  `json:"in_progress,omitempty"`
	Queued             bool                  `json:"queued,omitempty"`
	Provision          *model.InfraProvision `json:"provision,omitempty"`
}

// ProvisionJobMessage is the pgmq payload that tells the worker to run a job.
type ProvisionJobMessage struct {
	ProvisionID string `json:"provision_id"`
}

// JobEnqueuer pushes provision job messages for the worker. Satisfied by the
// pgmq client through a small adapter in the router.
type JobEnqueuer interface {
	Send(ctx context.Context, queue string, payload []byte) error
}

// ProvisioningService drives the QUEUED -> RUNNING -> SUCCEEDED/FAILED state
// machine. A user has at most one non-terminal provision; only a FAILED
// terminal state allows a fresh attempt.
type ProvisioningService interface {
	// EnsureProvisionForTier makes sure a provision exists for tiers that
	// require one. Idempotent: an existing QUEUED/RUNNING/SUCCEEDED record is
	// reported, never duplicated.
	EnsureProvisionForTier(ctx context.Context, userID string, tier model.Tier) (*EnsureResult, error)
	// RunProvisionJob executes one queued job: claim first, then the debit,
	// then the provider call. Re-running a SUCCEEDED job returns it unchanged
	// with no side effects, and losing the claim to a concurrent runner
	// returns the current record without debiting.
	RunProvisionJob(ctx context.Context, provisionID string) (*model.InfraProvision, error)
	// CurrentForUser returns the user's non-terminal provision, if any.
	CurrentForUser(ctx context.Context, userID string) (*model.InfraProvision, error)
}

type provisioningService struct {
	repo      repository.ProvisionRepository
	walletSvc WalletService
	provider  InfraProvider
	enqueuer  JobEnqueuer
	queueName string
	publisher pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

// NewProvisioningService creates a new ProvisioningService with a scoped
// logger. enqueuer and publisher may be nil; the reconciler drain picks up
// jobs that were never announced.
func NewProvisioningService(repo repository.ProvisionRepository, walletSvc WalletService, provider InfraProvider, enqueuer JobEnqueuer, queueName string, publisher pubsub.Publisher, topic string, logger zerolog.Logger) ProvisioningService {
	return &provisioningService{
		repo:      repo,
		walletSvc: walletSvc,
		provider:  provider,
		enqueuer:  enqueuer,
		queueName: queueName,
		publisher: publisher,
		topic:     topic,
		logger:    logger.With().Str("service", "ProvisioningService").Logger(),
	}
}

func (s *provisioningService) CurrentForUser(ctx context.Context, userID string) (*model.InfraProvision, error) {
	return s.repo.GetCurrentForUser(ctx, userID)
}

func (s *provisioningService) EnsureProvisionForTier(ctx context.Context, userID string, tier model.Tier) (*EnsureResult, error) {
	limits := quota.UploadLimitsFor(tier)
	if !limits.RequiresPhysicalProvision {
		return &EnsureResult{Required: false}, nil
	}

	existing, err := s.repo.GetCurrentForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("look up current provision: %w", err)
	}
	if existing != nil {
		return s.resultForExisting(existing), nil
	}

	provision := &model.InfraProvision{
		ID:             uuid.New().String(),
		UserID:         userID,
		Tier:           tier,
		Provider:       s.provider.Name(),
		TargetKind:     model.ProvisionTargetDedicatedPostgres,
		CostCents:      limits.ProvisionCostCents,
		IdempotencyKey: uuid.New().String(),
	}
	err = s.repo.CreateQueued(ctx, provision)
	if errors.Is(err, repository.ErrActiveProvisionExists) {
		// Lost the insert race; the winner's record is authoritative.
		existing, lerr := s.repo.GetCurrentForUser(ctx, userID)
		if lerr != nil {
			return nil, fmt.Errorf("reload provision after insert race: %w", lerr)
		}
		if existing == nil {
			return nil, fmt.Errorf("provision insert race with no surviving record for user %s", userID)
		}
		return s.resultForExisting(existing), nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue provision: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Str("provision_id", provision.ID).Str("tier", string(tier)).Msg("Provision queued")
	s.announceJob(ctx, provision.ID)
	s.publishEvent(ctx, pubsub.EventProvisionQueued, provision)

	return &EnsureResult{Required: true, Queued: true, Provision: provision}, nil
}

func (s *provisioningService) resultForExisting(p *model.InfraProvision) *EnsureResult {
	if p.Status == model.ProvisionSucceeded {
		return &EnsureResult{Required: true, AlreadyProvisioned: true, Provision: p}
	}
	return &EnsureResult{Required: true, InProgress: true, Provision: p}
}

func (s *provisioningService) RunProvisionJob(ctx context.Context, provisionID string) (*model.InfraProvision, error) {
	provision, err := s.repo.GetByID(ctx, provisionID)
	if err != nil {
		return nil, fmt.Errorf("load provision %s: %w", provisionID, err)
	}
	if provision == nil {
		return nil, apperr.ErrNotFound
	}
	if provision.Status == model.ProvisionSucceeded {
		// Idempotent re-run: no debit, no provider call.
		return provision, nil
	}
	if provision.Status == model.ProvisionFailed {
		return nil, apperr.Validationf("provision %s already failed; a new request must queue a fresh record", provisionID)
	}

	provision, err = s.repo.MarkRunning(ctx, provisionID)
	if errors.Is(err, repository.ErrInvalidTransition) {
		// Another runner claimed the job between the load and the claim. Its
		// outcome is authoritative; report the current record and do nothing.
		current, lerr := s.repo.GetByID(ctx, provisionID)
		if lerr != nil {
			return nil, fmt.Errorf("reload provision %s after lost claim: %w", provisionID, lerr)
		}
		if current == nil {
			return nil, apperr.ErrNotFound
		}
		s.logger.Info().Str("provision_id", provisionID).Str("status", current.Status).Msg("Provision already claimed by another runner; skipping")
		return current, nil
	}
	if err != nil {
		return nil, err
	}

	ok, balance, err := s.walletSvc.DebitIfPossible(ctx, provision.UserID, provision.CostCents, model.ReasonProvisioning, nil,
		"one-time provisioning fee", map[string]string{"provision_id": provision.ID})
	if err != nil {
		// The debit never happened, but nothing re-enters a RUNNING record, so
		// the error path still terminates at FAILED. A fresh ensure retries.
		msg := fmt.Sprintf("debit failed: %v", err)
		failed, ferr := s.repo.MarkFailed(ctx, provisionID, msg)
		if ferr != nil {
			s.logger.Error().Err(ferr).Str("provision_id", provisionID).Msg("Failed to mark provision failed after debit error")
		} else {
			s.publishEvent(ctx, pubsub.EventProvisionFailed, failed)
		}
		return nil, fmt.Errorf("debit provisioning fee: %w", err)
	}
	if !ok {
		msg := fmt.Sprintf("insufficient funds: need %d cents, balance %d cents", provision.CostCents, balance)
		failed, ferr := s.repo.MarkFailed(ctx, provisionID, msg)
		if ferr != nil {
			return nil, ferr
		}
		s.publishEvent(ctx, pubsub.EventProvisionFailed, failed)
		return failed, &apperr.InsufficientFundsError{UserID: provision.UserID, NeededCents: provision.CostCents, BalanceCents: balance}
	}

	result, err := s.provider.Provision(ctx, provision.UserID, provision.Tier, provision.IdempotencyKey)
	if err != nil {
		// The debit is deliberately not refunded here; see the ADJUSTMENT
		// reason for manual compensation.
		failed, ferr := s.repo.MarkFailed(ctx, provisionID, err.Error())
		if ferr != nil {
			return nil, ferr
		}
		s.logger.Error().Err(err).Str("provision_id", provisionID).Msg("Provider call failed")
		s.publishEvent(ctx, pubsub.EventProvisionFailed, failed)
		return failed, err
	}

	succeeded, err := s.repo.MarkSucceeded(ctx, provisionID, result.ExternalID, result.Endpoint)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("provision_id", provisionID).Str("external_id", result.ExternalID).Msg("Provision succeeded")
	s.publishEvent(ctx, pubsub.EventProvisionSucceeded, succeeded)
	return succeeded, nil
}

func (s *provisioningService) announceJob(ctx context.Context, provisionID string) {
	if s.enqueuer == nil {
		return
	}
	payload, err := json.Marshal(ProvisionJobMessage{ProvisionID: provisionID})
	if err != nil {
		s.logger.Warn().Err(err).Str("provision_id", provisionID).Msg("Failed to marshal job message")
		return
	}
	if err := s.enqueuer.Send(ctx, s.queueName, payload); err != nil {
		// The reconciler drain will still find the QUEUED record.
		s.logger.Warn().Err(err).Str("provision_id", provisionID).Msg("Failed to enqueue provision job")
	}
}

func (s *provisioningService) publishEvent(ctx context.Context, event string, p *model.InfraProvision) {
	if s.publisher == nil || p == nil {
		return
	}
	payload, err := pubsub.Envelope(event, p.UserID, map[string]string{
		"provision_id": p.ID,
		"status":       p.Status,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("Failed to build lifecycle event")
		return
	}
	if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("Failed to publish lifecycle event")
	}
}
