package service

import (
	"context"
	"fmt"

	"app/internal/model"
	"app/internal/pubsub"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// WalletService owns every mutation of the prepaid balance. Both directions
// couple the balance change with a ledger append inside one transaction, so the
// ledger always reconstructs the balance.
type WalletService interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Ledger(ctx context.Context, userID string, limit int) ([]model.WalletLedgerEntry, error)
	// Credit adds funds. Idempotent when externalRef is set: a duplicate
	// delivery of the same ref credits nothing and returns a nil entry.
	// Amounts <= 0 are a silent no-op.
	Credit(ctx context.Context, userID string, amountCents int64, reason string, externalRef *string, note string, metadata map[string]string) (*model.WalletLedgerEntry, error)
	// DebitIfPossible removes funds only when the balance covers the amount.
	// ok reports whether the debit happened; balanceAfter is the resulting
	// balance either way. Amounts <= 0 succeed without mutating anything.
	DebitIfPossible(ctx context.Context, userID string, amountCents int64, reason string, externalRef *string, note string, metadata map[string]string) (ok bool, balanceAfter int64, err error)
}

type walletService struct {
	repo      repository.WalletRepository
	publisher pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

// NewWalletService creates a new WalletService with a scoped logger. The
// publisher may be nil; lifecycle events are best-effort.
func NewWalletService(repo repository.WalletRepository, publisher pubsub.Publisher, topic string, logger zerolog.Logger) WalletService {
	return &walletService{
		repo:      repo,
		publisher: publisher,
		topic:     topic,
		logger:    logger.With().Str("service", "WalletService").Logger(),
	}
}

func (s *walletService) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch wallet balance")
		return 0, err
	}
	return balance, nil
}

func (s *walletService) Ledger(ctx context.Context, userID string, limit int) ([]model.WalletLedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	entries, err := s.repo.ListLedger(ctx, userID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list wallet ledger")
		return nil, err
	}
	return entries, nil
}

func (s *walletService) Credit(ctx context.Context, userID string, amountCents int64, reason string, externalRef *string, note string, metadata map[string]string) (*model.WalletLedgerEntry, error) {
	if amountCents <= 0 {
		return nil, nil
	}
	entry, duplicate, err := s.repo.Credit(ctx, repository.LedgerWriteParams{
		UserID:      userID,
		AmountCents: amountCents,
		Reason:      reason,
		ExternalRef: externalRef,
		Note:        note,
		Metadata:    metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Int64("amount_cents", amountCents).Msg("Failed to credit wallet")
		return nil, fmt.Errorf("credit wallet: %w", err)
	}
	if duplicate {
		ref := ""
		if externalRef != nil {
			ref = *externalRef
		}
		s.logger.Info().Str("user_id", userID).Str("external_ref", ref).Msg("Duplicate credit ignored")
		return nil, nil
	}
	s.publishEvent(ctx, pubsub.EventWalletCredited, userID, map[string]int64{
		"amount_cents":  amountCents,
		"balance_after": entry.BalanceAfterCents,
	})
	return entry, nil
}

func (s *walletService) DebitIfPossible(ctx context.Context, userID string, amountCents int64, reason string, externalRef *string, note string, metadata map[string]string) (bool, int64, error) {
	if amountCents <= 0 {
		balance, err := s.repo.GetBalance(ctx, userID)
		return err == nil, balance, err
	}
	entry, ok, err := s.repo.ConditionalDebit(ctx, repository.LedgerWriteParams{
		UserID:      userID,
		AmountCents: amountCents,
		Reason:      reason,
		ExternalRef: externalRef,
		Note:        note,
		Metadata:    metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Int64("amount_cents", amountCents).Msg("Failed to debit wallet")
		return false, 0, fmt.Errorf("debit wallet: %w", err)
	}
	if !ok {
		balance, berr := s.repo.GetBalance(ctx, userID)
		if berr != nil {
			return false, 0, berr
		}
		s.logger.Warn().Str("user_id", userID).Int64("amount_cents", amountCents).Int64("balance_cents", balance).Msg("Debit refused: insufficient funds")
		return false, balance, nil
	}
	s.publishEvent(ctx, pubsub.EventWalletDebited, userID, map[string]int64{
		"amount_cents":  amountCents,
		"balance_after": entry.BalanceAfterCents,
	})
	return true, entry.BalanceAfterCents, nil
}

func (s *walletService) publishEvent(ctx context.Context, event, userID string, detail any) {
	if s.publisher == nil {
		return
	}
	payload, err := pubsub.Envelope(event, userID, detail)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("Failed to build lifecycle event")
		return
	}
	if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
		// Event delivery is best-effort; the ledger is the source of truth.
		s.logger.Warn().Err(err).Str("event", event).Msg("Failed to publish lifecycle event")
	}
}
