package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"app/internal/apperr"
	"app/internal/model"
	"app/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memProvisionRepo enforces the same guards as the Postgres implementation:
// one non-terminal provision per user and strictly conditional status
// transitions.
type memProvisionRepo struct {
	mu      sync.Mutex
	records map[string]*model.InfraProvision
}

func newMemProvisionRepo() *memProvisionRepo {
	return &memProvisionRepo{records: make(map[string]*model.InfraProvision)}
}

func (m *memProvisionRepo) GetByID(ctx context.Context, id string) (*model.InfraProvision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memProvisionRepo) GetCurrentForUser(ctx context.Context, userID string) (*model.InfraProvision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.InfraProvision
	for _, p := range m.records {
		if p.UserID != userID || p.Status == model.ProvisionFailed {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memProvisionRepo) CreateQueued(ctx context.Context, p *model.InfraProvision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.UserID == p.UserID && existing.Status != model.ProvisionFailed {
			return repository.ErrActiveProvisionExists
		}
	}
	cp := *p
	cp.Status = model.ProvisionQueued
	cp.CreatedAt = time.Now()
	m.records[cp.ID] = &cp
	p.Status = cp.Status
	p.CreatedAt = cp.CreatedAt
	return nil
}

func (m *memProvisionRepo) MarkRunning(ctx context.Context, id string) (*model.InfraProvision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok || p.Status != model.ProvisionQueued {
		return nil, fmt.Errorf("provision %s cannot transition to RUNNING: %w", id, repository.ErrInvalidTransition)
	}
	now := time.Now()
	p.Status = model.ProvisionRunning
	p.StartedAt = &now
	p.ErrorMessage = nil
	cp := *p
	return &cp, nil
}

func (m *memProvisionRepo) MarkSucceeded(ctx context.Context, id, externalID, endpoint string) (*model.InfraProvision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok || p.Status != model.ProvisionRunning {
		return nil, fmt.Errorf("provision %s cannot transition to SUCCEEDED: %w", id, repository.ErrInvalidTransition)
	}
	now := time.Now()
	p.Status = model.ProvisionSucceeded
	p.ExternalID = &externalID
	p.Endpoint = &endpoint
	p.FinishedAt = &now
	cp := *p
	return &cp, nil
}

func (m *memProvisionRepo) MarkFailed(ctx context.Context, id, errMsg string) (*model.InfraProvision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok || (p.Status != model.ProvisionQueued && p.Status != model.ProvisionRunning) {
		return nil, fmt.Errorf("provision %s cannot transition to FAILED: %w", id, repository.ErrInvalidTransition)
	}
	now := time.Now()
	p.Status = model.ProvisionFailed
	p.ErrorMessage = &errMsg
	p.FinishedAt = &now
	cp := *p
	return &cp, nil
}

func (m *memProvisionRepo) ListQueued(ctx context.Context, limit int) ([]model.InfraProvision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.InfraProvision
	for _, p := range m.records {
		if p.Status == model.ProvisionQueued && len(out) < limit {
			out = append(out, *p)
		}
	}
	return out, nil
}

// failingProvider fails every call, for exercising the no-refund path.
type failingProvider struct{}

func (p *failingProvider) Name() string { return "failing" }
func (p *failingProvider) Provision(ctx context.Context, userID string, tier model.Tier, idempotencyKey string) (*ProvisionResult, error) {
	return nil, &apperr.ExternalProviderError{Provider: "failing", Msg: "allocation rejected"}
}

// captureEnqueuer records announced job payloads.
type captureEnqueuer struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *captureEnqueuer) Send(ctx context.Context, queue string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func newProvisioningFixture(t *testing.T, provider InfraProvider, balanceCents int64) (ProvisioningService, WalletService, *memProvisionRepo, *captureEnqueuer) {
	t.Helper()
	walletRepo := newMemWalletRepo()
	walletSvc := NewWalletService(walletRepo, nil, "", zerolog.Nop())
	if balanceCents > 0 {
		_, err := walletSvc.Credit(context.Background(), "u1", balanceCents, model.ReasonTopup, nil, "", nil)
		require.NoError(t, err)
	}
	repo := newMemProvisionRepo()
	enq := &captureEnqueuer{}
	svc := NewProvisioningService(repo, walletSvc, provider, enq, "provision_jobs", nil, "", zerolog.Nop())
	return svc, walletSvc, repo, enq
}

func TestEnsureNotRequiredForLowTiers(t *testing.T) {
	svc, _, _, _ := newProvisioningFixture(t, &simulatedProvider{}, 0)
	ctx := context.Background()

	for _, tier := range []model.Tier{model.TierFree, model.TierBasic, model.TierPro} {
		res, err := svc.EnsureProvisionForTier(ctx, "u1", tier)
		require.NoError(t, err)
		assert.False(t, res.Required, "tier %s must not require provisioning", tier)
		assert.Nil(t, res.Provision)
	}
}

func TestEnsureQueuesOnceForHighTier(t *testing.T) {
	svc, _, _, enq := newProvisioningFixture(t, &simulatedProvider{}, 0)
	ctx := context.Background()

	res, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)
	assert.True(t, res.Required)
	assert.True(t, res.Queued)
	require.NotNil(t, res.Provision)
	assert.Equal(t, model.ProvisionQueued, res.Provision.Status)
	assert.Equal(t, int64(2500), res.Provision.CostCents)
	assert.Len(t, enq.sent, 1)

	// Second call reports the existing record instead of queueing another.
	again, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)
	assert.False(t, again.Queued)
	assert.True(t, again.InProgress)
	assert.Equal(t, res.Provision.ID, again.Provision.ID)
	assert.Len(t, enq.sent, 1)
}

func TestRunProvisionJobSuccess(t *testing.T) {
	svc, walletSvc, _, _ := newProvisioningFixture(t, &simulatedProvider{}, 10000)
	ctx := context.Background()

	res, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierCreator)
	require.NoError(t, err)
	require.NotNil(t, res.Provision)

	p, err := svc.RunProvisionJob(ctx, res.Provision.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProvisionSucceeded, p.Status)
	require.NotNil(t, p.Endpoint)
	assert.Contains(t, *p.Endpoint, "postgres://")
	require.NotNil(t, p.ExternalID)

	// CREATOR costs 5000 cents.
	balance, err := walletSvc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)
}

func TestRunProvisionJobInsufficientFunds(t *testing.T) {
	svc, walletSvc, _, _ := newProvisioningFixture(t, &simulatedProvider{}, 1000)
	ctx := context.Background()

	// PRO_PLUS costs 2500 cents; a 1000 cent balance cannot cover it.
	res, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)

	p, err := svc.RunProvisionJob(ctx, res.Provision.ID)
	require.Error(t, err)
	ie, ok := apperr.IsInsufficientFunds(err)
	require.True(t, ok)
	assert.Equal(t, int64(2500), ie.NeededCents)
	assert.Equal(t, int64(1000), ie.BalanceCents)
	require.NotNil(t, p)
	assert.Equal(t, model.ProvisionFailed, p.Status)
	require.NotNil(t, p.ErrorMessage)
	assert.Contains(t, *p.ErrorMessage, "insufficient funds")

	// The refused debit left the balance untouched.
	balance, err := walletSvc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestRunProvisionJobProviderFailureKeepsDebit(t *testing.T) {
	svc, walletSvc, _, _ := newProvisioningFixture(t, &failingProvider{}, 10000)
	ctx := context.Background()

	res, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)

	p, err := svc.RunProvisionJob(ctx, res.Provision.ID)
	require.Error(t, err)
	var pe *apperr.ExternalProviderError
	assert.ErrorAs(t, err, &pe)
	require.NotNil(t, p)
	assert.Equal(t, model.ProvisionFailed, p.Status)

	// The fee stays debited; compensation is a manual ADJUSTMENT credit.
	balance, err := walletSvc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7500), balance)
}

func TestRunProvisionJobSucceededIsIdempotent(t *testing.T) {
	svc, walletSvc, _, _ := newProvisioningFixture(t, &simulatedProvider{}, 10000)
	ctx := context.Background()

	res, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)
	first, err := svc.RunProvisionJob(ctx, res.Provision.ID)
	require.NoError(t, err)
	require.Equal(t, model.ProvisionSucceeded, first.Status)
	balanceAfterFirst, _ := walletSvc.Balance(ctx, "u1")

	second, err := svc.RunProvisionJob(ctx, res.Provision.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProvisionSucceeded, second.Status)
	assert.Equal(t, first.ExternalID, second.ExternalID)

	balanceAfterSecond, _ := walletSvc.Balance(ctx, "u1")
	assert.Equal(t, balanceAfterFirst, balanceAfterSecond, "re-run must not debit again")
}

func TestRunProvisionJobFailedIsTerminal(t *testing.T) {
	svc, _, _, _ := newProvisioningFixture(t, &failingProvider{}, 10000)
	ctx := context.Background()

	res, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)
	_, err = svc.RunProvisionJob(ctx, res.Provision.ID)
	require.Error(t, err)

	_, err = svc.RunProvisionJob(ctx, res.Provision.ID)
	require.Error(t, err)
	var ve *apperr.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestEnsureAfterFailureQueuesFresh(t *testing.T) {
	svc, walletSvc, _, _ := newProvisioningFixture(t, &failingProvider{}, 10000)
	ctx := context.Background()

	res, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)
	_, err = svc.RunProvisionJob(ctx, res.Provision.ID)
	require.Error(t, err)

	// Top the wallet back up and request again: the FAILED record does not
	// block a fresh attempt.
	_, err = walletSvc.Credit(ctx, "u1", 2500, model.ReasonAdjustment, nil, "compensation", nil)
	require.NoError(t, err)

	fresh, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)
	assert.True(t, fresh.Queued)
	assert.NotEqual(t, res.Provision.ID, fresh.Provision.ID)
}

func TestRunProvisionJobUnknownID(t *testing.T) {
	svc, _, _, _ := newProvisioningFixture(t, &simulatedProvider{}, 0)
	_, err := svc.RunProvisionJob(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// gatedProvider blocks inside Provision until released, so a second runner can
// be driven against a job that is mid-flight.
type gatedProvider struct {
	calls   int32
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Name() string { return "gated" }
func (p *gatedProvider) Provision(ctx context.Context, userID string, tier model.Tier, idempotencyKey string) (*ProvisionResult, error) {
	atomic.AddInt32(&p.calls, 1)
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	return &ProvisionResult{ExternalID: "ext-1", Endpoint: "postgres://db.internal:5432/u1"}, nil
}

func TestConcurrentRunnersDebitFeeOnce(t *testing.T) {
	provider := &gatedProvider{entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc, walletSvc, _, _ := newProvisioningFixture(t, provider, 10000)
	ctx := context.Background()

	res, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunProvisionJob(ctx, res.Provision.ID)
		done <- err
	}()
	// The first runner has claimed the job and is sitting in the provider call.
	<-provider.entered

	// A second runner arriving now must lose the claim, skip the debit and
	// report the in-flight record.
	p, err := svc.RunProvisionJob(ctx, res.Provision.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.ProvisionRunning, p.Status)

	close(provider.release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.calls))
	balance, err := walletSvc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7500), balance, "provisioning fee must be debited exactly once")
}

// brokenWallet fails every debit with a transient store error.
type brokenWallet struct{}

func (b *brokenWallet) Balance(ctx context.Context, userID string) (int64, error) { return 0, nil }
func (b *brokenWallet) Ledger(ctx context.Context, userID string, limit int) ([]model.WalletLedgerEntry, error) {
	return nil, nil
}
func (b *brokenWallet) Credit(ctx context.Context, userID string, amountCents int64, reason string, externalRef *string, note string, metadata map[string]string) (*model.WalletLedgerEntry, error) {
	return nil, nil
}
func (b *brokenWallet) DebitIfPossible(ctx context.Context, userID string, amountCents int64, reason string, externalRef *string, note string, metadata map[string]string) (bool, int64, error) {
	return false, 0, errors.New("wallet store unavailable")
}

func TestRunProvisionJobDebitErrorEndsFailed(t *testing.T) {
	repo := newMemProvisionRepo()
	svc := NewProvisioningService(repo, &brokenWallet{}, &simulatedProvider{}, nil, "provision_jobs", nil, "", zerolog.Nop())
	ctx := context.Background()

	res, err := svc.EnsureProvisionForTier(ctx, "u1", model.TierProPlus)
	require.NoError(t, err)

	_, err = svc.RunProvisionJob(ctx, res.Provision.ID)
	require.Error(t, err)

	// Nothing re-enters RUNNING, so the debit error still lands on FAILED.
	p, err := repo.GetByID(ctx, res.Provision.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.ProvisionFailed, p.Status)
	require.NotNil(t, p.ErrorMessage)
	assert.Contains(t, *p.ErrorMessage, "debit failed")
}
