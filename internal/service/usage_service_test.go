package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"app/internal/apperr"
	"app/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memUserRepo mimics the conditional UPDATE semantics of the Postgres user
// repository: every counter mutation checks its own precondition under one
// lock.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
	usage map[string]*model.UserUsage
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		users: make(map[string]*model.User),
		usage: make(map[string]*model.UserUsage),
	}
}

func (m *memUserRepo) addUser(userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = &model.User{UserID: userID, Role: role, Email: userID + "@example.com"}
	m.usage[userID] = &model.UserUsage{UserID: userID, MonthlyUsageResetAt: time.Now()}
}

func (m *memUserRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *memUserRepo) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.StripeCustomerID != nil && *u.StripeCustomerID == customerID {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.StripeCustomerID = &customerID
	}
	return nil
}

func (m *memUserRepo) GetUsage(ctx context.Context, userID string) (*model.UserUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) ReserveFreeUnit(ctx context.Context, userID string, kind model.UsageKind, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[userID]
	if !ok {
		return false, nil
	}
	var counter *int
	switch kind {
	case model.UsageAITraining:
		counter = &u.FreeAITrainingUsed
	case model.UsageVideoUpload:
		counter = &u.FreeVideoUploads
	case model.UsageEduVideoView:
		counter = &u.FreeEduVideoViews
	default:
		return false, nil
	}
	if *counter >= limit {
		return false, nil
	}
	*counter++
	return true, nil
}

func (m *memUserRepo) AddUploadBytesWithinBudget(ctx context.Context, userID string, size int64, monthlyBudget, totalBudget *int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[userID]
	if !ok {
		return false, nil
	}
	if monthlyBudget != nil && u.MonthlyUploadBytes+size > *monthlyBudget {
		return false, nil
	}
	if totalBudget != nil && u.TotalUploadBytes+size > *totalBudget {
		return false, nil
	}
	u.MonthlyUploadBytes += size
	u.TotalUploadBytes += size
	return true, nil
}

func (m *memUserRepo) AddUploadBytes(ctx context.Context, userID string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.usage[userID]; ok {
		u.MonthlyUploadBytes += size
		u.TotalUploadBytes += size
	}
	return nil
}

func (m *memUserRepo) ResetMonthlyUsage(ctx context.Context, monthStart time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, u := range m.usage {
		if u.MonthlyUsageResetAt.Before(monthStart) {
			u.MonthlyUploadBytes = 0
			u.MonthlyUsageResetAt = monthStart
			n++
		}
	}
	return n, nil
}

// fixedTierPlanService pins the effective tier for tests.
type fixedTierPlanService struct {
	tier model.Tier
}

func (f *fixedTierPlanService) EffectiveTier(ctx context.Context, userID string) (model.Tier, error) {
	return f.tier, nil
}
func (f *fixedTierPlanService) Overview(ctx context.Context, userID string) (*PlanOverview, error) {
	return &PlanOverview{Tier: f.tier}, nil
}
func (f *fixedTierPlanService) History(ctx context.Context, userID string) ([]model.Plan, error) {
	return nil, nil
}
func (f *fixedTierPlanService) EnsureFreePlan(ctx context.Context, userID string) error {
	return nil
}
func (f *fixedTierPlanService) UpsertStripePlan(ctx context.Context, userID string, tier model.Tier, startsAt, endsAt time.Time, status, stripeSubscriptionID string) error {
	return nil
}
func (f *fixedTierPlanService) ExpireStripePlan(ctx context.Context, userID, stripeSubscriptionID string) error {
	return nil
}

func TestReserveFreeAITrainingCapEnforced(t *testing.T) {
	userRepo := newMemUserRepo()
	userRepo.addUser("u1", "")
	svc := NewUsageService(userRepo, &fixedTierPlanService{tier: model.TierFree}, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Reserve(ctx, "u1", model.UsageAITraining))
	}

	err := svc.Reserve(ctx, "u1", model.UsageAITraining)
	qe, ok := apperr.IsQuotaExceeded(err)
	require.True(t, ok, "fourth reservation must refuse with a quota error")
	assert.Equal(t, CodeFreeAITrainingLimit, qe.Code)
	assert.Equal(t, 3, qe.Used)
	assert.Equal(t, 3, qe.Limit)

	// The refused attempt consumed nothing.
	usage, err := userRepo.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, usage.FreeAITrainingUsed)
}

func TestReserveEduVideoCapIsTwo(t *testing.T) {
	userRepo := newMemUserRepo()
	userRepo.addUser("u1", "")
	svc := NewUsageService(userRepo, &fixedTierPlanService{tier: model.TierFree}, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, "u1", model.UsageEduVideoView))
	require.NoError(t, svc.Reserve(ctx, "u1", model.UsageEduVideoView))

	err := svc.Reserve(ctx, "u1", model.UsageEduVideoView)
	qe, ok := apperr.IsQuotaExceeded(err)
	require.True(t, ok)
	assert.Equal(t, CodeFreeEduVideoLimit, qe.Code)
}

func TestReservePaidTierPassesThrough(t *testing.T) {
	userRepo := newMemUserRepo()
	userRepo.addUser("u1", "")
	svc := NewUsageService(userRepo, &fixedTierPlanService{tier: model.TierPro}, zerolog.Nop())
	ctx := context.Background()

	// Far more than any free cap; paid tiers are not metered here.
	for i := 0; i < 20; i++ {
		require.NoError(t, svc.Reserve(ctx, "u1", model.UsageVideoUpload))
	}
	usage, err := userRepo.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.FreeVideoUploads)
}

func TestReserveConcurrentExactlyCapWins(t *testing.T) {
	userRepo := newMemUserRepo()
	userRepo.addUser("u1", "")
	svc := NewUsageService(userRepo, &fixedTierPlanService{tier: model.TierFree}, zerolog.Nop())
	ctx := context.Background()

	const attempts = 12
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.Reserve(ctx, "u1", model.UsageVideoUpload)
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
		} else {
			_, ok := apperr.IsQuotaExceeded(err)
			assert.True(t, ok)
		}
	}
	assert.Equal(t, 3, won)

	usage, err := userRepo.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, usage.FreeVideoUploads)
}

func TestReserveUnknownKindRejected(t *testing.T) {
	userRepo := newMemUserRepo()
	userRepo.addUser("u1", "")
	svc := NewUsageService(userRepo, &fixedTierPlanService{tier: model.TierFree}, zerolog.Nop())

	err := svc.Reserve(context.Background(), "u1", model.UsageKind("mystery"))
	require.Error(t, err)
	var ve *apperr.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSummaryUnknownUser(t *testing.T) {
	userRepo := newMemUserRepo()
	svc := NewUsageService(userRepo, &fixedTierPlanService{tier: model.TierFree}, zerolog.Nop())

	_, err := svc.Summary(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
