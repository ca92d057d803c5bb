package service

import (
	"context"
	"time"

	"app/internal/model"
	"app/internal/quota"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// PlanOverview is the effective tier together with every limit table derived
// from it.
type PlanOverview struct {
	Tier         model.Tier         `json:"tier"`
	ActivePlan   *model.Plan        `json:"active_plan,omitempty"`
	LoraLimits   quota.LoraLimits   `json:"lora_limits"`
	UploadLimits quota.UploadLimits `json:"upload_limits"`
	FreeTierCaps quota.FreeTierCaps `json:"free_tier_caps"`
}

// PlanService resolves the authoritative tier for a user and exposes the
// derived limits.
type PlanService interface {
	// EffectiveTier resolves the tier from the user's role and active plans.
	EffectiveTier(ctx context.Context, userID string) (model.Tier, error)
	Overview(ctx context.Context, userID string) (*PlanOverview, error)
	// History returns the user's full plan history, newest start first.
	History(ctx context.Context, userID string) ([]model.Plan, error)
	// EnsureFreePlan seeds the baseline FREE plan row for a user with no plan
	// history. A no-op afterwards.
	EnsureFreePlan(ctx context.Context, userID string) error
	UpsertStripePlan(ctx context.Context, userID string, tier model.Tier, startsAt, endsAt time.Time, status, stripeSubscriptionID string) error
	ExpireStripePlan(ctx context.Context, userID, stripeSubscriptionID string) error
}

// ResolveTier is the pure tier-resolution function: an admin role overrides
// everything, otherwise the most recently started ACTIVE plan wins, otherwise
// FREE. Keeping it pure keeps the admin override in exactly one place.
func ResolveTier(role string, plans []model.Plan, now time.Time) model.Tier {
	if role == model.RoleAdmin {
		return model.TierCreator
	}
	var best *model.Plan
	for i := range plans {
		p := &plans[i]
		if !p.IsActiveAt(now) {
			continue
		}
		if best == nil || p.StartsAt.After(best.StartsAt) {
			best = p
		}
	}
	if best == nil {
		return model.TierFree
	}
	return best.Tier
}

type planService struct {
	planRepo repository.PlanRepository
	userRepo repository.UserRepository
	logger   zerolog.Logger
}

// NewPlanService creates a new PlanService with a scoped logger.
func NewPlanService(planRepo repository.PlanRepository, userRepo repository.UserRepository, logger zerolog.Logger) PlanService {
	return &planService{
		planRepo: planRepo,
		userRepo: userRepo,
		logger:   logger.With().Str("service", "PlanService").Logger(),
	}
}

func (s *planService) EffectiveTier(ctx context.Context, userID string) (model.Tier, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user for tier resolution")
		return model.TierFree, err
	}
	role := ""
	if user != nil {
		role = user.Role
	}
	now := time.Now()
	plans, err := s.planRepo.GetActivePlans(ctx, userID, now)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch active plans")
		return model.TierFree, err
	}
	return ResolveTier(role, plans, now), nil
}

func (s *planService) Overview(ctx context.Context, userID string) (*PlanOverview, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	role := ""
	if user != nil {
		role = user.Role
	}
	now := time.Now()
	plans, err := s.planRepo.GetActivePlans(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	tier := ResolveTier(role, plans, now)
	overview := &PlanOverview{
		Tier:         tier,
		LoraLimits:   quota.LoraLimitsFor(tier),
		UploadLimits: quota.UploadLimitsFor(tier),
		FreeTierCaps: quota.FreeCaps(),
	}
	if len(plans) > 0 {
		overview.ActivePlan = &plans[0]
	}
	return overview, nil
}

func (s *planService) History(ctx context.Context, userID string) ([]model.Plan, error) {
	plans, err := s.planRepo.ListPlansForUser(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list plan history")
		return nil, err
	}
	return plans, nil
}

func (s *planService) EnsureFreePlan(ctx context.Context, userID string) error {
	if err := s.planRepo.EnsureFreePlan(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to ensure free plan")
		return err
	}
	return nil
}

func (s *planService) UpsertStripePlan(ctx context.Context, userID string, tier model.Tier, startsAt, endsAt time.Time, status, stripeSubscriptionID string) error {
	if err := s.planRepo.UpsertStripePlan(ctx, userID, tier, startsAt, endsAt, status, stripeSubscriptionID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("tier", string(tier)).Msg("Failed to upsert stripe plan")
		return err
	}
	return nil
}

func (s *planService) ExpireStripePlan(ctx context.Context, userID, stripeSubscriptionID string) error {
	if err := s.planRepo.ExpireStripePlan(ctx, userID, stripeSubscriptionID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to expire stripe plan")
		return err
	}
	return nil
}
