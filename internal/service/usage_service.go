package service

import (
	"context"
	"fmt"

	"app/internal/apperr"
	"app/internal/model"
	"app/internal/quota"
	"app/internal/repository"

	"github.com/rs/zerolog"
)

// Quota error codes carried by QuotaExceededError.
const (
	CodeFreeAITrainingLimit  = "FREE_AI_TRAINING_LIMIT_REACHED"
	CodeFreeVideoUploadLimit = "FREE_VIDEO_UPLOAD_LIMIT_REACHED"
	CodeFreeEduVideoLimit    = "FREE_EDU_VIDEO_LIMIT_REACHED"
	CodeMonthlyUploadLimit   = "MONTHLY_UPLOAD_LIMIT_REACHED"
)

// UsageSummary is the counters plus the limits they count against.
type UsageSummary struct {
	Tier  model.Tier         `json:"tier"`
	Usage model.UserUsage    `json:"usage"`
	Caps  quota.FreeTierCaps `json:"free_tier_caps"`
}

// UsageService reserves units of the capped free-tier actions. A reservation
// is one atomic compare-and-increment; under N concurrent requests against a
// cap of K exactly K reservations win.
type UsageService interface {
	// Reserve takes one unit of the given kind for a FREE-tier user. Paid
	// tiers pass through untouched. Returns QuotaExceededError when the cap
	// is already spent.
	Reserve(ctx context.Context, userID string, kind model.UsageKind) error
	Summary(ctx context.Context, userID string) (*UsageSummary, error)
}

type usageService struct {
	userRepo repository.UserRepository
	planSvc  PlanService
	logger   zerolog.Logger
}

// NewUsageService creates a new UsageService with a scoped logger.
func NewUsageService(userRepo repository.UserRepository, planSvc PlanService, logger zerolog.Logger) UsageService {
	return &usageService{
		userRepo: userRepo,
		planSvc:  planSvc,
		logger:   logger.With().Str("service", "UsageService").Logger(),
	}
}

func codeForKind(kind model.UsageKind) string {
	switch kind {
	case model.UsageAITraining:
		return CodeFreeAITrainingLimit
	case model.UsageVideoUpload:
		return CodeFreeVideoUploadLimit
	case model.UsageEduVideoView:
		return CodeFreeEduVideoLimit
	default:
		return "FREE_TIER_LIMIT_REACHED"
	}
}

func (s *usageService) Reserve(ctx context.Context, userID string, kind model.UsageKind) error {
	tier, err := s.planSvc.EffectiveTier(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve tier for reservation: %w", err)
	}
	// The hard caps apply to FREE only; paid tiers are bounded by their own
	// limit tables elsewhere.
	if tier != model.TierFree {
		return nil
	}
	limit := quota.FreeCapFor(kind)
	if limit <= 0 {
		return apperr.Validationf("unknown usage kind: %s", kind)
	}
	ok, err := s.userRepo.ReserveFreeUnit(ctx, userID, kind, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("kind", string(kind)).Msg("Failed to reserve usage unit")
		return err
	}
	if ok {
		return nil
	}
	used := limit
	if usage, uerr := s.userRepo.GetUsage(ctx, userID); uerr == nil && usage != nil {
		switch kind {
		case model.UsageAITraining:
			used = usage.FreeAITrainingUsed
		case model.UsageVideoUpload:
			used = usage.FreeVideoUploads
		case model.UsageEduVideoView:
			used = usage.FreeEduVideoViews
		}
	}
	return &apperr.QuotaExceededError{
		Code:  codeForKind(kind),
		Kind:  kind,
		Tier:  tier,
		Used:  used,
		Limit: limit,
	}
}

func (s *usageService) Summary(ctx context.Context, userID string) (*UsageSummary, error) {
	usage, err := s.userRepo.GetUsage(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch usage counters")
		return nil, err
	}
	if usage == nil {
		return nil, apperr.ErrNotFound
	}
	tier, err := s.planSvc.EffectiveTier(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UsageSummary{Tier: tier, Usage: *usage, Caps: quota.FreeCaps()}, nil
}
