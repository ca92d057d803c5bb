package service

import (
	"context"
	"fmt"
	"path"
	"time"

	"app/internal/apperr"
	"app/internal/model"
	"app/internal/quota"
	"app/internal/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UploadGrant is a reserved upload: quota has been taken and the client can
// PUT the file directly to storage.
type UploadGrant struct {
	UploadURL       string `json:"upload_url"`
	StoragePath     string `json:"storage_path"`
	OverageCents    int64  `json:"overage_cents,omitempty"`
	ExpiresInSecond int64  `json:"expires_in_seconds"`
}

// UploadService validates and reserves an upload against the caller's tier
// limits before handing out a presigned PUT URL. Reservation order: free-tier
// unit first (FREE only), then the byte budget, then a wallet overage debit
// when the budget is spent and the tier prices overage.
type UploadService interface {
	InitiateUpload(ctx context.Context, userID, filename string, sizeBytes int64) (*UploadGrant, error)
}

type uploadService struct {
	userRepo      repository.UserRepository
	planSvc       PlanService
	usageSvc      UsageService
	walletSvc     WalletService
	presignClient *s3.PresignClient
	bucketName    string
	logger        zerolog.Logger
}

// NewUploadService creates a new UploadService.
func NewUploadService(userRepo repository.UserRepository, planSvc PlanService, usageSvc UsageService, walletSvc WalletService, s3Client *s3.Client, bucketName string, logger zerolog.Logger) UploadService {
	return &uploadService{
		userRepo:      userRepo,
		planSvc:       planSvc,
		usageSvc:      usageSvc,
		walletSvc:     walletSvc,
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    bucketName,
		logger:        logger.With().Str("service", "UploadService").Logger(),
	}
}

func (s *uploadService) InitiateUpload(ctx context.Context, userID, filename string, sizeBytes int64) (*UploadGrant, error) {
	if sizeBytes <= 0 {
		return nil, apperr.Validationf("file size must be positive, got %d", sizeBytes)
	}
	if filename == "" {
		return nil, apperr.Validationf("filename is required")
	}

	tier, err := s.planSvc.EffectiveTier(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve tier for upload: %w", err)
	}
	limits := quota.UploadLimitsFor(tier)
	if limits.MaxFileBytes != nil && sizeBytes > *limits.MaxFileBytes {
		return nil, apperr.Validationf("file exceeds the %d byte limit for tier %s", *limits.MaxFileBytes, tier)
	}

	// FREE-tier hard cap comes first so a capped user never touches the byte
	// counters.
	if err := s.usageSvc.Reserve(ctx, userID, model.UsageVideoUpload); err != nil {
		return nil, err
	}

	var overageCents int64
	ok, err := s.userRepo.AddUploadBytesWithinBudget(ctx, userID, sizeBytes, limits.MonthlyUploadBytes, limits.TotalStorageBytes)
	if err != nil {
		return nil, err
	}
	if !ok {
		if limits.OverageCentsPerMB <= 0 {
			return nil, s.budgetExceededError(ctx, userID, tier, limits)
		}
		overageCents = overageCost(sizeBytes, limits.OverageCentsPerMB)
		debited, balance, derr := s.walletSvc.DebitIfPossible(ctx, userID, overageCents, model.ReasonUploadUsage, nil,
			fmt.Sprintf("overage for %s", filename), map[string]string{"filename": filename})
		if derr != nil {
			return nil, derr
		}
		if !debited {
			return nil, &apperr.InsufficientFundsError{UserID: userID, NeededCents: overageCents, BalanceCents: balance}
		}
		if err := s.userRepo.AddUploadBytes(ctx, userID, sizeBytes); err != nil {
			return nil, err
		}
		s.logger.Info().Str("user_id", userID).Int64("overage_cents", overageCents).Msg("Upload accepted with paid overage")
	}

	storagePath := path.Join("uploads", userID, uuid.New().String()+"-"+filename)
	uploadURL, err := s.getPresignedPutURL(ctx, storagePath)
	if err != nil {
		return nil, err
	}
	return &UploadGrant{
		UploadURL:       uploadURL,
		StoragePath:     storagePath,
		OverageCents:    overageCents,
		ExpiresInSecond: int64((15 * time.Minute).Seconds()),
	}, nil
}

func (s *uploadService) budgetExceededError(ctx context.Context, userID string, tier model.Tier, limits quota.UploadLimits) error {
	used := 0
	limit := 0
	if usage, err := s.userRepo.GetUsage(ctx, userID); err == nil && usage != nil {
		used = int(usage.MonthlyUploadBytes / quota.MB)
	}
	if limits.MonthlyUploadBytes != nil {
		limit = int(*limits.MonthlyUploadBytes / quota.MB)
	}
	return &apperr.QuotaExceededError{
		Code:  CodeMonthlyUploadLimit,
		Kind:  model.UsageVideoUpload,
		Tier:  tier,
		Used:  used,
		Limit: limit,
	}
}

// overageCost prices the whole upload at the per-megabyte overage rate,
// rounding the size up to whole megabytes.
func overageCost(sizeBytes, centsPerMB int64) int64 {
	mb := (sizeBytes + quota.MB - 1) / quota.MB
	return mb * centsPerMB
}

// getPresignedPutURL generates a presigned URL for uploading an object.
func (s *uploadService) getPresignedPutURL(ctx context.Context, objectKey string) (string, error) {
	request, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		s.logger.Error().Err(err).Str("object_key", objectKey).Msg("Failed to generate presigned PUT URL")
		return "", fmt.Errorf("failed to generate presigned PUT URL: %w", err)
	}
	return request.URL, nil
}
