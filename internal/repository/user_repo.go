package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository reads user profiles and mutates their metered counters. All
// counter mutations are single conditional statements so that concurrent
// requests cannot overshoot a cap.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error)
	UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error
	GetUsage(ctx context.Context, userID string) (*model.UserUsage, error)
	// ReserveFreeUnit increments the counter for kind by one only while it is
	// below limit. Returns false without mutating anything when the cap is hit.
	ReserveFreeUnit(ctx context.Context, userID string, kind model.UsageKind, limit int) (bool, error)
	// AddUploadBytesWithinBudget adds size to the monthly and total byte
	// counters only if both stay within their budgets (nil budget = unlimited).
	AddUploadBytesWithinBudget(ctx context.Context, userID string, size int64, monthlyBudget, totalBudget *int64) (bool, error)
	// AddUploadBytes adds size unconditionally (overage already paid for).
	AddUploadBytes(ctx context.Context, userID string, size int64) error
	// ResetMonthlyUsage zeroes the monthly byte counter for every user whose
	// last reset predates monthStart, stamping monthStart as the new reset
	// time. Returns the number of users swept.
	ResetMonthlyUsage(ctx context.Context, monthStart time.Time) (int64, error)
}

type userRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepo creates a new UserRepository.
func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	const q = `
        SELECT user_id, name, email, avatar_url, role, stripe_customer_id, created_at, updated_at
        FROM user_profiles WHERE user_id = $1
    `
	var u model.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.UserID, &u.Name, &u.Email, &u.AvatarURL,
		&u.Role, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return &u, nil
}

func (r *userRepo) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	const q = `
        SELECT user_id, name, email, avatar_url, role, stripe_customer_id, created_at, updated_at
        FROM user_profiles WHERE stripe_customer_id = $1
    `
	var u model.User
	err := r.pool.QueryRow(ctx, q, customerID).Scan(&u.UserID, &u.Name, &u.Email, &u.AvatarURL,
		&u.Role, &u.StripeCustomerID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch user by stripe customer %s: %w", customerID, err)
	}
	return &u, nil
}

func (r *userRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	const q = `UPDATE user_profiles SET stripe_customer_id = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.pool.Exec(ctx, q, userID, customerID); err != nil {
		return fmt.Errorf("store stripe customer id for user %s: %w", userID, err)
	}
	return nil
}

func (r *userRepo) GetUsage(ctx context.Context, userID string) (*model.UserUsage, error) {
	const q = `
        SELECT user_id, free_ai_training_used, free_video_uploads_used, free_edu_videos_watched,
               monthly_upload_bytes, total_upload_bytes, monthly_usage_reset_at
        FROM user_profiles WHERE user_id = $1
    `
	var u model.UserUsage
	err := r.pool.QueryRow(ctx, q, userID).Scan(&u.UserID, &u.FreeAITrainingUsed, &u.FreeVideoUploads,
		&u.FreeEduVideoViews, &u.MonthlyUploadBytes, &u.TotalUploadBytes, &u.MonthlyUsageResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch usage for user %s: %w", userID, err)
	}
	return &u, nil
}

// freeUsageColumn maps a usage kind to its counter column. Kinds are a closed
// set; the column name never comes from request input.
func freeUsageColumn(kind model.UsageKind) (string, error) {
	switch kind {
	case model.UsageAITraining:
		return "free_ai_training_used", nil
	case model.UsageVideoUpload:
		return "free_video_uploads_used", nil
	case model.UsageEduVideoView:
		return "free_edu_videos_watched", nil
	default:
		return "", fmt.Errorf("unknown usage kind: %s", kind)
	}
}

func (r *userRepo) ReserveFreeUnit(ctx context.Context, userID string, kind model.UsageKind, limit int) (bool, error) {
	col, err := freeUsageColumn(kind)
	if err != nil {
		return false, err
	}
	// Compare-and-increment in one statement; RowsAffected tells us whether
	// the reservation won.
	q := fmt.Sprintf(`
        UPDATE user_profiles
        SET %[1]s = %[1]s + 1, updated_at = NOW()
        WHERE user_id = $1 AND %[1]s < $2
    `, col)
	tag, err := r.pool.Exec(ctx, q, userID, limit)
	if err != nil {
		return false, fmt.Errorf("reserve %s unit for user %s: %w", kind, userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *userRepo) AddUploadBytesWithinBudget(ctx context.Context, userID string, size int64, monthlyBudget, totalBudget *int64) (bool, error) {
	const q = `
        UPDATE user_profiles
        SET monthly_upload_bytes = monthly_upload_bytes + $2,
            total_upload_bytes = total_upload_bytes + $2,
            updated_at = NOW()
        WHERE user_id = $1
          AND ($3::bigint IS NULL OR monthly_upload_bytes + $2 <= $3)
          AND ($4::bigint IS NULL OR total_upload_bytes + $2 <= $4)
    `
	tag, err := r.pool.Exec(ctx, q, userID, size, monthlyBudget, totalBudget)
	if err != nil {
		return false, fmt.Errorf("reserve %d upload bytes for user %s: %w", size, userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *userRepo) AddUploadBytes(ctx context.Context, userID string, size int64) error {
	const q = `
        UPDATE user_profiles
        SET monthly_upload_bytes = monthly_upload_bytes + $2,
            total_upload_bytes = total_upload_bytes + $2,
            updated_at = NOW()
        WHERE user_id = $1
    `
	if _, err := r.pool.Exec(ctx, q, userID, size); err != nil {
		return fmt.Errorf("add %d upload bytes for user %s: %w", size, userID, err)
	}
	return nil
}

func (r *userRepo) ResetMonthlyUsage(ctx context.Context, monthStart time.Time) (int64, error) {
	const q = `
        UPDATE user_profiles
        SET monthly_upload_bytes = 0, monthly_usage_reset_at = $1, updated_at = NOW()
        WHERE monthly_usage_reset_at < $1
    `
	tag, err := r.pool.Exec(ctx, q, monthStart)
	if err != nil {
		return 0, fmt.Errorf("reset monthly usage counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
