package repository

import (
	"context"
	"fmt"
	"time"

	"app/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const planColumns = `
    id, user_id, tier, status, starts_at, ends_at, stripe_subscription_id, created_at, updated_at
`

// PlanRepository stores subscription plans. Plans are append-mostly billing
// history: webhooks flip statuses and insert new rows, nothing is deleted.
type PlanRepository interface {
	// GetActivePlans returns all ACTIVE plans whose window covers now, newest
	// start first. Tier resolution picks the head of this list.
	GetActivePlans(ctx context.Context, userID string, now time.Time) ([]model.Plan, error)
	ListPlansForUser(ctx context.Context, userID string) ([]model.Plan, error)
	// EnsureFreePlan inserts an ACTIVE FREE plan if the user has no plan at
	// all. Called at signup; a no-op afterwards.
	EnsureFreePlan(ctx context.Context, userID string) error
	// UpsertStripePlan creates or refreshes the plan row keyed by the Stripe
	// subscription id.
	UpsertStripePlan(ctx context.Context, userID string, tier model.Tier, startsAt, endsAt time.Time, status, stripeSubscriptionID string) error
	// ExpireStripePlan marks the plan for a deleted Stripe subscription
	// EXPIRED; the user resolves to FREE from then on.
	ExpireStripePlan(ctx context.Context, userID, stripeSubscriptionID string) error
}

type planRepo struct {
	pool *pgxpool.Pool
}

// NewPlanRepo creates a new PlanRepository.
func NewPlanRepo(pool *pgxpool.Pool) PlanRepository {
	return &planRepo{pool: pool}
}

func (r *planRepo) GetActivePlans(ctx context.Context, userID string, now time.Time) ([]model.Plan, error) {
	q := `
        SELECT ` + planColumns + `
        FROM plans
        WHERE user_id = $1 AND status = 'ACTIVE' AND starts_at <= $2 AND ends_at > $2
        ORDER BY starts_at DESC
    `
	return r.queryPlans(ctx, q, userID, now)
}

func (r *planRepo) ListPlansForUser(ctx context.Context, userID string) ([]model.Plan, error) {
	q := `
        SELECT ` + planColumns + `
        FROM plans
        WHERE user_id = $1
        ORDER BY starts_at DESC
    `
	return r.queryPlans(ctx, q, userID)
}

func (r *planRepo) queryPlans(ctx context.Context, q string, args ...any) ([]model.Plan, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		var p model.Plan
		if err := rows.Scan(&p.ID, &p.UserID, &p.Tier, &p.Status, &p.StartsAt, &p.EndsAt,
			&p.StripeSubscriptionID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

func (r *planRepo) EnsureFreePlan(ctx context.Context, userID string) error {
	const q = `
        INSERT INTO plans (id, user_id, tier, status, starts_at, ends_at)
        SELECT $1, $2, 'FREE', 'ACTIVE', NOW(), NOW() + INTERVAL '100 years'
        WHERE NOT EXISTS (SELECT 1 FROM plans WHERE user_id = $2)
    `
	if _, err := r.pool.Exec(ctx, q, uuid.New().String(), userID); err != nil {
		return fmt.Errorf("ensure free plan for user %s: %w", userID, err)
	}
	return nil
}

func (r *planRepo) UpsertStripePlan(ctx context.Context, userID string, tier model.Tier, startsAt, endsAt time.Time, status, stripeSubscriptionID string) error {
	const q = `
        INSERT INTO plans (id, user_id, tier, status, starts_at, ends_at, stripe_subscription_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (stripe_subscription_id) DO UPDATE
        SET tier = EXCLUDED.tier,
            status = EXCLUDED.status,
            starts_at = EXCLUDED.starts_at,
            ends_at = EXCLUDED.ends_at,
            updated_at = NOW()
    `
	_, err := r.pool.Exec(ctx, q, uuid.New().String(), userID, tier, status, startsAt, endsAt, stripeSubscriptionID)
	if err != nil {
		return fmt.Errorf("upsert stripe plan for user %s: %w", userID, err)
	}
	return nil
}

func (r *planRepo) ExpireStripePlan(ctx context.Context, userID, stripeSubscriptionID string) error {
	const q = `
        UPDATE plans
        SET status = 'EXPIRED', ends_at = LEAST(ends_at, NOW()), updated_at = NOW()
        WHERE user_id = $1 AND stripe_subscription_id = $2
    `
	if _, err := r.pool.Exec(ctx, q, userID, stripeSubscriptionID); err != nil {
		return fmt.Errorf("expire stripe plan for user %s: %w", userID, err)
	}
	// No FREE row is inserted here; tier resolution already falls back to FREE
	// when no plan is active.
	return nil
}
