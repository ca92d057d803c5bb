package model

import "time"

// Tier is a subscription level controlling quota limits.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierBasic   Tier = "BASIC"
	TierPro     Tier = "PRO"
	TierProPlus Tier = "PRO_PLUS"
	TierCreator Tier = "CREATOR"
)

// Plan statuses. Plans are never hard-deleted; expired and suspended rows stay
// around as billing history.
const (
	PlanStatusActive    = "ACTIVE"
	PlanStatusExpired   = "EXPIRED"
	PlanStatusSuspended = "SUSPENDED"
)

// Plan is one time-boxed subscription record for a user.
type Plan struct {
	ID                   string    `db:"id" json:"id"`
	UserID               string    `db:"user_id" json:"user_id"`
	Tier                 Tier      `db:"tier" json:"tier"`
	Status               string    `db:"status" json:"status"`
	StartsAt             time.Time `db:"starts_at" json:"starts_at"`
	EndsAt               time.Time `db:"ends_at" json:"ends_at"`
	StripeSubscriptionID *string   `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// IsActiveAt reports whether the plan is authoritative at the given instant.
func (p *Plan) IsActiveAt(t time.Time) bool {
	return p.Status == PlanStatusActive && !t.Before(p.StartsAt) && t.Before(p.EndsAt)
}
