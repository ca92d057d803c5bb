package model

import "time"

// Provision statuses. Transitions are strictly
// QUEUED -> RUNNING -> SUCCEEDED or QUEUED/RUNNING -> FAILED; a record never
// leaves SUCCEEDED and never re-enters QUEUED.
const (
	ProvisionQueued    = "QUEUED"
	ProvisionRunning   = "RUNNING"
	ProvisionSucceeded = "SUCCEEDED"
	ProvisionFailed    = "FAILED"
)

// ProvisionTargetDedicatedPostgres is the only target kind provisioned today.
const ProvisionTargetDedicatedPostgres = "dedicated_postgres"

// InfraProvision is one attempt to provision a dedicated backing resource for a
// high-tier user. At most one row per user may be non-terminal (QUEUED, RUNNING
// or SUCCEEDED); a partial unique index on user_id enforces this.
type InfraProvision struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Tier           Tier       `db:"tier" json:"tier"`
	Status         string     `db:"status" json:"status"`
	Provider       string     `db:"provider" json:"provider"`
	TargetKind     string     `db:"target_kind" json:"target_kind"`
	CostCents      int64      `db:"cost_cents" json:"cost_cents"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key"`
	ExternalID     *string    `db:"external_id" json:"external_id,omitempty"`
	Endpoint       *string    `db:"endpoint" json:"endpoint,omitempty"`
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// IsTerminal reports whether the provision reached a final state.
func (p *InfraProvision) IsTerminal() bool {
	return p.Status == ProvisionSucceeded || p.Status == ProvisionFailed
}
