package repository

import (
	"context"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrActiveProvisionExists is returned when inserting a QUEUED provision loses
// the race against a concurrent insert for the same user. The partial unique
// index on (user_id) WHERE status IN ('QUEUED','RUNNING','SUCCEEDED') backs
// the one-non-terminal-provision-per-user invariant.
var ErrActiveProvisionExists = errors.New("active_provision_exists")

// ErrInvalidTransition is returned when a conditional status UPDATE matched no
// row: the record is gone or another runner already moved it past the expected
// state. For MarkRunning this is how a racing runner loses the claim.
var ErrInvalidTransition = errors.New("invalid_status_transition")

const provisionColumns = `
    id, user_id, tier, status, provider, target_kind, cost_cents, idempotency_key,
    external_id, endpoint, error_message, created_at, started_at, finished_at
`

// ProvisionRepository persists provisioning attempts and their guarded state
// transitions. Every transition is a conditional UPDATE so a record can never
// regress, no matter how many workers race on it.
type ProvisionRepository interface {
	GetByID(ctx context.Context, id string) (*model.InfraProvision, error)
	// GetCurrentForUser returns the user's provision in QUEUED, RUNNING or
	// SUCCEEDED, nil when only FAILED (or no) records exist.
	GetCurrentForUser(ctx context.Context, userID string) (*model.InfraProvision, error)
	CreateQueued(ctx context.Context, p *model.InfraProvision) error
	// MarkRunning claims a QUEUED record for execution. A record some other
	// runner already claimed yields ErrInvalidTransition.
	MarkRunning(ctx context.Context, id string) (*model.InfraProvision, error)
	MarkSucceeded(ctx context.Context, id, externalID, endpoint string) (*model.InfraProvision, error)
	MarkFailed(ctx context.Context, id, errMsg string) (*model.InfraProvision, error)
	// ListQueued returns up to limit QUEUED provisions, oldest first.
	ListQueued(ctx context.Context, limit int) ([]model.InfraProvision, error)
}

type provisionRepo struct {
	pool *pgxpool.Pool
}

// NewProvisionRepo creates a new ProvisionRepository.
func NewProvisionRepo(pool *pgxpool.Pool) ProvisionRepository {
	return &provisionRepo{pool: pool}
}

func scanProvision(row pgx.Row) (*model.InfraProvision, error) {
	var p model.InfraProvision
	err := row.Scan(&p.ID, &p.UserID, &p.Tier, &p.Status, &p.Provider, &p.TargetKind,
		&p.CostCents, &p.IdempotencyKey, &p.ExternalID, &p.Endpoint, &p.ErrorMessage,
		&p.CreatedAt, &p.StartedAt, &p.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *provisionRepo) GetByID(ctx context.Context, id string) (*model.InfraProvision, error) {
	q := `SELECT ` + provisionColumns + ` FROM infra_provisions WHERE id = $1`
	p, err := scanProvision(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch provision %s: %w", id, err)
	}
	return p, nil
}

func (r *provisionRepo) GetCurrentForUser(ctx context.Context, userID string) (*model.InfraProvision, error) {
	q := `
        SELECT ` + provisionColumns + `
        FROM infra_provisions
        WHERE user_id = $1 AND status IN ('QUEUED', 'RUNNING', 'SUCCEEDED')
        ORDER BY created_at DESC
        LIMIT 1
    `
	p, err := scanProvision(r.pool.QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch current provision for user %s: %w", userID, err)
	}
	return p, nil
}

func (r *provisionRepo) CreateQueued(ctx context.Context, p *model.InfraProvision) error {
	const q = `
        INSERT INTO infra_provisions
            (id, user_id, tier, status, provider, target_kind, cost_cents, idempotency_key)
        VALUES ($1, $2, $3, 'QUEUED', $4, $5, $6, $7)
        RETURNING created_at
    `
	err := r.pool.QueryRow(ctx, q, p.ID, p.UserID, p.Tier, p.Provider, p.TargetKind,
		p.CostCents, p.IdempotencyKey).Scan(&p.CreatedAt)
	if isUniqueViolation(err) {
		return ErrActiveProvisionExists
	}
	if err != nil {
		return fmt.Errorf("create queued provision for user %s: %w", p.UserID, err)
	}
	p.Status = model.ProvisionQueued
	return nil
}

func (r *provisionRepo) MarkRunning(ctx context.Context, id string) (*model.InfraProvision, error) {
	// Claims the job. Only a QUEUED row matches, so of N concurrent runners
	// exactly one gets the record back; the rest see ErrInvalidTransition.
	q := `
        UPDATE infra_provisions
        SET status = 'RUNNING', error_message = NULL, started_at = NOW()
        WHERE id = $1 AND status = 'QUEUED'
        RETURNING ` + provisionColumns
	p, err := scanProvision(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("provision %s cannot transition to RUNNING: %w", id, ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("mark provision %s running: %w", id, err)
	}
	return p, nil
}

func (r *provisionRepo) MarkSucceeded(ctx context.Context, id, externalID, endpoint string) (*model.InfraProvision, error) {
	q := `
        UPDATE infra_provisions
        SET status = 'SUCCEEDED', external_id = $2, endpoint = $3, finished_at = NOW()
        WHERE id = $1 AND status = 'RUNNING'
        RETURNING ` + provisionColumns
	p, err := scanProvision(r.pool.QueryRow(ctx, q, id, externalID, endpoint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("provision %s cannot transition to SUCCEEDED: %w", id, ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("mark provision %s succeeded: %w", id, err)
	}
	return p, nil
}

func (r *provisionRepo) MarkFailed(ctx context.Context, id, errMsg string) (*model.InfraProvision, error) {
	q := `
        UPDATE infra_provisions
        SET status = 'FAILED', error_message = $2, finished_at = NOW()
        WHERE id = $1 AND status IN ('QUEUED', 'RUNNING')
        RETURNING ` + provisionColumns
	p, err := scanProvision(r.pool.QueryRow(ctx, q, id, errMsg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("provision %s cannot transition to FAILED: %w", id, ErrInvalidTransition)
	}
	if err != nil {
		return nil, fmt.Errorf("mark provision %s failed: %w", id, err)
	}
	return p, nil
}

func (r *provisionRepo) ListQueued(ctx context.Context, limit int) ([]model.InfraProvision, error) {
	q := `
        SELECT ` + provisionColumns + `
        FROM infra_provisions
        WHERE status = 'QUEUED'
        ORDER BY created_at ASC
        LIMIT $1
    `
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued provisions: %w", err)
	}
	defer rows.Close()

	var out []model.InfraProvision
	for rows.Next() {
		p, err := scanProvision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued provision: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued provisions: %w", err)
	}
	return out, nil
}
