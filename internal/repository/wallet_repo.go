package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"app/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerWriteParams describes one balance change to record.
type LedgerWriteParams struct {
	UserID      string
	AmountCents int64
	Reason      string
	ExternalRef *string
	Note        string
	Metadata    map[string]string
}

// WalletRepository couples balance mutation and ledger append in single
// transactions. The balance update is always a conditional statement executed
// in one round trip; there is no read-then-write anywhere in this file.
type WalletRepository interface {
	// GetBalance returns the wallet balance in cents, zero for users without a
	// wallet row.
	GetBalance(ctx context.Context, userID string) (int64, error)
	// ListLedger returns the most recent ledger entries, newest first.
	ListLedger(ctx context.Context, userID string, limit int) ([]model.WalletLedgerEntry, error)
	// Credit increments the balance and appends a CREDIT entry. When the
	// external ref was already recorded the call is a no-op and duplicate is
	// true.
	Credit(ctx context.Context, p LedgerWriteParams) (entry *model.WalletLedgerEntry, duplicate bool, err error)
	// ConditionalDebit decrements the balance only if it covers the amount,
	// appending a DEBIT entry on success. ok is false when funds were
	// insufficient; nothing is written in that case.
	ConditionalDebit(ctx context.Context, p LedgerWriteParams) (entry *model.WalletLedgerEntry, ok bool, err error)
}

type walletRepo struct {
	pool *pgxpool.Pool
}

// NewWalletRepo creates a new WalletRepository.
func NewWalletRepo(pool *pgxpool.Pool) WalletRepository {
	return &walletRepo{pool: pool}
}

func (r *walletRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	const q = `SELECT balance_cents FROM wallets WHERE user_id = $1`
	var balance int64
	err := r.pool.QueryRow(ctx, q, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fetch wallet balance for user %s: %w", userID, err)
	}
	return balance, nil
}

func (r *walletRepo) ListLedger(ctx context.Context, userID string, limit int) ([]model.WalletLedgerEntry, error) {
	const q = `
        SELECT id, user_id, entry_type, reason, amount_cents, balance_after_cents,
               external_ref, note, metadata, created_at
        FROM wallet_ledger_entries
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger for user %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []model.WalletLedgerEntry
	for rows.Next() {
		var e model.WalletLedgerEntry
		var rawMeta []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.EntryType, &e.Reason, &e.AmountCents,
			&e.BalanceAfterCents, &e.ExternalRef, &e.Note, &rawMeta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry for user %s: %w", userID, err)
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal ledger metadata for entry %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger for user %s: %w", userID, err)
	}
	return entries, nil
}

func (r *walletRepo) Credit(ctx context.Context, p LedgerWriteParams) (*model.WalletLedgerEntry, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin credit transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if p.ExternalRef != nil {
		const dupQ = `SELECT EXISTS(SELECT 1 FROM wallet_ledger_entries WHERE external_ref = $1)`
		var exists bool
		if err := tx.QueryRow(ctx, dupQ, *p.ExternalRef).Scan(&exists); err != nil {
			return nil, false, fmt.Errorf("check external ref %s: %w", *p.ExternalRef, err)
		}
		if exists {
			return nil, true, nil
		}
	}

	const upsertQ = `
        INSERT INTO wallets (user_id, balance_cents, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (user_id) DO UPDATE
        SET balance_cents = wallets.balance_cents + EXCLUDED.balance_cents,
            updated_at = NOW()
        RETURNING balance_cents
    `
	var balanceAfter int64
	if err := tx.QueryRow(ctx, upsertQ, p.UserID, p.AmountCents).Scan(&balanceAfter); err != nil {
		return nil, false, fmt.Errorf("credit wallet for user %s: %w", p.UserID, err)
	}

	entry, err := appendLedgerEntry(ctx, tx, model.EntryCredit, p, balanceAfter)
	if err != nil {
		// A concurrent delivery of the same external ref loses the insert race
		// on the partial unique index; treat it as the duplicate it is.
		if isUniqueViolation(err) {
			return nil, true, nil
		}
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit credit for user %s: %w", p.UserID, err)
	}
	return entry, false, nil
}

func (r *walletRepo) ConditionalDebit(ctx context.Context, p LedgerWriteParams) (*model.WalletLedgerEntry, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin debit transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// The WHERE clause is the overdraft guard; concurrent debits serialize on
	// the wallet row and only those that still fit succeed.
	const debitQ = `
        UPDATE wallets
        SET balance_cents = balance_cents - $2, updated_at = NOW()
        WHERE user_id = $1 AND balance_cents >= $2
        RETURNING balance_cents
    `
	var balanceAfter int64
	err = tx.QueryRow(ctx, debitQ, p.UserID, p.AmountCents).Scan(&balanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("debit wallet for user %s: %w", p.UserID, err)
	}

	entry, err := appendLedgerEntry(ctx, tx, model.EntryDebit, p, balanceAfter)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit debit for user %s: %w", p.UserID, err)
	}
	return entry, true, nil
}

func appendLedgerEntry(ctx context.Context, tx pgx.Tx, entryType string, p LedgerWriteParams, balanceAfter int64) (*model.WalletLedgerEntry, error) {
	var rawMeta []byte
	if len(p.Metadata) > 0 {
		var err error
		rawMeta, err = json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal ledger metadata: %w", err)
		}
	}
	const q = `
        INSERT INTO wallet_ledger_entries
            (id, user_id, entry_type, reason, amount_cents, balance_after_cents, external_ref, note, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING created_at
    `
	entry := &model.WalletLedgerEntry{
		ID:                uuid.New().String(),
		UserID:            p.UserID,
		EntryType:         entryType,
		Reason:            p.Reason,
		AmountCents:       p.AmountCents,
		BalanceAfterCents: balanceAfter,
		ExternalRef:       p.ExternalRef,
		Note:              p.Note,
		Metadata:          p.Metadata,
	}
	err := tx.QueryRow(ctx, q, entry.ID, entry.UserID, entry.EntryType, entry.Reason,
		entry.AmountCents, entry.BalanceAfterCents, entry.ExternalRef, entry.Note, rawMeta).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry for user %s: %w", p.UserID, err)
	}
	return entry, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
