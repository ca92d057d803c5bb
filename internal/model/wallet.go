package model

import "time"

// Wallet is a per-user prepaid balance in integer cents. The balance never goes
// negative; debits are refused instead.
type Wallet struct {
	UserID       string    `db:"user_id" json:"user_id"`
	BalanceCents int64     `db:"balance_cents" json:"balance_cents"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Ledger entry types.
const (
	EntryCredit = "CREDIT"
	EntryDebit  = "DEBIT"
)

// Ledger entry reasons.
const (
	ReasonTopup        = "TOPUP"
	ReasonUploadUsage  = "UPLOAD_USAGE"
	ReasonProvisioning = "PROVISIONING"
	ReasonAdjustment   = "ADJUSTMENT"
)

// WalletLedgerEntry is one immutable balance change. The sum of signed amounts
// for a user reconstructs the current wallet balance.
type WalletLedgerEntry struct {
	ID                string            `db:"id" json:"id"`
	UserID            string            `db:"user_id" json:"user_id"`
	EntryType         string            `db:"entry_type" json:"entry_type"`
	Reason            string            `db:"reason" json:"reason"`
	AmountCents       int64             `db:"amount_cents" json:"amount_cents"`
	BalanceAfterCents int64             `db:"balance_after_cents" json:"balance_after_cents"`
	ExternalRef       *string           `db:"external_ref" json:"external_ref,omitempty"`
	Note              string            `db:"note" json:"note,omitempty"`
	Metadata          map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
}

// SignedAmount returns the amount with debit entries negated.
func (e *WalletLedgerEntry) SignedAmount() int64 {
	if e.EntryType == EntryDebit {
		return -e.AmountCents
	}
	return e.AmountCents
}
