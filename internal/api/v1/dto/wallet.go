package dto

import "app/internal/model"

// WalletResponseDTO is returned in API responses for the wallet endpoint
type WalletResponseDTO struct {
	UserID       string                    `json:"user_id"`
	BalanceCents int64                     `json:"balance_cents"`
	Ledger       []model.WalletLedgerEntry `json:"ledger"`
}

// TopupRequestDTO is used for incoming wallet topup requests
type TopupRequestDTO struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// TopupResponseDTO carries the Stripe Checkout URL for a topup
type TopupResponseDTO struct {
	URL string `json:"url"`
}
