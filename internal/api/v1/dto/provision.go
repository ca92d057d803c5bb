package dto

import "time"

// ProvisionResponseDTO is returned in API responses for provisions
type ProvisionResponseDTO struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Tier         string     `json:"tier"`
	TargetKind   string     `json:"target_kind"`
	CostCents    int64      `json:"cost_cents"`
	Endpoint     *string    `json:"endpoint,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ProvisionEnsureResponseDTO reports the outcome of an ensure request
type ProvisionEnsureResponseDTO struct {
	Required           bool                  `json:"required"`
	AlreadyProvisioned bool                  `json:"already_provisioned,omitempty"`
	InProgress         bool                  `json:"in_progress,omitempty"`
	Queued             bool                  `json:"queued,omitempty"`
	Provision          *ProvisionResponseDTO `json:"provision,omitempty"`
}
