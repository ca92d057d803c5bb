package dto

// SubscriptionCheckoutRequestDTO is used for incoming plan upgrade requests
type SubscriptionCheckoutRequestDTO struct {
	Tier string `json:"tier" validate:"required,oneof=BASIC PRO PRO_PLUS CREATOR"`
}
