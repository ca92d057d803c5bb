package dto

// FeedbackRequestDTO is used for incoming artwork feedback requests
type FeedbackRequestDTO struct {
	Content string `json:"content" validate:"required"`
}
