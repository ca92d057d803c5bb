package dto

// UsageReserveRequestDTO is used for incoming usage reservation requests.
// Kind must be one of ai_training, video_upload, edu_video_view.
type UsageReserveRequestDTO struct {
	Kind string `json:"kind" validate:"required,oneof=ai_training video_upload edu_video_view"`
}

// UsageReserveResponseDTO reports a successful reservation
type UsageReserveResponseDTO struct {
	Kind     string `json:"kind"`
	Reserved bool   `json:"reserved"`
}

// QuotaErrorDTO is the body returned when a free-tier cap is exhausted
type QuotaErrorDTO struct {
	Code  string `json:"code"`
	Tier  string `json:"tier"`
	Used  int    `json:"used"`
	Limit int    `json:"limit"`
}
