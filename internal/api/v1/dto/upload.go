package dto

// UploadInitiateRequestDTO is used for incoming upload initiation requests
type UploadInitiateRequestDTO struct {
	Filename  string `json:"filename" validate:"required"`
	SizeBytes int64  `json:"size_bytes" validate:"required,gt=0"`
}

// UploadInitiateResponseDTO carries the presigned upload grant
type UploadInitiateResponseDTO struct {
	UploadURL        string `json:"upload_url"`
	StoragePath      string `json:"storage_path"`
	OverageCents     int64  `json:"overage_cents,omitempty"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}
