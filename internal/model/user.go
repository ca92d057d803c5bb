package model

import "time"

// User represents a user in the system
type User struct {
	UserID           string    `db:"user_id" json:"user_id"`
	Name             string    `db:"name" json:"name"`
	Email            string    `db:"email" json:"email"`
	AvatarURL        string    `db:"avatar_url" json:"avatar_url"`
	Role             string    `db:"role" json:"role"`
	StripeCustomerID *string   `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// RoleAdmin marks users whose effective tier overrides the plan lookup.
const RoleAdmin = "admin"

// UserUsage holds the metered counters tracked on the user row.
type UserUsage struct {
	UserID              string    `db:"user_id" json:"user_id"`
	FreeAITrainingUsed  int       `db:"free_ai_training_used" json:"free_ai_training_used"`
	FreeVideoUploads    int       `db:"free_video_uploads_used" json:"free_video_uploads_used"`
	FreeEduVideoViews   int       `db:"free_edu_videos_watched" json:"free_edu_videos_watched"`
	MonthlyUploadBytes  int64     `db:"monthly_upload_bytes" json:"monthly_upload_bytes"`
	TotalUploadBytes    int64     `db:"total_upload_bytes" json:"total_upload_bytes"`
	MonthlyUsageResetAt time.Time `db:"monthly_usage_reset_at" json:"monthly_usage_reset_at"`
}

// UsageKind identifies one metered free-tier action.
type UsageKind string

const (
	UsageAITraining   UsageKind = "ai_training"
	UsageVideoUpload  UsageKind = "video_upload"
	UsageEduVideoView UsageKind = "edu_video_view"
)
