// Package quota maps plan tiers to numeric limits. Everything here is a pure
// lookup; nothing touches the database. A nil limit means unlimited.
package quota

import "app/internal/model"

const (
	MB int64 = 1 << 20
	GB int64 = 1 << 30
)

// LoraLimits bounds LoRA model training for a tier.
type LoraLimits struct {
	MaxActiveModels   *int // non-archived models
	MaxVideosPerModel *int
	MaxTrainingRuns   *int
	MinVideosToTrain  int
}

// UploadLimits bounds video uploads and storage for a tier.
type UploadLimits struct {
	MaxFileBytes              *int64
	MonthlyUploadBytes        *int64
	TotalStorageBytes         *int64
	OverageCentsPerMB         int64 // 0 means overage is not purchasable
	RequiresPhysicalProvision bool
	ProvisionCostCents        int64
}

// FreeTierCaps are the hard caps applied only to FREE-tier users, independent
// of the upload tables above.
type FreeTierCaps struct {
	AITraining    int
	VideoUploads  int
	EduVideoViews int
}

func intp(v int) *int       { return &v }
func int64p(v int64) *int64 { return &v }

var loraLimits = map[model.Tier]LoraLimits{
	model.TierFree:    {MaxActiveModels: intp(1), MaxVideosPerModel: intp(5), MaxTrainingRuns: intp(1), MinVideosToTrain: 3},
	model.TierBasic:   {MaxActiveModels: intp(3), MaxVideosPerModel: intp(10), MaxTrainingRuns: intp(3), MinVideosToTrain: 3},
	model.TierPro:     {MaxActiveModels: intp(10), MaxVideosPerModel: intp(25), MaxTrainingRuns: intp(10), MinVideosToTrain: 3},
	model.TierProPlus: {MaxActiveModels: intp(25), MaxVideosPerModel: intp(50), MaxTrainingRuns: nil, MinVideosToTrain: 3},
	model.TierCreator: {MaxActiveModels: nil, MaxVideosPerModel: nil, MaxTrainingRuns: nil, MinVideosToTrain: 3},
}

var uploadLimits = map[model.Tier]UploadLimits{
	model.TierFree: {
		MaxFileBytes:       int64p(200 * MB),
		MonthlyUploadBytes: int64p(1 * GB),
		TotalStorageBytes:  int64p(2 * GB),
	},
	model.TierBasic: {
		MaxFileBytes:       int64p(500 * MB),
		MonthlyUploadBytes: int64p(10 * GB),
		TotalStorageBytes:  int64p(50 * GB),
		OverageCentsPerMB:  5,
	},
	model.TierPro: {
		MaxFileBytes:       int64p(2 * GB),
		MonthlyUploadBytes: int64p(100 * GB),
		TotalStorageBytes:  int64p(500 * GB),
		OverageCentsPerMB:  3,
	},
	model.TierProPlus: {
		MaxFileBytes:              int64p(5 * GB),
		MonthlyUploadBytes:        int64p(500 * GB),
		TotalStorageBytes:         int64p(2048 * GB),
		OverageCentsPerMB:         2,
		RequiresPhysicalProvision: true,
		ProvisionCostCents:        2500,
	},
	model.TierCreator: {
		MaxFileBytes:              int64p(20 * GB),
		OverageCentsPerMB:         0,
		RequiresPhysicalProvision: true,
		ProvisionCostCents:        5000,
	},
}

var freeTierCaps = FreeTierCaps{
	AITraining:    3,
	VideoUploads:  3,
	EduVideoViews: 2,
}

// LoraLimitsFor returns the LoRA limits for a tier. An unknown tier falls back
// to FREE so callers never see undefined limits.
func LoraLimitsFor(tier model.Tier) LoraLimits {
	if l, ok := loraLimits[tier]; ok {
		return l
	}
	return loraLimits[model.TierFree]
}

// UploadLimitsFor returns the upload limits for a tier, falling back to FREE
// for unknown tiers.
func UploadLimitsFor(tier model.Tier) UploadLimits {
	if l, ok := uploadLimits[tier]; ok {
		return l
	}
	return uploadLimits[model.TierFree]
}

// FreeCaps returns the hard caps for FREE-tier metered actions.
func FreeCaps() FreeTierCaps {
	return freeTierCaps
}

// FreeCapFor returns the FREE-tier cap for one usage kind.
func FreeCapFor(kind model.UsageKind) int {
	switch kind {
	case model.UsageAITraining:
		return freeTierCaps.AITraining
	case model.UsageVideoUpload:
		return freeTierCaps.VideoUploads
	case model.UsageEduVideoView:
		return freeTierCaps.EduVideoViews
	default:
		return 0
	}
}
