package handler

import (
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// UsageHandler handles free-tier usage endpoints.
type UsageHandler struct {
	usageSvc service.UsageService
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usageSvc service.UsageService, validate *validator.Validate, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{usageSvc: usageSvc, validate: validate, logger: logger}
}

// RegisterRoutes registers the usage endpoints.
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/usage", authMiddleware(http.HandlerFunc(h.Summary)))
	mux.Handle("/usage/reserve", authMiddleware(http.HandlerFunc(h.Reserve)))
}

var usageKinds = map[string]model.UsageKind{
	"ai_training":    model.UsageAITraining,
	"video_upload":   model.UsageVideoUpload,
	"edu_video_view": model.UsageEduVideoView,
}

// Summary godoc
// @Summary Get current usage counters and free-tier caps
// @Tags usage
// @Produce json
// @Success 200 {object} service.UsageSummary
// @Failure 401 {string} string "unauthorized"
// @Router /usage [get]
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	summary, err := h.usageSvc.Summary(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, summary)
}

// Reserve godoc
// @Summary Reserve one unit of a capped free-tier action
// @Description Atomically consumes one unit of the given kind. Paid tiers always succeed without consuming anything.
// @Tags usage
// @Accept json
// @Produce json
// @Param reservation body dto.UsageReserveRequestDTO true "Reservation request"
// @Success 200 {object} dto.UsageReserveResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 429 {object} dto.QuotaErrorDTO "free-tier cap exhausted"
// @Router /usage/reserve [post]
func (h *UsageHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.UsageReserveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "kind must be one of ai_training, video_upload, edu_video_view", http.StatusBadRequest)
		return
	}
	kind := usageKinds[req.Kind]
	if err := h.usageSvc.Reserve(r.Context(), userID, kind); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.UsageReserveResponseDTO{Kind: req.Kind, Reserved: true})
}
