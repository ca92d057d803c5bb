package handler

import (
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// FeedbackHandler handles AI artwork feedback requests.
type FeedbackHandler struct {
	feedbackSvc service.FeedbackService
	validate    *validator.Validate
	logger      zerolog.Logger
}

// NewFeedbackHandler creates a new FeedbackHandler.
func NewFeedbackHandler(feedbackSvc service.FeedbackService, validate *validator.Validate, logger zerolog.Logger) *FeedbackHandler {
	return &FeedbackHandler{feedbackSvc: feedbackSvc, validate: validate, logger: logger}
}

// RegisterRoutes registers the feedback endpoints.
func (h *FeedbackHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/feedback", authMiddleware(http.HandlerFunc(h.Generate)))
}

// Generate godoc
// @Summary Generate AI feedback for an artwork submission
// @Description Consumes one free-tier AI training unit (FREE tier only) and returns generated feedback. Inference failures return a degraded default payload, not an error.
// @Tags feedback
// @Accept json
// @Produce json
// @Param feedback body dto.FeedbackRequestDTO true "Feedback request"
// @Success 200 {object} service.Feedback
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 429 {object} dto.QuotaErrorDTO "free AI training cap exhausted"
// @Router /feedback [post]
func (h *FeedbackHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.FeedbackRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	feedback, err := h.feedbackSvc.GenerateFeedback(r.Context(), userID, req.Content)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, feedback)
}
