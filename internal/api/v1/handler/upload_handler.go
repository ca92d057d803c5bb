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

// UploadHandler handles video upload initiation.
type UploadHandler struct {
	uploadSvc service.UploadService
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewUploadHandler creates a new UploadHandler.
func NewUploadHandler(uploadSvc service.UploadService, validate *validator.Validate, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{uploadSvc: uploadSvc, validate: validate, logger: logger}
}

// RegisterRoutes registers the upload endpoints.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/uploads", authMiddleware(http.HandlerFunc(h.Initiate)))
}

// Initiate godoc
// @Summary Initiate a video upload
// @Description Validates the upload against tier limits, reserves quota and byte budget, debits any overage, and returns a presigned PUT URL.
// @Tags uploads
// @Accept json
// @Produce json
// @Param upload body dto.UploadInitiateRequestDTO true "Upload initiation request"
// @Success 201 {object} dto.UploadInitiateResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 402 {object} map[string]interface{} "insufficient funds for overage"
// @Failure 429 {object} dto.QuotaErrorDTO "upload quota exhausted"
// @Router /uploads [post]
func (h *UploadHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.UploadInitiateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "filename and a positive size_bytes are required", http.StatusBadRequest)
		return
	}
	grant, err := h.uploadSvc.InitiateUpload(r.Context(), userID, req.Filename, req.SizeBytes)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, dto.UploadInitiateResponseDTO{
		UploadURL:        grant.UploadURL,
		StoragePath:      grant.StoragePath,
		OverageCents:     grant.OverageCents,
		ExpiresInSeconds: grant.ExpiresInSecond,
	})
}
