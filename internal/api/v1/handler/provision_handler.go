package handler

import (
	"net/http"
	"strings"

	"app/internal/api/v1/dto"
	"app/internal/apperr"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/service"

	"github.com/rs/zerolog"
)

// ProvisionHandler handles infrastructure provisioning endpoints.
type ProvisionHandler struct {
	provisioningSvc service.ProvisioningService
	planSvc         service.PlanService
	logger          zerolog.Logger
}

// NewProvisionHandler creates a new ProvisionHandler.
func NewProvisionHandler(provisioningSvc service.ProvisioningService, planSvc service.PlanService, logger zerolog.Logger) *ProvisionHandler {
	return &ProvisionHandler{provisioningSvc: provisioningSvc, planSvc: planSvc, logger: logger}
}

// RegisterRoutes registers the provisioning endpoints. The admin run endpoint
// is additionally gated on the admin role.
func (h *ProvisionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/provisioning", authMiddleware(http.HandlerFunc(h.handleProvisioning)))
	mux.Handle("/admin/provisions/", authMiddleware(middleware.AdminOnly(http.HandlerFunc(h.adminRun))))
}

func (h *ProvisionHandler) handleProvisioning(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.current(w, r)
	case http.MethodPost:
		h.ensure(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func provisionDTO(p *model.InfraProvision) *dto.ProvisionResponseDTO {
	if p == nil {
		return nil
	}
	return &dto.ProvisionResponseDTO{
		ID:           p.ID,
		Status:       p.Status,
		Tier:         string(p.Tier),
		TargetKind:   p.TargetKind,
		CostCents:    p.CostCents,
		Endpoint:     p.Endpoint,
		ErrorMessage: p.ErrorMessage,
		CreatedAt:    p.CreatedAt,
		FinishedAt:   p.FinishedAt,
	}
}

// current godoc
// @Summary Get the caller's current provision
// @Tags provisioning
// @Produce json
// @Success 200 {object} dto.ProvisionResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "no provision"
// @Router /provisioning [get]
func (h *ProvisionHandler) current(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	p, err := h.provisioningSvc.CurrentForUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if p == nil {
		http.Error(w, "no provision", http.StatusNotFound)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, provisionDTO(p))
}

// ensure godoc
// @Summary Ensure a provision exists for the caller's tier
// @Description Queues a provisioning job for tiers that require a dedicated database. Idempotent: an existing provision is reported, never duplicated.
// @Tags provisioning
// @Produce json
// @Success 200 {object} dto.ProvisionEnsureResponseDTO
// @Success 202 {object} dto.ProvisionEnsureResponseDTO "newly queued"
// @Failure 401 {string} string "unauthorized"
// @Router /provisioning [post]
func (h *ProvisionHandler) ensure(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tier, err := h.planSvc.EffectiveTier(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	res, err := h.provisioningSvc.EnsureProvisionForTier(r.Context(), userID, tier)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, h.logger, status, dto.ProvisionEnsureResponseDTO{
		Required:           res.Required,
		AlreadyProvisioned: res.AlreadyProvisioned,
		InProgress:         res.InProgress,
		Queued:             res.Queued,
		Provision:          provisionDTO(res.Provision),
	})
}

// adminRun godoc
// @Summary Run a queued provision synchronously (admin only)
// @Tags provisioning
// @Produce json
// @Success 200 {object} dto.ProvisionResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 402 {object} map[string]interface{} "insufficient funds"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /admin/provisions/{provisionId}/run [post]
func (h *ProvisionHandler) adminRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/admin/provisions/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "run" {
		http.NotFound(w, r)
		return
	}
	provisionID := parts[0]
	p, err := h.provisioningSvc.RunProvisionJob(r.Context(), provisionID)
	if err != nil {
		// A failed run still has a terminal record worth returning alongside
		// the error status.
		if _, ok := apperr.IsInsufficientFunds(err); ok && p != nil {
			writeJSON(w, h.logger, http.StatusPaymentRequired, provisionDTO(p))
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, provisionDTO(p))
}
