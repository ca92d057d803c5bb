package handler

import (
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/config"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// PlanHandler handles plan and subscription endpoints.
type PlanHandler struct {
	planSvc   service.PlanService
	stripeSvc *service.StripeService
	cfg       *config.Config
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewPlanHandler creates a new PlanHandler.
func NewPlanHandler(planSvc service.PlanService, stripeSvc *service.StripeService, cfg *config.Config, validate *validator.Validate, logger zerolog.Logger) *PlanHandler {
	return &PlanHandler{planSvc: planSvc, stripeSvc: stripeSvc, cfg: cfg, validate: validate, logger: logger}
}

// RegisterRoutes registers the plan endpoints.
func (h *PlanHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/me/plan", authMiddleware(http.HandlerFunc(h.Overview)))
	mux.Handle("/me/plan/history", authMiddleware(http.HandlerFunc(h.History)))
	mux.Handle("/subscriptions/checkout", authMiddleware(http.HandlerFunc(h.Checkout)))
}

// Overview godoc
// @Summary Get the caller's effective tier and limits
// @Tags plans
// @Produce json
// @Success 200 {object} service.PlanOverview
// @Failure 401 {string} string "unauthorized"
// @Router /me/plan [get]
func (h *PlanHandler) Overview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	overview, err := h.planSvc.Overview(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, overview)
}

// History godoc
// @Summary List the caller's plan history
// @Description Returns every plan row for the caller, newest start first. Billing history, nothing is ever deleted.
// @Tags plans
// @Produce json
// @Success 200 {array} model.Plan
// @Failure 401 {string} string "unauthorized"
// @Router /me/plan/history [get]
func (h *PlanHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	plans, err := h.planSvc.History(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if plans == nil {
		plans = []model.Plan{}
	}
	writeJSON(w, h.logger, http.StatusOK, plans)
}

func (h *PlanHandler) priceForTier(tier string) string {
	switch tier {
	case "BASIC":
		return h.cfg.StripePriceBasic
	case "PRO":
		return h.cfg.StripePricePro
	case "PRO_PLUS":
		return h.cfg.StripePriceProPlus
	case "CREATOR":
		return h.cfg.StripePriceCreator
	default:
		return ""
	}
}

// Checkout godoc
// @Summary Initiate a Stripe Checkout session for a plan upgrade
// @Description Creates a subscription Checkout session for the requested tier and returns its URL.
// @Tags plans
// @Accept json
// @Produce json
// @Param subscription body dto.SubscriptionCheckoutRequestDTO true "Subscription checkout request"
// @Success 200 {object} map[string]string "URL of the Stripe Checkout session"
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to create checkout session"
// @Router /subscriptions/checkout [post]
func (h *PlanHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.SubscriptionCheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "tier must be one of BASIC, PRO, PRO_PLUS, CREATOR", http.StatusBadRequest)
		return
	}
	priceID := h.priceForTier(req.Tier)
	if priceID == "" {
		http.Error(w, "tier is not purchasable", http.StatusBadRequest)
		return
	}
	url, err := h.stripeSvc.CreateSubscriptionSession(r.Context(), userID, priceID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create checkout session")
		http.Error(w, "failed to create checkout session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"url": url})
}
