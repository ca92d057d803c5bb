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

const defaultLedgerLimit = 50

// WalletHandler handles wallet balance, ledger and topup endpoints.
type WalletHandler struct {
	walletSvc service.WalletService
	stripeSvc *service.StripeService
	validate  *validator.Validate
	logger    zerolog.Logger
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc service.WalletService, stripeSvc *service.StripeService, validate *validator.Validate, logger zerolog.Logger) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc, stripeSvc: stripeSvc, validate: validate, logger: logger}
}

// RegisterRoutes registers the wallet endpoints.
func (h *WalletHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("/wallet", authMiddleware(http.HandlerFunc(h.Get)))
	mux.Handle("/wallet/topup", authMiddleware(http.HandlerFunc(h.Topup)))
}

// Get godoc
// @Summary Get wallet balance and recent ledger entries
// @Tags wallet
// @Produce json
// @Success 200 {object} dto.WalletResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Router /wallet [get]
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	balance, err := h.walletSvc.Balance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	ledger, err := h.walletSvc.Ledger(r.Context(), userID, defaultLedgerLimit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.WalletResponseDTO{
		UserID:       userID,
		BalanceCents: balance,
		Ledger:       ledger,
	})
}

// Topup godoc
// @Summary Initiate a Stripe Checkout session for a wallet topup
// @Description Creates a one-off payment Checkout session and returns its URL. The wallet is credited by the webhook after payment.
// @Tags wallet
// @Accept json
// @Produce json
// @Param topup body dto.TopupRequestDTO true "Topup request"
// @Success 200 {object} dto.TopupResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to create topup session"
// @Router /wallet/topup [post]
func (h *WalletHandler) Topup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.TopupRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "amount_cents must be a positive integer", http.StatusBadRequest)
		return
	}
	url, err := h.stripeSvc.CreateTopupSession(r.Context(), userID, req.AmountCents)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create topup session")
		http.Error(w, "failed to create topup session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, dto.TopupResponseDTO{URL: url})
}
