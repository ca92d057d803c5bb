package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"app/internal/apperr"

	"github.com/rs/zerolog"
)

// writeJSON encodes v with the JSON content type. Encoding failures are logged
// but cannot change the response; the status line is already gone.
func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

// writeServiceError maps the error taxonomy onto HTTP statuses:
// validation 400, insufficient funds 402, not found 404, quota 429.
// Everything else is a 500 with a generic body.
func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	if qe, ok := apperr.IsQuotaExceeded(err); ok {
		writeJSON(w, logger, http.StatusTooManyRequests, map[string]any{
			"code":  qe.Code,
			"tier":  string(qe.Tier),
			"used":  qe.Used,
			"limit": qe.Limit,
		})
		return
	}
	if ie, ok := apperr.IsInsufficientFunds(err); ok {
		writeJSON(w, logger, http.StatusPaymentRequired, map[string]any{
			"code":          "INSUFFICIENT_FUNDS",
			"needed_cents":  ie.NeededCents,
			"balance_cents": ie.BalanceCents,
		})
		return
	}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		http.Error(w, ve.Msg, http.StatusBadRequest)
		return
	}
	if errors.Is(err, apperr.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, apperr.ErrForbidden) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	logger.Error().Err(err).Msg("request failed")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
