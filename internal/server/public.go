package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kkkkikiki/voucher/internal/service"
)

// PublicHandler serves the unauthenticated voucher lookup.
type PublicHandler struct {
	campaigns *service.CampaignService
	logger    *zap.Logger
}

// NewPublicHandler creates a PublicHandler
func NewPublicHandler(campaigns *service.CampaignService, logger *zap.Logger) *PublicHandler {
	return &PublicHandler{campaigns: campaigns, logger: logger}
}

// GetVoucher returns {code, expiryDate, isUsed} and nothing else.
func (h *PublicHandler) GetVoucher(w http.ResponseWriter, r *http.Request) {
	voucher, err := h.campaigns.Lookup(r.Context(), chi.URLParam(r, "code"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, voucher)
	case errors.Is(err, service.ErrVoucherNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "voucher not found")
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		h.logger.Error("voucher lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}
