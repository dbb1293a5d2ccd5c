package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub030/internal/payments"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/httpx"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/requestctx"
	"github.com/Luneo19/luneo-platform-sub030/internal/services"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodySize    = 256 * 1024
)

// WebhookHandlers receives payment gateway notifications.
type WebhookHandlers struct {
	verifier payments.WebhookVerifier
	payouts  services.PayoutService
}

// NewWebhookHandlers constructs WebhookHandlers.
func NewWebhookHandlers(verifier payments.WebhookVerifier, payouts services.PayoutService) *WebhookHandlers {
	return &WebhookHandlers{verifier: verifier, payouts: payouts}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeTransfer)
}

func (h *WebhookHandlers) stripeTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.payouts == nil {
		serviceUnavailable(ctx, w, "webhook")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read webhook body", http.StatusBadRequest))
		return
	}

	event, err := h.verifier.ParseTransferEvent(body, r.Header.Get(stripeSignatureHeader))
	switch {
	case errors.Is(err, payments.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case errors.Is(err, payments.ErrUnsupportedEvent):
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	payout, err := h.payouts.HandleTransferEvent(ctx, services.TransferEvent{
		Type:       event.Type,
		TransferID: event.Transfer.ID,
		PayoutID:   event.Transfer.PayoutID,
		Reversed:   event.Transfer.Reversed,
	})
	if err != nil {
		if errors.Is(err, services.ErrPayoutNotFound) || errors.Is(err, services.ErrPayoutInvalidInput) {
			requestctx.Logger(ctx).Info("webhooks: transfer event ignored",
				zap.String("event_id", event.ID),
				zap.String("transfer_id", event.Transfer.ID),
				zap.Error(err),
			)
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received": true,
		"payoutId": payout.ID,
		"status":   string(payout.Status),
	})
}
