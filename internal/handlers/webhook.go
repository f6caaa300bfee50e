package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/ghl"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/services"
	"github.com/diewo77/go-partners/validation"
)

// WebhookProcessor applies a verified delivery. *services.PartnerService
// satisfies it.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, env ghl.Envelope, payload []byte) (*services.WebhookResult, error)
}

// WebhookHandler receives GoHighLevel webhooks.
type WebhookHandler struct {
	partners WebhookProcessor
	secret   string
	dev      bool
	log      *zap.Logger
}

// NewWebhookHandler verifies deliveries against secret. In development an
// empty secret disables verification; elsewhere it rejects every delivery.
func NewWebhookHandler(partners WebhookProcessor, secret string, dev bool, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{partners: partners, secret: secret, dev: dev, log: logging.OrNop(log).Named("handlers.webhook")}
}

func (h *WebhookHandler) GHL(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, httpx.MaxBodyBytes))
	if err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Failed to read body", nil)
		return
	}

	switch {
	case h.secret != "":
		if err := ghl.VerifySignature(h.secret, body, r.Header.Get(ghl.SignatureHeader)); err != nil {
			h.log.Warn("webhook signature rejected", zap.Error(err))
			httpx.Fail(w, http.StatusUnauthorized, "Invalid signature", nil)
			return
		}
	case h.dev:
		h.log.Debug("webhook secret not set, skipping signature check")
	default:
		h.log.Error("webhook secret not configured")
		httpx.Fail(w, http.StatusInternalServerError, "Webhook secret not configured", nil)
		return
	}

	var env ghl.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid JSON payload", nil)
		return
	}
	if v := validation.Struct(env); v != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid webhook payload", v)
		return
	}

	res, err := h.partners.HandleWebhook(r.Context(), env, body)
	switch {
	case err == nil:
		ok(w, http.StatusOK, map[string]any{"eventId": res.EventID, "processed": res.Processed})
	case errors.Is(err, services.ErrDatabaseNotConfigured):
		httpx.Fail(w, http.StatusInternalServerError, "Database not configured", nil)
	default:
		h.log.Error("process webhook", zap.String("event_type", env.Type), zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to process webhook", nil)
	}
}
