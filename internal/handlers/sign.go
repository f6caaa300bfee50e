package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/internal/ratelimit"
	"github.com/diewo77/go-partners/internal/services"
	"github.com/diewo77/go-partners/validation"
)

// Signer is the part of services.PartnerService the signing API uses.
type Signer interface {
	Sign(ctx context.Context, in services.SignInput) (*services.SignResult, error)
	Status(ctx context.Context, partnerID string) (*services.SigningStatus, error)
}

// SignHandler lets partners sign their onboarding documents.
type SignHandler struct {
	partners   Signer
	production bool
	log        *zap.Logger
}

func NewSignHandler(partners Signer, production bool, log *zap.Logger) *SignHandler {
	return &SignHandler{partners: partners, production: production, log: logging.OrNop(log).Named("handlers.sign")}
}

func (h *SignHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var in services.SignInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid JSON body", nil)
		return
	}
	if v := validation.Struct(in); v != nil {
		if v["partnerId"] == "required" || v["documentType"] == "required" || v["signature"] == "required" {
			httpx.Fail(w, http.StatusBadRequest, "Missing required fields: partnerId, documentType, signature", nil)
			return
		}
		httpx.Fail(w, http.StatusBadRequest, "Validation failed", v)
		return
	}
	in.IPAddress = ratelimit.ClientIP(r)

	res, err := h.partners.Sign(r.Context(), in)
	switch {
	case err == nil:
		ok(w, http.StatusOK, map[string]any{
			"message":             res.Message,
			"allDocumentsSigned":  res.AllDocumentsSigned,
			"automationTriggered": res.AutomationTriggered,
			"documentStatus":      res.DocumentStatus,
		})
	case errors.Is(err, services.ErrInvalidDocumentType):
		var details any
		if !h.production {
			details = map[string]any{"validTypes": models.SignableDocumentTypes}
		}
		httpx.Fail(w, http.StatusBadRequest, "Invalid document type", details)
	case errors.Is(err, services.ErrDatabaseNotConfigured):
		httpx.Fail(w, http.StatusInternalServerError, "Database not configured", nil)
	case errors.Is(err, services.ErrPartnerNotFound):
		httpx.Fail(w, http.StatusNotFound, "Partner not found", nil)
	case errors.Is(err, services.ErrForbidden):
		httpx.Fail(w, http.StatusForbidden, "Forbidden", nil)
	case errors.Is(err, services.ErrAlreadySigned):
		httpx.Fail(w, http.StatusBadRequest, "Document already signed", nil)
	default:
		h.log.Error("sign document",
			zap.String("partner_id", in.PartnerID),
			zap.String("document_type", in.DocumentType),
			zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to sign document", nil)
	}
}

// Status reports which documents a partner has signed. Partners the caller
// may not view are reported as missing.
func (h *SignHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("partnerId"))
	if id == "" {
		httpx.Fail(w, http.StatusBadRequest, "Missing partnerId parameter", nil)
		return
	}
	st, err := h.partners.Status(r.Context(), id)
	switch {
	case err == nil:
		ok(w, http.StatusOK, map[string]any{
			"partnerId":       st.PartnerID,
			"documentsStatus": st.DocumentsStatus,
			"documents":       st.Documents,
			"allSigned":       st.AllSigned,
		})
	case errors.Is(err, services.ErrPartnerNotFound):
		httpx.Fail(w, http.StatusNotFound, "Not found", nil)
	case errors.Is(err, services.ErrDatabaseNotConfigured):
		httpx.Fail(w, http.StatusInternalServerError, "Database not configured", nil)
	default:
		h.log.Error("signing status", zap.String("partner_id", id), zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to load signing status", nil)
	}
}
