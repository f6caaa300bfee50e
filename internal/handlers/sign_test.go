package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/go-partners/internal/handlers"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/internal/services"
)

type fakeSigner struct {
	got    services.SignInput
	res    *services.SignResult
	status *services.SigningStatus
	err    error
}

func (f *fakeSigner) Sign(_ context.Context, in services.SignInput) (*services.SignResult, error) {
	f.got = in
	return f.res, f.err
}

func (f *fakeSigner) Status(_ context.Context, _ string) (*services.SigningStatus, error) {
	return f.status, f.err
}

func signBody() map[string]string {
	return map[string]string{
		"partnerId":     "3f0c7d7e-9d7b-4b0e-8a55-2b1f9f7f1d10",
		"documentType":  models.DocW9,
		"signature":     "data:image/png;base64,AAAA",
		"signedByName":  "Rae Lin",
		"signedByEmail": "rae@summit.example",
	}
}

func TestSignDocument(t *testing.T) {
	signer := &fakeSigner{res: &services.SignResult{
		Message:             "w9 signed successfully",
		AllDocumentsSigned:  true,
		AutomationTriggered: true,
		DocumentStatus:      services.DocumentFlags{AgreementSigned: true, W9Signed: true, DirectDepositSigned: true},
	}}
	h := handlers.NewSignHandler(signer, false, nil)

	req := request(t, http.MethodPost, "/api/documents/sign", signBody())
	req.RemoteAddr = "203.0.113.7:51234"
	rec := serve(http.HandlerFunc(h.Sign), req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "w9 signed successfully", body["message"])
	assert.Equal(t, true, body["allDocumentsSigned"])
	assert.Equal(t, true, body["automationTriggered"])
	assert.Equal(t, map[string]any{"agreementSigned": true, "w9Signed": true, "directDepositSigned": true}, body["documentStatus"])
	assert.Equal(t, "203.0.113.7", signer.got.IPAddress)
	assert.Equal(t, models.DocW9, signer.got.DocumentType)
}

func TestSignDocumentErrors(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		body       any
		err        error
		code       int
		message    string
	}{
		{"missing signature", false, map[string]string{"partnerId": "p", "documentType": models.DocW9}, nil, http.StatusBadRequest, "Missing required fields: partnerId, documentType, signature"},
		{"bad email", false, map[string]string{"partnerId": "p", "documentType": models.DocW9, "signature": "x", "signedByEmail": "nope"}, nil, http.StatusBadRequest, "Validation failed"},
		{"malformed", false, "[", nil, http.StatusBadRequest, "Invalid JSON body"},
		{"invalid type", false, signBody(), services.ErrInvalidDocumentType, http.StatusBadRequest, "Invalid document type"},
		{"no database", false, signBody(), services.ErrDatabaseNotConfigured, http.StatusInternalServerError, "Database not configured"},
		{"unknown partner", false, signBody(), services.ErrPartnerNotFound, http.StatusNotFound, "Partner not found"},
		{"not owner", false, signBody(), fmt.Errorf("%w: denied", services.ErrForbidden), http.StatusForbidden, "Forbidden"},
		{"already signed", false, signBody(), services.ErrAlreadySigned, http.StatusBadRequest, "Document already signed"},
		{"store failure", false, signBody(), errors.New("disk full"), http.StatusInternalServerError, "Failed to sign document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.NewSignHandler(&fakeSigner{err: tt.err}, tt.production, nil)
			rec := serve(http.HandlerFunc(h.Sign), request(t, http.MethodPost, "/api/documents/sign", tt.body))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.message, decodeBody(t, rec)["error"])
		})
	}
}

func TestSignInvalidTypeDetails(t *testing.T) {
	for _, production := range []bool{false, true} {
		h := handlers.NewSignHandler(&fakeSigner{err: services.ErrInvalidDocumentType}, production, nil)
		body := decodeBody(t, serve(http.HandlerFunc(h.Sign), request(t, http.MethodPost, "/api/documents/sign", signBody())))
		if production {
			assert.NotContains(t, body, "details")
		} else {
			assert.Equal(t, map[string]any{"validTypes": []any{"partner_agreement", "w9", "direct_deposit"}}, body["details"])
		}
	}
}

func TestSigningStatus(t *testing.T) {
	signedAt := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
	signer := &fakeSigner{status: &services.SigningStatus{
		PartnerID:       "p-1",
		DocumentsStatus: models.DocumentsPending,
		Documents: map[string]services.DocumentState{
			models.DocW9:               {Signed: true, SignedAt: &signedAt},
			models.DocPartnerAgreement: {},
			models.DocDirectDeposit:    {},
		},
	}}
	h := handlers.NewSignHandler(signer, true, nil)

	rec := serve(http.HandlerFunc(h.Status), request(t, http.MethodGet, "/api/documents/sign?partnerId=p-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "p-1", body["partnerId"])
	assert.Equal(t, models.DocumentsPending, body["documentsStatus"])
	assert.Equal(t, false, body["allSigned"])
	w9 := body["documents"].(map[string]any)[models.DocW9].(map[string]any)
	assert.Equal(t, true, w9["signed"])
	assert.Equal(t, "2026-04-01T09:30:00Z", w9["signedAt"])

	rec = serve(http.HandlerFunc(h.Status), request(t, http.MethodGet, "/api/documents/sign", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing partnerId parameter", decodeBody(t, rec)["error"])

	h = handlers.NewSignHandler(&fakeSigner{err: services.ErrPartnerNotFound}, true, nil)
	rec = serve(http.HandlerFunc(h.Status), request(t, http.MethodGet, "/api/documents/sign?partnerId=p-2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decodeBody(t, rec)["error"])
}
