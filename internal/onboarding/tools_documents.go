package onboarding

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/documents"
	"github.com/diewo77/go-partners/internal/ghl"
	"github.com/diewo77/go-partners/internal/models"
)

// previewLength caps the template excerpt returned to the model.
const previewLength = 1200

func (t *Toolbox) registerDocuments() {
	t.add(ToolSendDocuments,
		"Send the partnership agreement, W9, and direct deposit forms to the partner",
		object(map[string]any{
			"partnerId":     str("The partner's ID"),
			"documentTypes": strList("Types of documents to send: partner_agreement, w9, direct_deposit"),
		}, "partnerId"),
		handler(t.sendDocuments))

	t.add(ToolCheckDocumentStatus,
		"Check the signing status of partner documents",
		object(map[string]any{
			"partnerId": str("The partner's ID"),
		}, "partnerId"),
		handler(t.checkDocumentStatus))

	t.add(ToolGenerateDocumentPreview,
		"Show a preview of a partner document filled in with the business details collected so far",
		object(map[string]any{
			"documentType": enum("The document to preview", models.DocumentTypes...),
			"partnerId":    str("The partner's ID, when an account exists"),
		}, "documentType"),
		handler(t.generateDocumentPreview))
}

type sendDocumentsArgs struct {
	PartnerID     string   `json:"partnerId" validate:"max=64"`
	DocumentTypes []string `json:"documentTypes" validate:"omitempty,dive,oneof=partner_agreement w9 direct_deposit"`
}

func (t *Toolbox) sendDocuments(ctx context.Context, tc ToolContext, args sendDocumentsArgs) (ToolResult, error) {
	types := args.DocumentTypes
	if len(types) == 0 {
		types = models.SignableDocumentTypes
	}
	out := map[string]any{
		"documentsSent": types,
		"message":       "We've sent the following documents to your email: " + strings.Join(types, ", ") + ". Please review and sign them to continue.",
		"estimatedTime": "5-10 minutes",
	}
	p, err := t.loadPartner(ctx, partnerIDFor(tc, args.PartnerID))
	if err != nil {
		return ToolResult{}, err
	}
	if p == nil {
		out["mock"] = true
		out["partnerId"] = partnerIDFor(tc, args.PartnerID)
		return done(out)
	}
	out["partnerId"] = p.ID

	sent := map[string]*ghl.Document{}
	for _, dt := range types {
		sent[dt] = &ghl.Document{}
	}
	if t.crm != nil && p.GHLContactID != "" {
		docs, err := t.crm.SendOnboardingDocuments(ctx, p.GHLContactID, p.GHLOpportunityID, p.BusinessName)
		if err != nil {
			t.log.Error("crm send documents", zap.String("partner_id", p.ID), zap.Error(err))
		}
		for dt, d := range docs {
			if _, wanted := sent[dt]; wanted {
				sent[dt] = d
			}
		}
	}
	if err := t.recordCRMDocuments(ctx, p, nil, nil, sent); err != nil {
		return ToolResult{}, err
	}
	return done(out)
}

// upsertSentDocument marks a document as sent unless it is already signed.
func upsertSentDocument(tx *gorm.DB, partnerID, docType, ghlDocumentID string, now time.Time) error {
	var doc models.PartnerDocument
	err := tx.Where("partner_id = ? AND document_type = ?", partnerID, docType).First(&doc).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&models.PartnerDocument{
			PartnerID:     partnerID,
			DocumentType:  docType,
			Status:        models.DocumentSent,
			GHLDocumentID: ghlDocumentID,
			SentAt:        &now,
		}).Error
	case err != nil:
		return err
	case doc.Status == models.DocumentSigned:
		return nil
	}
	updates := map[string]any{"status": models.DocumentSent, "sent_at": now}
	if ghlDocumentID != "" {
		updates["ghl_document_id"] = ghlDocumentID
	}
	return tx.Model(&doc).Updates(updates).Error
}

type partnerArgs struct {
	PartnerID string `json:"partnerId" validate:"max=64"`
}

// documentStatuses maps each signable type to its status, "not_sent" when
// there is no row.
func (t *Toolbox) documentStatuses(ctx context.Context, partnerID string) (map[string]string, error) {
	var docs []models.PartnerDocument
	if err := t.db.WithContext(ctx).Where("partner_id = ?", partnerID).Find(&docs).Error; err != nil {
		return nil, err
	}
	status := make(map[string]string, len(models.SignableDocumentTypes))
	for _, dt := range models.SignableDocumentTypes {
		status[dt] = "not_sent"
	}
	for _, d := range docs {
		if _, signable := status[d.DocumentType]; signable {
			status[d.DocumentType] = d.Status
		}
	}
	return status, nil
}

func (t *Toolbox) checkDocumentStatus(ctx context.Context, tc ToolContext, args partnerArgs) (ToolResult, error) {
	if t.db == nil {
		docs := make([]map[string]string, 0, len(models.SignableDocumentTypes))
		for _, dt := range models.SignableDocumentTypes {
			docs = append(docs, map[string]string{"type": dt, "status": "pending"})
		}
		return done(map[string]any{"mock": true, "documents": docs})
	}
	id := partnerIDFor(tc, args.PartnerID)
	if id == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	status, err := t.documentStatuses(ctx, id)
	if err != nil {
		return ToolResult{}, err
	}
	all := true
	for _, s := range status {
		all = all && s == models.DocumentSigned
	}
	msg := "Some documents are still pending signature."
	if all {
		msg = "All documents have been signed!"
	}
	return done(map[string]any{
		"partnerId":   id,
		"documents":   status,
		"allComplete": all,
		"message":     msg,
	})
}

type documentPreviewArgs struct {
	DocumentType string `json:"documentType" validate:"required,oneof=partner_agreement joint_marketing_agreement mutual_nda w9 sponsorship_agreement direct_deposit"`
	PartnerID    string `json:"partnerId" validate:"max=64"`
}

func (t *Toolbox) generateDocumentPreview(ctx context.Context, tc ToolContext, args documentPreviewArgs) (ToolResult, error) {
	values := documents.Values{
		BusinessName:    tc.Collected.BusinessName,
		BusinessAddress: tc.Collected.BusinessAddress,
		ContactName:     tc.Collected.ContactName,
		EntityType:      tc.Collected.EntityType,
	}
	if id := partnerIDFor(tc, args.PartnerID); id != "" && t.db != nil {
		if p, err := t.loadPartner(ctx, id); err == nil {
			values = documents.ValuesFromPartner(p).Override(values)
		}
	}

	list := t.templates.List(ctx, args.DocumentType, values)
	if len(list.Templates) == 0 {
		return ToolResult{}, errors.New("no template for " + args.DocumentType)
	}
	tpl := list.Templates[0]
	preview := tpl.Content
	truncated := false
	if r := []rune(preview); len(r) > previewLength {
		preview, truncated = string(r[:previewLength])+"…", true
	}
	return done(map[string]any{
		"documentType": tpl.Type,
		"title":        tpl.Title,
		"version":      tpl.Version,
		"preview":      preview,
		"truncated":    truncated,
		"source":       list.Source,
	})
}
