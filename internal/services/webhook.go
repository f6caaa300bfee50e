package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/ghl"
	"github.com/diewo77/go-partners/internal/metrics"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/validation"
)

// WebhookSourceGHL tags audit rows written for GoHighLevel deliveries.
const WebhookSourceGHL = "ghl"

// WebhookResult is the outcome of one delivery. Only a database failure is
// returned as an error; everything else is reported through Status.
type WebhookResult struct {
	EventID   string `json:"eventId"`
	Processed bool   `json:"processed"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// HandleWebhook audits env, then validates and applies it to the matched
// partner. payload is the raw body stored on the audit row.
func (s *PartnerService) HandleWebhook(ctx context.Context, env ghl.Envelope, payload []byte) (*WebhookResult, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotConfigured
	}
	audit := models.WebhookEvent{
		Source:    WebhookSourceGHL,
		EventType: env.Type,
		Payload:   datatypes.JSON(payload),
		Status:    models.WebhookReceived,
	}
	if err := s.db.WithContext(ctx).Create(&audit).Error; err != nil {
		return nil, fmt.Errorf("record webhook: %w", err)
	}

	status, reason, applyErr := s.applyEvent(ctx, env)
	if applyErr != nil {
		status, reason = models.WebhookFailed, applyErr.Error()
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", audit.ID).
		Updates(map[string]any{"status": status, "error": reason, "processed_at": now}).Error; err != nil {
		s.log.Error("update webhook audit row", zap.String("event_id", audit.ID), zap.Error(err))
	}

	label := env.Type
	if status == models.WebhookIgnored && !knownEvent(env.Type) {
		label = "unknown"
	}
	metrics.WebhookEvents.WithLabelValues(label, status).Inc()

	log := s.log.With(zap.String("event_id", audit.ID), zap.String("event_type", env.Type), zap.String("outcome", status))
	switch status {
	case models.WebhookProcessed:
		log.Info("webhook processed")
	case models.WebhookFailed:
		log.Error("webhook failed", zap.String("reason", reason))
	default:
		log.Warn("webhook not applied", zap.String("reason", reason))
	}

	res := &WebhookResult{EventID: audit.ID, Processed: status == models.WebhookProcessed, Status: status, Reason: reason}
	if applyErr != nil {
		return res, applyErr
	}
	return res, nil
}

func knownEvent(t string) bool {
	switch t {
	case ghl.EventDocumentSigned, ghl.EventDocumentViewed, ghl.EventDocumentDeclined, ghl.EventDocumentExpired,
		ghl.EventContactUpdated, ghl.EventOpportunityStageChanged, ghl.EventPartnerApproved, ghl.EventPartnerRejected:
		return true
	}
	return false
}

// applyEvent returns the audit status and a reason for anything other than
// processed. The error is set only for database failures.
func (s *PartnerService) applyEvent(ctx context.Context, env ghl.Envelope) (string, string, error) {
	ev, err := ghl.ParseEvent(env)
	if err != nil {
		var v validation.Violations
		switch {
		case errors.Is(err, ghl.ErrUnknownEvent):
			return models.WebhookIgnored, err.Error(), nil
		case errors.As(err, &v):
			return models.WebhookInvalid, v.Error(), nil
		default:
			return models.WebhookInvalid, err.Error(), nil
		}
	}

	p, err := s.match(ctx, ev.Ref())
	if errors.Is(err, ErrPartnerNotFound) {
		return models.WebhookIgnored, "partner not found", nil
	}
	if err != nil {
		return "", "", err
	}

	switch e := ev.(type) {
	case *ghl.DocumentEvent:
		err = s.applyDocumentEvent(ctx, p, env.Type, e)
	case *ghl.ContactEvent:
		err = s.applyContactEvent(ctx, p, e)
	case *ghl.OpportunityEvent:
		err = s.applyOpportunityEvent(ctx, p, e)
	case *ghl.PartnerDecisionEvent:
		if env.Type == ghl.EventPartnerApproved {
			err = s.activate(ctx, p)
		} else {
			err = s.reject(ctx, p, e.Reason)
		}
	}
	if err != nil {
		return "", "", err
	}
	return models.WebhookProcessed, "", nil
}

// match finds the partner by our id, then CRM contact id, then email.
func (s *PartnerService) match(ctx context.Context, ref ghl.PartnerRef) (*models.Partner, error) {
	q := s.db.WithContext(ctx)
	lookups := []struct {
		value string
		where string
	}{
		{ref.PartnerID, "id = ?"},
		{ref.ContactID, "ghl_contact_id = ?"},
		{strings.ToLower(strings.TrimSpace(ref.ContactEmail)), "LOWER(contact_email) = ?"},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		var found []models.Partner
		if err := q.Where(l.where, l.value).Limit(1).Find(&found).Error; err != nil {
			return nil, fmt.Errorf("match partner: %w", err)
		}
		if len(found) > 0 {
			return &found[0], nil
		}
	}
	return nil, ErrPartnerNotFound
}

func (s *PartnerService) applyDocumentEvent(ctx context.Context, p *models.Partner, eventType string, e *ghl.DocumentEvent) error {
	at := s.now()
	if e.OccurredAt != nil {
		at = *e.OccurredAt
	}

	var completed, newlySigned bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPartner(tx, p); err != nil {
			return err
		}
		doc, err := loadDocument(tx, p.ID, e.DocumentType)
		if err != nil {
			return err
		}
		// A signed document is final; later CRM events for it are no-ops.
		if doc.Status == models.DocumentSigned {
			return nil
		}
		if e.DocumentID != "" {
			doc.GHLDocumentID = e.DocumentID
		}

		switch eventType {
		case ghl.EventDocumentSigned:
			doc.Status = models.DocumentSigned
			doc.SignedAt = &at
			doc.SignedByName = e.SignerName
			doc.SignedByEmail = strings.ToLower(e.SignerEmail)
			doc.IPAddress = e.IPAddress
			newlySigned = true
		case ghl.EventDocumentViewed:
			doc.Status = models.DocumentViewed
			doc.ViewedAt = &at
		case ghl.EventDocumentDeclined:
			doc.Status = models.DocumentDeclined
		case ghl.EventDocumentExpired:
			doc.Status = models.DocumentExpired
		}
		if err := tx.Save(doc).Error; err != nil {
			return fmt.Errorf("save document: %w", err)
		}

		if newlySigned {
			completed, err = recordSignature(tx, p, e.DocumentType, at)
			return err
		}
		if eventType == ghl.EventDocumentDeclined || eventType == ghl.EventDocumentExpired {
			return keepDocumentsPending(tx, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if newlySigned {
		metrics.DocumentsSigned.WithLabelValues(e.DocumentType, metrics.SourceWebhook).Inc()
	}
	if completed {
		s.documentsCompleted(ctx, p)
	}
	return nil
}

// keepDocumentsPending moves a partner that has not finished signing to
// documents_pending.
func keepDocumentsPending(tx *gorm.DB, p *models.Partner) error {
	if p.DocumentsStatus == models.DocumentsCompleted {
		return nil
	}
	updates := map[string]any{"documents_status": models.DocumentsPending}
	p.DocumentsStatus = models.DocumentsPending
	if p.Status == models.PartnerPending || p.Status == "" {
		p.Status = models.PartnerDocumentsPending
		updates["status"] = p.Status
	}
	return tx.Model(&models.Partner{}).Where("id = ?", p.ID).Updates(updates).Error
}

func (s *PartnerService) applyContactEvent(ctx context.Context, p *models.Partner, e *ghl.ContactEvent) error {
	updates := map[string]any{}
	if name := strings.TrimSpace(e.FirstName + " " + e.LastName); name != "" {
		updates["contact_name"] = name
	}
	if e.Email != "" {
		updates["contact_email"] = strings.ToLower(e.Email)
	}
	if e.Phone != "" {
		updates["contact_phone"] = e.Phone
	}
	if e.CompanyName != "" {
		updates["business_name"] = e.CompanyName
	}
	if e.Website != "" {
		updates["website_url"] = e.Website
	}
	if e.ContactID != "" {
		updates["ghl_contact_id"] = e.ContactID
	}
	if len(updates) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Partner{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	return nil
}

func (s *PartnerService) applyOpportunityEvent(ctx context.Context, p *models.Partner, e *ghl.OpportunityEvent) error {
	stage := e.StageName
	if stage == "" {
		stage = e.StageID
	}
	updates := map[string]any{"ghl_opportunity_id": e.OpportunityID, "ghl_stage": stage}
	if p.GHLContactID == "" && e.ContactID != "" {
		updates["ghl_contact_id"] = e.ContactID
	}
	if err := s.db.WithContext(ctx).Model(&models.Partner{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update opportunity: %w", err)
	}
	return nil
}

func (s *PartnerService) reject(ctx context.Context, p *models.Partner, reason string) error {
	if err := s.db.WithContext(ctx).Model(&models.Partner{}).Where("id = ?", p.ID).
		Updates(map[string]any{"status": models.PartnerSuspended, "rejection_reason": reason}).Error; err != nil {
		return fmt.Errorf("reject partner: %w", err)
	}
	p.Status = models.PartnerSuspended
	p.RejectionReason = reason
	s.log.Info("partner rejected", zap.String("partner_id", p.ID))
	return nil
}
