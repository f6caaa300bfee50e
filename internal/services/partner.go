// Package services holds the partner lifecycle and support triage logic
// shared by the HTTP handlers, the webhook intake and the onboarding agent.
package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/diewo77/go-partners/gate"
	"github.com/diewo77/go-partners/internal/db"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/metrics"
	"github.com/diewo77/go-partners/internal/models"
)

var (
	ErrDatabaseNotConfigured = errors.New("services: database not configured")
	ErrPartnerNotFound       = errors.New("services: partner not found")
	ErrForbidden             = errors.New("services: forbidden")
	ErrAlreadySigned         = errors.New("services: document already signed")
	ErrInvalidDocumentType   = errors.New("services: invalid document type")
	ErrDocumentsIncomplete   = errors.New("services: required documents are not all signed")
)

// CRM is the part of the GoHighLevel automation the partner lifecycle
// drives. *ghl.Automation satisfies it.
type CRM interface {
	DocumentsCompleted(ctx context.Context, contactID, opportunityID string) error
	ActivatePartner(ctx context.Context, contactID, opportunityID string) error
}

// Authorizer checks the caller in ctx against a resource. *policy.AuthGate
// satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error
}

// PartnerService signs documents, applies CRM events and activates
// partners. crm and authz may be nil: automation is then skipped and every
// caller is trusted.
type PartnerService struct {
	db    *gorm.DB
	crm   CRM
	authz Authorizer
	log   *zap.Logger
	now   func() time.Time
}

func NewPartnerService(gdb *gorm.DB, crm CRM, authz Authorizer, log *zap.Logger) *PartnerService {
	return &PartnerService{
		db:    gdb,
		crm:   crm,
		authz: authz,
		log:   logging.OrNop(log).Named("services.partners"),
		now:   time.Now,
	}
}

// SignInput is the body of a portal signature.
type SignInput struct {
	PartnerID     string `json:"partnerId" validate:"required,max=36"`
	DocumentType  string `json:"documentType" validate:"required,max=50"`
	Signature     string `json:"signature" validate:"required"`
	SignedByName  string `json:"signedByName" validate:"omitempty,max=255"`
	SignedByEmail string `json:"signedByEmail" validate:"omitempty,email,max=255"`
	IPAddress     string `json:"-"`
}

// DocumentFlags mirrors the partner's three signature flags.
type DocumentFlags struct {
	AgreementSigned     bool `json:"agreementSigned"`
	W9Signed            bool `json:"w9Signed"`
	DirectDepositSigned bool `json:"directDepositSigned"`
}

func flagsOf(p *models.Partner) DocumentFlags {
	return DocumentFlags{
		AgreementSigned:     p.AgreementSigned,
		W9Signed:            p.W9Signed,
		DirectDepositSigned: p.DirectDepositSigned,
	}
}

// SignResult reports a signature and whether it completed the set.
type SignResult struct {
	Message             string        `json:"message"`
	AllDocumentsSigned  bool          `json:"allDocumentsSigned"`
	AutomationTriggered bool          `json:"automationTriggered"`
	DocumentStatus      DocumentFlags `json:"documentStatus"`
}

// Sign records a signature from the partner portal. The document row and
// the partner flag are written in one transaction; CRM automation runs
// after commit and never fails the call.
func (s *PartnerService) Sign(ctx context.Context, in SignInput) (*SignResult, error) {
	if !slices.Contains(models.SignableDocumentTypes, in.DocumentType) {
		return nil, ErrInvalidDocumentType
	}
	if s.db == nil {
		return nil, ErrDatabaseNotConfigured
	}
	p, err := s.find(ctx, in.PartnerID)
	if err != nil {
		return nil, err
	}
	if s.authz != nil {
		if err := s.authz.Authorize(ctx, gate.ActionSign, db.ResourceDocument, p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
	}

	now := s.now()
	var completed bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPartner(tx, p); err != nil {
			return err
		}
		doc, err := loadDocument(tx, p.ID, in.DocumentType)
		if err != nil {
			return err
		}
		if doc.Status == models.DocumentSigned {
			return ErrAlreadySigned
		}
		doc.Status = models.DocumentSigned
		doc.SignedAt = &now
		doc.SignatureData = in.Signature
		doc.SignedByName = in.SignedByName
		doc.SignedByEmail = strings.ToLower(strings.TrimSpace(in.SignedByEmail))
		doc.IPAddress = in.IPAddress
		if err := tx.Save(doc).Error; err != nil {
			return fmt.Errorf("save document: %w", err)
		}
		completed, err = recordSignature(tx, p, in.DocumentType, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.DocumentsSigned.WithLabelValues(in.DocumentType, metrics.SourcePortal).Inc()
	s.log.Info("document signed",
		zap.String("partner_id", p.ID),
		zap.String("document_type", in.DocumentType),
		zap.Bool("all_signed", completed))

	res := &SignResult{
		Message:            in.DocumentType + " signed successfully",
		AllDocumentsSigned: completed,
		DocumentStatus:     flagsOf(p),
	}
	if completed {
		res.AutomationTriggered = s.documentsCompleted(ctx, p)
	}
	return res, nil
}

// DocumentState is the signing state of one document.
type DocumentState struct {
	Signed   bool       `json:"signed"`
	SignedAt *time.Time `json:"signedAt"`
}

// SigningStatus summarizes a partner's required documents.
type SigningStatus struct {
	PartnerID       string                   `json:"partnerId"`
	DocumentsStatus string                   `json:"documentsStatus"`
	Documents       map[string]DocumentState `json:"documents"`
	AllSigned       bool                     `json:"allSigned"`
}

// Status returns the signing status of a partner. Callers who may not view
// the partner get ErrPartnerNotFound, so existence is not leaked.
func (s *PartnerService) Status(ctx context.Context, partnerID string) (*SigningStatus, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotConfigured
	}
	p, err := s.find(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if s.authz != nil {
		if err := s.authz.Authorize(ctx, gate.ActionView, db.ResourceDocument, p); err != nil {
			return nil, ErrPartnerNotFound
		}
	}

	var docs []models.PartnerDocument
	if err := s.db.WithContext(ctx).
		Where("partner_id = ? AND document_type IN ?", p.ID, models.SignableDocumentTypes).
		Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	signedAt := make(map[string]*time.Time, len(docs))
	for _, d := range docs {
		signedAt[d.DocumentType] = d.SignedAt
	}

	out := &SigningStatus{
		PartnerID:       p.ID,
		DocumentsStatus: p.DocumentsStatus,
		Documents:       make(map[string]DocumentState, len(models.SignableDocumentTypes)),
		AllSigned:       p.AllDocumentsSigned(),
	}
	for _, t := range models.SignableDocumentTypes {
		signed := signedFlag(p, t)
		st := DocumentState{Signed: signed}
		if signed {
			st.SignedAt = signedAt[t]
		}
		out.Documents[t] = st
	}
	return out, nil
}

// Activate marks a partner active and approved, then moves the CRM contact
// to the active stage. The partner must have completed its documents. CRM
// errors are logged only.
func (s *PartnerService) Activate(ctx context.Context, partnerID string) (*models.Partner, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotConfigured
	}
	p, err := s.find(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if p.DocumentsStatus != models.DocumentsCompleted {
		return nil, ErrDocumentsIncomplete
	}
	if err := s.activate(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PartnerService) activate(ctx context.Context, p *models.Partner) error {
	now := s.now()
	if err := s.db.WithContext(ctx).Model(&models.Partner{}).Where("id = ?", p.ID).
		Updates(map[string]any{"status": models.PartnerActive, "approved_at": now}).Error; err != nil {
		return fmt.Errorf("activate partner: %w", err)
	}
	p.Status = models.PartnerActive
	p.ApprovedAt = &now
	s.log.Info("partner activated", zap.String("partner_id", p.ID))

	if s.crm != nil && p.GHLContactID != "" {
		if err := s.crm.ActivatePartner(ctx, p.GHLContactID, p.GHLOpportunityID); err != nil {
			s.log.Warn("crm activation failed", zap.String("partner_id", p.ID), zap.Error(err))
		}
	}
	return nil
}

// documentsCompleted runs the post-signing CRM automation and reports
// whether it succeeded.
func (s *PartnerService) documentsCompleted(ctx context.Context, p *models.Partner) bool {
	if s.crm == nil || p.GHLContactID == "" {
		s.log.Debug("no crm contact, skipping documents-completed automation", zap.String("partner_id", p.ID))
		return false
	}
	if err := s.crm.DocumentsCompleted(ctx, p.GHLContactID, p.GHLOpportunityID); err != nil {
		s.log.Warn("documents-completed automation failed", zap.String("partner_id", p.ID), zap.Error(err))
		return false
	}
	return true
}

func (s *PartnerService) find(ctx context.Context, id string) (*models.Partner, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrPartnerNotFound
	}
	var p models.Partner
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPartnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load partner: %w", err)
	}
	return &p, nil
}

// lockPartner reloads p inside tx, holding a row lock on databases that
// support one, so concurrent signatures see each other's flags.
func lockPartner(tx *gorm.DB, p *models.Partner) error {
	var fresh models.Partner
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", p.ID).First(&fresh).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPartnerNotFound
	}
	if err != nil {
		return fmt.Errorf("lock partner: %w", err)
	}
	*p = fresh
	return nil
}

// loadDocument returns the partner's document of docType, or an unsaved
// row when none exists yet.
func loadDocument(tx *gorm.DB, partnerID, docType string) (*models.PartnerDocument, error) {
	var docs []models.PartnerDocument
	if err := tx.Where("partner_id = ? AND document_type = ?", partnerID, docType).
		Limit(1).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if len(docs) == 0 {
		return &models.PartnerDocument{PartnerID: partnerID, DocumentType: docType}, nil
	}
	return &docs[0], nil
}

// recordSignature sets the partner flag for docType and derives the
// documents and lifecycle statuses. It reports whether every required
// document is now signed.
func recordSignature(tx *gorm.DB, p *models.Partner, docType string, at time.Time) (bool, error) {
	column := setSignedFlag(p, docType)
	updates := map[string]any{column: true}

	completed := p.AllDocumentsSigned()
	if completed {
		p.DocumentsStatus = models.DocumentsCompleted
		if p.DocumentsCompletedAt == nil {
			p.DocumentsCompletedAt = &at
		}
		updates["documents_completed_at"] = p.DocumentsCompletedAt
		if p.Status != models.PartnerActive {
			p.Status = models.PartnerUnderReview
		}
	} else {
		p.DocumentsStatus = models.DocumentsPending
		if p.Status == models.PartnerPending || p.Status == "" {
			p.Status = models.PartnerDocumentsPending
		}
	}
	updates["documents_status"] = p.DocumentsStatus
	updates["status"] = p.Status

	if err := tx.Model(&models.Partner{}).Where("id = ?", p.ID).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("update partner: %w", err)
	}
	return completed, nil
}

// setSignedFlag flips the in-memory flag for docType and returns its column.
func setSignedFlag(p *models.Partner, docType string) string {
	switch docType {
	case models.DocPartnerAgreement:
		p.AgreementSigned = true
		return "agreement_signed"
	case models.DocW9:
		p.W9Signed = true
		return "w9_signed"
	default:
		p.DirectDepositSigned = true
		return "direct_deposit_signed"
	}
}

func signedFlag(p *models.Partner, docType string) bool {
	switch docType {
	case models.DocPartnerAgreement:
		return p.AgreementSigned
	case models.DocW9:
		return p.W9Signed
	case models.DocDirectDeposit:
		return p.DirectDepositSigned
	}
	return false
}
