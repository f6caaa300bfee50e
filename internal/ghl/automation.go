package ghl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/diewo77/go-partners/internal/config"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
)

// Contact tags.
const (
	TagNewPartner        = "new-partner"
	TagActivePartner     = "active-partner"
	TagDocumentsComplete = "documents-complete"
)

// Values of the partner_status custom field.
const (
	StatusPending           = "pending"
	StatusDocumentsSent     = "documents_sent"
	StatusDocumentsComplete = "documents_complete"
	StatusActive            = "active"
)

// Automation runs the multi-step CRM flows of partner onboarding. Steps
// whose pipeline, stage or workflow ID is not configured are skipped.
type Automation struct {
	client Client
	cfg    config.GHLConfig
	log    *zap.Logger
	now    func() time.Time
}

func NewAutomation(client Client, cfg config.GHLConfig, log *zap.Logger) *Automation {
	return &Automation{client: client, cfg: cfg, log: logging.OrNop(log).Named("ghl.automation"), now: time.Now}
}

// OnboardingParams describes a new partner for InitiateOnboarding.
type OnboardingParams struct {
	PartnerID       string
	Email           string
	FirstName       string
	LastName        string
	Phone           string
	BusinessName    string
	BusinessType    string
	IntegrationType string
}

// OnboardingResult is what InitiateOnboarding created in the CRM.
type OnboardingResult struct {
	Contact     *Contact             `json:"contact"`
	Opportunity *Opportunity         `json:"opportunity,omitempty"`
	Documents   map[string]*Document `json:"documents,omitempty"`
}

// SplitName splits a full name into first and last name.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// InitiateOnboarding finds or creates the contact, opens an opportunity at
// the new-lead stage, sends the onboarding documents and triggers the
// welcome workflow. Only the contact step is fatal.
func (a *Automation) InitiateOnboarding(ctx context.Context, p OnboardingParams) (*OnboardingResult, error) {
	fields := map[string]string{
		"partner_id":       p.PartnerID,
		"business_name":    p.BusinessName,
		"business_type":    p.BusinessType,
		"integration_type": p.IntegrationType,
		"partner_status":   StatusPending,
		"signup_date":      a.now().UTC().Format(time.DateOnly),
	}
	params := ContactParams{
		Email:        p.Email,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Phone:        p.Phone,
		Tags:         []string{TagNewPartner},
		CustomFields: fields,
	}

	contact, err := a.client.LookupContactByEmail(ctx, p.Email)
	if err != nil {
		a.log.Warn("contact lookup failed, creating", zap.String("email", p.Email), zap.Error(err))
		contact = nil
	}
	if contact != nil {
		contact, err = a.client.UpdateContact(ctx, contact.ID, params)
	} else {
		contact, err = a.client.CreateContact(ctx, params)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert contact: %w", err)
	}
	res := &OnboardingResult{Contact: contact}

	if a.cfg.PipelineID != "" {
		opp, err := a.client.CreateOpportunity(ctx, contact.ID, "Partner: "+p.BusinessName, a.cfg.PipelineID, a.cfg.Stages.NewLead)
		if err != nil {
			a.log.Error("create opportunity", zap.String("contact_id", contact.ID), zap.Error(err))
		} else {
			res.Opportunity = opp
		}
	}

	opportunityID := ""
	if res.Opportunity != nil {
		opportunityID = res.Opportunity.ID
	}
	docs, err := a.SendOnboardingDocuments(ctx, contact.ID, opportunityID, p.BusinessName)
	if err != nil {
		a.log.Error("send onboarding documents", zap.String("contact_id", contact.ID), zap.Error(err))
	}
	res.Documents = docs

	if err := a.trigger(ctx, contact.ID, a.cfg.Workflows.Welcome); err != nil {
		a.log.Error("trigger welcome workflow", zap.String("contact_id", contact.ID), zap.Error(err))
	}
	return res, nil
}

// SendOnboardingDocuments sends every configured signable document to the
// contact, marks the contact documents_sent and moves the opportunity to
// the documents-sent stage. The result is keyed by document type.
func (a *Automation) SendOnboardingDocuments(ctx context.Context, contactID, opportunityID, businessName string) (map[string]*Document, error) {
	templates := []struct {
		docType, templateID, title string
	}{
		{models.DocPartnerAgreement, a.cfg.Documents.PartnerAgreement, "Partner Agreement"},
		{models.DocW9, a.cfg.Documents.W9, "W-9 Form"},
		{models.DocDirectDeposit, a.cfg.Documents.DirectDeposit, "Direct Deposit Authorization"},
	}
	out := map[string]*Document{}
	var errs []error
	for _, t := range templates {
		if t.templateID == "" {
			continue
		}
		doc, err := a.client.SendDocument(ctx, contactID, t.templateID, t.title+" - "+businessName)
		if err != nil {
			errs = append(errs, fmt.Errorf("send %s: %w", t.docType, err))
			continue
		}
		out[t.docType] = doc
	}
	if len(out) == 0 {
		return out, errors.Join(errs...)
	}

	if _, err := a.client.UpdateContact(ctx, contactID, ContactParams{
		CustomFields: map[string]string{"partner_status": StatusDocumentsSent},
	}); err != nil {
		errs = append(errs, fmt.Errorf("update contact status: %w", err))
	}
	if err := a.moveStage(ctx, opportunityID, a.cfg.Stages.DocsSent); err != nil {
		errs = append(errs, err)
	}
	if err := a.trigger(ctx, contactID, a.cfg.Workflows.DocsSent); err != nil {
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

// DocumentsCompleted records that every onboarding document is signed:
// status field, tag, review stage and the docs-complete workflow.
func (a *Automation) DocumentsCompleted(ctx context.Context, contactID, opportunityID string) error {
	if contactID == "" {
		return errors.New("ghl: documents completed without contact id")
	}
	if _, err := a.client.UpdateContact(ctx, contactID, ContactParams{
		CustomFields: map[string]string{"partner_status": StatusDocumentsComplete},
	}); err != nil {
		return fmt.Errorf("update contact status: %w", err)
	}
	if err := a.client.AddTags(ctx, contactID, []string{TagDocumentsComplete}); err != nil {
		return fmt.Errorf("add tags: %w", err)
	}
	if err := a.moveStage(ctx, opportunityID, a.cfg.Stages.Review); err != nil {
		return err
	}
	return a.trigger(ctx, contactID, a.cfg.Workflows.DocsComplete)
}

// ActivatePartner flips the contact from new to active partner, moves the
// opportunity to the active stage and triggers the approved workflow.
func (a *Automation) ActivatePartner(ctx context.Context, contactID, opportunityID string) error {
	if contactID == "" {
		return errors.New("ghl: activate partner without contact id")
	}
	if _, err := a.client.UpdateContact(ctx, contactID, ContactParams{
		CustomFields: map[string]string{"partner_status": StatusActive},
	}); err != nil {
		return fmt.Errorf("update contact status: %w", err)
	}
	if err := a.client.RemoveTags(ctx, contactID, []string{TagNewPartner}); err != nil {
		return fmt.Errorf("remove tags: %w", err)
	}
	if err := a.client.AddTags(ctx, contactID, []string{TagActivePartner}); err != nil {
		return fmt.Errorf("add tags: %w", err)
	}
	if err := a.moveStage(ctx, opportunityID, a.cfg.Stages.Active); err != nil {
		return err
	}
	return a.trigger(ctx, contactID, a.cfg.Workflows.Approved)
}

func (a *Automation) moveStage(ctx context.Context, opportunityID, stageID string) error {
	if opportunityID == "" || stageID == "" {
		return nil
	}
	if _, err := a.client.UpdateOpportunityStage(ctx, opportunityID, stageID); err != nil {
		return fmt.Errorf("move opportunity to %s: %w", stageID, err)
	}
	return nil
}

func (a *Automation) trigger(ctx context.Context, contactID, workflowID string) error {
	if workflowID == "" {
		return nil
	}
	if err := a.client.TriggerWorkflow(ctx, contactID, workflowID); err != nil {
		return fmt.Errorf("trigger workflow %s: %w", workflowID, err)
	}
	return nil
}
