package ghl

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-partners/validation"
)

// Webhook event types.
const (
	EventDocumentSigned          = "document.signed"
	EventDocumentViewed          = "document.viewed"
	EventDocumentDeclined        = "document.declined"
	EventDocumentExpired         = "document.expired"
	EventContactUpdated          = "contact.updated"
	EventOpportunityStageChanged = "opportunity.stage_changed"
	EventPartnerApproved         = "partner.approved"
	EventPartnerRejected         = "partner.rejected"
)

var ErrUnknownEvent = errors.New("ghl: unknown webhook event type")

// Envelope is the outer shape of every webhook delivery.
type Envelope struct {
	Type      string          `json:"type" validate:"required,max=100"`
	EventID   string          `json:"eventId,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// PartnerRef locates a partner: by our ID, by CRM contact, or by email,
// tried in that order.
type PartnerRef struct {
	PartnerID    string
	ContactID    string
	ContactEmail string
}

// Referencer is implemented by every event payload.
type Referencer interface {
	Ref() PartnerRef
}

// DocumentEvent is the data of the document.* events.
type DocumentEvent struct {
	PartnerID    string     `json:"partnerId,omitempty" validate:"required_without_all=ContactID ContactEmail,max=36"`
	ContactID    string     `json:"contactId,omitempty" validate:"max=100"`
	ContactEmail string     `json:"contactEmail,omitempty" validate:"omitempty,email"`
	DocumentID   string     `json:"documentId,omitempty" validate:"omitempty,max=100"`
	DocumentType string     `json:"documentType" validate:"required,oneof=partner_agreement w9 direct_deposit"`
	SignerName   string     `json:"signerName,omitempty" validate:"omitempty,max=255"`
	SignerEmail  string     `json:"signerEmail,omitempty" validate:"omitempty,email"`
	IPAddress    string     `json:"ipAddress,omitempty" validate:"omitempty,ip"`
	OccurredAt   *time.Time `json:"occurredAt,omitempty"`
}

// ContactEvent is the data of contact.updated.
type ContactEvent struct {
	PartnerID    string `json:"partnerId,omitempty" validate:"required_without_all=ContactID ContactEmail,max=36"`
	ContactID    string `json:"contactId,omitempty" validate:"max=100"`
	ContactEmail string `json:"contactEmail,omitempty" validate:"omitempty,email"`
	FirstName    string `json:"firstName,omitempty" validate:"omitempty,max=255"`
	LastName     string `json:"lastName,omitempty" validate:"omitempty,max=255"`
	Email        string `json:"email,omitempty" validate:"omitempty,email"`
	Phone        string `json:"phone,omitempty" validate:"omitempty,max=50"`
	CompanyName  string `json:"companyName,omitempty" validate:"omitempty,max=255"`
	Website      string `json:"website,omitempty" validate:"omitempty,url"`
}

// OpportunityEvent is the data of opportunity.stage_changed.
type OpportunityEvent struct {
	PartnerID     string `json:"partnerId,omitempty" validate:"required_without_all=ContactID ContactEmail,max=36"`
	ContactID     string `json:"contactId,omitempty" validate:"max=100"`
	ContactEmail  string `json:"contactEmail,omitempty" validate:"omitempty,email"`
	OpportunityID string `json:"opportunityId" validate:"required,max=100"`
	PipelineID    string `json:"pipelineId,omitempty" validate:"omitempty,max=100"`
	StageID       string `json:"stageId" validate:"required,max=100"`
	StageName     string `json:"stageName,omitempty" validate:"omitempty,max=100"`
}

// PartnerDecisionEvent is the data of partner.approved and partner.rejected.
type PartnerDecisionEvent struct {
	PartnerID    string `json:"partnerId,omitempty" validate:"required_without_all=ContactID ContactEmail,max=36"`
	ContactID    string `json:"contactId,omitempty" validate:"max=100"`
	ContactEmail string `json:"contactEmail,omitempty" validate:"omitempty,email"`
	Reason       string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

func (e *DocumentEvent) Ref() PartnerRef {
	return PartnerRef{e.PartnerID, e.ContactID, e.ContactEmail}
}

func (e *ContactEvent) Ref() PartnerRef {
	return PartnerRef{e.PartnerID, e.ContactID, e.ContactEmail}
}

func (e *OpportunityEvent) Ref() PartnerRef {
	return PartnerRef{e.PartnerID, e.ContactID, e.ContactEmail}
}

func (e *PartnerDecisionEvent) Ref() PartnerRef {
	return PartnerRef{e.PartnerID, e.ContactID, e.ContactEmail}
}

// ParseEvent decodes and validates the data of env. It returns
// ErrUnknownEvent for unsupported types and validation.Violations when the
// data does not pass validation.
func ParseEvent(env Envelope) (Referencer, error) {
	var target Referencer
	switch env.Type {
	case EventDocumentSigned, EventDocumentViewed, EventDocumentDeclined, EventDocumentExpired:
		target = &DocumentEvent{}
	case EventContactUpdated:
		target = &ContactEvent{}
	case EventOpportunityStageChanged:
		target = &OpportunityEvent{}
	case EventPartnerApproved, EventPartnerRejected:
		target = &PartnerDecisionEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, validation.Violations{"data": "required"}
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return nil, validation.Violations{"data": "invalid_json"}
	}
	if v := validation.Struct(target); v != nil {
		return nil, v
	}
	return target, nil
}
