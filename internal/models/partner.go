package models

import "time"

// Partner lifecycle statuses.
const (
	PartnerPending          = "pending"
	PartnerDocumentsPending = "documents_pending"
	PartnerUnderReview      = "under_review"
	PartnerActive           = "active"
	PartnerSuspended        = "suspended"
)

// Partner.DocumentsStatus values.
const (
	DocumentsNotStarted = "not_started"
	DocumentsPending    = "pending"
	DocumentsCompleted  = "completed"
)

// Partner is a business selling event insurance for commission.
type Partner struct {
	Base
	UserID *uint `gorm:"index" json:"userId,omitempty"`

	BusinessName    string `gorm:"size:255;not null" json:"businessName"`
	BusinessType    string `gorm:"size:100" json:"businessType,omitempty"`
	BusinessAddress string `gorm:"size:500" json:"businessAddress,omitempty"`
	EntityType      string `gorm:"size:100" json:"entityType,omitempty"`
	ContactName     string `gorm:"size:255" json:"contactName,omitempty"`
	ContactEmail    string `gorm:"size:255;index" json:"contactEmail"`
	ContactPhone    string `gorm:"size:50" json:"contactPhone,omitempty"`
	WebsiteURL      string `gorm:"size:500" json:"websiteUrl,omitempty"`
	LogoURL         string `gorm:"size:500" json:"logoUrl,omitempty"`
	PrimaryColor    string `gorm:"size:20" json:"primaryColor,omitempty"`

	EstimatedMonthlyParticipants int    `json:"estimatedMonthlyParticipants,omitempty"`
	IntegrationType              string `gorm:"size:50" json:"integrationType,omitempty"`

	AgreementSigned      bool       `gorm:"default:false" json:"agreementSigned"`
	W9Signed             bool       `gorm:"default:false" json:"w9Signed"`
	DirectDepositSigned  bool       `gorm:"default:false" json:"directDepositSigned"`
	DocumentsStatus      string     `gorm:"size:30;default:not_started" json:"documentsStatus"`
	DocumentsCompletedAt *time.Time `json:"documentsCompletedAt,omitempty"`

	Status          string     `gorm:"size:30;default:pending;index" json:"status"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectionReason string     `gorm:"size:1000" json:"rejectionReason,omitempty"`

	GHLContactID     string `gorm:"column:ghl_contact_id;size:100;index" json:"ghlContactId,omitempty"`
	GHLOpportunityID string `gorm:"column:ghl_opportunity_id;size:100" json:"ghlOpportunityId,omitempty"`
	GHLStage         string `gorm:"column:ghl_stage;size:100" json:"ghlStage,omitempty"`

	Documents []PartnerDocument `gorm:"constraint:OnDelete:CASCADE" json:"documents,omitempty"`
}

// GetUserID implements ownership checks; unowned partners belong to nobody.
func (p *Partner) GetUserID() uint {
	if p.UserID == nil {
		return 0
	}
	return *p.UserID
}

// AllDocumentsSigned reports whether the three required documents are signed.
func (p *Partner) AllDocumentsSigned() bool {
	return p.AgreementSigned && p.W9Signed && p.DirectDepositSigned
}
