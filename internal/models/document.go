package models

import "time"

// Document types. Only the first three are signed during onboarding.
const (
	DocPartnerAgreement        = "partner_agreement"
	DocW9                      = "w9"
	DocDirectDeposit           = "direct_deposit"
	DocJointMarketingAgreement = "joint_marketing_agreement"
	DocMutualNDA               = "mutual_nda"
	DocSponsorshipAgreement    = "sponsorship_agreement"
)

// DocumentTypes lists every template type in display order.
var DocumentTypes = []string{
	DocPartnerAgreement,
	DocJointMarketingAgreement,
	DocMutualNDA,
	DocW9,
	DocSponsorshipAgreement,
	DocDirectDeposit,
}

// SignableDocumentTypes are the documents a partner must sign.
var SignableDocumentTypes = []string{DocPartnerAgreement, DocW9, DocDirectDeposit}

// PartnerDocument statuses.
const (
	DocumentSent     = "sent"
	DocumentViewed   = "viewed"
	DocumentSigned   = "signed"
	DocumentDeclined = "declined"
	DocumentExpired  = "expired"
)

// PartnerDocument tracks one document of one partner.
type PartnerDocument struct {
	Base
	PartnerID     string     `gorm:"size:36;not null;uniqueIndex:idx_partner_document_type" json:"partnerId"`
	DocumentType  string     `gorm:"size:50;not null;uniqueIndex:idx_partner_document_type" json:"documentType"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	GHLDocumentID string     `gorm:"column:ghl_document_id;size:100" json:"ghlDocumentId,omitempty"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	ViewedAt      *time.Time `json:"viewedAt,omitempty"`
	SignedAt      *time.Time `json:"signedAt,omitempty"`
	SignatureData string     `gorm:"type:text" json:"-"`
	SignedByName  string     `gorm:"size:255" json:"signedByName,omitempty"`
	SignedByEmail string     `gorm:"size:255" json:"signedByEmail,omitempty"`
	IPAddress     string     `gorm:"size:64" json:"-"`
}

// DocumentTemplate is a versioned, placeholder-bearing document body. At
// most one version per type is active.
type DocumentTemplate struct {
	Base
	Type     string `gorm:"size:50;not null;index" json:"type"`
	Title    string `gorm:"size:255;not null" json:"title"`
	Content  string `gorm:"type:text;not null" json:"content"`
	Version  string `gorm:"size:20;not null;default:1.0" json:"version"`
	IsActive bool   `gorm:"index" json:"isActive"`
}
