package models

import (
	"time"

	"gorm.io/datatypes"
)

// Integration types.
const (
	IntegrationWidget    = "widget"
	IntegrationQRCode    = "qr_code"
	IntegrationAPI       = "api"
	IntegrationWebhook   = "webhook"
	IntegrationPOS       = "pos"
	IntegrationEcommerce = "ecommerce"
)

// PartnerIntegration statuses.
const (
	IntegrationPending    = "pending"
	IntegrationConfigured = "configured"
	IntegrationVerified   = "verified"
	IntegrationFailed     = "failed"
)

// PartnerIntegration records one configured sales channel of a partner.
type PartnerIntegration struct {
	Base
	PartnerID       string            `gorm:"size:36;not null;index" json:"partnerId"`
	IntegrationType string            `gorm:"size:30;not null" json:"integrationType"`
	Platform        string            `gorm:"size:50" json:"platform,omitempty"`
	Status          string            `gorm:"size:20;not null;default:pending" json:"status"`
	Config          datatypes.JSONMap `json:"config,omitempty"`
	APIKey          string            `gorm:"size:120" json:"apiKey,omitempty"`
	WebhookURL      string            `gorm:"size:500" json:"webhookUrl,omitempty"`
	WebhookSecret   string            `gorm:"size:120" json:"-"`
	LastTestedAt    *time.Time        `json:"lastTestedAt,omitempty"`
	TestResult      datatypes.JSONMap `json:"testResult,omitempty"`
}
