package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent statuses.
const (
	WebhookReceived  = "received"
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
	WebhookInvalid   = "invalid"
	WebhookFailed    = "failed"
)

// WebhookEvent is the audit row for one inbound webhook delivery.
type WebhookEvent struct {
	Base
	Source      string         `gorm:"size:30;not null;index" json:"source"`
	EventType   string         `gorm:"size:100;index" json:"eventType"`
	Payload     datatypes.JSON `json:"payload"`
	Status      string         `gorm:"size:20;not null;index" json:"status"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	ProcessedAt *time.Time     `json:"processedAt,omitempty"`
}
