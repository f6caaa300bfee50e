// Package models defines the GORM models persisted by the service.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base gives domain entities a UUID primary key and timestamps.
type Base struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not set one.
func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// All lists every model in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Permission{}, &Profile{}, &User{},
		&Partner{}, &PartnerDocument{}, &DocumentTemplate{}, &PartnerIntegration{},
		&WebhookEvent{},
		&OnboardingSession{}, &OnboardingMessage{}, &OnboardingTask{},
		&AgentActionLog{}, &IntegrationVerification{},
		&SupportConversation{}, &SupportMessage{},
	}
}
