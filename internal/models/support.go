package models

import (
	"time"

	"gorm.io/datatypes"
)

// Support conversation enums.
var (
	SupportStatuses   = []string{"active", "resolved", "escalated", "abandoned"}
	SupportPriorities = []string{"low", "normal", "high", "urgent"}
	SupportTopics     = []string{"onboarding", "widget_install", "api_integration", "pos_setup", "troubleshooting"}
)

const (
	SupportActive    = "active"
	SupportResolved  = "resolved"
	SupportEscalated = "escalated"
	SupportAbandoned = "abandoned"
)

// SupportConversation is a support chat thread triaged by admins.
type SupportConversation struct {
	Base
	PartnerID          *string                     `gorm:"size:36;index" json:"partnerId,omitempty"`
	PartnerEmail       string                      `gorm:"size:255" json:"partnerEmail,omitempty"`
	PartnerName        string                      `gorm:"size:255" json:"partnerName,omitempty"`
	SessionID          string                      `gorm:"size:100;index" json:"sessionId,omitempty"`
	PageURL            string                      `gorm:"size:500" json:"pageUrl,omitempty"`
	OnboardingStep     string                      `gorm:"size:50" json:"onboardingStep,omitempty"`
	Topic              string                      `gorm:"size:30;index" json:"topic,omitempty"`
	TechStack          datatypes.JSONSlice[string] `json:"techStack,omitempty"`
	IntegrationContext datatypes.JSONMap           `json:"integrationContext,omitempty"`
	Status             string                      `gorm:"size:20;not null;index" json:"status"`
	Priority           string                      `gorm:"size:20;not null;index" json:"priority"`
	EscalatedAt        *time.Time                  `json:"escalatedAt,omitempty"`
	EscalatedTo        string                      `gorm:"size:255" json:"escalatedTo,omitempty"`
	EscalationReason   string                      `gorm:"size:500" json:"escalationReason,omitempty"`
	Resolution         string                      `gorm:"type:text" json:"resolution,omitempty"`
	ResolvedAt         *time.Time                  `json:"resolvedAt,omitempty"`
	HelpfulRating      *int                        `json:"helpfulRating,omitempty"`
	Feedback           string                      `gorm:"type:text" json:"feedback,omitempty"`

	Messages []SupportMessage `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// SupportMessage is one message in a support conversation.
type SupportMessage struct {
	Base
	ConversationID string                      `gorm:"size:36;not null;index" json:"conversationId"`
	Role           string                      `gorm:"size:20;not null" json:"role"`
	Content        string                      `gorm:"type:text;not null" json:"content"`
	ContentType    string                      `gorm:"size:20;default:text" json:"contentType"`
	CodeSnippet    string                      `gorm:"type:text" json:"codeSnippet,omitempty"`
	CodeLanguage   string                      `gorm:"size:30" json:"codeLanguage,omitempty"`
	ToolsUsed      datatypes.JSONSlice[string] `json:"toolsUsed,omitempty"`
}
