package models

import (
	"time"

	"gorm.io/datatypes"
)

// CollectedData is what the agent has learned about the business so far.
type CollectedData struct {
	BusinessName                 string   `json:"businessName,omitempty"`
	BusinessType                 string   `json:"businessType,omitempty"`
	BusinessAddress              string   `json:"businessAddress,omitempty"`
	EntityType                   string   `json:"entityType,omitempty"`
	WebsiteURL                   string   `json:"websiteUrl,omitempty"`
	ContactName                  string   `json:"contactName,omitempty"`
	ContactEmail                 string   `json:"contactEmail,omitempty"`
	ContactPhone                 string   `json:"contactPhone,omitempty"`
	ContactRole                  string   `json:"contactRole,omitempty"`
	EstimatedMonthlyParticipants int      `json:"estimatedMonthlyParticipants,omitempty"`
	CurrentPlatforms             []string `json:"currentPlatforms,omitempty"`
	PreferredIntegrationType     string   `json:"preferredIntegrationType,omitempty"`
	PreferredPayoutMethod        string   `json:"preferredPayoutMethod,omitempty"`
	HowDidYouHear                string   `json:"howDidYouHear,omitempty"`
	SpecificNeeds                []string `json:"specificNeeds,omitempty"`
}

// PlatformRef identifies a third-party platform a partner integrates with.
type PlatformRef struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// IntegrationData holds the integration assets generated for the session.
type IntegrationData struct {
	SelectedMethod string       `json:"selectedMethod,omitempty"`
	Platform       *PlatformRef `json:"platform,omitempty"`
	WidgetCode     string       `json:"widgetCode,omitempty"`
	QRCodeURL      string       `json:"qrCodeUrl,omitempty"`
	APIKey         string       `json:"apiKey,omitempty"`
	WebhookURL     string       `json:"webhookUrl,omitempty"`
	IsVerified     bool         `json:"isVerified,omitempty"`
	VerifiedBy     string       `json:"verifiedBy,omitempty"`
}

// Objection is a concern the prospect raised.
type Objection struct {
	Objection string `json:"objection"`
	Addressed bool   `json:"addressed"`
	Response  string `json:"response,omitempty"`
}

// AgentContext carries conversation memory between turns.
type AgentContext struct {
	ConversationSummary string      `json:"conversationSummary,omitempty"`
	TopicsDiscussed     []string    `json:"topicsDiscussed,omitempty"`
	PainPoints          []string    `json:"painPoints,omitempty"`
	Objections          []Objection `json:"objections,omitempty"`
	NextActions         []string    `json:"nextActions,omitempty"`
	OverallSentiment    string      `json:"overallSentiment,omitempty"`
}

// OnboardingSession is one prospect's journey through the state machine.
type OnboardingSession struct {
	Base
	PartnerID     *string `gorm:"size:36;index" json:"partnerId,omitempty"`
	UserID        *uint   `gorm:"index" json:"userId,omitempty"`
	CurrentState  string  `gorm:"size:50;not null;index" json:"currentState"`
	PreviousState string  `gorm:"size:50" json:"previousState,omitempty"`

	ProgressPercent int                                 `json:"progressPercent"`
	CollectedData   datatypes.JSONType[CollectedData]   `json:"collectedData"`
	IntegrationData datatypes.JSONType[IntegrationData] `json:"integrationData"`
	AgentContext    datatypes.JSONType[AgentContext]    `json:"agentContext"`

	IsComplete       bool       `json:"isComplete"`
	NeedsHumanReview bool       `json:"needsHumanReview"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`

	TotalMessages           int        `json:"totalMessages"`
	TotalToolCalls          int        `json:"totalToolCalls"`
	AvgResponseTimeMs       int        `json:"avgResponseTimeMs"`
	ConsecutiveToolFailures int        `json:"consecutiveToolFailures"`
	LastInteractionAt       *time.Time `json:"lastInteractionAt,omitempty"`
}

// ToolCallRecord is a tool invocation requested by the model.
type ToolCallRecord struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// OnboardingMessage is one transcript entry.
type OnboardingMessage struct {
	Base
	SessionID      string                              `gorm:"size:36;not null;index" json:"sessionId"`
	Role           string                              `gorm:"size:20;not null" json:"role"`
	Content        string                              `gorm:"type:text" json:"content"`
	ToolCalls      datatypes.JSONSlice[ToolCallRecord] `json:"toolCalls,omitempty"`
	ToolCallID     string                              `gorm:"size:100" json:"toolCallId,omitempty"`
	ToolName       string                              `gorm:"size:100" json:"toolName,omitempty"`
	StateAtMessage string                              `gorm:"size:50" json:"stateAtMessage,omitempty"`
	ResponseTimeMs int                                 `json:"responseTimeMs,omitempty"`
}

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskSkipped    = "skipped"
)

// OnboardingTask is a checklist item shown next to the chat.
type OnboardingTask struct {
	Base
	SessionID   string     `gorm:"size:36;not null;index" json:"sessionId"`
	TaskKey     string     `gorm:"size:50;not null" json:"taskKey"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Category    string     `gorm:"size:30;not null" json:"category"`
	Status      string     `gorm:"size:20;not null" json:"status"`
	SortOrder   int        `json:"sortOrder"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CompletedBy string     `gorm:"size:20" json:"completedBy,omitempty"`
}

// Agent action types.
const (
	ActionToolCall        = "tool_call"
	ActionStateTransition = "state_transition"
	ActionEscalation      = "escalation"
)

// AgentActionLog is the audit trail of everything the agent did.
type AgentActionLog struct {
	Base
	SessionID  string            `gorm:"size:36;not null;index" json:"sessionId"`
	ActionType string            `gorm:"size:30;not null;index" json:"actionType"`
	ActionName string            `gorm:"size:100;not null" json:"actionName"`
	Input      datatypes.JSONMap `json:"input,omitempty"`
	Output     datatypes.JSONMap `json:"output,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `gorm:"type:text" json:"error,omitempty"`
	DurationMs int64             `json:"durationMs"`
}

// IntegrationVerification records a verification attempt made by the agent.
type IntegrationVerification struct {
	Base
	SessionID       string            `gorm:"size:36;not null;index" json:"sessionId"`
	PartnerID       string            `gorm:"size:36;index" json:"partnerId,omitempty"`
	IntegrationType string            `gorm:"size:30;not null" json:"integrationType"`
	PlatformSlug    string            `gorm:"size:50" json:"platformSlug,omitempty"`
	Status          string            `gorm:"size:20;not null" json:"status"`
	Method          string            `gorm:"size:30" json:"method,omitempty"`
	TestURL         string            `gorm:"size:500" json:"testUrl,omitempty"`
	TestResult      datatypes.JSONMap `json:"testResult,omitempty"`
	VerifiedAt      *time.Time        `json:"verifiedAt,omitempty"`
}
