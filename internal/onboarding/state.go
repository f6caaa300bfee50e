// Package onboarding implements the guided-signup agent: a finite-state
// machine over the partner's onboarding stages, the tools the model may
// call in each stage, a keyword knowledge base and the turn loop tying them
// to an LLM.
package onboarding

import (
	"slices"
	"strings"
	"time"

	"github.com/diewo77/go-partners/internal/models"
)

// State is an onboarding stage.
type State string

const (
	StateWelcome                 State = "welcome"
	StateBusinessDiscovery       State = "business_discovery"
	StateBusinessInfoCollection  State = "business_info_collection"
	StateAccountCreation         State = "account_creation"
	StateDocumentSigning         State = "document_signing"
	StateIntegrationSelection    State = "integration_selection"
	StateIntegrationSetup        State = "integration_setup"
	StateIntegrationVerification State = "integration_verification"
	StateTrainingMaterials       State = "training_materials"
	StateGoLiveChecklist         State = "go_live_checklist"
	StateComplete                State = "complete"
	StateBlocked                 State = "blocked"
	StateHumanHandoff            State = "human_handoff"
)

// Category groups states for the progress sidebar.
type Category string

const (
	CategorySignup      Category = "signup"
	CategoryDocuments   Category = "documents"
	CategoryIntegration Category = "integration"
	CategoryTraining    Category = "training"
	CategoryCompletion  Category = "completion"
)

// ResponseStyle is the tone the agent takes in a state.
type ResponseStyle string

const (
	StyleConversational ResponseStyle = "conversational"
	StyleInstructional  ResponseStyle = "instructional"
	StyleSupportive     ResponseStyle = "supportive"
	StyleCelebratory    ResponseStyle = "celebratory"
)

// Behavior tells the agent what to aim for in a state.
type Behavior struct {
	PrimaryGoal        string        `json:"primaryGoal"`
	SuggestedPrompts   []string      `json:"suggestedPrompts"`
	AllowedTools       []string      `json:"allowedTools"`
	ResponseStyle      ResponseStyle `json:"responseStyle"`
	EscalationTriggers []string      `json:"escalationTriggers,omitempty"`
}

// StateConfig describes one state. A negative Progress marks the support
// states that sit outside the linear flow.
type StateConfig struct {
	Name               State    `json:"name"`
	DisplayName        string   `json:"displayName"`
	Description        string   `json:"description"`
	Category           Category `json:"category"`
	Progress           int      `json:"progressPercent"`
	RequiredFields     []string `json:"requiredFields,omitempty"`
	AllowedTransitions []State  `json:"allowedTransitions"`
	Behavior           Behavior `json:"agentBehavior"`
}

// Support reports whether the state is outside the linear flow.
func (c StateConfig) Support() bool { return c.Progress < 0 }

// stateOrder is the linear flow followed by the support states.
var stateOrder = []State{
	StateWelcome,
	StateBusinessDiscovery,
	StateBusinessInfoCollection,
	StateAccountCreation,
	StateDocumentSigning,
	StateIntegrationSelection,
	StateIntegrationSetup,
	StateIntegrationVerification,
	StateTrainingMaterials,
	StateGoLiveChecklist,
	StateComplete,
	StateBlocked,
	StateHumanHandoff,
}

var states = map[State]StateConfig{
	StateWelcome: {
		Name:               StateWelcome,
		DisplayName:        "Welcome",
		Description:        "Initial greeting and introduction to the onboarding process",
		Category:           CategorySignup,
		Progress:           0,
		AllowedTransitions: []State{StateBusinessDiscovery, StateAccountCreation},
		Behavior: Behavior{
			PrimaryGoal: "Warmly welcome the user and explain the value proposition",
			SuggestedPrompts: []string{
				"Tell me about your business",
				"What type of facility do you run?",
				"How did you hear about us?",
			},
			AllowedTools:  []string{ToolLookupPartnerStatus, ToolSearchKnowledgeBase},
			ResponseStyle: StyleConversational,
		},
	},
	StateBusinessDiscovery: {
		Name:               StateBusinessDiscovery,
		DisplayName:        "Understanding Your Business",
		Description:        "Learning about the business to customize the experience",
		Category:           CategorySignup,
		Progress:           10,
		AllowedTransitions: []State{StateBusinessInfoCollection, StateWelcome},
		Behavior: Behavior{
			PrimaryGoal: "Understand the business type, size, and needs to recommend the best integration",
			SuggestedPrompts: []string{
				"How many customers do you serve monthly?",
				"What software do you currently use?",
				"Do you have multiple locations?",
			},
			AllowedTools:  []string{ToolDetectPlatform, ToolEstimateRevenue, ToolSearchKnowledgeBase},
			ResponseStyle: StyleConversational,
		},
	},
	StateBusinessInfoCollection: {
		Name:               StateBusinessInfoCollection,
		DisplayName:        "Business Information",
		Description:        "Collecting essential business details",
		Category:           CategorySignup,
		Progress:           20,
		RequiredFields:     []string{FieldBusinessName, FieldContactName, FieldContactEmail},
		AllowedTransitions: []State{StateAccountCreation, StateBusinessDiscovery},
		Behavior: Behavior{
			PrimaryGoal: "Collect business name, contact details, and location information",
			SuggestedPrompts: []string{
				"What's your business name?",
				"Who should be the primary contact?",
				"What's the best email to reach you?",
			},
			AllowedTools:  []string{ToolValidateEmail, ToolLookupBusiness, ToolScrapeWebsite},
			ResponseStyle: StyleConversational,
		},
	},
	StateAccountCreation: {
		Name:               StateAccountCreation,
		DisplayName:        "Create Account",
		Description:        "Setting up partner account credentials",
		Category:           CategorySignup,
		Progress:           30,
		RequiredFields:     []string{FieldContactEmail},
		AllowedTransitions: []State{StateDocumentSigning, StateBusinessInfoCollection},
		Behavior: Behavior{
			PrimaryGoal: "Help user create their partner account or link existing account",
			SuggestedPrompts: []string{
				"Would you like to set up your account now?",
				"I can send you a magic link to your email",
				"Already have an account? I can help you log in",
			},
			AllowedTools:  []string{ToolCreatePartnerAccount, ToolSendMagicLink, ToolCheckExistingAccount},
			ResponseStyle: StyleInstructional,
		},
	},
	StateDocumentSigning: {
		Name:               StateDocumentSigning,
		DisplayName:        "Sign Documents",
		Description:        "Reviewing and signing partnership agreement, W9, and direct deposit forms",
		Category:           CategoryDocuments,
		Progress:           40,
		AllowedTransitions: []State{StateIntegrationSelection, StateAccountCreation, StateHumanHandoff},
		Behavior: Behavior{
			PrimaryGoal: "Guide through document review and signing process",
			SuggestedPrompts: []string{
				"Ready to review the partnership agreement?",
				"I can answer any questions about the terms",
				"Once signed, we'll move to integration setup",
			},
			AllowedTools:       []string{ToolSendDocuments, ToolCheckDocumentStatus, ToolGenerateDocumentPreview},
			ResponseStyle:      StyleSupportive,
			EscalationTriggers: []string{"lawyer", "legal review", "negotiate terms"},
		},
	},
	StateIntegrationSelection: {
		Name:               StateIntegrationSelection,
		DisplayName:        "Choose Integration",
		Description:        "Helping partner choose the best integration method",
		Category:           CategoryIntegration,
		Progress:           50,
		AllowedTransitions: []State{StateIntegrationSetup, StateDocumentSigning},
		Behavior: Behavior{
			PrimaryGoal: "Recommend and help select the best integration method based on their tech stack",
			SuggestedPrompts: []string{
				"What software do you use to manage bookings?",
				"Do you have a website where customers book?",
				"Want me to explain the different integration options?",
			},
			AllowedTools:  []string{ToolDetectPlatform, ToolRecommendIntegration, ToolCompareIntegrations},
			ResponseStyle: StyleInstructional,
		},
	},
	StateIntegrationSetup: {
		Name:               StateIntegrationSetup,
		DisplayName:        "Set Up Integration",
		Description:        "Guiding through the technical integration setup",
		Category:           CategoryIntegration,
		Progress:           65,
		AllowedTransitions: []State{StateIntegrationVerification, StateIntegrationSelection, StateHumanHandoff},
		Behavior: Behavior{
			PrimaryGoal: "Provide step-by-step guidance for setting up the chosen integration",
			SuggestedPrompts: []string{
				"Let me generate your widget code",
				"Here's how to add this to your site",
				"Need help with a specific step?",
			},
			AllowedTools: []string{
				ToolGenerateWidgetCode,
				ToolGenerateQRCode,
				ToolGenerateAPICredentials,
				ToolCreateWebhookEndpoint,
				ToolGetPlatformInstructions,
				ToolSearchKnowledgeBase,
			},
			ResponseStyle:      StyleInstructional,
			EscalationTriggers: []string{"not working", "error", "stuck", "can't figure out"},
		},
	},
	StateIntegrationVerification: {
		Name:               StateIntegrationVerification,
		DisplayName:        "Verify Integration",
		Description:        "Testing and verifying the integration is working correctly",
		Category:           CategoryIntegration,
		Progress:           80,
		AllowedTransitions: []State{StateTrainingMaterials, StateIntegrationSetup, StateHumanHandoff},
		Behavior: Behavior{
			PrimaryGoal: "Test the integration and confirm it's working properly",
			SuggestedPrompts: []string{
				"Let me test your integration now",
				"Try making a test purchase",
				"I'll verify everything is connected",
			},
			AllowedTools: []string{
				ToolTestWidgetEmbed,
				ToolTestQRCode,
				ToolTestAPIConnection,
				ToolTestWebhook,
				ToolSendTestNotification,
			},
			ResponseStyle: StyleSupportive,
		},
	},
	StateTrainingMaterials: {
		Name:               StateTrainingMaterials,
		DisplayName:        "Staff Training",
		Description:        "Providing training resources and staff scripts",
		Category:           CategoryTraining,
		Progress:           90,
		AllowedTransitions: []State{StateGoLiveChecklist, StateIntegrationVerification},
		Behavior: Behavior{
			PrimaryGoal: "Share training materials and help prepare staff",
			SuggestedPrompts: []string{
				"Here are your staff training materials",
				"Want me to explain the customer scripts?",
				"Ready to download your marketing materials?",
			},
			AllowedTools: []string{
				ToolGenerateTrainingMaterials,
				ToolGenerateStaffScripts,
				ToolDownloadMarketingKit,
				ToolScheduleTrainingCall,
			},
			ResponseStyle: StyleInstructional,
		},
	},
	StateGoLiveChecklist: {
		Name:               StateGoLiveChecklist,
		DisplayName:        "Go Live",
		Description:        "Final checklist before launching",
		Category:           CategoryCompletion,
		Progress:           95,
		AllowedTransitions: []State{StateComplete, StateTrainingMaterials, StateHumanHandoff},
		Behavior: Behavior{
			PrimaryGoal: "Run through final checklist and celebrate the launch",
			SuggestedPrompts: []string{
				"Let's run through the final checklist",
				"Everything looks great! Ready to go live?",
				"Any last questions before we launch?",
			},
			AllowedTools: []string{
				ToolRunGoLiveChecklist,
				ToolActivatePartner,
				ToolSendWelcomeEmail,
				ToolScheduleFollowup,
			},
			ResponseStyle: StyleCelebratory,
		},
	},
	StateComplete: {
		Name:               StateComplete,
		DisplayName:        "Complete!",
		Description:        "Onboarding successfully completed",
		Category:           CategoryCompletion,
		Progress:           100,
		AllowedTransitions: []State{},
		Behavior: Behavior{
			PrimaryGoal: "Celebrate success and provide ongoing support information",
			SuggestedPrompts: []string{
				"Congratulations! You're all set up!",
				"Here's how to access your partner dashboard",
				"Any questions? I'm always here to help",
			},
			AllowedTools:  []string{ToolGetPartnerDashboardLink, ToolScheduleCheckIn},
			ResponseStyle: StyleCelebratory,
		},
	},
	StateBlocked: {
		Name:               StateBlocked,
		DisplayName:        "Needs Attention",
		Description:        "Onboarding is blocked and needs resolution",
		Category:           CategoryCompletion,
		Progress:           -1,
		AllowedTransitions: []State{StateHumanHandoff},
		Behavior: Behavior{
			PrimaryGoal: "Acknowledge the issue and arrange human support",
			SuggestedPrompts: []string{
				"I understand there's an issue we need to resolve",
				"Let me connect you with our team",
				"A specialist will reach out shortly",
			},
			AllowedTools:  []string{ToolEscalateToHuman, ToolCreateSupportTicket},
			ResponseStyle: StyleSupportive,
		},
	},
	StateHumanHandoff: {
		Name:               StateHumanHandoff,
		DisplayName:        "Human Support",
		Description:        "Transferring to human support team",
		Category:           CategoryCompletion,
		Progress:           -1,
		AllowedTransitions: []State{StateWelcome, StateDocumentSigning, StateIntegrationSetup},
		Behavior: Behavior{
			PrimaryGoal: "Smoothly transfer to human support with full context",
			SuggestedPrompts: []string{
				"I'm connecting you with a specialist",
				"They'll have all our conversation history",
				"You should hear from them within the hour",
			},
			AllowedTools:  []string{ToolHandoffToHuman, ToolSendContextToAgent},
			ResponseStyle: StyleSupportive,
		},
	},
}

// Collected field names usable as required fields.
const (
	FieldBusinessName    = "businessName"
	FieldBusinessType    = "businessType"
	FieldContactName     = "contactName"
	FieldContactEmail    = "contactEmail"
	FieldContactPhone    = "contactPhone"
	FieldWebsiteURL      = "websiteUrl"
	FieldBusinessAddress = "businessAddress"
)

var collectedFields = map[string]func(models.CollectedData) string{
	FieldBusinessName:    func(c models.CollectedData) string { return c.BusinessName },
	FieldBusinessType:    func(c models.CollectedData) string { return c.BusinessType },
	FieldContactName:     func(c models.CollectedData) string { return c.ContactName },
	FieldContactEmail:    func(c models.CollectedData) string { return c.ContactEmail },
	FieldContactPhone:    func(c models.CollectedData) string { return c.ContactPhone },
	FieldWebsiteURL:      func(c models.CollectedData) string { return c.WebsiteURL },
	FieldBusinessAddress: func(c models.CollectedData) string { return c.BusinessAddress },
}

func hasField(c models.CollectedData, field string) bool {
	get, ok := collectedFields[field]
	return ok && strings.TrimSpace(get(c)) != ""
}

// Valid reports whether s names a known state.
func (s State) Valid() bool {
	_, ok := states[s]
	return ok
}

// StateInfo returns the configuration of s.
func StateInfo(s State) (StateConfig, bool) {
	c, ok := states[s]
	return c, ok
}

// States returns every state in flow order.
func States() []State { return slices.Clone(stateOrder) }

// StatesInCategory returns the states of a category in flow order.
func StatesInCategory(c Category) []State {
	var out []State
	for _, s := range stateOrder {
		if states[s].Category == c {
			out = append(out, s)
		}
	}
	return out
}

// MissingFields returns the required fields of s not yet collected.
func MissingFields(s State, collected models.CollectedData) []string {
	var missing []string
	for _, f := range states[s].RequiredFields {
		if !hasField(collected, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// CanTransition reports whether current may move to target. Moving forward
// in the flow also requires the current state's fields to be collected.
func CanTransition(current, target State, collected models.CollectedData) bool {
	from, ok := states[current]
	if !ok {
		return false
	}
	to, ok := states[target]
	if !ok || !slices.Contains(from.AllowedTransitions, target) {
		return false
	}
	if from.Support() || to.Support() || to.Progress <= from.Progress {
		return true
	}
	return len(MissingFields(current, collected)) == 0
}

// NextRecommendedState returns the state the conversation should advance
// to, and false when it should stay where it is.
func NextRecommendedState(current State, collected models.CollectedData, integration models.IntegrationData) (State, bool) {
	if _, ok := states[current]; !ok || len(MissingFields(current, collected)) > 0 {
		return "", false
	}
	switch current {
	case StateWelcome:
		return StateBusinessDiscovery, true
	case StateBusinessDiscovery:
		if collected.BusinessName != "" && collected.BusinessType != "" {
			return StateBusinessInfoCollection, true
		}
	case StateBusinessInfoCollection:
		if collected.ContactEmail != "" && collected.ContactName != "" {
			return StateAccountCreation, true
		}
	case StateAccountCreation:
		return StateDocumentSigning, true
	case StateDocumentSigning:
		return StateIntegrationSelection, true
	case StateIntegrationSelection:
		if integration.SelectedMethod != "" {
			return StateIntegrationSetup, true
		}
	case StateIntegrationSetup:
		if integration.WidgetCode != "" || integration.QRCodeURL != "" || integration.APIKey != "" {
			return StateIntegrationVerification, true
		}
	case StateIntegrationVerification:
		if integration.IsVerified {
			return StateTrainingMaterials, true
		}
	case StateTrainingMaterials:
		return StateGoLiveChecklist, true
	case StateGoLiveChecklist:
		return StateComplete, true
	}
	return "", false
}

// CalculateProgress returns the progress bar value for s: the state's base
// plus up to 9 points for collected required fields. Support states report 0.
func CalculateProgress(s State, collected models.CollectedData) int {
	c, ok := states[s]
	if !ok || c.Support() {
		return 0
	}
	progress := c.Progress
	if n := len(c.RequiredFields); n > 0 {
		filled := n - len(MissingFields(s, collected))
		progress += min(filled*10/n, 9)
	}
	return min(progress, 100)
}

// MaxConsecutiveToolFailures is the number of failed tool calls in a row
// after which the session escalates.
const MaxConsecutiveToolFailures = 3

// explicitRequests are phrases that ask for a person in any state.
var explicitRequests = []string{
	"talk to a human",
	"speak to a human",
	"talk to someone",
	"speak to someone",
	"speak with someone",
	"real person",
	"human agent",
	"live agent",
	"customer service",
}

// EscalationContext is what ShouldEscalate looks at.
type EscalationContext struct {
	State               State
	Message             string
	ConsecutiveFailures int
}

// ShouldEscalate reports whether the turn should go to human support.
func ShouldEscalate(ec EscalationContext) bool {
	if ec.ConsecutiveFailures >= MaxConsecutiveToolFailures {
		return true
	}
	msg := strings.ToLower(ec.Message)
	if msg == "" {
		return false
	}
	for _, p := range explicitRequests {
		if strings.Contains(msg, p) {
			return true
		}
	}
	for _, t := range states[ec.State].Behavior.EscalationTriggers {
		if strings.Contains(msg, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// alwaysAllowed tools are available in every state.
var alwaysAllowed = []string{ToolUpdateCollectedData, ToolTransitionState, ToolEscalateToHuman}

// IsToolAllowed reports whether the model may call tool in state s.
func IsToolAllowed(s State, tool string) bool {
	if slices.Contains(alwaysAllowed, tool) {
		return true
	}
	c, ok := states[s]
	return ok && slices.Contains(c.Behavior.AllowedTools, tool)
}

// AllowedTools returns the tool names available in s, always-allowed ones
// included.
func AllowedTools(s State) []string {
	out := slices.Clone(states[s].Behavior.AllowedTools)
	for _, t := range alwaysAllowed {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// Transition records a state change.
type Transition struct {
	From     State          `json:"from"`
	To       State          `json:"to"`
	Reason   string         `json:"reason"`
	At       time.Time      `json:"timestamp"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewTransition(from, to State, reason string) Transition {
	return Transition{From: from, To: to, Reason: reason, At: time.Now().UTC()}
}
