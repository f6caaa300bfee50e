package onboarding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/go-partners/internal/models"
)

var fullContact = models.CollectedData{
	BusinessName: "Peak Climbing",
	BusinessType: "climbing",
	ContactName:  "Dana Reyes",
	ContactEmail: "dana@peak.example",
}

func TestStateTableIsConsistent(t *testing.T) {
	require.Len(t, States(), 13)
	for _, s := range States() {
		cfg, ok := StateInfo(s)
		require.True(t, ok, s)
		assert.Equal(t, s, cfg.Name)
		assert.Len(t, cfg.Behavior.SuggestedPrompts, 3, s)
		for _, next := range cfg.AllowedTransitions {
			assert.True(t, next.Valid(), "%s -> %s", s, next)
		}
		for _, f := range cfg.RequiredFields {
			_, known := collectedFields[f]
			assert.True(t, known, "%s requires unknown field %s", s, f)
		}
	}
}

func TestStatesInCategory(t *testing.T) {
	assert.Equal(t,
		[]State{StateIntegrationSelection, StateIntegrationSetup, StateIntegrationVerification},
		StatesInCategory(CategoryIntegration))
	assert.Equal(t, []State{StateDocumentSigning}, StatesInCategory(CategoryDocuments))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name      string
		from, to  State
		collected models.CollectedData
		want      bool
	}{
		{"allowed forward without requirements", StateWelcome, StateBusinessDiscovery, models.CollectedData{}, true},
		{"not in allowed list", StateWelcome, StateComplete, fullContact, false},
		{"unknown target", StateWelcome, State("nope"), fullContact, false},
		{"unknown source", State("nope"), StateWelcome, fullContact, false},
		{"forward blocked by missing fields", StateBusinessInfoCollection, StateAccountCreation, models.CollectedData{BusinessName: "Peak"}, false},
		{"forward with fields", StateBusinessInfoCollection, StateAccountCreation, fullContact, true},
		{"backward skips field check", StateBusinessInfoCollection, StateBusinessDiscovery, models.CollectedData{}, true},
		{"support target skips field check", StateDocumentSigning, StateHumanHandoff, models.CollectedData{}, true},
		{"support source skips field check", StateHumanHandoff, StateIntegrationSetup, models.CollectedData{}, true},
		{"complete is terminal", StateComplete, StateWelcome, fullContact, false},
		{"whitespace does not count as collected", StateAccountCreation, StateDocumentSigning, models.CollectedData{ContactEmail: "  "}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.collected))
		})
	}
}

func TestNextRecommendedState(t *testing.T) {
	tests := []struct {
		name        string
		from        State
		collected   models.CollectedData
		integration models.IntegrationData
		want        State
		ok          bool
	}{
		{"welcome advances", StateWelcome, models.CollectedData{}, models.IntegrationData{}, StateBusinessDiscovery, true},
		{"discovery waits for type", StateBusinessDiscovery, models.CollectedData{BusinessName: "Peak"}, models.IntegrationData{}, "", false},
		{"discovery advances", StateBusinessDiscovery, models.CollectedData{BusinessName: "Peak", BusinessType: "gym"}, models.IntegrationData{}, StateBusinessInfoCollection, true},
		{"info collection needs required fields", StateBusinessInfoCollection, models.CollectedData{ContactEmail: "a@b.c"}, models.IntegrationData{}, "", false},
		{"info collection advances", StateBusinessInfoCollection, fullContact, models.IntegrationData{}, StateAccountCreation, true},
		{"selection waits for a method", StateIntegrationSelection, fullContact, models.IntegrationData{}, "", false},
		{"selection advances", StateIntegrationSelection, fullContact, models.IntegrationData{SelectedMethod: "widget"}, StateIntegrationSetup, true},
		{"setup advances on qr", StateIntegrationSetup, fullContact, models.IntegrationData{QRCodeURL: "https://qr"}, StateIntegrationVerification, true},
		{"verification waits", StateIntegrationVerification, fullContact, models.IntegrationData{WidgetCode: "<div>"}, "", false},
		{"verification advances", StateIntegrationVerification, fullContact, models.IntegrationData{IsVerified: true}, StateTrainingMaterials, true},
		{"go live completes", StateGoLiveChecklist, fullContact, models.IntegrationData{}, StateComplete, true},
		{"complete stays", StateComplete, fullContact, models.IntegrationData{}, "", false},
		{"handoff stays", StateHumanHandoff, fullContact, models.IntegrationData{}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextRecommendedState(tt.from, tt.collected, tt.integration)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateProgress(t *testing.T) {
	assert.Equal(t, 0, CalculateProgress(StateWelcome, models.CollectedData{}))
	assert.Equal(t, 20, CalculateProgress(StateBusinessInfoCollection, models.CollectedData{}))
	// one of three required fields: floor(10/3) = 3
	assert.Equal(t, 23, CalculateProgress(StateBusinessInfoCollection, models.CollectedData{BusinessName: "Peak"}))
	// all fields collected is capped below the next state's base
	assert.Equal(t, 29, CalculateProgress(StateBusinessInfoCollection, fullContact))
	assert.Equal(t, 39, CalculateProgress(StateAccountCreation, fullContact))
	assert.Equal(t, 100, CalculateProgress(StateComplete, fullContact))
	assert.Equal(t, 0, CalculateProgress(StateHumanHandoff, fullContact))
	assert.Equal(t, 0, CalculateProgress(StateBlocked, fullContact))
	assert.Equal(t, 0, CalculateProgress(State("nope"), fullContact))
}

func TestShouldEscalate(t *testing.T) {
	tests := []struct {
		name string
		ec   EscalationContext
		want bool
	}{
		{"plain message", EscalationContext{State: StateWelcome, Message: "We run a gym"}, false},
		{"explicit request anywhere", EscalationContext{State: StateWelcome, Message: "Can I talk to a HUMAN please"}, true},
		{"state trigger", EscalationContext{State: StateIntegrationSetup, Message: "The widget is not working"}, true},
		{"trigger of another state", EscalationContext{State: StateWelcome, Message: "my lawyer will read it"}, false},
		{"document trigger", EscalationContext{State: StateDocumentSigning, Message: "I need a Legal Review first"}, true},
		{"repeated tool failures", EscalationContext{State: StateWelcome, ConsecutiveFailures: MaxConsecutiveToolFailures}, true},
		{"failures below threshold", EscalationContext{State: StateWelcome, Message: "ok", ConsecutiveFailures: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldEscalate(tt.ec))
		})
	}
}

func TestToolWhitelist(t *testing.T) {
	assert.True(t, IsToolAllowed(StateBusinessDiscovery, ToolEstimateRevenue))
	assert.False(t, IsToolAllowed(StateBusinessDiscovery, ToolActivatePartner))
	assert.True(t, IsToolAllowed(StateComplete, ToolUpdateCollectedData))
	assert.True(t, IsToolAllowed(State("nope"), ToolEscalateToHuman))
	assert.False(t, IsToolAllowed(State("nope"), ToolEstimateRevenue))

	tools := AllowedTools(StateDocumentSigning)
	assert.Contains(t, tools, ToolSendDocuments)
	assert.Contains(t, tools, ToolTransitionState)
	seen := map[string]bool{}
	for _, name := range tools {
		assert.False(t, seen[name], "duplicate %s", name)
		seen[name] = true
	}
}

func TestEveryWhitelistedToolIsRegistered(t *testing.T) {
	tb := NewToolbox(nil, nil, nil, nil)
	for _, s := range States() {
		for _, name := range AllowedTools(s) {
			_, ok := tb.Tool(name)
			assert.True(t, ok, "state %s allows unregistered tool %s", s, name)
		}
	}
}

func TestNewTransition(t *testing.T) {
	tr := NewTransition(StateWelcome, StateBusinessDiscovery, "greeted")
	assert.Equal(t, StateWelcome, tr.From)
	assert.Equal(t, StateBusinessDiscovery, tr.To)
	assert.Equal(t, "greeted", tr.Reason)
	assert.False(t, tr.At.IsZero())
}
