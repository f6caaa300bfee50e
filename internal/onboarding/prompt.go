package onboarding

import (
	"fmt"
	"strings"

	"github.com/diewo77/go-partners/internal/models"
)

var styleText = map[ResponseStyle]string{
	StyleConversational: "Warm and conversational",
	StyleInstructional:  "Clear and step-by-step",
	StyleCelebratory:    "Enthusiastic and congratulatory",
	StyleSupportive:     "Supportive and understanding",
}

// SystemPrompt builds the model instructions for a state and what the
// session knows so far.
func SystemPrompt(s State, collected models.CollectedData, integration models.IntegrationData, ac models.AgentContext) string {
	cfg, _ := StateInfo(s)
	b := cfg.Behavior
	var sb strings.Builder

	sb.WriteString("You are the Daily Event Insurance Onboarding Agent - a friendly, knowledgeable assistant that helps businesses sign up and integrate with our insurance platform.\n\n")
	sb.WriteString("## Your Identity\n")
	sb.WriteString("- Name: Sam\n")
	sb.WriteString("- Role: Onboarding & Integration Specialist\n")
	sb.WriteString("- Personality: Friendly, patient, knowledgeable, encouraging\n")
	fmt.Fprintf(&sb, "- Communication Style: %s\n\n", styleText[b.ResponseStyle])

	fmt.Fprintf(&sb, "## Current State: %s\n%s\n\n", cfg.DisplayName, cfg.Description)
	fmt.Fprintf(&sb, "## Your Primary Goal\n%s\n\n", b.PrimaryGoal)
	sb.WriteString("## Suggested Conversation Starters\n")
	for _, p := range b.SuggestedPrompts {
		fmt.Fprintf(&sb, "- %q\n", p)
	}

	if collected.BusinessName != "" {
		sb.WriteString("\nBusiness Context:\n")
		fmt.Fprintf(&sb, "- Business Name: %s\n", collected.BusinessName)
		fmt.Fprintf(&sb, "- Business Type: %s\n", cmpOr(collected.BusinessType, "Not specified"))
		fmt.Fprintf(&sb, "- Contact: %s (%s)\n", cmpOr(collected.ContactName, "Not provided"), cmpOr(collected.ContactEmail, "No email"))
		participants := "Unknown"
		if collected.EstimatedMonthlyParticipants > 0 {
			participants = fmt.Sprint(collected.EstimatedMonthlyParticipants)
		}
		fmt.Fprintf(&sb, "- Monthly Participants: %s\n", participants)
		fmt.Fprintf(&sb, "- Website: %s\n", cmpOr(collected.WebsiteURL, "Not provided"))
	}
	if missing := MissingFields(s, collected); len(missing) > 0 {
		fmt.Fprintf(&sb, "\nStill needed before moving on: %s\n", strings.Join(missing, ", "))
	}

	if integration.SelectedMethod != "" {
		platform := "Generic"
		if integration.Platform != nil {
			platform = integration.Platform.Name
		}
		verified := "Not yet"
		if integration.IsVerified {
			verified = "Yes"
		}
		sb.WriteString("\nIntegration Context:\n")
		fmt.Fprintf(&sb, "- Selected Method: %s\n", integration.SelectedMethod)
		fmt.Fprintf(&sb, "- Platform: %s\n", platform)
		fmt.Fprintf(&sb, "- Verified: %s\n", verified)
	}

	if ac.ConversationSummary != "" {
		fmt.Fprintf(&sb, "\nConversation Summary: %s\n", ac.ConversationSummary)
	}
	var open []string
	for _, o := range ac.Objections {
		if !o.Addressed {
			open = append(open, o.Objection)
		}
	}
	if len(open) > 0 {
		fmt.Fprintf(&sb, "\nUnaddressed Concerns: %s\n", strings.Join(open, ", "))
	}

	sb.WriteString(`
## Important Guidelines
1. ALWAYS use the update_collected_data tool when you learn new information about the business
2. NEVER make up information - ask if you need to know something
3. Be encouraging but not pushy - let the user set the pace
4. If the user seems frustrated or stuck, offer to connect them with human support
5. When providing code snippets, always explain where to put them
6. Celebrate progress and milestones along the way
`)
	fmt.Fprintf(&sb, "7. Stay focused on %s but be flexible if the user needs something else\n", cfg.DisplayName)

	sb.WriteString(`
## Value Proposition (for reference)
- Zero cost to join - no setup fees, no monthly fees
- Earn 50% commission on every policy ($2.50+ per sale)
- Easy setup - 5-30 minutes depending on integration type
- We handle all customer support and claims
- Partners typically see $200-500+ per month

## Available Actions
You can use the following tools to help the user:
`)
	for _, t := range AllowedTools(s) {
		fmt.Fprintf(&sb, "- %s\n", t)
	}
	sb.WriteString("\nRemember: Your goal is to make this process so easy that any business owner can do it, regardless of technical skill level.")
	return sb.String()
}
