package onboarding

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/diewo77/go-partners/internal/models"
)

func (t *Toolbox) registerSession() {
	t.add(ToolUpdateCollectedData,
		"Update the session with newly collected business information. Call this whenever you learn new information about the business.",
		object(map[string]any{
			"data": map[string]any{
				"type":        "object",
				"description": "The data to update",
				"properties": map[string]any{
					"businessName":                 str("Business name"),
					"businessType":                 str("Type of business"),
					"businessAddress":              str("Street address"),
					"entityType":                   str("Legal entity type (LLC, corporation, sole proprietor)"),
					"websiteUrl":                   str("Business website"),
					"contactName":                  str("Primary contact's full name"),
					"contactEmail":                 str("Primary contact's email"),
					"contactPhone":                 str("Primary contact's phone"),
					"contactRole":                  str("Primary contact's role"),
					"estimatedMonthlyParticipants": num("Estimated monthly participants"),
					"currentPlatforms":             strList("Software the business uses"),
					"preferredIntegrationType":     str("Integration method the partner prefers"),
					"preferredPayoutMethod":        str("How the partner wants commissions paid"),
					"howDidYouHear":                str("How they heard about us"),
					"specificNeeds":                strList("Specific needs or concerns"),
				},
			},
		}, "data"),
		handler(t.updateCollectedData))

	targets := make([]string, 0, len(stateOrder))
	for _, s := range stateOrder {
		targets = append(targets, string(s))
	}
	t.add(ToolTransitionState,
		"Move to a new state in the onboarding flow. Only call when ready to move forward.",
		object(map[string]any{
			"targetState": enum("The state to move to", targets...),
			"reason":      str("Why the transition is happening"),
		}, "targetState"),
		handler(t.transitionState))
}

type collectedArgs struct {
	Data collectedPatch `json:"data" validate:"required"`
}

type collectedPatch struct {
	BusinessName                 string   `json:"businessName" validate:"max=255"`
	BusinessType                 string   `json:"businessType" validate:"max=100"`
	BusinessAddress              string   `json:"businessAddress" validate:"max=500"`
	EntityType                   string   `json:"entityType" validate:"max=100"`
	WebsiteURL                   string   `json:"websiteUrl" validate:"max=500"`
	ContactName                  string   `json:"contactName" validate:"max=255"`
	ContactEmail                 string   `json:"contactEmail" validate:"omitempty,email,max=255"`
	ContactPhone                 string   `json:"contactPhone" validate:"max=50"`
	ContactRole                  string   `json:"contactRole" validate:"max=100"`
	EstimatedMonthlyParticipants float64  `json:"estimatedMonthlyParticipants" validate:"gte=0"`
	CurrentPlatforms             []string `json:"currentPlatforms" validate:"omitempty,dive,max=100"`
	PreferredIntegrationType     string   `json:"preferredIntegrationType" validate:"max=50"`
	PreferredPayoutMethod        string   `json:"preferredPayoutMethod" validate:"max=50"`
	HowDidYouHear                string   `json:"howDidYouHear" validate:"max=255"`
	SpecificNeeds                []string `json:"specificNeeds" validate:"omitempty,dive,max=500"`
}

// MergeCollected applies the non-empty fields of patch to dst and returns
// the names of the fields that changed. List fields are merged without
// duplicates.
func MergeCollected(dst models.CollectedData, patch models.CollectedData) (models.CollectedData, []string) {
	var changed []string
	setStr := func(name string, field *string, v string) {
		v = strings.TrimSpace(v)
		if v != "" && v != *field {
			*field = v
			changed = append(changed, name)
		}
	}
	setList := func(name string, field *[]string, vs []string) {
		grew := false
		for _, v := range vs {
			v = strings.TrimSpace(v)
			if v != "" && !slices.Contains(*field, v) {
				*field = append(*field, v)
				grew = true
			}
		}
		if grew {
			changed = append(changed, name)
		}
	}

	setStr(FieldBusinessName, &dst.BusinessName, patch.BusinessName)
	setStr(FieldBusinessType, &dst.BusinessType, patch.BusinessType)
	setStr(FieldBusinessAddress, &dst.BusinessAddress, patch.BusinessAddress)
	setStr("entityType", &dst.EntityType, patch.EntityType)
	setStr(FieldWebsiteURL, &dst.WebsiteURL, patch.WebsiteURL)
	setStr(FieldContactName, &dst.ContactName, patch.ContactName)
	setStr(FieldContactEmail, &dst.ContactEmail, strings.ToLower(patch.ContactEmail))
	setStr(FieldContactPhone, &dst.ContactPhone, patch.ContactPhone)
	setStr("contactRole", &dst.ContactRole, patch.ContactRole)
	if n := patch.EstimatedMonthlyParticipants; n > 0 && n != dst.EstimatedMonthlyParticipants {
		dst.EstimatedMonthlyParticipants = n
		changed = append(changed, "estimatedMonthlyParticipants")
	}
	dst.CurrentPlatforms = slices.Clone(dst.CurrentPlatforms)
	setList("currentPlatforms", &dst.CurrentPlatforms, patch.CurrentPlatforms)
	setStr("preferredIntegrationType", &dst.PreferredIntegrationType, patch.PreferredIntegrationType)
	setStr("preferredPayoutMethod", &dst.PreferredPayoutMethod, patch.PreferredPayoutMethod)
	setStr("howDidYouHear", &dst.HowDidYouHear, patch.HowDidYouHear)
	dst.SpecificNeeds = slices.Clone(dst.SpecificNeeds)
	setList("specificNeeds", &dst.SpecificNeeds, patch.SpecificNeeds)
	return dst, changed
}

func (p collectedPatch) data() models.CollectedData {
	return models.CollectedData{
		BusinessName:                 p.BusinessName,
		BusinessType:                 p.BusinessType,
		BusinessAddress:              p.BusinessAddress,
		EntityType:                   p.EntityType,
		WebsiteURL:                   p.WebsiteURL,
		ContactName:                  p.ContactName,
		ContactEmail:                 p.ContactEmail,
		ContactPhone:                 p.ContactPhone,
		ContactRole:                  p.ContactRole,
		EstimatedMonthlyParticipants: int(p.EstimatedMonthlyParticipants + 0.5),
		CurrentPlatforms:             p.CurrentPlatforms,
		PreferredIntegrationType:     p.PreferredIntegrationType,
		PreferredPayoutMethod:        p.PreferredPayoutMethod,
		HowDidYouHear:                p.HowDidYouHear,
		SpecificNeeds:                p.SpecificNeeds,
	}
}

func (t *Toolbox) updateCollectedData(_ context.Context, tc ToolContext, args collectedArgs) (ToolResult, error) {
	merged, changed := MergeCollected(tc.Collected, args.Data.data())
	if changed == nil {
		changed = []string{}
	}
	return ToolResult{
		Data: map[string]any{
			"sessionId":     tc.SessionID,
			"updatedFields": changed,
			"missingFields": MissingFields(tc.State, merged),
			"message":       "Session data updated successfully",
		},
		collected: &merged,
	}, nil
}

type transitionArgs struct {
	TargetState string `json:"targetState" validate:"required,max=50"`
	Reason      string `json:"reason" validate:"max=500"`
}

func (t *Toolbox) transitionState(_ context.Context, tc ToolContext, args transitionArgs) (ToolResult, error) {
	target := State(args.TargetState)
	if !target.Valid() {
		return ToolResult{}, fmt.Errorf("unknown state %q", args.TargetState)
	}
	if !CanTransition(tc.State, target, tc.Collected) {
		if missing := MissingFields(tc.State, tc.Collected); len(missing) > 0 {
			return ToolResult{}, fmt.Errorf("cannot move from %s to %s yet: still missing %s",
				tc.State, target, strings.Join(missing, ", "))
		}
		return ToolResult{}, fmt.Errorf("cannot move from %s to %s", tc.State, target)
	}
	tr := NewTransition(tc.State, target, cmpOr(args.Reason, "agent decision"))
	tr.At = t.now().UTC()
	cfg, _ := StateInfo(target)
	return ToolResult{
		Data: map[string]any{
			"sessionId": tc.SessionID,
			"newState":  target,
			"reason":    tr.Reason,
			"message":   "Transitioned to " + cfg.DisplayName,
		},
		transition: &tr,
	}, nil
}
