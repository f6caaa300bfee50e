package onboarding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/diewo77/go-partners/internal/models"
)

// DashboardURL is the partner dashboard.
const DashboardURL = SiteURL + "/partner/dashboard"

// Checklist item statuses.
const (
	CheckComplete = "complete"
	CheckPending  = "pending"
	CheckOptional = "optional"
)

func (t *Toolbox) registerGoLive() {
	t.add(ToolRunGoLiveChecklist,
		"Run through the final go-live checklist and return status of each item",
		object(map[string]any{
			"partnerId": str("The partner's ID"),
		}, "partnerId"),
		handler(t.runGoLiveChecklist))

	t.add(ToolActivatePartner,
		"Activate the partner account and make them live",
		object(map[string]any{
			"partnerId": str("The partner's ID"),
		}, "partnerId"),
		handler(t.activatePartner))

	t.add(ToolSendWelcomeEmail,
		"Send the partner a welcome email with dashboard access and launch tips",
		object(map[string]any{
			"partnerId": str("The partner's ID"),
		}, "partnerId"),
		handler(t.sendWelcomeEmail))

	t.add(ToolScheduleFollowup,
		"Schedule a follow-up call or email with the partner",
		object(map[string]any{
			"partnerId":     str("The partner's ID"),
			"type":          enum("Type of follow-up", "call", "email", "video"),
			"preferredTime": str("Preferred date/time for follow-up"),
			"topic":         str("Topic/purpose of the follow-up"),
		}, "partnerId", "type"),
		handler(t.scheduleFollowup))

	t.add(ToolLookupPartnerStatus,
		"Look up where an existing partner is in onboarding",
		object(map[string]any{
			"partnerId": str("The partner's ID"),
			"email":     str("The partner's contact email, when the ID is unknown"),
		}),
		handler(t.lookupPartnerStatus))

	t.add(ToolGetPartnerDashboardLink,
		"Get the link to the partner dashboard",
		object(map[string]any{}),
		handler(t.getPartnerDashboardLink))

	t.add(ToolScheduleCheckIn,
		"Schedule a check-in a few weeks after launch to review results",
		object(map[string]any{
			"partnerId":    str("The partner's ID"),
			"weeksFromNow": num("How many weeks from now, default 2"),
		}, "partnerId"),
		handler(t.scheduleCheckIn))
}

// ChecklistItem is one go-live requirement.
type ChecklistItem struct {
	Item   string `json:"item"`
	Status string `json:"status"`
}

func check(item string, ok bool) ChecklistItem {
	if ok {
		return ChecklistItem{Item: item, Status: CheckComplete}
	}
	return ChecklistItem{Item: item, Status: CheckPending}
}

// ChecklistComplete reports whether every required item is complete.
func ChecklistComplete(items []ChecklistItem) bool {
	for _, c := range items {
		if c.Status == CheckPending {
			return false
		}
	}
	return true
}

// reachedState reports whether s is at or past target in the main flow.
func reachedState(s, target State) bool {
	cur, ok := StateInfo(s)
	if !ok || cur.Support() {
		return false
	}
	return cur.Progress >= states[target].Progress
}

func (t *Toolbox) runGoLiveChecklist(ctx context.Context, tc ToolContext, args partnerArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	trained := reachedState(tc.State, StateGoLiveChecklist)

	var items []ChecklistItem
	if t.db == nil {
		items = []ChecklistItem{
			check("Account created", pid != ""),
			check("Documents signed", true),
			check("Integration configured", tc.Integration.SelectedMethod != ""),
			check("Integration verified", tc.Integration.IsVerified),
			check("Staff trained", trained),
		}
	} else {
		p, err := t.loadPartner(ctx, pid)
		if err != nil {
			return ToolResult{}, err
		}
		var ins []models.PartnerIntegration
		if err := t.db.WithContext(ctx).Where("partner_id = ?", p.ID).Find(&ins).Error; err != nil {
			return ToolResult{}, err
		}
		configured, verified := false, tc.Integration.IsVerified
		for _, in := range ins {
			configured = configured || in.Status == models.IntegrationConfigured || in.Status == models.IntegrationVerified
			verified = verified || in.Status == models.IntegrationVerified
		}
		items = []ChecklistItem{
			check("Account created", true),
			check("Documents signed", p.AllDocumentsSigned()),
			check("Integration configured", configured || verified),
			check("Integration verified", verified),
			check("Staff trained", trained),
		}
	}
	items = append(items, ChecklistItem{Item: "Marketing materials downloaded", Status: CheckOptional})

	all := ChecklistComplete(items)
	msg := "A few items still need attention before launch."
	if all {
		msg = "All items complete! You're ready to go live!"
	}
	return done(map[string]any{
		"partnerId":   pid,
		"checklist":   items,
		"allComplete": all,
		"mock":        t.db == nil,
		"message":     msg,
	})
}

func (t *Toolbox) activatePartner(ctx context.Context, tc ToolContext, args partnerArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	if t.db == nil && t.activator == nil {
		return done(map[string]any{
			"mock":      true,
			"partnerId": pid,
			"status":    models.PartnerActive,
			"message":   "Partner activated (mock mode)",
		})
	}

	var status string
	if t.activator != nil {
		p, err := t.activator.Activate(ctx, pid)
		if err != nil {
			return ToolResult{}, err
		}
		status = p.Status
	} else {
		p, err := t.loadPartner(ctx, pid)
		if err != nil {
			return ToolResult{}, err
		}
		if p.DocumentsStatus != models.DocumentsCompleted {
			return ToolResult{}, errors.New("all required documents must be signed before going live")
		}
		now := t.now().UTC()
		if err := t.db.WithContext(ctx).Model(&models.Partner{}).Where("id = ?", pid).
			Updates(map[string]any{"status": models.PartnerActive, "approved_at": now}).Error; err != nil {
			return ToolResult{}, err
		}
		status = models.PartnerActive
	}
	t.log.Info("partner activated", zap.String("partner_id", pid), zap.String("session_id", tc.SessionID))
	return ToolResult{
		Data: map[string]any{
			"partnerId":    pid,
			"status":       status,
			"message":      "Congratulations! Your partner account is now live!",
			"dashboardUrl": DashboardURL,
		},
		NextAction: "Celebrate the launch and share the dashboard link",
	}, nil
}

func (t *Toolbox) sendWelcomeEmail(ctx context.Context, tc ToolContext, args partnerArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	p, err := t.loadPartner(ctx, pid)
	if err != nil {
		return ToolResult{}, err
	}
	email, name := tc.Collected.ContactEmail, tc.Collected.BusinessName
	if p != nil {
		email, name = p.ContactEmail, p.BusinessName
	}
	return done(map[string]any{
		"partnerId":    pid,
		"email":        email,
		"sent":         true,
		"mock":         p == nil,
		"dashboardUrl": DashboardURL,
		"message":      fmt.Sprintf("Welcome email sent to %s. Welcome aboard, %s!", email, cmpOr(name, "partner")),
	})
}

type followupArgs struct {
	PartnerID     string `json:"partnerId" validate:"max=64"`
	Type          string `json:"type" validate:"required,oneof=call email video"`
	PreferredTime string `json:"preferredTime" validate:"max=100"`
	Topic         string `json:"topic" validate:"max=255"`
}

func (t *Toolbox) scheduleFollowup(_ context.Context, tc ToolContext, args followupArgs) (ToolResult, error) {
	return done(map[string]any{
		"partnerId":    partnerIDFor(tc, args.PartnerID),
		"type":         args.Type,
		"scheduledFor": cmpOr(args.PreferredTime, "Within 24 hours"),
		"topic":        cmpOr(args.Topic, "General follow-up"),
		"message":      fmt.Sprintf("A %s has been scheduled. We'll reach out %s.", args.Type, cmpOr(args.PreferredTime, "soon")),
	})
}

type partnerStatusArgs struct {
	PartnerID string `json:"partnerId" validate:"max=64"`
	Email     string `json:"email" validate:"omitempty,email"`
}

func (t *Toolbox) lookupPartnerStatus(ctx context.Context, tc ToolContext, args partnerStatusArgs) (ToolResult, error) {
	if t.db == nil {
		return done(map[string]any{"mock": true, "found": false})
	}
	var (
		p   *models.Partner
		err error
	)
	if pid := partnerIDFor(tc, args.PartnerID); pid != "" {
		p, err = t.loadPartner(ctx, pid)
	} else if args.Email != "" {
		p, err = t.findPartnerByEmail(ctx, args.Email)
	} else {
		return ToolResult{}, errors.New("partnerId or email is required")
	}
	if err != nil {
		return ToolResult{}, err
	}
	if p == nil {
		return done(map[string]any{"found": false, "message": "We couldn't find a partner with that email."})
	}
	docs, err := t.documentStatuses(ctx, p.ID)
	if err != nil {
		return ToolResult{}, err
	}
	return done(map[string]any{
		"found":           true,
		"partnerId":       p.ID,
		"businessName":    p.BusinessName,
		"status":          p.Status,
		"documentsStatus": p.DocumentsStatus,
		"documents":       docs,
		"integrationType": p.IntegrationType,
	})
}

func (t *Toolbox) getPartnerDashboardLink(context.Context, ToolContext, noArgs) (ToolResult, error) {
	return done(map[string]any{
		"dashboardUrl": DashboardURL,
		"message":      "You can track policies, commissions, and payouts from your dashboard.",
	})
}

type checkInArgs struct {
	PartnerID    string `json:"partnerId" validate:"max=64"`
	WeeksFromNow int    `json:"weeksFromNow" validate:"gte=0,lte=12"`
}

func (t *Toolbox) scheduleCheckIn(_ context.Context, tc ToolContext, args checkInArgs) (ToolResult, error) {
	weeks := args.WeeksFromNow
	if weeks == 0 {
		weeks = 2
	}
	at := t.now().AddDate(0, 0, 7*weeks)
	return done(map[string]any{
		"partnerId":    partnerIDFor(tc, args.PartnerID),
		"scheduledFor": at.Format("2006-01-02"),
		"message":      fmt.Sprintf("We'll check in on %s to review your first results.", at.Format("Monday, January 2")),
	})
}
