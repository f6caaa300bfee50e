package onboarding

import (
	"context"
	"errors"
	"strings"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/models"
)

// EscalationResponseTime is what partners are told to expect.
const EscalationResponseTime = "within the hour"

// urgencyPriority maps escalation urgency to support priority.
var urgencyPriority = map[string]string{
	"low":    "low",
	"medium": "normal",
	"high":   "urgent",
}

func (t *Toolbox) registerSupport() {
	t.add(ToolEscalateToHuman,
		"Escalate the conversation to a human agent with full context",
		object(map[string]any{
			"sessionId": str("The onboarding session ID"),
			"reason":    str("Reason for escalation"),
			"urgency":   enum("Urgency level", "low", "medium", "high"),
		}, "reason"),
		handler(t.escalateToHuman))

	t.add(ToolCreateSupportTicket,
		"Open a support ticket for an issue that needs follow-up by the partner team",
		object(map[string]any{
			"subject":     str("Short summary of the issue"),
			"description": str("Details of the issue"),
			"topic":       enum("Issue area", models.SupportTopics...),
			"priority":    enum("Ticket priority", models.SupportPriorities...),
		}, "subject", "description"),
		handler(t.createSupportTicket))

	t.add(ToolSearchKnowledgeBase,
		"Search the help articles for answers to partner questions",
		object(map[string]any{
			"query":    str("What the partner asked about"),
			"category": enum("Restrict to one category", KnowledgeFAQ, KnowledgeIntegration, KnowledgeTroubleshooting, KnowledgeScripts, KnowledgePricing, KnowledgeProcess),
			"limit":    num("Maximum number of articles, default 5"),
		}, "query"),
		handler(t.searchKnowledgeBase))

	t.add(ToolHandoffToHuman,
		"Hand the conversation to the human specialist who picked up the escalation",
		object(map[string]any{
			"reason":     str("Why a human is needed"),
			"department": enum("Team to route to", "partnerships", "technical", "billing"),
		}, "reason"),
		handler(t.handoffToHuman))

	t.add(ToolSendContextToAgent,
		"Send a summary of the conversation so the human agent can pick up without repeating questions",
		object(map[string]any{
			"summary":     str("Summary of the conversation so far"),
			"painPoints":  strList("Problems the partner ran into"),
			"nextActions": strList("What the human agent should do next"),
		}, "summary"),
		handler(t.sendContextToAgent))
}

type escalateArgs struct {
	SessionID string `json:"sessionId" validate:"max=64"`
	Reason    string `json:"reason" validate:"required,max=500"`
	Urgency   string `json:"urgency" validate:"omitempty,oneof=low medium high"`
}

// TicketID returns a new escalation ticket reference.
func TicketID() string {
	return "ESC-" + strings.ToUpper(ksuid.New().String())
}

func (t *Toolbox) escalateToHuman(ctx context.Context, tc ToolContext, args escalateArgs) (ToolResult, error) {
	sessionID := cmpOr(tc.SessionID, args.SessionID)
	urgency := cmpOr(args.Urgency, "medium")
	ticket := TicketID()

	out := map[string]any{
		"sessionId": sessionID,
		"reason":    args.Reason,
		"urgency":   urgency,
		"ticketId":  ticket,
		"message":   "I've connected you with our support team. They'll reach out " + EscalationResponseTime + ".",
		"contactInfo": map[string]string{
			"email": SupportEmail,
			"phone": SupportPhone,
		},
	}
	if t.db == nil {
		out["mock"] = true
		return done(out)
	}

	now := t.now().UTC()
	conv := t.supportConversation(tc)
	conv.SessionID = sessionID
	conv.Status = models.SupportEscalated
	conv.Priority = urgencyPriority[urgency]
	conv.EscalatedAt = &now
	conv.EscalationReason = args.Reason
	conv.IntegrationContext = datatypes.JSONMap{"ticketId": ticket}

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		if sessionID == "" {
			return nil
		}
		return tx.Model(&models.OnboardingSession{}).Where("id = ?", sessionID).
			Update("needs_human_review", true).Error
	})
	if err != nil {
		return ToolResult{}, err
	}
	t.log.Warn("session escalated",
		zap.String("session_id", sessionID), zap.String("ticket", ticket), zap.String("urgency", urgency))
	out["conversationId"] = conv.ID
	return ToolResult{Data: out, NextAction: "Stay with the partner until a specialist joins"}, nil
}

// supportConversation prefills a conversation from the session.
func (t *Toolbox) supportConversation(tc ToolContext) models.SupportConversation {
	conv := models.SupportConversation{
		PartnerEmail:   tc.Collected.ContactEmail,
		PartnerName:    cmpOr(tc.Collected.ContactName, tc.Collected.BusinessName),
		SessionID:      tc.SessionID,
		OnboardingStep: string(tc.State),
		Topic:          "onboarding",
		TechStack:      tc.Collected.CurrentPlatforms,
	}
	if tc.PartnerID != "" {
		pid := tc.PartnerID
		conv.PartnerID = &pid
	}
	return conv
}

type supportTicketArgs struct {
	Subject     string `json:"subject" validate:"required,max=255"`
	Description string `json:"description" validate:"required,max=5000"`
	Topic       string `json:"topic" validate:"omitempty,oneof=onboarding widget_install api_integration pos_setup troubleshooting"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

func (t *Toolbox) createSupportTicket(ctx context.Context, tc ToolContext, args supportTicketArgs) (ToolResult, error) {
	if t.db == nil {
		return done(map[string]any{"mock": true, "ticketId": TicketID(), "subject": args.Subject})
	}
	conv := t.supportConversation(tc)
	conv.Topic = cmpOr(args.Topic, conv.Topic)
	conv.Status = models.SupportActive
	conv.Priority = cmpOr(args.Priority, "normal")
	conv.Messages = []models.SupportMessage{{
		Role:    models.RoleUser,
		Content: args.Subject + "\n\n" + args.Description,
	}}
	if err := t.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return ToolResult{}, err
	}
	return done(map[string]any{
		"ticketId": conv.ID,
		"subject":  args.Subject,
		"priority": conv.Priority,
		"message":  "Your ticket has been created. Our partner team will follow up by email at " + cmpOr(conv.PartnerEmail, SupportEmail) + ".",
	})
}

type knowledgeSearchArgs struct {
	Query    string `json:"query" validate:"required,max=500"`
	Category string `json:"category" validate:"omitempty,oneof=faq integration troubleshooting scripts pricing process"`
	Limit    int    `json:"limit" validate:"gte=0,lte=20"`
}

func (t *Toolbox) searchKnowledgeBase(_ context.Context, _ ToolContext, args knowledgeSearchArgs) (ToolResult, error) {
	limit := args.Limit
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	hits := SearchKnowledgeIn(args.Query, args.Category, limit)
	out := map[string]any{"query": args.Query, "results": hits, "count": len(hits)}
	if len(hits) == 0 {
		out["message"] = "No matching articles. Offer to connect the partner with support at " + SupportEmail + "."
	}
	return done(out)
}

type handoffArgs struct {
	Reason     string `json:"reason" validate:"required,max=500"`
	Department string `json:"department" validate:"omitempty,oneof=partnerships technical billing"`
}

func (t *Toolbox) handoffToHuman(ctx context.Context, tc ToolContext, args handoffArgs) (ToolResult, error) {
	dept := cmpOr(args.Department, "partnerships")
	out := map[string]any{
		"sessionId":    tc.SessionID,
		"department":   dept,
		"responseTime": EscalationResponseTime,
		"message":      "A specialist from our " + dept + " team has your conversation history and will reach out " + EscalationResponseTime + ".",
	}
	if t.db == nil || tc.SessionID == "" {
		out["mock"] = t.db == nil
		return done(out)
	}
	conv, err := t.latestEscalation(ctx, tc.SessionID)
	if err != nil {
		return ToolResult{}, err
	}
	if conv == nil {
		now := t.now().UTC()
		c := t.supportConversation(tc)
		c.Status = models.SupportEscalated
		c.Priority = "high"
		c.EscalatedAt = &now
		c.EscalatedTo = dept
		c.EscalationReason = args.Reason
		if err := t.db.WithContext(ctx).Create(&c).Error; err != nil {
			return ToolResult{}, err
		}
		out["conversationId"] = c.ID
		return done(out)
	}
	if err := t.db.WithContext(ctx).Model(conv).Update("escalated_to", dept).Error; err != nil {
		return ToolResult{}, err
	}
	out["conversationId"] = conv.ID
	return done(out)
}

// latestEscalation returns the session's newest escalated conversation.
func (t *Toolbox) latestEscalation(ctx context.Context, sessionID string) (*models.SupportConversation, error) {
	var conv models.SupportConversation
	err := t.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, models.SupportEscalated).
		Order("created_at DESC").First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

type contextArgs struct {
	Summary     string   `json:"summary" validate:"required,max=5000"`
	PainPoints  []string `json:"painPoints" validate:"omitempty,dive,max=500"`
	NextActions []string `json:"nextActions" validate:"omitempty,dive,max=500"`
}

func (t *Toolbox) sendContextToAgent(ctx context.Context, tc ToolContext, args contextArgs) (ToolResult, error) {
	out := map[string]any{
		"sessionId": tc.SessionID,
		"summary":   args.Summary,
		"delivered": true,
		"message":   "The specialist has the full context and won't need to ask you the same questions again.",
	}
	if t.db == nil || tc.SessionID == "" {
		return done(out)
	}
	conv, err := t.latestEscalation(ctx, tc.SessionID)
	if err != nil {
		return ToolResult{}, err
	}
	if conv == nil {
		out["delivered"] = false
		out["message"] = "There is no open escalation yet. Escalate first, then share the context."
		return done(out)
	}
	handover := datatypes.JSONMap{}
	for k, v := range conv.IntegrationContext {
		handover[k] = v
	}
	handover["summary"] = args.Summary
	handover["painPoints"] = args.PainPoints
	handover["nextActions"] = args.NextActions
	handover["collectedData"] = tc.Collected
	if err := t.db.WithContext(ctx).Model(conv).Update("integration_context", handover).Error; err != nil {
		return ToolResult{}, err
	}
	out["conversationId"] = conv.ID
	return done(out)
}
