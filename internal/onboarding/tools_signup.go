package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/ghl"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/validation"
)

// MagicLinkTTLMinutes is how long a passwordless login link stays valid.
const MagicLinkTTLMinutes = 15

func (t *Toolbox) registerSignup() {
	t.add(ToolValidateEmail,
		"Check that an email address is well formed and whether it already belongs to a partner",
		object(map[string]any{
			"email": str("Email address to validate"),
		}, "email"),
		handler(t.validateEmail))

	t.add(ToolCheckExistingAccount,
		"Check if an account already exists for this email address",
		object(map[string]any{
			"email": str("Email address to check"),
		}, "email"),
		handler(t.checkExistingAccount))

	t.add(ToolCreatePartnerAccount,
		"Create a new partner account with the collected information. Only call after collecting required business info.",
		object(map[string]any{
			"businessName":                 str("Business name"),
			"businessType":                 str("Type of business (gym, climbing, rental, etc.)"),
			"contactName":                  str("Primary contact's full name"),
			"contactEmail":                 str("Primary contact's email"),
			"contactPhone":                 str("Primary contact's phone"),
			"websiteUrl":                   str("Business website"),
			"estimatedMonthlyParticipants": num("Estimated monthly participants"),
		}, "businessName", "businessType", "contactName", "contactEmail"),
		handler(t.createPartnerAccount))

	t.add(ToolSendMagicLink,
		"Send a passwordless login link to the user's email",
		object(map[string]any{
			"email": str("Email address to send the magic link to"),
		}, "email"),
		handler(t.sendMagicLink))
}

type emailArgs struct {
	Email string `json:"email" validate:"required,max=255"`
}

// findPartnerByEmail returns nil when no partner uses email.
func (t *Toolbox) findPartnerByEmail(ctx context.Context, email string) (*models.Partner, error) {
	var p models.Partner
	err := t.db.WithContext(ctx).
		Where("LOWER(contact_email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *Toolbox) validateEmail(ctx context.Context, _ ToolContext, args emailArgs) (ToolResult, error) {
	email := strings.TrimSpace(args.Email)
	if err := validation.Validator().Var(email, "email"); err != nil {
		return done(map[string]any{
			"email":   email,
			"valid":   false,
			"message": "That doesn't look like a valid email address. Could you double-check it?",
		})
	}
	out := map[string]any{"email": email, "valid": true}
	if t.db == nil {
		out["mock"] = true
		out["inUse"] = false
		return done(out)
	}
	p, err := t.findPartnerByEmail(ctx, email)
	if err != nil {
		return ToolResult{}, err
	}
	out["inUse"] = p != nil
	return done(out)
}

func (t *Toolbox) checkExistingAccount(ctx context.Context, _ ToolContext, args emailArgs) (ToolResult, error) {
	if t.db == nil {
		return done(map[string]any{"exists": false, "mock": true})
	}
	p, err := t.findPartnerByEmail(ctx, args.Email)
	if err != nil {
		// A failed lookup must not stop signup; treat it as a new account.
		t.log.Warn("existing account lookup failed", zap.Error(err))
		return done(map[string]any{"exists": false})
	}
	if p == nil {
		return done(map[string]any{"exists": false})
	}
	return done(map[string]any{
		"exists":       true,
		"partnerId":    p.ID,
		"status":       p.Status,
		"businessName": p.BusinessName,
	})
}

type createPartnerArgs struct {
	BusinessName                 string `json:"businessName" validate:"required,max=255"`
	BusinessType                 string `json:"businessType" validate:"required,max=100"`
	ContactName                  string `json:"contactName" validate:"required,max=255"`
	ContactEmail                 string `json:"contactEmail" validate:"required,email,max=255"`
	ContactPhone                 string `json:"contactPhone" validate:"max=50"`
	WebsiteURL                   string `json:"websiteUrl" validate:"omitempty,url,max=500"`
	EstimatedMonthlyParticipants int    `json:"estimatedMonthlyParticipants" validate:"gte=0"`
}

func (t *Toolbox) createPartnerAccount(ctx context.Context, tc ToolContext, args createPartnerArgs) (ToolResult, error) {
	if t.db == nil {
		return done(map[string]any{
			"mock":      true,
			"partnerId": "mock_" + ksuid.New().String(),
			"message":   "Partner account created (mock mode)",
		})
	}

	existing, err := t.findPartnerByEmail(ctx, args.ContactEmail)
	if err != nil {
		return ToolResult{}, err
	}
	if existing != nil {
		return ToolResult{
			Data: map[string]any{
				"partnerId":     existing.ID,
				"businessName":  existing.BusinessName,
				"status":        existing.Status,
				"alreadyExists": true,
				"message":       "An account already exists for this email, so we'll continue with it.",
			},
			NextAction: "Proceed to document signing",
		}, nil
	}

	p := &models.Partner{
		UserID:                       tc.UserID,
		BusinessName:                 strings.TrimSpace(args.BusinessName),
		BusinessType:                 args.BusinessType,
		ContactName:                  strings.TrimSpace(args.ContactName),
		ContactEmail:                 strings.ToLower(strings.TrimSpace(args.ContactEmail)),
		ContactPhone:                 args.ContactPhone,
		WebsiteURL:                   args.WebsiteURL,
		EstimatedMonthlyParticipants: args.EstimatedMonthlyParticipants,
		Status:                       models.PartnerPending,
		DocumentsStatus:              models.DocumentsNotStarted,
	}
	if err := t.db.WithContext(ctx).Create(p).Error; err != nil {
		return ToolResult{}, err
	}
	t.log.Info("partner account created", zap.String("partner_id", p.ID), zap.String("session_id", tc.SessionID))

	if t.crm != nil {
		t.startCRMOnboarding(ctx, p)
	}

	return ToolResult{
		Data: map[string]any{
			"partnerId":    p.ID,
			"businessName": p.BusinessName,
			"status":       p.Status,
			"message":      "Partner account created successfully!",
		},
		NextAction: "Proceed to document signing",
	}, nil
}

// startCRMOnboarding mirrors the new partner into the CRM and records the
// documents it sent. CRM failures are logged, never returned.
func (t *Toolbox) startCRMOnboarding(ctx context.Context, p *models.Partner) {
	first, last := ghl.SplitName(p.ContactName)
	res, err := t.crm.InitiateOnboarding(ctx, ghl.OnboardingParams{
		PartnerID:    p.ID,
		Email:        p.ContactEmail,
		FirstName:    first,
		LastName:     last,
		Phone:        p.ContactPhone,
		BusinessName: p.BusinessName,
		BusinessType: p.BusinessType,
	})
	if err != nil {
		t.log.Error("crm onboarding failed", zap.String("partner_id", p.ID), zap.Error(err))
		return
	}
	if err := t.recordCRMDocuments(ctx, p, res.Contact, res.Opportunity, res.Documents); err != nil {
		t.log.Error("record crm onboarding", zap.String("partner_id", p.ID), zap.Error(err))
	}
}

// recordCRMDocuments stores the CRM ids on the partner and marks the sent
// documents.
func (t *Toolbox) recordCRMDocuments(ctx context.Context, p *models.Partner, contact *ghl.Contact, opp *ghl.Opportunity, docs map[string]*ghl.Document) error {
	now := t.now().UTC()
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{}
		if contact != nil {
			updates["ghl_contact_id"] = contact.ID
		}
		if opp != nil {
			updates["ghl_opportunity_id"] = opp.ID
		}
		if len(docs) > 0 && !p.AllDocumentsSigned() {
			updates["documents_status"] = models.DocumentsPending
			updates["status"] = models.PartnerDocumentsPending
		}
		if len(updates) > 0 {
			if err := tx.Model(p).Updates(updates).Error; err != nil {
				return err
			}
		}
		for docType, d := range docs {
			if err := upsertSentDocument(tx, p.ID, docType, d.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *Toolbox) sendMagicLink(_ context.Context, _ ToolContext, args emailArgs) (ToolResult, error) {
	return done(map[string]any{
		"email":   args.Email,
		"sent":    true,
		"message": fmt.Sprintf("A login link has been sent to %s. It will expire in %d minutes.", args.Email, MagicLinkTTLMinutes),
	})
}
