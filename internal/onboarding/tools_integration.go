package onboarding

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/models"
)

// QRSizes maps the QR size names to pixels.
var QRSizes = map[string]int{"small": 150, "medium": 300, "large": 500}

const (
	defaultWidgetColor = "#14B8A6"
	qrServiceURL       = "https://api.qrserver.com/v1/create-qr-code/"
)

// DefaultWebhookEvents are subscribed when the partner picks none.
var DefaultWebhookEvents = []string{"policy.created", "policy.updated", "commission.earned"}

func (t *Toolbox) registerIntegration() {
	t.add(ToolRecommendIntegration,
		"Recommend the best integration method based on the business type and tech stack",
		object(map[string]any{
			"businessType":   str("Type of business (gym, climbing, rental, etc.)"),
			"platforms":      strList("Platforms/software the business uses"),
			"hasWebsite":     boolean("Whether the business has a website"),
			"technicalLevel": enum("Technical comfort level of the user", "low", "medium", "high"),
		}, "businessType"),
		handler(t.recommendIntegration))

	t.add(ToolCompareIntegrations,
		"Compare the available integration methods side by side",
		object(map[string]any{}),
		handler(t.compareIntegrations))

	t.add(ToolGenerateWidgetCode,
		"Generate embeddable widget code for a partner's website",
		object(map[string]any{
			"partnerId":    str("The partner's ID"),
			"widgetType":   enum("Type of widget to generate", "iframe", "popup", "inline", "floating"),
			"primaryColor": str("Hex color code for branding"),
			"position":     enum("Widget position for floating type", "bottom-right", "bottom-left", "top-right", "top-left"),
		}, "partnerId"),
		handler(t.generateWidgetCode))

	t.add(ToolGenerateQRCode,
		"Generate a QR code for physical or digital display",
		object(map[string]any{
			"partnerId":    str("The partner's ID"),
			"locationId":   str("Optional location ID for multi-location businesses"),
			"size":         enum("QR code size", "small", "medium", "large"),
			"includeFrame": boolean("Include a branded frame around the QR code"),
			"customText":   str("Custom text to display with QR code"),
		}, "partnerId"),
		handler(t.generateQRCode))

	t.add(ToolGenerateAPICredentials,
		"Generate API key and secret for programmatic integration",
		object(map[string]any{
			"partnerId":       str("The partner's ID"),
			"permissionLevel": enum("API permission level", "read", "write", "full"),
		}, "partnerId"),
		handler(t.generateAPICredentials))

	t.add(ToolCreateWebhookEndpoint,
		"Create a webhook endpoint for the partner to receive events",
		object(map[string]any{
			"partnerId":  str("The partner's ID"),
			"webhookUrl": str("The URL to send webhook events to"),
			"events":     strList("Events to subscribe to: policy.created, policy.updated, commission.earned"),
		}, "partnerId", "webhookUrl"),
		handler(t.createWebhookEndpoint))

	t.add(ToolGetPlatformInstructions,
		"Get step-by-step integration instructions for a specific platform",
		object(map[string]any{
			"platformSlug":    str("Platform identifier: mindbody, zen-planner, shopify, woocommerce, square, stripe, generic-widget"),
			"integrationType": enum("Type of integration", "widget", "webhook", "api"),
		}, "platformSlug"),
		handler(t.getPlatformInstructions))
}

// IntegrationOption is one way a partner can sell insurance.
type IntegrationOption struct {
	Method         string `json:"method"`
	Platform       string `json:"platform,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	SetupTime      string `json:"setupTime"`
	TechnicalLevel string `json:"technicalLevel"`
	BestFor        string `json:"bestFor"`
}

var (
	optionQRCode = IntegrationOption{
		Method:         models.IntegrationQRCode,
		Name:           "QR Code",
		Description:    "Physical or digital QR codes that customers scan to purchase insurance",
		SetupTime:      "5 minutes",
		TechnicalLevel: "None",
		BestFor:        "In-person businesses with physical locations",
	}
	optionWidget = IntegrationOption{
		Method:         models.IntegrationWidget,
		Name:           "Website Widget",
		Description:    "Embed a purchase widget directly on your website",
		SetupTime:      "15-30 minutes",
		TechnicalLevel: "Basic (copy-paste)",
		BestFor:        "Businesses with online booking or checkout",
	}
	optionAPI = IntegrationOption{
		Method:         models.IntegrationAPI,
		Name:           "API Integration",
		Description:    "Full API access for custom integrations",
		SetupTime:      "1-2 hours+",
		TechnicalLevel: "Advanced",
		BestFor:        "Custom workflows and automation",
	}
	optionPOS = IntegrationOption{
		Method:         models.IntegrationPOS,
		Name:           "POS Integration",
		Description:    "Offer insurance at the register through your point-of-sale system",
		SetupTime:      "30+ minutes",
		TechnicalLevel: "Medium",
		BestFor:        "Businesses selling day passes at a front desk terminal",
	}
)

type recommendArgs struct {
	BusinessType   string   `json:"businessType" validate:"required,max=100"`
	Platforms      []string `json:"platforms"`
	HasWebsite     *bool    `json:"hasWebsite"`
	TechnicalLevel string   `json:"technicalLevel" validate:"omitempty,oneof=low medium high"`
}

// RecommendIntegrations ranks integration options: QR code always, the
// widget unless the business has no website, one option per known
// platform, and the API for technical users. At most three are returned.
func RecommendIntegrations(hasWebsite bool, platforms []string, technicalLevel string) []IntegrationOption {
	recs := []IntegrationOption{optionQRCode}
	if hasWebsite {
		recs = append(recs, optionWidget)
	}
	for _, slug := range platforms {
		p, found := PlatformBySlug(slug)
		if !found {
			continue
		}
		setup := "15-30 minutes"
		if len(p.SetupSteps) > 3 {
			setup = "30-60 minutes"
		}
		method := "platform"
		if p.Category == "pos" {
			method = models.IntegrationPOS
		}
		recs = append(recs, IntegrationOption{
			Method:         method,
			Platform:       p.Slug,
			Name:           p.Name + " Integration",
			Description:    "Direct integration with your " + p.Name + " system",
			SetupTime:      setup,
			TechnicalLevel: p.TechnicalComplexity,
			BestFor:        p.Name + " users",
		})
	}
	if technicalLevel == "high" {
		recs = append(recs, optionAPI)
	}
	return recs[:min(3, len(recs))]
}

func (t *Toolbox) recommendIntegration(_ context.Context, _ ToolContext, args recommendArgs) (ToolResult, error) {
	hasWebsite := args.HasWebsite == nil || *args.HasWebsite
	recs := RecommendIntegrations(hasWebsite, args.Platforms, args.TechnicalLevel)
	return done(map[string]any{
		"recommendations":       recs,
		"primaryRecommendation": recs[0],
		"message":               "Based on your business type, I recommend starting with " + recs[0].Name + ".",
	})
}

type noArgs struct{}

func (t *Toolbox) compareIntegrations(_ context.Context, _ ToolContext, _ noArgs) (ToolResult, error) {
	return done(map[string]any{
		"options": []IntegrationOption{optionQRCode, optionWidget, optionPOS, optionAPI},
		"message": "Most partners start with QR codes and add the website widget later.",
	})
}

// WidgetID is the DOM id of a partner's inline widget.
func WidgetID(partnerID string) string {
	return "dei_" + partnerID[:min(8, len(partnerID))]
}

type widgetArgs struct {
	PartnerID    string `json:"partnerId" validate:"max=64"`
	WidgetType   string `json:"widgetType" validate:"omitempty,oneof=iframe popup inline floating"`
	PrimaryColor string `json:"primaryColor" validate:"omitempty,hexcolor"`
	Position     string `json:"position" validate:"omitempty,oneof=bottom-right bottom-left top-right top-left"`
}

// WidgetCode renders the embed snippet for a widget type.
func WidgetCode(partnerID, widgetType, color, position string) string {
	switch widgetType {
	case "iframe":
		return fmt.Sprintf(`<!-- Daily Event Insurance Widget -->
<iframe
  src="%s/widget/%s"
  width="100%%"
  height="400"
  frameborder="0"
  title="Daily Event Insurance"
></iframe>`, SiteURL, partnerID)
	case "floating":
		return fmt.Sprintf(`<!-- Daily Event Insurance Widget -->
<script>
  (function(d){
    var s=d.createElement('script');
    s.src='%s/widget.js';
    s.async=true;
    s.onload=function(){
      DEI.init({
        partnerId:'%s',
        position:'%s',
        color:'%s'
      });
    };
    d.head.appendChild(s);
  })(document);
</script>`, SiteURL, partnerID, position, color)
	}
	id := WidgetID(partnerID)
	return fmt.Sprintf(`<!-- Daily Event Insurance Widget -->
<div id="%s"></div>
<script src="%s/widget.js"></script>
<script>
  DEI.render('%s', {
    partnerId: '%s',
    type: '%s',
    color: '%s'
  });
</script>`, id, SiteURL, id, partnerID, widgetType, color)
}

func (t *Toolbox) generateWidgetCode(ctx context.Context, tc ToolContext, args widgetArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	widgetType := cmpOr(args.WidgetType, "floating")
	color := cmpOr(args.PrimaryColor, defaultWidgetColor)
	position := cmpOr(args.Position, "bottom-right")
	code := WidgetCode(pid, widgetType, color, position)

	placement := "Paste it where you want the widget to appear"
	if widgetType == "floating" {
		placement = "Paste it just before the closing </body> tag on your website"
	}
	t.persistIntegration(ctx, pid, models.IntegrationWidget, func(in *models.PartnerIntegration) {
		in.Status = models.IntegrationConfigured
		in.Config = datatypes.JSONMap{"widgetType": widgetType, "color": color, "position": position}
	})
	return done(map[string]any{
		"partnerId":  pid,
		"widgetType": widgetType,
		"code":       code,
		"instructions": []string{
			"Copy the code above",
			placement,
			"Save and publish your changes",
			"The widget should appear immediately",
		},
		"testUrl": SiteURL + "/widget/preview/" + pid,
	})
}

type qrArgs struct {
	PartnerID    string `json:"partnerId" validate:"max=64"`
	LocationID   string `json:"locationId" validate:"max=64"`
	Size         string `json:"size" validate:"omitempty,oneof=small medium large"`
	IncludeFrame bool   `json:"includeFrame"`
	CustomText   string `json:"customText" validate:"max=100"`
}

// PurchaseURL is where a partner's customers buy coverage.
func PurchaseURL(partnerID, locationID string) string {
	u := SiteURL + "/buy/" + url.PathEscape(partnerID)
	if locationID != "" {
		u += "/" + url.PathEscape(locationID)
	}
	return u
}

// QRCodeURL returns an image URL encoding data at size pixels.
func QRCodeURL(data string, size int) string {
	return fmt.Sprintf("%s?size=%dx%d&data=%s", qrServiceURL, size, size, url.QueryEscape(data))
}

func (t *Toolbox) generateQRCode(ctx context.Context, tc ToolContext, args qrArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	size := QRSizes[cmpOr(args.Size, "medium")]
	purchase := PurchaseURL(pid, args.LocationID)
	qr := QRCodeURL(purchase, size)

	t.persistIntegration(ctx, pid, models.IntegrationQRCode, func(in *models.PartnerIntegration) {
		in.Status = models.IntegrationConfigured
		in.Config = datatypes.JSONMap{
			"purchaseUrl":  purchase,
			"qrCodeUrl":    qr,
			"size":         size,
			"includeFrame": args.IncludeFrame,
			"customText":   args.CustomText,
			"locationId":   args.LocationID,
		}
	})
	return done(map[string]any{
		"partnerId":   pid,
		"locationId":  args.LocationID,
		"purchaseUrl": purchase,
		"qrCodeUrl":   qr,
		"size":        size,
		"instructions": []string{
			"Download or print the QR code",
			"Display it at your front desk, check-in area, or near equipment",
			"Customers scan with their phone camera to purchase insurance",
			"You can also share the direct link digitally",
		},
		"downloadLinks": map[string]string{
			"png": qr,
			"svg": strings.Replace(qr, "create-qr-code", "create-qr-code-svg", 1),
		},
	})
}

type apiCredentialArgs struct {
	PartnerID       string `json:"partnerId" validate:"max=64"`
	PermissionLevel string `json:"permissionLevel" validate:"omitempty,oneof=read write full"`
}

// maskSecret keeps the first eight and last four characters.
func maskSecret(s string) string {
	if len(s) <= 12 {
		return strings.Repeat("*", len(s))
	}
	return s[:8] + "..." + s[len(s)-4:]
}

func (t *Toolbox) generateAPICredentials(ctx context.Context, tc ToolContext, args apiCredentialArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	level := cmpOr(args.PermissionLevel, "read")
	apiKey := "dei_live_" + pid[:min(8, len(pid))] + "_" + strings.ToLower(ksuid.New().String())
	secret := "sk_" + ksuid.New().String() + ksuid.New().String()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return ToolResult{}, fmt.Errorf("hash api secret: %w", err)
	}
	t.persistIntegration(ctx, pid, models.IntegrationAPI, func(in *models.PartnerIntegration) {
		in.Status = models.IntegrationConfigured
		in.APIKey = apiKey
		in.Config = datatypes.JSONMap{"permissionLevel": level, "secretHash": string(hash)}
	})
	return done(map[string]any{
		"partnerId":       pid,
		"apiKey":          apiKey,
		"apiSecret":       maskSecret(secret),
		"permissionLevel": level,
		"warning":         "Store your API secret securely. It will only be shown once.",
		"documentation":   SiteURL + "/docs/api",
		"endpoints": map[string]string{
			"base":     "https://api.dailyeventinsurance.com/v1",
			"quotes":   "/quotes",
			"policies": "/policies",
			"webhooks": "/webhooks",
		},
	})
}

type webhookEndpointArgs struct {
	PartnerID  string   `json:"partnerId" validate:"max=64"`
	WebhookURL string   `json:"webhookUrl" validate:"required,url,max=500"`
	Events     []string `json:"events" validate:"omitempty,dive,max=100"`
}

func (t *Toolbox) createWebhookEndpoint(ctx context.Context, tc ToolContext, args webhookEndpointArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	events := args.Events
	if len(events) == 0 {
		events = DefaultWebhookEvents
	}
	secret := "whsec_" + ksuid.New().String()

	t.persistIntegration(ctx, pid, models.IntegrationWebhook, func(in *models.PartnerIntegration) {
		in.Status = models.IntegrationConfigured
		in.WebhookURL = args.WebhookURL
		in.WebhookSecret = secret
		in.Config = datatypes.JSONMap{"events": events}
	})
	return done(map[string]any{
		"partnerId":        pid,
		"webhookUrl":       args.WebhookURL,
		"webhookSecret":    secret,
		"subscribedEvents": events,
		"instructions": []string{
			"Store the webhook secret securely",
			"Use it to verify incoming webhook signatures",
			"Events will be sent as POST requests with JSON body",
		},
		"samplePayload": map[string]any{
			"event":     "policy.created",
			"timestamp": t.now().UTC(),
			"data":      map[string]any{"policyId": "pol_example", "premium": 5.00, "commission": 2.50},
		},
	})
}

type platformInstructionsArgs struct {
	PlatformSlug    string `json:"platformSlug" validate:"required,max=50"`
	IntegrationType string `json:"integrationType" validate:"omitempty,oneof=widget webhook api"`
}

func (t *Toolbox) getPlatformInstructions(_ context.Context, _ ToolContext, args platformInstructionsArgs) (ToolResult, error) {
	p, found := PlatformBySlug(args.PlatformSlug)
	if !found {
		return done(map[string]any{
			"platform":     args.PlatformSlug,
			"found":        false,
			"message":      "No specific integration template found. Recommending generic widget or QR code.",
			"alternatives": []string{models.IntegrationWidget, models.IntegrationQRCode},
		})
	}
	return done(map[string]any{
		"platform":          p.Slug,
		"name":              p.Name,
		"found":             true,
		"steps":             p.SetupSteps,
		"supportedFeatures": p.SupportedFeatures,
		"troubleshooting":   p.Troubleshooting,
	})
}

// persistIntegration upserts the partner's integration of one type. It is
// skipped without a database or for partners that do not exist, such as
// mock accounts.
func (t *Toolbox) persistIntegration(ctx context.Context, partnerID, integrationType string, apply func(*models.PartnerIntegration)) {
	if t.db == nil {
		return
	}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Partner{}).Where("id = ?", partnerID).Count(&n).Error; err != nil || n == 0 {
			return err
		}
		var in models.PartnerIntegration
		err := tx.Where("partner_id = ? AND integration_type = ?", partnerID, integrationType).First(&in).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		in.PartnerID = partnerID
		in.IntegrationType = integrationType
		apply(&in)
		return tx.Save(&in).Error
	})
	if err != nil {
		t.log.Error("persist integration",
			zap.String("partner_id", partnerID), zap.String("type", integrationType), zap.Error(err))
	}
}

// cmpOr returns v, or def when v is empty.
func cmpOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
