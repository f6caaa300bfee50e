package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/ghl"
	"github.com/diewo77/go-partners/internal/models"
)

// PartnerSignatureHeader carries the HMAC of webhooks sent to partners.
const PartnerSignatureHeader = "X-DEI-Signature"

// maxPageBytes bounds how much of a partner page is read when looking
// for the widget.
const maxPageBytes = 2 << 20

func (t *Toolbox) registerVerification() {
	t.add(ToolTestWidgetEmbed,
		"Test if the widget is properly embedded on the partner's website",
		object(map[string]any{
			"websiteUrl": str("The partner's website URL to test"),
			"partnerId":  str("The partner's ID to verify correct widget"),
		}, "websiteUrl", "partnerId"),
		handler(t.testWidgetEmbed))

	t.add(ToolTestQRCode,
		"Test if the QR code links to the correct insurance page",
		object(map[string]any{
			"qrCodeUrl": str("URL encoded in the QR code"),
			"partnerId": str("The partner's ID to verify"),
		}, "qrCodeUrl", "partnerId"),
		handler(t.testQRCode))

	t.add(ToolTestAPIConnection,
		"Check that the partner's API credentials are active",
		object(map[string]any{
			"partnerId": str("The partner's ID"),
			"apiKey":    str("The API key the partner is using"),
		}, "partnerId"),
		handler(t.testAPIConnection))

	t.add(ToolTestWebhook,
		"Send a test webhook event to verify the endpoint is working",
		object(map[string]any{
			"partnerId": str("The partner's ID"),
			"eventType": str("Type of test event to send"),
		}, "partnerId"),
		handler(t.testWebhook))

	t.add(ToolSendTestNotification,
		"Send a test purchase notification to the partner's contact email",
		object(map[string]any{
			"partnerId": str("The partner's ID"),
			"email":     str("Where to send the notification, defaults to the partner's contact email"),
		}, "partnerId"),
		handler(t.sendTestNotification))
}

type widgetEmbedArgs struct {
	WebsiteURL string `json:"websiteUrl" validate:"required,url,max=500"`
	PartnerID  string `json:"partnerId" validate:"max=64"`
}

// WidgetInstalled reports whether page embeds the widget for partnerID.
func WidgetInstalled(page, partnerID string) bool {
	hasScript := strings.Contains(page, SiteURL+"/widget") || strings.Contains(page, "widget.js")
	return hasScript && strings.Contains(page, partnerID)
}

func (t *Toolbox) fetchPage(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("User-Agent", "DailyEventInsurance-Verifier/1.0")
	resp, err := t.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

func (t *Toolbox) testWidgetEmbed(ctx context.Context, tc ToolContext, args widgetEmbedArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	out := map[string]any{
		"websiteUrl": args.WebsiteURL,
		"partnerId":  pid,
		"checkUrl":   SiteURL + "/verify/widget/" + pid,
	}

	page, code, err := t.fetchPage(ctx, args.WebsiteURL)
	found := err == nil && code < 400 && WidgetInstalled(page, pid)
	result := datatypes.JSONMap{"httpStatus": code, "widgetFound": found}
	switch {
	case err != nil:
		result["error"] = err.Error()
		out["message"] = "We couldn't reach your website. Check the URL and that the site is public, then try again."
	case code >= 400:
		out["message"] = fmt.Sprintf("Your website answered with status %d. Make sure the page is published.", code)
	case found:
		out["message"] = "The widget is installed correctly on your website!"
	default:
		out["message"] = "We couldn't find the widget on that page. Make sure the code is pasted and the page is published."
	}
	out["verified"] = found
	out["status"] = verificationStatus(found)

	t.recordVerification(ctx, tc, pid, models.IntegrationWidget, "http_fetch", args.WebsiteURL, found, result)
	return done(out)
}

type qrTestArgs struct {
	QRCodeURL string `json:"qrCodeUrl" validate:"required,max=1000"`
	PartnerID string `json:"partnerId" validate:"max=64"`
}

func (t *Toolbox) testQRCode(ctx context.Context, tc ToolContext, args qrTestArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	valid := strings.Contains(args.QRCodeURL, pid)
	msg := "QR code URL doesn't match expected format. Please regenerate."
	if valid {
		msg = "QR code is correctly configured and links to your insurance page."
	}
	t.recordVerification(ctx, tc, pid, models.IntegrationQRCode, "url_match", args.QRCodeURL, valid,
		datatypes.JSONMap{"isValid": valid})
	return done(map[string]any{
		"qrCodeUrl":   args.QRCodeURL,
		"partnerId":   pid,
		"isValid":     valid,
		"verified":    valid,
		"expectedUrl": PurchaseURL(pid, ""),
		"message":     msg,
	})
}

type apiTestArgs struct {
	PartnerID string `json:"partnerId" validate:"max=64"`
	APIKey    string `json:"apiKey" validate:"max=200"`
}

func (t *Toolbox) testAPIConnection(ctx context.Context, tc ToolContext, args apiTestArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	if t.db == nil {
		return done(map[string]any{"mock": true, "partnerId": pid, "verified": true, "message": "API connection successful (mock mode)"})
	}
	in, err := t.integration(ctx, pid, models.IntegrationAPI)
	if err != nil {
		return ToolResult{}, err
	}
	verified := in != nil && in.APIKey != "" && (args.APIKey == "" || args.APIKey == in.APIKey)
	msg := "Your API credentials are active. Requests to the API will be accepted."
	switch {
	case in == nil:
		msg = "No API credentials exist yet. Generate them first."
	case !verified:
		msg = "That API key doesn't match the one we issued. Double-check the key in your integration."
	}
	t.recordVerification(ctx, tc, pid, models.IntegrationAPI, "credential_check", "", verified,
		datatypes.JSONMap{"credentialsFound": in != nil})
	return done(map[string]any{"partnerId": pid, "verified": verified, "message": msg})
}

type webhookTestArgs struct {
	PartnerID string `json:"partnerId" validate:"max=64"`
	EventType string `json:"eventType" validate:"max=100"`
}

func (t *Toolbox) testWebhook(ctx context.Context, tc ToolContext, args webhookTestArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	if pid == "" {
		return ToolResult{}, errors.New("partnerId is required")
	}
	event := cmpOr(args.EventType, "test.ping")
	payload := map[string]any{
		"event":     event,
		"timestamp": t.now().UTC(),
		"test":      true,
		"data":      map[string]any{"message": "This is a test webhook"},
	}
	if t.db == nil {
		return done(map[string]any{
			"mock":            true,
			"partnerId":       pid,
			"eventType":       event,
			"sent":            true,
			"message":         fmt.Sprintf("Test %s event has been sent. Check your endpoint for the incoming webhook.", event),
			"expectedPayload": payload,
		})
	}

	in, err := t.integration(ctx, pid, models.IntegrationWebhook)
	if err != nil {
		return ToolResult{}, err
	}
	if in == nil || in.WebhookURL == "" {
		return ToolResult{}, errors.New("no webhook endpoint configured; create one first")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ToolResult{}, err
	}
	code, err := t.postSigned(ctx, in.WebhookURL, in.WebhookSecret, body)
	delivered := err == nil && code >= 200 && code < 300

	result := datatypes.JSONMap{"httpStatus": code, "event": event}
	msg := fmt.Sprintf("Test %s event was delivered and your endpoint answered %d.", event, code)
	switch {
	case err != nil:
		result["error"] = err.Error()
		msg = "We couldn't reach your webhook endpoint: " + err.Error()
	case !delivered:
		msg = fmt.Sprintf("Your endpoint answered with status %d. It must return a 2xx status.", code)
	}
	t.recordVerification(ctx, tc, pid, models.IntegrationWebhook, "test_event", in.WebhookURL, delivered, result)
	return done(map[string]any{
		"partnerId": pid,
		"eventType": event,
		"sent":      err == nil,
		"verified":  delivered,
		"message":   msg,
	})
}

func (t *Toolbox) postSigned(ctx context.Context, url, secret string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(PartnerSignatureHeader, "sha256="+ghl.Sign(secret, body))
	resp, err := t.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

type testNotificationArgs struct {
	PartnerID string `json:"partnerId" validate:"max=64"`
	Email     string `json:"email" validate:"omitempty,email"`
}

func (t *Toolbox) sendTestNotification(ctx context.Context, tc ToolContext, args testNotificationArgs) (ToolResult, error) {
	pid := partnerIDFor(tc, args.PartnerID)
	p, err := t.loadPartner(ctx, pid)
	if err != nil {
		return ToolResult{}, err
	}
	email := args.Email
	if email == "" && p != nil {
		email = p.ContactEmail
	}
	if email == "" {
		email = tc.Collected.ContactEmail
	}
	return done(map[string]any{
		"partnerId": pid,
		"email":     email,
		"sent":      true,
		"mock":      p == nil,
		"message":   "A test purchase notification is on its way to " + email + ".",
	})
}

// integration returns the partner's integration of one type, nil when
// there is none.
func (t *Toolbox) integration(ctx context.Context, partnerID, integrationType string) (*models.PartnerIntegration, error) {
	var in models.PartnerIntegration
	err := t.db.WithContext(ctx).
		Where("partner_id = ? AND integration_type = ?", partnerID, integrationType).
		First(&in).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func verificationStatus(ok bool) string {
	if ok {
		return models.IntegrationVerified
	}
	return models.IntegrationFailed
}

// recordVerification stores the attempt and, when the partner has the
// integration, updates its status. Failures are logged only.
func (t *Toolbox) recordVerification(ctx context.Context, tc ToolContext, partnerID, integrationType, method, testURL string, ok bool, result datatypes.JSONMap) {
	if t.db == nil || tc.SessionID == "" {
		return
	}
	now := t.now().UTC()
	v := models.IntegrationVerification{
		SessionID:       tc.SessionID,
		PartnerID:       partnerID,
		IntegrationType: integrationType,
		Status:          verificationStatus(ok),
		Method:          method,
		TestURL:         testURL,
		TestResult:      result,
	}
	if tc.Integration.Platform != nil {
		v.PlatformSlug = tc.Integration.Platform.Slug
	}
	if ok {
		v.VerifiedAt = &now
	}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&v).Error; err != nil {
			return err
		}
		return tx.Model(&models.PartnerIntegration{}).
			Where("partner_id = ? AND integration_type = ?", partnerID, integrationType).
			Updates(map[string]any{"status": v.Status, "last_tested_at": now, "test_result": result}).Error
	})
	if err != nil {
		t.log.Error("record verification", zap.String("partner_id", partnerID), zap.Error(err))
	}
}
