package onboarding

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-partners/internal/ghl"
	"github.com/diewo77/go-partners/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

var testNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func newTestToolbox(db *gorm.DB, crm CRM, activator PartnerActivator) *Toolbox {
	tb := NewToolbox(db, crm, activator, nil)
	tb.now = func() time.Time { return testNow }
	return tb
}

func seedPartner(t *testing.T, db *gorm.DB) *models.Partner {
	t.Helper()
	p := &models.Partner{
		BusinessName:    "Peak Climbing",
		BusinessType:    "climbing",
		ContactName:     "Dana Reyes",
		ContactEmail:    "dana@peak.example",
		Status:          models.PartnerPending,
		DocumentsStatus: models.DocumentsNotStarted,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// payload returns a result's payload as a generic map.
func payload(t *testing.T, res ToolResult) map[string]any {
	t.Helper()
	require.True(t, res.Success, res.Error)
	raw, err := json.Marshal(res.Data)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestExecuteRejectsUnknownAndDisallowedTools(t *testing.T) {
	tb := newTestToolbox(nil, nil, nil)
	ctx := context.Background()

	res := tb.Execute(ctx, ToolContext{State: StateWelcome}, "launch_rockets", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Unknown tool: launch_rockets", res.Error)

	res = tb.Execute(ctx, ToolContext{State: StateWelcome}, ToolActivatePartner, map[string]any{"partnerId": "p1"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not available in state welcome")
}

func TestExecuteValidatesArguments(t *testing.T) {
	tb := newTestToolbox(nil, nil, nil)
	res := tb.Execute(context.Background(), ToolContext{State: StateBusinessDiscovery}, ToolEstimateRevenue,
		map[string]any{"monthlyParticipants": -4})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid arguments")
}

func TestEstimateRevenue(t *testing.T) {
	est := EstimateRevenue(1000, 0, 0)
	assert.Equal(t, 250, est.EstimatedOptIns)
	assert.InDelta(t, 625.0, est.MonthlyCommission, 0.001)
	assert.InDelta(t, 7500.0, est.YearlyCommission, 0.001)
	assert.Contains(t, est.Explanation, "$625.00/month")

	tb := newTestToolbox(nil, nil, nil)
	res := tb.Execute(context.Background(), ToolContext{State: StateBusinessDiscovery}, ToolEstimateRevenue,
		map[string]any{"monthlyParticipants": 400, "optInRate": 0.1, "avgPremium": 8})
	got := payload(t, res)
	assert.EqualValues(t, 40, got["estimatedOptIns"])
	assert.EqualValues(t, 160, got["monthlyCommission"])
}

func TestRecommendIntegrations(t *testing.T) {
	recs := RecommendIntegrations(true, []string{"mindbody", "unknown"}, "high")
	require.Len(t, recs, 3)
	assert.Equal(t, models.IntegrationQRCode, recs[0].Method)
	assert.Equal(t, models.IntegrationWidget, recs[1].Method)
	assert.Equal(t, "mindbody", recs[2].Platform)

	recs = RecommendIntegrations(false, nil, "high")
	require.Len(t, recs, 2)
	assert.Equal(t, models.IntegrationAPI, recs[1].Method)
}

func TestWidgetCode(t *testing.T) {
	code := WidgetCode("3f2a9c1e-aaaa", "inline", "#FF0000", "bottom-left")
	assert.Contains(t, code, `<div id="dei_3f2a9c1e"></div>`)
	assert.Contains(t, code, "partnerId: '3f2a9c1e-aaaa'")

	code = WidgetCode("p1", "floating", defaultWidgetColor, "bottom-right")
	assert.Contains(t, code, "position:'bottom-right'")
	assert.Contains(t, code, SiteURL+"/widget.js")

	assert.Contains(t, WidgetCode("p1", "iframe", "", ""), `src="`+SiteURL+`/widget/p1"`)
	assert.Equal(t, "dei_short", WidgetID("short"))
}

func TestQRCodeURLs(t *testing.T) {
	assert.Equal(t, SiteURL+"/buy/p1", PurchaseURL("p1", ""))
	assert.Equal(t, SiteURL+"/buy/p1/loc-2", PurchaseURL("p1", "loc-2"))
	u := QRCodeURL(PurchaseURL("p1", ""), 300)
	assert.True(t, strings.HasPrefix(u, qrServiceURL+"?size=300x300&data="))
	assert.Contains(t, u, "https%3A%2F%2Fdailyeventinsurance.com%2Fbuy%2Fp1")
}

func TestGenerateQRCodePersistsIntegration(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db)
	tb := newTestToolbox(db, nil, nil)

	res := tb.Execute(context.Background(), ToolContext{State: StateIntegrationSetup, PartnerID: p.ID}, ToolGenerateQRCode,
		map[string]any{"size": "large"})
	got := payload(t, res)
	assert.EqualValues(t, 500, got["size"])
	assert.Contains(t, got["qrCodeUrl"], "size=500x500")

	var in models.PartnerIntegration
	require.NoError(t, db.First(&in, "partner_id = ?", p.ID).Error)
	assert.Equal(t, models.IntegrationQRCode, in.IntegrationType)
	assert.Equal(t, models.IntegrationConfigured, in.Status)

	// regenerating updates the same row
	tb.Execute(context.Background(), ToolContext{State: StateIntegrationSetup, PartnerID: p.ID}, ToolGenerateQRCode, nil)
	var n int64
	db.Model(&models.PartnerIntegration{}).Where("partner_id = ?", p.ID).Count(&n)
	assert.EqualValues(t, 1, n)
}

func TestGenerateAPICredentialsMasksSecret(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db)
	tb := newTestToolbox(db, nil, nil)

	got := payload(t, tb.Execute(context.Background(), ToolContext{State: StateIntegrationSetup}, ToolGenerateAPICredentials,
		map[string]any{"partnerId": p.ID, "permissionLevel": "write"}))
	key := got["apiKey"].(string)
	assert.True(t, strings.HasPrefix(key, "dei_live_"+p.ID[:8]+"_"))
	assert.Contains(t, got["apiSecret"], "...")

	var in models.PartnerIntegration
	require.NoError(t, db.First(&in, "partner_id = ? AND integration_type = ?", p.ID, models.IntegrationAPI).Error)
	assert.Equal(t, key, in.APIKey)
	assert.Equal(t, "write", in.Config["permissionLevel"])
	assert.NotEmpty(t, in.Config["secretHash"])
}

func TestMockPartnerSkipsPersistence(t *testing.T) {
	db := newTestDB(t)
	tb := newTestToolbox(db, nil, nil)
	res := tb.Execute(context.Background(), ToolContext{State: StateIntegrationSetup}, ToolGenerateWidgetCode,
		map[string]any{"partnerId": "mock_123"})
	assert.True(t, res.Success)
	var n int64
	db.Model(&models.PartnerIntegration{}).Count(&n)
	assert.Zero(t, n)
}

type fakeCRM struct {
	onboarded []ghl.OnboardingParams
}

func (f *fakeCRM) InitiateOnboarding(_ context.Context, p ghl.OnboardingParams) (*ghl.OnboardingResult, error) {
	f.onboarded = append(f.onboarded, p)
	return &ghl.OnboardingResult{
		Contact:     &ghl.Contact{ID: "c-1"},
		Opportunity: &ghl.Opportunity{ID: "o-1"},
		Documents: map[string]*ghl.Document{
			models.DocPartnerAgreement: {ID: "d-1"},
			models.DocW9:               {ID: "d-2"},
		},
	}, nil
}

func (f *fakeCRM) SendOnboardingDocuments(context.Context, string, string, string) (map[string]*ghl.Document, error) {
	return map[string]*ghl.Document{models.DocDirectDeposit: {ID: "d-3"}}, nil
}

func TestCreatePartnerAccount(t *testing.T) {
	db := newTestDB(t)
	crm := &fakeCRM{}
	tb := newTestToolbox(db, crm, nil)
	args := map[string]any{
		"businessName": "Peak Climbing",
		"businessType": "climbing",
		"contactName":  "Dana Reyes",
		"contactEmail": "Dana@Peak.example",
	}
	tc := ToolContext{State: StateAccountCreation, SessionID: "s-1"}

	got := payload(t, tb.Execute(context.Background(), tc, ToolCreatePartnerAccount, args))
	pid := got["partnerId"].(string)

	var p models.Partner
	require.NoError(t, db.First(&p, "id = ?", pid).Error)
	assert.Equal(t, "dana@peak.example", p.ContactEmail)
	assert.Equal(t, "c-1", p.GHLContactID)
	assert.Equal(t, "o-1", p.GHLOpportunityID)
	assert.Equal(t, models.PartnerDocumentsPending, p.Status)
	require.Len(t, crm.onboarded, 1)
	assert.Equal(t, "Dana", crm.onboarded[0].FirstName)

	var docs []models.PartnerDocument
	require.NoError(t, db.Where("partner_id = ?", pid).Find(&docs).Error)
	assert.Len(t, docs, 2)

	again := payload(t, tb.Execute(context.Background(), tc, ToolCreatePartnerAccount, args))
	assert.Equal(t, pid, again["partnerId"])
	assert.Equal(t, true, again["alreadyExists"])
}

func TestCreatePartnerAccountMockMode(t *testing.T) {
	tb := newTestToolbox(nil, nil, nil)
	got := payload(t, tb.Execute(context.Background(), ToolContext{State: StateAccountCreation}, ToolCreatePartnerAccount,
		map[string]any{"businessName": "B", "businessType": "gym", "contactName": "C", "contactEmail": "c@b.example"}))
	assert.Equal(t, true, got["mock"])
	assert.True(t, strings.HasPrefix(got["partnerId"].(string), "mock_"))
}

func TestCheckDocumentStatus(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db)
	require.NoError(t, db.Create(&models.PartnerDocument{PartnerID: p.ID, DocumentType: models.DocW9, Status: models.DocumentSigned}).Error)
	tb := newTestToolbox(db, nil, nil)

	got := payload(t, tb.Execute(context.Background(), ToolContext{State: StateDocumentSigning, PartnerID: p.ID}, ToolCheckDocumentStatus, nil))
	docs := got["documents"].(map[string]any)
	assert.Equal(t, models.DocumentSigned, docs[models.DocW9])
	assert.Equal(t, "not_sent", docs[models.DocPartnerAgreement])
	assert.Equal(t, false, got["allComplete"])
}

func TestSendDocumentsWithoutCRMMarksSent(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db)
	tb := newTestToolbox(db, nil, nil)

	res := tb.Execute(context.Background(), ToolContext{State: StateDocumentSigning, PartnerID: p.ID}, ToolSendDocuments, nil)
	require.True(t, res.Success, res.Error)

	var docs []models.PartnerDocument
	require.NoError(t, db.Where("partner_id = ?", p.ID).Find(&docs).Error)
	require.Len(t, docs, 3)
	for _, d := range docs {
		assert.Equal(t, models.DocumentSent, d.Status)
	}
	require.NoError(t, db.First(p, "id = ?", p.ID).Error)
	assert.Equal(t, models.DocumentsPending, p.DocumentsStatus)
}

func TestUpdateCollectedData(t *testing.T) {
	tb := newTestToolbox(nil, nil, nil)
	tc := ToolContext{
		State:     StateBusinessInfoCollection,
		Collected: models.CollectedData{BusinessName: "Peak", CurrentPlatforms: []string{"mindbody"}},
	}
	res := tb.Execute(context.Background(), tc, ToolUpdateCollectedData, map[string]any{
		"data": map[string]any{
			"contactName":      "Dana",
			"businessName":     "Peak",
			"currentPlatforms": []string{"mindbody", "square"},
		},
	})
	got := payload(t, res)
	assert.ElementsMatch(t, []any{"contactName", "currentPlatforms"}, got["updatedFields"])
	assert.Equal(t, []any{"contactEmail"}, got["missingFields"])
	require.NotNil(t, res.collected)
	assert.Equal(t, "Dana", res.collected.ContactName)
	assert.Equal(t, []string{"mindbody", "square"}, res.collected.CurrentPlatforms)
	// the caller's data is untouched
	assert.Equal(t, []string{"mindbody"}, tc.Collected.CurrentPlatforms)
}

func TestTransitionStateGuard(t *testing.T) {
	tb := newTestToolbox(nil, nil, nil)
	tc := ToolContext{State: StateBusinessInfoCollection, Collected: models.CollectedData{BusinessName: "Peak"}}

	res := tb.Execute(context.Background(), tc, ToolTransitionState, map[string]any{"targetState": "account_creation"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "still missing contactName, contactEmail")

	tc.Collected = fullContact
	res = tb.Execute(context.Background(), tc, ToolTransitionState, map[string]any{"targetState": "account_creation", "reason": "ready"})
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.transition)
	assert.Equal(t, StateAccountCreation, res.transition.To)
	assert.Equal(t, testNow, res.transition.At)

	res = tb.Execute(context.Background(), tc, ToolTransitionState, map[string]any{"targetState": "moon"})
	assert.False(t, res.Success)
}

func TestTestWebhookSignsPayload(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(PartnerSignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	db := newTestDB(t)
	p := seedPartner(t, db)
	tb := newTestToolbox(db, nil, nil)
	ctx := context.Background()
	tc := ToolContext{State: StateIntegrationSetup, PartnerID: p.ID, SessionID: "s-1"}

	created := payload(t, tb.Execute(ctx, tc, ToolCreateWebhookEndpoint, map[string]any{"webhookUrl": srv.URL}))
	secret := created["webhookSecret"].(string)

	tc.State = StateIntegrationVerification
	got := payload(t, tb.Execute(ctx, tc, ToolTestWebhook, nil))
	assert.Equal(t, true, got["verified"])
	assert.NoError(t, ghl.VerifySignature(secret, gotBody, gotSig))
	assert.Contains(t, string(gotBody), `"event":"test.ping"`)

	var v models.IntegrationVerification
	require.NoError(t, db.First(&v, "session_id = ?", "s-1").Error)
	assert.Equal(t, models.IntegrationVerified, v.Status)

	var in models.PartnerIntegration
	require.NoError(t, db.First(&in, "partner_id = ? AND integration_type = ?", p.ID, models.IntegrationWebhook).Error)
	assert.Equal(t, models.IntegrationVerified, in.Status)
}

func TestTestWidgetEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/with-widget" {
			_, _ = io.WriteString(w, WidgetCode("p-123", "floating", defaultWidgetColor, "bottom-right"))
			return
		}
		_, _ = io.WriteString(w, "<html>nothing here</html>")
	}))
	defer srv.Close()

	tb := newTestToolbox(nil, nil, nil)
	tc := ToolContext{State: StateIntegrationVerification, PartnerID: "p-123"}
	got := payload(t, tb.Execute(context.Background(), tc, ToolTestWidgetEmbed, map[string]any{"websiteUrl": srv.URL + "/with-widget"}))
	assert.Equal(t, true, got["verified"])

	got = payload(t, tb.Execute(context.Background(), tc, ToolTestWidgetEmbed, map[string]any{"websiteUrl": srv.URL + "/plain"}))
	assert.Equal(t, false, got["verified"])
}

func TestTestQRCode(t *testing.T) {
	tb := newTestToolbox(nil, nil, nil)
	tc := ToolContext{State: StateIntegrationVerification}
	got := payload(t, tb.Execute(context.Background(), tc, ToolTestQRCode, map[string]any{"qrCodeUrl": PurchaseURL("p9", ""), "partnerId": "p9"}))
	assert.Equal(t, true, got["isValid"])
	got = payload(t, tb.Execute(context.Background(), tc, ToolTestQRCode, map[string]any{"qrCodeUrl": SiteURL, "partnerId": "p9"}))
	assert.Equal(t, false, got["isValid"])
}

func TestEscalateToHumanOpensConversation(t *testing.T) {
	db := newTestDB(t)
	sess := models.OnboardingSession{CurrentState: string(StateIntegrationSetup)}
	require.NoError(t, db.Create(&sess).Error)
	tb := newTestToolbox(db, nil, nil)

	tc := ToolContext{SessionID: sess.ID, State: StateIntegrationSetup, Collected: fullContact}
	got := payload(t, tb.Execute(context.Background(), tc, ToolEscalateToHuman, map[string]any{"reason": "widget broken", "urgency": "high"}))
	assert.True(t, strings.HasPrefix(got["ticketId"].(string), "ESC-"))

	var conv models.SupportConversation
	require.NoError(t, db.First(&conv, "session_id = ?", sess.ID).Error)
	assert.Equal(t, models.SupportEscalated, conv.Status)
	assert.Equal(t, "urgent", conv.Priority)
	assert.Equal(t, "dana@peak.example", conv.PartnerEmail)
	assert.Equal(t, string(StateIntegrationSetup), conv.OnboardingStep)

	require.NoError(t, db.First(&sess, "id = ?", sess.ID).Error)
	assert.True(t, sess.NeedsHumanReview)

	tc.State = StateHumanHandoff
	got = payload(t, tb.Execute(context.Background(), tc, ToolSendContextToAgent, map[string]any{"summary": "stuck on widget"}))
	assert.Equal(t, true, got["delivered"])
	require.NoError(t, db.First(&conv, "id = ?", conv.ID).Error)
	assert.Equal(t, "stuck on widget", conv.IntegrationContext["summary"])
}

func TestSearchKnowledgeBaseTool(t *testing.T) {
	tb := newTestToolbox(nil, nil, nil)
	got := payload(t, tb.Execute(context.Background(), ToolContext{State: StateWelcome}, ToolSearchKnowledgeBase,
		map[string]any{"query": "commission", "category": KnowledgeFAQ, "limit": 1}))
	assert.EqualValues(t, 1, got["count"])
}

type fakeActivator struct{ ids []string }

func (f *fakeActivator) Activate(_ context.Context, id string) (*models.Partner, error) {
	f.ids = append(f.ids, id)
	return &models.Partner{Status: models.PartnerActive}, nil
}

func TestActivatePartner(t *testing.T) {
	act := &fakeActivator{}
	tb := newTestToolbox(nil, nil, act)
	got := payload(t, tb.Execute(context.Background(), ToolContext{State: StateGoLiveChecklist, PartnerID: "p1"}, ToolActivatePartner, nil))
	assert.Equal(t, models.PartnerActive, got["status"])
	assert.Equal(t, []string{"p1"}, act.ids)

	db := newTestDB(t)
	p := seedPartner(t, db)
	tb = newTestToolbox(db, nil, nil)
	res := tb.Execute(context.Background(), ToolContext{State: StateGoLiveChecklist, PartnerID: p.ID}, ToolActivatePartner, nil)
	assert.False(t, res.Success)
	require.NoError(t, db.First(p, "id = ?", p.ID).Error)
	assert.Equal(t, models.PartnerPending, p.Status)

	require.NoError(t, db.Model(p).Update("documents_status", models.DocumentsCompleted).Error)
	payload(t, tb.Execute(context.Background(), ToolContext{State: StateGoLiveChecklist, PartnerID: p.ID}, ToolActivatePartner, nil))
	require.NoError(t, db.First(p, "id = ?", p.ID).Error)
	assert.Equal(t, models.PartnerActive, p.Status)
	require.NotNil(t, p.ApprovedAt)

	res = tb.Execute(context.Background(), ToolContext{State: StateGoLiveChecklist, PartnerID: "missing"}, ToolActivatePartner, nil)
	assert.False(t, res.Success)
}

func TestToolsStayOnSessionPartner(t *testing.T) {
	db := newTestDB(t)
	own := seedPartner(t, db)
	other := &models.Partner{BusinessName: "Harbor Kayaks", ContactEmail: "hello@harbor.example",
		Status: models.PartnerPending, DocumentsStatus: models.DocumentsCompleted}
	require.NoError(t, db.Create(other).Error)

	act := &fakeActivator{}
	tb := newTestToolbox(db, nil, act)
	res := tb.Execute(context.Background(), ToolContext{State: StateGoLiveChecklist, PartnerID: own.ID},
		ToolActivatePartner, map[string]any{"partnerId": other.ID})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "does not match")
	assert.Empty(t, act.ids)

	var stored models.Partner
	require.NoError(t, db.First(&stored, "id = ?", other.ID).Error)
	assert.Equal(t, models.PartnerPending, stored.Status)

	// The session's own id, passed explicitly, is accepted.
	payload(t, tb.Execute(context.Background(), ToolContext{State: StateGoLiveChecklist, PartnerID: own.ID},
		ToolActivatePartner, map[string]any{"partnerId": own.ID}))
	assert.Equal(t, []string{own.ID}, act.ids)
}

func TestGoLiveChecklist(t *testing.T) {
	db := newTestDB(t)
	p := seedPartner(t, db)
	require.NoError(t, db.Model(p).Updates(map[string]any{"agreement_signed": true, "w9_signed": true, "direct_deposit_signed": true}).Error)
	require.NoError(t, db.Create(&models.PartnerIntegration{PartnerID: p.ID, IntegrationType: models.IntegrationQRCode, Status: models.IntegrationVerified}).Error)
	tb := newTestToolbox(db, nil, nil)

	got := payload(t, tb.Execute(context.Background(), ToolContext{State: StateGoLiveChecklist, PartnerID: p.ID}, ToolRunGoLiveChecklist, nil))
	assert.Equal(t, true, got["allComplete"])

	items := []ChecklistItem{{Item: "a", Status: CheckComplete}, {Item: "b", Status: CheckOptional}}
	assert.True(t, ChecklistComplete(items))
	assert.False(t, ChecklistComplete(append(items, ChecklistItem{Item: "c", Status: CheckPending})))
}

func TestScriptsFor(t *testing.T) {
	scripts := ScriptsFor(nil)
	require.Len(t, scripts, 2)
	assert.Equal(t, "checkout", scripts[1].Scenario)

	scripts = ScriptsFor([]string{"karaoke"})
	assert.Equal(t, StaffScripts["checkin"], scripts[0].Script)
}

func TestExecuteRecoversPanics(t *testing.T) {
	tb := newTestToolbox(nil, nil, nil)
	// transition_state is allowed in every state
	tb.add(ToolTransitionState, "", object(nil), func(context.Context, ToolContext, json.RawMessage) (ToolResult, error) {
		panic("boom")
	})
	res := tb.Execute(context.Background(), ToolContext{State: StateWelcome}, ToolTransitionState, nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "failed unexpectedly")
}
