package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/documents"
	"github.com/diewo77/go-partners/internal/ghl"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/metrics"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/validation"
)

// Tool names.
const (
	ToolDetectPlatform       = "detect_platform"
	ToolEstimateRevenue      = "estimate_revenue"
	ToolScrapeWebsite        = "scrape_website"
	ToolLookupBusiness       = "lookup_business"
	ToolValidateEmail        = "validate_email"
	ToolCheckExistingAccount = "check_existing_account"
	ToolCreatePartnerAccount = "create_partner_account"
	ToolSendMagicLink        = "send_magic_link"

	ToolSendDocuments           = "send_documents"
	ToolCheckDocumentStatus     = "check_document_status"
	ToolGenerateDocumentPreview = "generate_document_preview"

	ToolRecommendIntegration    = "recommend_integration"
	ToolCompareIntegrations     = "compare_integrations"
	ToolGenerateWidgetCode      = "generate_widget_code"
	ToolGenerateQRCode          = "generate_qr_code"
	ToolGenerateAPICredentials  = "generate_api_credentials"
	ToolCreateWebhookEndpoint   = "create_webhook_endpoint"
	ToolGetPlatformInstructions = "get_platform_instructions"

	ToolTestWidgetEmbed      = "test_widget_embed"
	ToolTestQRCode           = "test_qr_code"
	ToolTestAPIConnection    = "test_api_connection"
	ToolTestWebhook          = "test_webhook"
	ToolSendTestNotification = "send_test_notification"

	ToolGenerateTrainingMaterials = "generate_training_materials"
	ToolGenerateStaffScripts      = "generate_staff_scripts"
	ToolDownloadMarketingKit      = "download_marketing_kit"
	ToolScheduleTrainingCall      = "schedule_training_call"

	ToolRunGoLiveChecklist      = "run_go_live_checklist"
	ToolActivatePartner         = "activate_partner"
	ToolSendWelcomeEmail        = "send_welcome_email"
	ToolScheduleFollowup        = "schedule_followup"
	ToolLookupPartnerStatus     = "lookup_partner_status"
	ToolGetPartnerDashboardLink = "get_partner_dashboard_link"
	ToolScheduleCheckIn         = "schedule_check_in"

	ToolEscalateToHuman     = "escalate_to_human"
	ToolCreateSupportTicket = "create_support_ticket"
	ToolSearchKnowledgeBase = "search_knowledge_base"
	ToolHandoffToHuman      = "handoff_to_human"
	ToolSendContextToAgent  = "send_context_to_agent"

	ToolUpdateCollectedData = "update_collected_data"
	ToolTransitionState     = "transition_state"
)

// SiteURL is the public site partners and their customers use.
const SiteURL = "https://dailyeventinsurance.com"

// Support contact details quoted to partners.
const (
	SupportEmail = "partners@dailyeventinsurance.com"
	SupportPhone = "1-800-XXX-XXXX"
)

// ToolResult is what a tool hands back to the model. Failures are
// reported in Error instead of failing the turn.
type ToolResult struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	NextAction string `json:"nextAction,omitempty"`

	// Session changes the agent applies once the call succeeds.
	collected  *models.CollectedData
	transition *Transition
}

// ToolContext is the session state a tool runs against.
type ToolContext struct {
	SessionID   string
	PartnerID   string
	UserID      *uint
	State       State
	Collected   models.CollectedData
	Integration models.IntegrationData
}

// Tool is a function the model may call. Parameters is a JSON schema
// object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	run         func(ctx context.Context, tc ToolContext, raw json.RawMessage) (ToolResult, error)
}

// CRM is the part of the GHL automation the tools drive.
type CRM interface {
	InitiateOnboarding(ctx context.Context, p ghl.OnboardingParams) (*ghl.OnboardingResult, error)
	SendOnboardingDocuments(ctx context.Context, contactID, opportunityID, businessName string) (map[string]*ghl.Document, error)
}

// PartnerActivator takes a partner live.
type PartnerActivator interface {
	Activate(ctx context.Context, partnerID string) (*models.Partner, error)
}

// Toolbox holds the tool registry and the dependencies the tools use. Any
// dependency may be nil: database tools then answer with mock data flagged
// "mock", CRM steps are skipped and activation updates the row directly.
type Toolbox struct {
	db        *gorm.DB
	crm       CRM
	activator PartnerActivator
	templates *documents.Service
	http      *http.Client
	log       *zap.Logger
	now       func() time.Time
	tools     map[string]Tool
}

func NewToolbox(db *gorm.DB, crm CRM, activator PartnerActivator, log *zap.Logger) *Toolbox {
	t := &Toolbox{
		db:        db,
		crm:       crm,
		activator: activator,
		templates: documents.NewService(db, log),
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       logging.OrNop(log).Named("onboarding.tools"),
		now:       time.Now,
		tools:     map[string]Tool{},
	}
	t.registerDiscovery()
	t.registerSignup()
	t.registerDocuments()
	t.registerIntegration()
	t.registerVerification()
	t.registerTraining()
	t.registerGoLive()
	t.registerSupport()
	t.registerSession()
	return t
}

func (t *Toolbox) add(name, description string, params map[string]any, run func(context.Context, ToolContext, json.RawMessage) (ToolResult, error)) {
	t.tools[name] = Tool{Name: name, Description: description, Parameters: params, run: run}
}

// Tool returns the tool registered under name.
func (t *Toolbox) Tool(name string) (Tool, bool) {
	tool, ok := t.tools[name]
	return tool, ok
}

// Names returns every registered tool name, sorted.
func (t *Toolbox) Names() []string {
	out := make([]string, 0, len(t.tools))
	for n := range t.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ForState returns the tools the model may call in s.
func (t *Toolbox) ForState(s State) []Tool {
	var out []Tool
	for _, name := range AllowedTools(s) {
		if tool, ok := t.tools[name]; ok {
			out = append(out, tool)
		}
	}
	return out
}

// Execute runs one tool call. It never returns an error: unknown tools,
// tools outside the state's whitelist, bad arguments, failures and panics
// all come back as an unsuccessful ToolResult.
func (t *Toolbox) Execute(ctx context.Context, tc ToolContext, name string, args map[string]any) (res ToolResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("tool panicked", zap.String("tool", name), zap.Any("panic", r))
			res = ToolResult{Error: fmt.Sprintf("tool %s failed unexpectedly", name)}
		}
		metrics.ToolCall(name, res.Success)
		t.log.Debug("tool executed",
			zap.String("tool", name),
			zap.String("session_id", tc.SessionID),
			zap.Bool("success", res.Success),
			zap.Duration("took", time.Since(started)))
	}()

	tool, ok := t.tools[name]
	if !ok {
		return ToolResult{Error: "Unknown tool: " + name}
	}
	if !IsToolAllowed(tc.State, name) {
		return ToolResult{Error: fmt.Sprintf("%s is not available in state %s", name, tc.State)}
	}
	if arg, _ := args["partnerId"].(string); arg != "" && tc.PartnerID != "" && arg != tc.PartnerID {
		t.log.Warn("tool call for another partner rejected",
			zap.String("tool", name), zap.String("session_id", tc.SessionID), zap.String("partner_id", arg))
		return ToolResult{Error: "partnerId does not match this session's partner"}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ToolResult{Error: "invalid arguments: " + err.Error()}
	}
	res, err = tool.run(ctx, tc, raw)
	if err != nil {
		t.log.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		return ToolResult{Error: err.Error()}
	}
	res.Success = true
	return res
}

// decodeArgs unmarshals tool arguments into dst and checks its validate
// tags.
func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if v := validation.Struct(dst); !v.Empty() {
		return fmt.Errorf("invalid arguments: %w", v)
	}
	return nil
}

// handler adapts a typed tool function to the registry signature.
func handler[A any](fn func(ctx context.Context, tc ToolContext, args A) (ToolResult, error)) func(context.Context, ToolContext, json.RawMessage) (ToolResult, error) {
	return func(ctx context.Context, tc ToolContext, raw json.RawMessage) (ToolResult, error) {
		var args A
		if err := decodeArgs(raw, &args); err != nil {
			return ToolResult{}, err
		}
		return fn(ctx, tc, args)
	}
}

// done wraps data in a result; Execute sets Success.
func done(data any) (ToolResult, error) { return ToolResult{Data: data}, nil }

// JSON schema builders for tool parameters.

func object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func num(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func boolean(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

func strList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

// partnerIDFor returns the session's partner, falling back to the
// argument only while the session has none.
func partnerIDFor(tc ToolContext, arg string) string {
	if tc.PartnerID != "" {
		return tc.PartnerID
	}
	return arg
}

// loadPartner fetches a partner. A nil partner without error means there
// is no database.
func (t *Toolbox) loadPartner(ctx context.Context, id string) (*models.Partner, error) {
	if t.db == nil {
		return nil, nil
	}
	if id == "" {
		return nil, errors.New("partnerId is required")
	}
	var p models.Partner
	if err := t.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("partner %s not found", id)
		}
		return nil, err
	}
	return &p, nil
}
