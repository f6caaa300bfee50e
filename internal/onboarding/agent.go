package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/metrics"
	"github.com/diewo77/go-partners/internal/models"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("onboarding: session not found")

// historyLimit is how many transcript messages are sent to the model.
const historyLimit = 20

// Canned replies.
const (
	ErrorReply      = "I apologize, but I encountered an error. Let me connect you with our support team at " + SupportEmail + "."
	EscalationReply = "I understand you'd like to speak with someone from our team. I'm connecting you with a specialist who can help. They'll reach out " +
		EscalationResponseTime + ". In the meantime, you can also email " + SupportEmail + " or call us at " + SupportPhone + "."
)

// Turn outcomes for the agent_turns metric.
const (
	outcomeOK        = "ok"
	outcomeEscalated = "escalated"
	outcomeError     = "error"
)

type taskDef struct {
	key      string
	title    string
	category Category
	// doneAt is the state whose arrival completes the task.
	doneAt State
}

// standardTasks is the checklist every new session starts with.
var standardTasks = []taskDef{
	{"business_info", "Collect Business Information", CategorySignup, StateAccountCreation},
	{"create_account", "Create Partner Account", CategorySignup, StateDocumentSigning},
	{"sign_agreement", "Sign Partnership Agreement", CategoryDocuments, StateIntegrationSelection},
	{"sign_w9", "Complete W9 Form", CategoryDocuments, StateIntegrationSelection},
	{"setup_payout", "Set Up Direct Deposit", CategoryDocuments, StateIntegrationSelection},
	{"choose_integration", "Choose Integration Method", CategoryIntegration, StateIntegrationSetup},
	{"setup_integration", "Set Up Integration", CategoryIntegration, StateIntegrationVerification},
	{"verify_integration", "Verify Integration Works", CategoryIntegration, StateTrainingMaterials},
	{"staff_training", "Review Staff Training", CategoryTraining, StateGoLiveChecklist},
	{"go_live", "Go Live!", CategoryCompletion, StateComplete},
}

// Agent runs onboarding conversations. Without a database sessions live
// for a single turn only.
type Agent struct {
	db    *gorm.DB
	llm   LLM
	tools *Toolbox
	log   *zap.Logger
	now   func() time.Time
}

func NewAgent(db *gorm.DB, llm LLM, tools *Toolbox, log *zap.Logger) *Agent {
	if llm == nil {
		llm = FallbackLLM{}
	}
	return &Agent{
		db:    db,
		llm:   llm,
		tools: tools,
		log:   logging.OrNop(log).Named("onboarding.agent"),
		now:   time.Now,
	}
}

// Input is one user message.
type Input struct {
	SessionID string
	PartnerID string
	UserID    *uint
	Message   string
}

// Reply is the agent's answer to one message.
type Reply struct {
	SessionID        string   `json:"sessionId"`
	Message          string   `json:"message"`
	State            State    `json:"state"`
	Progress         int      `json:"progress"`
	ToolsUsed        []string `json:"toolsUsed"`
	SuggestedPrompts []string `json:"nextSuggestedActions,omitempty"`
	CodeSnippet      string   `json:"codeSnippet,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// turn is the mutable state of one ProcessMessage call.
type turn struct {
	sess        *models.OnboardingSession
	collected   models.CollectedData
	integration models.IntegrationData
	agentCtx    models.AgentContext
	toolsUsed   []string
	records     []models.ToolCallRecord
}

func (tn *turn) state() State { return State(tn.sess.CurrentState) }

func (tn *turn) toolContext() ToolContext {
	tc := ToolContext{
		SessionID:   tn.sess.ID,
		UserID:      tn.sess.UserID,
		State:       tn.state(),
		Collected:   tn.collected,
		Integration: tn.integration,
	}
	if tn.sess.PartnerID != nil {
		tc.PartnerID = *tn.sess.PartnerID
	}
	return tc
}

// ProcessMessage runs one conversation turn. Failures never surface as
// errors: the reply then carries the apology message and Error.
func (a *Agent) ProcessMessage(ctx context.Context, in Input) Reply {
	started := a.now()
	tn, err := a.loadOrCreate(ctx, in)
	if err != nil {
		return a.failed(in.SessionID, nil, err)
	}

	if ShouldEscalate(EscalationContext{
		State:               tn.state(),
		Message:             in.Message,
		ConsecutiveFailures: tn.sess.ConsecutiveToolFailures,
	}) {
		reply, err := a.escalate(ctx, tn, in.Message)
		if err != nil {
			return a.failed(tn.sess.ID, tn, err)
		}
		return reply
	}

	reply, err := a.converse(ctx, tn, in.Message, started)
	if err != nil {
		return a.failed(tn.sess.ID, tn, err)
	}
	metrics.AgentTurns.WithLabelValues(string(reply.State), outcomeOK).Inc()
	return reply
}

func (a *Agent) failed(sessionID string, tn *turn, err error) Reply {
	a.log.Error("onboarding turn failed", zap.String("session_id", sessionID), zap.Error(err))
	state := StateWelcome
	if tn != nil && tn.state().Valid() {
		state = tn.state()
	}
	metrics.AgentTurns.WithLabelValues(string(state), outcomeError).Inc()
	return Reply{
		SessionID: cmpOr(sessionID, "unknown"),
		Message:   ErrorReply,
		State:     state,
		ToolsUsed: []string{},
		Error:     err.Error(),
	}
}

func (a *Agent) loadOrCreate(ctx context.Context, in Input) (*turn, error) {
	if a.db != nil && in.SessionID != "" {
		var sess models.OnboardingSession
		err := a.db.WithContext(ctx).First(&sess, "id = ?", in.SessionID).Error
		switch {
		case err == nil:
			return newTurn(&sess), nil
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("load session: %w", err)
		}
	}

	sess := &models.OnboardingSession{UserID: in.UserID, CurrentState: string(StateWelcome)}
	if in.PartnerID != "" {
		pid := in.PartnerID
		sess.PartnerID = &pid
	}
	if a.db == nil {
		sess.ID = "mock_" + ksuid.New().String()
		return newTurn(sess), nil
	}
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sess).Error; err != nil {
			return err
		}
		tasks := make([]models.OnboardingTask, 0, len(standardTasks))
		for i, t := range standardTasks {
			tasks = append(tasks, models.OnboardingTask{
				SessionID: sess.ID,
				TaskKey:   t.key,
				Title:     t.title,
				Category:  string(t.category),
				Status:    models.TaskPending,
				SortOrder: i + 1,
			})
		}
		return tx.Create(&tasks).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	a.log.Info("onboarding session started", zap.String("session_id", sess.ID))
	return newTurn(sess), nil
}

func newTurn(sess *models.OnboardingSession) *turn {
	return &turn{
		sess:        sess,
		collected:   sess.CollectedData.Data(),
		integration: sess.IntegrationData.Data(),
		agentCtx:    sess.AgentContext.Data(),
		toolsUsed:   []string{},
	}
}

func (a *Agent) escalate(ctx context.Context, tn *turn, message string) (Reply, error) {
	from := tn.state()
	tn.sess.NeedsHumanReview = true
	tn.sess.ConsecutiveToolFailures = 0
	if from != StateHumanHandoff && CanTransition(from, StateHumanHandoff, tn.collected) {
		tn.sess.PreviousState = string(from)
		tn.sess.CurrentState = string(StateHumanHandoff)
	}
	a.log.Warn("session needs a human", zap.String("session_id", tn.sess.ID), zap.String("state", string(from)))

	if a.db != nil {
		err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := a.logMessage(tx, tn, models.RoleUser, message, 0); err != nil {
				return err
			}
			if err := a.logMessage(tx, tn, models.RoleAssistant, EscalationReply, 0); err != nil {
				return err
			}
			if err := tx.Create(&models.AgentActionLog{
				SessionID:  tn.sess.ID,
				ActionType: models.ActionEscalation,
				ActionName: ToolEscalateToHuman,
				Input:      datatypes.JSONMap{"state": string(from), "message": message},
				Success:    true,
			}).Error; err != nil {
				return err
			}
			return a.saveSession(tx, tn)
		})
		if err != nil {
			return Reply{}, err
		}
	}
	// States that cannot hand off keep their state; the reply reports what
	// was stored.
	state := tn.state()
	metrics.AgentTurns.WithLabelValues(string(state), outcomeEscalated).Inc()
	return Reply{
		SessionID:        tn.sess.ID,
		Message:          EscalationReply,
		State:            state,
		Progress:         tn.sess.ProgressPercent,
		ToolsUsed:        []string{ToolEscalateToHuman},
		SuggestedPrompts: suggestedPrompts(state),
	}, nil
}

func (a *Agent) converse(ctx context.Context, tn *turn, message string, started time.Time) (Reply, error) {
	if a.db != nil {
		if err := a.logMessage(a.db.WithContext(ctx), tn, models.RoleUser, message, 0); err != nil {
			return Reply{}, fmt.Errorf("log user message: %w", err)
		}
	}
	history, err := a.history(ctx, tn.sess.ID, message)
	if err != nil {
		return Reply{}, err
	}

	tools := a.tools.ForState(tn.state())
	req := CompletionRequest{
		System:   SystemPrompt(tn.state(), tn.collected, tn.integration, tn.agentCtx),
		Messages: history,
		Tools:    tools,
	}
	first, err := a.llm.Complete(ctx, req)
	if err != nil {
		return Reply{}, err
	}

	final := first.Content
	if len(first.ToolCalls) > 0 {
		results := a.runTools(ctx, tn, first.ToolCalls)
		req.Messages = append(req.Messages, Message{Role: models.RoleAssistant, Content: first.Content, ToolCalls: first.ToolCalls})
		req.Messages = append(req.Messages, results...)
		second, err := a.llm.Complete(ctx, req)
		if err != nil {
			return Reply{}, err
		}
		final = cmpOr(second.Content, first.Content)
	}
	if strings.TrimSpace(final) == "" {
		final = FallbackReply(message)
	}

	a.autoTransition(ctx, tn)
	elapsed := int(a.now().Sub(started).Milliseconds())
	a.updateMetrics(tn, elapsed)

	if a.db != nil {
		err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := a.logMessage(tx, tn, models.RoleAssistant, final, elapsed); err != nil {
				return err
			}
			if err := a.syncTasks(tx, tn); err != nil {
				return err
			}
			return a.saveSession(tx, tn)
		})
		if err != nil {
			return Reply{}, fmt.Errorf("save turn: %w", err)
		}
	}

	return Reply{
		SessionID:        tn.sess.ID,
		Message:          final,
		State:            tn.state(),
		Progress:         tn.sess.ProgressPercent,
		ToolsUsed:        tn.toolsUsed,
		SuggestedPrompts: suggestedPrompts(tn.state()),
		CodeSnippet:      ExtractCodeSnippet(final),
	}, nil
}

// history returns the last messages of the transcript, oldest first. It
// ends with the current user message.
func (a *Agent) history(ctx context.Context, sessionID, message string) ([]Message, error) {
	if a.db == nil {
		return []Message{{Role: models.RoleUser, Content: message}}, nil
	}
	var rows []models.OnboardingMessage
	err := a.db.WithContext(ctx).
		Where("session_id = ? AND role IN ?", sessionID, []string{models.RoleUser, models.RoleAssistant}).
		Order("created_at DESC").Limit(historyLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, Message{Role: rows[i].Role, Content: rows[i].Content})
	}
	return out, nil
}

// runTools executes the model's tool calls in order and returns their
// results as tool messages.
func (a *Agent) runTools(ctx context.Context, tn *turn, calls []ToolCall) []Message {
	out := make([]Message, 0, len(calls))
	for _, call := range calls {
		started := a.now()
		res := a.tools.Execute(ctx, tn.toolContext(), call.Name, call.Args)
		took := a.now().Sub(started)

		tn.toolsUsed = append(tn.toolsUsed, call.Name)
		tn.records = append(tn.records, models.ToolCallRecord{ID: call.ID, Name: call.Name, Args: call.Args})
		if res.Success {
			tn.sess.ConsecutiveToolFailures = 0
			a.applyEffects(ctx, tn, call, res)
		} else {
			tn.sess.ConsecutiveToolFailures++
		}
		a.logAction(ctx, tn.sess.ID, models.ActionToolCall, call.Name, call.Args, res, took)

		r := res
		out = append(out, Message{Role: models.RoleTool, ToolCallID: call.ID, ToolName: call.Name, Result: &r})
	}
	return out
}

// applyEffects folds a successful tool result into the session.
func (a *Agent) applyEffects(ctx context.Context, tn *turn, call ToolCall, res ToolResult) {
	data, _ := res.Data.(map[string]any)
	str := func(key string) string {
		s, _ := data[key].(string)
		return s
	}

	if res.collected != nil {
		tn.collected = *res.collected
		if tn.integration.SelectedMethod == "" && tn.collected.PreferredIntegrationType != "" {
			tn.integration.SelectedMethod = tn.collected.PreferredIntegrationType
		}
	}
	if res.transition != nil {
		a.moveTo(ctx, tn, res.transition.To, res.transition.Reason)
	}

	switch call.Name {
	case ToolCreatePartnerAccount:
		if pid := str("partnerId"); pid != "" {
			tn.sess.PartnerID = &pid
		}
	case ToolDetectPlatform:
		if p, ok := PlatformBySlug(str("platform")); ok {
			tn.integration.Platform = &models.PlatformRef{Slug: p.Slug, Name: p.Name, Category: p.Category}
			tn.collected, _ = MergeCollected(tn.collected, models.CollectedData{CurrentPlatforms: []string{p.Slug}})
		}
	case ToolGenerateWidgetCode:
		tn.integration.WidgetCode = str("code")
		tn.integration.SelectedMethod = models.IntegrationWidget
	case ToolGenerateQRCode:
		tn.integration.QRCodeURL = str("qrCodeUrl")
		tn.integration.SelectedMethod = models.IntegrationQRCode
	case ToolGenerateAPICredentials:
		tn.integration.APIKey = str("apiKey")
		tn.integration.SelectedMethod = models.IntegrationAPI
	case ToolCreateWebhookEndpoint:
		tn.integration.WebhookURL = str("webhookUrl")
		if tn.integration.SelectedMethod == "" {
			tn.integration.SelectedMethod = models.IntegrationAPI
		}
	case ToolTestWidgetEmbed, ToolTestQRCode, ToolTestAPIConnection, ToolTestWebhook:
		if verified, _ := data["verified"].(bool); verified {
			tn.integration.IsVerified = true
			tn.integration.VerifiedBy = call.Name
		}
	case ToolEscalateToHuman:
		tn.sess.NeedsHumanReview = true
	case ToolSendContextToAgent:
		if s, _ := call.Args["summary"].(string); s != "" {
			tn.agentCtx.ConversationSummary = s
		}
		tn.agentCtx.PainPoints = appendStrings(tn.agentCtx.PainPoints, call.Args["painPoints"])
		tn.agentCtx.NextActions = appendStrings(tn.agentCtx.NextActions, call.Args["nextActions"])
	}
}

func appendStrings(dst []string, v any) []string {
	list, _ := v.([]any)
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			dst = append(dst, s)
		}
	}
	return dst
}

// autoTransition advances to the recommended state when its guard holds.
func (a *Agent) autoTransition(ctx context.Context, tn *turn) {
	next, ok := NextRecommendedState(tn.state(), tn.collected, tn.integration)
	if ok && CanTransition(tn.state(), next, tn.collected) {
		a.moveTo(ctx, tn, next, "Requirements met for next step")
	}
}

func (a *Agent) moveTo(ctx context.Context, tn *turn, to State, reason string) {
	from := tn.state()
	if from == to {
		return
	}
	tn.sess.PreviousState = string(from)
	tn.sess.CurrentState = string(to)
	tn.sess.ProgressPercent = CalculateProgress(to, tn.collected)
	if to == StateComplete && !tn.sess.IsComplete {
		now := a.now().UTC()
		tn.sess.IsComplete = true
		tn.sess.CompletedAt = &now
	}
	a.log.Info("state transition",
		zap.String("session_id", tn.sess.ID), zap.String("from", string(from)), zap.String("to", string(to)))

	if a.db == nil {
		return
	}
	err := a.db.WithContext(ctx).Create(&models.AgentActionLog{
		SessionID:  tn.sess.ID,
		ActionType: models.ActionStateTransition,
		ActionName: fmt.Sprintf("%s -> %s", from, to),
		Input:      datatypes.JSONMap{"oldState": string(from), "reason": reason},
		Output:     datatypes.JSONMap{"newState": string(to), "progress": tn.sess.ProgressPercent},
		Success:    true,
	}).Error
	if err != nil {
		a.log.Error("log transition", zap.String("session_id", tn.sess.ID), zap.Error(err))
	}
}

func (a *Agent) updateMetrics(tn *turn, elapsedMs int) {
	s := tn.sess
	if s.TotalMessages == 0 || s.AvgResponseTimeMs == 0 {
		s.AvgResponseTimeMs = elapsedMs
	} else {
		s.AvgResponseTimeMs = (s.AvgResponseTimeMs*s.TotalMessages + elapsedMs) / (s.TotalMessages + 1)
	}
	s.TotalMessages++
	s.TotalToolCalls += len(tn.toolsUsed)
	now := a.now().UTC()
	s.LastInteractionAt = &now
	if !Support(tn.state()) {
		s.ProgressPercent = CalculateProgress(tn.state(), tn.collected)
	}
}

// Support reports whether s is outside the main flow.
func Support(s State) bool {
	c, ok := states[s]
	return ok && c.Support()
}

func (a *Agent) saveSession(tx *gorm.DB, tn *turn) error {
	tn.sess.CollectedData = datatypes.NewJSONType(tn.collected)
	tn.sess.IntegrationData = datatypes.NewJSONType(tn.integration)
	tn.sess.AgentContext = datatypes.NewJSONType(tn.agentCtx)
	return tx.Save(tn.sess).Error
}

func (a *Agent) logMessage(tx *gorm.DB, tn *turn, role, content string, responseMs int) error {
	msg := models.OnboardingMessage{
		SessionID:      tn.sess.ID,
		Role:           role,
		Content:        content,
		StateAtMessage: tn.sess.CurrentState,
		ResponseTimeMs: responseMs,
	}
	if role == models.RoleAssistant && len(tn.records) > 0 {
		msg.ToolCalls = tn.records
	}
	return tx.Create(&msg).Error
}

func (a *Agent) logAction(ctx context.Context, sessionID, actionType, name string, args map[string]any, res ToolResult, took time.Duration) {
	if a.db == nil {
		return
	}
	entry := models.AgentActionLog{
		SessionID:  sessionID,
		ActionType: actionType,
		ActionName: name,
		Input:      datatypes.JSONMap(args),
		Success:    res.Success,
		Error:      res.Error,
		DurationMs: took.Milliseconds(),
	}
	if raw, err := json.Marshal(res); err == nil {
		var out map[string]any
		if json.Unmarshal(raw, &out) == nil {
			entry.Output = out
		}
	}
	if err := a.db.WithContext(ctx).Create(&entry).Error; err != nil {
		a.log.Error("log tool call", zap.String("session_id", sessionID), zap.String("tool", name), zap.Error(err))
	}
}

// syncTasks completes the tasks whose state has been reached and marks the
// next open one in progress. Support states leave tasks untouched.
func (a *Agent) syncTasks(tx *gorm.DB, tn *turn) error {
	cur, ok := StateInfo(tn.state())
	if !ok || cur.Support() {
		return nil
	}
	var tasks []models.OnboardingTask
	if err := tx.Where("session_id = ?", tn.sess.ID).Order("sort_order").Find(&tasks).Error; err != nil {
		return err
	}
	doneAt := make(map[string]State, len(standardTasks))
	for _, t := range standardTasks {
		doneAt[t.key] = t.doneAt
	}
	now := a.now().UTC()
	started := false
	for i := range tasks {
		t := &tasks[i]
		if t.Status == models.TaskCompleted || t.Status == models.TaskSkipped {
			continue
		}
		target, known := doneAt[t.TaskKey]
		status := t.Status
		switch {
		case known && cur.Progress >= states[target].Progress:
			status = models.TaskCompleted
		case !started:
			status = models.TaskInProgress
			started = true
		}
		if status == t.Status {
			continue
		}
		updates := map[string]any{"status": status}
		if status == models.TaskCompleted {
			updates["completed_at"] = now
			updates["completed_by"] = "agent"
		}
		if err := tx.Model(t).Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}

func suggestedPrompts(s State) []string {
	c, _ := StateInfo(s)
	return c.Behavior.SuggestedPrompts[:min(3, len(c.Behavior.SuggestedPrompts))]
}

var codeBlock = regexp.MustCompile("(?s)```.*?```")

// ExtractCodeSnippet returns the first fenced code block in text.
func ExtractCodeSnippet(text string) string {
	return codeBlock.FindString(text)
}

// SessionView is a session with its checklist and transcript.
type SessionView struct {
	Session  models.OnboardingSession   `json:"session"`
	State    StateConfig                `json:"state"`
	Tasks    []models.OnboardingTask    `json:"tasks"`
	Messages []models.OnboardingMessage `json:"messages"`
}

// Session loads a session with its tasks and transcript.
func (a *Agent) Session(ctx context.Context, id string) (*SessionView, error) {
	if a.db == nil {
		return nil, ErrSessionNotFound
	}
	var v SessionView
	db := a.db.WithContext(ctx)
	if err := db.First(&v.Session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	v.State, _ = StateInfo(State(v.Session.CurrentState))
	if err := db.Where("session_id = ?", id).Order("sort_order").Find(&v.Tasks).Error; err != nil {
		return nil, err
	}
	if err := db.Where("session_id = ?", id).Order("created_at").Find(&v.Messages).Error; err != nil {
		return nil, err
	}
	return &v, nil
}
