package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/go-partners/internal/handlers"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/internal/onboarding"
)

type fakeAgent struct {
	got   onboarding.Input
	reply onboarding.Reply
	view  *onboarding.SessionView
}

func (f *fakeAgent) ProcessMessage(_ context.Context, in onboarding.Input) onboarding.Reply {
	f.got = in
	return f.reply
}

func (f *fakeAgent) Session(_ context.Context, id string) (*onboarding.SessionView, error) {
	if f.view == nil || f.view.Session.ID != id {
		return nil, onboarding.ErrSessionNotFound
	}
	return f.view, nil
}

func TestChat(t *testing.T) {
	agent := &fakeAgent{reply: onboarding.Reply{
		SessionID:        "sess-1",
		Message:          "Which booking platform do you use?",
		State:            onboarding.StateWelcome,
		Progress:         5,
		ToolsUsed:        []string{},
		SuggestedPrompts: []string{"I use Mindbody"},
	}}
	h := handlers.NewOnboardingHandler(agent, nil)

	req := asUser(request(t, http.MethodPost, "/api/onboarding/chat", map[string]string{
		"sessionId": "sess-1", "message": "Hi, I run a yoga studio",
	}), 7)
	rec := serve(http.HandlerFunc(h.Chat), req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	reply := body["reply"].(map[string]any)
	assert.Equal(t, "sess-1", reply["sessionId"])
	assert.Equal(t, []any{"I use Mindbody"}, reply["nextSuggestedActions"])

	assert.Equal(t, "Hi, I run a yoga studio", agent.got.Message)
	require.NotNil(t, agent.got.UserID)
	assert.Equal(t, uint(7), *agent.got.UserID)
}

func TestChatRejectsBadInput(t *testing.T) {
	h := handlers.NewOnboardingHandler(&fakeAgent{}, nil)
	long := make([]byte, 4001)
	for i := range long {
		long[i] = 'a'
	}
	for name, body := range map[string]any{
		"empty":     nil,
		"no text":   map[string]string{"sessionId": "s"},
		"blank":     map[string]string{"message": "   "},
		"too long":  map[string]string{"message": string(long)},
		"malformed": "{",
	} {
		t.Run(name, func(t *testing.T) {
			rec := serve(http.HandlerFunc(h.Chat), request(t, http.MethodPost, "/api/onboarding/chat", body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestChatFailedTurn(t *testing.T) {
	agent := &fakeAgent{reply: onboarding.Reply{
		SessionID: "sess-1",
		Message:   "Sorry, something went wrong.",
		State:     onboarding.StateWelcome,
		Error:     "llm unavailable",
	}}
	rec := serve(http.HandlerFunc(handlers.NewOnboardingHandler(agent, nil).Chat),
		request(t, http.MethodPost, "/api/onboarding/chat", map[string]string{"message": "hello"}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "llm unavailable", body["reply"].(map[string]any)["error"])
	assert.Nil(t, agent.got.UserID)
}

func TestSessionLookup(t *testing.T) {
	view := &onboarding.SessionView{
		Session: models.OnboardingSession{Base: models.Base{ID: "sess-1"}, CurrentState: string(onboarding.StateWelcome)},
		Tasks:   []models.OnboardingTask{{SessionID: "sess-1", Title: "Tell us about your business"}},
	}
	r := chi.NewRouter()
	r.Get("/api/onboarding/sessions/{id}", handlers.NewOnboardingHandler(&fakeAgent{view: view}, nil).Session)

	rec := serve(r, request(t, http.MethodGet, "/api/onboarding/sessions/sess-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "sess-1", body["session"].(map[string]any)["id"])
	assert.Len(t, body["tasks"], 1)

	rec = serve(r, request(t, http.MethodGet, "/api/onboarding/sessions/sess-2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found", decodeBody(t, rec)["error"])
}

func TestSearchKnowledge(t *testing.T) {
	h := http.HandlerFunc(handlers.NewOnboardingHandler(&fakeAgent{}, nil).SearchKnowledge)

	rec := serve(h, request(t, http.MethodGet, "/api/knowledge/search?q=widget&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.LessOrEqual(t, len(body["results"].([]any)), 2)
	assert.EqualValues(t, len(body["results"].([]any)), body["count"])
	assert.NotZero(t, body["count"])

	rec = serve(h, request(t, http.MethodGet, "/api/knowledge/search?category="+onboarding.KnowledgePricing, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	for _, raw := range decodeBody(t, rec)["results"].([]any) {
		assert.Equal(t, onboarding.KnowledgePricing, raw.(map[string]any)["category"])
	}

	const broad = "partner+widget+booking+integration+commission+payout"
	rec = serve(h, request(t, http.MethodGet, "/api/knowledge/search?q="+broad+"&category="+onboarding.KnowledgeIntegration+"&limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	want := onboarding.SearchKnowledgeIn("partner widget booking integration commission payout", onboarding.KnowledgeIntegration, 2)
	require.NotEmpty(t, want)
	body = decodeBody(t, rec)
	assert.EqualValues(t, len(want), body["count"])
	for _, raw := range body["results"].([]any) {
		assert.Equal(t, onboarding.KnowledgeIntegration, raw.(map[string]any)["category"])
	}

	rec = serve(h, request(t, http.MethodGet, "/api/knowledge/search?q=zzzzqqq", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decodeBody(t, rec)["results"])

	for _, target := range []string{"/api/knowledge/search", "/api/knowledge/search?q=widget&limit=0", "/api/knowledge/search?q=widget&limit=x"} {
		assert.Equal(t, http.StatusBadRequest, serve(h, request(t, http.MethodGet, target, nil)).Code, target)
	}
}
