package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/diewo77/go-partners/auth"
	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/onboarding"
)

// Agent is the part of onboarding.Agent the chat API uses.
type Agent interface {
	ProcessMessage(ctx context.Context, in onboarding.Input) onboarding.Reply
	Session(ctx context.Context, id string) (*onboarding.SessionView, error)
}

// OnboardingHandler serves the onboarding chat and the knowledge base.
type OnboardingHandler struct {
	agent Agent
	log   *zap.Logger
}

func NewOnboardingHandler(agent Agent, log *zap.Logger) *OnboardingHandler {
	return &OnboardingHandler{agent: agent, log: logging.OrNop(log).Named("handlers.onboarding")}
}

type chatRequest struct {
	SessionID string `json:"sessionId" validate:"omitempty,max=36"`
	PartnerID string `json:"partnerId" validate:"omitempty,max=36"`
	Message   string `json:"message" validate:"required,max=4000"`
}

// Chat runs one agent turn. A failed turn still answers with the agent's
// apology, under a 500.
func (h *OnboardingHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		httpx.Fail(w, http.StatusBadRequest, "Message is required", nil)
		return
	}

	in := onboarding.Input{
		SessionID: req.SessionID,
		PartnerID: req.PartnerID,
		Message:   req.Message,
	}
	if uid, found := auth.UserIDFromContext(r.Context()); found {
		in.UserID = &uid
	}

	reply := h.agent.ProcessMessage(r.Context(), in)
	if reply.Error != "" {
		httpx.JSON(w, http.StatusInternalServerError, map[string]any{"success": false, "reply": reply})
		return
	}
	ok(w, http.StatusOK, map[string]any{"reply": reply})
}

func (h *OnboardingHandler) Session(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.agent.Session(r.Context(), id)
	switch {
	case err == nil:
		ok(w, http.StatusOK, map[string]any{
			"session":  view.Session,
			"state":    view.State,
			"tasks":    view.Tasks,
			"messages": view.Messages,
		})
	case errors.Is(err, onboarding.ErrSessionNotFound):
		httpx.Fail(w, http.StatusNotFound, "Session not found", nil)
	default:
		h.log.Error("load session", zap.String("session_id", id), zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to load session", nil)
	}
}

// SearchKnowledge answers ?q= with ranked entries, or ?category= with the
// whole category.
func (h *OnboardingHandler) SearchKnowledge(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if q == "" && category == "" {
		httpx.Fail(w, http.StatusBadRequest, "Missing q or category parameter", nil)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", onboarding.DefaultSearchLimit)
	if err != nil || limit < 1 || limit > 20 {
		httpx.Fail(w, http.StatusBadRequest, "limit must be between 1 and 20", nil)
		return
	}

	var results []onboarding.KnowledgeEntry
	if q != "" {
		results = onboarding.SearchKnowledgeIn(q, category, limit)
	} else {
		results = onboarding.KnowledgeByCategory(category)
		if len(results) > limit {
			results = results[:limit]
		}
	}
	if results == nil {
		results = []onboarding.KnowledgeEntry{}
	}
	ok(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}
