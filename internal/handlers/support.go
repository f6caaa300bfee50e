package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/internal/services"
	"github.com/diewo77/go-partners/validation"
)

// Conversations is the part of services.SupportService the admin API uses.
type Conversations interface {
	List(ctx context.Context, f services.ConversationFilter) ([]services.ConversationSummary, services.Pagination, error)
	Get(ctx context.Context, id string) (*models.SupportConversation, error)
	Update(ctx context.Context, id string, patch services.ConversationPatch, actor string) (*models.SupportConversation, error)
}

// SupportHandler lets admins triage support conversations.
type SupportHandler struct {
	convs Conversations
	db    *gorm.DB
	log   *zap.Logger
}

// NewSupportHandler wires the admin support API. db is only used to look up
// the acting admin's email.
func NewSupportHandler(convs Conversations, gdb *gorm.DB, log *zap.Logger) *SupportHandler {
	return &SupportHandler{convs: convs, db: gdb, log: logging.OrNop(log).Named("handlers.support")}
}

func (h *SupportHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.ConversationFilter{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Topic:    q.Get("topic"),
		Search:   q.Get("search"),
	}
	var err error
	if f.Limit, err = httpx.QueryInt(r, "limit", services.DefaultPageSize); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid query parameters", validation.Violations{"limit": "integer"})
		return
	}
	if f.Offset, err = httpx.QueryInt(r, "offset", 0); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid query parameters", validation.Violations{"offset": "integer"})
		return
	}

	rows, page, err := h.convs.List(r.Context(), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"conversations": rows, "pagination": page})
}

func (h *SupportHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.convs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"conversation": conv})
}

func (h *SupportHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch services.ConversationPatch
	if !decode(w, r, &patch) {
		return
	}
	conv, err := h.convs.Update(r.Context(), chi.URLParam(r, "id"), patch, userEmail(r, h.db))
	if err != nil {
		h.fail(w, err)
		return
	}
	ok(w, http.StatusOK, map[string]any{"conversation": conv})
}

func (h *SupportHandler) fail(w http.ResponseWriter, err error) {
	var v validation.Violations
	switch {
	case errors.As(err, &v):
		httpx.Fail(w, http.StatusBadRequest, "Invalid query parameters", v)
	case errors.Is(err, services.ErrConversationNotFound):
		httpx.Fail(w, http.StatusNotFound, "Conversation not found", nil)
	case errors.Is(err, services.ErrDatabaseNotConfigured):
		httpx.Fail(w, http.StatusInternalServerError, "Database not configured", nil)
	default:
		h.log.Error("support conversations", zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to load conversations", nil)
	}
}
