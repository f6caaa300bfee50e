package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/gate"
	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/db"
	"github.com/diewo77/go-partners/internal/documents"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
)

// TemplateHandler serves document templates.
type TemplateHandler struct {
	svc   *documents.Service
	db    *gorm.DB
	authz Authorizer
	log   *zap.Logger
}

func NewTemplateHandler(svc *documents.Service, gdb *gorm.DB, authz Authorizer, log *zap.Logger) *TemplateHandler {
	return &TemplateHandler{svc: svc, db: gdb, authz: authz, log: logging.OrNop(log).Named("handlers.templates")}
}

// List returns the active templates. Placeholders are filled from
// ?partnerId= when the caller may view that partner, then from the
// businessName, businessAddress, contactName and entityType query values.
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	values := documents.ValuesFromPartner(h.partner(r, strings.TrimSpace(q.Get("partnerId"))))
	values = values.Override(documents.Values{
		BusinessName:    q.Get("businessName"),
		BusinessAddress: q.Get("businessAddress"),
		ContactName:     q.Get("contactName"),
		EntityType:      q.Get("entityType"),
	})

	res := h.svc.List(r.Context(), strings.TrimSpace(q.Get("type")), values)
	ok(w, http.StatusOK, map[string]any{"templates": res.Templates, "source": res.Source})
}

func (h *TemplateHandler) partner(r *http.Request, id string) *models.Partner {
	if id == "" || h.db == nil {
		return nil
	}
	var p models.Partner
	if err := h.db.WithContext(r.Context()).Where("id = ?", id).First(&p).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.log.Warn("load partner for templates", zap.String("partner_id", id), zap.Error(err))
		}
		return nil
	}
	if h.authz == nil || !h.authz.Can(r.Context(), gate.ActionView, db.ResourcePartner, &p) {
		return nil
	}
	return &p
}

// Create stores a new active version of a template.
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in documents.CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "Invalid JSON body", nil)
		return
	}

	tpl, err := h.svc.Create(r.Context(), in)
	switch {
	case err == nil:
		ok(w, http.StatusOK, map[string]any{"template": tpl})
	case errors.Is(err, documents.ErrMissingFields):
		httpx.Fail(w, http.StatusBadRequest, "Missing required fields: type, title, content", nil)
	case errors.Is(err, documents.ErrInvalidType):
		httpx.Fail(w, http.StatusBadRequest, "Invalid type", map[string]any{"validTypes": models.DocumentTypes})
	case errors.Is(err, documents.ErrDatabaseNotConfigured):
		httpx.Fail(w, http.StatusInternalServerError, "Database not configured", nil)
	default:
		h.log.Error("create template", zap.String("type", in.Type), zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Failed to create template", nil)
	}
}
