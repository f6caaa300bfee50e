package documents

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/validation"
)

// Where the templates of a listing came from.
const (
	SourceDemo           = "demo"
	SourceDemoFallback   = "demo-fallback"
	SourceDatabaseMerged = "database-merged"
)

var (
	ErrDatabaseNotConfigured = errors.New("documents: database not configured")
	ErrMissingFields         = errors.New("documents: missing required fields")
	ErrInvalidType           = errors.New("documents: invalid type")
)

// Service lists and versions templates. A nil database is allowed: listings
// then serve the bundled demo set.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: logging.OrNop(log).Named("documents"), now: time.Now}
}

// ListResult is a template listing and its source.
type ListResult struct {
	Templates []Template `json:"templates"`
	Source    string     `json:"source"`
}

// List returns the active templates, optionally filtered to one type, with
// placeholders interpolated from values. Database failures degrade to the
// demo set instead of failing.
func (s *Service) List(ctx context.Context, docType string, values Values) ListResult {
	res := ListResult{Templates: Demo(), Source: SourceDemo}

	if s.db != nil {
		var rows []models.DocumentTemplate
		err := s.db.WithContext(ctx).
			Where("is_active = ?", true).
			Order("updated_at DESC").
			Find(&rows).Error
		switch {
		case err != nil:
			s.log.Warn("template query failed, serving demo templates", zap.Error(err))
			res.Source = SourceDemoFallback
		case len(rows) > 0:
			res.Templates = merge(res.Templates, rows)
			res.Source = SourceDatabaseMerged
		}
	}

	if docType != "" {
		filtered := res.Templates[:0]
		for _, t := range res.Templates {
			if t.Type == docType {
				filtered = append(filtered, t)
			}
		}
		res.Templates = filtered
	}

	now := s.now()
	for i := range res.Templates {
		res.Templates[i].Content = Interpolate(res.Templates[i].Content, values, now)
	}
	return res
}

// merge overrides demo templates by type with database rows. Rows are
// ordered newest first, so the first row of a type wins.
func merge(base []Template, rows []models.DocumentTemplate) []Template {
	byType := make(map[string]Template, len(rows))
	var extra []Template
	for _, r := range rows {
		if _, seen := byType[r.Type]; seen {
			continue
		}
		byType[r.Type] = FromModel(r)
	}
	out := make([]Template, 0, len(base))
	for _, t := range base {
		if db, ok := byType[t.Type]; ok {
			out = append(out, db)
			delete(byType, t.Type)
			continue
		}
		out = append(out, t)
	}
	for _, t := range byType {
		extra = append(extra, t)
	}
	slices.SortFunc(extra, func(a, b Template) int { return strings.Compare(a.Type, b.Type) })
	return append(out, extra...)
}

// CreateInput is the body of a template creation.
type CreateInput struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Version string `json:"version"`
}

// Validate reports missing fields and an unknown type.
func (in CreateInput) Validate() error {
	v := validation.Violations{}
	validation.Required("type", in.Type, v)
	validation.Required("title", in.Title, v)
	validation.Required("content", in.Content, v)
	if !v.Empty() {
		return errors.Join(ErrMissingFields, v)
	}
	if !IsValidType(in.Type) {
		return ErrInvalidType
	}
	return nil
}

// Create stores a new active version of a template and deactivates the
// previous active versions of the same type.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.DocumentTemplate, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if s.db == nil {
		return nil, ErrDatabaseNotConfigured
	}
	version := strings.TrimSpace(in.Version)
	if version == "" {
		version = DefaultVersion
	}
	tpl := &models.DocumentTemplate{
		Type:     in.Type,
		Title:    strings.TrimSpace(in.Title),
		Content:  in.Content,
		Version:  version,
		IsActive: true,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.DocumentTemplate{}).
			Where("type = ? AND is_active = ?", in.Type, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(tpl).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("template version created",
		zap.String("type", tpl.Type), zap.String("version", tpl.Version), zap.String("id", tpl.ID))
	return tpl, nil
}
