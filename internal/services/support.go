package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
	"github.com/diewo77/go-partners/validation"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrConversationNotFound = errors.New("services: conversation not found")

// SupportService lets admins triage support conversations.
type SupportService struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewSupportService(gdb *gorm.DB, log *zap.Logger) *SupportService {
	return &SupportService{db: gdb, log: logging.OrNop(log).Named("services.support"), now: time.Now}
}

// ConversationFilter narrows a listing. Empty fields do not filter; Status
// "all" is the same as empty.
type ConversationFilter struct {
	Status   string `json:"status" validate:"omitempty,oneof=active resolved escalated abandoned all"`
	Priority string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Topic    string `json:"topic" validate:"omitempty,oneof=onboarding widget_install api_integration pos_setup troubleshooting"`
	Search   string `json:"search" validate:"max=200"`
	Limit    int    `json:"limit" validate:"gte=1,lte=100"`
	Offset   int    `json:"offset" validate:"gte=0"`
}

// ConversationSummary is a listed conversation with message stats.
type ConversationSummary struct {
	models.SupportConversation
	MessageCount  int        `json:"messageCount"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

type Pagination struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"hasMore"`
}

// List returns conversations matching f, most recently updated first.
func (s *SupportService) List(ctx context.Context, f ConversationFilter) ([]ConversationSummary, Pagination, error) {
	if f.Limit == 0 {
		f.Limit = DefaultPageSize
	}
	page := Pagination{Limit: f.Limit, Offset: f.Offset}
	if v := validation.Struct(f); v != nil {
		return nil, page, v
	}
	if s.db == nil {
		return nil, page, ErrDatabaseNotConfigured
	}

	q := s.db.WithContext(ctx).Model(&models.SupportConversation{})
	if f.Status != "" && f.Status != "all" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.Topic != "" {
		q = q.Where("topic = ?", f.Topic)
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		like := "%" + term + "%"
		q = q.Where("LOWER(partner_name) LIKE ? OR LOWER(partner_email) LIKE ?", like, like)
	}

	if err := q.Count(&page.Total).Error; err != nil {
		return nil, page, fmt.Errorf("count conversations: %w", err)
	}
	var convs []models.SupportConversation
	if err := q.Order("updated_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&convs).Error; err != nil {
		return nil, page, fmt.Errorf("list conversations: %w", err)
	}
	page.HasMore = int64(f.Offset+len(convs)) < page.Total

	out := make([]ConversationSummary, len(convs))
	if len(convs) == 0 {
		return out, page, nil
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		out[i].SupportConversation = c
	}

	var msgs []models.SupportMessage
	if err := s.db.WithContext(ctx).Select("conversation_id", "created_at").
		Where("conversation_id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, page, fmt.Errorf("load message stats: %w", err)
	}
	index := make(map[string]*ConversationSummary, len(out))
	for i := range out {
		index[out[i].ID] = &out[i]
	}
	for _, m := range msgs {
		sum := index[m.ConversationID]
		if sum == nil {
			continue
		}
		sum.MessageCount++
		if sum.LastMessageAt == nil || m.CreatedAt.After(*sum.LastMessageAt) {
			at := m.CreatedAt
			sum.LastMessageAt = &at
		}
	}
	return out, page, nil
}

// Get returns a conversation with its messages, oldest first.
func (s *SupportService) Get(ctx context.Context, id string) (*models.SupportConversation, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotConfigured
	}
	var conv models.SupportConversation
	err := s.db.WithContext(ctx).
		Preload("Messages", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC") }).
		Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &conv, nil
}

// ConversationPatch is an admin update. Nil fields are left unchanged.
type ConversationPatch struct {
	Status           *string `json:"status" validate:"omitempty,oneof=active resolved escalated abandoned"`
	Priority         *string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Topic            *string `json:"topic" validate:"omitempty,oneof=onboarding widget_install api_integration pos_setup troubleshooting"`
	Resolution       *string `json:"resolution" validate:"omitempty,max=2000"`
	Escalate         bool    `json:"escalate"`
	EscalationReason *string `json:"escalationReason" validate:"omitempty,max=500"`
	HelpfulRating    *int    `json:"helpfulRating" validate:"omitempty,min=1,max=5"`
	Feedback         *string `json:"feedback" validate:"omitempty,max=1000"`
}

// Update applies patch to a conversation. actor is the admin's email,
// recorded as the escalation target.
func (s *SupportService) Update(ctx context.Context, id string, patch ConversationPatch, actor string) (*models.SupportConversation, error) {
	if v := validation.Struct(patch); v != nil {
		return nil, v
	}
	if s.db == nil {
		return nil, ErrDatabaseNotConfigured
	}

	var conv models.SupportConversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).First(&conv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}

		now := s.now()
		updates := map[string]any{}
		if patch.Status != nil && *patch.Status != conv.Status {
			updates["status"] = *patch.Status
			if *patch.Status == models.SupportResolved {
				updates["resolved_at"] = now
			}
		}
		if patch.Priority != nil {
			updates["priority"] = *patch.Priority
		}
		if patch.Topic != nil {
			updates["topic"] = *patch.Topic
		}
		if patch.Resolution != nil {
			updates["resolution"] = *patch.Resolution
		}
		if patch.HelpfulRating != nil {
			updates["helpful_rating"] = *patch.HelpfulRating
		}
		if patch.Feedback != nil {
			updates["feedback"] = *patch.Feedback
		}
		if patch.Escalate {
			updates["status"] = models.SupportEscalated
			updates["escalated_at"] = now
			updates["escalated_to"] = actor
			delete(updates, "resolved_at")
		}
		if patch.EscalationReason != nil {
			updates["escalation_reason"] = *patch.EscalationReason
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&conv).Updates(updates).Error; err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		return tx.Where("id = ?", id).First(&conv).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("conversation updated",
		zap.String("conversation_id", conv.ID),
		zap.String("status", conv.Status),
		zap.String("actor", actor))
	return &conv, nil
}
