package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
)

// AdminProfileHandler manages profiles and their permissions.
type AdminProfileHandler struct {
	db    *gorm.DB
	cache ProfileCache
	log   *zap.Logger
}

func NewAdminProfileHandler(gdb *gorm.DB, cache ProfileCache, log *zap.Logger) *AdminProfileHandler {
	return &AdminProfileHandler{db: gdb, cache: cache, log: logging.OrNop(log).Named("handlers.admin_profiles")}
}

type profileSummary struct {
	models.Profile
	UserCount int64 `json:"userCount"`
}

// List returns every profile with its permissions and user count.
func (h *AdminProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	var profiles []models.Profile
	if err := h.db.WithContext(r.Context()).Preload("Permissions").Order("name").Find(&profiles).Error; err != nil {
		h.dbError(w, "list profiles", err)
		return
	}

	var counts []struct {
		ProfileID uint
		N         int64
	}
	if err := h.db.WithContext(r.Context()).Model(&models.User{}).
		Select("profile_id, COUNT(*) AS n").Where("profile_id IS NOT NULL").
		Group("profile_id").Scan(&counts).Error; err != nil {
		h.dbError(w, "count profile users", err)
		return
	}
	byProfile := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byProfile[c.ProfileID] = c.N
	}

	out := make([]profileSummary, len(profiles))
	for i, p := range profiles {
		out[i] = profileSummary{Profile: p, UserCount: byProfile[p.ID]}
	}
	ok(w, http.StatusOK, map[string]any{"profiles": out})
}

type profileRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

func (h *AdminProfileHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	profile := models.Profile{Name: strings.TrimSpace(req.Name), Description: strings.TrimSpace(req.Description)}
	if err := h.db.WithContext(r.Context()).Create(&profile).Error; err != nil {
		if isDuplicate(err) {
			httpx.Fail(w, http.StatusConflict, "Profile name already exists", nil)
			return
		}
		h.dbError(w, "create profile", err)
		return
	}
	h.log.Info("profile created", zap.Uint("profile_id", profile.ID), zap.String("name", profile.Name))
	ok(w, http.StatusCreated, map[string]any{"profile": profile})
}

func (h *AdminProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	profile, found := h.load(w, r)
	if !found {
		return
	}
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if profile.IsSystem && name != profile.Name {
		httpx.Fail(w, http.StatusForbidden, "System profiles cannot be renamed", nil)
		return
	}
	profile.Name = name
	profile.Description = strings.TrimSpace(req.Description)
	if err := h.db.WithContext(r.Context()).Save(profile).Error; err != nil {
		if isDuplicate(err) {
			httpx.Fail(w, http.StatusConflict, "Profile name already exists", nil)
			return
		}
		h.dbError(w, "update profile", err)
		return
	}
	h.cache.InvalidateAll()
	ok(w, http.StatusOK, map[string]any{"profile": profile})
}

// Delete removes a profile. System profiles and profiles still assigned to
// users are kept.
func (h *AdminProfileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	profile, found := h.load(w, r)
	if !found {
		return
	}
	if profile.IsSystem {
		httpx.Fail(w, http.StatusForbidden, "System profiles cannot be deleted", nil)
		return
	}
	var users int64
	if err := h.db.WithContext(r.Context()).Model(&models.User{}).Where("profile_id = ?", profile.ID).Count(&users).Error; err != nil {
		h.dbError(w, "count profile users", err)
		return
	}
	if users > 0 {
		httpx.Fail(w, http.StatusConflict, "Profile is assigned to users", map[string]any{"userCount": users})
		return
	}

	err := h.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(profile).Association("Permissions").Clear(); err != nil {
			return err
		}
		return tx.Delete(profile).Error
	})
	if err != nil {
		h.dbError(w, "delete profile", err)
		return
	}
	h.log.Info("profile deleted", zap.Uint("profile_id", profile.ID))
	ok(w, http.StatusOK, map[string]any{"deleted": profile.ID})
}

type permissionsRequest struct {
	PermissionIDs []uint `json:"permissionIds" validate:"dive,gt=0"`
}

// SavePermissions replaces the permissions of a profile.
func (h *AdminProfileHandler) SavePermissions(w http.ResponseWriter, r *http.Request) {
	profile, found := h.load(w, r)
	if !found {
		return
	}
	var req permissionsRequest
	if !decode(w, r, &req) {
		return
	}

	var permissions []models.Permission
	if len(req.PermissionIDs) > 0 {
		if err := h.db.WithContext(r.Context()).Where("id IN ?", req.PermissionIDs).Find(&permissions).Error; err != nil {
			h.dbError(w, "load permissions", err)
			return
		}
		if len(permissions) != len(uniqueIDs(req.PermissionIDs)) {
			httpx.Fail(w, http.StatusBadRequest, "Unknown permission", nil)
			return
		}
	}
	if err := h.db.WithContext(r.Context()).Model(profile).Association("Permissions").Replace(permissions); err != nil {
		h.dbError(w, "replace permissions", err)
		return
	}
	h.cache.InvalidateAll()

	profile.Permissions = permissions
	ok(w, http.StatusOK, map[string]any{"profile": profile})
}

// ListPermissions returns every permission, grouped by resource type.
func (h *AdminProfileHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	var permissions []models.Permission
	if err := h.db.WithContext(r.Context()).Order("resource_type, action").Find(&permissions).Error; err != nil {
		h.dbError(w, "list permissions", err)
		return
	}
	byResource := make(map[string][]models.Permission)
	for _, p := range permissions {
		byResource[p.ResourceType] = append(byResource[p.ResourceType], p)
	}
	ok(w, http.StatusOK, map[string]any{"permissions": permissions, "byResource": byResource})
}

func (h *AdminProfileHandler) load(w http.ResponseWriter, r *http.Request) (*models.Profile, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.Fail(w, http.StatusBadRequest, "Invalid profile id", nil)
		return nil, false
	}
	var profile models.Profile
	err = h.db.WithContext(r.Context()).Preload("Permissions").First(&profile, uint(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		httpx.Fail(w, http.StatusNotFound, "Profile not found", nil)
		return nil, false
	}
	if err != nil {
		h.dbError(w, "load profile", err)
		return nil, false
	}
	return &profile, true
}

func (h *AdminProfileHandler) dbError(w http.ResponseWriter, op string, err error) {
	h.log.Error(op, zap.Error(err))
	httpx.Fail(w, http.StatusInternalServerError, "Database error", nil)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

func uniqueIDs(ids []uint) map[uint]struct{} {
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
