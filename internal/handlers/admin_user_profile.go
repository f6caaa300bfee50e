package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
)

// AdminUserProfileHandler assigns profiles to users.
type AdminUserProfileHandler struct {
	db    *gorm.DB
	cache ProfileCache
	log   *zap.Logger
}

func NewAdminUserProfileHandler(gdb *gorm.DB, cache ProfileCache, log *zap.Logger) *AdminUserProfileHandler {
	return &AdminUserProfileHandler{db: gdb, cache: cache, log: logging.OrNop(log).Named("handlers.admin_users")}
}

// List returns every user with their profile, and the assignable profiles.
func (h *AdminUserProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := h.db.WithContext(r.Context()).Preload("Profile").Order("email").Find(&users).Error; err != nil {
		h.log.Error("list users", zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Database error", nil)
		return
	}
	var profiles []models.Profile
	if err := h.db.WithContext(r.Context()).Order("name").Find(&profiles).Error; err != nil {
		h.log.Error("list profiles", zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Database error", nil)
		return
	}
	ok(w, http.StatusOK, map[string]any{"users": users, "profiles": profiles})
}

type assignProfileRequest struct {
	// A nil ProfileID removes the user's profile.
	ProfileID *uint `json:"profileId" validate:"omitempty,gt=0"`
}

// AssignProfile sets or clears the profile of the user in the URL.
func (h *AdminUserProfileHandler) AssignProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID == 0 {
		httpx.Fail(w, http.StatusBadRequest, "Invalid user id", nil)
		return
	}
	var req assignProfileRequest
	if !decode(w, r, &req) {
		return
	}

	db := h.db.WithContext(r.Context())
	var user models.User
	if err := db.First(&user, uint(userID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.Fail(w, http.StatusNotFound, "User not found", nil)
			return
		}
		h.log.Error("load user", zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Database error", nil)
		return
	}
	if req.ProfileID != nil {
		var profile models.Profile
		if err := db.First(&profile, *req.ProfileID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				httpx.Fail(w, http.StatusNotFound, "Profile not found", nil)
				return
			}
			h.log.Error("load profile", zap.Error(err))
			httpx.Fail(w, http.StatusInternalServerError, "Database error", nil)
			return
		}
	}

	if err := db.Model(&user).Update("profile_id", req.ProfileID).Error; err != nil {
		h.log.Error("assign profile", zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Database error", nil)
		return
	}
	h.cache.Invalidate(user.ID)
	h.log.Info("profile assigned", zap.Uint("user_id", user.ID), zap.Uintp("profile_id", req.ProfileID))
	ok(w, http.StatusOK, map[string]any{"userId": user.ID, "profileId": req.ProfileID})
}
