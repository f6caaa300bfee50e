package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/auth"
	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/logging"
	"github.com/diewo77/go-partners/internal/models"
)

// AuthHandler logs users in and out with a signed session cookie.
type AuthHandler struct {
	db       *gorm.DB
	sessions *auth.Sessions
	log      *zap.Logger
}

func NewAuthHandler(db *gorm.DB, sessions *auth.Sessions, log *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, sessions: sessions, log: logging.OrNop(log).Named("handlers.auth")}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=200"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if h.db == nil {
		httpx.Fail(w, http.StatusInternalServerError, "Database not configured", nil)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var user models.User
	err := h.db.WithContext(r.Context()).Preload("Profile").Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		h.log.Error("load user", zap.Error(err))
		httpx.Fail(w, http.StatusInternalServerError, "Login failed", nil)
		return
	}
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		h.log.Info("login rejected", zap.String("email", email))
		httpx.Fail(w, http.StatusUnauthorized, "Invalid email or password", nil)
		return
	}

	h.sessions.Create(w, user.ID)
	h.log.Info("login", zap.Uint("user_id", user.ID))
	ok(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	h.sessions.Clear(w)
	ok(w, http.StatusOK, nil)
}

// Me returns the logged-in user with their profile.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, found := auth.UserIDFromContext(r.Context())
	if !found {
		httpx.Fail(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}
	if h.db == nil {
		httpx.Fail(w, http.StatusInternalServerError, "Database not configured", nil)
		return
	}
	var user models.User
	err := h.db.WithContext(r.Context()).Preload("Profile.Permissions").First(&user, uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.sessions.Clear(w)
		httpx.Fail(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}
	if err != nil {
		httpx.Fail(w, http.StatusInternalServerError, "Failed to load user", nil)
		return
	}
	ok(w, http.StatusOK, map[string]any{"user": user})
}

// userEmail returns the email of the user in the request context, or "".
func userEmail(r *http.Request, db *gorm.DB) string {
	uid, found := auth.UserIDFromContext(r.Context())
	if !found || db == nil {
		return ""
	}
	var user models.User
	if err := db.WithContext(r.Context()).Select("email").First(&user, uid).Error; err != nil {
		return ""
	}
	return user.Email
}
