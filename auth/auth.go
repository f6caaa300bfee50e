// Package auth issues and verifies HMAC-signed session cookies and carries
// the authenticated user id through request contexts.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/diewo77/go-partners/httpx"
)

const (
	CookieName     = "partners_session"
	DefaultTTL     = 14 * 24 * time.Hour
	devFallbackKey = "devsessionsecret"
)

var (
	ErrNoSession      = errors.New("auth: no session")
	ErrInvalidSession = errors.New("auth: invalid session")
	ErrExpiredSession = errors.New("auth: session expired")
)

type ctxKey struct{}

// UserVerifier reports whether a session's user still exists and is allowed in.
type UserVerifier func(ctx context.Context, uid uint) bool

// Sessions signs and parses session cookies.
type Sessions struct {
	secret   []byte
	ttl      time.Duration
	secure   bool
	verifier UserVerifier
	now      func() time.Time
}

// Option configures Sessions.
type Option func(*Sessions)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option { return func(s *Sessions) { s.ttl = d } }

// WithSecureCookies marks cookies Secure (HTTPS only).
func WithSecureCookies(secure bool) Option { return func(s *Sessions) { s.secure = secure } }

// WithVerifier installs a per-request user check used by RequireAuth.
func WithVerifier(v UserVerifier) Option { return func(s *Sessions) { s.verifier = v } }

// NewSessions returns a session signer. An empty secret falls back to a
// development key.
func NewSessions(secret string, opts ...Option) *Sessions {
	if secret == "" {
		secret = devFallbackKey
	}
	s := &Sessions{secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sessions) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Token returns the signed cookie value for userID. Format: "<uid>.<exp>.<sig>".
func (s *Sessions) Token(userID uint) string {
	exp := s.now().Add(s.ttl).Unix()
	payload := strconv.FormatUint(uint64(userID), 10) + "." + strconv.FormatInt(exp, 10)
	return payload + "." + s.sign(payload)
}

// Create writes the session cookie for userID.
func (s *Sessions) Create(w http.ResponseWriter, userID uint) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.Token(userID),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.now().Add(s.ttl),
	})
}

// Clear expires the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ParseToken validates a cookie value and returns its user id.
func (s *Sessions) ParseToken(token string) (uint, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, ErrInvalidSession
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(s.sign(payload))) {
		return 0, ErrInvalidSession
	}
	uid, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || uid == 0 {
		return 0, ErrInvalidSession
	}
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, ErrInvalidSession
	}
	if s.now().Unix() >= exp {
		return 0, ErrExpiredSession
	}
	return uint(uid), nil
}

// Parse reads and validates the session cookie on r.
func (s *Sessions) Parse(r *http.Request) (uint, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return 0, ErrNoSession
	}
	return s.ParseToken(c.Value)
}

// Middleware attaches the user id to the request context when a valid
// session cookie is present. It never rejects a request.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid, err := s.Parse(r); err == nil {
			r = r.WithContext(WithUserID(r.Context(), uid))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests without an authenticated, verified user.
func (s *Sessions) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		if !ok {
			httpx.Fail(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}
		if s.verifier != nil && !s.verifier(r.Context(), uid) {
			s.Clear(w)
			httpx.Fail(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUserID stores the user id in ctx.
func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(ctxKey{}).(uint)
	return id, ok && id != 0
}
