package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_RoundTrip(t *testing.T) {
	s := NewSessions("s3cret")
	rr := httptest.NewRecorder()
	s.Create(rr, 42)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	uid, err := s.Parse(req)
	require.NoError(t, err)
	assert.Equal(t, uint(42), uid)
}

func TestSessions_ParseToken(t *testing.T) {
	s := NewSessions("s3cret")
	other := NewSessions("another")
	token := s.Token(7)

	_, err := other.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidSession, "foreign signature")

	_, err = s.ParseToken("7.123")
	assert.ErrorIs(t, err, ErrInvalidSession, "missing signature")

	_, err = s.ParseToken("8" + token[1:])
	assert.ErrorIs(t, err, ErrInvalidSession, "tampered user id")

	expired := NewSessions("s3cret", WithTTL(time.Hour))
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	_, err = s.ParseToken(expired.Token(7))
	assert.ErrorIs(t, err, ErrExpiredSession)
}

func TestSessions_Middleware(t *testing.T) {
	s := NewSessions("")
	var seen uint
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: s.Token(5)})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, uint(5), seen)

	seen = 0
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "garbage"})
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Zero(t, seen)
}

func TestSessions_RequireAuth(t *testing.T) {
	allowed := map[uint]bool{1: true}
	s := NewSessions("k", WithVerifier(func(_ context.Context, uid uint) bool { return allowed[uid] }))
	ok := s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"anonymous", context.Background(), http.StatusUnauthorized},
		{"verified", WithUserID(context.Background(), 1), http.StatusNoContent},
		{"deleted user", WithUserID(context.Background(), 2), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			ok.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(tt.ctx))
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestUserIDFromContext_Zero(t *testing.T) {
	_, ok := UserIDFromContext(WithUserID(context.Background(), 0))
	assert.False(t, ok)
	_, ok = UserIDFromContext(context.Background())
	assert.False(t, ok)
}
