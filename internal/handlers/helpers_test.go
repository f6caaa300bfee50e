package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/diewo77/go-partners/auth"
	"github.com/diewo77/go-partners/gate"
	"github.com/diewo77/go-partners/internal/db"
	"github.com/diewo77/go-partners/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

// seededDB is newTestDB plus the default profiles and an admin account.
func seededDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb := newTestDB(t)
	require.NoError(t, db.Seed(gdb, db.SeedOptions{AdminEmail: "admin@example.com", AdminPassword: "s3cret-pass"}))
	return gdb
}

func createUser(t *testing.T, gdb *gorm.DB, email, password, profile string) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := models.User{Email: email, Password: string(hash)}
	if profile != "" {
		var p models.Profile
		require.NoError(t, gdb.Where("name = ?", profile).First(&p).Error)
		u.ProfileID = &p.ID
	}
	require.NoError(t, gdb.Create(&u).Error)
	return u
}

// request builds a request whose body is body marshalled to JSON, or sent
// as is when it is a string.
func request(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func asUser(req *http.Request, uid uint) *http.Request {
	return req.WithContext(auth.WithUserID(req.Context(), uid))
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// fakeAuthz allows what its fields say.
type fakeAuthz struct {
	admin bool
	can   bool
}

func (f fakeAuthz) Can(context.Context, gate.Action, string, any) bool { return f.can || f.admin }
func (f fakeAuthz) IsAdmin(context.Context) bool                       { return f.admin }

type fakeCache struct {
	users []uint
	all   int
}

func (f *fakeCache) Invalidate(uid uint) { f.users = append(f.users, uid) }
func (f *fakeCache) InvalidateAll()      { f.all++ }
