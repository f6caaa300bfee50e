// Package handlers implements the JSON HTTP API.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/diewo77/go-partners/gate"
	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/validation"
)

// Authorizer is the slice of policy.AuthGate the handlers use.
type Authorizer interface {
	Can(ctx context.Context, action gate.Action, resourceType string, resource any) bool
	IsAdmin(ctx context.Context) bool
}

// ProfileCache is invalidated when profiles or assignments change.
// *gate.CachedResolver satisfies it.
type ProfileCache interface {
	Invalidate(userID uint)
	InvalidateAll()
}

// ok writes body with success set.
func ok(w http.ResponseWriter, status int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["success"] = true
	httpx.JSON(w, status, body)
}

// decode reads a JSON body into dst and validates its tags. It writes the
// 400 response itself and reports false on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		switch {
		case errors.Is(err, httpx.ErrEmptyBody):
			httpx.Fail(w, http.StatusBadRequest, "Request body is required", nil)
		default:
			httpx.Fail(w, http.StatusBadRequest, "Invalid JSON body", nil)
		}
		return false
	}
	if v := validation.Struct(dst); v != nil {
		httpx.Fail(w, http.StatusBadRequest, "Validation failed", v)
		return false
	}
	return true
}
