// Package policy wires the gate to the application: profiles come from the
// database, partners and their documents are guarded by ownership with an
// admin bypass.
package policy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/diewo77/go-partners/auth"
	"github.com/diewo77/go-partners/gate"
	"github.com/diewo77/go-partners/httpx"
	"github.com/diewo77/go-partners/internal/db"
)

// AuthGate is the application's authorization checkpoint. The subject is
// the user id stored in the request context by auth.Sessions.
type AuthGate struct {
	Gate     *gate.Gate[uint]
	Resolver *gate.CachedResolver[uint]
}

// NewAuthGate builds a gate over database profiles cached for cacheTTL and
// registers the ownership policies for partner-owned resources.
func NewAuthGate(gdb *gorm.DB, cacheTTL time.Duration) *AuthGate {
	cached := gate.NewCachedResolver[uint](NewDBProfileResolver(gdb), cacheTTL)
	ag := &AuthGate{Gate: gate.New[uint](cached), Resolver: cached}

	owned := NewAdminBypassPolicy(NewOwnershipPolicy(), ag.Gate.IsSuperAdmin)
	for _, resource := range []string{db.ResourcePartner, db.ResourceDocument, db.ResourceOnboardingSession} {
		ag.Gate.Register(resource, owned)
	}
	return ag
}

// RegisterPolicy installs p for resourceType.
func (ag *AuthGate) RegisterPolicy(resourceType string, p gate.Policy[uint]) {
	ag.Gate.Register(resourceType, p)
}

// Authorize checks the current user. It returns gate.ErrUnauthenticated
// when the context carries no user.
func (ag *AuthGate) Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return gate.ErrUnauthenticated
	}
	return ag.Gate.Authorize(ctx, userID, action, resourceType, resource)
}

func (ag *AuthGate) Can(ctx context.Context, action gate.Action, resourceType string, resource any) bool {
	return ag.Authorize(ctx, action, resourceType, resource) == nil
}

// CanProfile checks the profile permission only, before a resource is
// loaded.
func (ag *AuthGate) CanProfile(ctx context.Context, action gate.Action, resourceType string) bool {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return false
	}
	return ag.Gate.Allows(ctx, userID, action, resourceType)
}

// IsAdmin reports whether the current user holds the superadmin permission.
func (ag *AuthGate) IsAdmin(ctx context.Context) bool {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return false
	}
	return ag.Gate.IsSuperAdmin(ctx, userID)
}

// InvalidateUser drops a user's cached profile after it changed.
func (ag *AuthGate) InvalidateUser(userID uint) {
	ag.Resolver.Invalidate(userID)
}

// InvalidateAll drops every cached profile, e.g. after permissions changed.
func (ag *AuthGate) InvalidateAll() {
	ag.Resolver.InvalidateAll()
}

// RequirePermission rejects requests whose user lacks resourceType:action.
func (ag *AuthGate) RequirePermission(resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.UserIDFromContext(r.Context()); !ok {
				httpx.Fail(w, http.StatusUnauthorized, "Unauthorized", nil)
				return
			}
			if !ag.CanProfile(r.Context(), action, resourceType) {
				httpx.Fail(w, http.StatusForbidden, "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin only lets superadmins through.
func (ag *AuthGate) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.UserIDFromContext(r.Context()); !ok {
				httpx.Fail(w, http.StatusUnauthorized, "Unauthorized", nil)
				return
			}
			if !ag.IsAdmin(r.Context()) {
				httpx.Fail(w, http.StatusForbidden, "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StatusFor maps a gate error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, gate.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, gate.ErrUnauthorized), errors.Is(err, gate.ErrNoPolicyDefined):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
