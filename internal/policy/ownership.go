package policy

import (
	"context"

	"github.com/diewo77/go-partners/gate"
)

// Ownable is implemented by models that belong to one user.
type Ownable interface {
	GetUserID() uint
}

// OwnershipPolicy allows a user to act on resources they own. Resources
// that are not Ownable are denied.
type OwnershipPolicy struct{}

func NewOwnershipPolicy() *OwnershipPolicy {
	return &OwnershipPolicy{}
}

func (p *OwnershipPolicy) Can(_ context.Context, userID uint, _ gate.Action, resource any) bool {
	if resource == nil {
		return true
	}
	ownable, ok := resource.(Ownable)
	if !ok {
		return false
	}
	owner := ownable.GetUserID()
	return owner != 0 && owner == userID
}

// AdminBypassPolicy lets admins through and defers everyone else to inner.
type AdminBypassPolicy struct {
	inner   gate.Policy[uint]
	isAdmin func(ctx context.Context, userID uint) bool
}

func NewAdminBypassPolicy(inner gate.Policy[uint], isAdmin func(ctx context.Context, userID uint) bool) *AdminBypassPolicy {
	return &AdminBypassPolicy{inner: inner, isAdmin: isAdmin}
}

func (p *AdminBypassPolicy) Can(ctx context.Context, userID uint, action gate.Action, resource any) bool {
	if p.isAdmin(ctx, userID) {
		return true
	}
	return p.inner.Can(ctx, userID, action, resource)
}
