package gate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/diewo77/go-partners/gate"
)

type ownedDoc struct{ owner uint }

func ownerPolicy() gate.Policy[uint] {
	return gate.PolicyFunc[uint](func(_ context.Context, user uint, _ gate.Action, resource any) bool {
		d, ok := resource.(*ownedDoc)
		return ok && d.owner == user
	})
}

func newTestGate() *gate.Gate[uint] {
	resolver := gate.NewStaticResolver[uint]()
	resolver.Set(1, gate.NewStaticProfile("admin", gate.PermissionSuperAdmin))
	resolver.Set(2, gate.NewStaticProfile("partner", "document:sign", "document:view", "partner:*"))
	resolver.Set(3, gate.NewStaticProfile("support", "*:list", "support_conversation:*"))
	g := gate.New[uint](resolver)
	g.Register("document", ownerPolicy())
	return g
}

func TestGate_Authorize(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()

	tests := []struct {
		name     string
		user     uint
		action   gate.Action
		resource string
		subject  any
		want     error
	}{
		{"zero user", 0, gate.ActionView, "document", nil, gate.ErrUnauthenticated},
		{"unknown user has no profile", 99, gate.ActionView, "document", nil, gate.ErrUnauthorized},
		{"profile grants without resource", 2, gate.ActionSign, "document", nil, nil},
		{"owner passes policy", 2, gate.ActionSign, "document", &ownedDoc{owner: 2}, nil},
		{"non owner fails policy", 2, gate.ActionSign, "document", &ownedDoc{owner: 7}, gate.ErrUnauthorized},
		{"profile lacks action", 2, gate.ActionDelete, "document", nil, gate.ErrUnauthorized},
		{"resource wildcard", 2, gate.ActionApprove, "partner", nil, nil},
		{"action wildcard", 3, gate.ActionList, "partner", nil, nil},
		{"superadmin still subject to policy", 1, gate.ActionView, "document", &ownedDoc{owner: 2}, gate.ErrUnauthorized},
		{"no policy registered uses profile only", 3, gate.ActionEscalate, "support_conversation", struct{}{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Authorize(ctx, tt.user, tt.action, tt.resource, tt.subject)
			if !errors.Is(err, tt.want) {
				t.Errorf("Authorize() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGate_WithoutResolver(t *testing.T) {
	ctx := context.Background()
	g := gate.New[uint](nil)

	if err := g.Authorize(ctx, 1, gate.ActionView, "document", nil); !errors.Is(err, gate.ErrNoPolicyDefined) {
		t.Errorf("expected ErrNoPolicyDefined, got %v", err)
	}

	g.Register("document", ownerPolicy())
	if !g.Can(ctx, 4, gate.ActionView, "document", &ownedDoc{owner: 4}) {
		t.Error("expected owner to pass policy-only gate")
	}
	if g.Can(ctx, 4, gate.ActionView, "document", &ownedDoc{owner: 5}) {
		t.Error("expected non owner to be denied")
	}
	if g.Allows(ctx, 4, gate.ActionView, "document") {
		t.Error("Allows must be false without a resolver")
	}
}

func TestGate_IsSuperAdmin(t *testing.T) {
	ctx := context.Background()
	g := newTestGate()

	if !g.IsSuperAdmin(ctx, 1) {
		t.Error("expected user 1 to be superadmin")
	}
	if g.IsSuperAdmin(ctx, 2) {
		t.Error("partner profile must not be superadmin")
	}
	if g.IsSuperAdmin(ctx, 0) {
		t.Error("zero user must not be superadmin")
	}
}
