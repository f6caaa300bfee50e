package gate

import (
	"context"
	"sync"
)

// Profile is a named role carrying a set of permissions.
type Profile interface {
	Name() string
	HasPermission(perm Permission) bool
	Permissions() []Permission
}

// ProfileResolver looks up the profile assigned to a subject. A nil profile
// with a nil error means the subject has no profile.
type ProfileResolver[U any] interface {
	Resolve(ctx context.Context, user U) (Profile, error)
}

// ResolverFunc adapts a function to ProfileResolver.
type ResolverFunc[U any] func(ctx context.Context, user U) (Profile, error)

func (f ResolverFunc[U]) Resolve(ctx context.Context, user U) (Profile, error) {
	return f(ctx, user)
}

// StaticProfile is an in-memory Profile.
type StaticProfile struct {
	ProfileName string
	Grants      PermissionSet
}

// NewStaticProfile builds a StaticProfile from a name and permissions.
func NewStaticProfile(name string, perms ...Permission) *StaticProfile {
	return &StaticProfile{ProfileName: name, Grants: PermissionSet(perms)}
}

func (p *StaticProfile) Name() string                       { return p.ProfileName }
func (p *StaticProfile) HasPermission(perm Permission) bool { return p.Grants.Has(perm) }

func (p *StaticProfile) Permissions() []Permission {
	out := make([]Permission, len(p.Grants))
	copy(out, p.Grants)
	return out
}

// StaticResolver maps subjects to profiles in memory.
type StaticResolver[U comparable] struct {
	mu       sync.RWMutex
	profiles map[U]Profile
}

func NewStaticResolver[U comparable]() *StaticResolver[U] {
	return &StaticResolver[U]{profiles: make(map[U]Profile)}
}

// Set assigns profile to user.
func (r *StaticResolver[U]) Set(user U, profile Profile) {
	r.mu.Lock()
	r.profiles[user] = profile
	r.mu.Unlock()
}

func (r *StaticResolver[U]) Resolve(_ context.Context, user U) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[user], nil
}
