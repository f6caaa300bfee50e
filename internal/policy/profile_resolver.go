package policy

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/diewo77/go-partners/gate"
	"github.com/diewo77/go-partners/internal/models"
)

// DBProfileResolver loads a user's profile and permissions from the
// database.
type DBProfileResolver struct {
	db *gorm.DB
}

func NewDBProfileResolver(gdb *gorm.DB) *DBProfileResolver {
	return &DBProfileResolver{db: gdb}
}

// Resolve returns nil, without error, for unknown users and users without a
// profile.
func (r *DBProfileResolver) Resolve(ctx context.Context, userID uint) (gate.Profile, error) {
	if r.db == nil {
		return nil, nil
	}
	var user models.User
	err := r.db.WithContext(ctx).Preload("Profile.Permissions").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.Profile == nil {
		return nil, nil
	}
	return newDBProfile(user.Profile), nil
}

// dbProfile adapts models.Profile to gate.Profile.
type dbProfile struct {
	name   string
	grants gate.PermissionSet
}

func newDBProfile(p *models.Profile) *dbProfile {
	grants := make(gate.PermissionSet, len(p.Permissions))
	for i, perm := range p.Permissions {
		grants[i] = gate.NewPermission(perm.ResourceType, gate.Action(perm.Action))
	}
	return &dbProfile{name: p.Name, grants: grants}
}

func (p *dbProfile) Name() string                            { return p.name }
func (p *dbProfile) HasPermission(perm gate.Permission) bool { return p.grants.Has(perm) }

func (p *dbProfile) Permissions() []gate.Permission {
	out := make([]gate.Permission, len(p.grants))
	copy(out, p.grants)
	return out
}
