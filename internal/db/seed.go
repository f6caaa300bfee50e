package db

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/gate"
	"github.com/diewo77/go-partners/internal/models"
)

// Profile names created by SeedProfiles.
const (
	ProfileAdmin   = "admin"
	ProfileSupport = "support"
	ProfilePartner = "partner"
)

// Resource types guarded by the gate.
const (
	ResourcePartner             = "partner"
	ResourceDocument            = "document"
	ResourceTemplate            = "template"
	ResourceWebhookEvent        = "webhook_event"
	ResourceOnboardingSession   = "onboarding_session"
	ResourceSupportConversation = "support_conversation"
	ResourceUser                = "user"
	ResourceProfile             = "profile"
)

var resourceActions = []struct {
	Resource string
	Label    string
	Actions  []gate.Action
}{
	{ResourcePartner, "partners", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete, gate.ActionApprove}},
	{ResourceDocument, "partner documents", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionSign}},
	{ResourceTemplate, "document templates", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate}},
	{ResourceWebhookEvent, "webhook events", []gate.Action{gate.ActionList, gate.ActionView}},
	{ResourceOnboardingSession, "onboarding sessions", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate}},
	{ResourceSupportConversation, "support conversations", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionUpdate, gate.ActionEscalate}},
	{ResourceUser, "users", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionUpdate}},
	{ResourceProfile, "profiles", []gate.Action{gate.ActionList, gate.ActionView, gate.ActionCreate, gate.ActionUpdate, gate.ActionDelete}},
}

var seedProfiles = []struct {
	Name        string
	Description string
	Permissions []string
}{
	{
		Name:        ProfileAdmin,
		Description: "Full system administrator with all permissions",
		Permissions: []string{string(gate.PermissionSuperAdmin)},
	},
	{
		Name:        ProfileSupport,
		Description: "Triage support conversations and look up partners",
		Permissions: []string{
			"support_conversation:*",
			"partner:list",
			"partner:view",
			"onboarding_session:list",
			"onboarding_session:view",
			"template:list",
			"template:view",
			"webhook_event:list",
		},
	},
	{
		Name:        ProfilePartner,
		Description: "A partner managing its own account",
		Permissions: []string{
			"partner:view",
			"partner:update",
			"document:view",
			"document:sign",
			"template:list",
			"template:view",
			"onboarding_session:*",
		},
	},
}

// SeedOptions controls the optional admin account.
type SeedOptions struct {
	AdminEmail    string
	AdminPassword string
}

// Seed creates permissions, profiles and, when a password is given, the
// admin user. It is safe to run repeatedly.
func Seed(gdb *gorm.DB, opts SeedOptions) error {
	if err := SeedProfiles(gdb); err != nil {
		return err
	}
	if opts.AdminPassword == "" {
		return nil
	}
	return SeedAdmin(gdb, opts.AdminEmail, opts.AdminPassword)
}

// SeedPermissions creates every resource:action pair plus the wildcards.
func SeedPermissions(gdb *gorm.DB) error {
	perms := []models.Permission{
		{ResourceType: gate.Wildcard, Action: gate.Wildcard, Description: "Full system access"},
	}
	for _, ra := range resourceActions {
		perms = append(perms, models.Permission{
			ResourceType: ra.Resource, Action: gate.Wildcard, Description: "All actions on " + ra.Label,
		})
		for _, a := range ra.Actions {
			perms = append(perms, models.Permission{
				ResourceType: ra.Resource, Action: string(a), Description: fmt.Sprintf("%s %s", strings.ToUpper(string(a[:1]))+string(a[1:]), ra.Label),
			})
		}
	}

	for _, p := range perms {
		perm := p
		err := gdb.Where("resource_type = ? AND action = ?", p.ResourceType, p.Action).
			FirstOrCreate(&perm).Error
		if err != nil {
			return fmt.Errorf("seed permission %s: %w", p.Code(), err)
		}
	}
	return nil
}

// SeedProfiles creates the system profiles and resets their permissions.
func SeedProfiles(gdb *gorm.DB) error {
	if err := SeedPermissions(gdb); err != nil {
		return err
	}

	for _, sp := range seedProfiles {
		var profile models.Profile
		err := gdb.Where("name = ?", sp.Name).First(&profile).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			profile = models.Profile{Name: sp.Name, Description: sp.Description, IsSystem: true}
			if err := gdb.Create(&profile).Error; err != nil {
				return fmt.Errorf("create profile %s: %w", sp.Name, err)
			}
		case err != nil:
			return err
		}

		var perms []models.Permission
		for _, code := range sp.Permissions {
			p, err := gate.ParsePermission(code)
			if err != nil {
				return fmt.Errorf("profile %s: %w", sp.Name, err)
			}
			resource, action := p.Split()
			var perm models.Permission
			if err := gdb.Where("resource_type = ? AND action = ?", resource, string(action)).First(&perm).Error; err != nil {
				return fmt.Errorf("profile %s: permission %s: %w", sp.Name, code, err)
			}
			perms = append(perms, perm)
		}
		if err := gdb.Model(&profile).Association("Permissions").Replace(perms); err != nil {
			return err
		}
	}
	return nil
}

// SeedAdmin creates the admin user, or attaches the admin profile to an
// existing user with that email. An existing password is left untouched.
func SeedAdmin(gdb *gorm.DB, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("admin email is empty")
	}
	var profile models.Profile
	if err := gdb.Where("name = ?", ProfileAdmin).First(&profile).Error; err != nil {
		return fmt.Errorf("admin profile: %w", err)
	}

	var user models.User
	err := gdb.Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user = models.User{Email: email, Name: "Administrator", Password: string(hash), ProfileID: &profile.ID}
		return gdb.Create(&user).Error
	}
	if err != nil {
		return err
	}
	return gdb.Model(&user).Update("profile_id", profile.ID).Error
}
