package gate

import (
	"fmt"
	"strings"
)

// Action is the verb half of a permission.
type Action string

const (
	ActionView     Action = "view"
	ActionList     Action = "list"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionSign     Action = "sign"
	ActionApprove  Action = "approve"
	ActionEscalate Action = "escalate"
)

// Wildcard stands for any resource or any action.
const Wildcard = "*"

// PermissionSuperAdmin matches every permission.
const PermissionSuperAdmin Permission = "*:*"

// Permission is a "resource:action" pair, e.g. "partner:view".
type Permission string

// NewPermission joins a resource type and an action.
func NewPermission(resourceType string, action Action) Permission {
	return Permission(resourceType + ":" + string(action))
}

// ParsePermission validates s and returns it as a Permission.
func ParsePermission(s string) (Permission, error) {
	res, act, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || res == "" || act == "" || strings.Contains(act, ":") {
		return "", fmt.Errorf("gate: malformed permission %q", s)
	}
	return NewPermission(res, Action(act)), nil
}

// Split returns the resource type and action. Both are empty when the
// permission is malformed.
func (p Permission) Split() (string, Action) {
	res, act, ok := strings.Cut(string(p), ":")
	if !ok {
		return "", ""
	}
	return res, Action(act)
}

// Matches reports whether p covers requested. Either half of p may be a
// wildcard: "partner:*" covers every partner action and "*:list" covers
// listing any resource.
func (p Permission) Matches(requested Permission) bool {
	if p == PermissionSuperAdmin || p == requested {
		return true
	}
	res, act := p.Split()
	reqRes, reqAct := requested.Split()
	if res == "" || reqRes == "" {
		return false
	}
	resOK := res == Wildcard || res == reqRes
	actOK := string(act) == Wildcard || act == reqAct
	return resOK && actOK
}

// PermissionSet is a list of granted permissions.
type PermissionSet []Permission

// Has reports whether any granted permission matches requested.
func (s PermissionSet) Has(requested Permission) bool {
	for _, p := range s {
		if p.Matches(requested) {
			return true
		}
	}
	return false
}
