package gate_test

import (
	"testing"

	"github.com/diewo77/go-partners/gate"
)

func TestParsePermission(t *testing.T) {
	valid := map[string]gate.Permission{
		"partner:view":   "partner:view",
		" document:sign": "document:sign",
		"*:*":            gate.PermissionSuperAdmin,
	}
	for in, want := range valid {
		got, err := gate.ParsePermission(in)
		if err != nil {
			t.Errorf("ParsePermission(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParsePermission(%q) = %q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"", "partner", ":view", "partner:", "a:b:c"} {
		if _, err := gate.ParsePermission(in); err == nil {
			t.Errorf("ParsePermission(%q) expected error", in)
		}
	}
}

func TestPermission_Split(t *testing.T) {
	res, act := gate.NewPermission("template", gate.ActionCreate).Split()
	if res != "template" || act != gate.ActionCreate {
		t.Errorf("Split() = %q, %q", res, act)
	}
	res, act = gate.Permission("broken").Split()
	if res != "" || act != "" {
		t.Errorf("expected empty split for malformed permission, got %q, %q", res, act)
	}
}

func TestPermission_Matches(t *testing.T) {
	tests := []struct {
		granted   gate.Permission
		requested gate.Permission
		want      bool
	}{
		{"partner:view", "partner:view", true},
		{"partner:view", "partner:update", false},
		{"partner:*", "partner:approve", true},
		{"partner:*", "document:view", false},
		{"*:list", "webhook_event:list", true},
		{"*:list", "webhook_event:view", false},
		{gate.PermissionSuperAdmin, "anything:goes", true},
		{"broken", "broken", true},
		{"broken", "partner:view", false},
	}
	for _, tt := range tests {
		if got := tt.granted.Matches(tt.requested); got != tt.want {
			t.Errorf("%q.Matches(%q) = %v, want %v", tt.granted, tt.requested, got, tt.want)
		}
	}
}

func TestPermissionSet_Has(t *testing.T) {
	set := gate.PermissionSet{"document:view", "support_conversation:*"}
	if !set.Has("support_conversation:escalate") {
		t.Error("expected wildcard grant to match")
	}
	if set.Has("document:sign") {
		t.Error("did not expect document:sign")
	}
	if (gate.PermissionSet{}).Has("document:view") {
		t.Error("empty set must not grant anything")
	}
}
