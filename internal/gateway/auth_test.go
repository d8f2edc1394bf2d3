package gateway

import (
	"context"
	"testing"

	"github.com/aoe-sh/gateway/internal/acl"
)

func (e *testEnv) authCheck(chatID, cmdKey string) bool {
	e.t.Helper()
	m := &msg{gw: e.gw, ctx: context.Background(), chatID: chatID, started: e.clk.now}
	m.role = e.lists.Role(chatID)
	return m.enforceCommandAuth(cmdKey)
}

func TestEnforceCommandAuthUnknownChat(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		cmd    string
		denied bool
	}{
		{"start", false},
		{"help", false},
		{"whoami", false},
		{"run", true},
		{"orch-monitor", true},
		{"grant", true},
		// lockme passes the role gate but the gateway has an owner, so
		// the claim stays owner-only.
		{"lockme", true},
	}
	for _, tc := range tests {
		if got := env.authCheck("777", tc.cmd); got != tc.denied {
			t.Errorf("unknown chat %s: denied = %v, want %v", tc.cmd, got, tc.denied)
		}
	}
}

func TestEnforceCommandAuthOwnerGates(t *testing.T) {
	env := newTestEnv(t)
	env.lists.Admin.Add("100")

	for _, cmd := range []string{"lockme", "grant", "revoke"} {
		if env.authCheck(ownerChat, cmd) {
			t.Errorf("owner denied %s", cmd)
		}
		if !env.authCheck("100", cmd) {
			t.Errorf("admin passed owner-only %s", cmd)
		}
	}
	env.requireReplyContains("owner-only")
}

func TestEnforceCommandAuthLockmeClaim(t *testing.T) {
	// No owner configured: once somebody holds the allowlist, claiming
	// is admin-only. Allow-list chats carry admin rights, so only a
	// readonly chat hits this gate.
	env := newTestEnv(t)
	env.lists.Owner = ""
	env.lists.Allow = acl.NewSet("300")
	env.lists.Admin.Add("100")
	env.lists.Readonly.Add("200")

	if env.authCheck("100", "lockme") {
		t.Error("admin blocked from lockme")
	}
	if env.authCheck("300", "lockme") {
		t.Error("allow-list chat blocked from lockme")
	}
	if !env.authCheck("200", "lockme") {
		t.Error("readonly chat claimed lockme after initial claim")
	}
	env.requireReplyContains("admin-only after initial claim")
}

func TestEnforceCommandAuthReadonly(t *testing.T) {
	env := newTestEnv(t)
	env.lists.Readonly.Add("200")

	allowed := []string{
		"start", "help", "orch-help", "mode", "whoami", "acl",
		"status", "orch-status", "request", "orch-list",
		"orch-monitor", "orch-kpi", "orch-check", "orch-task",
		"orch-pick", "cancel-pending",
	}
	for _, cmd := range allowed {
		if env.authCheck("200", cmd) {
			t.Errorf("readonly denied %s", cmd)
		}
	}

	denied := []string{"run", "run-default", "orch-cancel", "orch-retry", "orch-replan", "add-role", "orch-add", "orch-use"}
	for _, cmd := range denied {
		if !env.authCheck("200", cmd) {
			t.Errorf("readonly passed %s", cmd)
		}
	}
	env.requireReplyContains("readonly chat")
}

func TestEnforceCommandAuthLogsDenial(t *testing.T) {
	env := newTestEnv(t)

	env.authCheck("777", "run")

	row := env.requireEvent("auth_denied")
	if row.ErrorCode != "E_AUTH" || row.Status != "rejected" {
		t.Errorf("auth_denied row = %+v", row)
	}
}

func TestBootstrapAllowedCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"/start", true},
		{"/help", true},
		{"/id", true},
		{"/whoami", true},
		{"/lockme", true},
		{"/onlyme", true},
		{"/run 빌드", false},
		{"/monitor", false},
		{"hello", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := bootstrapAllowedCommand(tc.text); got != tc.want {
			t.Errorf("bootstrapAllowedCommand(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
