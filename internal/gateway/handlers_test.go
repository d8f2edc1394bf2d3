package gateway

import (
	"os"
	"strings"
	"testing"

	"github.com/aoe-sh/gateway/internal/acl"
)

func TestModeLifecycle(t *testing.T) {
	env := newTestEnv(t)

	env.handle(ownerChat, "/mode")
	env.requireReplyContains("routing mode")
	env.requireReplyContains("- default_mode: off")

	env.handle(ownerChat, "/on")
	env.requireReplyContains("routing mode updated")
	env.requireReplyContains("- default_mode: dispatch")
	if got := env.manager.DefaultMode(ownerChat); got != "dispatch" {
		t.Fatalf("default mode = %q, want dispatch", got)
	}

	env.handle(ownerChat, "/mode direct")
	env.requireReplyContains("- default_mode: direct")
	if got := env.manager.DefaultMode(ownerChat); got != "direct" {
		t.Fatalf("default mode = %q, want direct", got)
	}

	env.handle(ownerChat, "/off")
	env.requireReplyContains("- default_mode: off")
	env.requireReplyContains("- changed: yes")
	if got := env.manager.DefaultMode(ownerChat); got != "" {
		t.Fatalf("default mode = %q, want cleared", got)
	}
}

func TestModeChangeDeniedForReadonly(t *testing.T) {
	env := newTestEnv(t)
	env.lists.Readonly = acl.NewSet("200")

	// status stays readable
	env.handle("200", "/mode")
	env.requireReplyContains("routing mode")

	env.handle("200", "/mode direct")
	env.requireReplyContains("readonly chat cannot change routing mode")
	if got := env.manager.DefaultMode("200"); got != "" {
		t.Fatalf("readonly chat changed mode to %q", got)
	}
}

func TestQuickPendingModeArmAndCancel(t *testing.T) {
	env := newTestEnv(t)

	env.handle(ownerChat, "/dispatch")
	env.requireReplyContains("dispatch 모드 활성화")
	if got := env.manager.PendingMode(ownerChat); got != "dispatch" {
		t.Fatalf("pending mode = %q, want dispatch", got)
	}

	env.handle(ownerChat, "/cancel")
	env.requireReplyContains("대기 모드/확인 요청을 해제했습니다.")
	if got := env.manager.PendingMode(ownerChat); got != "" {
		t.Fatalf("pending mode = %q, want cleared", got)
	}

	env.handle(ownerChat, "/cancel")
	env.requireReplyContains("해제할 대기 모드나 확인 요청이 없습니다.")
}

func TestWhoamiReport(t *testing.T) {
	env := newTestEnv(t)

	env.handle(ownerChat, "/whoami")
	for _, want := range []string{
		"telegram identity",
		"- chat_id: 42",
		"- role: owner",
		"- is_owner: yes",
		"- deny_by_default: yes",
	} {
		env.requireReplyContains(want)
	}
}

func TestGrantAddsAdminAndSyncsEnv(t *testing.T) {
	env := newTestEnv(t)

	env.handle(ownerChat, "/grant admin 777")
	env.requireReplyContains("acl updated")
	env.requireReplyContains("- action: grant")
	env.requireReplyContains("- scope: admin")
	env.requireReplyContains("- role_now: admin")

	if !env.lists.Admin.Has("777") {
		t.Fatal("target missing from admin set")
	}

	row := env.requireEvent("acl_update")
	if !strings.Contains(row.Detail, "action=grant scope=admin target=777") {
		t.Errorf("acl_update detail = %q", row.Detail)
	}

	data, err := os.ReadFile(env.cfg.ACLEnvFile())
	if err != nil {
		t.Fatalf("env file not written: %v", err)
	}
	if !strings.Contains(string(data), "777") {
		t.Errorf("env file missing target:\n%s", data)
	}
}

func TestGrantUsageErrors(t *testing.T) {
	env := newTestEnv(t)

	env.handle(ownerChat, "/grant admin nosuchalias")
	env.requireReplyContains("error_code: E_COMMAND")
}

func TestRevokeRemovesTarget(t *testing.T) {
	env := newTestEnv(t)
	env.lists.Readonly = acl.NewSet("200")

	env.handle(ownerChat, "/revoke readonly 200")
	env.requireReplyContains("acl updated")
	env.requireReplyContains("- action: revoke")
	if env.lists.Readonly.Has("200") {
		t.Fatal("target still in readonly set")
	}
}

func TestRevokeBlocksSelfLockout(t *testing.T) {
	env := newTestEnv(t)
	env.lists.Owner = ""
	env.lists.Allow = acl.NewSet()
	env.lists.Admin = acl.NewSet(ownerChat)

	env.handle(ownerChat, "/revoke admin 42")
	env.requireReplyContains("blocked: self-revoke")
	if !env.lists.Admin.Has(ownerChat) {
		t.Fatal("admin set lost its last member")
	}
}

func TestLockmeClaimsGateway(t *testing.T) {
	env := newTestEnv(t)
	env.lists.Owner = ""
	env.lists.Allow = acl.NewSet()
	env.lists.Admin = acl.NewSet()
	env.lists.Readonly = acl.NewSet()

	env.handle("555", "/lockme")
	env.requireReplyContains("access locked to current chat.")
	env.requireReplyContains("- allowed_chat_id: 555")

	if env.lists.Owner != "555" || !env.lists.Allow.Has("555") {
		t.Fatalf("lists not locked: owner=%q allow=%v", env.lists.Owner, env.lists.Allow.Sorted())
	}
	if !env.lists.Admin.Empty() || !env.lists.Readonly.Empty() {
		t.Fatal("admin/readonly sets should be cleared")
	}

	row := env.requireEvent("allowlist_update")
	if !strings.Contains(row.Detail, "next_owner=555") {
		t.Errorf("allowlist_update detail = %q", row.Detail)
	}

	if _, err := os.Stat(env.cfg.ACLEnvFile()); err != nil {
		t.Fatalf("env file not persisted: %v", err)
	}
}

func TestHelpCommands(t *testing.T) {
	env := newTestEnv(t)

	for _, text := range []string{"/start", "/help", "aoe help"} {
		env.handle(ownerChat, text)
		env.requireReplyContains("AOE Telegram Gateway commands")
	}
}

func TestACLReport(t *testing.T) {
	env := newTestEnv(t)
	env.lists.Admin = acl.NewSet("100")

	env.handle(ownerChat, "/acl")
	for _, want := range []string{
		"access control list",
		"- deny_by_default: yes",
		"- owner_chat_id: 42",
		"- admin: 100",
	} {
		env.requireReplyContains(want)
	}
}
