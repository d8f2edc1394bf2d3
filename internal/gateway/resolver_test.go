package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/aoe-sh/gateway/internal/config"
	"github.com/aoe-sh/gateway/internal/parse"
)

func (e *testEnv) resolveText(chatID, text string) (*Resolved, error) {
	e.t.Helper()
	m := &msg{gw: e.gw, ctx: context.Background(), chatID: chatID, text: text, started: e.clk.now}
	return m.resolve(text)
}

func TestResolveSlashSynonyms(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		text string
		want Resolved
	}{
		{"help", "/help", Resolved{Cmd: "help"}},
		{"menu maps to help", "/menu", Resolved{Cmd: "help"}},
		{"ok", "/ok", Resolved{Cmd: "confirm-run"}},
		{"cancel bare", "/cancel", Resolved{Cmd: "cancel-pending"}},
		{"cancel with ref", "/cancel t-0007", Resolved{Cmd: "orch-cancel", RequestID: "t-0007"}},
		{"id maps to whoami", "/id", Resolved{Cmd: "whoami"}},
		{"on arms dispatch", "/on", Resolved{Cmd: "mode", ModeSetting: "dispatch"}},
		{"off clears", "/off", Resolved{Cmd: "mode", ModeSetting: "off"}},
		{"mode direct", "/mode direct", Resolved{Cmd: "mode", ModeSetting: "direct"}},
		{"onlyme maps to lockme", "/onlyme", Resolved{Cmd: "lockme"}},
		{"auth maps to acl", "/auth", Resolved{Cmd: "acl"}},
		{"grant", "/grant admin 123456", Resolved{Cmd: "grant", Scope: "admin", ChatRef: "123456"}},
		{"retry", "/retry t-0003", Resolved{Cmd: "orch-retry", RequestID: "t-0003"}},
		{"replan", "/replan build-1", Resolved{Cmd: "orch-replan", RequestID: "build-1"}},
		{"monitor limit", "/monitor 5", Resolved{Cmd: "orch-monitor", Limit: 5}},
		{"monitor project", "/monitor demo", Resolved{Cmd: "orch-monitor", OrchTarget: "demo"}},
		{"kpi hours", "/kpi 24", Resolved{Cmd: "orch-kpi", Hours: 24}},
		{"check", "/check t-0001", Resolved{Cmd: "orch-check", RequestID: "t-0001"}},
		{"task", "/task t-0001", Resolved{Cmd: "orch-task", RequestID: "t-0001"}},
		{"pick", "/pick 3", Resolved{Cmd: "orch-pick", RequestID: "3"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := env.resolveText(ownerChat, tc.text)
			if err != nil {
				t.Fatalf("resolve(%q): %v", tc.text, err)
			}
			if got.Cmd != tc.want.Cmd {
				t.Errorf("Cmd = %q, want %q", got.Cmd, tc.want.Cmd)
			}
			if got.RequestID != tc.want.RequestID {
				t.Errorf("RequestID = %q, want %q", got.RequestID, tc.want.RequestID)
			}
			if got.ModeSetting != tc.want.ModeSetting {
				t.Errorf("ModeSetting = %q, want %q", got.ModeSetting, tc.want.ModeSetting)
			}
			if got.Scope != tc.want.Scope || got.ChatRef != tc.want.ChatRef {
				t.Errorf("Scope/ChatRef = %q/%q, want %q/%q", got.Scope, got.ChatRef, tc.want.Scope, tc.want.ChatRef)
			}
			if got.Limit != tc.want.Limit || got.Hours != tc.want.Hours {
				t.Errorf("Limit/Hours = %d/%d, want %d/%d", got.Limit, got.Hours, tc.want.Limit, tc.want.Hours)
			}
			if got.OrchTarget != tc.want.OrchTarget {
				t.Errorf("OrchTarget = %q, want %q", got.OrchTarget, tc.want.OrchTarget)
			}
		})
	}
}

func TestResolveSlashRunForms(t *testing.T) {
	env := newTestEnv(t)

	r, err := env.resolveText(ownerChat, "/dispatch 배포 스크립트 정리해줘")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "run" || r.ForceMode != "dispatch" || r.RunPrompt != "배포 스크립트 정리해줘" {
		t.Errorf("dispatch form = %q/%q/%q", r.Cmd, r.ForceMode, r.RunPrompt)
	}

	r, err = env.resolveText(ownerChat, "/dispatch")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "quick-dispatch" {
		t.Errorf("bare dispatch = %q", r.Cmd)
	}

	r, err = env.resolveText(ownerChat, "/direct 지금 진행 상황 요약해줘")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "run" || r.ForceMode != "direct" {
		t.Errorf("direct form = %q/%q", r.Cmd, r.ForceMode)
	}

	// /run keeps its rest for the run handler.
	r, err = env.resolveText(ownerChat, "/run 빌드 고쳐줘")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "run" || r.Rest != "빌드 고쳐줘" {
		t.Errorf("run form = %q rest=%q", r.Cmd, r.Rest)
	}
}

func TestResolveSlashUsageErrors(t *testing.T) {
	env := newTestEnv(t)

	for _, text := range []string{"/ok now", "/mode turbo", "/grant", "/grant superuser 123"} {
		_, err := env.resolveText(ownerChat, text)
		var usage *parse.UsageError
		if !errors.As(err, &usage) {
			t.Errorf("resolve(%q) err = %v, want UsageError", text, err)
		}
	}
}

func TestResolveQuickKeywordsLooseMode(t *testing.T) {
	env := newTestEnv(t)

	r, err := env.resolveText(ownerChat, "모니터")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "orch-monitor" {
		t.Errorf("모니터 = %q", r.Cmd)
	}

	r, err = env.resolveText(ownerChat, "kpi 48")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "orch-kpi" || r.Hours != 48 {
		t.Errorf("kpi 48 = %q hours=%d", r.Cmd, r.Hours)
	}

	r, err = env.resolveText(ownerChat, "팀작업: 로그 파서 고쳐줘")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "run" || r.ForceMode != "dispatch" || r.RunPrompt != "로그 파서 고쳐줘" {
		t.Errorf("팀작업 = %q/%q/%q", r.Cmd, r.ForceMode, r.RunPrompt)
	}

	r, err = env.resolveText(ownerChat, "ok")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "confirm-run" {
		t.Errorf("ok = %q", r.Cmd)
	}
}

func TestResolveCLIRunFlags(t *testing.T) {
	env := newTestEnv(t)

	r, err := env.resolveText(ownerChat, "aoe run --direct --roles Reviewer,QA --priority p1 --timeout-sec 120 --no-wait 빌드 고쳐줘")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "run" || r.ForceMode != "direct" {
		t.Fatalf("cmd/mode = %q/%q", r.Cmd, r.ForceMode)
	}
	if r.RolesOverride == nil || *r.RolesOverride != "Reviewer,QA" {
		t.Errorf("roles override = %v", r.RolesOverride)
	}
	if r.Priority != "P1" {
		t.Errorf("priority = %q", r.Priority)
	}
	if r.TimeoutSec == nil || *r.TimeoutSec != 120 {
		t.Errorf("timeout = %v", r.TimeoutSec)
	}
	if r.NoWait == nil || !*r.NoWait {
		t.Errorf("no-wait = %v", r.NoWait)
	}
	if r.RunPrompt != "빌드 고쳐줘" {
		t.Errorf("prompt = %q", r.RunPrompt)
	}
}

func TestResolvePendingModeOneShot(t *testing.T) {
	env := newTestEnv(t)
	env.manager.SetPendingMode(ownerChat, "direct", env.gw.nowISO())

	r, err := env.resolveText(ownerChat, "어제 배포 상태 알려줘")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "run" || r.ForceMode != "direct" || r.AutoSource != "pending" {
		t.Errorf("pending redemption = %q/%q/%q", r.Cmd, r.ForceMode, r.AutoSource)
	}
	if got := env.manager.PendingMode(ownerChat); got != "" {
		t.Errorf("pending mode not cleared: %q", got)
	}
}

func TestResolveStickyDefaultMode(t *testing.T) {
	env := newTestEnv(t)
	env.manager.SetDefaultMode(ownerChat, "dispatch", env.gw.nowISO())

	r, err := env.resolveText(ownerChat, "로그 적재 파이프라인 점검")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "run" || r.ForceMode != "dispatch" || r.AutoSource != "default" {
		t.Errorf("sticky mode = %q/%q/%q", r.Cmd, r.ForceMode, r.AutoSource)
	}
	// Sticky mode survives; only the one-shot is consumed.
	if got := env.manager.DefaultMode(ownerChat); got != "dispatch" {
		t.Errorf("default mode = %q", got)
	}
}

func TestResolveSlashOnlyKeepsSafeSubset(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Run.SlashOnly = true })

	// Plain prompts stay unresolved so the handler can reject them.
	r, err := env.resolveText(ownerChat, "그냥 평문 요청")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "" {
		t.Errorf("plain text resolved to %q under slash-only", r.Cmd)
	}

	// Read-only quick keywords stay reachable.
	r, err = env.resolveText(ownerChat, "모니터")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "orch-monitor" {
		t.Errorf("safe keyword = %q", r.Cmd)
	}

	// Work-dispatching quick forms are not in the safe set.
	r, err = env.resolveText(ownerChat, "팀작업: 빌드 정리")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "" {
		t.Errorf("work keyword resolved to %q under slash-only", r.Cmd)
	}

	// The CLI grammar is always reachable.
	r, err = env.resolveText(ownerChat, "aoe monitor 3")
	if err != nil {
		t.Fatal(err)
	}
	if r.Cmd != "orch-monitor" || r.Limit != 3 {
		t.Errorf("cli under slash-only = %q limit=%d", r.Cmd, r.Limit)
	}
}
