package state

import (
	"strconv"
	"strings"
	"testing"
)

const sessionNow = "2026-01-01T10:00:00+0900"

func TestPendingModeLifecycle(t *testing.T) {
	m := DefaultManager("/tmp/p", "/tmp/p/.aoe-team")

	m.SetPendingMode("111", "dispatch", sessionNow)
	if got := m.PendingMode("111"); got != "dispatch" {
		t.Errorf("pending = %q", got)
	}

	// Invalid modes are ignored.
	m.SetPendingMode("111", "turbo", sessionNow)
	if got := m.PendingMode("111"); got != "dispatch" {
		t.Errorf("invalid mode overwrote: %q", got)
	}

	if !m.ClearPendingMode("111", sessionNow) {
		t.Error("clear should report existing mode")
	}
	if m.ClearPendingMode("111", sessionNow) {
		t.Error("second clear should report nothing")
	}
	// Emptied row is dropped entirely.
	if _, ok := m.ChatSessions["111"]; ok {
		t.Error("empty session row kept")
	}
}

func TestDefaultModeLifecycle(t *testing.T) {
	m := DefaultManager("/tmp/p", "/tmp/p/.aoe-team")

	m.SetDefaultMode("111", "DIRECT", sessionNow)
	if got := m.DefaultMode("111"); got != "direct" {
		t.Errorf("default = %q", got)
	}
	if got := m.DefaultMode("999"); got != "" {
		t.Errorf("unknown chat default = %q", got)
	}

	if !m.ClearDefaultMode("111", sessionNow) {
		t.Error("clear should report existing mode")
	}
	if _, ok := m.ChatSessions["111"]; ok {
		t.Error("empty session row kept")
	}
}

func TestConfirmLifecycle(t *testing.T) {
	m := DefaultManager("/tmp/p", "/tmp/p/.aoe-team")

	m.SetConfirm("111", "dispatch", "  rm -rf build  ", "delete files", "demo", sessionNow)
	c := m.ConfirmFor("111")
	if c == nil {
		t.Fatal("confirm not armed")
	}
	if c.Prompt != "rm -rf build" || c.Mode != "dispatch" || c.Orch != "demo" {
		t.Errorf("confirm = %+v", c)
	}
	if c.RequestedAt != sessionNow {
		t.Errorf("requested_at = %q", c.RequestedAt)
	}

	// Second arm replaces the slot.
	m.SetConfirm("111", "direct", "other", "", "", sessionNow)
	if c = m.ConfirmFor("111"); c == nil || c.Prompt != "other" {
		t.Errorf("replacement confirm = %+v", c)
	}

	if !m.ClearConfirm("111", sessionNow) {
		t.Error("clear should report armed slot")
	}
	if m.ConfirmFor("111") != nil {
		t.Error("confirm survived clear")
	}
}

func TestConfirmValidation(t *testing.T) {
	m := DefaultManager("/tmp/p", "/tmp/p/.aoe-team")

	m.SetConfirm("111", "bogus", "prompt", "", "", sessionNow)
	if m.ConfirmFor("111") != nil {
		t.Error("invalid mode armed a confirm")
	}
	m.SetConfirm("111", "dispatch", "   ", "", "", sessionNow)
	if m.ConfirmFor("111") != nil {
		t.Error("empty prompt armed a confirm")
	}

	// Prompt and risk are capped.
	m.SetConfirm("111", "dispatch", strings.Repeat("x", 3000), strings.Repeat("r", 200), "", sessionNow)
	c := m.ConfirmFor("111")
	if c == nil {
		t.Fatal("confirm not armed")
	}
	if len(c.Prompt) != confirmPromptLimit {
		t.Errorf("prompt length = %d", len(c.Prompt))
	}
	if len(c.Risk) != confirmRiskLimit {
		t.Errorf("risk length = %d", len(c.Risk))
	}
}

func TestRecentAndSelectedRefs(t *testing.T) {
	m := DefaultManager("/tmp/p", "/tmp/p/.aoe-team")

	m.SetRecentTaskRefs("111", "demo", []string{"req-1", "req-2", "req-1", " "}, sessionNow)
	refs := m.RecentTaskRefs("111", "demo")
	if len(refs) != 2 || refs[0] != "req-1" || refs[1] != "req-2" {
		t.Errorf("refs = %v", refs)
	}

	m.SetSelectedTaskRef("111", "demo", "req-2", sessionNow)
	if got := m.SelectedTaskRef("111", "demo"); got != "req-2" {
		t.Errorf("selected = %q", got)
	}

	// Touch moves to front.
	m.TouchRecentTaskRef("111", "demo", "req-2", sessionNow)
	refs = m.RecentTaskRefs("111", "demo")
	if refs[0] != "req-2" {
		t.Errorf("touched refs = %v", refs)
	}

	// Replacing the list with one that drops the selection clears it.
	m.SetRecentTaskRefs("111", "demo", []string{"req-9"}, sessionNow)
	if got := m.SelectedTaskRef("111", "demo"); got != "" {
		t.Errorf("stale selection kept: %q", got)
	}

	// Project names normalize to the same key.
	if got := m.RecentTaskRefs("111", "DEMO"); len(got) != 1 || got[0] != "req-9" {
		t.Errorf("normalized lookup = %v", got)
	}
}

func TestRecentRefsCap(t *testing.T) {
	m := DefaultManager("/tmp/p", "/tmp/p/.aoe-team")
	refs := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		refs = append(refs, "req-"+strconv.Itoa(i))
	}
	m.SetRecentTaskRefs("111", "demo", refs, sessionNow)
	if got := m.RecentTaskRefs("111", "demo"); len(got) != recentRefsLimit {
		t.Errorf("refs capped at %d, got %d", recentRefsLimit, len(got))
	}
}

func TestResolveChatTaskRef(t *testing.T) {
	m := DefaultManager("/tmp/p", "/tmp/p/.aoe-team")
	m.SetRecentTaskRefs("111", "demo", []string{"req-a", "req-b", "req-c"}, sessionNow)

	cases := []struct {
		raw  string
		want string
	}{
		{"1", "req-a"},
		{"3", "req-c"},
		{"4", "4"},         // out of range passes through
		{"0", "0"},         // not 1-based
		{"-1", "-1"},       // not a bare number
		{"T-001", "T-001"}, // alias tokens pass through
		{"", ""},
	}
	for _, tc := range cases {
		if got := m.ResolveChatTaskRef("111", "demo", tc.raw); got != tc.want {
			t.Errorf("ResolveChatTaskRef(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestSessionSanitizeOnLoad(t *testing.T) {
	raw := &Session{
		PendingMode: "turbo",
		DefaultMode: "DIRECT",
		Confirm:     &ConfirmAction{Mode: "dispatch", Prompt: ""},
		RecentTaskRefs: map[string][]string{
			"Demo Project": {"req-1", "", "req-1", "req-2"},
		},
		SelectedTaskRefs: map[string]string{"demo_project": "req-2", "other": "  "},
	}
	clean := sanitizeSession(raw, sessionNow)
	if clean == nil {
		t.Fatal("sanitize dropped a substantive row")
	}
	if clean.PendingMode != "" {
		t.Errorf("invalid pending survived: %q", clean.PendingMode)
	}
	if clean.DefaultMode != "direct" {
		t.Errorf("default = %q", clean.DefaultMode)
	}
	if clean.Confirm != nil {
		t.Error("promptless confirm survived")
	}
	if refs := clean.RecentTaskRefs["demo_project"]; len(refs) != 2 {
		t.Errorf("refs = %v", refs)
	}
	if clean.SelectedTaskRefs["demo_project"] != "req-2" {
		t.Errorf("selected = %v", clean.SelectedTaskRefs)
	}
	if _, ok := clean.SelectedTaskRefs["other"]; ok {
		t.Error("blank selection survived")
	}

	if got := sanitizeSession(&Session{PendingMode: "nope"}, sessionNow); got != nil {
		t.Errorf("empty row should sanitize to nil, got %+v", got)
	}
}
