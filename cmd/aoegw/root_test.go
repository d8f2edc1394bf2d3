package main

import (
	"testing"

	"github.com/aoe-sh/gateway/internal/config"
)

func TestApplyFlagsOverridesConfig(t *testing.T) {
	cmd := newRootCmd()
	err := cmd.ParseFlags([]string{
		"--bot-token", "123:abc",
		"--project-root", "/srv/demo",
		"--owner-chat-id", "100000007",
		"--no-slash-only",
		"--no-deny-by-default",
		"--auto-dispatch",
		"--priority", "p1",
		"--orch-poll-sec", "0.5",
		"--chat-daily-cap", "5",
		"--no-wait",
	})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg := config.Default()
	applyFlags(cmd.Flags(), &cfg)

	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Paths.ProjectRoot != "/srv/demo" {
		t.Errorf("project root = %q", cfg.Paths.ProjectRoot)
	}
	if cfg.ACL.OwnerChatID != "100000007" {
		t.Errorf("owner = %q", cfg.ACL.OwnerChatID)
	}
	if cfg.Run.SlashOnly {
		t.Error("--no-slash-only not applied")
	}
	if cfg.ACL.DenyByDefault {
		t.Error("--no-deny-by-default not applied")
	}
	if !cfg.Run.AutoDispatch {
		t.Error("--auto-dispatch not applied")
	}
	if cfg.Run.Priority != "p1" {
		t.Errorf("priority = %q (normalization happens later)", cfg.Run.Priority)
	}
	if cfg.Orch.PollSec != 0.5 {
		t.Errorf("poll sec = %v", cfg.Orch.PollSec)
	}
	if cfg.Guard.ChatDailyCap != 5 {
		t.Errorf("daily cap = %d", cfg.Guard.ChatDailyCap)
	}
	if !cfg.Orch.NoWait {
		t.Error("--no-wait not applied")
	}
}

func TestApplyFlagsKeepsConfigWhenUnset(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	// Values coming from the config file or env must survive flag
	// application even when they differ from the flag defaults.
	cfg := config.Default()
	cfg.Run.SlashOnly = false
	cfg.Guard.ChatDailyCap = 7
	cfg.Telegram.Token = "from-env"

	applyFlags(cmd.Flags(), &cfg)

	if cfg.Run.SlashOnly {
		t.Error("unset flag overwrote slash-only")
	}
	if cfg.Guard.ChatDailyCap != 7 {
		t.Errorf("unset flag overwrote daily cap: %d", cfg.Guard.ChatDailyCap)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Errorf("unset flag overwrote token: %q", cfg.Telegram.Token)
	}
}

func TestApplyFlagsNegativeWinsOverPositive(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--slash-only", "--no-slash-only"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	cfg := config.Default()
	applyFlags(cmd.Flags(), &cfg)

	if cfg.Run.SlashOnly {
		t.Error("negative flag must win when both are set")
	}
}
