package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aoe-sh/gateway/internal/app"
	"github.com/aoe-sh/gateway/internal/config"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "aoegw",
		Short:         "Telegram polling gateway for aoe-orch",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRoot,
	}

	f := cmd.Flags()
	f.SortFlags = false

	f.String("config", "", "config file (default ./aoegw.toml)")
	f.String("bot-token", "", "bot token (env TELEGRAM_BOT_TOKEN)")
	f.String("project-root", "", "orchestrator project root (default .)")
	f.String("team-dir", "", "team dir (default <project-root>/.aoe-team)")
	f.String("state-file", "", "gateway offset state file")
	f.String("manager-state-file", "", "multi-orch registry file (env AOE_ORCH_MANAGER_STATE)")
	f.String("chat-aliases-file", "", "chat alias table (env AOE_CHAT_ALIASES_FILE)")
	f.String("instance-lock-file", "", "instance lock file (env AOE_GATEWAY_INSTANCE_LOCK)")
	f.String("workspace-root", "", "workspace scanned by /orch-add (env AOE_WORKSPACE_ROOT)")

	f.String("owner-chat-id", "", "owner chat id (env TELEGRAM_OWNER_CHAT_ID)")
	f.String("allow-chat-ids", "", "csv allowlist (env TELEGRAM_ALLOW_CHAT_IDS)")
	f.String("admin-chat-ids", "", "csv admin list (env TELEGRAM_ADMIN_CHAT_IDS)")
	f.String("readonly-chat-ids", "", "csv readonly list (env TELEGRAM_READONLY_CHAT_IDS)")
	f.Bool("deny-by-default", true, "deny chats off the lists (bootstrap /lockme when empty)")
	f.Bool("no-deny-by-default", false, "legacy mode: allow all chats when the lists are empty")

	f.String("aoe-orch-bin", "", "aoe-orch binary (env AOE_ORCH_BIN)")
	f.String("aoe-team-bin", "", "aoe-team binary (env AOE_TEAM_BIN)")

	f.String("roles", "", "fixed role csv passed to aoe-orch run")
	f.String("priority", "P2", "default priority (P1|P2|P3)")
	f.Int("orch-timeout-sec", 600, "max seconds to wait for aoe-orch run")
	f.Float64("orch-poll-sec", 2, "aoe-orch completion poll interval")
	f.Int("orch-command-timeout-sec", 900, "subprocess hard timeout")
	f.Bool("no-spawn-missing", false, "do not spawn missing roles before dispatch")
	f.Bool("no-wait", false, "return right after dispatch instead of waiting")

	f.Bool("auto-dispatch", false, "keyword-based automatic dispatch to worker roles")
	f.Bool("no-auto-dispatch", false, "disable keyword-based dispatch")
	f.Bool("slash-only", true, "require slash commands (plain text only in pending mode)")
	f.Bool("no-slash-only", false, "allow loose text and CLI-style input")
	f.Bool("require-verifier", true, "require a verifier role before dispatch")
	f.Bool("no-require-verifier", false, "disable the verifier gate")
	f.String("verifier-roles", config.DefaultVerifierRoles, "csv verifier role candidates")

	f.Bool("task-planning", true, "planner/critic decomposition before dispatch")
	f.Bool("no-task-planning", false, "disable planner/critic decomposition")
	f.Int("plan-max-subtasks", 4, "maximum planner subtasks")
	f.Bool("plan-auto-replan", true, "replan automatically on blocking critic issues")
	f.Bool("no-plan-auto-replan", false, "disable automatic replanning")
	f.Int("plan-replan-attempts", 2, "maximum automatic replan attempts")
	f.Bool("plan-block-on-critic", true, "block dispatch while critic issues remain")
	f.Bool("no-plan-block-on-critic", false, "dispatch even with open critic issues")

	f.Int("poll-timeout-sec", 25, "getUpdates long-poll window")
	f.Int("http-timeout-sec", 60, "telegram HTTP timeout")
	f.Int("max-text-chars", 3800, "reply chunk size")
	f.Int("confirm-ttl-sec", 300, "high-risk confirmation lifetime (30..86400)")
	f.Int("chat-max-running", 2, "max concurrent tasks per chat (0 disables)")
	f.Int("chat-daily-cap", 40, "max tasks per chat per day (0 disables)")

	f.Bool("once", false, "process one update batch and exit")
	f.Bool("dry-run", false, "print sends instead of calling telegram, skip persistence")
	f.Bool("verbose", false, "debug logging")

	f.String("simulate-text", "", "process one synthetic message and exit (no polling)")
	f.String("simulate-chat-id", "local-sim", "chat id for --simulate-text")

	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()

	configPath, _ := f.GetString("config")
	cfg := config.Load(configPath)
	applyFlags(f, &cfg)

	a, err := app.New(cfg, app.Options{
		DryRun:       getBool(f, "dry-run"),
		Once:         getBool(f, "once"),
		Verbose:      getBool(f, "verbose"),
		SimulateText: getString(f, "simulate-text"),
		SimulateChat: getString(f, "simulate-chat-id"),
	})
	if err != nil {
		return err
	}
	return a.RunWithSignal()
}

// applyFlags copies every explicitly set flag onto cfg, so the final
// precedence is flags > env > config file > defaults.
func applyFlags(f *pflag.FlagSet, cfg *config.Config) {
	applyString(f, &cfg.Telegram.Token, "bot-token")
	applyString(f, &cfg.Paths.ProjectRoot, "project-root")
	applyString(f, &cfg.Paths.TeamDir, "team-dir")
	applyString(f, &cfg.Paths.StateFile, "state-file")
	applyString(f, &cfg.Paths.ManagerStateFile, "manager-state-file")
	applyString(f, &cfg.Paths.ChatAliasesFile, "chat-aliases-file")
	applyString(f, &cfg.Paths.InstanceLockFile, "instance-lock-file")
	applyString(f, &cfg.Paths.WorkspaceRoot, "workspace-root")

	applyString(f, &cfg.ACL.OwnerChatID, "owner-chat-id")
	applyString(f, &cfg.ACL.AllowChatIDs, "allow-chat-ids")
	applyString(f, &cfg.ACL.AdminChatIDs, "admin-chat-ids")
	applyString(f, &cfg.ACL.ReadonlyChatIDs, "readonly-chat-ids")
	applyBoolPair(f, &cfg.ACL.DenyByDefault, "deny-by-default", "no-deny-by-default")

	applyString(f, &cfg.Orch.OrchBin, "aoe-orch-bin")
	applyString(f, &cfg.Orch.TeamBin, "aoe-team-bin")
	applyInt(f, &cfg.Orch.TimeoutSec, "orch-timeout-sec")
	applyFloat(f, &cfg.Orch.PollSec, "orch-poll-sec")
	applyInt(f, &cfg.Orch.CommandTimeoutSec, "orch-command-timeout-sec")
	applyBool(f, &cfg.Orch.NoSpawnMissing, "no-spawn-missing")
	applyBool(f, &cfg.Orch.NoWait, "no-wait")

	applyString(f, &cfg.Run.Roles, "roles")
	applyString(f, &cfg.Run.Priority, "priority")
	applyBoolPair(f, &cfg.Run.AutoDispatch, "auto-dispatch", "no-auto-dispatch")
	applyBoolPair(f, &cfg.Run.SlashOnly, "slash-only", "no-slash-only")
	applyBoolPair(f, &cfg.Run.RequireVerifier, "require-verifier", "no-require-verifier")
	applyString(f, &cfg.Run.VerifierRoles, "verifier-roles")

	applyBoolPair(f, &cfg.Plan.Enabled, "task-planning", "no-task-planning")
	applyInt(f, &cfg.Plan.MaxSubtasks, "plan-max-subtasks")
	applyBoolPair(f, &cfg.Plan.AutoReplan, "plan-auto-replan", "no-plan-auto-replan")
	applyInt(f, &cfg.Plan.ReplanAttempts, "plan-replan-attempts")
	applyBoolPair(f, &cfg.Plan.BlockOnCritic, "plan-block-on-critic", "no-plan-block-on-critic")

	applyInt(f, &cfg.Telegram.PollTimeoutSec, "poll-timeout-sec")
	applyInt(f, &cfg.Telegram.HTTPTimeoutSec, "http-timeout-sec")
	applyInt(f, &cfg.Telegram.MaxTextChars, "max-text-chars")
	applyInt(f, &cfg.Guard.ConfirmTTLSec, "confirm-ttl-sec")
	applyInt(f, &cfg.Guard.ChatMaxRunning, "chat-max-running")
	applyInt(f, &cfg.Guard.ChatDailyCap, "chat-daily-cap")
}

func applyString(f *pflag.FlagSet, dst *string, name string) {
	if f.Changed(name) {
		*dst, _ = f.GetString(name)
	}
}

func applyInt(f *pflag.FlagSet, dst *int, name string) {
	if f.Changed(name) {
		*dst, _ = f.GetInt(name)
	}
}

func applyFloat(f *pflag.FlagSet, dst *float64, name string) {
	if f.Changed(name) {
		*dst, _ = f.GetFloat64(name)
	}
}

func applyBool(f *pflag.FlagSet, dst *bool, name string) {
	if f.Changed(name) {
		*dst, _ = f.GetBool(name)
	}
}

// applyBoolPair folds a --x / --no-x pair onto dst. The negative flag
// wins when both are given.
func applyBoolPair(f *pflag.FlagSet, dst *bool, on, off string) {
	applyBool(f, dst, on)
	if f.Changed(off) {
		v, _ := f.GetBool(off)
		*dst = !v
	}
}

func getBool(f *pflag.FlagSet, name string) bool {
	v, _ := f.GetBool(name)
	return v
}

func getString(f *pflag.FlagSet, name string) string {
	v, _ := f.GetString(name)
	return v
}
