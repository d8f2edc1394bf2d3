// Package config loads gateway configuration. Resolution order is
// defaults -> TOML file -> environment variables; command-line flags are
// applied on top by the caller.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Telegram TelegramConfig `toml:"telegram"`
	ACL      ACLConfig      `toml:"acl"`
	Paths    PathsConfig    `toml:"paths"`
	Orch     OrchConfig     `toml:"orch"`
	Run      RunConfig      `toml:"run"`
	Plan     PlanConfig     `toml:"plan"`
	Guard    GuardConfig    `toml:"guard"`
	Events   EventsConfig   `toml:"events"`
	LLM      LLMConfig      `toml:"llm"`
	Observer ObserverConfig `toml:"observer"`
}

type TelegramConfig struct {
	Token            string `toml:"token"`
	PollTimeoutSec   int    `toml:"poll_timeout_sec"`
	HTTPTimeoutSec   int    `toml:"http_timeout_sec"`
	MaxTextChars     int    `toml:"max_text_chars"`
	SendRetries      int    `toml:"send_retries"`
	SendRetryDelayMS int    `toml:"send_retry_delay_ms"`
}

type ACLConfig struct {
	OwnerChatID     string `toml:"owner_chat_id"`
	AllowChatIDs    string `toml:"allow_chat_ids"`
	AdminChatIDs    string `toml:"admin_chat_ids"`
	ReadonlyChatIDs string `toml:"readonly_chat_ids"`
	DenyByDefault   bool   `toml:"deny_by_default"`
}

type PathsConfig struct {
	ProjectRoot      string `toml:"project_root"`
	TeamDir          string `toml:"team_dir"`
	StateFile        string `toml:"state_file"`
	ManagerStateFile string `toml:"manager_state_file"`
	ChatAliasesFile  string `toml:"chat_aliases_file"`
	InstanceLockFile string `toml:"instance_lock_file"`
	WorkspaceRoot    string `toml:"workspace_root"`
}

type OrchConfig struct {
	OrchBin           string  `toml:"orch_bin"`
	TeamBin           string  `toml:"team_bin"`
	TimeoutSec        int     `toml:"timeout_sec"`
	PollSec           float64 `toml:"poll_sec"`
	CommandTimeoutSec int     `toml:"command_timeout_sec"`
	NoSpawnMissing    bool    `toml:"no_spawn_missing"`
	NoWait            bool    `toml:"no_wait"`
}

type RunConfig struct {
	Roles           string `toml:"roles"`
	Priority        string `toml:"priority"`
	AutoDispatch    bool   `toml:"auto_dispatch"`
	SlashOnly       bool   `toml:"slash_only"`
	RequireVerifier bool   `toml:"require_verifier"`
	VerifierRoles   string `toml:"verifier_roles"`
}

type PlanConfig struct {
	Enabled        bool `toml:"enabled"`
	MaxSubtasks    int  `toml:"max_subtasks"`
	AutoReplan     bool `toml:"auto_replan"`
	ReplanAttempts int  `toml:"replan_attempts"`
	BlockOnCritic  bool `toml:"block_on_critic"`
}

type GuardConfig struct {
	ConfirmTTLSec  int `toml:"confirm_ttl_sec"`
	ChatMaxRunning int `toml:"chat_max_running"`
	ChatDailyCap   int `toml:"chat_daily_cap"`
}

type EventsConfig struct {
	LogMaxBytes  int64 `toml:"log_max_bytes"`
	LogKeepFiles int   `toml:"log_keep_files"`
}

type LLMConfig struct {
	CodexBin       string `toml:"codex_bin"`
	PermissionMode string `toml:"permission_mode"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

const (
	DefaultVerifierRoles = "Reviewer,QA,Verifier"

	defaultPollTimeoutSec    = 25
	defaultHTTPTimeoutSec    = 60
	defaultMaxTextChars      = 3800
	defaultSendRetries       = 2
	defaultSendRetryDelayMS  = 300
	defaultOrchTimeoutSec    = 600
	defaultOrchPollSec       = 2.0
	defaultOrchCmdTimeoutSec = 900
	defaultPlanMaxSubtasks   = 4
	defaultReplanAttempts    = 2
	defaultConfirmTTLSec     = 300
	defaultChatMaxRunning    = 2
	defaultChatDailyCap      = 40
	defaultLogMaxBytes       = 5 * 1024 * 1024
	defaultLogKeepFiles      = 5
)

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Telegram: TelegramConfig{
			PollTimeoutSec:   defaultPollTimeoutSec,
			HTTPTimeoutSec:   defaultHTTPTimeoutSec,
			MaxTextChars:     defaultMaxTextChars,
			SendRetries:      defaultSendRetries,
			SendRetryDelayMS: defaultSendRetryDelayMS,
		},
		ACL:   ACLConfig{DenyByDefault: true},
		Paths: PathsConfig{ProjectRoot: "."},
		Orch: OrchConfig{
			OrchBin:           filepath.Join(home, ".local/bin/aoe-orch"),
			TeamBin:           filepath.Join(home, ".local/bin/aoe-team"),
			TimeoutSec:        defaultOrchTimeoutSec,
			PollSec:           defaultOrchPollSec,
			CommandTimeoutSec: defaultOrchCmdTimeoutSec,
		},
		Run: RunConfig{
			Priority:        "P2",
			SlashOnly:       true,
			RequireVerifier: true,
			VerifierRoles:   DefaultVerifierRoles,
		},
		Plan: PlanConfig{
			Enabled:        true,
			MaxSubtasks:    defaultPlanMaxSubtasks,
			AutoReplan:     true,
			ReplanAttempts: defaultReplanAttempts,
			BlockOnCritic:  true,
		},
		Guard: GuardConfig{
			ConfirmTTLSec:  defaultConfirmTTLSec,
			ChatMaxRunning: defaultChatMaxRunning,
			ChatDailyCap:   defaultChatDailyCap,
		},
		Events: EventsConfig{
			LogMaxBytes:  defaultLogMaxBytes,
			LogKeepFiles: defaultLogKeepFiles,
		},
		LLM:      LLMConfig{CodexBin: "codex", PermissionMode: "full"},
		Observer: ObserverConfig{ServiceName: "aoegw"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "aoegw.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_OWNER_CHAT_ID")); v != "" {
		cfg.ACL.OwnerChatID = v
	} else if v := strings.TrimSpace(os.Getenv("AOE_OWNER_CHAT_ID")); v != "" {
		cfg.ACL.OwnerChatID = v
	}
	if v := os.Getenv("TELEGRAM_ALLOW_CHAT_IDS"); v != "" {
		cfg.ACL.AllowChatIDs = v
	}
	if v := os.Getenv("TELEGRAM_ADMIN_CHAT_IDS"); v != "" {
		cfg.ACL.AdminChatIDs = v
	}
	if v := os.Getenv("TELEGRAM_READONLY_CHAT_IDS"); v != "" {
		cfg.ACL.ReadonlyChatIDs = v
	}
	cfg.ACL.DenyByDefault = BoolFromEnv(os.Getenv("AOE_DENY_BY_DEFAULT"), cfg.ACL.DenyByDefault)

	if v := os.Getenv("AOE_ORCH_MANAGER_STATE"); v != "" {
		cfg.Paths.ManagerStateFile = v
	}
	if v := os.Getenv("AOE_CHAT_ALIASES_FILE"); v != "" {
		cfg.Paths.ChatAliasesFile = v
	}
	if v := os.Getenv("AOE_GATEWAY_INSTANCE_LOCK"); v != "" {
		cfg.Paths.InstanceLockFile = v
	}
	if v := os.Getenv("AOE_WORKSPACE_ROOT"); v != "" {
		cfg.Paths.WorkspaceRoot = v
	}
	if v := os.Getenv("AOE_TEAM_DIR"); v != "" && cfg.Paths.TeamDir == "" {
		cfg.Paths.TeamDir = v
	}
	if v := os.Getenv("AOE_ORCH_BIN"); v != "" {
		cfg.Orch.OrchBin = v
	}
	if v := os.Getenv("AOE_TEAM_BIN"); v != "" {
		cfg.Orch.TeamBin = v
	}

	cfg.Run.AutoDispatch = BoolFromEnv(os.Getenv("AOE_AUTO_DISPATCH"), cfg.Run.AutoDispatch)
	cfg.Run.SlashOnly = BoolFromEnv(os.Getenv("AOE_SLASH_ONLY"), cfg.Run.SlashOnly)
	cfg.Run.RequireVerifier = BoolFromEnv(os.Getenv("AOE_REQUIRE_VERIFIER"), cfg.Run.RequireVerifier)
	if v := os.Getenv("AOE_VERIFIER_ROLES"); v != "" {
		cfg.Run.VerifierRoles = v
	}

	cfg.Plan.Enabled = BoolFromEnv(os.Getenv("AOE_TASK_PLANNING"), cfg.Plan.Enabled)
	cfg.Plan.AutoReplan = BoolFromEnv(os.Getenv("AOE_PLAN_AUTO_REPLAN"), cfg.Plan.AutoReplan)
	cfg.Plan.BlockOnCritic = BoolFromEnv(os.Getenv("AOE_PLAN_BLOCK_ON_CRITIC"), cfg.Plan.BlockOnCritic)
	if v := strings.TrimSpace(os.Getenv("AOE_PLAN_MAX_SUBTASKS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Plan.MaxSubtasks = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("AOE_PLAN_REPLAN_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Plan.ReplanAttempts = n
		}
	}

	cfg.Guard.ConfirmTTLSec = IntFromEnv(os.Getenv("AOE_CONFIRM_TTL_SEC"), cfg.Guard.ConfirmTTLSec, 30, 86400)
	cfg.Guard.ChatMaxRunning = IntFromEnv(os.Getenv("AOE_CHAT_MAX_RUNNING"), cfg.Guard.ChatMaxRunning, 0, 50)
	cfg.Guard.ChatDailyCap = IntFromEnv(os.Getenv("AOE_CHAT_DAILY_CAP"), cfg.Guard.ChatDailyCap, 0, 10000)

	cfg.Events.LogMaxBytes = int64(IntFromEnv(os.Getenv("AOE_GATEWAY_LOG_MAX_BYTES"), int(cfg.Events.LogMaxBytes), 64*1024, 256*1024*1024))
	cfg.Events.LogKeepFiles = IntFromEnv(os.Getenv("AOE_GATEWAY_LOG_KEEP_FILES"), cfg.Events.LogKeepFiles, 1, 30)

	cfg.Telegram.SendRetries = IntFromEnv(os.Getenv("AOE_TG_SEND_RETRIES"), cfg.Telegram.SendRetries, 0, 8)
	cfg.Telegram.SendRetryDelayMS = IntFromEnv(os.Getenv("AOE_TG_SEND_RETRY_DELAY_MS"), cfg.Telegram.SendRetryDelayMS, 50, 5000)

	if v := strings.TrimSpace(os.Getenv("AOE_CODEX_PERMISSION_MODE")); v != "" {
		cfg.LLM.PermissionMode = v
	}
	if BoolFromEnv(os.Getenv("AOE_OBSERVER_ENABLED"), false) {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// Normalize clamps every bounded knob to its valid range so downstream code
// never re-checks.
func (c *Config) Normalize() {
	c.Run.Priority = strings.ToUpper(strings.TrimSpace(c.Run.Priority))
	if c.Run.Priority != "P1" && c.Run.Priority != "P2" && c.Run.Priority != "P3" {
		c.Run.Priority = "P2"
	}
	if c.Telegram.MaxTextChars < 200 {
		c.Telegram.MaxTextChars = 200
	}
	if c.Telegram.PollTimeoutSec < 1 {
		c.Telegram.PollTimeoutSec = defaultPollTimeoutSec
	}
	if c.Telegram.HTTPTimeoutSec < 1 {
		c.Telegram.HTTPTimeoutSec = defaultHTTPTimeoutSec
	}
	c.Telegram.SendRetries = clampInt(c.Telegram.SendRetries, 0, 8)
	c.Telegram.SendRetryDelayMS = clampInt(c.Telegram.SendRetryDelayMS, 50, 5000)
	if c.Plan.MaxSubtasks < 1 {
		c.Plan.MaxSubtasks = 1
	}
	if c.Plan.ReplanAttempts < 0 {
		c.Plan.ReplanAttempts = 0
	}
	c.Guard.ConfirmTTLSec = clampInt(c.Guard.ConfirmTTLSec, 30, 86400)
	c.Guard.ChatMaxRunning = clampInt(c.Guard.ChatMaxRunning, 0, 50)
	c.Guard.ChatDailyCap = clampInt(c.Guard.ChatDailyCap, 0, 10000)
	if c.Events.LogMaxBytes < 64*1024 {
		c.Events.LogMaxBytes = 64 * 1024
	}
	if c.Events.LogMaxBytes > 256*1024*1024 {
		c.Events.LogMaxBytes = 256 * 1024 * 1024
	}
	c.Events.LogKeepFiles = clampInt(c.Events.LogKeepFiles, 1, 30)
	if c.Orch.TimeoutSec < 1 {
		c.Orch.TimeoutSec = 1
	}
	if c.Orch.PollSec <= 0 {
		c.Orch.PollSec = defaultOrchPollSec
	}
	if c.Orch.CommandTimeoutSec < 5 {
		c.Orch.CommandTimeoutSec = 5
	}
}

// ResolvePaths makes every path absolute and fills in the derived defaults.
// The gateway state file always lives under <project_root>/.aoe-team even
// when the team dir points elsewhere; everything else follows the team dir.
func (c *Config) ResolvePaths() error {
	root, err := AbsPath(c.Paths.ProjectRoot)
	if err != nil {
		return err
	}
	c.Paths.ProjectRoot = root

	if c.Paths.TeamDir == "" {
		c.Paths.TeamDir = filepath.Join(root, ".aoe-team")
	} else if c.Paths.TeamDir, err = AbsPath(c.Paths.TeamDir); err != nil {
		return err
	}
	if c.Paths.StateFile == "" {
		c.Paths.StateFile = filepath.Join(root, ".aoe-team", "telegram_gateway_state.json")
	} else if c.Paths.StateFile, err = AbsPath(c.Paths.StateFile); err != nil {
		return err
	}
	if c.Paths.ManagerStateFile == "" {
		c.Paths.ManagerStateFile = filepath.Join(c.Paths.TeamDir, "orch_manager_state.json")
	} else if c.Paths.ManagerStateFile, err = AbsPath(c.Paths.ManagerStateFile); err != nil {
		return err
	}
	if c.Paths.ChatAliasesFile == "" {
		c.Paths.ChatAliasesFile = filepath.Join(c.Paths.TeamDir, "telegram_chat_aliases.json")
	} else if c.Paths.ChatAliasesFile, err = AbsPath(c.Paths.ChatAliasesFile); err != nil {
		return err
	}
	if c.Paths.InstanceLockFile == "" {
		c.Paths.InstanceLockFile = filepath.Join(c.Paths.TeamDir, ".gateway.instance.lock")
	} else if c.Paths.InstanceLockFile, err = AbsPath(c.Paths.InstanceLockFile); err != nil {
		return err
	}
	if c.Paths.WorkspaceRoot != "" {
		if c.Paths.WorkspaceRoot, err = AbsPath(c.Paths.WorkspaceRoot); err != nil {
			return err
		}
	}
	return nil
}

// ACLEnvFile is where grant/revoke changes are persisted so restarts keep
// the same access lists.
func (c *Config) ACLEnvFile() string {
	return filepath.Join(c.Paths.TeamDir, "telegram.env")
}

// AbsPath expands a leading ~ and makes the path absolute. Empty input
// means the current directory.
func AbsPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		p = "."
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return filepath.Abs(p)
}

// BoolFromEnv interprets common truthy/falsy tokens, keeping the default for
// anything else (including unset).
func BoolFromEnv(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// IntFromEnv parses raw as an integer clamped to [min, max], falling back to
// the clamped default on empty or malformed input.
func IntFromEnv(raw string, def, min, max int) int {
	value := def
	if token := strings.TrimSpace(raw); token != "" {
		if n, err := strconv.Atoi(token); err == nil {
			value = n
		}
	}
	return clampInt(value, min, max)
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
