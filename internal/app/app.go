// Package app wires a loaded config into a running gateway process:
// access lists, alias registry, manager state, event log, Telegram
// client, orchestrator factory, LLM runner, and the optional observer.
// The cmd layer only parses flags; everything process-shaped lives here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aoe-sh/gateway/internal/acl"
	"github.com/aoe-sh/gateway/internal/alias"
	"github.com/aoe-sh/gateway/internal/config"
	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/gateway"
	"github.com/aoe-sh/gateway/internal/llm"
	"github.com/aoe-sh/gateway/internal/observer"
	"github.com/aoe-sh/gateway/internal/orch"
	"github.com/aoe-sh/gateway/internal/state"
	"github.com/aoe-sh/gateway/internal/telegram"
)

// Options are the per-invocation switches that stay out of Config: they
// change how one run behaves, not what the gateway is.
type Options struct {
	DryRun       bool
	Once         bool
	Verbose      bool
	SimulateText string
	SimulateChat string
}

// App is the assembled gateway process.
type App struct {
	cfg     config.Config
	opts    Options
	gw      *gateway.Gateway
	lock    *gateway.InstanceLock
	obsStop func(context.Context) error
	logger  *slog.Logger
}

// New builds the full dependency graph from cfg. It normalizes and
// path-resolves the config, folds persisted ACL grants back in, loads
// and saves the manager state, verifies the token and orchestrator
// binaries, and takes the single-instance lock (skipped for simulate
// and dry-run).
func New(cfg config.Config, opts Options) (*App, error) {
	cfg.Normalize()
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	applyACLEnvFile(&cfg)

	logger := newLogger(opts.Verbose)

	manager := state.Load(cfg.Paths.ManagerStateFile, cfg.Paths.ProjectRoot, cfg.Paths.TeamDir)
	manager.EnsureDefaultProject(cfg.Paths.ProjectRoot, cfg.Paths.TeamDir)
	if !opts.DryRun {
		if err := manager.Save(cfg.Paths.ManagerStateFile); err != nil {
			return nil, fmt.Errorf("save manager state: %w", err)
		}
	}

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" && opts.SimulateText == "" {
		return nil, errors.New("missing bot token (set --bot-token or TELEGRAM_BOT_TOKEN)")
	}
	if !binaryFound(cfg.Orch.OrchBin) {
		return nil, fmt.Errorf("aoe-orch binary not found: %s", cfg.Orch.OrchBin)
	}
	if !binaryFound(cfg.Orch.TeamBin) {
		return nil, fmt.Errorf("aoe-team binary not found: %s", cfg.Orch.TeamBin)
	}

	a := &App{cfg: cfg, opts: opts, logger: logger}

	if opts.SimulateText == "" && !opts.DryRun {
		lock, err := gateway.AcquireInstanceLock(cfg.Paths.InstanceLockFile)
		if err != nil {
			return nil, err
		}
		a.lock = lock
	}

	var instruments *observer.Instruments
	if cfg.Observer.Enabled {
		obs, stop, err := observer.Init(context.Background(), cfg.Observer.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("observer init: %w", err)
		}
		instruments = obs
		a.obsStop = stop
	}

	orchFor := func(projectRoot, teamDir string) gateway.Orchestrator {
		return orch.NewClient(orch.Config{
			OrchBin:           cfg.Orch.OrchBin,
			TeamBin:           cfg.Orch.TeamBin,
			ProjectRoot:       projectRoot,
			TeamDir:           teamDir,
			PollSec:           cfg.Orch.PollSec,
			NoSpawnMissing:    cfg.Orch.NoSpawnMissing,
			CommandTimeoutSec: cfg.Orch.CommandTimeoutSec,
		}, orch.WithLogger(logger))
	}

	a.gw = gateway.New(cfg, gateway.Deps{
		Manager: manager,
		ACL:     buildLists(cfg.ACL),
		Aliases: alias.NewRegistry(cfg.Paths.ChatAliasesFile, !opts.DryRun),
		Events:  events.NewLogger(cfg.Paths.TeamDir, cfg.Events.LogMaxBytes, cfg.Events.LogKeepFiles, events.WithLogger(logger)),
		Platform: telegram.NewClient(token,
			telegram.WithTimeout(time.Duration(cfg.Telegram.HTTPTimeoutSec)*time.Second),
			telegram.WithLogger(logger)),
		OrchFor:  orchFor,
		LLM:      llm.NewCodexClient(cfg.LLM.CodexBin, cfg.Paths.ProjectRoot, cfg.LLM.PermissionMode),
		Observer: instruments,
	},
		gateway.WithLogger(logger),
		gateway.WithDryRun(opts.DryRun),
	)

	return a, nil
}

// Run executes one simulation or the polling loop, then releases the
// process resources. A canceled context is the normal shutdown path and
// maps to nil.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if a.opts.SimulateText != "" {
		chatID := a.opts.SimulateChat
		if strings.TrimSpace(chatID) == "" {
			chatID = "local-sim"
		}
		a.gw.Simulate(ctx, chatID, a.opts.SimulateText)
		return nil
	}

	a.logger.Info("gateway running",
		"project_root", a.cfg.Paths.ProjectRoot,
		"team_dir", a.cfg.Paths.TeamDir,
		"dry_run", a.opts.DryRun)

	err := a.gw.Loop(ctx, a.opts.Once)
	if errors.Is(err, context.Canceled) {
		a.logger.Info("gateway stopped")
		return nil
	}
	return err
}

// RunWithSignal wraps Run with OS signal handling for graceful shutdown.
func (a *App) RunWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func (a *App) close() {
	if a.obsStop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.obsStop(ctx); err != nil {
			a.logger.Warn("observer shutdown", "error", err)
		}
	}
	if a.lock != nil {
		a.lock.Release()
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLists folds the configured CSV sets into ACL lists. A chat id in
// both admin and readonly keeps admin.
func buildLists(c config.ACLConfig) *acl.Lists {
	admin := acl.ParseCSVSet(c.AdminChatIDs)
	readonly := acl.ParseCSVSet(c.ReadonlyChatIDs)
	for id := range admin {
		readonly.Remove(id)
	}
	return &acl.Lists{
		Owner:         acl.NormalizeOwnerChatID(c.OwnerChatID),
		Allow:         acl.ParseCSVSet(c.AllowChatIDs),
		Admin:         admin,
		Readonly:      readonly,
		DenyByDefault: c.DenyByDefault,
	}
}

// applyACLEnvFile backfills ACL fields the config left empty from the
// team dir's telegram.env, so grants persisted by a previous run
// survive a restart without a process manager re-sourcing the file.
func applyACLEnvFile(cfg *config.Config) {
	saved, err := godotenv.Read(cfg.ACLEnvFile())
	if err != nil {
		return
	}
	if strings.TrimSpace(cfg.ACL.OwnerChatID) == "" {
		cfg.ACL.OwnerChatID = saved["TELEGRAM_OWNER_CHAT_ID"]
	}
	if strings.TrimSpace(cfg.ACL.AllowChatIDs) == "" {
		cfg.ACL.AllowChatIDs = saved["TELEGRAM_ALLOW_CHAT_IDS"]
	}
	if strings.TrimSpace(cfg.ACL.AdminChatIDs) == "" {
		cfg.ACL.AdminChatIDs = saved["TELEGRAM_ADMIN_CHAT_IDS"]
	}
	if strings.TrimSpace(cfg.ACL.ReadonlyChatIDs) == "" {
		cfg.ACL.ReadonlyChatIDs = saved["TELEGRAM_READONLY_CHAT_IDS"]
	}
}

// binaryFound accepts either an existing file path or a name resolvable
// through PATH.
func binaryFound(bin string) bool {
	if strings.TrimSpace(bin) == "" {
		return false
	}
	if _, err := os.Stat(bin); err == nil {
		return true
	}
	_, err := exec.LookPath(bin)
	return err == nil
}
