// Package gateway connects the Telegram chat surface to the aoe
// orchestrator. Each incoming message is resolved to a command, checked
// against the chat ACL and rate policy, optionally run through the
// planner/critic pipeline, dispatched through the orchestrator CLI, and
// answered with a lifecycle summary. The whole pipeline is single
// threaded: one update at a time, subprocess calls block the loop.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/aoe-sh/gateway/internal/acl"
	"github.com/aoe-sh/gateway/internal/alias"
	"github.com/aoe-sh/gateway/internal/clock"
	"github.com/aoe-sh/gateway/internal/config"
	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/observer"
	"github.com/aoe-sh/gateway/internal/orch"
	"github.com/aoe-sh/gateway/internal/plan"
	"github.com/aoe-sh/gateway/internal/state"
	"github.com/aoe-sh/gateway/internal/telegram"
)

// Platform is the chat API the gateway polls and replies through.
// Implemented by telegram.Client.
type Platform interface {
	GetUpdates(ctx context.Context, offset int64, pollTimeoutSec int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID, text string, markup *telegram.ReplyKeyboard) error
}

// Orchestrator drives one project's orchestrator and team binaries.
// Implemented by orch.Client.
type Orchestrator interface {
	Run(ctx context.Context, opts orch.RunOptions) (map[string]any, error)
	Status(ctx context.Context) (string, error)
	Init(ctx context.Context, overview string) (string, error)
	Spawn(ctx context.Context) (string, error)
	AddRole(ctx context.Context, role, provider, launch string, spawn bool) (string, error)
	Request(ctx context.Context, requestID string) (map[string]any, error)
	CancelAssignments(ctx context.Context, requestData map[string]any, note string) (orch.CancelResult, error)
}

// OrchFactory builds the Orchestrator client for one registered project.
// Projects carry their own root and team dir, so the gateway asks for a
// fresh client whenever the active project changes.
type OrchFactory func(projectRoot, teamDir string) Orchestrator

// Deps carries the injected collaborators for a Gateway.
type Deps struct {
	Manager  *state.Manager
	ACL      *acl.Lists
	Aliases  *alias.Registry
	Events   *events.Logger
	Platform Platform
	OrchFor  OrchFactory
	LLM      plan.Runner
	Observer *observer.Instruments
}

// Gateway owns the message pipeline and all mutable gateway state.
type Gateway struct {
	cfg      config.Config
	manager  *state.Manager
	lists    *acl.Lists
	aliases  *alias.Registry
	events   *events.Logger
	platform Platform
	orchFor  OrchFactory
	llm      plan.Runner
	obs      *observer.Instruments

	dryRun bool
	clock  clock.Clock
	sleep  func(time.Duration)
	stdout io.Writer
	logger *slog.Logger

	// chats already told they are unauthorized, once per process run
	notified map[string]struct{}
}

// Option adjusts a Gateway at construction time.
type Option func(*Gateway)

// WithLogger sets the operational logger.
func WithLogger(lg *slog.Logger) Option {
	return func(g *Gateway) {
		if lg != nil {
			g.logger = lg
		}
	}
}

// WithClock swaps the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithDryRun switches all sends to stdout previews and skips persistence.
func WithDryRun(v bool) Option {
	return func(g *Gateway) { g.dryRun = v }
}

// WithStdout redirects dry-run previews.
func WithStdout(w io.Writer) Option {
	return func(g *Gateway) {
		if w != nil {
			g.stdout = w
		}
	}
}

// WithSleep swaps the retry delay function.
func WithSleep(fn func(time.Duration)) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.sleep = fn
		}
	}
}

// New assembles a Gateway. cfg must already be normalized and path
// resolved.
func New(cfg config.Config, deps Deps, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		manager:  deps.Manager,
		lists:    deps.ACL,
		aliases:  deps.Aliases,
		events:   deps.Events,
		platform: deps.Platform,
		orchFor:  deps.OrchFor,
		llm:      deps.LLM,
		obs:      deps.Observer,
		clock:    clock.System{},
		sleep:    time.Sleep,
		stdout:   os.Stdout,
		logger:   nopLogger,
		notified: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) nowISO() string { return clock.FormatISO(g.clock.Now()) }

// saveManagerState persists the manager file unless running dry.
func (g *Gateway) saveManagerState() {
	if g.dryRun {
		return
	}
	if err := g.manager.Save(g.cfg.Paths.ManagerStateFile); err != nil {
		g.logger.Warn("manager state save failed", "path", g.cfg.Paths.ManagerStateFile, "error", err)
	}
}

// msg is the per-message handler context: one chat, one trace, one
// running latency clock. The event team dir follows the project the
// handler ends up addressing.
type msg struct {
	gw      *Gateway
	ctx     context.Context
	chatID  string
	text    string
	traceID string
	started time.Time
	role    string
	alias   string
}

func (m *msg) elapsedMS() int {
	ms := int(m.gw.clock.Now().Sub(m.started) / time.Millisecond)
	if ms < 0 {
		return 0
	}
	return ms
}

// logEvent writes one audit row. Dry runs skip the log entirely.
func (m *msg) logEvent(e events.Entry) {
	if m.gw.dryRun {
		return
	}
	e.TraceID = m.traceID
	e.Actor = "telegram:" + m.chatID
	e.LatencyMS = m.elapsedMS()
	m.gw.events.Log(e)
}

// logTaskEvent is logEvent with the task's short id and alias attached.
func (m *msg) logTaskEvent(e events.Entry, task *state.TaskRecord) {
	if task != nil {
		e.TaskShortID = task.ShortID
		e.TaskAlias = task.Alias
	}
	m.logEvent(e)
}

// projectCtx is the resolved target for one command: the registry entry
// plus an orchestrator client bound to its root and team dir.
type projectCtx struct {
	key   string
	entry *state.Project
	orch  Orchestrator
}

// project resolves the orch target (empty means active project) and
// repoints the event log at that project's team dir.
func (m *msg) project(nameOverride string) (*projectCtx, error) {
	key, entry, err := m.gw.manager.Project(nameOverride)
	if err != nil {
		return nil, err
	}
	m.gw.events.SetDir(entry.TeamDir)
	return &projectCtx{
		key:   key,
		entry: entry,
		orch:  m.gw.orchFor(entry.ProjectRoot, entry.TeamDir),
	}, nil
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// preview clips a message body for event details.
func preview(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
