// Package orch shells out to the aoe-orch and aoe-team binaries: dispatch
// runs, role management, request queries, and assignment cancellation. Every
// command gets a hard timeout; failures surface as ExecError so callers can
// classify them without string matching.
package orch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ExecError marks a failed orchestrator invocation. Msg already carries the
// command name and clipped output.
type ExecError struct {
	Command string
	Msg     string
}

func (e *ExecError) Error() string { return e.Msg }

// Runner executes one command line. The default runner shells out; tests
// substitute their own.
type Runner func(ctx context.Context, name string, args, env []string) (stdout, stderr string, exitCode int, err error)

// Config carries the binaries and per-project flags shared by every command.
type Config struct {
	OrchBin           string
	TeamBin           string
	ProjectRoot       string
	TeamDir           string
	PollSec           float64
	NoSpawnMissing    bool
	CommandTimeoutSec int
}

// Client issues orchestrator commands for one project.
type Client struct {
	cfg    Config
	run    Runner
	logger *slog.Logger
}

// Option adjusts a Client.
type Option func(*Client)

// WithLogger attaches a logger for command tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRunner swaps the process runner.
func WithRunner(r Runner) Option {
	return func(c *Client) {
		if r != nil {
			c.run = r
		}
	}
}

// NewClient builds a client over the given binaries and project paths.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		run:    execRunner,
		logger: slog.New(discardHandler{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func execRunner(ctx context.Context, name string, args, env []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if env != nil {
		cmd.Env = env
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is reported through the code, not the error.
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		return stdout.String(), stderr.String(), -1, err
	}
	return stdout.String(), stderr.String(), code, err
}

// exec runs one command with a floor-of-5s timeout, mapping deadline hits to
// a wrapped context.DeadlineExceeded and runner failures to ExecError.
func (c *Client) exec(ctx context.Context, op, name string, args, env []string, timeout time.Duration) (string, string, int, error) {
	if timeout < 5*time.Second {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Debug("running orchestrator command", "op", op, "bin", name, "timeout", timeout)
	stdout, stderr, code, err := c.run(ctx, name, args, env)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout, stderr, code, fmt.Errorf("%s timed out after %s: %w", op, timeout, context.DeadlineExceeded)
	}
	if err != nil {
		return stdout, stderr, code, &ExecError{Command: op, Msg: fmt.Sprintf("%s failed: %s", op, err)}
	}
	return stdout, stderr, code, nil
}

func (c *Client) teamEnv() []string {
	return append(os.Environ(), "AOE_TEAM_DIR="+c.cfg.TeamDir)
}

func (c *Client) commandTimeout() time.Duration {
	return time.Duration(c.cfg.CommandTimeoutSec) * time.Second
}

func (c *Client) longTimeout() time.Duration {
	sec := c.cfg.CommandTimeoutSec
	if sec < 60 {
		sec = 60
	}
	return time.Duration(sec) * time.Second
}

// RunOptions selects how a dispatch run is issued.
type RunOptions struct {
	Prompt     string
	ChatID     string
	RolesCSV   string // empty omits --roles entirely
	Priority   string
	TimeoutSec int
	NoWait     bool
}

// Run submits a prompt through `aoe-orch run --json` and returns the parsed
// result payload.
func (c *Client) Run(ctx context.Context, opts RunOptions) (map[string]any, error) {
	priority := strings.ToUpper(strings.TrimSpace(opts.Priority))
	switch priority {
	case "P1", "P2", "P3":
	default:
		priority = "P2"
	}
	timeoutSec := opts.TimeoutSec
	if timeoutSec < 1 {
		timeoutSec = 1
	}

	args := []string{
		"run",
		"--project-root", c.cfg.ProjectRoot,
		"--team-dir", c.cfg.TeamDir,
		"--priority", priority,
		"--timeout-sec", strconv.Itoa(timeoutSec),
		"--poll-sec", strconv.FormatFloat(c.cfg.PollSec, 'g', -1, 64),
		"--channel", "telegram",
		"--origin", "telegram:" + opts.ChatID,
		"--json",
	}
	if opts.RolesCSV != "" {
		args = append(args, "--roles", opts.RolesCSV)
	}
	if c.cfg.NoSpawnMissing {
		args = append(args, "--no-spawn-missing")
	}
	if opts.NoWait {
		args = append(args, "--no-wait")
	}
	args = append(args, opts.Prompt)

	stdout, stderr, code, err := c.exec(ctx, "aoe-orch run", c.cfg.OrchBin, args, nil, c.commandTimeout())
	if err != nil {
		return nil, err
	}
	if code != 0 {
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = strings.TrimSpace(stdout)
		}
		return nil, &ExecError{Command: "aoe-orch run", Msg: "aoe-orch run failed: " + clip(detail, 1000)}
	}

	payload := strings.TrimSpace(stdout)
	var parsed any
	if jsonErr := json.Unmarshal([]byte(payload), &parsed); jsonErr != nil {
		return nil, &ExecError{Command: "aoe-orch run", Msg: "aoe-orch run returned non-JSON output: " + clip(payload, 800)}
	}
	data, ok := parsed.(map[string]any)
	if !ok {
		return nil, &ExecError{Command: "aoe-orch run", Msg: "aoe-orch run JSON is not an object"}
	}
	return data, nil
}

// Status returns the orchestrator's human status block.
func (c *Client) Status(ctx context.Context) (string, error) {
	args := []string{
		"status",
		"--project-root", c.cfg.ProjectRoot,
		"--team-dir", c.cfg.TeamDir,
	}
	stdout, stderr, code, err := c.exec(ctx, "aoe-orch status", c.cfg.OrchBin, args, nil, 60*time.Second)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(stdout)
	if text == "" {
		text = strings.TrimSpace(stderr)
	}
	if code != 0 {
		return "", &ExecError{Command: "aoe-orch status", Msg: "aoe-orch status failed: " + clip(text, 1200)}
	}
	return text, nil
}

// Init bootstraps a team dir unless orchestrator.json is already present.
func (c *Client) Init(ctx context.Context, overview string) (string, error) {
	if _, err := os.Stat(filepath.Join(c.cfg.TeamDir, "orchestrator.json")); err == nil {
		return "[SKIP] already initialized (.aoe-team/orchestrator.json exists)", nil
	}

	args := []string{
		"init",
		"--project-root", c.cfg.ProjectRoot,
		"--overview", overview,
	}
	stdout, stderr, code, err := c.exec(ctx, "aoe-orch init", c.cfg.OrchBin, args, nil, c.longTimeout())
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(stdout)
	if text == "" {
		text = strings.TrimSpace(stderr)
	}
	if code != 0 {
		return "", &ExecError{Command: "aoe-orch init", Msg: "aoe-orch init failed: " + clip(text, 1200)}
	}
	if text == "" {
		text = "[OK] initialized"
	}
	return text, nil
}

// Spawn launches the registered agent sessions.
func (c *Client) Spawn(ctx context.Context) (string, error) {
	args := []string{
		"spawn",
		"--project-root", c.cfg.ProjectRoot,
		"--team-dir", c.cfg.TeamDir,
	}
	stdout, stderr, code, err := c.exec(ctx, "aoe-orch spawn", c.cfg.OrchBin, args, nil, c.longTimeout())
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(stdout)
	if text == "" {
		text = strings.TrimSpace(stderr)
	}
	if code != 0 {
		return "", &ExecError{Command: "aoe-orch spawn", Msg: "aoe-orch spawn failed: " + clip(text, 1200)}
	}
	if text == "" {
		text = "[OK] spawned"
	}
	return text, nil
}

// AddRole registers a role, optionally with provider/launch overrides and an
// immediate spawn, and renders the result as reply lines.
func (c *Client) AddRole(ctx context.Context, role, provider, launch string, spawn bool) (string, error) {
	args := []string{
		"add-role",
		"--project-root", c.cfg.ProjectRoot,
		"--team-dir", c.cfg.TeamDir,
		"--role", role,
		"--json",
	}
	if provider != "" {
		args = append(args, "--provider", provider)
	}
	if launch != "" {
		args = append(args, "--launch", launch)
	}
	if spawn {
		args = append(args, "--spawn")
	} else {
		args = append(args, "--no-spawn")
	}

	stdout, stderr, code, err := c.exec(ctx, "aoe-orch add-role", c.cfg.OrchBin, args, nil, 60*time.Second)
	if err != nil {
		return "", err
	}
	payload := strings.TrimSpace(stdout)
	if payload == "" {
		payload = strings.TrimSpace(stderr)
	}
	if code != 0 {
		return "", &ExecError{Command: "aoe-orch add-role", Msg: "aoe-orch add-role failed: " + clip(payload, 1200)}
	}

	var parsed any
	if jsonErr := json.Unmarshal([]byte(payload), &parsed); jsonErr != nil {
		if payload != "" {
			return payload, nil
		}
		return "[OK] role added: " + role, nil
	}
	data, ok := parsed.(map[string]any)
	if !ok {
		if payload != "" {
			return payload, nil
		}
		return "[OK] role added: " + role, nil
	}

	return renderAddRole(data, role, provider, launch), nil
}

func renderAddRole(data map[string]any, role, provider, launch string) string {
	name := stringField(data, "role")
	if name == "" {
		name = role
	}
	prov := stringField(data, "provider")
	if prov == "" {
		prov = provider
	}
	if prov == "" {
		prov = "codex"
	}
	launchUsed := stringField(data, "launch")
	if launchUsed == "" {
		launchUsed = launch
	}

	lines := []string{"role ready: " + name, "provider: " + prov}
	if launchUsed != "" {
		lines = append(lines, "launch: "+launchUsed)
	}
	if sess := stringField(data, "session"); sess != "" {
		lines = append(lines, "session: "+sess)
	}
	lines = append(lines, "exists_before: "+yesNo(boolField(data, "exists")))
	lines = append(lines, "updated: "+yesNo(boolField(data, "updated")))

	if spawnInfo, ok := data["spawn_info"].(map[string]any); ok {
		if n := listLen(spawnInfo["spawned"]); n > 0 {
			lines = append(lines, fmt.Sprintf("spawned: %d", n))
		}
		if n := listLen(spawnInfo["existing"]); n > 0 {
			lines = append(lines, fmt.Sprintf("already_running: %d", n))
		}
		if n := listLen(spawnInfo["failed"]); n > 0 {
			lines = append(lines, fmt.Sprintf("spawn_failed: %d", n))
		}
	}
	return strings.Join(lines, "\n")
}

// Request fetches one request's state through `aoe-team request --json`.
func (c *Client) Request(ctx context.Context, requestID string) (map[string]any, error) {
	args := []string{
		"request",
		"--request-id", requestID,
		"--json",
	}
	stdout, stderr, code, err := c.exec(ctx, "aoe-team request", c.cfg.TeamBin, args, c.teamEnv(), 60*time.Second)
	if err != nil {
		return nil, err
	}
	payload := strings.TrimSpace(stdout)
	if payload == "" {
		payload = strings.TrimSpace(stderr)
	}
	if code != 0 {
		return nil, &ExecError{Command: "aoe-team request", Msg: "aoe-team request failed: " + clip(payload, 1200)}
	}

	var parsed any
	if jsonErr := json.Unmarshal([]byte(payload), &parsed); jsonErr != nil {
		return nil, &ExecError{Command: "aoe-team request", Msg: "aoe-team request returned non-JSON output: " + clip(payload, 800)}
	}
	data, ok := parsed.(map[string]any)
	if !ok {
		return nil, &ExecError{Command: "aoe-team request", Msg: "aoe-team request JSON is not an object"}
	}
	return data, nil
}

// FailMessage force-fails one assignment message. The bool reports whether
// the command succeeded; the string is its output either way.
func (c *Client) FailMessage(ctx context.Context, messageID, actor, note string) (bool, string, error) {
	args := []string{
		"fail",
		messageID,
		"--force",
		"--note", note,
	}
	if actor != "" {
		args = append(args, "--for", actor)
	}

	stdout, stderr, code, err := c.exec(ctx, "aoe-team fail", c.cfg.TeamBin, args, c.teamEnv(), 60*time.Second)
	if err != nil {
		return false, "", err
	}
	payload := strings.TrimSpace(stdout)
	if payload == "" {
		payload = strings.TrimSpace(stderr)
	}
	return code == 0, payload, nil
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

func boolField(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}

func listLen(v any) int {
	items, _ := v.([]any)
	return len(items)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
