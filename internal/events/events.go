// Package events appends gateway audit rows to a JSONL log with
// size-based rotation, masks credentials out of free-form text, and
// computes KPI summaries over the logged rows.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aoe-sh/gateway/internal/clock"
)

// Error codes attached to rejected or failed events.
const (
	CodeCommand  = "E_COMMAND"
	CodeTimeout  = "E_TIMEOUT"
	CodeGate     = "E_GATE"
	CodeOrch     = "E_ORCH"
	CodeRequest  = "E_REQUEST"
	CodeTelegram = "E_TELEGRAM"
	CodeInternal = "E_INTERNAL"
	CodeAuth     = "E_AUTH"
)

// Row is one audit record as written to the JSONL log.
type Row struct {
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	TraceID     string `json:"trace_id"`
	Project     string `json:"project"`
	RequestID   string `json:"request_id"`
	TaskShortID string `json:"task_short_id"`
	TaskAlias   string `json:"task_alias"`
	Stage       string `json:"stage"`
	Actor       string `json:"actor"`
	Status      string `json:"status"`
	ErrorCode   string `json:"error_code"`
	LatencyMS   int    `json:"latency_ms"`
	Detail      string `json:"detail"`
}

// Entry describes one event before stamping and masking.
type Entry struct {
	Event       string
	TraceID     string
	Project     string
	RequestID   string
	TaskShortID string
	TaskAlias   string
	Stage       string
	Actor       string
	Status      string
	ErrorCode   string
	LatencyMS   int
	Detail      string
}

var (
	telegramTokenRe = regexp.MustCompile(`\b\d{8,}:[A-Za-z0-9_-]{20,}\b`)
	credentialRe    = regexp.MustCompile(`(?i)\b(password|passwd|token|api[_-]?key|secret)\s*[:=]\s*\S+`)
	bearerRe        = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._=-]+\b`)
)

// Mask redacts bot tokens, key=value credentials, and bearer headers from
// text destined for the log or a chat reply.
func Mask(raw string) string {
	if raw == "" {
		return raw
	}
	out := telegramTokenRe.ReplaceAllString(raw, "[REDACTED_TELEGRAM_TOKEN]")
	out = credentialRe.ReplaceAllString(out, "${1}=[REDACTED]")
	out = bearerRe.ReplaceAllString(out, "Bearer [REDACTED]")
	return out
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// LogFile returns the JSONL event log path under a team dir.
func LogFile(teamDir string) string {
	return filepath.Join(teamDir, "logs", "gateway_events.jsonl")
}

// Logger appends rows to the active team dir's event log.
type Logger struct {
	teamDir  string
	maxBytes int64
	keep     int
	clock    clock.Clock
	log      *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the timestamp source.
func WithClock(c clock.Clock) Option {
	return func(l *Logger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the diagnostic logger for append failures.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Logger) {
		if lg != nil {
			l.log = lg
		}
	}
}

// NewLogger builds a Logger writing under teamDir. maxBytes and keepFiles
// control rotation and are expected to be pre-clamped by config.
func NewLogger(teamDir string, maxBytes int64, keepFiles int, opts ...Option) *Logger {
	l := &Logger{
		teamDir:  teamDir,
		maxBytes: maxBytes,
		keep:     keepFiles,
		clock:    clock.System{},
		log:      nopLogger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetDir points the logger at a different team dir. Used when the active
// project changes.
func (l *Logger) SetDir(teamDir string) {
	if strings.TrimSpace(teamDir) != "" {
		l.teamDir = teamDir
	}
}

// Dir returns the team dir the logger currently writes under.
func (l *Logger) Dir() string { return l.teamDir }

// Log stamps, masks, and appends one row. Append failures are reported to
// the diagnostic logger only; event logging never blocks command handling.
func (l *Logger) Log(e Entry) {
	row := Row{
		Timestamp:   clock.FormatISO(l.clock.Now()),
		Event:       orDefault(strings.TrimSpace(e.Event), "event"),
		TraceID:     strings.TrimSpace(e.TraceID),
		Project:     strings.TrimSpace(e.Project),
		RequestID:   strings.TrimSpace(e.RequestID),
		TaskShortID: strings.TrimSpace(e.TaskShortID),
		TaskAlias:   strings.TrimSpace(e.TaskAlias),
		Stage:       strings.TrimSpace(e.Stage),
		Actor:       orDefault(strings.TrimSpace(e.Actor), "gateway"),
		Status:      strings.TrimSpace(e.Status),
		ErrorCode:   strings.TrimSpace(e.ErrorCode),
		LatencyMS:   maxInt(0, e.LatencyMS),
		Detail:      Truncate(Mask(strings.TrimSpace(e.Detail)), 800),
	}
	if err := l.append(row); err != nil {
		l.log.Warn("event append failed", "path", LogFile(l.teamDir), "error", err)
	}
}

func (l *Logger) append(row Row) error {
	path := LogFile(l.teamDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := l.rotate(path); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(row); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// rotate shifts gateway_events.jsonl.N up by one slot and moves the
// current file to .1 once it reaches maxBytes. The oldest archive falls
// off the end.
func (l *Logger) rotate(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() < l.maxBytes {
		return nil
	}
	for idx := l.keep - 1; idx > 0; idx-- {
		src := fmt.Sprintf("%s.%d", path, idx)
		dst := fmt.Sprintf("%s.%d", path, idx+1)
		if _, err := os.Stat(src); err == nil {
			os.Remove(dst)
			if err := os.Rename(src, dst); err != nil {
				return err
			}
		}
	}
	first := path + ".1"
	os.Remove(first)
	return os.Rename(path, first)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
