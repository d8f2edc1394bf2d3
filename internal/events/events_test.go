package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aoe-sh/gateway/internal/clock"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func TestMask(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bot token", "token 123456789:AAHdqTcvbXEiYmFjNzUwMDAwMDAwMDAw leaked", "token [REDACTED_TELEGRAM_TOKEN] leaked"},
		{"password pair", "password=hunter2 rest", "password=[REDACTED] rest"},
		{"api key colon", "api_key: sk-abcdef", "api_key=[REDACTED]"},
		{"bearer header", "Authorization: Bearer abc.def-ghi", "Authorization: Bearer [REDACTED]"},
		{"plain text", "nothing secret here", "nothing secret here"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Mask(tt.in); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("가나다라마", 3); got != "가나다" {
		t.Errorf("expected rune-safe cut, got %q", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("expected unchanged, got %q", got)
	}
	if got := Truncate("drop", 0); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestLogFile(t *testing.T) {
	got := LogFile("/tmp/team")
	want := filepath.Join("/tmp/team", "logs", "gateway_events.jsonl")
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestLogWritesRow(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	lg := NewLogger(dir, 1<<20, 3, WithClock(fixedClock{now}))

	lg.Log(Entry{
		Event:     "command_resolved",
		TraceID:   "t-1",
		Project:   "mono",
		RequestID: "req-9",
		Status:    "accepted",
		LatencyMS: 42,
		Detail:    "cmd=status token=abc123secret",
	})

	data, err := os.ReadFile(LogFile(dir))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var row Row
	if err := json.Unmarshal([]byte(line), &row); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if row.Event != "command_resolved" || row.TraceID != "t-1" || row.Project != "mono" {
		t.Errorf("unexpected row: %+v", row)
	}
	if row.Actor != "gateway" {
		t.Errorf("expected default actor gateway, got %q", row.Actor)
	}
	if row.LatencyMS != 42 {
		t.Errorf("expected latency 42, got %d", row.LatencyMS)
	}
	if strings.Contains(row.Detail, "abc123secret") {
		t.Errorf("detail not masked: %q", row.Detail)
	}
	if _, err := clock.ParseISO(row.Timestamp); err != nil {
		t.Errorf("timestamp not parseable: %q", row.Timestamp)
	}
}

func TestLogDefaults(t *testing.T) {
	dir := t.TempDir()
	lg := NewLogger(dir, 1<<20, 3)
	lg.Log(Entry{LatencyMS: -5})

	data, err := os.ReadFile(LogFile(dir))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var row Row
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &row); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if row.Event != "event" {
		t.Errorf("expected default event name, got %q", row.Event)
	}
	if row.Actor != "gateway" {
		t.Errorf("expected default actor, got %q", row.Actor)
	}
	if row.LatencyMS != 0 {
		t.Errorf("expected negative latency clamped to 0, got %d", row.LatencyMS)
	}
}

func TestLogRotation(t *testing.T) {
	dir := t.TempDir()
	lg := NewLogger(dir, 1, 3)

	lg.Log(Entry{Event: "first"})
	lg.Log(Entry{Event: "second"})
	lg.Log(Entry{Event: "third"})

	path := LogFile(dir)
	for _, archive := range []string{path + ".1", path + ".2"} {
		if _, err := os.Stat(archive); err != nil {
			t.Errorf("expected archive %s: %v", archive, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"event":"third"`) {
		t.Errorf("current log missing newest row: %s", data)
	}
	firstShifted, err := os.ReadFile(path + ".2")
	if err != nil {
		t.Fatalf("ReadFile .2: %v", err)
	}
	if !strings.Contains(string(firstShifted), `"event":"first"`) {
		t.Errorf("oldest archive should hold first row: %s", firstShifted)
	}
}

func TestLogRotationDropsOldest(t *testing.T) {
	dir := t.TempDir()
	lg := NewLogger(dir, 1, 2)

	for _, name := range []string{"a", "b", "c", "d"} {
		lg.Log(Entry{Event: name})
	}

	path := LogFile(dir)
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Errorf("archive beyond keep limit should not exist")
	}
	data, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("ReadFile .1: %v", err)
	}
	if !strings.Contains(string(data), `"event":"c"`) {
		t.Errorf("expected .1 to hold previous row, got %s", data)
	}
	shifted, err := os.ReadFile(path + ".2")
	if err != nil {
		t.Fatalf("ReadFile .2: %v", err)
	}
	if !strings.Contains(string(shifted), `"event":"b"`) {
		t.Errorf("expected .2 to hold shifted row, got %s", shifted)
	}
}

func TestSetDir(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	lg := NewLogger(first, 1<<20, 3)

	lg.SetDir("   ")
	if lg.Dir() != first {
		t.Errorf("blank SetDir should keep dir, got %q", lg.Dir())
	}
	lg.SetDir(second)
	if lg.Dir() != second {
		t.Errorf("expected %q, got %q", second, lg.Dir())
	}
	lg.Log(Entry{Event: "moved"})
	if _, err := os.Stat(LogFile(second)); err != nil {
		t.Errorf("expected log under new dir: %v", err)
	}
	if _, err := os.Stat(LogFile(first)); err == nil {
		t.Errorf("old dir should stay empty")
	}
}
