// Package clock provides the wall-clock abstraction and the timestamp
// layout shared by the state files and the event log.
package clock

import (
	"errors"
	"strings"
	"time"
)

// Layout is the timestamp format written to every state file and event row.
const Layout = "2006-01-02T15:04:05-0700"

// Clock supplies the current time. Production code uses System; tests
// substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// FormatISO renders t in the shared layout.
func FormatISO(t time.Time) string { return t.Format(Layout) }

// NowISO formats the current local time.
func NowISO() string { return time.Now().Format(Layout) }

// ParseISO parses a timestamp in the shared layout.
func ParseISO(s string) (time.Time, error) {
	src := strings.TrimSpace(s)
	if src == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(Layout, src)
}

// DateKey reduces an ISO timestamp to its local YYYY-MM-DD day key. Raw
// strings that already start with a date survive even when the rest of the
// timestamp is malformed.
func DateKey(raw string) string {
	if t, err := ParseISO(raw); err == nil {
		return t.Local().Format("2006-01-02")
	}
	text := strings.TrimSpace(raw)
	if len(text) >= 10 && isDatePrefix(text[:10]) {
		return text[:10]
	}
	return ""
}

func isDatePrefix(s string) bool {
	for i, ch := range s {
		switch i {
		case 4, 7:
			if ch != '-' {
				return false
			}
		default:
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}
