package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aoe-sh/gateway/internal/clock"
)

type traceFlags struct {
	accepted bool
	success  bool
	failed   bool
}

// Summarize reads the event log under teamDir and renders the KPI block
// for one project over the trailing window. A command trace counts as
// success once any completion or successful send lands on it, and as
// failed once any send failure or handler error does; failure wins.
func Summarize(teamDir, projectName string, hours int, now time.Time) string {
	if hours == 0 {
		hours = 24
	}
	capHours := clampInt(hours, 1, 168)

	path := LogFile(teamDir)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("orch: %s\nmetrics: no data file\nwindow_hours: %d", projectName, capHours)
	}
	defer f.Close()

	cutoff := now.UTC().Add(-time.Duration(capHours) * time.Hour)

	var (
		total, incoming, accepted, rejected int
		sentOK, sentFail                    int
		dispatchDone, directDone, errCount  int
		errorCodes                          = map[string]int{}
		latencies                           []int
		traceState                          = map[string]*traceFlags{}
	)

	touchTrace := func(trace string) *traceFlags {
		token := strings.TrimSpace(trace)
		if token == "" {
			return nil
		}
		row := traceState[token]
		if row == nil {
			row = &traceFlags{}
			traceState[token] = row
		}
		return row
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			continue
		}
		ts, err := clock.ParseISO(row.Timestamp)
		if err != nil {
			continue
		}
		if ts.UTC().Before(cutoff) {
			continue
		}

		total++
		status := strings.ToLower(strings.TrimSpace(row.Status))
		trace := touchTrace(row.TraceID)

		switch strings.TrimSpace(row.Event) {
		case "incoming_message":
			incoming++
		case "command_resolved":
			if status == "accepted" {
				accepted++
				if trace != nil {
					trace.accepted = true
				}
			}
		case "input_rejected":
			rejected++
		case "send_message":
			if status == "sent" {
				sentOK++
				if trace != nil {
					trace.success = true
				}
			} else {
				sentFail++
				if trace != nil {
					trace.failed = true
				}
			}
		case "dispatch_completed":
			dispatchDone++
			if trace != nil {
				trace.success = true
			}
		case "direct_reply":
			directDone++
			if trace != nil {
				trace.success = true
			}
		case "dispatch_result":
			if trace != nil {
				if status == "failed" {
					trace.failed = true
				} else {
					trace.success = true
				}
			}
		case "handler_error":
			errCount++
			code := strings.TrimSpace(row.ErrorCode)
			if code == "" {
				code = CodeInternal
			}
			errorCodes[code]++
			if trace != nil {
				trace.failed = true
			}
		}

		if row.LatencyMS > 0 {
			latencies = append(latencies, row.LatencyMS)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Sprintf("orch: %s\nmetrics: failed to read log\nwindow_hours: %d", projectName, capHours)
	}

	sendTotal := sentOK + sentFail
	sendRate := 0.0
	if sendTotal > 0 {
		sendRate = 100.0 * float64(sentOK) / float64(sendTotal)
	}

	var cmdSuccess, cmdFailed, cmdPending int
	for _, flags := range traceState {
		if !flags.accepted {
			continue
		}
		switch {
		case flags.failed:
			cmdFailed++
		case flags.success:
			cmdSuccess++
		default:
			cmdPending++
		}
	}
	cmdDone := cmdSuccess + cmdFailed
	cmdRate := 0.0
	if cmdDone > 0 {
		cmdRate = 100.0 * float64(cmdSuccess) / float64(cmdDone)
	}

	lines := []string{
		fmt.Sprintf("orch: %s", projectName),
		fmt.Sprintf("window_hours: %d", capHours),
		fmt.Sprintf("events: total=%d incoming=%d accepted=%d rejected=%d", total, incoming, accepted, rejected),
		fmt.Sprintf("commands: success=%d failed=%d pending=%d success_rate=%.1f%%", cmdSuccess, cmdFailed, cmdPending, cmdRate),
		fmt.Sprintf("send: ok=%d fail=%d success_rate=%.1f%%", sentOK, sentFail, sendRate),
		fmt.Sprintf("completion: dispatch=%d direct=%d errors=%d", dispatchDone, directDone, errCount),
		fmt.Sprintf("latency_ms: p50=%d p95=%d samples=%d", percentile(latencies, 0.50), percentile(latencies, 0.95), len(latencies)),
	}
	if len(errorCodes) > 0 {
		codes := make([]string, 0, len(errorCodes))
		for code := range errorCodes {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		parts := make([]string, 0, len(codes))
		for _, code := range codes {
			parts = append(parts, fmt.Sprintf("%s=%d", code, errorCodes[code]))
		}
		lines = append(lines, "error_codes: "+strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

// percentile interpolates linearly between the two nearest ranks.
func percentile(values []int, pct float64) int {
	if len(values) == 0 {
		return 0
	}
	ordered := make([]int, len(values))
	copy(ordered, values)
	sort.Ints(ordered)
	if len(ordered) == 1 {
		return ordered[0]
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	rank := pct * float64(len(ordered)-1)
	lo := int(rank)
	hi := lo + 1
	if hi > len(ordered)-1 {
		hi = len(ordered) - 1
	}
	if lo == hi {
		return ordered[lo]
	}
	frac := rank - float64(lo)
	return int(math.Round(float64(ordered[lo])*(1.0-frac) + float64(ordered[hi])*frac))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
