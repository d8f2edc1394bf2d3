package orch

import (
	"context"
	"strings"
)

// CancelResult tallies one cancellation sweep over a request's assignments.
type CancelResult struct {
	RequestID string
	Targets   int
	Canceled  []string
	Failed    []string
	Skipped   []string
}

// CancelAssignments force-fails every non-terminal assignment in the request
// payload. Rows without a message id and rows already done or failed are
// skipped with a reason label.
func (c *Client) CancelAssignments(ctx context.Context, requestData map[string]any, note string) (CancelResult, error) {
	rows, _ := requestData["roles"].([]any)

	type target struct {
		role      string
		status    string
		messageID string
	}
	var targets []target
	var skipped []string

	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role := stringField(row, "role")
		status := strings.ToLower(stringField(row, "status"))
		messageID := stringField(row, "message_id")
		if messageID == "" {
			skipped = append(skipped, orDefault(role, "?")+"(no_message_id)")
			continue
		}
		switch status {
		case "done", "failed", "error", "fail":
			skipped = append(skipped, orDefault(role, "?")+"("+orDefault(status, "terminal")+")")
			continue
		}
		targets = append(targets, target{role: role, status: status, messageID: messageID})
	}

	var canceled, failed []string
	for _, t := range targets {
		ok, detail, err := c.FailMessage(ctx, t.messageID, t.role, note)
		if err != nil {
			return CancelResult{}, err
		}
		label := orDefault(t.role, "?") + ":" + t.messageID + ":" + orDefault(t.status, "pending")
		if ok {
			canceled = append(canceled, label)
		} else {
			failed = append(failed, label+":"+clip(detail, 120))
		}
	}

	return CancelResult{
		RequestID: stringField(requestData, "request_id"),
		Targets:   len(targets),
		Canceled:  canceled,
		Failed:    failed,
		Skipped:   skipped,
	}, nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
