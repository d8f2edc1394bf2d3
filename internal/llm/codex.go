// Package llm runs the local codex CLI that backs planning, critique, and
// direct orchestrator replies.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CodexClient shells out to `codex exec` in a project root. The reply body
// is written to a temp file via -o; stdout is the fallback when the file
// comes back empty.
type CodexClient struct {
	bin            string
	projectRoot    string
	permissionMode string
}

// NewCodexClient builds a client. permissionMode selects the sandbox flags
// (full, danger-full-access, workspace-write, read-only).
func NewCodexClient(bin, projectRoot, permissionMode string) *CodexClient {
	if strings.TrimSpace(bin) == "" {
		bin = "codex"
	}
	return &CodexClient{
		bin:            bin,
		projectRoot:    projectRoot,
		permissionMode: strings.ToLower(strings.TrimSpace(permissionMode)),
	}
}

// Exec runs one prompt and returns the reply body.
func (c *CodexClient) Exec(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	out, err := os.CreateTemp("", "aoe_tg_*.txt")
	if err != nil {
		return "", fmt.Errorf("codex exec: create temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()
	defer os.Remove(outPath)

	if timeout < 5*time.Second {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, c.args(prompt, outPath)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("codex exec timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("codex exec failed: %s", clip(detail, 1000))
	}

	body := ""
	if data, err := os.ReadFile(outPath); err == nil {
		body = strings.TrimSpace(string(data))
	}
	if body == "" {
		body = strings.TrimSpace(stdout.String())
	}
	if body == "" {
		return "", fmt.Errorf("codex exec returned empty output")
	}
	return body, nil
}

func (c *CodexClient) args(prompt, outPath string) []string {
	args := []string{
		"exec",
		"--skip-git-repo-check",
		"--disable", "multi_agent",
		"-C", c.projectRoot,
		"-o", outPath,
		prompt,
	}
	switch c.permissionMode {
	case "full", "unsafe", "bypass", "dangerous":
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	case "danger", "danger-full-access":
		args = append(args, "--sandbox", "danger-full-access")
	case "read-only", "readonly":
		args = append(args, "--sandbox", "read-only")
	default:
		args = append(args, "--sandbox", "workspace-write")
	}
	return args
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
