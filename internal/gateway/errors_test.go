package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aoe-sh/gateway/internal/orch"
	"github.com/aoe-sh/gateway/internal/parse"
	"github.com/aoe-sh/gateway/internal/telegram"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, codeTimeout},
		{"wrapped deadline", fmt.Errorf("orch run: %w", context.DeadlineExceeded), codeTimeout},
		{"usage error", &parse.UsageError{Msg: "usage: /ok"}, codeCommand},
		{"telegram api error", &telegram.APIError{Method: "sendMessage", Code: 429, Description: "Too Many Requests"}, codeTelegram},
		{"usage text", errors.New("usage: aoe retry <request_or_alias>"), codeCommand},
		{"unknown option", errors.New("unknown option: --forced"), codeCommand},
		{"invalid priority", errors.New("invalid priority (use P1/P2/P3)"), codeCommand},
		{"unknown project", errors.New("unknown orch project: demo2"), codeCommand},
		{"plan gate", errors.New("plan gate blocked: critic issues remain"), codeGate},
		{"verifier gate", errors.New("verifier gate unsatisfied"), codeGate},
		{"permission", errors.New("permission denied: unauthorized chat."), codeAuth},
		{"request lookup", errors.New("aoe-team request failed: exit 2"), codeRequest},
		{"send failure", errors.New("sendMessage failed after retries"), codeTelegram},
		{"orch run", errors.New("aoe-orch run failed: exit 9"), codeOrch},
		{"exec error", &orch.ExecError{Command: "aoe-orch spawn", Msg: "aoe-orch spawn failed: exit 2"}, codeOrch},
		{"fallback", errors.New("something odd"), codeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, userMsg, hint := classifyError(tc.err)
			if code != tc.want {
				t.Errorf("code = %q, want %q", code, tc.want)
			}
			if userMsg == "" || hint == "" {
				t.Errorf("empty user message or hint for %v", tc.err)
			}
		})
	}
}

func TestFormatErrorReply(t *testing.T) {
	got := formatErrorReply(codeOrch, "오케스트레이터 실행 중 오류가 발생했습니다.", "/status로 시스템 상태를 확인하세요.", "exit 9")
	for _, want := range []string{
		"error_code: E_ORCH",
		"오케스트레이터 실행 중 오류가 발생했습니다.",
		"detail: exit 9",
		"next: /status로 시스템 상태를 확인하세요.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("reply missing %q:\n%s", want, got)
		}
	}

	// Empty detail drops the detail line entirely.
	got = formatErrorReply(codeInternal, "m", "h", "  ")
	if strings.Contains(got, "detail:") {
		t.Errorf("blank detail rendered: %s", got)
	}
}

func TestFormatErrorReplyMasksSecrets(t *testing.T) {
	got := formatErrorReply(codeTelegram, "m", "h", "api call 1234567890:AAHxKlmNoPqRsTuVwXyZ_abcdef12345 rejected, token=tg-secret-value")
	if strings.Contains(got, "AAHxKlmNoPqRsTuVwXyZ") || strings.Contains(got, "tg-secret-value") {
		t.Errorf("secret leaked: %s", got)
	}
	if !strings.Contains(got, "[REDACTED_TELEGRAM_TOKEN]") {
		t.Errorf("token not masked: %s", got)
	}
}
