package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/orch"
	"github.com/aoe-sh/gateway/internal/parse"
	"github.com/aoe-sh/gateway/internal/telegram"
)

const (
	codeCommand  = "E_COMMAND"
	codeTimeout  = "E_TIMEOUT"
	codeGate     = "E_GATE"
	codeOrch     = "E_ORCH"
	codeRequest  = "E_REQUEST"
	codeTelegram = "E_TELEGRAM"
	codeAuth     = "E_AUTH"
	codeInternal = "E_INTERNAL"
)

// classifyError maps a handler failure onto an error code, a user-facing
// message, and a next-step hint. Typed errors are checked first; the rest
// is matched on lowercase substrings of the message.
func classifyError(err error) (code, userMsg, hint string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return codeTimeout, "요청 처리 시간이 제한을 초과했습니다.", "/task 또는 /check로 진행 상태를 확인하세요."
	}

	var usage *parse.UsageError
	if errors.As(err, &usage) {
		return codeCommand, "명령 형식이 올바르지 않습니다.", "/help로 명령 예시를 확인하세요."
	}

	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) {
		return codeTelegram, "텔레그램 전송 과정에서 오류가 발생했습니다.", "잠시 후 같은 명령을 다시 실행하세요."
	}

	low := strings.ToLower(err.Error())

	var execErr *orch.ExecError
	isExec := errors.As(err, &execErr)

	switch {
	case hasAny(low, "usage:", "unknown option", "unknown command", "invalid cli format",
		"invalid priority", "must be integer", "unknown orch project", "unknown chat alias",
		"chat target must be"):
		return codeCommand, "명령 형식이 올바르지 않습니다.", "/help로 명령 예시를 확인하세요."

	case hasAny(low, "plan gate blocked", "critic"):
		return codeGate, "계획 검증 게이트에서 차단되었습니다.", "요청 범위를 좁혀 /dispatch로 다시 실행하세요."

	case hasAny(low, "verifier gate"):
		return codeGate, "검증 역할(verifier) 요건이 충족되지 않았습니다.", "/status로 역할 구성을 확인하세요."

	case hasAny(low, "permission denied", "unauthorized"):
		return codeAuth, "권한이 없습니다.", "/whoami로 현재 chat 권한을 확인하세요."

	case hasAny(low, "aoe-team request failed", "request returned non-json"):
		return codeRequest, "요청 상태를 조회하지 못했습니다.", "잠시 후 /check 또는 /task를 다시 실행하세요."

	case hasAny(low, "telegram api", "sendmessage failed"):
		return codeTelegram, "텔레그램 전송 과정에서 오류가 발생했습니다.", "잠시 후 같은 명령을 다시 실행하세요."

	case hasAny(low, "aoe-orch run failed", "aoe-orch") || isExec:
		return codeOrch, "오케스트레이터 실행 중 오류가 발생했습니다.", "/status로 시스템 상태를 확인하세요."
	}

	return codeInternal, "내부 처리 중 오류가 발생했습니다.", "/help 또는 /status로 상태를 확인하세요."
}

// formatErrorReply renders the chat-facing error block. detail is masked
// and clipped so stack-ish output never leaks secrets or floods the chat.
func formatErrorReply(code, userMsg, hint, detail string) string {
	lines := []string{"error_code: " + code, userMsg}
	if d := strings.TrimSpace(detail); d != "" {
		lines = append(lines, "detail: "+events.Truncate(events.Mask(d), 180))
	}
	lines = append(lines, "next: "+hint)
	return strings.Join(lines, "\n")
}

func hasAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
