package parse

import (
	"strconv"
	"strings"
)

func inSet(s string, set ...string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

// tailAfter returns the text after the first space, trimmed. prefix must
// already be known to match.
func tailAfter(norm string) string {
	_, rest, _ := strings.Cut(norm, " ")
	return strings.TrimSpace(rest)
}

// Quick recognizes bare keyword messages like "kpi 24", "진행", or
// "팀작업: ..." and maps them onto commands. It returns nil when the text
// is not a quick form.
func Quick(text string) *Command {
	norm := NormalizeLooseText(text)
	if norm == "" || strings.HasPrefix(norm, "/") {
		return nil
	}

	low := strings.ToLower(norm)

	if inSet(low, "help", "도움말", "메뉴", "menu") {
		return &Command{Cmd: "help"}
	}

	if inSet(low, "ok", "확인실행", "실행확인") {
		return &Command{Cmd: "confirm-run"}
	}

	if inSet(low, "mode", "모드") {
		return &Command{Cmd: "mode", Mode: "status"}
	}
	if low == "inbox" {
		return &Command{Cmd: "mode", Mode: "dispatch"}
	}
	if inSet(low, "on", "켜기", "활성화") {
		return &Command{Cmd: "mode", Mode: "dispatch"}
	}
	if inSet(low, "off", "끄기", "해제") {
		return &Command{Cmd: "mode", Mode: "off"}
	}
	if strings.HasPrefix(low, "mode ") || strings.HasPrefix(low, "모드 ") {
		if token := NormalizeModeToken(tailAfter(norm)); token != "" {
			return &Command{Cmd: "mode", Mode: token}
		}
		return &Command{Cmd: "mode", Mode: "invalid"}
	}

	if inSet(low, "acl", "권한", "권한설정", "permissions", "permission") {
		return &Command{Cmd: "acl"}
	}

	if inSet(low, "status", "상태", "현재 상태", "현재상태") {
		return &Command{Cmd: "status"}
	}

	if inSet(low, "kpi", "지표", "메트릭", "metrics") {
		return &Command{Cmd: "orch-kpi"}
	}
	if strings.HasPrefix(low, "kpi ") {
		tail := tailAfter(norm)
		if isDigits(tail) {
			n, _ := strconv.Atoi(tail)
			return &Command{Cmd: "orch-kpi", Hours: clampRange(n, 1, 168)}
		}
		return &Command{Cmd: "orch-kpi"}
	}

	if inSet(low, "모니터", "작업목록", "목록", "monitor", "tasks") {
		return &Command{Cmd: "orch-monitor"}
	}
	if strings.HasPrefix(low, "모니터 ") || strings.HasPrefix(low, "작업목록 ") {
		tail := tailAfter(norm)
		if isDigits(tail) {
			n, _ := strconv.Atoi(tail)
			return &Command{Cmd: "orch-monitor", Limit: clampRange(n, 1, 50)}
		}
		return &Command{Cmd: "orch-monitor"}
	}

	if inSet(low, "진행", "진행 확인", "진행확인", "check") {
		return &Command{Cmd: "orch-check"}
	}
	for _, p := range []string{"진행 ", "check ", "확인 "} {
		if strings.HasPrefix(low, p) {
			return &Command{Cmd: "orch-check", RequestID: tailAfter(norm)}
		}
	}

	if inSet(low, "상세", "상세 상태", "상세상태", "task", "lifecycle", "라이프사이클") {
		return &Command{Cmd: "orch-task"}
	}
	for _, p := range []string{"상세 ", "task ", "상태 "} {
		if strings.HasPrefix(low, p) {
			return &Command{Cmd: "orch-task", RequestID: tailAfter(norm)}
		}
	}

	if inSet(low, "pick", "선택") {
		return &Command{Cmd: "orch-pick"}
	}
	for _, p := range []string{"pick ", "선택 "} {
		if strings.HasPrefix(low, p) {
			return &Command{Cmd: "orch-pick", RequestID: tailAfter(norm)}
		}
	}

	for _, p := range []string{"retry ", "재시도 ", "다시 "} {
		if strings.HasPrefix(low, p) {
			return &Command{Cmd: "orch-retry", RequestID: tailAfter(norm)}
		}
	}
	for _, p := range []string{"replan ", "재계획 "} {
		if strings.HasPrefix(low, p) {
			return &Command{Cmd: "orch-replan", RequestID: tailAfter(norm)}
		}
	}
	for _, p := range []string{"cancel ", "취소 "} {
		if strings.HasPrefix(low, p) {
			return &Command{Cmd: "orch-cancel", RequestID: tailAfter(norm)}
		}
	}

	if inSet(low, "취소", "cancel", "취소해") {
		return &Command{Cmd: "cancel-pending"}
	}

	if inSet(low, "팀작업", "작업", "dispatch") {
		return &Command{Cmd: "quick-dispatch"}
	}
	if inSet(low, "직접질문", "직접", "질문", "direct") {
		return &Command{Cmd: "quick-direct"}
	}

	for _, prefix := range []string{"팀작업:", "팀작업 ", "작업:", "작업 ", "dispatch:", "dispatch "} {
		if strings.HasPrefix(low, prefix) {
			prompt := strings.TrimSpace(norm[len(prefix):])
			if prompt == "" {
				return &Command{Cmd: "quick-dispatch"}
			}
			return &Command{Cmd: "run", Prompt: prompt, ForceMode: "dispatch"}
		}
	}

	for _, prefix := range []string{"질문:", "질문 ", "직접:", "직접 ", "direct:", "direct "} {
		if strings.HasPrefix(low, prefix) {
			prompt := strings.TrimSpace(norm[len(prefix):])
			if prompt == "" {
				return &Command{Cmd: "quick-direct"}
			}
			return &Command{Cmd: "run", Prompt: prompt, ForceMode: "direct"}
		}
	}

	return nil
}
