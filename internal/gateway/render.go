package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aoe-sh/gateway/internal/orch"
	"github.com/aoe-sh/gateway/internal/state"
)

// helpText is the /help and /start reply. One source of truth for every
// grammar the gateway accepts.
const helpText = `AOE Telegram Gateway commands
Quick mode (slash-only default)
- /status /check /task /monitor /kpi /help
- /mode [on|off|direct]
- /on /off
- /ok (고위험 자동실행 확인)
- /whoami /lockme
- /acl /grant /revoke
- /pick <번호|task_label>
- /dispatch <요청>   (서브에이전트 배정)
- /direct <질문>     (오케스트레이터 직접 답변)
- /dispatch 또는 /direct만 입력하면 다음 메시지 1회 모드
- /cancel (대기 모드 해제)

Slash mode
- /help
- /status
- /mode [on|off|direct|dispatch]
- /on /off
- /ok
- /acl
- /grant <allow|admin|readonly> <chat_id|alias>
- /revoke <allow|admin|readonly|all> <chat_id|alias>
- /kpi [hours]
- /pick <number|request_or_alias>
- /cancel [request_or_alias]
- /retry <request_or_alias>
- /replan <request_or_alias>
- /request <request_or_alias>
- /run <prompt>

CLI mode
- aoe status
- aoe mode [on|off|direct|dispatch]
- aoe on | aoe off
- aoe ok
- aoe acl
- aoe grant <allow|admin|readonly> <chat_id|alias>
- aoe revoke <allow|admin|readonly|all> <chat_id|alias>
- aoe kpi [hours]
- aoe monitor [limit]
- aoe pick <number|request_or_alias>
- aoe cancel [request_or_alias]
- aoe retry <request_or_alias>
- aoe replan <request_or_alias>
- aoe request <request_or_alias>
- aoe run [--direct|--dispatch] [--roles <csv>] [--priority P1|P2|P3] [--timeout-sec N] [--no-wait] <prompt>
- aoe add-role <Role> [--provider <name>] [--launch <cmd>] [--spawn|--no-spawn]

Orch Manager
- aoe orch list
- aoe orch use <name>
- aoe orch add <name> --path <project_root> [--overview <text>] [--init|--no-init] [--spawn|--no-spawn]
- aoe orch status [--orch <name>]
- aoe orch kpi [--orch <name>] [--hours <n>]
- aoe orch monitor [--orch <name>] [--limit <n>]
- aoe orch run [--orch <name>] [--direct|--dispatch] [--roles <csv>] [--priority P1|P2|P3] [--timeout-sec N] [--no-wait] <prompt>
- aoe orch check [--orch <name>] [<request_or_alias>]   # 3단계 진행확인
- aoe orch task [--orch <name>] [<request_or_alias>]    # lifecycle 상태
- aoe orch pick [--orch <name>] <number|request_or_alias>
- aoe orch cancel [--orch <name>] [<request_or_alias>]
- aoe orch retry [--orch <name>] <request_or_alias>
- aoe orch replan [--orch <name>] <request_or_alias>

Routing
- default: slash-only (plain text ignored unless pending/default mode)
- default access: deny-by-default (allowlist required)
- bootstrap: when allowlist is empty, only /lockme|/whoami|/help is accepted
- owner gate: /lockme /grant /revoke are owner-only when TELEGRAM_OWNER_CHAT_ID is set
- dispatch only when explicit (--dispatch or --roles)
- auto dispatch: disabled by default (enable with --auto-dispatch)
- force dispatch: --dispatch
- force direct: --direct
- slash-only default: enabled (disable with --no-slash-only)
- verifier gate: on by default (disable with --no-require-verifier)
- task planning: on by default (disable with --no-task-planning)
- planning gate: auto-replan + block on critic issues by default
`

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

func asList(v any) []any {
	list, _ := v.([]any)
	return list
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// summarizeState renders a dispatch run's final wait state: request id,
// completion, role rows, and the first reply bodies.
func summarizeState(data map[string]any) string {
	requestID := asString(data["request_id"])
	if requestID == "" {
		requestID = "-"
	}
	complete := asBool(data["complete"])

	roles := asList(data["role_states"])
	if len(roles) == 0 {
		roles = asList(data["roles"])
	}
	replies := asList(data["replies"])

	lines := []string{
		"request_id: " + requestID,
		"complete: " + yesNo(complete),
	}
	if _, ok := data["timed_out"]; ok {
		lines = append(lines, "timed_out: "+yesNo(asBool(data["timed_out"])))
	}
	if v, ok := data["elapsed_sec"]; ok {
		lines = append(lines, "elapsed_sec: "+asString(v))
	}

	if len(roles) > 0 {
		lines = append(lines, "", "roles")
		for _, raw := range roles {
			row := asMap(raw)
			role := asString(row["role"])
			if role == "" {
				role = "?"
			}
			status := asString(row["status"])
			if status == "" {
				status = "?"
			}
			lines = append(lines, fmt.Sprintf("- %s: %s %s", role, status, asString(row["message_id"])))
		}
	}

	if len(replies) > 0 {
		lines = append(lines, "", "latest replies")
		for i, raw := range replies {
			if i >= 6 {
				break
			}
			row := asMap(raw)
			role := asString(row["role"])
			if role == "" {
				role = asString(row["from"])
			}
			if role == "" {
				role = "?"
			}
			body := strings.TrimSpace(strings.ReplaceAll(asString(row["body"]), "\n", " "))
			if runeLen(body) > 220 {
				body = string([]rune(body)[:217]) + "..."
			}
			if body != "" {
				lines = append(lines, fmt.Sprintf("- %s: %s", role, body))
			}
		}
	}

	if !complete {
		lines = append(lines, "", "hint: /request "+requestID)
	}
	return strings.Join(lines, "\n")
}

// renderRunResponse shapes a dispatch result for the chat. A single
// completed reply is passed through bare; several are labeled by role.
func renderRunResponse(data map[string]any, task *state.TaskRecord) string {
	requestID := strings.TrimSpace(asString(data["request_id"]))
	if requestID == "" {
		requestID = "-"
	}
	label := task.DisplayLabel(requestID)
	complete := asBool(data["complete"])

	type reply struct{ role, body string }
	var rendered []reply
	for _, raw := range asList(data["replies"]) {
		row := asMap(raw)
		role := strings.TrimSpace(asString(row["role"]))
		if role == "" {
			role = strings.TrimSpace(asString(row["from"]))
		}
		if role == "" {
			role = "assistant"
		}
		body := strings.TrimSpace(asString(row["body"]))
		if body != "" {
			rendered = append(rendered, reply{role: role, body: body})
		}
	}

	if complete && len(rendered) > 0 {
		if len(rendered) == 1 {
			return rendered[0].body
		}
		var lines []string
		for i, r := range rendered {
			if i >= 6 {
				break
			}
			lines = append(lines, "["+r.role+"]", r.body, "")
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}

	if !complete {
		return fmt.Sprintf("작업 접수됨: %s\n진행: 진행 %s\n상세: 상세 %s", label, label, label)
	}
	return fmt.Sprintf("작업 완료: %s\n(에이전트 본문 응답이 아직 없습니다)", label)
}

// summarizeRequestState renders a raw aoe-team request payload.
func summarizeRequestState(data map[string]any, task *state.TaskRecord) string {
	requestID := asString(data["request_id"])
	if requestID == "" {
		requestID = "-"
	}
	counts := asMap(data["counts"])

	lines := []string{
		"task: " + task.DisplayLabel(requestID),
		"request_id: " + requestID,
		fmt.Sprintf("counts: messages=%d assignments=%d replies=%d",
			asInt(counts["messages"]), asInt(counts["assignments"]), asInt(counts["replies"])),
		"complete: " + yesNo(asBool(data["complete"])),
	}

	roles := asList(data["roles"])
	if len(roles) > 0 {
		lines = append(lines, "", "roles")
		for _, raw := range roles {
			row := asMap(raw)
			lines = append(lines, fmt.Sprintf("- %s: %s %s",
				asString(row["role"]), asString(row["status"]), asString(row["message_id"])))
		}
	}

	var unresolved []string
	for _, v := range asList(data["unresolved_roles"]) {
		unresolved = append(unresolved, asString(v))
	}
	if len(unresolved) > 0 {
		lines = append(lines, "", "unresolved: "+strings.Join(unresolved, ", "))
	}
	return strings.Join(lines, "\n")
}

// threeStageSummary buckets a request into the three user-facing stages:
// intake/staffing, execution, and completion.
func threeStageSummary(projectName string, data map[string]any, task *state.TaskRecord) string {
	requestID := strings.TrimSpace(asString(data["request_id"]))
	if requestID == "" {
		requestID = "-"
	}
	counts := asMap(data["counts"])
	assignments := asInt(counts["assignments"])
	replies := asInt(counts["replies"])
	complete := asBool(data["complete"])

	var running, failed, done []string
	for _, raw := range asList(data["roles"]) {
		row := asMap(raw)
		role := strings.TrimSpace(asString(row["role"]))
		if role == "" {
			role = "?"
		}
		status := strings.ToLower(strings.TrimSpace(asString(row["status"])))
		if status == "" {
			status = "?"
		}
		item := role + "(" + status + ")"
		switch status {
		case "done":
			done = append(done, item)
		case "failed", "error", "fail":
			failed = append(failed, item)
		default:
			running = append(running, item)
		}
	}

	stage1 := "대기"
	if assignments > 0 {
		stage1 = "완료"
	}

	stage2 := "대기"
	switch {
	case len(failed) > 0:
		stage2 = "이슈"
	case len(running) > 0:
		stage2 = "진행중"
	case assignments > 0:
		stage2 = "완료"
	}

	stage3 := "대기"
	switch {
	case complete && len(failed) == 0:
		stage3 = "완료"
	case replies > 0:
		stage3 = "부분완료"
	}

	line2 := fmt.Sprintf("2) 실행: %s", stage2)
	if len(running) > 0 {
		line2 += " | running=" + strings.Join(running, ", ")
	}

	lines := []string{
		"orch: " + projectName,
		"task: " + task.DisplayLabel(requestID),
		"request_id: " + requestID,
		"3단계 진행확인",
		fmt.Sprintf("1) 접수/배정: %s (assignments=%d)", stage1, assignments),
		line2,
		fmt.Sprintf("3) 완료/회신: %s (replies=%d, complete=%s)", stage3, replies, yesNo(complete)),
	}

	if len(done) > 0 {
		lines = append(lines, "done: "+strings.Join(done, ", "))
	}
	if len(failed) > 0 {
		lines = append(lines, "failed: "+strings.Join(failed, ", "))
	}
	var unresolved []string
	for _, v := range asList(data["unresolved_roles"]) {
		unresolved = append(unresolved, asString(v))
	}
	if len(unresolved) > 0 {
		lines = append(lines, "unresolved: "+strings.Join(unresolved, ", "))
	}
	return strings.Join(lines, "\n")
}

// registrySummary lists every registered orch project, marking the active
// one and naming its last dispatched task.
func registrySummary(manager *state.Manager) string {
	active := state.NormalizeProjectName(manager.Active)
	if len(manager.Projects) == 0 {
		return "orch registry empty"
	}

	keys := make([]string, 0, len(manager.Projects))
	for k := range manager.Projects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []string{"active: " + active, "projects:"}
	for _, key := range keys {
		entry := manager.Projects[key]
		if entry == nil {
			continue
		}
		marker := "-"
		if key == active {
			marker = "*"
		}
		lastTask := "-"
		if rid := strings.TrimSpace(entry.LastRequestID); rid != "" {
			if task := entry.Task(rid); task != nil {
				lastTask = task.DisplayLabel(rid)
			} else {
				lastTask = rid
			}
		}
		lines = append(lines, fmt.Sprintf("%s %s | root=%s | last_task=%s",
			marker, key, strings.TrimSpace(entry.ProjectRoot), lastTask))
	}
	return strings.Join(lines, "\n")
}

// cancelSummary renders a cancellation sweep tally.
func cancelSummary(projectName, requestID string, task *state.TaskRecord, result orch.CancelResult) string {
	lines := []string{
		"orch: " + projectName,
		"task: " + task.DisplayLabel(requestID),
		"request_id: " + requestID,
		fmt.Sprintf("cancel: targets=%d canceled=%d failed=%d skipped=%d",
			result.Targets, len(result.Canceled), len(result.Failed), len(result.Skipped)),
	}
	if len(result.Canceled) > 0 {
		lines = append(lines, "canceled_roles: "+strings.Join(firstN(result.Canceled, 6), ", "))
	}
	if len(result.Failed) > 0 {
		lines = append(lines, "cancel_failures: "+strings.Join(firstN(result.Failed, 4), ", "))
	}
	if len(result.Skipped) > 0 {
		lines = append(lines, "skipped: "+strings.Join(firstN(result.Skipped, 6), ", "))
	}
	return strings.Join(lines, "\n")
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
