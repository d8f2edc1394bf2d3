package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Runner executes one prompt against the local model CLI and returns its
// text output. Satisfied by llm.CodexClient.
type Runner interface {
	Exec(ctx context.Context, prompt string, timeout time.Duration) (string, error)
}

// Build asks the planner for a sub-task decomposition of the user prompt
// and normalizes whatever comes back. The error is the runner's own; a
// reply that parses to nothing still yields the fallback plan.
func Build(ctx context.Context, r Runner, userPrompt string, availableRoles []string, maxSubtasks int, cmdTimeout time.Duration) (Plan, error) {
	workers := WorkerRoles(availableRoles)
	prompt := fmt.Sprintf(`너는 작업 오케스트레이션 planner다. 사용자 요청을 실행 가능한 sub-task 계획으로 분해해라.
반드시 JSON 객체만 출력한다. 설명 문장 금지.
JSON 스키마:
{
  "summary": "한 줄 요약",
  "subtasks": [
    {"id":"S1", "title":"...", "goal":"...", "owner_role":"ROLE", "acceptance":["..."]}
  ]
}
제약:
- owner_role은 다음 중 하나만 사용: %s
- subtasks는 1~%d개
- 각 subtask는 서로 다른 산출물을 갖도록 분해
- acceptance는 검증 가능한 문장 1~3개

사용자 요청:
%s
`, strings.Join(workers, ", "), capLimit(maxSubtasks), strings.TrimSpace(userPrompt))

	raw, err := r.Exec(ctx, prompt, clampTimeout(cmdTimeout, 90*time.Second, 600*time.Second))
	if err != nil {
		return Plan{}, err
	}
	return Normalize(ExtractJSONObject(raw), userPrompt, workers, maxSubtasks), nil
}

// Critique runs the critic over a plan. Runner failures and unparseable
// replies both degrade to an approving verdict.
func Critique(ctx context.Context, r Runner, userPrompt string, p Plan, cmdTimeout time.Duration) Critic {
	payload, err := json.Marshal(p)
	if err != nil {
		return NormalizeCritic(nil)
	}
	prompt := fmt.Sprintf(`너는 task plan critic이다. 아래 계획의 누락/과도분해/검증불가 항목을 점검해라.
반드시 JSON 객체만 출력한다. 설명 문장 금지.
JSON 스키마:
{
  "approved": true|false,
  "issues": ["..."],
  "recommendations": ["..."]
}
규칙:
- issues는 치명/중요 문제만
- recommendations는 실행 가능한 수정 제안만

사용자 요청:
%s

plan:
%s
`, strings.TrimSpace(userPrompt), payload)

	raw, err := r.Exec(ctx, prompt, clampTimeout(cmdTimeout, 90*time.Second, 480*time.Second))
	if err != nil {
		return NormalizeCritic(nil)
	}
	return NormalizeCritic(ExtractJSONObject(raw))
}

// Repair asks the planner to fix the plan against the critic verdict.
func Repair(ctx context.Context, r Runner, userPrompt string, current Plan, c Critic, availableRoles []string, maxSubtasks int, attempt int, cmdTimeout time.Duration) (Plan, error) {
	workers := WorkerRoles(availableRoles)
	currentPayload, err := json.Marshal(current)
	if err != nil {
		return Plan{}, err
	}
	criticPayload, err := json.Marshal(c)
	if err != nil {
		return Plan{}, err
	}
	prompt := fmt.Sprintf(`너는 task planner다. critic 이슈를 반영해 계획을 고쳐라.
반드시 JSON 객체만 출력한다. 설명 문장 금지.
JSON 스키마:
{
  "summary": "한 줄 요약",
  "subtasks": [
    {"id":"S1", "title":"...", "goal":"...", "owner_role":"ROLE", "acceptance":["..."]}
  ]
}
제약:
- owner_role은 다음 중 하나만 사용: %s
- subtasks는 1~%d개
- acceptance는 검증 가능한 문장 1~3개
- critic issues를 가능한 한 모두 해소

attempt: %d
사용자 요청:
%s

current_plan:
%s

critic:
%s
`, strings.Join(workers, ", "), capLimit(maxSubtasks), attempt, strings.TrimSpace(userPrompt), currentPayload, criticPayload)

	raw, err := r.Exec(ctx, prompt, clampTimeout(cmdTimeout, 90*time.Second, 600*time.Second))
	if err != nil {
		return Plan{}, err
	}
	return Normalize(ExtractJSONObject(raw), userPrompt, workers, maxSubtasks), nil
}

// DispatchPrompt renders the plan and critic findings into the prompt the
// orchestrator run receives instead of the raw user text.
func DispatchPrompt(userPrompt string, p Plan, c Critic) string {
	var lines []string
	lines = append(lines, "원사용자 요청:")
	lines = append(lines, strings.TrimSpace(userPrompt))
	lines = append(lines, "")
	if summary := strings.TrimSpace(p.Summary); summary != "" {
		lines = append(lines, "계획 요약:")
		lines = append(lines, summary)
		lines = append(lines, "")
	}

	lines = append(lines, "실행할 sub-task:")
	for _, row := range p.Subtasks {
		sid := strings.TrimSpace(row.ID)
		if sid == "" {
			sid = "S"
		}
		title := strings.TrimSpace(row.Title)
		if title == "" {
			title = "subtask"
		}
		goal := strings.TrimSpace(row.Goal)
		if goal == "" {
			goal = title
		}
		role := strings.TrimSpace(row.OwnerRole)
		if role == "" {
			role = "Worker"
		}
		lines = append(lines, fmt.Sprintf("- %s [%s] %s: %s", sid, role, title, goal))
	}

	if c.HasBlockers() || len(c.Recommendations) > 0 {
		lines = append(lines, "")
		lines = append(lines, "critic 체크:")
		for _, item := range capList(c.Issues, 5) {
			lines = append(lines, "- issue: "+item)
		}
		for _, item := range capList(c.Recommendations, 5) {
			lines = append(lines, "- fix: "+item)
		}
	}

	lines = append(lines, "")
	lines = append(lines, "위 계획과 체크사항을 반영해 역할별 실행/검증 결과를 산출해라.")
	return strings.Join(lines, "\n")
}

func capLimit(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func capList(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func clampTimeout(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		d = lo
	}
	if d > hi {
		return hi
	}
	return d
}
