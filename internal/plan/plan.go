// Package plan decomposes a user request into a bounded sub-task plan,
// runs a critic pass over it, and repairs it when the critic finds
// blockers. Payloads are normalized to a fixed shape before anything is
// persisted or dispatched.
package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aoe-sh/gateway/internal/parse"
)

// Plan is the normalized planner output.
type Plan struct {
	Summary  string    `json:"summary"`
	Subtasks []Subtask `json:"subtasks"`
	Meta     Meta      `json:"meta"`
}

// Subtask is one unit of work with a single owner role.
type Subtask struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Goal       string   `json:"goal"`
	OwnerRole  string   `json:"owner_role"`
	Acceptance []string `json:"acceptance"`
}

// Meta records the constraints the plan was normalized under.
type Meta struct {
	MaxSubtasks int      `json:"max_subtasks"`
	WorkerRoles []string `json:"worker_roles"`
}

// Critic is the normalized critic verdict.
type Critic struct {
	Approved        bool     `json:"approved"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// HasBlockers reports whether the critic rejected the plan or raised any
// issue. Recommendations alone do not block.
func (c Critic) HasBlockers() bool {
	return !c.Approved || len(c.Issues) > 0
}

// Replan records one repair attempt for the task audit trail.
type Replan struct {
	Attempt  int    `json:"attempt"`
	Critic   string `json:"critic"`
	Subtasks int    `json:"subtasks"`
}

// Roles returns the deduped owner roles across subtasks in plan order.
func (p Plan) Roles() []string {
	var roles []string
	for _, row := range p.Subtasks {
		if role := strings.TrimSpace(row.OwnerRole); role != "" {
			roles = append(roles, role)
		}
	}
	return parse.DedupeRoles(roles)
}

// WorkerRoles filters the orchestrator out of the available roles. A team
// with no workers still plans against Reviewer.
func WorkerRoles(available []string) []string {
	var workers []string
	for _, role := range parse.DedupeRoles(available) {
		if strings.ToLower(role) == "orchestrator" {
			continue
		}
		workers = append(workers, role)
	}
	if len(workers) == 0 {
		return []string{"Reviewer"}
	}
	return workers
}

// Renormalize re-caps a stored plan against the current worker set and
// subtask limit. Used when a retry reuses the source task's plan.
func Renormalize(p Plan, userPrompt string, workers []string, maxSubtasks int) Plan {
	raw, err := json.Marshal(p)
	if err != nil {
		return Normalize(nil, userPrompt, workers, maxSubtasks)
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Normalize(nil, userPrompt, workers, maxSubtasks)
	}
	return Normalize(parsed, userPrompt, workers, maxSubtasks)
}

// Normalize coerces a raw planner reply into a valid Plan: subtask ids,
// titles, and goals are filled, owner roles are mapped onto the worker set,
// acceptance is capped at 3 lines, and the subtask count is capped at
// maxSubtasks. A nil or useless reply yields a single-subtask fallback.
func Normalize(parsed map[string]any, userPrompt string, workers []string, maxSubtasks int) Plan {
	roleMap := map[string]string{}
	for _, role := range workers {
		roleMap[strings.ToLower(role)] = role
	}

	summary := strings.TrimSpace(stringValue(parsed, "summary"))
	var normalized []Subtask
	for i, raw := range listValue(parsed, "subtasks") {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		n := i + 1

		sid := strings.TrimSpace(stringValue(row, "id"))
		if sid == "" {
			sid = fmt.Sprintf("S%d", n)
		}
		title := strings.TrimSpace(stringValue(row, "title"))
		if title == "" {
			title = strings.TrimSpace(stringValue(row, "goal"))
		}
		if title == "" {
			title = fmt.Sprintf("Subtask %d", n)
		}
		goal := strings.TrimSpace(stringValue(row, "goal"))
		if goal == "" {
			goal = title
		}

		roleRaw := strings.TrimSpace(stringValue(row, "owner_role"))
		if roleRaw == "" {
			roleRaw = strings.TrimSpace(stringValue(row, "role"))
		}
		role, ok := roleMap[strings.ToLower(roleRaw)]
		if !ok {
			idx := n - 1
			if idx > len(workers)-1 {
				idx = len(workers) - 1
			}
			role = workers[idx]
		}

		var acceptance []string
		for _, item := range listValue(row, "acceptance") {
			if token := strings.TrimSpace(anyString(item)); token != "" {
				acceptance = append(acceptance, token)
			}
		}
		if len(acceptance) == 0 {
			acceptance = []string{fmt.Sprintf("%s 결과가 사용자 요청과 직접 연결되어 설명된다.", title)}
		}
		if len(acceptance) > 3 {
			acceptance = acceptance[:3]
		}

		normalized = append(normalized, Subtask{
			ID:         sid,
			Title:      title,
			Goal:       goal,
			OwnerRole:  role,
			Acceptance: acceptance,
		})
	}

	limit := maxSubtasks
	if limit < 1 {
		limit = 1
	}
	if len(normalized) > limit {
		normalized = normalized[:limit]
	}
	if len(normalized) == 0 {
		normalized = []Subtask{{
			ID:         "S1",
			Title:      "요청 핵심 실행",
			Goal:       strings.TrimSpace(userPrompt),
			OwnerRole:  workers[0],
			Acceptance: []string{"요청에 대한 실행/검증 결과가 사용자 관점으로 정리된다."},
		}}
	}
	if summary == "" {
		summary = fmt.Sprintf("subtasks=%d", len(normalized))
	}

	return Plan{
		Summary:  summary,
		Subtasks: normalized,
		Meta:     Meta{MaxSubtasks: limit, WorkerRoles: workers},
	}
}

// NormalizeCritic coerces a raw critic reply. A nil reply approves by
// default so a broken critic never blocks dispatch on its own.
func NormalizeCritic(parsed map[string]any) Critic {
	out := Critic{Approved: true}
	if parsed == nil {
		return out
	}
	if v, ok := parsed["approved"].(bool); ok {
		out.Approved = v
	}
	for _, item := range listValue(parsed, "issues") {
		if token := strings.TrimSpace(anyString(item)); token != "" {
			out.Issues = append(out.Issues, token)
		}
	}
	for _, item := range listValue(parsed, "recommendations") {
		if token := strings.TrimSpace(anyString(item)); token != "" {
			out.Recommendations = append(out.Recommendations, token)
		}
	}
	if len(out.Issues) > 5 {
		out.Issues = out.Issues[:5]
	}
	if len(out.Recommendations) > 5 {
		out.Recommendations = out.Recommendations[:5]
	}
	return out
}

// ExtractJSONObject pulls the first JSON object out of model output that
// may carry prose around it. Returns nil when no object parses.
func ExtractJSONObject(text string) map[string]any {
	src := strings.TrimSpace(text)
	if src == "" {
		return nil
	}

	var whole map[string]any
	if err := json.Unmarshal([]byte(src), &whole); err == nil {
		return whole
	}

	for i := 0; i < len(src); i++ {
		if src[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(src[i:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil && obj != nil {
			return obj
		}
	}
	return nil
}

func stringValue(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	return anyString(m[key])
}

func anyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func listValue(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	if rows, ok := m[key].([]any); ok {
		return rows
	}
	return nil
}
