package lifecycle

import (
	"fmt"
	"strings"

	"github.com/aoe-sh/gateway/internal/parse"
	"github.com/aoe-sh/gateway/internal/state"
)

// Summarize renders the /task lifecycle block for one record: identity,
// stage table, plan and critic digest, result counters, recent history.
func Summarize(projectName string, task *state.TaskRecord) string {
	requestID := strings.TrimSpace(task.RequestID)
	if requestID == "" {
		requestID = "-"
	}
	label := task.DisplayLabel(requestID)
	roles := parse.DedupeRoles(task.Roles)
	verifiers := parse.DedupeRoles(task.VerifierRoles)

	lines := []string{
		"orch: " + projectName,
		"task: " + label,
		"request_id: " + requestID,
		"status: " + orDefault(task.Status, "pending"),
		"mode: " + orDefault(task.Mode, "dispatch"),
		"roles: " + joinOrDash(roles),
		"verifier_roles: " + joinOrDash(verifiers),
		"lifecycle:",
	}
	for _, name := range state.StageNames {
		status := task.Stages[name]
		if status == "" {
			status = "pending"
		}
		lines = append(lines, "- "+name+": "+status)
	}

	if p := task.Plan; p != nil {
		if summary := strings.TrimSpace(p.Summary); summary != "" {
			lines = append(lines, "plan_summary: "+summary)
		}
		lines = append(lines, fmt.Sprintf("plan_subtasks: %d", len(p.Subtasks)))

		ownerOrder := []string{}
		ownerCounts := map[string]int{}
		for _, row := range p.Subtasks {
			role := strings.TrimSpace(row.OwnerRole)
			if role == "" {
				role = "Worker"
			}
			if _, seen := ownerCounts[role]; !seen {
				ownerOrder = append(ownerOrder, role)
			}
			ownerCounts[role]++
		}
		if len(ownerOrder) > 0 {
			parts := make([]string, 0, len(ownerOrder))
			for _, role := range ownerOrder {
				parts = append(parts, fmt.Sprintf("%s=%d", role, ownerCounts[role]))
			}
			lines = append(lines, "plan_owner_load: "+strings.Join(parts, ", "))
		}

		for i, row := range p.Subtasks {
			if i >= 6 {
				break
			}
			sid := orDefault(strings.TrimSpace(row.ID), "S")
			role := orDefault(strings.TrimSpace(row.OwnerRole), "Worker")
			title := strings.TrimSpace(row.Title)
			if title == "" {
				title = strings.TrimSpace(row.Goal)
			}
			if title == "" {
				title = "subtask"
			}
			lines = append(lines, fmt.Sprintf("- plan %s [%s] %s", sid, role, title))
		}
	}

	if c := task.PlanCritic; c != nil {
		verdict := "approved"
		if c.HasBlockers() {
			verdict = "needs_fix"
		}
		lines = append(lines, "plan_critic: "+verdict)
		for i, item := range c.Issues {
			if i >= 4 {
				break
			}
			if token := strings.TrimSpace(item); token != "" {
				lines = append(lines, "- issue: "+token)
			}
		}
		for i, item := range c.Recommendations {
			if i >= 4 {
				break
			}
			if token := strings.TrimSpace(item); token != "" {
				lines = append(lines, "- recommendation: "+token)
			}
		}
	}

	if task.PlanGatePassed != nil {
		if *task.PlanGatePassed {
			lines = append(lines, "plan_gate: passed")
		} else {
			lines = append(lines, "plan_gate: blocked")
		}
	}

	if replans := task.PlanReplans; len(replans) > 0 {
		lines = append(lines, fmt.Sprintf("plan_replans: %d", len(replans)))
		start := len(replans) - 3
		if start < 0 {
			start = 0
		}
		for _, row := range replans[start:] {
			verdict := orDefault(strings.TrimSpace(row.Critic), "unknown")
			lines = append(lines, fmt.Sprintf("- replan#%d: critic=%s subtasks=%d", row.Attempt, verdict, row.Subtasks))
		}
	}

	if r := task.Result; r != nil {
		complete := "no"
		if r.Complete {
			complete = "yes"
		}
		lines = append(lines, fmt.Sprintf("summary: assignments=%d replies=%d complete=%s", r.Assignments, r.Replies, complete))
		if len(r.FailedRoles) > 0 {
			lines = append(lines, "failed_roles: "+strings.Join(r.FailedRoles, ", "))
		}
		if len(r.PendingRoles) > 0 {
			lines = append(lines, "pending_roles: "+strings.Join(r.PendingRoles, ", "))
		}
	}

	if history := task.History; len(history) > 0 {
		lines = append(lines, "recent:")
		start := len(history) - 6
		if start < 0 {
			start = 0
		}
		for _, ev := range history[start:] {
			row := fmt.Sprintf("- %s %s:%s", ev.At, ev.Stage, ev.Status)
			if note := strings.TrimSpace(ev.Note); note != "" {
				row += " (" + note + ")"
			}
			lines = append(lines, row)
		}
	}

	return strings.Join(lines, "\n")
}

// MonitorSummary renders the /monitor board: status counts, the latest rows,
// and an alias map so numeric picks work.
func MonitorSummary(projectName string, project *state.Project, limit int) string {
	if len(project.Tasks) == 0 {
		return "orch: " + projectName + "\n작업이 없습니다."
	}

	project.BackfillAliases()
	ordered := project.OrderedTaskIDs()

	n := limit
	if n < 1 {
		n = 1
	}
	if n > 50 {
		n = 50
	}

	counts := map[string]int{}
	invalidStageRows := 0
	for _, rid := range ordered {
		task := project.Tasks[rid]
		counts[state.NormalizeTaskStatus(task.Status)]++
		stage := strings.ToLower(strings.TrimSpace(task.Stage))
		if stage != "" && !validStage(stage) {
			invalidStageRows++
		}
	}

	lines := []string{
		"orch: " + projectName,
		fmt.Sprintf("task monitor: latest %d", n),
		"format: label | status/stage | roles | updated",
		fmt.Sprintf("summary: total=%d running=%d completed=%d failed=%d pending=%d",
			len(ordered), counts["running"], counts["completed"], counts["failed"], counts["pending"]),
	}
	if invalidStageRows > 0 {
		lines = append(lines, fmt.Sprintf("warning: invalid lifecycle stage rows=%d", invalidStageRows))
	}

	shown := ordered
	if len(shown) > n {
		shown = shown[:n]
	}
	for i, rid := range shown {
		task := project.Tasks[rid]
		label := task.DisplayLabel(rid)
		status := state.NormalizeTaskStatus(task.Status)
		stage := strings.ToLower(strings.TrimSpace(task.Stage))
		if stage == "" || !validStage(stage) {
			stage = "pending"
		}
		roles := parse.DedupeRoles(task.Roles)
		roleText := strings.Join(firstN(roles, 2), ", ")
		if len(roles) > 2 {
			roleText += fmt.Sprintf(" +%d", len(roles)-2)
		}
		if roleText == "" {
			roleText = "-"
		}
		updated := orDefault(strings.TrimSpace(task.UpdatedAt), "-")
		lines = append(lines, fmt.Sprintf("- %d. %s | %s/%s | %s | %s", i+1, label, status, stage, roleText, updated))
	}

	lines = append(lines, "", "alias map (number/label -> request_id):")
	for i, rid := range shown {
		lines = append(lines, fmt.Sprintf("- %d. %s -> %s", i+1, project.Tasks[rid].DisplayLabel(rid), rid))
	}
	lines = append(lines, "", "quick actions: /check <번호|label> /task <번호|label> /retry <번호|label> /replan <번호|label> /cancel <번호|label>")

	return strings.Join(lines, "\n")
}

func validStage(stage string) bool {
	for _, name := range state.StageNames {
		if name == stage {
			return true
		}
	}
	return false
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
