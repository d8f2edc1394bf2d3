// Package lifecycle derives the seven-stage task pipeline from orchestrator
// request snapshots. The orchestrator only reports per-role message states;
// everything stage-shaped (staffing, execution, verification, integration,
// close) is inferred here and written back onto the task record.
package lifecycle

import (
	"sort"
	"strings"

	"github.com/aoe-sh/gateway/internal/parse"
	"github.com/aoe-sh/gateway/internal/state"
)

// RoleRow is one role's message state inside a request snapshot.
type RoleRow struct {
	Role      string
	Status    string
	MessageID string
}

// Snapshot is the normalized view of an orchestrator request payload.
type Snapshot struct {
	RequestID    string
	Rows         []RoleRow
	Assignments  int
	Replies      int
	Complete     bool
	DoneRoles    []string
	FailedRoles  []string
	PendingRoles []string
}

// ExtractSnapshot normalizes a raw request payload. Role rows come from
// role_states, typed roles entries, or bare role lists, in that order;
// explicit done/failed/pending lists override row statuses.
func ExtractSnapshot(data map[string]any) Snapshot {
	rows := normalizeRoleRows(data)

	counts, _ := data["counts"].(map[string]any)
	assignments := intValue(counts["assignments"])
	replies := intValue(counts["replies"])
	if assignments <= 0 {
		assignments = len(rows)
	}
	if replies <= 0 {
		if list, ok := data["replies"].([]any); ok {
			replies = len(list)
		}
	}

	done := map[string]struct{}{}
	failed := map[string]struct{}{}
	pending := map[string]struct{}{}

	for _, row := range rows {
		role := strings.TrimSpace(row.Role)
		if role == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(row.Status)) {
		case "failed", "error", "fail":
			failed[role] = struct{}{}
		case "done":
			done[role] = struct{}{}
		default:
			pending[role] = struct{}{}
		}
	}

	for _, role := range stringList(data["done_roles"]) {
		done[role] = struct{}{}
		delete(pending, role)
		delete(failed, role)
	}
	for _, role := range stringList(data["failed_roles"]) {
		failed[role] = struct{}{}
		delete(done, role)
		delete(pending, role)
	}
	pendingSrc := data["pending_roles"]
	if pendingSrc == nil {
		pendingSrc = data["unresolved_roles"]
	}
	for _, role := range stringList(pendingSrc) {
		if _, isDone := done[role]; isDone {
			continue
		}
		if _, isFailed := failed[role]; isFailed {
			continue
		}
		pending[role] = struct{}{}
	}

	complete, _ := data["complete"].(bool)
	return Snapshot{
		RequestID:    strings.TrimSpace(stringValue(data["request_id"])),
		Rows:         rows,
		Assignments:  assignments,
		Replies:      replies,
		Complete:     complete,
		DoneRoles:    sortedKeys(done),
		FailedRoles:  sortedKeys(failed),
		PendingRoles: sortedKeys(pending),
	}
}

func normalizeRoleRows(data map[string]any) []RoleRow {
	var rows []RoleRow

	if states, ok := data["role_states"].([]any); ok {
		rows = appendTypedRows(rows, states)
	}
	if len(rows) > 0 {
		return rows
	}

	rolesObj, hasRoles := data["roles"].([]any)
	if hasRoles && len(rolesObj) > 0 {
		if _, typed := rolesObj[0].(map[string]any); typed {
			rows = appendTypedRows(rows, rolesObj)
			if len(rows) > 0 {
				return rows
			}
		}
	}

	doneSet := toSet(stringList(data["done_roles"]))
	failedSet := toSet(stringList(data["failed_roles"]))
	pendingSrc := data["pending_roles"]
	if pendingSrc == nil {
		pendingSrc = data["unresolved_roles"]
	}
	pendingSet := toSet(stringList(pendingSrc))

	if hasRoles {
		for _, item := range rolesObj {
			role := strings.TrimSpace(stringValue(item))
			if role == "" {
				continue
			}
			rows = append(rows, RoleRow{Role: role, Status: roleStatusFromSets(role, doneSet, failedSet)})
		}
		if len(rows) > 0 {
			return rows
		}
	}

	all := parse.DedupeRoles(append(append(sortedKeys(doneSet), sortedKeys(failedSet)...), sortedKeys(pendingSet)...))
	for _, role := range all {
		rows = append(rows, RoleRow{Role: role, Status: roleStatusFromSets(role, doneSet, failedSet)})
	}
	return rows
}

func appendTypedRows(rows []RoleRow, items []any) []RoleRow {
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role := strings.TrimSpace(stringValue(m["role"]))
		if role == "" {
			continue
		}
		status := strings.ToLower(strings.TrimSpace(stringValue(m["status"])))
		if status == "" {
			status = "pending"
		}
		rows = append(rows, RoleRow{
			Role:      role,
			Status:    status,
			MessageID: strings.TrimSpace(stringValue(m["message_id"])),
		})
	}
	return rows
}

func roleStatusFromSets(role string, done, failed map[string]struct{}) string {
	if _, ok := failed[role]; ok {
		return "failed"
	}
	if _, ok := done[role]; ok {
		return "done"
	}
	return "pending"
}

// Sync applies one request snapshot to the project's task record, deriving
// every stage status plus the overall status. Returns nil when the payload
// has no request id.
func Sync(project *state.Project, data map[string]any, prompt, mode string, selectedRoles, verifierRoles []string, requireVerifier bool, verifierCandidates []string, now string) *state.TaskRecord {
	snap := ExtractSnapshot(data)
	if snap.RequestID == "" {
		return nil
	}

	inferredRoles := make([]string, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		if role := strings.TrimSpace(row.Role); role != "" {
			inferredRoles = append(inferredRoles, role)
		}
	}
	roles := selectedRoles
	if len(roles) == 0 {
		roles = inferredRoles
	}
	roles = parse.DedupeRoles(roles)

	candidateKeys := map[string]struct{}{}
	for _, c := range verifierCandidates {
		candidateKeys[strings.ToLower(c)] = struct{}{}
	}
	verifiers := verifierRoles
	if len(verifiers) == 0 {
		for _, role := range roles {
			if _, ok := candidateKeys[strings.ToLower(role)]; ok {
				verifiers = append(verifiers, role)
			}
		}
	}
	verifiers = parse.DedupeRoles(verifiers)

	task := project.EnsureTask(snap.RequestID, prompt, mode, roles, verifiers, requireVerifier, now)

	done := toSet(snap.DoneRoles)
	failed := toSet(snap.FailedRoles)

	task.SetStage("intake", "done", "", now)
	task.SetStage("planning", "done", "", now)

	staffing := "pending"
	switch {
	case snap.Assignments > 0:
		staffing = "done"
	case len(roles) > 0:
		staffing = "running"
	}
	task.SetStage("staffing", staffing, "", now)

	execution := "pending"
	switch {
	case len(snap.FailedRoles) > 0:
		execution = "failed"
	case snap.Complete && snap.Assignments > 0 && len(snap.PendingRoles) == 0:
		execution = "done"
	case snap.Assignments > 0:
		execution = "running"
	}
	task.SetStage("execution", execution, "", now)

	verification, verNote := deriveVerification(requireVerifier, verifiers, done, failed, snap.Complete, execution)
	task.SetStage("verification", verification, verNote, now)

	integration := "pending"
	switch {
	case execution == "failed" || verification == "failed":
		integration = "failed"
	case verification == "done" && (snap.Replies > 0 || snap.Complete):
		integration = "done"
	case execution == "running" || verification == "running":
		integration = "running"
	}
	task.SetStage("integration", integration, "", now)

	closeStatus := "pending"
	switch {
	case integration == "failed":
		closeStatus = "failed"
	case integration == "done" && snap.Complete:
		closeStatus = "done"
	case execution == "running" || verification == "running":
		closeStatus = "running"
	}
	task.SetStage("close", closeStatus, "", now)

	overall := "pending"
	switch {
	case closeStatus == "failed" || verification == "failed" || execution == "failed":
		overall = "failed"
	case closeStatus == "done":
		overall = "completed"
	case closeStatus == "running" || execution == "running" || verification == "running":
		overall = "running"
	}

	task.Status = state.NormalizeTaskStatus(overall)
	task.Roles = roles
	task.VerifierRoles = verifiers
	task.RequireVerifier = requireVerifier
	task.UpdatedAt = now
	task.Result = &state.ResultSnapshot{
		Assignments:  snap.Assignments,
		Replies:      snap.Replies,
		Complete:     snap.Complete,
		DoneRoles:    snap.DoneRoles,
		FailedRoles:  snap.FailedRoles,
		PendingRoles: snap.PendingRoles,
	}

	project.TrimTasks()
	return task
}

func deriveVerification(requireVerifier bool, verifiers []string, done, failed map[string]struct{}, complete bool, execution string) (string, string) {
	if !requireVerifier {
		switch execution {
		case "done":
			return "done", ""
		case "failed":
			return "failed", ""
		case "running":
			return "running", ""
		}
		return "pending", ""
	}

	if len(verifiers) == 0 {
		return "failed", "no verifier role assigned"
	}
	for _, v := range verifiers {
		if _, ok := failed[v]; ok {
			return "failed", "verifier role failed"
		}
	}
	allDone := true
	for _, v := range verifiers {
		if _, ok := done[v]; !ok {
			allDone = false
			break
		}
	}
	switch {
	case allDone:
		return "done", ""
	case complete && execution == "done":
		return "failed", "verifier gate not satisfied"
	case execution == "running" || execution == "done":
		return "running", ""
	case execution == "failed":
		return "failed", ""
	}
	return "pending", ""
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if token := strings.TrimSpace(stringValue(item)); token != "" {
			out = append(out, token)
		}
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
