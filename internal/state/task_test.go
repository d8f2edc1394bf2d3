package state

import (
	"strings"
	"testing"
)

func TestNormalizeStageStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"done", "done"},
		{"COMPLETE", "done"},
		{"completed", "done"},
		{"success", "done"},
		{"active", "running"},
		{"in_progress", "running"},
		{"fail", "failed"},
		{"error", "failed"},
		{"pending", "pending"},
		{"weird", "pending"},
		{"", "pending"},
	}
	for _, tc := range cases {
		if got := NormalizeStageStatus(tc.in); got != tc.want {
			t.Errorf("NormalizeStageStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeTaskStatus(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"done", "completed"},
		{"completed", "completed"},
		{"error", "failed"},
		{"in_progress", "running"},
		{"running", "running"},
		{"", "pending"},
		{"???", "pending"},
	}
	for _, tc := range cases {
		if got := NormalizeTaskStatus(tc.in); got != tc.want {
			t.Errorf("NormalizeTaskStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeAliasKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"T-001", "t-001"},
		{"t 001", "t-001"},
		{"t__001", "t-001"},
		{"  Fix API bug!  ", "fix-api-bug"},
		{"---", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeAliasKey(tc.in); got != tc.want {
			t.Errorf("NormalizeAliasKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestShortIDRoundTrip(t *testing.T) {
	if got := FormatShortID(1); got != "T-001" {
		t.Errorf("FormatShortID(1) = %q", got)
	}
	if got := FormatShortID(0); got != "T-001" {
		t.Errorf("FormatShortID(0) = %q", got)
	}
	if got := FormatShortID(999); got != "T-999" {
		t.Errorf("FormatShortID(999) = %q", got)
	}
	if got := FormatShortID(1000); got != "T-1000" {
		t.Errorf("FormatShortID(1000) = %q", got)
	}

	if got := ParseShortIDSeq("t-042"); got != 42 {
		t.Errorf("ParseShortIDSeq(t-042) = %d", got)
	}
	if got := ParseShortIDSeq("T-1000"); got != 1000 {
		t.Errorf("ParseShortIDSeq(T-1000) = %d", got)
	}
	if got := ParseShortIDSeq("req-abc"); got != 0 {
		t.Errorf("ParseShortIDSeq(req-abc) = %d", got)
	}
	if got := ParseShortIDSeq("T-12x"); got != 0 {
		t.Errorf("ParseShortIDSeq(T-12x) = %d", got)
	}
}

func TestDeriveAliasBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Fix the login API bug now please", "fix-login-api-bug-now"},
		{"", "task"},
		{"the a an to", "the-a-an-to"}, // all stopwords fall back to raw tokens
		{"!!!", "task"},
	}
	for _, tc := range cases {
		if got := DeriveAliasBase(tc.in); got != tc.want {
			t.Errorf("DeriveAliasBase(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := DeriveAliasBase(strings.Repeat("abcdefghij ", 10))
	if len([]rune(long)) > 48 {
		t.Errorf("alias base too long: %q", long)
	}
}

func TestDisplayLabel(t *testing.T) {
	task := &TaskRecord{ShortID: "T-001", Alias: "fix-api"}
	if got := task.DisplayLabel("req-1"); got != "T-001 | fix-api" {
		t.Errorf("label = %q", got)
	}
	if got := (&TaskRecord{Alias: "fix-api"}).DisplayLabel("req-1"); got != "fix-api" {
		t.Errorf("alias-only label = %q", got)
	}
	if got := (&TaskRecord{}).DisplayLabel("req-1"); got != "req-1" {
		t.Errorf("fallback label = %q", got)
	}
	var nilTask *TaskRecord
	if got := nilTask.DisplayLabel(""); got != "-" {
		t.Errorf("nil label = %q", got)
	}
}

func TestSetStage(t *testing.T) {
	task := &TaskRecord{}
	task.SetStage("intake", "done", "", "2026-01-01T10:00:00+0900")

	if task.Stage != "intake" {
		t.Errorf("stage = %q", task.Stage)
	}
	if task.Stages["intake"] != "done" {
		t.Errorf("stages[intake] = %q", task.Stages["intake"])
	}
	if len(task.History) != 1 {
		t.Fatalf("history length = %d", len(task.History))
	}
	if task.UpdatedAt != "2026-01-01T10:00:00+0900" {
		t.Errorf("updated_at = %q", task.UpdatedAt)
	}

	// Same status without a note is a no-op.
	task.SetStage("intake", "done", "", "2026-01-01T11:00:00+0900")
	if len(task.History) != 1 {
		t.Errorf("no-op transition appended history: %d", len(task.History))
	}

	// Same status with a note still records.
	task.SetStage("intake", "done", "retried", "2026-01-01T12:00:00+0900")
	if len(task.History) != 2 {
		t.Errorf("noted transition missing: %d", len(task.History))
	}

	// Unknown stage ignored.
	task.SetStage("shipping", "done", "", "2026-01-01T13:00:00+0900")
	if len(task.History) != 2 || task.Stage != "intake" {
		t.Errorf("unknown stage mutated task: stage=%q history=%d", task.Stage, len(task.History))
	}
}

func TestSetStageHistoryCap(t *testing.T) {
	task := &TaskRecord{}
	for i := 0; i < TaskHistoryLimit+20; i++ {
		status := "running"
		if i%2 == 0 {
			status = "done"
		}
		task.SetStage("execution", status, "", "2026-01-01T00:00:00+0900")
	}
	if len(task.History) > TaskHistoryLimit {
		t.Errorf("history grew past cap: %d", len(task.History))
	}
}

func TestAssignTaskAlias(t *testing.T) {
	p := newProject("default", "default", "/tmp/p", "/tmp/p/.aoe-team", "2026-01-01T00:00:00+0900")

	t1 := &TaskRecord{RequestID: "req-1", Prompt: "fix api bug"}
	p.Tasks["req-1"] = t1
	p.AssignTaskAlias(t1, "fix api bug", true)

	if t1.ShortID != "T-001" {
		t.Errorf("short id = %q", t1.ShortID)
	}
	if t1.Alias != "fix-api-bug" {
		t.Errorf("alias = %q", t1.Alias)
	}
	if p.TaskAliasIndex["t-001"] != "req-1" {
		t.Errorf("index missing short id: %v", p.TaskAliasIndex)
	}
	if p.TaskAliasIndex["fix-api-bug"] != "req-1" {
		t.Errorf("index missing alias: %v", p.TaskAliasIndex)
	}

	// Same prompt on a second task gets a numeric suffix.
	t2 := &TaskRecord{RequestID: "req-2", Prompt: "fix api bug"}
	p.Tasks["req-2"] = t2
	p.AssignTaskAlias(t2, "fix api bug", true)
	if t2.ShortID != "T-002" {
		t.Errorf("second short id = %q", t2.ShortID)
	}
	if t2.Alias != "fix-api-bug-2" {
		t.Errorf("second alias = %q", t2.Alias)
	}

	// Re-assigning is stable.
	p.AssignTaskAlias(t1, "fix api bug", true)
	if t1.ShortID != "T-001" || t1.Alias != "fix-api-bug" {
		t.Errorf("reassign changed identity: %q %q", t1.ShortID, t1.Alias)
	}
}

func TestResolveRequestID(t *testing.T) {
	p := newProject("default", "default", "/tmp/p", "/tmp/p/.aoe-team", "2026-01-01T00:00:00+0900")
	task := &TaskRecord{RequestID: "req-abc123", Prompt: "deploy staging"}
	p.Tasks["req-abc123"] = task
	p.AssignTaskAlias(task, "deploy staging", true)

	cases := []struct {
		ref  string
		want string
	}{
		{"req-abc123", "req-abc123"},
		{"T-001", "req-abc123"},
		{"t-001", "req-abc123"},
		{"deploy-staging", "req-abc123"},
		{"Deploy Staging", "req-abc123"},
		{"req-missing", "req-missing"}, // pass-through
		{"", ""},
	}
	for _, tc := range cases {
		if got := p.ResolveRequestID(tc.ref); got != tc.want {
			t.Errorf("ResolveRequestID(%q) = %q, want %q", tc.ref, got, tc.want)
		}
	}

	if got := p.Task("T-001"); got != task {
		t.Error("Task(T-001) did not resolve record")
	}
	if got := p.Task("nope"); got != nil {
		t.Errorf("Task(nope) = %+v", got)
	}
}

func TestBackfillAliasesOrdersByCreation(t *testing.T) {
	p := newProject("default", "default", "/tmp/p", "/tmp/p/.aoe-team", "2026-01-01T00:00:00+0900")
	p.Tasks["req-new"] = &TaskRecord{RequestID: "req-new", Prompt: "newer", CreatedAt: "2026-01-02T00:00:00+0900"}
	p.Tasks["req-old"] = &TaskRecord{RequestID: "req-old", Prompt: "older", CreatedAt: "2026-01-01T00:00:00+0900"}

	p.BackfillAliases()

	if p.Tasks["req-old"].ShortID != "T-001" {
		t.Errorf("older task short id = %q", p.Tasks["req-old"].ShortID)
	}
	if p.Tasks["req-new"].ShortID != "T-002" {
		t.Errorf("newer task short id = %q", p.Tasks["req-new"].ShortID)
	}
}

func TestEnsureTaskCreateAndUpdate(t *testing.T) {
	p := newProject("default", "default", "/tmp/p", "/tmp/p/.aoe-team", "2026-01-01T00:00:00+0900")

	task := p.EnsureTask("req-1", "refactor parser", "dispatch", []string{"Coder"}, []string{"Reviewer"}, true, "2026-01-01T10:00:00+0900")
	if task.Status != "running" || task.Stage != "intake" {
		t.Errorf("new task status=%q stage=%q", task.Status, task.Stage)
	}
	if task.Stages["close"] != "pending" {
		t.Errorf("stages not initialized: %v", task.Stages)
	}
	if task.ShortID == "" || task.Alias == "" {
		t.Errorf("identity not assigned: %q %q", task.ShortID, task.Alias)
	}
	if task.CreatedAt != "2026-01-01T10:00:00+0900" {
		t.Errorf("created_at = %q", task.CreatedAt)
	}

	// Update keeps identity, refreshes provided fields only.
	again := p.EnsureTask("req-1", "", "", nil, nil, false, "2026-01-01T11:00:00+0900")
	if again != task {
		t.Fatal("EnsureTask created a duplicate record")
	}
	if again.Prompt != "refactor parser" {
		t.Errorf("empty prompt overwrote stored one: %q", again.Prompt)
	}
	if again.Mode != "dispatch" {
		t.Errorf("empty mode overwrote stored one: %q", again.Mode)
	}
	if len(again.Roles) != 1 || again.Roles[0] != "Coder" {
		t.Errorf("roles clobbered: %v", again.Roles)
	}
	if again.RequireVerifier {
		t.Error("require_verifier should follow the latest call")
	}
	if again.UpdatedAt != "2026-01-01T11:00:00+0900" {
		t.Errorf("updated_at = %q", again.UpdatedAt)
	}
}

func TestLatestTaskRefsAndTrim(t *testing.T) {
	p := newProject("default", "default", "/tmp/p", "/tmp/p/.aoe-team", "2026-01-01T00:00:00+0900")
	p.Tasks["req-a"] = &TaskRecord{RequestID: "req-a", UpdatedAt: "2026-01-01T01:00:00+0900", CreatedAt: "2026-01-01T01:00:00+0900"}
	p.Tasks["req-b"] = &TaskRecord{RequestID: "req-b", UpdatedAt: "2026-01-03T01:00:00+0900", CreatedAt: "2026-01-03T01:00:00+0900"}
	p.Tasks["req-c"] = &TaskRecord{RequestID: "req-c", UpdatedAt: "2026-01-02T01:00:00+0900", CreatedAt: "2026-01-02T01:00:00+0900"}

	refs := p.LatestTaskRefs(2)
	if len(refs) != 2 || refs[0] != "req-b" || refs[1] != "req-c" {
		t.Errorf("refs = %v", refs)
	}

	// Limit clamps to at least one.
	refs = p.LatestTaskRefs(0)
	if len(refs) != 1 || refs[0] != "req-b" {
		t.Errorf("clamped refs = %v", refs)
	}
}
