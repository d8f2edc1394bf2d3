package plan

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestWorkerRoles(t *testing.T) {
	tests := []struct {
		name      string
		available []string
		want      []string
	}{
		{"drops orchestrator", []string{"Orchestrator", "DataEngineer", "Reviewer"}, []string{"DataEngineer", "Reviewer"}},
		{"case insensitive drop", []string{"ORCHESTRATOR", "Reviewer"}, []string{"Reviewer"}},
		{"dedupes", []string{"Reviewer", "reviewer", "DataEngineer"}, []string{"Reviewer", "DataEngineer"}},
		{"empty falls back", nil, []string{"Reviewer"}},
		{"only orchestrator falls back", []string{"orchestrator"}, []string{"Reviewer"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WorkerRoles(tt.available)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNormalizeFallback(t *testing.T) {
	workers := []string{"DataEngineer", "Reviewer"}
	p := Normalize(nil, "  급한 요청  ", workers, 4)

	if len(p.Subtasks) != 1 {
		t.Fatalf("expected 1 fallback subtask, got %d", len(p.Subtasks))
	}
	sub := p.Subtasks[0]
	if sub.ID != "S1" || sub.Title != "요청 핵심 실행" {
		t.Fatalf("unexpected fallback subtask: %+v", sub)
	}
	if sub.Goal != "급한 요청" {
		t.Fatalf("expected trimmed prompt as goal, got %q", sub.Goal)
	}
	if sub.OwnerRole != "DataEngineer" {
		t.Fatalf("expected first worker as owner, got %q", sub.OwnerRole)
	}
	if len(sub.Acceptance) != 1 || !strings.Contains(sub.Acceptance[0], "사용자 관점") {
		t.Fatalf("unexpected fallback acceptance: %v", sub.Acceptance)
	}
	if p.Summary != "subtasks=1" {
		t.Fatalf("expected default summary, got %q", p.Summary)
	}
	if p.Meta.MaxSubtasks != 4 || !reflect.DeepEqual(p.Meta.WorkerRoles, workers) {
		t.Fatalf("unexpected meta: %+v", p.Meta)
	}
}

func TestNormalize(t *testing.T) {
	workers := []string{"DataEngineer", "Reviewer"}
	parsed := map[string]any{
		"summary": "  정리 계획  ",
		"subtasks": []any{
			map[string]any{
				"id": "S1", "title": "규칙 정리", "goal": "결측치 규칙 정리",
				"owner_role": "dataengineer",
				"acceptance": []any{" 규칙 문서화 ", "", "샘플 검증", "네번째", "다섯번째"},
			},
			map[string]any{"goal": "회귀 확인", "role": "Reviewer"},
			map[string]any{"title": "미배정", "owner_role": "Ghost"},
			"not a map",
			map[string]any{"title": "잘림"},
		},
	}

	p := Normalize(parsed, "결측치 규칙 정리해줘", workers, 3)

	if p.Summary != "정리 계획" {
		t.Fatalf("expected trimmed summary, got %q", p.Summary)
	}
	if len(p.Subtasks) != 3 {
		t.Fatalf("expected cap at 3 subtasks, got %d", len(p.Subtasks))
	}

	first := p.Subtasks[0]
	if first.OwnerRole != "DataEngineer" {
		t.Fatalf("expected canonical role casing, got %q", first.OwnerRole)
	}
	if !reflect.DeepEqual(first.Acceptance, []string{"규칙 문서화", "샘플 검증", "네번째"}) {
		t.Fatalf("expected acceptance trimmed and capped at 3, got %v", first.Acceptance)
	}

	second := p.Subtasks[1]
	if second.ID != "S2" {
		t.Fatalf("expected generated id S2, got %q", second.ID)
	}
	if second.Title != "회귀 확인" || second.Goal != "회귀 확인" {
		t.Fatalf("expected goal to backfill title, got %+v", second)
	}
	if second.OwnerRole != "Reviewer" {
		t.Fatalf("expected role key fallback, got %q", second.OwnerRole)
	}
	if len(second.Acceptance) != 1 || !strings.Contains(second.Acceptance[0], "회귀 확인") {
		t.Fatalf("expected default acceptance from title, got %v", second.Acceptance)
	}

	third := p.Subtasks[2]
	if third.OwnerRole != "Reviewer" {
		t.Fatalf("expected positional worker fallback for unknown role, got %q", third.OwnerRole)
	}
	if third.Goal != "미배정" {
		t.Fatalf("expected title to backfill goal, got %q", third.Goal)
	}
}

func TestNormalizeCritic(t *testing.T) {
	if c := NormalizeCritic(nil); !c.Approved || len(c.Issues) != 0 || len(c.Recommendations) != 0 {
		t.Fatalf("expected approving default, got %+v", c)
	}

	c := NormalizeCritic(map[string]any{
		"approved":        false,
		"issues":          []any{" 하나 ", "둘", "셋", "넷", "다섯", "여섯"},
		"recommendations": []any{"", " 수정 "},
	})
	if c.Approved {
		t.Fatal("expected approved false")
	}
	if len(c.Issues) != 5 || c.Issues[0] != "하나" {
		t.Fatalf("expected issues trimmed and capped at 5, got %v", c.Issues)
	}
	if !reflect.DeepEqual(c.Recommendations, []string{"수정"}) {
		t.Fatalf("expected blank recommendations dropped, got %v", c.Recommendations)
	}
}

func TestCriticHasBlockers(t *testing.T) {
	tests := []struct {
		name string
		c    Critic
		want bool
	}{
		{"approved clean", Critic{Approved: true}, false},
		{"rejected", Critic{Approved: false}, true},
		{"approved with issues", Critic{Approved: true, Issues: []string{"x"}}, true},
		{"recommendations only", Critic{Approved: true, Recommendations: []string{"x"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.HasBlockers(); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		key  string
		want string
	}{
		{"bare object", `{"summary":"ok"}`, "summary", "ok"},
		{"prose around", "계획은 다음과 같다.\n{\"summary\": \"wrapped\"}\n끝.", "summary", "wrapped"},
		{"code fence", "```json\n{\"summary\":\"fenced\"}\n```", "summary", "fenced"},
		{"picks first object", `noise {"a":"first"} {"a":"second"}`, "a", "first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSONObject(tt.text)
			if got == nil {
				t.Fatal("expected an object, got nil")
			}
			if got[tt.key] != tt.want {
				t.Fatalf("expected %q=%q, got %v", tt.key, tt.want, got)
			}
		})
	}

	for _, text := range []string{"", "   ", "no json here", "[1, 2, 3]", "{broken"} {
		if got := ExtractJSONObject(text); got != nil {
			t.Fatalf("expected nil for %q, got %v", text, got)
		}
	}
}

func TestPlanRoles(t *testing.T) {
	p := Plan{Subtasks: []Subtask{
		{OwnerRole: "DataEngineer"},
		{OwnerRole: " Reviewer "},
		{OwnerRole: "dataengineer"},
		{OwnerRole: ""},
	}}
	want := []string{"DataEngineer", "Reviewer"}
	if got := p.Roles(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDispatchPrompt(t *testing.T) {
	p := Plan{
		Summary: "정리 계획",
		Subtasks: []Subtask{
			{ID: "S1", Title: "규칙 정리", Goal: "결측치 규칙 정리", OwnerRole: "DataEngineer"},
			{ID: "S2", Title: "검증", OwnerRole: "Reviewer"},
		},
	}
	c := Critic{Approved: false, Issues: []string{"범위 불명확"}, Recommendations: []string{"샘플 명시"}}

	got := DispatchPrompt("결측치 규칙 정리해줘", p, c)
	want := strings.Join([]string{
		"원사용자 요청:",
		"결측치 규칙 정리해줘",
		"",
		"계획 요약:",
		"정리 계획",
		"",
		"실행할 sub-task:",
		"- S1 [DataEngineer] 규칙 정리: 결측치 규칙 정리",
		"- S2 [Reviewer] 검증: 검증",
		"",
		"critic 체크:",
		"- issue: 범위 불명확",
		"- fix: 샘플 명시",
		"",
		"위 계획과 체크사항을 반영해 역할별 실행/검증 결과를 산출해라.",
	}, "\n")
	if got != want {
		t.Fatalf("unexpected dispatch prompt:\n%s", got)
	}
}

func TestDispatchPromptCleanCritic(t *testing.T) {
	p := Plan{Subtasks: []Subtask{{ID: "S1", Title: "일", Goal: "일", OwnerRole: "Reviewer"}}}
	got := DispatchPrompt("요청", p, Critic{Approved: true})
	if strings.Contains(got, "critic 체크:") {
		t.Fatalf("expected no critic block for clean verdict, got:\n%s", got)
	}
	if !strings.Contains(got, "- S1 [Reviewer] 일: 일") {
		t.Fatalf("missing subtask line:\n%s", got)
	}
}

type fakeRunner struct {
	output  string
	err     error
	prompt  string
	timeout time.Duration
}

func (f *fakeRunner) Exec(_ context.Context, prompt string, timeout time.Duration) (string, error) {
	f.prompt = prompt
	f.timeout = timeout
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func TestBuild(t *testing.T) {
	r := &fakeRunner{output: `참고: {"summary":"계획","subtasks":[{"id":"S1","title":"일","goal":"목표","owner_role":"Reviewer"}]}`}
	p, err := Build(context.Background(), r, "요청", []string{"Orchestrator", "Reviewer"}, 4, 30*time.Second)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.Summary != "계획" || len(p.Subtasks) != 1 || p.Subtasks[0].OwnerRole != "Reviewer" {
		t.Fatalf("unexpected plan: %+v", p)
	}
	if !strings.Contains(r.prompt, "너는 작업 오케스트레이션 planner다") {
		t.Fatalf("unexpected planner prompt:\n%s", r.prompt)
	}
	if !strings.Contains(r.prompt, "- owner_role은 다음 중 하나만 사용: Reviewer") {
		t.Fatalf("expected worker constraint in prompt:\n%s", r.prompt)
	}
	if !strings.Contains(r.prompt, "- subtasks는 1~4개") {
		t.Fatalf("expected subtask cap in prompt:\n%s", r.prompt)
	}
	if r.timeout != 90*time.Second {
		t.Fatalf("expected 90s floor, got %s", r.timeout)
	}
}

func TestBuildTimeoutCeiling(t *testing.T) {
	r := &fakeRunner{output: "{}"}
	if _, err := Build(context.Background(), r, "요청", nil, 1, 2*time.Hour); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if r.timeout != 600*time.Second {
		t.Fatalf("expected 600s ceiling, got %s", r.timeout)
	}
}

func TestBuildRunnerError(t *testing.T) {
	r := &fakeRunner{err: errors.New("codex exec failed: boom")}
	if _, err := Build(context.Background(), r, "요청", nil, 1, time.Minute); err == nil {
		t.Fatal("expected runner error to propagate")
	}
}

func TestCritique(t *testing.T) {
	r := &fakeRunner{output: `{"approved": false, "issues": ["누락"], "recommendations": ["보완"]}`}
	p := Plan{Summary: "계획", Subtasks: []Subtask{{ID: "S1", Title: "일", Goal: "일", OwnerRole: "Reviewer"}}}

	c := Critique(context.Background(), r, "요청", p, 10*time.Minute)
	if c.Approved || len(c.Issues) != 1 || len(c.Recommendations) != 1 {
		t.Fatalf("unexpected critic: %+v", c)
	}
	if !strings.Contains(r.prompt, "너는 task plan critic이다") {
		t.Fatalf("unexpected critic prompt:\n%s", r.prompt)
	}
	if !strings.Contains(r.prompt, `"summary":"계획"`) {
		t.Fatalf("expected plan payload in prompt:\n%s", r.prompt)
	}
	if r.timeout != 480*time.Second {
		t.Fatalf("expected 480s ceiling, got %s", r.timeout)
	}
}

func TestCritiqueSwallowsRunnerError(t *testing.T) {
	r := &fakeRunner{err: errors.New("codex exec timed out after 8m0s: context deadline exceeded")}
	c := Critique(context.Background(), r, "요청", Plan{}, time.Minute)
	if !c.Approved || len(c.Issues) != 0 {
		t.Fatalf("expected approving default on runner error, got %+v", c)
	}
}

func TestRepair(t *testing.T) {
	r := &fakeRunner{output: `{"summary":"고침","subtasks":[{"id":"S1","title":"수정","goal":"수정","owner_role":"Reviewer"}]}`}
	current := Plan{Summary: "원래", Subtasks: []Subtask{{ID: "S1", Title: "일", Goal: "일", OwnerRole: "Reviewer"}}}
	c := Critic{Approved: false, Issues: []string{"누락"}}

	p, err := Repair(context.Background(), r, "요청", current, c, []string{"Reviewer"}, 2, 2, time.Minute)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if p.Summary != "고침" {
		t.Fatalf("unexpected repaired plan: %+v", p)
	}
	if !strings.Contains(r.prompt, "attempt: 2") {
		t.Fatalf("expected attempt marker in prompt:\n%s", r.prompt)
	}
	if !strings.Contains(r.prompt, "current_plan:") || !strings.Contains(r.prompt, "critic:") {
		t.Fatalf("expected payload sections in prompt:\n%s", r.prompt)
	}
}
