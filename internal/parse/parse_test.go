package parse

import (
	"reflect"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in   string
		cmd  string
		rest string
	}{
		{"/help", "help", ""},
		{"/HELP", "help", ""},
		{"/help@MyGatewayBot", "help", ""},
		{"/grant allow 123456789", "grant", "allow 123456789"},
		{"/dispatch  fix the build  ", "dispatch", "fix the build"},
		{"hello there", "", "hello there"},
		{"  ", "", ""},
	}
	for _, tc := range cases {
		cmd, rest := SplitCommand(tc.in)
		if cmd != tc.cmd || rest != tc.rest {
			t.Errorf("SplitCommand(%q) = (%q, %q), want (%q, %q)", tc.in, cmd, rest, tc.cmd, tc.rest)
		}
	}
}

func TestNormalizeModeToken(t *testing.T) {
	cases := map[string]string{
		"":       "status",
		"status": "status",
		"확인":     "status",
		"on":     "dispatch",
		"켜기":     "dispatch",
		"team":   "dispatch",
		"direct": "direct",
		"질문":     "direct",
		"off":    "off",
		"해제":     "off",
		"OFF":    "off",
		" on ":   "dispatch",
		"bogus":  "",
	}
	for in, want := range cases {
		if got := NormalizeModeToken(in); got != want {
			t.Errorf("NormalizeModeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitize(t *testing.T) {
	in := "he​llo\uFEFF wo‍rld"
	if got := Sanitize(in); got != "hello world" {
		t.Errorf("expected zero-width runes stripped, got %q", got)
	}
	// NFKC folds the fullwidth solidus so slash commands still parse.
	if got := Sanitize("／help"); got != "/help" {
		t.Errorf("expected /help, got %q", got)
	}
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a b c", []string{"a", "b", "c"}},
		{`aoe run "fix the build"`, []string{"aoe", "run", "fix the build"}},
		{`'single quoted'`, []string{"single quoted"}},
		{`a ""`, []string{"a", ""}},
		{`esc\ aped`, []string{"esc aped"}},
		{"", nil},
		{"   ", nil},
	}
	for _, tc := range cases {
		got, err := Tokenize(tc.in)
		if err != nil {
			t.Errorf("Tokenize(%q) error: %v", tc.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Tokenize(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestTokenizeUnbalanced(t *testing.T) {
	if _, err := Tokenize(`aoe run "broken`); err == nil {
		t.Fatal("expected error for unbalanced quote")
	} else if err.Error() != "No closing quotation" {
		t.Errorf("unexpected error %q", err)
	}
	if _, err := Tokenize(`trailing\`); err == nil {
		t.Fatal("expected error for trailing escape")
	}
}

func TestDetectHighRisk(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"please rm -rf /var/data", "destructive_delete"},
		{"run mkfs.ext4 on sdb", "filesystem_format"},
		{"dd if=/dev/zero of=/dev/sda", "raw_disk_write"},
		{"shutdown the host", "shutdown"},
		{"DROP DATABASE prod", "drop_database"},
		{"delete from users where 1=1", "sql_delete"},
		{"서버 초기화 해줘", "k_reset"},
		{"디스크 포맷 부탁", "k_format"},
		{"전체 삭제 진행", "k_delete_all"},
		{"서버 재부팅 해줘", "k_reboot"},
		{"정상적인 작업 요청입니다", ""},
		{"fix the login bug", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := DetectHighRisk(tc.in); got != tc.want {
			t.Errorf("DetectHighRisk(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestQuickExactKeywords(t *testing.T) {
	cases := []struct {
		in  string
		cmd string
	}{
		{"help", "help"},
		{"도움말", "help"},
		{"menu", "help"},
		{"ok", "confirm-run"},
		{"확인실행", "confirm-run"},
		{"acl", "acl"},
		{"권한", "acl"},
		{"status", "status"},
		{"상태", "status"},
		{"kpi", "orch-kpi"},
		{"지표", "orch-kpi"},
		{"모니터", "orch-monitor"},
		{"작업목록", "orch-monitor"},
		{"진행", "orch-check"},
		{"진행확인", "orch-check"},
		{"상세", "orch-task"},
		{"lifecycle", "orch-task"},
		{"pick", "orch-pick"},
		{"선택", "orch-pick"},
		{"취소", "cancel-pending"},
		{"cancel", "cancel-pending"},
		{"팀작업", "quick-dispatch"},
		{"작업", "quick-dispatch"},
		{"직접", "quick-direct"},
		{"질문", "quick-direct"},
	}
	for _, tc := range cases {
		got := Quick(tc.in)
		if got == nil {
			t.Errorf("Quick(%q) = nil, want cmd %q", tc.in, tc.cmd)
			continue
		}
		if got.Cmd != tc.cmd {
			t.Errorf("Quick(%q).Cmd = %q, want %q", tc.in, got.Cmd, tc.cmd)
		}
	}
}

func TestQuickModeForms(t *testing.T) {
	if got := Quick("mode"); got == nil || got.Cmd != "mode" || got.Mode != "status" {
		t.Errorf("Quick(mode) = %+v", got)
	}
	if got := Quick("on"); got == nil || got.Mode != "dispatch" {
		t.Errorf("Quick(on) = %+v", got)
	}
	if got := Quick("끄기"); got == nil || got.Mode != "off" {
		t.Errorf("Quick(끄기) = %+v", got)
	}
	if got := Quick("mode direct"); got == nil || got.Mode != "direct" {
		t.Errorf("Quick(mode direct) = %+v", got)
	}
	if got := Quick("모드 해제"); got == nil || got.Mode != "off" {
		t.Errorf("Quick(모드 해제) = %+v", got)
	}
	if got := Quick("mode banana"); got == nil || got.Mode != "invalid" {
		t.Errorf("Quick(mode banana) = %+v", got)
	}
}

func TestQuickArguments(t *testing.T) {
	if got := Quick("kpi 48"); got == nil || got.Cmd != "orch-kpi" || got.Hours != 48 {
		t.Errorf("Quick(kpi 48) = %+v", got)
	}
	if got := Quick("kpi 999"); got == nil || got.Hours != 168 {
		t.Errorf("expected hours clamp to 168, got %+v", got)
	}
	if got := Quick("kpi abc"); got == nil || got.Cmd != "orch-kpi" || got.Hours != 0 {
		t.Errorf("Quick(kpi abc) = %+v", got)
	}
	if got := Quick("모니터 5"); got == nil || got.Cmd != "orch-monitor" || got.Limit != 5 {
		t.Errorf("Quick(모니터 5) = %+v", got)
	}
	if got := Quick("진행 T-001"); got == nil || got.Cmd != "orch-check" || got.RequestID != "T-001" {
		t.Errorf("Quick(진행 T-001) = %+v", got)
	}
	if got := Quick("상세 api-fix"); got == nil || got.Cmd != "orch-task" || got.RequestID != "api-fix" {
		t.Errorf("Quick(상세 api-fix) = %+v", got)
	}
	if got := Quick("retry T-002"); got == nil || got.Cmd != "orch-retry" || got.RequestID != "T-002" {
		t.Errorf("Quick(retry T-002) = %+v", got)
	}
	if got := Quick("재계획 T-003"); got == nil || got.Cmd != "orch-replan" || got.RequestID != "T-003" {
		t.Errorf("Quick(재계획 T-003) = %+v", got)
	}
	if got := Quick("취소 T-004"); got == nil || got.Cmd != "orch-cancel" || got.RequestID != "T-004" {
		t.Errorf("Quick(취소 T-004) = %+v", got)
	}
}

func TestQuickRunPrefixes(t *testing.T) {
	if got := Quick("팀작업: 로그인 버그 수정"); got == nil || got.Cmd != "run" || got.ForceMode != "dispatch" || got.Prompt != "로그인 버그 수정" {
		t.Errorf("Quick(팀작업:) = %+v", got)
	}
	if got := Quick("dispatch fix the login bug"); got == nil || got.Cmd != "run" || got.ForceMode != "dispatch" {
		t.Errorf("Quick(dispatch ...) = %+v", got)
	}
	if got := Quick("질문: 배포 상태 알려줘"); got == nil || got.Cmd != "run" || got.ForceMode != "direct" {
		t.Errorf("Quick(질문:) = %+v", got)
	}
	// Empty prompt falls back to arming the one-shot mode.
	if got := Quick("dispatch:"); got == nil || got.Cmd != "quick-dispatch" {
		t.Errorf("Quick(dispatch:) = %+v", got)
	}
}

func TestQuickNotRecognized(t *testing.T) {
	for _, in := range []string{"", "/help", "안녕하세요", "random words here"} {
		if got := Quick(in); got != nil {
			t.Errorf("Quick(%q) = %+v, want nil", in, got)
		}
	}
}

func TestSplitRolesCSV(t *testing.T) {
	got := SplitRolesCSV(" DataEngineer, Reviewer ,dataengineer,, QA ")
	want := []string{"DataEngineer", "Reviewer", "QA"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
	if got := SplitRolesCSV("   "); got != nil {
		t.Errorf("expected nil for blank input, got %v", got)
	}
}

func TestDedupeRoles(t *testing.T) {
	got := DedupeRoles([]string{"Reviewer", "REVIEWER", "", " QA", "qa"})
	if len(got) != 2 || got[0] != "Reviewer" || got[1] != "QA" {
		t.Errorf("expected [Reviewer QA], got %v", got)
	}
}

func TestNormalizeScope(t *testing.T) {
	cases := map[string]string{
		"allow":    "allow",
		"ALLOWED":  "allow",
		"owner":    "admin",
		"admin":    "admin",
		"read":     "readonly",
		"ro":       "readonly",
		"readonly": "readonly",
		"all":      "all",
		"nope":     "",
	}
	for in, want := range cases {
		if got := NormalizeScope(in); got != want {
			t.Errorf("NormalizeScope(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChatRefValidators(t *testing.T) {
	if !IsValidChatID("123456789") || !IsValidChatID("-100123456789") {
		t.Error("expected valid chat ids")
	}
	if IsValidChatID("1234") || IsValidChatID("abc") {
		t.Error("expected invalid chat ids")
	}
	if !IsValidChatAlias("1") || !IsValidChatAlias("999") {
		t.Error("expected valid aliases")
	}
	if IsValidChatAlias("0") || IsValidChatAlias("1000") || IsValidChatAlias("01") {
		t.Error("expected invalid aliases")
	}
}

func TestParseGrantArgs(t *testing.T) {
	scope, ref, err := ParseGrantArgs("allow 123456789", "usage: /grant")
	if err != nil {
		t.Fatal(err)
	}
	if scope != "allow" || ref != "123456789" {
		t.Errorf("got (%q, %q)", scope, ref)
	}

	if _, _, err := ParseGrantArgs("all 123456789", "usage: /grant"); err == nil {
		t.Error("grant should reject the all scope")
	}
	if _, _, err := ParseGrantArgs("allow", "usage: /grant"); err == nil {
		t.Error("expected error for missing target")
	}
	if _, _, err := ParseGrantArgs("allow abc", "usage: /grant"); err == nil {
		t.Error("expected error for bad target")
	}
}

func TestParseRevokeArgs(t *testing.T) {
	scope, ref, err := ParseRevokeArgs("all 2", "usage: /revoke")
	if err != nil {
		t.Fatal(err)
	}
	if scope != "all" || ref != "2" {
		t.Errorf("got (%q, %q)", scope, ref)
	}
}
