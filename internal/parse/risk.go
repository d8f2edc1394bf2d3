package parse

import (
	"regexp"
	"strings"
)

type riskPattern struct {
	re    *regexp.Regexp
	label string
}

var riskRegexps = []riskPattern{
	{regexp.MustCompile(`\brm\s+-rf\b`), "destructive_delete"},
	{regexp.MustCompile(`\bmkfs(\.| )`), "filesystem_format"},
	{regexp.MustCompile(`\bdd\s+if=`), "raw_disk_write"},
	{regexp.MustCompile(`\bshutdown\b`), "shutdown"},
	{regexp.MustCompile(`\breboot\b`), "reboot"},
	{regexp.MustCompile(`\bpoweroff\b`), "poweroff"},
	{regexp.MustCompile(`\bdrop\s+database\b`), "drop_database"},
	{regexp.MustCompile(`\btruncate\s+table\b`), "truncate_table"},
	{regexp.MustCompile(`\bdelete\s+from\b`), "sql_delete"},
	{regexp.MustCompile(`\bvisudo\b`), "sudoers_edit"},
}

var riskKeywords = []struct {
	token string
	label string
}{
	{"delete all", "delete_all"},
	{"format disk", "format_disk"},
	{"factory reset", "factory_reset"},
	{"wipe", "wipe"},
	{"초기화", "k_reset"},
	{"포맷", "k_format"},
	{"전부 삭제", "k_delete_all"},
	{"전체 삭제", "k_delete_all"},
	{"데이터 삭제", "k_delete_data"},
	{"재부팅", "k_reboot"},
}

// DetectHighRisk scans a prompt for destructive-operation markers and
// returns the matching label, or "" when the prompt looks safe.
func DetectHighRisk(prompt string) string {
	text := strings.TrimSpace(prompt)
	if text == "" {
		return ""
	}
	low := strings.ToLower(text)

	for _, p := range riskRegexps {
		if p.re.MatchString(low) {
			return p.label
		}
	}
	for _, k := range riskKeywords {
		if strings.Contains(low, k.token) {
			return k.label
		}
	}
	return ""
}
