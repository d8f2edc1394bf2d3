// Package parse turns raw Telegram text into gateway commands. Three
// grammars are layered: slash commands, quick keywords (Korean and
// English), and an aoe CLI form with flags and quoting.
package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Command is one parsed instruction before resolution.
type Command struct {
	Cmd       string
	Prompt    string
	Mode      string
	RequestID string
	Orch      string

	Scope   string
	ChatRef string

	Role     string
	Provider string
	Launch   string
	Spawn    bool

	Path      string
	Overview  string
	Init      bool
	SetActive bool

	Roles      string
	Priority   string
	TimeoutSec int
	NoWait     bool
	ForceMode  string

	Hours int
	Limit int
}

// UsageError reports malformed command input. The message is sent to the
// chat as-is.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string { return e.Msg }

func usagef(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

var zeroWidthRe = regexp.MustCompile("[​‌‍⁠\uFEFF]")

// Sanitize folds compatibility characters with NFKC and strips zero-width
// runes so the parser sees what the user sees.
func Sanitize(text string) string {
	return zeroWidthRe.ReplaceAllString(norm.NFKC.String(text), "")
}

// NormalizeLooseText collapses all whitespace runs to single spaces.
func NormalizeLooseText(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// SplitCommand splits a slash command into its lowercase name and the rest
// of the line. Bot-name suffixes like /help@MyBot are stripped. Non-slash
// input returns an empty command with the trimmed text as rest.
func SplitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	first, rest, _ := strings.Cut(text, " ")
	token := first[1:]
	if at := strings.Index(token, "@"); at >= 0 {
		token = token[:at]
	}
	return strings.ToLower(strings.TrimSpace(token)), strings.TrimSpace(rest)
}

var modeAliases = map[string]string{
	"":       "status",
	"status": "status",
	"show":   "status",
	"current": "status",
	"now":    "status",
	"확인":     "status",
	"현재":     "status",
	"dispatch": "dispatch",
	"team":     "dispatch",
	"task":     "dispatch",
	"작업":       "dispatch",
	"팀작업":      "dispatch",
	"on":       "dispatch",
	"enable":   "dispatch",
	"enabled":  "dispatch",
	"start":    "dispatch",
	"켜기":       "dispatch",
	"활성화":      "dispatch",
	"direct":   "direct",
	"ask":      "direct",
	"question": "direct",
	"질문":       "direct",
	"직접":       "direct",
	"off":      "off",
	"none":     "off",
	"disable":  "off",
	"clear":    "off",
	"stop":     "off",
	"해제":       "off",
	"끄기":       "off",
}

// NormalizeModeToken maps a user token onto status, dispatch, direct, or
// off. Unknown tokens return "".
func NormalizeModeToken(raw string) string {
	return modeAliases[strings.ToLower(strings.TrimSpace(raw))]
}

// Tokenize splits text into shell-style tokens. Single quotes take
// everything literally; double quotes allow backslash escapes of the quote
// and backslash; a bare backslash escapes the next rune.
func Tokenize(text string) ([]string, error) {
	var (
		tokens    []string
		cur       strings.Builder
		quoted    bool
		quote     rune
		escaped   bool
		escDouble bool
	)
	flush := func() {
		if quoted || cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
			quoted = false
		}
	}
	for _, r := range text {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case escDouble:
			if r != '"' && r != '\\' {
				cur.WriteRune('\\')
			}
			cur.WriteRune(r)
			escDouble = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escDouble = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
		case r == '\'' || r == '"':
			quote = r
			quoted = true
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, errors.New("No escaped character")
	}
	if quote != 0 || escDouble {
		return nil, errors.New("No closing quotation")
	}
	flush()
	return tokens, nil
}

// SplitRolesCSV splits a comma-separated role list, trimming blanks and
// dropping case-insensitive duplicates while keeping first-seen casing.
func SplitRolesCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeRoles(strings.Split(raw, ","))
}

// DedupeRoles removes blank and case-insensitive duplicate role names,
// preserving order and original casing.
func DedupeRoles(roles []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, item := range roles {
		token := strings.TrimSpace(item)
		if token == "" {
			continue
		}
		key := strings.ToLower(token)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, token)
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func clampRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
