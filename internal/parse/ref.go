package parse

import (
	"regexp"
	"strings"
)

var scopeAliases = map[string]string{
	"allow":    "allow",
	"allowed":  "allow",
	"admin":    "admin",
	"owner":    "admin",
	"readonly": "readonly",
	"read":     "readonly",
	"ro":       "readonly",
	"all":      "all",
}

// NormalizeScope maps a user-supplied ACL scope token onto its canonical
// name, or "" for unknown tokens.
func NormalizeScope(raw string) string {
	return scopeAliases[strings.ToLower(strings.TrimSpace(raw))]
}

var (
	chatIDRe    = regexp.MustCompile(`^-?\d{5,20}$`)
	chatAliasRe = regexp.MustCompile(`^[1-9]\d{0,2}$`)
)

// IsValidChatID reports whether raw looks like a Telegram chat id.
func IsValidChatID(raw string) bool {
	return chatIDRe.MatchString(strings.TrimSpace(raw))
}

// IsValidChatAlias reports whether raw is a short numeric chat alias.
func IsValidChatAlias(raw string) bool {
	return chatAliasRe.MatchString(strings.TrimSpace(raw))
}

// IsValidChatRef accepts either a chat id or a chat alias.
func IsValidChatRef(raw string) bool {
	token := strings.TrimSpace(raw)
	return IsValidChatID(token) || IsValidChatAlias(token)
}

func parseACLTarget(rest, usage string, scopes map[string]bool) (string, string, error) {
	text := strings.TrimSpace(rest)
	var parts []string
	if text != "" {
		var err error
		parts, err = Tokenize(text)
		if err != nil {
			return "", "", usagef("%s (%s)", usage, err)
		}
	}
	if len(parts) != 2 {
		return "", "", usagef("%s", usage)
	}

	scope := NormalizeScope(parts[0])
	if !scopes[scope] {
		return "", "", usagef("%s", usage)
	}

	chatRef := strings.TrimSpace(parts[1])
	if !IsValidChatRef(chatRef) {
		return "", "", usagef("%s (chat target must be chat_id or alias)", usage)
	}
	return scope, chatRef, nil
}

// ParseGrantArgs extracts the scope and chat target of a grant command.
func ParseGrantArgs(rest, usage string) (string, string, error) {
	return parseACLTarget(rest, usage, map[string]bool{
		"allow": true, "admin": true, "readonly": true,
	})
}

// ParseRevokeArgs extracts the scope and chat target of a revoke command.
// Unlike grant, the "all" scope is accepted.
func ParseRevokeArgs(rest, usage string) (string, string, error) {
	return parseACLTarget(rest, usage, map[string]bool{
		"allow": true, "admin": true, "readonly": true, "all": true,
	})
}
