// Package acl holds the chat-level access lists and role policy. Grants
// live in three CSV sets (allow, admin, readonly) plus an owner chat id;
// changes are persisted to the team env file so restarts keep them.
package acl

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/aoe-sh/gateway/internal/parse"
)

// Set is a collection of chat ids.
type Set map[string]struct{}

// NewSet builds a set from the given ids, skipping blanks.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// ParseCSVSet splits a comma separated id list into a set.
func ParseCSVSet(raw string) Set {
	s := Set{}
	for _, item := range strings.Split(raw, ",") {
		s.Add(item)
	}
	return s
}

// FormatCSVSet renders a set as a sorted comma separated string.
func FormatCSVSet(s Set) string {
	return strings.Join(s.Sorted(), ",")
}

func (s Set) Add(id string) {
	if token := strings.TrimSpace(id); token != "" {
		s[token] = struct{}{}
	}
}

func (s Set) Remove(id string) {
	delete(s, strings.TrimSpace(id))
}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Empty() bool { return len(s) == 0 }

func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NormalizeOwnerChatID returns the trimmed owner id, or "" when it does
// not look like a chat id.
func NormalizeOwnerChatID(raw string) string {
	token := strings.TrimSpace(raw)
	if !parse.IsValidChatID(token) {
		return ""
	}
	return token
}

// RoleFromSets resolves a chat's role from the three access sets. Admin
// wins over readonly, and allow grants the same rights as admin. With all
// sets empty the gateway is either open (everyone admin) or locked,
// depending on denyByDefault.
func RoleFromSets(chatID string, allow, admin, readonly Set, denyByDefault bool) string {
	cid := strings.TrimSpace(chatID)
	if cid == "" {
		return "unknown"
	}
	if admin.Has(cid) {
		return "admin"
	}
	if readonly.Has(cid) {
		return "readonly"
	}
	if allow.Has(cid) {
		return "admin"
	}
	if allow.Empty() && admin.Empty() && readonly.Empty() && !denyByDefault {
		return "admin"
	}
	return "unknown"
}

// Lists is the working ACL state for one gateway process.
type Lists struct {
	Owner         string
	Allow         Set
	Admin         Set
	Readonly      Set
	DenyByDefault bool
}

func (l *Lists) Clone() *Lists {
	return &Lists{
		Owner:         l.Owner,
		Allow:         l.Allow.Clone(),
		Admin:         l.Admin.Clone(),
		Readonly:      l.Readonly.Clone(),
		DenyByDefault: l.DenyByDefault,
	}
}

// Empty reports whether no chat has been granted anything yet. The owner
// id does not count; an owner-only gateway still offers /lockme bootstrap.
func (l *Lists) Empty() bool {
	return l.Allow.Empty() && l.Admin.Empty() && l.Readonly.Empty()
}

func (l *Lists) IsOwner(chatID string) bool {
	owner := NormalizeOwnerChatID(l.Owner)
	return owner != "" && strings.TrimSpace(chatID) == owner
}

// Role resolves the effective role of a chat, owner taking precedence.
func (l *Lists) Role(chatID string) string {
	if l.IsOwner(chatID) {
		return "owner"
	}
	return RoleFromSets(chatID, l.Allow, l.Admin, l.Readonly, l.DenyByDefault)
}

// Allowed reports whether the chat may talk to the gateway at all.
func (l *Lists) Allowed(chatID string) bool {
	if l.IsOwner(chatID) {
		return true
	}
	if l.Empty() {
		return !l.DenyByDefault
	}
	cid := strings.TrimSpace(chatID)
	return l.Allow.Has(cid) || l.Admin.Has(cid) || l.Readonly.Has(cid)
}

// Grant adds chatID to the scope's set. Granting allow or admin drops a
// readonly entry; granting readonly drops allow and admin entries.
func (l *Lists) Grant(scope, chatID string) {
	switch scope {
	case "allow":
		l.Allow.Add(chatID)
		l.Readonly.Remove(chatID)
	case "admin":
		l.Admin.Add(chatID)
		l.Readonly.Remove(chatID)
	case "readonly":
		l.Readonly.Add(chatID)
		l.Allow.Remove(chatID)
		l.Admin.Remove(chatID)
	}
	l.pruneReadonly()
}

// Revoke removes chatID from the scope's set, or from every set when the
// scope is "all".
func (l *Lists) Revoke(scope, chatID string) {
	if scope == "allow" || scope == "all" {
		l.Allow.Remove(chatID)
	}
	if scope == "admin" || scope == "all" {
		l.Admin.Remove(chatID)
	}
	if scope == "readonly" || scope == "all" {
		l.Readonly.Remove(chatID)
	}
	l.pruneReadonly()
}

// LockTo restricts access to a single chat and makes it the owner.
func (l *Lists) LockTo(chatID string) {
	l.Allow = NewSet(chatID)
	l.Admin = Set{}
	l.Readonly = Set{}
	l.Owner = strings.TrimSpace(chatID)
}

// readonly entries shadowed by a write grant are dropped
func (l *Lists) pruneReadonly() {
	for id := range l.Readonly {
		if l.Admin.Has(id) || l.Allow.Has(id) {
			delete(l.Readonly, id)
		}
	}
}

// SyncEnvFile persists the current lists into the env file, keeping any
// unrelated keys already present.
func (l *Lists) SyncEnvFile(path string) error {
	vars := map[string]string{}
	if existing, err := godotenv.Read(path); err == nil {
		for k, v := range existing {
			vars[k] = v
		}
	}
	vars["TELEGRAM_ALLOW_CHAT_IDS"] = FormatCSVSet(l.Allow)
	vars["TELEGRAM_ADMIN_CHAT_IDS"] = FormatCSVSet(l.Admin)
	vars["TELEGRAM_READONLY_CHAT_IDS"] = FormatCSVSet(l.Readonly)
	if owner := strings.TrimSpace(l.Owner); owner != "" {
		vars["TELEGRAM_OWNER_CHAT_ID"] = owner
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return godotenv.Write(vars, path)
}
