// Package alias maintains the short numeric aliases (1..999) that stand in
// for Telegram chat ids in commands and reports. The registry persists to a
// JSON file under the team dir and keeps an in-process cache so aliases
// allocated during dry runs still resolve for the life of the process.
package alias

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aoe-sh/gateway/internal/parse"
)

// MaxAlias is the highest alias the allocator hands out.
const MaxAlias = 999

// Registry resolves and allocates chat aliases backed by one JSON file.
type Registry struct {
	mu      sync.Mutex
	path    string
	persist bool
	cache   map[string]string
}

// NewRegistry builds a registry over path. With persist false (dry-run mode)
// allocations stay in the cache and the file is never written.
func NewRegistry(path string, persist bool) *Registry {
	return &Registry{
		path:    path,
		persist: persist,
		cache:   map[string]string{},
	}
}

// Path returns the backing file.
func (r *Registry) Path() string { return r.path }

// Merged returns the alias table: file rows first, then cache-only rows
// whose alias and chat id are both still free.
func (r *Registry) Merged() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mergedLocked()
}

func (r *Registry) mergedLocked() map[string]string {
	rows := Load(r.path)
	seen := map[string]struct{}{}
	for _, chatID := range rows {
		seen[chatID] = struct{}{}
	}
	for _, a := range sortedKeys(r.cache) {
		chatID := strings.TrimSpace(r.cache[a])
		if !parse.IsValidChatAlias(a) || !parse.IsValidChatID(chatID) {
			continue
		}
		if _, ok := rows[a]; ok {
			continue
		}
		if _, ok := seen[chatID]; ok {
			continue
		}
		rows[a] = chatID
		seen[chatID] = struct{}{}
	}
	return rows
}

// Find returns the alias mapped to chatID, or "".
func (r *Registry) Find(chatID string) string {
	return findAlias(r.Merged(), chatID)
}

// Ensure returns the alias for chatID, allocating the lowest free one when
// the chat has none. Returns "" for invalid ids or when all aliases are
// taken.
func (r *Registry) Ensure(chatID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(chatID)
}

func (r *Registry) ensureLocked(chatID string) string {
	cid := strings.TrimSpace(chatID)
	if !parse.IsValidChatID(cid) {
		return ""
	}
	rows := r.mergedLocked()
	if existing := findAlias(rows, cid); existing != "" {
		r.cache = rows
		return existing
	}
	a := nextFree(rows)
	if a == "" {
		return ""
	}
	rows[a] = cid
	r.cache = rows
	if r.persist {
		if err := Save(r.path, rows); err != nil {
			return a
		}
	}
	return a
}

// EnsureAll allocates aliases for every chat id that lacks one and returns
// the resulting table. Allocation stops once the alias space is exhausted.
func (r *Registry) EnsureAll(chatIDs []string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.mergedLocked()
	changed := false
	for _, raw := range chatIDs {
		cid := strings.TrimSpace(raw)
		if !parse.IsValidChatID(cid) {
			continue
		}
		if findAlias(rows, cid) != "" {
			continue
		}
		a := nextFree(rows)
		if a == "" {
			break
		}
		rows[a] = cid
		changed = true
	}
	r.cache = rows
	if changed && r.persist {
		if err := Save(r.path, rows); err != nil {
			return rows
		}
	}
	return rows
}

// Resolve turns a chat_id or alias token into (chat_id, alias). A raw chat
// id gets an alias allocated on the spot.
func (r *Registry) Resolve(ref string) (string, string, error) {
	token := strings.TrimSpace(ref)
	if parse.IsValidChatID(token) {
		return token, r.Ensure(token), nil
	}
	if parse.IsValidChatAlias(token) {
		rows := r.Merged()
		chatID := strings.TrimSpace(rows[token])
		if parse.IsValidChatID(chatID) {
			return chatID, token, nil
		}
		return "", "", fmt.Errorf("unknown chat alias: %s (use /acl)", token)
	}
	return "", "", fmt.Errorf("chat target must be chat_id or alias")
}

// Summary renders "alias:chat_id[role]" rows in alias order for /acl and
// /whoami reports. roleOf supplies the ACL role per chat id.
func (r *Registry) Summary(roleOf func(chatID string) string, limit int) string {
	rows := r.Merged()
	if len(rows) == 0 {
		return "(empty)"
	}
	if limit < 1 {
		limit = 1
	}
	parts := make([]string, 0, len(rows))
	for _, a := range sortedKeys(rows) {
		chatID := strings.TrimSpace(rows[a])
		if !parse.IsValidChatID(chatID) {
			continue
		}
		role := ""
		if roleOf != nil {
			role = roleOf(chatID)
		}
		parts = append(parts, fmt.Sprintf("%s:%s[%s]", a, chatID, role))
		if len(parts) >= limit {
			break
		}
	}
	if len(parts) == 0 {
		return "(empty)"
	}
	return strings.Join(parts, ", ")
}

// Load reads the alias file. Unreadable or malformed files yield an empty
// table. Rows with invalid aliases, invalid chat ids, or chat ids already
// mapped by a lower alias are dropped.
func Load(path string) map[string]string {
	out := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return out
	}

	rows := map[string]string{}
	for key, val := range raw {
		if s, ok := val.(string); ok {
			rows[key] = s
		}
	}
	seen := map[string]struct{}{}
	for _, a := range sortedKeys(rows) {
		chatID := strings.TrimSpace(rows[a])
		if !parse.IsValidChatAlias(strings.TrimSpace(a)) || !parse.IsValidChatID(chatID) {
			continue
		}
		if _, ok := seen[chatID]; ok {
			continue
		}
		out[strings.TrimSpace(a)] = chatID
		seen[chatID] = struct{}{}
	}
	return out
}

// Save writes the sanitized table atomically (temp file then rename).
func Save(path string, rows map[string]string) error {
	sanitized := map[string]string{}
	seen := map[string]struct{}{}
	for _, a := range sortedKeys(rows) {
		key := strings.TrimSpace(a)
		chatID := strings.TrimSpace(rows[a])
		if !parse.IsValidChatAlias(key) || !parse.IsValidChatID(chatID) {
			continue
		}
		if _, ok := seen[chatID]; ok {
			continue
		}
		sanitized[key] = chatID
		seen[chatID] = struct{}{}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(sanitized, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func findAlias(rows map[string]string, chatID string) string {
	cid := strings.TrimSpace(chatID)
	if cid == "" {
		return ""
	}
	for _, a := range sortedKeys(rows) {
		if strings.TrimSpace(rows[a]) == cid {
			return a
		}
	}
	return ""
}

func nextFree(rows map[string]string) string {
	used := map[int]struct{}{}
	for a := range rows {
		if n, err := strconv.Atoi(a); err == nil {
			used[n] = struct{}{}
		}
	}
	for idx := 1; idx <= MaxAlias; idx++ {
		if _, ok := used[idx]; !ok {
			return strconv.Itoa(idx)
		}
	}
	return ""
}

// sortedKeys orders alias keys numerically with non-numeric keys last.
func sortedKeys(rows map[string]string) []string {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := aliasRank(keys[i]), aliasRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}

func aliasRank(key string) int {
	n, err := strconv.Atoi(key)
	if err != nil || n < 0 {
		return 1 << 30
	}
	return n
}
