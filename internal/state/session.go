package state

import (
	"strconv"
	"strings"
)

const (
	confirmPromptLimit = 2000
	confirmRiskLimit   = 80
	recentRefsLimit    = 50
)

// Session is the per-chat routing state: a one-shot pending mode, a sticky
// default mode, at most one armed confirm slot, and per-project task refs.
type Session struct {
	PendingMode      string              `json:"pending_mode,omitempty"`
	DefaultMode      string              `json:"default_mode,omitempty"`
	Confirm          *ConfirmAction      `json:"confirm_action,omitempty"`
	RecentTaskRefs   map[string][]string `json:"recent_task_refs,omitempty"`
	SelectedTaskRefs map[string]string   `json:"selected_task_refs,omitempty"`
	UpdatedAt        string              `json:"updated_at,omitempty"`
}

// ConfirmAction is a high-risk run awaiting /ok. One slot per chat; a new
// request overwrites the previous one.
type ConfirmAction struct {
	Mode        string `json:"mode"`
	Prompt      string `json:"prompt"`
	RequestedAt string `json:"requested_at"`
	Risk        string `json:"risk"`
	Orch        string `json:"orch,omitempty"`
}

func isRunMode(mode string) bool {
	return mode == "dispatch" || mode == "direct"
}

func (s *Session) empty() bool {
	return s.PendingMode == "" && s.DefaultMode == "" && s.Confirm == nil &&
		len(s.RecentTaskRefs) == 0 && len(s.SelectedTaskRefs) == 0
}

// sanitizeSession validates a loaded row, returning nil when nothing
// substantive survives.
func sanitizeSession(raw *Session, now string) *Session {
	out := &Session{}

	if mode := strings.ToLower(strings.TrimSpace(raw.PendingMode)); isRunMode(mode) {
		out.PendingMode = mode
	}
	if mode := strings.ToLower(strings.TrimSpace(raw.DefaultMode)); isRunMode(mode) {
		out.DefaultMode = mode
	}

	if c := raw.Confirm; c != nil {
		mode := strings.ToLower(strings.TrimSpace(c.Mode))
		prompt := strings.TrimSpace(c.Prompt)
		if isRunMode(mode) && prompt != "" {
			out.Confirm = &ConfirmAction{
				Mode:        mode,
				Prompt:      truncateRunes(prompt, confirmPromptLimit),
				RequestedAt: defaultStr(c.RequestedAt, now),
				Risk:        truncateRunes(strings.TrimSpace(c.Risk), confirmRiskLimit),
				Orch:        strings.TrimSpace(c.Orch),
			}
		}
	}

	for pname, refs := range raw.RecentTaskRefs {
		key := NormalizeProjectName(pname)
		if key == "" || len(refs) == 0 {
			continue
		}
		dedup := dedupeRefs(refs)
		if len(dedup) > 0 {
			if out.RecentTaskRefs == nil {
				out.RecentTaskRefs = map[string][]string{}
			}
			out.RecentTaskRefs[key] = dedup
		}
	}

	for pname, rid := range raw.SelectedTaskRefs {
		key := NormalizeProjectName(pname)
		requestID := strings.TrimSpace(rid)
		if key == "" || requestID == "" {
			continue
		}
		if out.SelectedTaskRefs == nil {
			out.SelectedTaskRefs = map[string]string{}
		}
		out.SelectedTaskRefs[key] = requestID
	}

	if out.empty() {
		return nil
	}
	out.UpdatedAt = defaultStr(raw.UpdatedAt, now)
	return out
}

func dedupeRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	seen := map[string]struct{}{}
	for _, item := range refs {
		rid := strings.TrimSpace(item)
		if rid == "" {
			continue
		}
		if _, dup := seen[rid]; dup {
			continue
		}
		seen[rid] = struct{}{}
		out = append(out, rid)
		if len(out) >= recentRefsLimit {
			break
		}
	}
	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func (m *Manager) session(chatID string, create bool) *Session {
	token := strings.TrimSpace(chatID)
	if token == "" {
		return nil
	}
	if m.ChatSessions == nil {
		m.ChatSessions = map[string]*Session{}
	}
	row := m.ChatSessions[token]
	if row == nil && create {
		row = &Session{}
		m.ChatSessions[token] = row
	}
	return row
}

func (m *Manager) dropIfEmpty(chatID string) {
	token := strings.TrimSpace(chatID)
	row := m.ChatSessions[token]
	if row != nil && row.empty() {
		delete(m.ChatSessions, token)
	}
}

// PendingMode returns the chat's one-shot mode, or "".
func (m *Manager) PendingMode(chatID string) string {
	row := m.session(chatID, false)
	if row == nil {
		return ""
	}
	if isRunMode(row.PendingMode) {
		return row.PendingMode
	}
	return ""
}

// SetPendingMode arms a one-shot mode for the chat's next plain message.
func (m *Manager) SetPendingMode(chatID, mode, now string) {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	if !isRunMode(normalized) {
		return
	}
	row := m.session(chatID, true)
	if row == nil {
		return
	}
	row.PendingMode = normalized
	row.UpdatedAt = now
}

// ClearPendingMode removes the one-shot mode, reporting whether one was set.
func (m *Manager) ClearPendingMode(chatID, now string) bool {
	row := m.session(chatID, false)
	if row == nil {
		return false
	}
	existed := row.PendingMode != ""
	row.PendingMode = ""
	if existed {
		row.UpdatedAt = now
	}
	m.dropIfEmpty(chatID)
	return existed
}

// DefaultMode returns the chat's sticky routing mode, or "".
func (m *Manager) DefaultMode(chatID string) string {
	row := m.session(chatID, false)
	if row == nil {
		return ""
	}
	if isRunMode(row.DefaultMode) {
		return row.DefaultMode
	}
	return ""
}

// SetDefaultMode pins the chat's sticky routing mode.
func (m *Manager) SetDefaultMode(chatID, mode, now string) {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	if !isRunMode(normalized) {
		return
	}
	row := m.session(chatID, true)
	if row == nil {
		return
	}
	row.DefaultMode = normalized
	row.UpdatedAt = now
}

// ClearDefaultMode removes the sticky mode, reporting whether one was set.
func (m *Manager) ClearDefaultMode(chatID, now string) bool {
	row := m.session(chatID, false)
	if row == nil {
		return false
	}
	existed := row.DefaultMode != ""
	row.DefaultMode = ""
	if existed {
		row.UpdatedAt = now
	}
	m.dropIfEmpty(chatID)
	return existed
}

// ConfirmFor returns the chat's armed confirm slot, nil when empty or invalid.
func (m *Manager) ConfirmFor(chatID string) *ConfirmAction {
	row := m.session(chatID, false)
	if row == nil || row.Confirm == nil {
		return nil
	}
	c := row.Confirm
	if !isRunMode(c.Mode) || strings.TrimSpace(c.Prompt) == "" {
		return nil
	}
	return c
}

// SetConfirm arms the chat's confirm slot, replacing any previous one.
func (m *Manager) SetConfirm(chatID, mode, prompt, risk, orch, now string) {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	text := strings.TrimSpace(prompt)
	if !isRunMode(normalized) || text == "" {
		return
	}
	row := m.session(chatID, true)
	if row == nil {
		return
	}
	row.Confirm = &ConfirmAction{
		Mode:        normalized,
		Prompt:      truncateRunes(text, confirmPromptLimit),
		RequestedAt: now,
		Risk:        truncateRunes(strings.TrimSpace(risk), confirmRiskLimit),
		Orch:        strings.TrimSpace(orch),
	}
	row.UpdatedAt = now
}

// ClearConfirm disarms the confirm slot, reporting whether one was armed.
func (m *Manager) ClearConfirm(chatID, now string) bool {
	row := m.session(chatID, false)
	if row == nil {
		return false
	}
	existed := row.Confirm != nil
	row.Confirm = nil
	if existed {
		row.UpdatedAt = now
	}
	m.dropIfEmpty(chatID)
	return existed
}

// RecentTaskRefs returns the chat's recent request ids for a project,
// newest first.
func (m *Manager) RecentTaskRefs(chatID, project string) []string {
	row := m.session(chatID, false)
	if row == nil || row.RecentTaskRefs == nil {
		return nil
	}
	refs := row.RecentTaskRefs[NormalizeProjectName(project)]
	out := make([]string, 0, len(refs))
	for _, item := range refs {
		if rid := strings.TrimSpace(item); rid != "" {
			out = append(out, rid)
		}
	}
	return out
}

// SetRecentTaskRefs replaces the chat's recent list for a project. A
// selection no longer present in the new list is dropped.
func (m *Manager) SetRecentTaskRefs(chatID, project string, refs []string, now string) {
	row := m.session(chatID, true)
	if row == nil {
		return
	}
	key := NormalizeProjectName(project)
	dedup := dedupeRefs(refs)

	if len(dedup) > 0 {
		if row.RecentTaskRefs == nil {
			row.RecentTaskRefs = map[string][]string{}
		}
		row.RecentTaskRefs[key] = dedup
	} else if row.RecentTaskRefs != nil {
		delete(row.RecentTaskRefs, key)
		if len(row.RecentTaskRefs) == 0 {
			row.RecentTaskRefs = nil
		}
	}

	if row.SelectedTaskRefs != nil {
		current := strings.TrimSpace(row.SelectedTaskRefs[key])
		if current != "" && !containsRef(dedup, current) {
			delete(row.SelectedTaskRefs, key)
		}
		if len(row.SelectedTaskRefs) == 0 {
			row.SelectedTaskRefs = nil
		}
	}

	row.UpdatedAt = now
}

func containsRef(refs []string, rid string) bool {
	for _, item := range refs {
		if item == rid {
			return true
		}
	}
	return false
}

// TouchRecentTaskRef moves a request id to the front of the recent list.
func (m *Manager) TouchRecentTaskRef(chatID, project, requestID, now string) {
	rid := strings.TrimSpace(requestID)
	if rid == "" {
		return
	}
	merged := []string{rid}
	for _, item := range m.RecentTaskRefs(chatID, project) {
		if item != rid {
			merged = append(merged, item)
		}
	}
	if len(merged) > recentRefsLimit {
		merged = merged[:recentRefsLimit]
	}
	m.SetRecentTaskRefs(chatID, project, merged, now)
}

// SelectedTaskRef returns the chat's selected request id for a project.
func (m *Manager) SelectedTaskRef(chatID, project string) string {
	row := m.session(chatID, false)
	if row == nil || row.SelectedTaskRefs == nil {
		return ""
	}
	return strings.TrimSpace(row.SelectedTaskRefs[NormalizeProjectName(project)])
}

// SetSelectedTaskRef stores (or with an empty id clears) the chat's
// selection for a project.
func (m *Manager) SetSelectedTaskRef(chatID, project, requestID, now string) {
	row := m.session(chatID, true)
	if row == nil {
		return
	}
	key := NormalizeProjectName(project)
	rid := strings.TrimSpace(requestID)

	if rid != "" {
		if row.SelectedTaskRefs == nil {
			row.SelectedTaskRefs = map[string]string{}
		}
		row.SelectedTaskRefs[key] = rid
	} else if row.SelectedTaskRefs != nil {
		delete(row.SelectedTaskRefs, key)
		if len(row.SelectedTaskRefs) == 0 {
			row.SelectedTaskRefs = nil
		}
	}
	row.UpdatedAt = now
}

// ResolveChatTaskRef maps a bare number to the chat's Nth recent task
// (1-based); any other token passes through for project-level resolution.
func (m *Manager) ResolveChatTaskRef(chatID, project, raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if allDigits(token) {
		idx, err := strconv.Atoi(token)
		if err == nil && idx >= 1 {
			refs := m.RecentTaskRefs(chatID, project)
			if idx <= len(refs) {
				return refs[idx-1]
			}
		}
	}
	return token
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
