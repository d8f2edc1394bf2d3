// Package state persists the orch manager file: registered projects, their
// task lifecycle records, and per-chat session rows (pending/default modes,
// confirm slots, recent task refs). Loads are lenient so a corrupt or
// hand-edited file degrades to defaults instead of crashing the gateway;
// saves go through a tmp file and rename.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/aoe-sh/gateway/internal/clock"
)

// Manager is the root of the orch manager state file.
type Manager struct {
	Version      int                 `json:"version"`
	Active       string              `json:"active"`
	UpdatedAt    string              `json:"updated_at"`
	ChatSessions map[string]*Session `json:"chat_sessions"`
	Projects     map[string]*Project `json:"projects"`
}

// Project is one registered orchestrator target and its task records.
type Project struct {
	Name           string                 `json:"name"`
	DisplayName    string                 `json:"display_name"`
	ProjectRoot    string                 `json:"project_root"`
	TeamDir        string                 `json:"team_dir"`
	Overview       string                 `json:"overview"`
	LastRequestID  string                 `json:"last_request_id"`
	Tasks          map[string]*TaskRecord `json:"tasks"`
	TaskAliasIndex map[string]string      `json:"task_alias_index"`
	TaskSeq        int                    `json:"task_seq"`
	CreatedAt      string                 `json:"created_at"`
	UpdatedAt      string                 `json:"updated_at"`
}

// NormalizeProjectName lowercases and squashes a project name to the
// [a-z0-9._-] charset; empty input maps to "default".
func NormalizeProjectName(name string) string {
	src := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, ch := range src {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '-' || ch == '_' || ch == '.' {
			b.WriteRune(ch)
		} else {
			b.WriteByte('_')
		}
	}
	token := strings.Trim(b.String(), "._-")
	if token == "" {
		return "default"
	}
	return token
}

func newProject(key, displayName, projectRoot, teamDir, now string) *Project {
	display := strings.TrimSpace(displayName)
	if display == "" {
		display = key
	}
	return &Project{
		Name:           key,
		DisplayName:    display,
		ProjectRoot:    projectRoot,
		TeamDir:        teamDir,
		Tasks:          map[string]*TaskRecord{},
		TaskAliasIndex: map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// DefaultManager builds the initial state with one "default" project.
func DefaultManager(projectRoot, teamDir string) *Manager {
	now := clock.NowISO()
	return &Manager{
		Version:      1,
		Active:       "default",
		UpdatedAt:    now,
		ChatSessions: map[string]*Session{},
		Projects: map[string]*Project{
			"default": newProject("default", "default", projectRoot, teamDir, now),
		},
	}
}

// Load reads the manager file, falling back to a fresh default state when
// the file is missing, unparsable, or has no usable project entries.
func Load(path, projectRoot, teamDir string) *Manager {
	fallback := DefaultManager(projectRoot, teamDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	var raw Manager
	if err := json.Unmarshal(data, &raw); err != nil {
		return fallback
	}
	if len(raw.Projects) == 0 {
		return fallback
	}

	now := clock.NowISO()
	projects := map[string]*Project{}
	for rawKey, entry := range raw.Projects {
		key := NormalizeProjectName(rawKey)
		if key == "" || entry == nil {
			continue
		}
		root := strings.TrimSpace(entry.ProjectRoot)
		if root == "" {
			continue
		}
		td := strings.TrimSpace(entry.TeamDir)
		if td == "" {
			td = filepath.Join(root, ".aoe-team")
		}

		tasks := map[string]*TaskRecord{}
		for reqID, task := range entry.Tasks {
			rid := strings.TrimSpace(reqID)
			if rid == "" || task == nil {
				continue
			}
			sanitizeTask(task, rid, now)
			tasks[rid] = task
		}

		display := strings.TrimSpace(entry.DisplayName)
		if display == "" {
			display = key
		}
		p := &Project{
			Name:           key,
			DisplayName:    display,
			ProjectRoot:    absPath(root),
			TeamDir:        absPath(td),
			Overview:       strings.TrimSpace(entry.Overview),
			LastRequestID:  strings.TrimSpace(entry.LastRequestID),
			Tasks:          tasks,
			TaskAliasIndex: entry.TaskAliasIndex,
			TaskSeq:        entry.TaskSeq,
			CreatedAt:      defaultStr(entry.CreatedAt, now),
			UpdatedAt:      defaultStr(entry.UpdatedAt, now),
		}
		p.ensureAliasMeta()
		p.TrimTasks()
		projects[key] = p
	}
	if len(projects) == 0 {
		return fallback
	}

	active := NormalizeProjectName(defaultStr(raw.Active, "default"))
	if _, ok := projects[active]; !ok {
		keys := make([]string, 0, len(projects))
		for k := range projects {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		active = keys[0]
	}

	for _, p := range projects {
		p.BackfillAliases()
	}

	sessions := map[string]*Session{}
	for rawID, row := range raw.ChatSessions {
		cid := strings.TrimSpace(rawID)
		if cid == "" || row == nil {
			continue
		}
		if clean := sanitizeSession(row, now); clean != nil {
			sessions[cid] = clean
		}
	}

	return &Manager{
		Version:      1,
		Active:       active,
		UpdatedAt:    defaultStr(raw.UpdatedAt, now),
		ChatSessions: sessions,
		Projects:     projects,
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(expandHome(p)); err == nil {
		return abs
	}
	return p
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}

func defaultStr(raw, def string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return def
}

// Save writes the state atomically, stamping updated_at.
func (m *Manager) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	m.UpdatedAt = clock.NowISO()

	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manager state: %w", err)
	}
	payload = append(payload, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write manager state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace manager state: %w", err)
	}
	return nil
}

// EnsureDefaultProject guarantees a "default" entry exists, repairs missing
// task maps, backfills aliases, and clamps active to a known project.
func (m *Manager) EnsureDefaultProject(projectRoot, teamDir string) {
	if m.ChatSessions == nil {
		m.ChatSessions = map[string]*Session{}
	}
	if m.Projects == nil {
		m.Projects = map[string]*Project{}
	}

	now := clock.NowISO()
	if _, ok := m.Projects["default"]; !ok {
		m.Projects["default"] = newProject("default", "default", projectRoot, teamDir, now)
	}

	for _, entry := range m.Projects {
		if entry == nil {
			continue
		}
		if entry.Tasks == nil {
			entry.Tasks = map[string]*TaskRecord{}
		}
		if entry.TaskAliasIndex == nil {
			entry.TaskAliasIndex = map[string]string{}
		}
		if entry.TaskSeq < 0 {
			entry.TaskSeq = 0
		}
		entry.BackfillAliases()
	}

	active := NormalizeProjectName(defaultStr(m.Active, "default"))
	if _, ok := m.Projects[active]; !ok {
		m.Active = "default"
	} else {
		m.Active = active
	}
}

// Project resolves a project by name, or the active one when name is empty.
func (m *Manager) Project(name string) (string, *Project, error) {
	if len(m.Projects) == 0 {
		return "", nil, fmt.Errorf("no orch projects registered")
	}

	target := strings.TrimSpace(name)
	if target == "" {
		target = defaultStr(m.Active, "default")
	}
	key := NormalizeProjectName(target)

	entry, ok := m.Projects[key]
	if !ok || entry == nil {
		known := make([]string, 0, len(m.Projects))
		for k := range m.Projects {
			known = append(known, k)
		}
		sort.Strings(known)
		return "", nil, fmt.Errorf("unknown orch project: %s (known: %s)", key, strings.Join(known, ", "))
	}
	return key, entry, nil
}

// Register adds or refreshes a project entry, preserving an existing entry's
// tasks, creation time, and last request id.
func (m *Manager) Register(name, projectRoot, teamDir, overview string, setActive bool, now string) (string, *Project) {
	if m.Projects == nil {
		m.Projects = map[string]*Project{}
	}
	key := NormalizeProjectName(name)

	entry := newProject(key, name, projectRoot, teamDir, now)
	entry.Overview = strings.TrimSpace(overview)

	if existing, ok := m.Projects[key]; ok && existing != nil {
		entry.CreatedAt = defaultStr(existing.CreatedAt, entry.CreatedAt)
		if entry.Overview == "" {
			entry.Overview = strings.TrimSpace(existing.Overview)
		}
		if rid := strings.TrimSpace(existing.LastRequestID); rid != "" {
			entry.LastRequestID = rid
		}
		if existing.Tasks != nil {
			entry.Tasks = existing.Tasks
			entry.TrimTasks()
		}
		if existing.TaskAliasIndex != nil {
			entry.TaskAliasIndex = existing.TaskAliasIndex
		}
		if existing.TaskSeq > entry.TaskSeq {
			entry.TaskSeq = existing.TaskSeq
		}
	}
	m.Projects[key] = entry

	if setActive {
		m.Active = key
	}
	return key, entry
}

// ChatUsage counts the chat's live tasks and today's submissions across all
// projects. Pending and running both count as live.
func (m *Manager) ChatUsage(chatID, todayKey string) (running, submittedToday int) {
	cid := strings.TrimSpace(chatID)
	if cid == "" {
		return 0, 0
	}
	for _, entry := range m.Projects {
		if entry == nil {
			continue
		}
		for _, task := range entry.Tasks {
			if task == nil || strings.TrimSpace(task.InitiatorChatID) != cid {
				continue
			}
			switch NormalizeTaskStatus(task.Status) {
			case "pending", "running":
				running++
			}
			if todayKey != "" && clock.DateKey(task.CreatedAt) == todayKey {
				submittedToday++
			}
		}
	}
	return running, submittedToday
}
