package state

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/aoe-sh/gateway/internal/parse"
	"github.com/aoe-sh/gateway/internal/plan"
)

// StageNames lists the lifecycle stages in pipeline order. Stage maps always
// carry every name; unknown stages are dropped on load.
var StageNames = []string{
	"intake",
	"planning",
	"staffing",
	"execution",
	"verification",
	"integration",
	"close",
}

const (
	// TaskHistoryLimit caps the per-task stage history.
	TaskHistoryLimit = 80
	// TaskKeepPerProject caps tasks retained per project, newest first.
	TaskKeepPerProject = 120

	historyNoteLimit = 400
	aliasBaseLimit   = 48
)

// HistoryEvent is one stage transition in a task's history.
type HistoryEvent struct {
	At     string `json:"at"`
	Stage  string `json:"stage"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// ResultSnapshot mirrors the orchestrator request counters captured at the
// last lifecycle sync.
type ResultSnapshot struct {
	Assignments  int      `json:"assignments"`
	Replies      int      `json:"replies"`
	Complete     bool     `json:"complete"`
	DoneRoles    []string `json:"done_roles"`
	FailedRoles  []string `json:"failed_roles"`
	PendingRoles []string `json:"pending_roles"`
}

// TaskRecord is one dispatched request tracked through the seven lifecycle
// stages. Plan and lineage fields stay empty for plain runs.
type TaskRecord struct {
	RequestID       string            `json:"request_id"`
	Mode            string            `json:"mode"`
	Prompt          string            `json:"prompt"`
	Roles           []string          `json:"roles"`
	VerifierRoles   []string          `json:"verifier_roles"`
	RequireVerifier bool              `json:"require_verifier"`
	Status          string            `json:"status"`
	Stage           string            `json:"stage"`
	Stages          map[string]string `json:"stages"`
	History         []HistoryEvent    `json:"history"`
	Result          *ResultSnapshot   `json:"result,omitempty"`
	ShortID         string            `json:"short_id,omitempty"`
	Alias           string            `json:"alias,omitempty"`

	Plan           *plan.Plan    `json:"plan,omitempty"`
	PlanCritic     *plan.Critic  `json:"plan_critic,omitempty"`
	PlanRoles      []string      `json:"plan_roles,omitempty"`
	PlanReplans    []plan.Replan `json:"plan_replans,omitempty"`
	PlanGatePassed *bool         `json:"plan_gate_passed,omitempty"`

	SourceRequestID string   `json:"source_request_id,omitempty"`
	ControlMode     string   `json:"control_mode,omitempty"`
	RetryOf         string   `json:"retry_of,omitempty"`
	ReplanOf        string   `json:"replan_of,omitempty"`
	RetryChildren   []string `json:"retry_children,omitempty"`
	ReplanChildren  []string `json:"replan_children,omitempty"`
	InitiatorChatID string   `json:"initiator_chat_id,omitempty"`

	Canceled   bool   `json:"canceled,omitempty"`
	CanceledAt string `json:"canceled_at,omitempty"`
	CanceledBy string `json:"canceled_by,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// NormalizeStageStatus maps free-form stage status tokens onto the four
// canonical values; anything unrecognized becomes pending.
func NormalizeStageStatus(raw string) string {
	token := strings.ToLower(strings.TrimSpace(raw))
	switch token {
	case "pending", "running", "done", "failed":
		return token
	case "complete", "completed", "success":
		return "done"
	case "active", "in_progress", "progress":
		return "running"
	case "fail", "error":
		return "failed"
	}
	return "pending"
}

// NormalizeTaskStatus maps free-form overall status tokens onto
// pending/running/completed/failed.
func NormalizeTaskStatus(raw string) string {
	token := strings.ToLower(strings.TrimSpace(raw))
	switch token {
	case "pending", "running", "completed", "failed":
		return token
	case "done", "complete", "success":
		return "completed"
	case "fail", "error":
		return "failed"
	case "active", "in_progress", "progress":
		return "running"
	}
	return "pending"
}

func isStageName(name string) bool {
	for _, s := range StageNames {
		if s == name {
			return true
		}
	}
	return false
}

// NormalizeAliasKey lowercases and collapses every non-alphanumeric run to a
// single dash so "T-001", "t 001" and "t_001" hit the same index slot.
func NormalizeAliasKey(raw string) string {
	src := strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	sep := false
	for _, ch := range src {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			b.WriteRune(ch)
			sep = false
			continue
		}
		if !sep {
			b.WriteByte('-')
			sep = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// ParseShortIDSeq extracts the numeric sequence from a T-NNN short id,
// returning 0 when the token is not a short id.
func ParseShortIDSeq(shortID string) int {
	src := strings.ToUpper(strings.TrimSpace(shortID))
	if !strings.HasPrefix(src, "T-") {
		return 0
	}
	tail := src[2:]
	if tail == "" {
		return 0
	}
	for _, ch := range tail {
		if ch < '0' || ch > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(tail)
	if err != nil {
		return 0
	}
	return n
}

// FormatShortID renders a sequence number as T-001 style, widening past 999.
func FormatShortID(seq int) string {
	if seq < 1 {
		seq = 1
	}
	if seq < 1000 {
		return "T-" + leftPad(strconv.Itoa(seq), 3)
	}
	return "T-" + strconv.Itoa(seq)
}

func leftPad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}

var aliasStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "to": {}, "for": {}, "and": {}, "or": {}, "of": {},
	"해주세요": {}, "해줘": {}, "요청": {}, "작업": {}, "진행": {}, "지금": {}, "바로": {}, "좀": {},
}

// DeriveAliasBase builds a slug from the first few meaningful prompt tokens.
func DeriveAliasBase(prompt string) string {
	src := strings.TrimSpace(prompt)
	if src == "" {
		return "task"
	}

	var cleaned strings.Builder
	for _, ch := range src {
		if ch == ' ' || ch == '-' || ch == '_' || unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			cleaned.WriteRune(ch)
		} else {
			cleaned.WriteByte(' ')
		}
	}

	tokens := strings.Fields(strings.ToLower(cleaned.String()))
	if len(tokens) == 0 {
		return "task"
	}

	picked := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := aliasStopwords[t]; stop {
			continue
		}
		picked = append(picked, t)
	}
	if len(picked) == 0 {
		picked = tokens
	}
	if len(picked) > 5 {
		picked = picked[:5]
	}

	alias := strings.Trim(strings.Join(picked, "-"), "-_")
	if runes := []rune(alias); len(runes) > aliasBaseLimit {
		alias = strings.TrimRight(string(runes[:aliasBaseLimit]), "-_")
	}
	if alias == "" {
		return "task"
	}
	return alias
}

// DisplayLabel renders the task's human handle: "T-001 | alias" when both
// exist, otherwise whichever is set, otherwise the request id.
func (t *TaskRecord) DisplayLabel(fallbackRequestID string) string {
	if t == nil {
		rid := strings.TrimSpace(fallbackRequestID)
		if rid == "" {
			return "-"
		}
		return rid
	}
	shortID := strings.ToUpper(strings.TrimSpace(t.ShortID))
	alias := strings.TrimSpace(t.Alias)
	switch {
	case shortID != "" && alias != "":
		return shortID + " | " + alias
	case alias != "":
		return alias
	case shortID != "":
		return shortID
	}
	rid := strings.TrimSpace(t.RequestID)
	if rid == "" {
		rid = strings.TrimSpace(fallbackRequestID)
	}
	if rid == "" {
		return "-"
	}
	return rid
}

// SetStage records a stage transition at the given timestamp. Unknown stages
// are ignored; repeating the current status without a note is a no-op.
func (t *TaskRecord) SetStage(stage, status, note, at string) {
	if !isStageName(stage) {
		return
	}
	if t.Stages == nil {
		t.Stages = emptyStages()
	}
	next := NormalizeStageStatus(status)
	if t.Stages[stage] == next && note == "" {
		return
	}

	t.Stages[stage] = next
	t.Stage = stage

	ev := HistoryEvent{At: at, Stage: stage, Status: next}
	if note != "" {
		if runes := []rune(note); len(runes) > historyNoteLimit {
			note = string(runes[:historyNoteLimit])
		}
		ev.Note = note
	}
	t.History = append(t.History, ev)
	if len(t.History) > TaskHistoryLimit {
		t.History = t.History[len(t.History)-TaskHistoryLimit:]
	}
	t.UpdatedAt = at
}

func emptyStages() map[string]string {
	stages := make(map[string]string, len(StageNames))
	for _, name := range StageNames {
		stages[name] = "pending"
	}
	return stages
}

// sanitizeTask normalizes a loaded record in place so downstream code can
// rely on canonical stage/status tokens and a full stage map.
func sanitizeTask(t *TaskRecord, requestID, now string) {
	rid := strings.TrimSpace(requestID)
	if rid == "" {
		rid = strings.TrimSpace(t.RequestID)
	}
	t.RequestID = rid

	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
	if t.Mode != "dispatch" && t.Mode != "direct" {
		t.Mode = "dispatch"
	}
	t.Prompt = strings.TrimSpace(t.Prompt)
	t.Roles = parse.DedupeRoles(t.Roles)
	t.VerifierRoles = parse.DedupeRoles(t.VerifierRoles)

	stages := emptyStages()
	for _, name := range StageNames {
		if raw, ok := t.Stages[name]; ok {
			stages[name] = NormalizeStageStatus(raw)
		}
	}
	t.Stages = stages

	stage := strings.ToLower(strings.TrimSpace(t.Stage))
	if !isStageName(stage) {
		stage = "intake"
		for _, name := range StageNames {
			switch stages[name] {
			case "running", "done", "failed":
				stage = name
			}
		}
	}
	t.Stage = stage

	history := t.History
	if len(history) > TaskHistoryLimit {
		history = history[len(history)-TaskHistoryLimit:]
	}
	kept := make([]HistoryEvent, 0, len(history))
	for _, ev := range history {
		evStage := strings.ToLower(strings.TrimSpace(ev.Stage))
		if !isStageName(evStage) {
			continue
		}
		row := HistoryEvent{
			At:     strings.TrimSpace(ev.At),
			Stage:  evStage,
			Status: NormalizeStageStatus(ev.Status),
		}
		if row.At == "" {
			row.At = now
		}
		note := strings.TrimSpace(ev.Note)
		if note != "" {
			if runes := []rune(note); len(runes) > historyNoteLimit {
				note = string(runes[:historyNoteLimit])
			}
			row.Note = note
		}
		kept = append(kept, row)
	}
	t.History = kept

	t.Status = NormalizeTaskStatus(t.Status)
	if strings.TrimSpace(t.CreatedAt) == "" {
		t.CreatedAt = now
	}
	if strings.TrimSpace(t.UpdatedAt) == "" {
		t.UpdatedAt = now
	}
	t.ShortID = strings.ToUpper(strings.TrimSpace(t.ShortID))
	t.Alias = strings.TrimSpace(t.Alias)
}

func (p *Project) ensureAliasMeta() {
	index := make(map[string]string, len(p.TaskAliasIndex))
	for key, rid := range p.TaskAliasIndex {
		keyNorm := NormalizeAliasKey(key)
		ridNorm := strings.TrimSpace(rid)
		if keyNorm != "" && ridNorm != "" {
			index[keyNorm] = ridNorm
		}
	}
	p.TaskAliasIndex = index
	if p.TaskSeq < 0 {
		p.TaskSeq = 0
	}
	if p.Tasks == nil {
		p.Tasks = map[string]*TaskRecord{}
	}
}

// RebuildAliasIndex regenerates the alias index from task short ids and
// aliases, advancing the sequence past the highest short id seen.
func (p *Project) RebuildAliasIndex() {
	p.ensureAliasMeta()

	index := map[string]string{}
	maxSeq := p.TaskSeq

	for rid, task := range p.Tasks {
		rid = strings.TrimSpace(rid)
		if rid == "" || task == nil {
			continue
		}
		shortID := strings.ToUpper(strings.TrimSpace(task.ShortID))
		alias := strings.TrimSpace(task.Alias)
		if shortID != "" {
			index[NormalizeAliasKey(shortID)] = rid
			if seq := ParseShortIDSeq(shortID); seq > maxSeq {
				maxSeq = seq
			}
		}
		if alias != "" {
			index[NormalizeAliasKey(alias)] = rid
		}
	}

	p.TaskAliasIndex = index
	p.TaskSeq = maxSeq
}

// AssignTaskAlias gives the task a short id and prompt-derived alias if it
// lacks them, skipping over identifiers already owned by other tasks.
func (p *Project) AssignTaskAlias(task *TaskRecord, prompt string, rebuildIndex bool) {
	p.ensureAliasMeta()

	reqID := strings.TrimSpace(task.RequestID)
	if reqID == "" {
		return
	}

	shortID := strings.ToUpper(strings.TrimSpace(task.ShortID))
	if shortID == "" {
		nextSeq := p.TaskSeq
		for {
			nextSeq++
			candidate := FormatShortID(nextSeq)
			owner := p.TaskAliasIndex[NormalizeAliasKey(candidate)]
			if owner == "" || owner == reqID {
				task.ShortID = candidate
				shortID = candidate
				p.TaskSeq = nextSeq
				break
			}
		}
	}

	if strings.TrimSpace(task.Alias) == "" {
		seed := strings.TrimSpace(prompt)
		if seed == "" {
			seed = strings.TrimSpace(task.Prompt)
		}
		if seed == "" {
			seed = strings.ToLower(shortID)
		}
		base := DeriveAliasBase(seed)
		candidate := base
		suffix := 2
		for {
			owner := p.TaskAliasIndex[NormalizeAliasKey(candidate)]
			if owner == "" || owner == reqID {
				task.Alias = candidate
				break
			}
			candidate = base + "-" + strconv.Itoa(suffix)
			suffix++
		}
	}

	if rebuildIndex {
		p.RebuildAliasIndex()
	}
}

// BackfillAliases assigns short ids and aliases to any tasks missing them,
// in created_at order so older tasks get lower sequence numbers.
func (p *Project) BackfillAliases() {
	p.ensureAliasMeta()
	if len(p.Tasks) == 0 {
		return
	}

	type row struct {
		rid  string
		task *TaskRecord
	}
	rows := make([]row, 0, len(p.Tasks))
	for rid, task := range p.Tasks {
		if task != nil {
			rows = append(rows, row{rid: rid, task: task})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].task.CreatedAt != rows[j].task.CreatedAt {
			return rows[i].task.CreatedAt < rows[j].task.CreatedAt
		}
		return rows[i].rid < rows[j].rid
	})

	for _, r := range rows {
		rid := strings.TrimSpace(r.rid)
		if rid == "" {
			continue
		}
		if strings.TrimSpace(r.task.RequestID) == "" {
			r.task.RequestID = rid
		}
		p.AssignTaskAlias(r.task, r.task.Prompt, false)
	}

	p.RebuildAliasIndex()
}

// ResolveRequestID maps a request id, short id, alias, or normalized alias
// token to a stored request id. Unknown tokens pass through unchanged.
func (p *Project) ResolveRequestID(ref string) string {
	token := strings.TrimSpace(ref)
	if token == "" {
		return ""
	}
	p.ensureAliasMeta()

	if _, ok := p.Tasks[token]; ok {
		return token
	}

	if len(p.TaskAliasIndex) == 0 && len(p.Tasks) > 0 {
		p.BackfillAliases()
	}

	norm := NormalizeAliasKey(token)
	if mapped := p.TaskAliasIndex[norm]; mapped != "" {
		if _, ok := p.Tasks[mapped]; ok {
			return mapped
		}
	}

	// Index may be stale after trims; scan before giving up.
	upper := strings.ToUpper(token)
	for rid, task := range p.Tasks {
		if task == nil {
			continue
		}
		if upper == strings.ToUpper(strings.TrimSpace(task.ShortID)) && strings.TrimSpace(task.ShortID) != "" {
			return rid
		}
		if norm != "" && norm == NormalizeAliasKey(task.Alias) {
			return rid
		}
	}

	return token
}

// Task returns the record for a request id or alias ref, nil when absent.
func (p *Project) Task(ref string) *TaskRecord {
	token := p.ResolveRequestID(ref)
	if token == "" {
		return nil
	}
	return p.Tasks[token]
}

// LatestTaskRefs returns up to limit request ids ordered by updated_at
// descending, backfilling aliases so monitor rows always carry labels.
func (p *Project) LatestTaskRefs(limit int) []string {
	p.ensureAliasMeta()
	if len(p.Tasks) == 0 {
		return nil
	}
	p.BackfillAliases()

	rows := p.OrderedTaskIDs()
	n := limit
	if n < 1 {
		n = 1
	}
	if n > 50 {
		n = 50
	}
	if n > len(rows) {
		n = len(rows)
	}

	out := make([]string, 0, n)
	for _, rid := range rows[:n] {
		if rid != "" {
			out = append(out, rid)
		}
	}
	return out
}

// OrderedTaskIDs returns every request id sorted by updated_at descending.
func (p *Project) OrderedTaskIDs() []string {
	rids := make([]string, 0, len(p.Tasks))
	for rid, task := range p.Tasks {
		if task != nil && strings.TrimSpace(rid) != "" {
			rids = append(rids, rid)
		}
	}
	sort.SliceStable(rids, func(i, j int) bool {
		a, b := p.Tasks[rids[i]], p.Tasks[rids[j]]
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		return rids[i] < rids[j]
	})
	return rids
}

// TrimTasks drops the oldest tasks past the per-project cap.
func (p *Project) TrimTasks() {
	p.ensureAliasMeta()
	if len(p.Tasks) <= TaskKeepPerProject {
		return
	}
	rows := p.OrderedTaskIDs()
	keep := make(map[string]struct{}, TaskKeepPerProject)
	for _, rid := range rows[:TaskKeepPerProject] {
		keep[rid] = struct{}{}
	}
	for rid := range p.Tasks {
		if _, ok := keep[rid]; !ok {
			delete(p.Tasks, rid)
		}
	}
}

// EnsureTask creates or refreshes the record for a request id. Existing
// records keep their history; provided fields overwrite stale ones.
func (p *Project) EnsureTask(requestID, prompt, mode string, roles, verifierRoles []string, requireVerifier bool, now string) *TaskRecord {
	p.ensureAliasMeta()
	token := strings.TrimSpace(requestID)

	task, ok := p.Tasks[token]
	if !ok || task == nil {
		task = &TaskRecord{
			RequestID:       token,
			Mode:            mode,
			Prompt:          strings.TrimSpace(prompt),
			Roles:           parse.DedupeRoles(roles),
			VerifierRoles:   parse.DedupeRoles(verifierRoles),
			RequireVerifier: requireVerifier,
			Status:          "running",
			Stage:           "intake",
			Stages:          emptyStages(),
			History:         []HistoryEvent{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		p.Tasks[token] = task
	} else {
		if strings.TrimSpace(prompt) != "" {
			task.Prompt = strings.TrimSpace(prompt)
		}
		if mode != "" {
			task.Mode = mode
		}
		if len(roles) > 0 {
			task.Roles = parse.DedupeRoles(roles)
		}
		if len(verifierRoles) > 0 {
			task.VerifierRoles = parse.DedupeRoles(verifierRoles)
		}
		task.RequireVerifier = requireVerifier
		task.UpdatedAt = now
	}

	p.AssignTaskAlias(task, prompt, false)
	p.TrimTasks()
	p.RebuildAliasIndex()
	return task
}
