package gateway

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/aoe-sh/gateway/internal/config"
	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/lifecycle"
	"github.com/aoe-sh/gateway/internal/state"
)

// syncFromRequest refreshes a project's lifecycle record from one request
// query payload and bumps the last-request pointer.
func (m *msg) syncFromRequest(p *projectCtx, data map[string]any, fallbackID string) *state.TaskRecord {
	gw := m.gw
	rid := strings.TrimSpace(asString(data["request_id"]))
	if rid == "" {
		rid = fallbackID
	}
	p.entry.LastRequestID = rid
	p.entry.UpdatedAt = gw.nowISO()
	return lifecycle.Sync(p.entry, data, "", "dispatch", nil, nil,
		gw.cfg.Run.RequireVerifier,
		lifecycle.VerifierCandidates(gw.cfg.Run.VerifierRoles),
		gw.nowISO())
}

// resolveTaskRef turns an explicit ref (or the chat's selection, or the
// project's last request) into a concrete request id. Empty means nothing
// to act on.
func (m *msg) resolveTaskRef(p *projectCtx, explicit string) string {
	ref := strings.TrimSpace(explicit)
	if ref == "" {
		ref = m.gw.manager.SelectedTaskRef(m.chatID, p.key)
	}
	if ref == "" {
		ref = strings.TrimSpace(p.entry.LastRequestID)
	}
	ref = m.gw.manager.ResolveChatTaskRef(m.chatID, p.key, ref)
	return p.entry.ResolveRequestID(ref)
}

// rememberTask pins the request as the chat's selection and bumps it in
// the recent list.
func (m *msg) rememberTask(p *projectCtx, requestID string) {
	now := m.gw.nowISO()
	m.gw.manager.TouchRecentTaskRef(m.chatID, p.key, requestID, now)
	m.gw.manager.SetSelectedTaskRef(m.chatID, p.key, requestID, now)
	m.gw.saveManagerState()
}

// handleOrchTask serves the registry-mutating and per-request commands:
// orch-add, status, request, orch-check, orch-task, orch-pick,
// orch-cancel.
func (m *msg) handleOrchTask(r *Resolved) (bool, error) {
	gw := m.gw

	switch r.Cmd {
	case "orch-add":
		if r.AddName == "" || r.AddPath == "" {
			m.send("usage: aoe orch add <name> --path <project_root> [--overview <text>] [--init|--no-init] [--spawn|--no-spawn]",
				"orch-add usage", false)
			return true, nil
		}

		projectRoot, err := config.AbsPath(r.AddPath)
		if err != nil {
			return true, err
		}
		if ws := gw.cfg.Paths.WorkspaceRoot; ws != "" && !pathWithin(projectRoot, ws) {
			m.send("error: path must be under workspace root ("+ws+")\npath="+projectRoot,
				"orch-add path", false)
			return true, nil
		}

		teamDir := filepath.Join(projectRoot, ".aoe-team")
		overview := strings.TrimSpace(r.AddOverview)
		if overview == "" {
			overview = r.AddName + " project orchestration"
		}

		if gw.dryRun {
			m.send("[DRY-RUN] orch add\n"+
				"- name: "+r.AddName+"\n"+
				"- path: "+projectRoot+"\n"+
				"- team: "+teamDir+"\n"+
				"- init: "+yesNo(r.AddInit)+"\n"+
				"- spawn: "+yesNo(r.AddSpawn)+"\n"+
				"- set_active: "+yesNo(r.AddSetActive),
				"orch-add dry-run", false)
			return true, nil
		}

		if err := os.MkdirAll(projectRoot, 0o755); err != nil {
			return true, err
		}
		key, entry := gw.manager.Register(r.AddName, projectRoot, teamDir, overview, r.AddSetActive, gw.nowISO())
		client := gw.orchFor(projectRoot, teamDir)

		var initLogs []string
		_, statErr := os.Stat(filepath.Join(teamDir, "orchestrator.json"))
		if r.AddInit || statErr != nil {
			out, err := client.Init(m.ctx, overview)
			if err != nil {
				return true, err
			}
			initLogs = append(initLogs, out)
		}
		if r.AddSpawn {
			out, err := client.Spawn(m.ctx)
			if err != nil {
				return true, err
			}
			initLogs = append(initLogs, out)
		}

		entry.UpdatedAt = gw.nowISO()
		gw.saveManagerState()

		lines := []string{
			"orch ready: " + key,
			"root: " + entry.ProjectRoot,
			"team: " + entry.TeamDir,
			"active: " + yesNo(gw.manager.Active == key),
		}
		if len(initLogs) > 0 {
			lines = append(lines, "logs:")
			for _, row := range initLogs {
				lines = append(lines, lastLine(row))
			}
		}
		m.send(strings.Join(lines, "\n"), "orch-add", false)
		return true, nil

	case "status", "orch-status":
		p, err := m.project(r.OrchTarget)
		if err != nil {
			return true, err
		}
		status, err := p.orch.Status(m.ctx)
		if err != nil {
			return true, err
		}
		m.send("orch: "+p.key+"\n"+
			"root: "+p.entry.ProjectRoot+"\n"+
			"team: "+p.entry.TeamDir+"\n"+
			"last_request: "+orDash(strings.TrimSpace(p.entry.LastRequestID))+"\n\n"+status,
			"status", false)
		return true, nil

	case "request":
		ref := strings.TrimSpace(r.Rest)
		if ref == "" {
			m.send("usage: /request <request_or_alias> | aoe request <request_or_alias>", "request usage", false)
			return true, nil
		}
		p, err := m.project("")
		if err != nil {
			return true, err
		}
		ref = gw.manager.ResolveChatTaskRef(m.chatID, p.key, ref)
		reqID := p.entry.ResolveRequestID(ref)
		data, err := p.orch.Request(m.ctx, reqID)
		if err != nil {
			return true, err
		}
		task := m.syncFromRequest(p, data, reqID)
		m.rememberTask(p, reqID)
		m.send("orch: "+p.key+"\n"+summarizeRequestState(data, task), "request", false)
		return true, nil

	case "orch-check":
		p, err := m.project(r.OrchTarget)
		if err != nil {
			return true, err
		}
		reqID := m.resolveTaskRef(p, r.RequestID)
		if reqID == "" {
			m.send("no request id. usage: aoe orch check [--orch <name>] [<request_or_alias>]\norch="+p.key,
				"orch-check usage", false)
			return true, nil
		}
		data, err := p.orch.Request(m.ctx, reqID)
		if err != nil {
			return true, err
		}
		task := m.syncFromRequest(p, data, reqID)
		m.rememberTask(p, reqID)
		m.send(threeStageSummary(p.key, data, task), "orch-check", false)
		return true, nil

	case "orch-task":
		p, err := m.project(r.OrchTarget)
		if err != nil {
			return true, err
		}
		reqID := m.resolveTaskRef(p, r.RequestID)
		if reqID == "" {
			m.send("no request id. usage: aoe orch task [--orch <name>] [<request_or_alias>]\norch="+p.key,
				"orch-task usage", false)
			return true, nil
		}

		task := p.entry.Task(reqID)
		if task == nil {
			// one refresh attempt before declaring it missing
			if data, err := p.orch.Request(m.ctx, reqID); err == nil {
				task = m.syncFromRequest(p, data, reqID)
			}
		}
		if task == nil {
			m.send("no lifecycle record: request_or_alias="+reqID+" (orch="+p.key+")",
				"orch-task missing", false)
			return true, nil
		}

		m.rememberTask(p, reqID)
		m.send(lifecycle.Summarize(p.key, task), "orch-task", false)
		return true, nil

	case "orch-pick":
		p, err := m.project(r.OrchTarget)
		if err != nil {
			return true, err
		}
		ref := strings.TrimSpace(r.RequestID)
		if ref == "" {
			m.send("usage: /pick <number|request_or_alias> | aoe pick <number|request_or_alias>",
				"orch-pick usage", true)
			return true, nil
		}
		resolved := gw.manager.ResolveChatTaskRef(m.chatID, p.key, ref)
		reqID := p.entry.ResolveRequestID(resolved)
		if reqID == "" || p.entry.Task(reqID) == nil {
			m.send("task not found: "+ref+" (orch="+p.key+")", "orch-pick missing", true)
			return true, nil
		}

		task := p.entry.Task(reqID)
		m.rememberTask(p, reqID)
		m.send("selected task updated\n"+
			"- orch: "+p.key+"\n"+
			"- task: "+task.DisplayLabel(reqID)+"\n"+
			"- request_id: "+reqID+"\n"+
			"next: /check, /task, /retry, /replan, /cancel",
			"orch-pick", true)
		return true, nil

	case "orch-cancel":
		p, err := m.project(r.OrchTarget)
		if err != nil {
			return true, err
		}
		reqID := m.resolveTaskRef(p, r.RequestID)
		if reqID == "" {
			m.send("no request id. usage: /cancel <request_or_alias> | aoe orch cancel [--orch <name>] [<request_or_alias>]\norch="+p.key,
				"orch-cancel usage", false)
			return true, nil
		}

		before, err := p.orch.Request(m.ctx, reqID)
		if err != nil {
			return true, err
		}
		note := "canceled by telegram:" + m.chatID
		result, err := p.orch.CancelAssignments(m.ctx, before, note)
		if err != nil {
			return true, err
		}
		after, err := p.orch.Request(m.ctx, reqID)
		if err != nil {
			after = before
		}

		task := m.syncFromRequest(p, after, reqID)
		if task != nil {
			now := gw.nowISO()
			task.SetStage("execution", "failed", note, now)
			task.SetStage("verification", "failed", note, now)
			task.SetStage("integration", "failed", note, now)
			task.SetStage("close", "failed", note, now)
			task.Status = "failed"
			task.Canceled = true
			task.CanceledAt = now
			task.CanceledBy = "telegram:" + m.chatID
			task.UpdatedAt = now
		}

		m.rememberTask(p, reqID)
		m.send(cancelSummary(p.key, reqID, task, result), "orch-cancel", true)
		m.logTaskEvent(events.Entry{
			Event: "dispatch_canceled", Project: p.key, RequestID: reqID,
			Stage: "close", Status: "failed",
		}, task)
		return true, nil
	}

	return false, nil
}

// handleAddRole serves add-role: registers a new role with the active
// project's orchestrator, optionally spawning its pane.
func (m *msg) handleAddRole(r *Resolved) (bool, error) {
	if r.Cmd != "add-role" {
		return false, nil
	}
	gw := m.gw

	if r.RoleName == "" {
		m.send("usage: aoe add-role <Role> [--provider <name>] [--launch <cmd>] [--spawn|--no-spawn]",
			"add-role usage", false)
		return true, nil
	}
	p, err := m.project("")
	if err != nil {
		return true, err
	}

	if gw.dryRun {
		provider := r.RoleProvider
		if provider == "" {
			provider = "codex"
		}
		launch := r.RoleLaunch
		if launch == "" {
			launch = "(default)"
		}
		m.send("[DRY-RUN] add-role\n"+
			"- orch: "+p.key+"\n"+
			"- role: "+r.RoleName+"\n"+
			"- provider: "+provider+"\n"+
			"- launch: "+launch+"\n"+
			"- spawn: "+yesNo(r.RoleSpawn),
			"add-role dry-run", false)
		return true, nil
	}

	result, err := p.orch.AddRole(m.ctx, r.RoleName, r.RoleProvider, r.RoleLaunch, r.RoleSpawn)
	if err != nil {
		return true, err
	}
	m.send("orch: "+p.key+"\n"+result, "add-role", false)
	return true, nil
}

// pathWithin reports whether path sits at or below root.
func pathWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// lastLine returns the final non-empty line of subprocess output.
func lastLine(raw string) string {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "(empty)"
}
