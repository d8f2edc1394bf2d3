package gateway

import (
	"strings"

	"github.com/aoe-sh/gateway/internal/lifecycle"
	"github.com/aoe-sh/gateway/internal/parse"
)

// retryReplanTransition rewrites an orch-retry or orch-replan command into
// a run command seeded from the source task. proceed=false means a reply
// was already sent and the message is done; proceed=true means r now
// describes the follow-up run and the run pipeline should take over.
func (m *msg) retryReplanTransition(r *Resolved) (proceed bool, err error) {
	gw := m.gw
	p, err := m.project(r.OrchTarget)
	if err != nil {
		return false, err
	}

	label, control := "/retry", "retry"
	if r.Cmd == "orch-replan" {
		label, control = "/replan", "replan"
	}

	ref := strings.TrimSpace(r.RequestID)
	if ref == "" {
		ref = gw.manager.SelectedTaskRef(m.chatID, p.key)
	}
	if ref == "" {
		m.send("usage: "+label+" <request_or_alias>\norch="+p.key, r.Cmd+" usage", false)
		return false, nil
	}

	ref = gw.manager.ResolveChatTaskRef(m.chatID, p.key, ref)
	reqID := p.entry.ResolveRequestID(ref)
	if reqID == "" {
		m.send("request not found: "+ref+" (orch="+p.key+")", r.Cmd+" missing", false)
		return false, nil
	}

	source := p.entry.Task(reqID)
	if source == nil {
		if data, qerr := p.orch.Request(m.ctx, reqID); qerr == nil {
			source = lifecycle.Sync(p.entry, data, "", "dispatch", nil, nil,
				gw.cfg.Run.RequireVerifier,
				lifecycle.VerifierCandidates(gw.cfg.Run.VerifierRoles),
				gw.nowISO())
		}
	}
	if source == nil {
		m.send("no lifecycle record for retry/replan target: "+ref, r.Cmd+" missing task", false)
		return false, nil
	}

	prompt := strings.TrimSpace(source.Prompt)
	if prompt == "" {
		m.send("cannot retry/replan: source task prompt is missing.\nrequest_id="+reqID,
			r.Cmd+" missing prompt", false)
		return false, nil
	}

	roles := parse.DedupeRoles(source.Roles)
	mode := strings.ToLower(strings.TrimSpace(source.Mode))
	m.rememberTask(p, reqID)

	r.Cmd = "run"
	r.Rest = ""
	r.OrchTarget = p.key
	r.RunPrompt = prompt
	r.RolesOverride = nil
	if len(roles) > 0 {
		joined := strings.Join(roles, ",")
		r.RolesOverride = &joined
	}
	r.ForceMode = "dispatch"
	if mode == "direct" {
		r.ForceMode = "direct"
	}
	noWait := false
	r.NoWait = &noWait
	r.Priority = ""
	r.TimeoutSec = nil
	r.AutoSource = ""
	r.ControlMode = control
	r.SourceRequestID = reqID
	r.SourceTask = source
	return true, nil
}
