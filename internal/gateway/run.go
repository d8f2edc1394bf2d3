package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aoe-sh/gateway/internal/clock"
	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/lifecycle"
	"github.com/aoe-sh/gateway/internal/orch"
	"github.com/aoe-sh/gateway/internal/parse"
	"github.com/aoe-sh/gateway/internal/plan"
	"github.com/aoe-sh/gateway/internal/state"
)

// confirmRunTransition redeems a pending high-risk confirmation. false
// means the message is done (nothing pending, or the request expired);
// true means r now carries the confirmed run and the pipeline continues.
func (m *msg) confirmRunTransition(r *Resolved) bool {
	gw := m.gw

	confirm := gw.manager.ConfirmFor(m.chatID)
	if confirm == nil {
		m.send("확인 대기 중인 실행이 없습니다.\n"+
			"고위험 평문 자동실행이 감지되면 /ok 로 승인할 수 있습니다.",
			"confirm-empty", true)
		return false
	}

	ttl := gw.cfg.Guard.ConfirmTTLSec
	if ttl < 30 {
		ttl = 30
	}
	expired := false
	if ts, err := clock.ParseISO(confirm.RequestedAt); err == nil {
		expired = gw.clock.Now().Sub(ts) > time.Duration(ttl)*time.Second
	}
	if expired {
		gw.manager.ClearConfirm(m.chatID, gw.nowISO())
		gw.saveManagerState()
		m.send("확인 요청이 만료되었습니다.\n"+
			"다시 평문으로 요청하거나 /dispatch 로 재실행하세요.",
			"confirm-expired", true)
		return false
	}

	prompt := strings.TrimSpace(confirm.Prompt)
	mode := strings.ToLower(strings.TrimSpace(confirm.Mode))
	if mode == "" {
		mode = "dispatch"
	}
	target := strings.TrimSpace(confirm.Orch)
	if target == "" {
		target = r.OrchTarget
	}
	gw.manager.ClearConfirm(m.chatID, gw.nowISO())
	gw.saveManagerState()

	r.Cmd = "run"
	r.Rest = ""
	r.RunPrompt = prompt
	r.ForceMode = mode
	r.OrchTarget = target
	r.AutoSource = "confirmed"
	return true
}

// handleRun is the terminal stage of the pipeline: every message that was
// not claimed by an earlier handler lands here, either as a run or as an
// unknown command.
func (m *msg) handleRun(r *Resolved) error {
	gw := m.gw

	prompt, ok := m.resolvePromptOrUnknown(r)
	if !ok {
		return nil
	}
	if m.guardRun(r, prompt) {
		return nil
	}

	p, err := m.project(r.OrchTarget)
	if err != nil {
		return err
	}

	mode := resolveDispatchMode(r.ForceMode, r.RolesOverride, gw.cfg.Run.Roles, gw.cfg.Run.AutoDispatch, prompt)
	rolesCSV := strings.TrimSpace(mode.rolesCSV)

	verifierCandidates := lifecycle.VerifierCandidates(gw.cfg.Run.VerifierRoles)
	availableRoles := lifecycle.LoadRoles(p.entry.TeamDir)
	selectedRoles := parse.SplitRolesCSV(rolesCSV)

	meta := m.computePlan(r, prompt, mode.dispatch, selectedRoles, availableRoles)
	selectedRoles = meta.selectedRoles

	policy := m.enforceDispatchPolicies(mode.dispatch, selectedRoles, availableRoles, verifierCandidates, &meta, rolesCSV)
	if policy.terminal {
		return nil
	}
	rolesCSV = strings.TrimSpace(policy.rolesCSV)
	selectedRoles = policy.selectedRoles
	verifierRoles := policy.verifierRoles

	priority := gw.cfg.Run.Priority
	if r.Priority != "" {
		priority = r.Priority
	}
	timeoutSec := gw.cfg.Orch.TimeoutSec
	if r.TimeoutSec != nil {
		timeoutSec = *r.TimeoutSec
	}
	noWait := gw.cfg.Orch.NoWait
	if r.NoWait != nil {
		noWait = *r.NoWait
	}

	if gw.dryRun {
		m.send(dryRunPreview(p.key, mode.dispatch, r, prompt, rolesCSV, gw.cfg.Run.RequireVerifier,
			verifierRoles, policy.verifierAdded, &meta, priority, timeoutSec, noWait),
			"dry-run", false)
		return nil
	}

	if !mode.dispatch {
		return m.directReply(p, prompt)
	}

	dispatchPrompt := prompt
	if meta.plan != nil {
		dispatchPrompt = plan.DispatchPrompt(prompt, *meta.plan, meta.critic)
	}

	start := gw.clock.Now()
	data, err := p.orch.Run(m.ctx, orch.RunOptions{
		Prompt:     dispatchPrompt,
		ChatID:     m.chatID,
		RolesCSV:   rolesCSV,
		Priority:   priority,
		TimeoutSec: timeoutSec,
		NoWait:     noWait,
	})
	gw.obs.RecordOrch(m.ctx, p.key, gw.clock.Now().Sub(start), err)
	gw.obs.RecordDispatch(m.ctx, p.key, "dispatch", err == nil)
	if err != nil {
		return err
	}

	reqID := strings.TrimSpace(asString(data["request_id"]))
	if reqID != "" {
		p.entry.LastRequestID = reqID
		gw.manager.TouchRecentTaskRef(m.chatID, p.key, reqID, gw.nowISO())
		gw.manager.SetSelectedTaskRef(m.chatID, p.key, reqID, gw.nowISO())
	}
	p.entry.UpdatedAt = gw.nowISO()

	task := lifecycle.Sync(p.entry, data, prompt, "dispatch", selectedRoles, verifierRoles,
		gw.cfg.Run.RequireVerifier, verifierCandidates, gw.nowISO())
	if task != nil {
		task.InitiatorChatID = m.chatID
		task.UpdatedAt = gw.nowISO()
	}

	m.applyPlanAndLineage(task, &meta, r, reqID)
	gw.saveManagerState()

	return m.sendDispatchResult(p, r, prompt, data, reqID, task)
}

// resolvePromptOrUnknown extracts the run prompt, or answers usage/unknown
// replies itself. ok=false means the message is done.
func (m *msg) resolvePromptOrUnknown(r *Resolved) (string, bool) {
	var prompt string
	switch {
	case r.Cmd == "run" || r.Cmd == "orch-run":
		prompt = r.RunPrompt
		if prompt == "" {
			prompt = strings.TrimSpace(r.Rest)
		}
		if prompt == "" {
			m.send("usage: /run <prompt> | /dispatch <prompt> | /direct <prompt> | aoe run [--direct|--dispatch] [--roles <csv>] [--priority P1|P2|P3] [--timeout-sec N] [--no-wait] <prompt>",
				"run usage", false)
			return "", false
		}
	case r.Cmd != "":
		m.send("unknown command: /"+r.Cmd+"\n\n"+helpText, "unknown command", true)
		return "", false
	default:
		prompt = strings.TrimSpace(m.text)
	}

	if prompt == "" {
		m.send("empty prompt", "empty prompt", false)
		return "", false
	}
	return prompt, true
}

// guardRun enforces the per-chat rate limits and the high-risk confirm
// gate for run commands. true means the message was answered here.
func (m *msg) guardRun(r *Resolved, prompt string) bool {
	gw := m.gw
	if r.Cmd != "run" && r.Cmd != "orch-run" {
		return false
	}

	maxRunning := gw.cfg.Guard.ChatMaxRunning
	if maxRunning < 0 {
		maxRunning = 0
	}
	dailyCap := gw.cfg.Guard.ChatDailyCap
	if dailyCap < 0 {
		dailyCap = 0
	}
	running, submittedToday := gw.manager.ChatUsage(m.chatID, clock.DateKey(gw.nowISO()))

	if maxRunning > 0 && running >= maxRunning {
		m.send("rate limit: 동시 실행 한도를 초과했습니다.\n"+
			"- running_now: "+strconv.Itoa(running)+"\n"+
			"- max_running: "+strconv.Itoa(maxRunning)+"\n"+
			"next: /monitor 또는 /check 로 기존 작업을 확인하세요.",
			"rate-limit-running", true)
		m.logEvent(events.Entry{
			Event: "rate_limited", Stage: "intake", Status: "rejected", ErrorCode: codeGate,
			Detail: fmt.Sprintf("type=running running_now=%d max=%d", running, maxRunning),
		})
		gw.obs.RecordGateDenial(m.ctx, "rate")
		return true
	}

	if dailyCap > 0 && submittedToday >= dailyCap {
		m.send("rate limit: 일일 실행 한도에 도달했습니다.\n"+
			"- submitted_today: "+strconv.Itoa(submittedToday)+"\n"+
			"- daily_cap: "+strconv.Itoa(dailyCap)+"\n"+
			"next: 내일 다시 시도하거나 cap 설정을 조정하세요.",
			"rate-limit-daily", true)
		m.logEvent(events.Entry{
			Event: "rate_limited", Stage: "intake", Status: "rejected", ErrorCode: codeGate,
			Detail: fmt.Sprintf("type=daily submitted_today=%d cap=%d", submittedToday, dailyCap),
		})
		gw.obs.RecordGateDenial(m.ctx, "rate")
		return true
	}

	// only unprompted sticky-mode runs need explicit approval
	if r.AutoSource != "default" {
		return false
	}
	risk := parse.DetectHighRisk(prompt)
	if risk == "" {
		return false
	}

	mode := r.ForceMode
	if mode == "" {
		mode = "dispatch"
	}
	gw.manager.SetConfirm(m.chatID, mode, prompt, risk, r.OrchTarget, gw.nowISO())
	gw.saveManagerState()
	m.send("고위험 자동실행 감지: 확인이 필요합니다.\n"+
		"- risk: "+risk+"\n"+
		"- mode: "+mode+"\n"+
		"- preview: "+events.Truncate(prompt, 160)+"\n"+
		"실행: /ok\n"+
		"취소: /cancel",
		"confirm-required", true)
	m.logEvent(events.Entry{
		Event: "confirm_required", Stage: "intake", Status: "pending",
		Detail: "risk=" + risk + " mode=" + mode + " auto_source=" + r.AutoSource,
	})
	gw.obs.RecordGateDenial(m.ctx, "confirm")
	return true
}

type dispatchMode struct {
	dispatch bool
	rolesCSV string
}

// resolveDispatchMode decides direct vs dispatch and the starting role
// set. Explicit force wins, then explicit roles, then keyword routing.
func resolveDispatchMode(forceMode string, rolesOverride *string, projectRolesCSV string, autoDispatch bool, prompt string) dispatchMode {
	explicit := projectRolesCSV
	if rolesOverride != nil {
		explicit = *rolesOverride
	}
	explicit = strings.TrimSpace(explicit)

	var autoRoles []string
	if autoDispatch {
		autoRoles = parse.ChooseAutoDispatchRoles(prompt)
	}

	out := dispatchMode{rolesCSV: explicit}
	switch {
	case forceMode == "direct":
		out.dispatch = false
		out.rolesCSV = ""
	case forceMode == "dispatch":
		out.dispatch = true
		if out.rolesCSV == "" {
			if len(autoRoles) > 0 {
				out.rolesCSV = strings.Join(autoRoles, ",")
			} else {
				out.rolesCSV = "Reviewer"
			}
		}
	case out.rolesCSV != "":
		out.dispatch = true
	case autoDispatch && len(autoRoles) > 0:
		out.dispatch = true
		out.rolesCSV = strings.Join(autoRoles, ",")
	}
	return out
}

// planMeta is everything the planning stage produced for one dispatch.
type planMeta struct {
	selectedRoles []string
	plan          *plan.Plan
	critic        plan.Critic
	planRoles     []string
	replans       []plan.Replan
	planError     string
	gateBlocked   bool
	gateReason    string
	planningOn    bool
	reusedPlan    bool
}

// computePlan runs the planner/critic/repair loop, or reuses the source
// task's plan on retry. Planner failures are non-fatal: the dispatch
// falls back to the raw prompt with planError recorded.
func (m *msg) computePlan(r *Resolved, prompt string, dispatch bool, selectedRoles, availableRoles []string) planMeta {
	gw := m.gw
	meta := planMeta{
		selectedRoles: selectedRoles,
		critic:        plan.Critic{Approved: true},
		planningOn:    gw.cfg.Plan.Enabled || r.ControlMode == "replan",
		reusedPlan:    r.ControlMode == "retry" && r.SourceTask != nil && r.SourceTask.Plan != nil,
	}
	if !dispatch || (!meta.planningOn && !meta.reusedPlan) || gw.dryRun {
		return meta
	}

	maxSubtasks := gw.cfg.Plan.MaxSubtasks
	if maxSubtasks < 1 {
		maxSubtasks = 1
	}
	cmdTimeout := time.Duration(gw.cfg.Orch.CommandTimeoutSec) * time.Second

	if meta.reusedPlan {
		reused := plan.Renormalize(*r.SourceTask.Plan, prompt, plan.WorkerRoles(availableRoles), maxSubtasks)
		meta.plan = &reused
		if r.SourceTask.PlanCritic != nil {
			meta.critic = *r.SourceTask.PlanCritic
		}
	}

	if meta.plan == nil && meta.planningOn {
		start := gw.clock.Now()
		built, err := plan.Build(m.ctx, gw.llm, prompt, availableRoles, maxSubtasks, cmdTimeout)
		gw.obs.RecordPlanner(m.ctx, "build", gw.clock.Now().Sub(start), err)
		if err != nil {
			return meta.failed(err)
		}
		meta.plan = &built

		start = gw.clock.Now()
		meta.critic = plan.Critique(m.ctx, gw.llm, prompt, built, cmdTimeout)
		gw.obs.RecordPlanner(m.ctx, "critique", gw.clock.Now().Sub(start), nil)

		if gw.cfg.Plan.AutoReplan {
			maxReplans := gw.cfg.Plan.ReplanAttempts
			if maxReplans < 0 {
				maxReplans = 0
			}
			for attempt := 1; attempt <= maxReplans; attempt++ {
				if !meta.critic.HasBlockers() {
					break
				}
				start = gw.clock.Now()
				repaired, err := plan.Repair(m.ctx, gw.llm, prompt, *meta.plan, meta.critic,
					availableRoles, maxSubtasks, attempt, cmdTimeout)
				gw.obs.RecordPlanner(m.ctx, "repair", gw.clock.Now().Sub(start), err)
				if err != nil {
					return meta.failed(err)
				}
				meta.plan = &repaired
				meta.critic = plan.Critique(m.ctx, gw.llm, prompt, repaired, cmdTimeout)

				verdict := "approved"
				if meta.critic.HasBlockers() {
					verdict = "needs_fix"
				}
				meta.replans = append(meta.replans, plan.Replan{
					Attempt:  attempt,
					Critic:   verdict,
					Subtasks: len(repaired.Subtasks),
				})
			}
		}
	}

	meta.planRoles = nil
	if meta.plan != nil {
		meta.planRoles = meta.plan.Roles()
	}
	if len(meta.selectedRoles) == 0 && len(meta.planRoles) > 0 {
		meta.selectedRoles = meta.planRoles
	}

	if gw.cfg.Plan.BlockOnCritic && meta.plan != nil && meta.critic.HasBlockers() {
		lead := "critic unresolved after auto-replan"
		if len(meta.critic.Issues) > 0 {
			if first := strings.TrimSpace(meta.critic.Issues[0]); first != "" {
				lead = first
			}
		}
		meta.gateBlocked = true
		meta.gateReason = events.Truncate(lead, 240)
	}
	return meta
}

// failed strips everything the planning stage built so the dispatch runs
// on the raw prompt.
func (pm planMeta) failed(err error) planMeta {
	pm.plan = nil
	pm.critic = plan.Critic{Approved: true}
	pm.planRoles = nil
	pm.replans = nil
	pm.planError = events.Truncate(strings.TrimSpace(err.Error()), 260)
	return pm
}

type dispatchPolicy struct {
	terminal      bool
	rolesCSV      string
	selectedRoles []string
	verifierRoles []string
	verifierAdded bool
}

// enforceDispatchPolicies folds the verifier into the role set and runs
// the two dispatch gates. terminal=true means a denial was sent.
func (m *msg) enforceDispatchPolicies(dispatch bool, selectedRoles, availableRoles, verifierCandidates []string, meta *planMeta, rolesCSV string) dispatchPolicy {
	gw := m.gw
	out := dispatchPolicy{rolesCSV: rolesCSV, selectedRoles: selectedRoles}
	if !dispatch {
		return out
	}

	selected, verifiers, added, _ := lifecycle.EnsureVerifierRoles(selectedRoles, availableRoles, verifierCandidates)
	out.selectedRoles = selected
	out.verifierRoles = verifiers
	out.verifierAdded = added
	out.rolesCSV = strings.Join(selected, ",")

	if gw.cfg.Run.RequireVerifier && len(verifiers) == 0 {
		m.send("error: verifier gate enabled but no verifier role is available.\n"+
			"required_candidates="+orDash(strings.Join(verifierCandidates, ", "))+"\n"+
			"project_roles="+orDash(strings.Join(availableRoles, ", "))+"\n"+
			"hint: add a verifier role (e.g. Reviewer) or disable gate with --no-require-verifier",
			"verifier-gate setup", false)
		gw.obs.RecordGateDenial(m.ctx, "verifier")
		out.terminal = true
		return out
	}

	if meta.gateBlocked {
		reason := meta.gateReason
		if reason == "" {
			reason = "unresolved issues"
		}
		m.send("plan gate blocked: critic issues remain after auto-replan.\n"+
			"reason: "+reason+"\n"+
			"hint: 요청을 더 구체화하거나 역할/범위를 줄여 다시 실행하세요.\n"+
			"replan_attempts: "+strconv.Itoa(len(meta.replans)),
			"planning-gate", false)
		gw.obs.RecordGateDenial(m.ctx, "plan")
		out.terminal = true
		return out
	}
	return out
}

// dryRunPreview renders the full decision trace without executing it.
func dryRunPreview(key string, dispatch bool, r *Resolved, prompt, rolesCSV string, requireVerifier bool, verifierRoles []string, verifierAdded bool, meta *planMeta, priority string, timeoutSec int, noWait bool) string {
	modeLabel := "direct"
	if dispatch {
		modeLabel = "dispatch"
	}
	controlMode := r.ControlMode
	if controlMode == "" {
		controlMode = "normal"
	}
	planSubtasks := 0
	if meta.plan != nil {
		planSubtasks = len(meta.plan.Subtasks)
	}
	return fmt.Sprintf("[DRY-RUN] orch=%s mode: %s\n"+
		"- prompt: %s\n"+
		"- roles: %s\n"+
		"- verifier_required: %s\n"+
		"- verifier_roles: %s\n"+
		"- verifier_auto_added: %s\n"+
		"- control_mode: %s\n"+
		"- source_request_id: %s\n"+
		"- task_planning: %s\n"+
		"- plan_reused: %s\n"+
		"- plan_subtasks: %d\n"+
		"- plan_replans: %d\n"+
		"- plan_gate_blocked: %s\n"+
		"- plan_error: %s\n"+
		"- priority: %s\n"+
		"- timeout: %ds\n"+
		"- no_wait: %s",
		key, modeLabel, prompt, orDash(rolesCSV),
		yesNo(requireVerifier), orDash(strings.Join(verifierRoles, ", ")), yesNo(verifierAdded),
		controlMode, orDash(r.SourceRequestID),
		yesNo(meta.planningOn), yesNo(meta.reusedPlan && meta.plan != nil),
		planSubtasks, len(meta.replans), yesNo(meta.gateBlocked), orDash(meta.planError),
		priority, timeoutSec, yesNo(noWait))
}

// directReply answers without dispatching: one orchestrator-persona LLM
// call, straight back to the chat.
func (m *msg) directReply(p *projectCtx, prompt string) error {
	gw := m.gw

	persona := fmt.Sprintf("너는 프로젝트 오케스트레이터다. 텔레그램 사용자와 자연스럽게 대화하듯 답해라.\n"+
		"원칙:\n"+
		"- 한국어\n"+
		"- 사용자가 묻지 않으면 내부 역할/프로토콜/요청ID를 노출하지 않는다\n"+
		"- 과장하거나 근거 없는 수치를 단정하지 않는다\n"+
		"- 실무적으로 간결하게 답하고, 필요할 때만 다음 행동을 제안한다\n\n"+
		"사용자 요청:\n%s\n", strings.TrimSpace(prompt))

	reply, err := gw.llm.Exec(m.ctx, persona, gw.llmTimeout())
	gw.obs.RecordDispatch(m.ctx, p.key, "direct", err == nil)
	if err != nil {
		return err
	}
	m.send(reply, "direct", false)
	m.logEvent(events.Entry{Event: "direct_reply", Project: p.key, Stage: "close", Status: "completed"})
	return nil
}

// applyPlanAndLineage writes the plan audit trail onto the new task and
// links retry/replan children back to the source task.
func (m *msg) applyPlanAndLineage(task *state.TaskRecord, meta *planMeta, r *Resolved, reqID string) {
	if task == nil {
		return
	}
	now := m.gw.nowISO()

	if meta.plan != nil {
		critic := meta.critic
		task.Plan = meta.plan
		task.PlanCritic = &critic
		task.PlanRoles = meta.planRoles
		task.PlanReplans = meta.replans
		passed := !meta.critic.HasBlockers()
		task.PlanGatePassed = &passed

		verdict := "ok"
		if meta.critic.HasBlockers() {
			verdict = "issues"
		}
		task.SetStage("planning", "done",
			fmt.Sprintf("subtasks=%d critic=%s replans=%d", len(meta.plan.Subtasks), verdict, len(meta.replans)), now)
	} else if meta.planError != "" {
		task.SetStage("planning", "done", "fallback_no_plan: "+meta.planError, now)
	}

	if (r.ControlMode != "retry" && r.ControlMode != "replan") || r.SourceRequestID == "" {
		return
	}

	task.SourceRequestID = r.SourceRequestID
	task.ControlMode = r.ControlMode
	if r.ControlMode == "retry" {
		task.RetryOf = r.SourceRequestID
	} else {
		task.ReplanOf = r.SourceRequestID
	}
	task.SetStage("intake", "done", r.ControlMode+"_of="+r.SourceRequestID, now)

	if r.SourceTask == nil {
		return
	}
	prev := r.SourceTask.RetryChildren
	if r.ControlMode == "replan" {
		prev = r.SourceTask.ReplanChildren
	}
	var children []string
	for _, item := range prev {
		token := strings.TrimSpace(item)
		if token != "" && !containsString(children, token) {
			children = append(children, token)
		}
	}
	if reqID != "" && !containsString(children, reqID) {
		children = append(children, reqID)
	}
	if len(children) > 20 {
		children = children[len(children)-20:]
	}
	if r.ControlMode == "retry" {
		r.SourceTask.RetryChildren = children
	} else {
		r.SourceTask.ReplanChildren = children
	}
	r.SourceTask.UpdatedAt = now
}

// sendDispatchResult picks the reply for a finished dispatch: verifier
// failure summary, synthesized answer, or the raw status render.
func (m *msg) sendDispatchResult(p *projectCtx, r *Resolved, prompt string, data map[string]any, reqID string, task *state.TaskRecord) error {
	gw := m.gw

	controlMode := r.ControlMode
	if controlMode == "" {
		controlMode = "normal"
	}
	detail := "control_mode=" + controlMode + " source_request_id=" + orDash(r.SourceRequestID)

	if task != nil && gw.cfg.Run.RequireVerifier && task.Stages["verification"] == "failed" {
		m.send(lifecycle.Summarize(p.key, task), "verifier-gate failed", false)
		m.logTaskEvent(events.Entry{
			Event: "dispatch_failed", Project: p.key, RequestID: reqID,
			Stage: "verification", Status: "failed", ErrorCode: codeGate,
			Detail: "verifier_gate_failed",
		}, task)
		gw.obs.RecordGateDenial(m.ctx, "verifier")
		return nil
	}

	complete := asBool(data["complete"])
	if complete && len(asList(data["replies"])) > 0 {
		if synth, err := m.synthesize(prompt, data); err == nil {
			m.send(synth, "synth", false)
			stage, status := "close", "completed"
			if task != nil {
				stage, status = task.Stage, task.Status
			}
			m.logTaskEvent(events.Entry{
				Event: "dispatch_completed", Project: p.key, RequestID: reqID,
				Stage: stage, Status: status, Detail: detail,
			}, task)
			return nil
		}
	}

	m.send(renderRunResponse(data, task), "result", false)
	stage, status := "close", "completed"
	if !complete {
		status = "running"
	}
	if task != nil {
		stage, status = task.Stage, task.Status
	}
	m.logTaskEvent(events.Entry{
		Event: "dispatch_result", Project: p.key, RequestID: reqID,
		Stage: stage, Status: status, Detail: detail,
	}, task)
	return nil
}

// synthesize folds the sub-agent replies into one user-facing answer.
func (m *msg) synthesize(prompt string, data map[string]any) (string, error) {
	var chunks []string
	replies := asList(data["replies"])
	if len(replies) > 8 {
		replies = replies[:8]
	}
	for _, item := range replies {
		row := asMap(item)
		if row == nil {
			continue
		}
		role := "agent"
		if v, ok := row["role"]; ok {
			role = strings.TrimSpace(asString(v))
		} else if v, ok := row["from"]; ok {
			role = strings.TrimSpace(asString(v))
		}
		if role == "" {
			role = "agent"
		}
		if body := strings.TrimSpace(asString(row["body"])); body != "" {
			chunks = append(chunks, "["+role+"]\n"+body)
		}
	}
	joined := strings.TrimSpace(strings.Join(chunks, "\n\n"))
	if joined == "" {
		joined = "(no replies)"
	}

	synthPrompt := fmt.Sprintf("너는 팀 오케스트레이터다. 아래 서브에이전트 답변을 사용자용 단일 답변으로 통합해라.\n"+
		"규칙:\n"+
		"- 한국어\n"+
		"- 내부 역할명/프로토콜/요청ID 같은 운영 디테일은 숨긴다\n"+
		"- 서로 모순되는 내용은 보수적으로 정리하고, 불확실하면 불확실하다고 명시한다\n"+
		"- 실행 근거 없는 수치/사실은 단정하지 않는다\n"+
		"- 사용자에게는 자연스러운 한 목소리로 답한다\n\n"+
		"사용자 요청:\n%s\n\n"+
		"서브에이전트 답변:\n%s\n", strings.TrimSpace(prompt), joined)

	return m.gw.llm.Exec(m.ctx, synthPrompt, m.gw.llmTimeout())
}

// llmTimeout bounds one ad-hoc LLM call to the orch command timeout,
// clamped to a sane band.
func (g *Gateway) llmTimeout() time.Duration {
	sec := g.cfg.Orch.CommandTimeoutSec
	if sec < 90 {
		sec = 90
	}
	if sec > 900 {
		sec = 900
	}
	return time.Duration(sec) * time.Second
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
