package gateway

import (
	"strconv"
	"strings"

	"github.com/aoe-sh/gateway/internal/parse"
	"github.com/aoe-sh/gateway/internal/state"
)

// Resolved is the routing decision for one incoming message: the
// canonical command key plus whatever typed arguments the grammar
// carried.
type Resolved struct {
	Cmd       string
	Rest      string
	FromSlash bool

	RunPrompt     string
	RolesOverride *string
	Priority      string
	TimeoutSec    *int
	NoWait        *bool
	ForceMode     string
	AutoSource    string

	RoleName     string
	RoleProvider string
	RoleLaunch   string
	RoleSpawn    bool

	OrchTarget   string
	AddName      string
	AddPath      string
	AddOverview  string
	AddInit      bool
	AddSpawn     bool
	AddSetActive bool

	RequestID   string
	Limit       int
	Hours       int
	ModeSetting string
	Scope       string
	ChatRef     string

	// filled by confirm redemption and retry/replan transitions before
	// the run pipeline re-enters
	ControlMode     string
	SourceRequestID string
	SourceTask      *state.TaskRecord
}

// Natural-language keywords that stay available while slash-only mode is
// on. Everything here is read-or-arm only; nothing dispatches work.
var safeNaturalCmds = map[string]struct{}{
	"help":           {},
	"confirm-run":    {},
	"mode":           {},
	"acl":            {},
	"status":         {},
	"orch-kpi":       {},
	"orch-monitor":   {},
	"orch-check":     {},
	"orch-task":      {},
	"orch-pick":      {},
	"orch-cancel":    {},
	"orch-retry":     {},
	"orch-replan":    {},
	"cancel-pending": {},
}

// resolve maps raw message text to a Resolved command. Order: slash
// synonyms, quick grammar (loose mode only), CLI grammar (always, so the
// full grammar stays reachable under slash-only), pending one-shot mode,
// sticky default mode, then the safe natural subset for slash-only.
func (m *msg) resolve(text string) (*Resolved, error) {
	out := &Resolved{RoleSpawn: true, AddInit: true, AddSpawn: true, AddSetActive: true}

	cmd, rest := parse.SplitCommand(text)
	out.Cmd = cmd
	out.Rest = rest
	out.FromSlash = cmd != ""

	if out.Cmd != "" {
		if err := resolveSlash(out); err != nil {
			return nil, err
		}
	}

	slashOnly := m.gw.cfg.Run.SlashOnly

	if out.Cmd == "" && !slashOnly {
		if quick := parse.Quick(text); quick != nil {
			applyParsed(out, quick)
		}
	}

	if out.Cmd == "" {
		cli, err := parse.CLI(text)
		if err != nil {
			return nil, err
		}
		if cli != nil {
			applyParsed(out, cli)
		}
	}

	if out.Cmd == "" {
		prompt := strings.TrimSpace(text)
		if pending := m.gw.manager.PendingMode(m.chatID); prompt != "" && (pending == "dispatch" || pending == "direct") {
			out.Cmd = "run"
			out.RunPrompt = prompt
			out.ForceMode = pending
			out.AutoSource = "pending"
			if m.gw.manager.ClearPendingMode(m.chatID, m.gw.nowISO()) {
				m.gw.saveManagerState()
			}
		} else if prompt != "" {
			if def := m.gw.manager.DefaultMode(m.chatID); def == "dispatch" || def == "direct" {
				out.Cmd = "run"
				out.RunPrompt = prompt
				out.ForceMode = def
				out.AutoSource = "default"
			}
		}
	}

	if out.Cmd == "" && slashOnly {
		if quick := parse.Quick(text); quick != nil {
			if _, ok := safeNaturalCmds[quick.Cmd]; ok {
				applyParsed(out, quick)
			}
		}
	}

	return out, nil
}

// resolveSlash rewrites slash synonyms onto canonical command keys and
// pulls typed arguments out of the rest text.
func resolveSlash(out *Resolved) error {
	rest := strings.TrimSpace(out.Rest)

	switch out.Cmd {
	case "menu":
		out.Cmd = "help"

	case "ok", "confirm":
		if rest != "" {
			return &parse.UsageError{Msg: "usage: /ok"}
		}
		out.Cmd = "confirm-run"

	case "cancel":
		if rest != "" {
			out.Cmd = "orch-cancel"
			out.RequestID = rest
		} else {
			out.Cmd = "cancel-pending"
		}

	case "id", "whoami":
		out.Cmd = "whoami"

	case "mode", "inbox", "on", "off":
		src := out.Cmd
		out.Cmd = "mode"
		modeArg := rest
		switch {
		case (src == "inbox" || src == "on") && rest == "":
			modeArg = "dispatch"
		case src == "off" && rest == "":
			modeArg = "off"
		}
		out.ModeSetting = parse.NormalizeModeToken(modeArg)
		if out.ModeSetting == "" {
			return &parse.UsageError{Msg: "usage: /mode [on|off|direct|dispatch]"}
		}

	case "lockme", "onlyme":
		out.Cmd = "lockme"

	case "acl", "auth", "permission", "permissions":
		out.Cmd = "acl"

	case "grant":
		scope, chatRef, err := parse.ParseGrantArgs(rest, "usage: /grant <allow|admin|readonly> <chat_id|alias>")
		if err != nil {
			return err
		}
		out.Scope = scope
		out.ChatRef = chatRef

	case "revoke":
		scope, chatRef, err := parse.ParseRevokeArgs(rest, "usage: /revoke <allow|admin|readonly|all> <chat_id|alias>")
		if err != nil {
			return err
		}
		out.Scope = scope
		out.ChatRef = chatRef

	case "retry":
		out.Cmd = "orch-retry"
		out.RequestID = rest

	case "replan":
		out.Cmd = "orch-replan"
		out.RequestID = rest

	case "monitor", "tasks", "board":
		out.Cmd = "orch-monitor"
		if rest != "" {
			token := strings.Fields(rest)[0]
			if n, err := strconv.Atoi(token); err == nil && allDigits(token) {
				out.Limit = clampInt(n, 1, 50)
			} else {
				out.OrchTarget = token
			}
		}

	case "check", "progress":
		out.Cmd = "orch-check"
		out.RequestID = rest

	case "kpi", "metrics":
		out.Cmd = "orch-kpi"
		if rest != "" {
			token := strings.Fields(rest)[0]
			if n, err := strconv.Atoi(token); err == nil && allDigits(token) {
				out.Hours = clampInt(n, 1, 168)
			} else {
				out.OrchTarget = token
			}
		}

	case "task", "lifecycle":
		out.Cmd = "orch-task"
		out.RequestID = rest

	case "pick", "select":
		out.Cmd = "orch-pick"
		out.RequestID = rest

	case "dispatch", "team":
		if rest != "" {
			out.Cmd = "run"
			out.ForceMode = "dispatch"
			out.RunPrompt = rest
		} else {
			out.Cmd = "quick-dispatch"
		}

	case "direct", "ask", "question":
		if rest != "" {
			out.Cmd = "run"
			out.ForceMode = "direct"
			out.RunPrompt = rest
		} else {
			out.Cmd = "quick-direct"
		}
	}

	return nil
}

// applyParsed copies a quick/CLI parse onto the Resolved command.
func applyParsed(out *Resolved, pc *parse.Command) {
	out.Cmd = pc.Cmd

	switch pc.Cmd {
	case "request":
		out.Rest = pc.RequestID

	case "run", "orch-run":
		out.RunPrompt = pc.Prompt
		if pc.Roles != "" {
			roles := pc.Roles
			out.RolesOverride = &roles
		}
		out.Priority = pc.Priority
		if pc.TimeoutSec > 0 {
			t := pc.TimeoutSec
			out.TimeoutSec = &t
		}
		noWait := pc.NoWait
		out.NoWait = &noWait
		out.ForceMode = pc.ForceMode
		out.OrchTarget = pc.Orch

	case "add-role":
		out.RoleName = pc.Role
		out.RoleProvider = pc.Provider
		out.RoleLaunch = pc.Launch
		out.RoleSpawn = pc.Spawn

	case "orch-use", "orch-status":
		out.OrchTarget = pc.Orch

	case "orch-add":
		out.AddName = pc.Orch
		out.AddPath = pc.Path
		out.AddOverview = pc.Overview
		out.AddInit = pc.Init
		out.AddSpawn = pc.Spawn
		out.AddSetActive = pc.SetActive

	case "orch-check", "orch-task", "orch-pick", "orch-cancel", "orch-retry", "orch-replan":
		out.OrchTarget = pc.Orch
		out.RequestID = pc.RequestID

	case "orch-monitor":
		out.OrchTarget = pc.Orch
		out.Limit = pc.Limit

	case "orch-kpi":
		out.OrchTarget = pc.Orch
		out.Hours = pc.Hours

	case "mode":
		out.ModeSetting = pc.Mode

	case "grant", "revoke":
		out.Scope = pc.Scope
		out.ChatRef = pc.ChatRef
	}
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

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
