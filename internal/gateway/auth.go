package gateway

import (
	"strings"

	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/parse"
)

// readonlyAllowed are the commands a readonly chat may run. Everything
// here observes; nothing dispatches, cancels, or mutates access.
var readonlyAllowed = map[string]struct{}{
	"start":          {},
	"help":           {},
	"orch-help":      {},
	"mode":           {},
	"whoami":         {},
	"acl":            {},
	"status":         {},
	"orch-status":    {},
	"request":        {},
	"orch-list":      {},
	"orch-monitor":   {},
	"orch-kpi":       {},
	"orch-check":     {},
	"orch-task":      {},
	"orch-pick":      {},
	"cancel-pending": {},
}

// bootstrapAllowedCommand reports whether a message may pass the access
// gate while the gateway is locked and unclaimed (deny-by-default with
// every ACL set empty).
func bootstrapAllowedCommand(text string) bool {
	cmd, _ := parse.SplitCommand(text)
	switch cmd {
	case "start", "help", "id", "whoami", "lockme", "onlyme":
		return true
	}
	return false
}

// enforceCommandAuth applies the role gates for one resolved command.
// Returns true when the command was denied; the denial reply and event
// are already out.
func (m *msg) enforceCommandAuth(cmdKey string) bool {
	gw := m.gw

	if m.role == "unknown" {
		switch cmdKey {
		case "start", "help", "whoami", "lockme":
		default:
			m.send("permission denied: unauthorized chat.", "auth-deny", true)
			m.logEvent(events.Entry{
				Event: "auth_denied", Stage: "intake", Status: "rejected",
				ErrorCode: codeAuth, Detail: "role=unknown cmd=" + cmdKey,
			})
			gw.obs.RecordGateDenial(m.ctx, "auth")
			return true
		}
	} else if cmdKey == "lockme" {
		// once somebody holds the allowlist, claiming is admin-only
		if !gw.lists.Allow.Empty() && m.role != "admin" && m.role != "owner" {
			m.send("permission denied: /lockme is admin-only after initial claim.", "auth-deny", true)
			m.logEvent(events.Entry{
				Event: "auth_denied", Stage: "intake", Status: "rejected",
				ErrorCode: codeAuth, Detail: "role=" + m.role + " cmd=lockme",
			})
			gw.obs.RecordGateDenial(m.ctx, "auth")
			return true
		}
	}

	ownerGated := cmdKey == "lockme" || cmdKey == "grant" || cmdKey == "revoke"
	if ownerGated && strings.TrimSpace(gw.lists.Owner) != "" {
		if !gw.lists.IsOwner(m.chatID) {
			m.send("permission denied: /"+cmdKey+" is owner-only.\nowner_chat_id: "+gw.lists.Owner,
				"auth-deny", true)
			m.logEvent(events.Entry{
				Event: "auth_denied", Stage: "intake", Status: "rejected",
				ErrorCode: codeAuth, Detail: "owner_only cmd=" + cmdKey,
			})
			gw.obs.RecordGateDenial(m.ctx, "auth")
			return true
		}
	} else if m.role == "readonly" {
		if _, ok := readonlyAllowed[cmdKey]; !ok {
			m.send("permission denied: readonly chat.\n"+
				"allowed: /status /check /task /monitor /pick /kpi /help /whoami /mode /acl",
				"auth-deny", true)
			m.logEvent(events.Entry{
				Event: "auth_denied", Stage: "intake", Status: "rejected",
				ErrorCode: codeAuth, Detail: "role=readonly cmd=" + cmdKey,
			})
			gw.obs.RecordGateDenial(m.ctx, "auth")
			return true
		}
	}

	return false
}
