package gateway

import (
	"strings"

	"github.com/aoe-sh/gateway/internal/acl"
	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/parse"
)

// syncACL persists the working access lists into the team env file.
func (g *Gateway) syncACL() error {
	return g.lists.SyncEnvFile(g.cfg.ACLEnvFile())
}

// handleManagement serves the session, identity, and access commands.
// Returns true when the command was one of them and the reply is out.
func (m *msg) handleManagement(r *Resolved) (bool, error) {
	gw := m.gw

	switch r.Cmd {
	case "mode":
		currentDefault := gw.manager.DefaultMode(m.chatID)
		currentPending := gw.manager.PendingMode(m.chatID)
		requested := strings.ToLower(strings.TrimSpace(r.ModeSetting))
		if requested == "" {
			requested = "status"
		}
		switch requested {
		case "status", "dispatch", "direct", "off":
		default:
			return true, &parse.UsageError{Msg: "usage: /mode [on|off|direct|dispatch]"}
		}

		if requested == "status" {
			m.send("routing mode\n" +
				"- default_mode: "+modeOrOff(currentDefault)+"\n" +
				"- one_shot_pending: "+modeOrNone(currentPending)+"\n" +
				"- set: /mode on | /mode direct | /mode off\n" +
				"- shortcut: /on | /off\n" +
				"- tip: /mode on 후에는 평문을 바로 작업으로 보낼 수 있습니다.",
				"mode-status", true)
			return true, nil
		}

		if m.role == "readonly" {
			m.send("permission denied: readonly chat cannot change routing mode.\n" +
				"read-only: /mode (status only)",
				"mode-deny", true)
			return true, nil
		}

		if requested == "off" {
			now := gw.nowISO()
			existedDefault := gw.manager.ClearDefaultMode(m.chatID, now)
			clearedPending := gw.manager.ClearPendingMode(m.chatID, now)
			clearedConfirm := gw.manager.ClearConfirm(m.chatID, now)
			gw.saveManagerState()
			m.send("routing mode updated\n" +
				"- default_mode: off\n" +
				"- changed: "+yesNo(existedDefault)+"\n" +
				"- one_shot_pending_cleared: "+yesNo(clearedPending)+"\n" +
				"- confirm_request_cleared: "+yesNo(clearedConfirm),
				"mode-off", true)
			return true, nil
		}

		gw.manager.SetDefaultMode(m.chatID, requested, gw.nowISO())
		gw.saveManagerState()
		m.send("routing mode updated\n" +
			"- default_mode: "+requested+"\n" +
			"- one_shot_pending: "+modeOrNone(currentPending)+"\n" +
			"- input_behavior: plain text -> "+requested+"\n" +
			"- disable: /mode off (or /off)",
			"mode-set", true)
		return true, nil

	case "quick-dispatch":
		gw.manager.SetPendingMode(m.chatID, "dispatch", gw.nowISO())
		gw.saveManagerState()
		m.send("dispatch 모드 활성화: 다음 메시지 1개를 팀 작업으로 배정합니다.\n" +
			"바로 실행: /dispatch <요청>\n" +
			"취소: /cancel",
			"quick-dispatch", true)
		return true, nil

	case "quick-direct":
		gw.manager.SetPendingMode(m.chatID, "direct", gw.nowISO())
		gw.saveManagerState()
		m.send("direct 모드 활성화: 다음 메시지 1개를 오케스트레이터가 직접 답변합니다.\n" +
			"바로 실행: /direct <질문>\n" +
			"취소: /cancel",
			"quick-direct", true)
		return true, nil

	case "cancel-pending":
		now := gw.nowISO()
		existed := gw.manager.ClearPendingMode(m.chatID, now)
		clearedConfirm := gw.manager.ClearConfirm(m.chatID, now)
		gw.saveManagerState()
		text := "해제할 대기 모드나 확인 요청이 없습니다."
		if existed || clearedConfirm {
			text = "대기 모드/확인 요청을 해제했습니다."
		}
		m.send(text, "cancel-pending", true)
		return true, nil

	case "whoami":
		allowRows := acl.FormatCSVSet(gw.lists.Allow)
		if allowRows == "" {
			if gw.lists.DenyByDefault {
				allowRows = "(empty: locked)"
			} else {
				allowRows = "(empty: all chats allowed)"
			}
		}
		owner := strings.TrimSpace(gw.lists.Owner)
		if owner == "" {
			owner = "(unset)"
		}
		m.send("telegram identity\n" +
			"- chat_id: "+m.chatID+"\n" +
			"- alias: "+orDash(m.alias)+"\n" +
			"- role: "+gw.lists.Role(m.chatID)+"\n" +
			"- owner_chat_id: "+owner+"\n" +
			"- is_owner: "+yesNo(gw.lists.IsOwner(m.chatID))+"\n" +
			"- allowlist: "+allowRows+"\n" +
			"- deny_by_default: "+yesNo(gw.lists.DenyByDefault)+"\n" +
			"- default_mode: "+modeOrOff(gw.manager.DefaultMode(m.chatID))+"\n" +
			"- one_shot_pending: "+modeOrNone(gw.manager.PendingMode(m.chatID))+"\n" +
			"- lock: /lockme\n" +
			"- mode: /mode\n" +
			"- acl: /acl",
			"whoami", true)
		return true, nil

	case "acl":
		ids := gw.lists.Allow.Sorted()
		ids = append(ids, gw.lists.Admin.Sorted()...)
		ids = append(ids, gw.lists.Readonly.Sorted()...)
		ids = append(ids, m.chatID)
		table := gw.aliases.EnsureAll(ids)

		myAlias := ""
		for a, cid := range table {
			if cid == m.chatID {
				myAlias = a
				break
			}
		}
		if myAlias == "" {
			myAlias = m.alias
		}
		owner := strings.TrimSpace(gw.lists.Owner)
		if owner == "" {
			owner = "(unset)"
		}
		roleOf := func(cid string) string {
			return acl.RoleFromSets(cid, gw.lists.Allow, gw.lists.Admin, gw.lists.Readonly, gw.lists.DenyByDefault)
		}
		m.send("access control list\n" +
			"- deny_by_default: "+yesNo(gw.lists.DenyByDefault)+"\n" +
			"- my_chat_id: "+m.chatID+"\n" +
			"- my_alias: "+orDash(myAlias)+"\n" +
			"- my_role: "+gw.lists.Role(m.chatID)+"\n" +
			"- owner_chat_id: "+owner+"\n" +
			"- allow: "+orEmpty(acl.FormatCSVSet(gw.lists.Allow))+"\n" +
			"- admin: "+orEmpty(acl.FormatCSVSet(gw.lists.Admin))+"\n" +
			"- readonly: "+orEmpty(acl.FormatCSVSet(gw.lists.Readonly))+"\n" +
			"- aliases: "+gw.aliases.Summary(roleOf, 30)+"\n" +
			"commands:\n" +
			"- /grant <allow|admin|readonly> <chat_id|alias>\n" +
			"- /revoke <allow|admin|readonly|all> <chat_id|alias>",
			"acl", true)
		return true, nil

	case "grant":
		scope := strings.ToLower(strings.TrimSpace(r.Scope))
		ref := strings.TrimSpace(r.ChatRef)
		if scope == "" || ref == "" {
			return true, &parse.UsageError{Msg: "usage: aoe grant <allow|admin|readonly> <chat_id|alias>"}
		}
		switch scope {
		case "allow", "admin", "readonly":
		default:
			return true, &parse.UsageError{Msg: "usage: aoe grant <allow|admin|readonly> <chat_id|alias>"}
		}

		targetID, targetAlias, err := gw.aliases.Resolve(ref)
		if err != nil {
			return true, err
		}
		gw.lists.Grant(scope, targetID)
		if targetAlias == "" {
			targetAlias = gw.aliases.Ensure(targetID)
		}
		if !gw.dryRun {
			if err := gw.syncACL(); err != nil {
				return true, err
			}
		}

		roleNow := acl.RoleFromSets(targetID, gw.lists.Allow, gw.lists.Admin, gw.lists.Readonly, gw.lists.DenyByDefault)
		m.logEvent(events.Entry{
			Event: "acl_update", Stage: "intake", Status: "completed",
			Detail: "action=grant scope=" + scope + " target=" + targetID +
				" alias=" + orDash(targetAlias) + " by=" + m.chatID,
		})
		m.send("acl updated\n" +
			"- action: grant\n" +
			"- scope: "+scope+"\n" +
			"- target: "+aliasLabel(targetAlias, targetID)+"\n" +
			"- role_now: "+roleNow,
			"grant", true)
		return true, nil

	case "revoke":
		scope := strings.ToLower(strings.TrimSpace(r.Scope))
		ref := strings.TrimSpace(r.ChatRef)
		if scope == "" || ref == "" {
			return true, &parse.UsageError{Msg: "usage: aoe revoke <allow|admin|readonly|all> <chat_id|alias>"}
		}
		switch scope {
		case "allow", "admin", "readonly", "all":
		default:
			return true, &parse.UsageError{Msg: "usage: aoe revoke <allow|admin|readonly|all> <chat_id|alias>"}
		}

		targetID, targetAlias, err := gw.aliases.Resolve(ref)
		if err != nil {
			return true, err
		}

		next := gw.lists.Clone()
		next.Revoke(scope, targetID)

		if gw.lists.DenyByDefault && targetID == m.chatID && !gw.lists.IsOwner(m.chatID) {
			after := acl.RoleFromSets(m.chatID, next.Allow, next.Admin, next.Readonly, true)
			if after != "admin" {
				m.send("blocked: self-revoke would remove admin access in deny-by-default mode.\n" +
					"next: /grant admin <other_chat_id|alias> 후 다시 시도하세요.",
					"revoke-guard", true)
				return true, nil
			}
		}

		gw.lists.Allow = next.Allow
		gw.lists.Admin = next.Admin
		gw.lists.Readonly = next.Readonly
		if !gw.dryRun {
			if err := gw.syncACL(); err != nil {
				return true, err
			}
		}

		roleNow := acl.RoleFromSets(targetID, gw.lists.Allow, gw.lists.Admin, gw.lists.Readonly, gw.lists.DenyByDefault)
		m.logEvent(events.Entry{
			Event: "acl_update", Stage: "intake", Status: "completed",
			Detail: "action=revoke scope=" + scope + " target=" + targetID +
				" alias=" + orDash(targetAlias) + " by=" + m.chatID,
		})
		m.send("acl updated\n" +
			"- action: revoke\n" +
			"- scope: "+scope+"\n" +
			"- target: "+aliasLabel(targetAlias, targetID)+"\n" +
			"- role_now: "+roleNow,
			"revoke", true)
		return true, nil

	case "lockme":
		prevAllow := csvOrDash(gw.lists.Allow)
		prevAdmin := csvOrDash(gw.lists.Admin)
		prevReadonly := csvOrDash(gw.lists.Readonly)
		prevOwner := orDash(strings.TrimSpace(gw.lists.Owner))

		gw.lists.LockTo(m.chatID)

		persistErr := ""
		if !gw.dryRun {
			if err := gw.syncACL(); err != nil {
				persistErr = err.Error()
			}
		}

		status := "completed"
		errCode := ""
		if persistErr != "" {
			status = "partial"
			errCode = codeInternal
		}
		m.logEvent(events.Entry{
			Event: "allowlist_update", Stage: "intake", Status: status, ErrorCode: errCode,
			Detail: "prev_allow=" + prevAllow + " prev_admin=" + prevAdmin +
				" prev_readonly=" + prevReadonly + " prev_owner=" + prevOwner +
				" next_allow=" + m.chatID + " next_owner=" + m.chatID,
		})

		text := "access locked to current chat.\n" +
			"- allowed_chat_id: " + m.chatID + "\n" +
			"- owner_chat_id: " + m.chatID + "\n" +
			"- cleared_admin_readonly: yes\n" +
			"- apply_now: yes\n" +
			"- persist_on_restart: " + yesNo(persistErr == "")
		if persistErr != "" {
			text += "\n- persist_error: " + events.Truncate(persistErr, 180)
		}
		m.send(text, "lockme", true)
		return true, nil

	case "start", "help", "orch-help":
		m.send(helpText, "help", true)
		return true, nil
	}

	return false, nil
}

func modeOrOff(mode string) string {
	if mode == "" {
		return "off"
	}
	return mode
}

func modeOrNone(mode string) string {
	if mode == "" {
		return "none"
	}
	return mode
}

func orEmpty(s string) string {
	if s == "" {
		return "(empty)"
	}
	return s
}

func csvOrDash(s acl.Set) string {
	if s.Empty() {
		return "-"
	}
	return acl.FormatCSVSet(s)
}

func aliasLabel(alias, chatID string) string {
	if alias != "" {
		return alias + " (" + chatID + ")"
	}
	return chatID
}
