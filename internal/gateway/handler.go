package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/parse"
)

// HandleMessage runs the full pipeline for one text message: resolve,
// authorize, route to a handler, answer. Every failure is answered
// in-chat and logged; nothing propagates to the poll loop.
func (g *Gateway) HandleMessage(ctx context.Context, chatID, text, traceID string) {
	text = parse.Sanitize(text)
	started := g.clock.Now()
	trace := strings.TrimSpace(traceID)
	if trace == "" {
		trace = fmt.Sprintf("chat-%s-%d", chatID, started.UnixMilli())
	}

	m := &msg{
		gw:      g,
		ctx:     ctx,
		chatID:  chatID,
		text:    text,
		traceID: trace,
		started: started,
	}

	// events follow the active project until a handler picks another one
	if _, entry, err := g.manager.Project(""); err == nil {
		g.events.SetDir(entry.TeamDir)
	} else {
		g.events.SetDir(g.cfg.Paths.TeamDir)
	}

	m.logEvent(events.Entry{
		Event: "incoming_message", Stage: "intake", Status: "received",
		Detail: events.Mask(preview(text, 200)),
	})

	if err := m.dispatch(); err != nil {
		code, userMsg, next := classifyError(err)
		m.send(formatErrorReply(code, userMsg, next, err.Error()), "handler error", true)
		m.logEvent(events.Entry{
			Event: "handler_error", Stage: "close", Status: "failed",
			ErrorCode: code, Detail: err.Error(),
		})
	}
}

// dispatch resolves the command, applies the intake gates, and walks the
// handler chain until one of them claims the message.
func (m *msg) dispatch() error {
	gw := m.gw

	r, err := m.resolve(m.text)
	if err != nil {
		return err
	}

	if r.Cmd == "" && gw.cfg.Run.SlashOnly {
		m.send("입력 형식: 슬래시 명령만 지원합니다.\n"+
			"예시: /dispatch <요청>, /direct <질문>, /mode on, /monitor, /check, /task, /pick, /help\n"+
			"참고: /dispatch 또는 /direct는 다음 메시지 1회 평문 허용, /mode는 기본 평문 라우팅 모드를 고정합니다.",
			"slash-only-hint", true)
		m.logEvent(events.Entry{
			Event: "input_rejected", Stage: "intake", Status: "rejected",
			ErrorCode: codeCommand, Detail: "slash_only",
		})
		return nil
	}

	cmdKey := r.Cmd
	if cmdKey == "" {
		cmdKey = "run-default"
	}
	m.logEvent(events.Entry{Event: "command_resolved", Stage: "intake", Status: "accepted", Detail: "cmd=" + cmdKey})

	m.role = gw.lists.Role(m.chatID)

	return gw.obs.ObserveCommand(m.ctx, cmdKey, m.chatID, func(ctx context.Context) error {
		m.ctx = ctx

		if m.enforceCommandAuth(cmdKey) {
			return nil
		}
		m.alias = gw.aliases.Ensure(m.chatID)

		if r.Cmd == "confirm-run" && !m.confirmRunTransition(r) {
			return nil
		}

		if handled, err := m.handleManagement(r); handled || err != nil {
			return err
		}
		if handled, err := m.handleOverview(r); handled || err != nil {
			return err
		}
		if handled, err := m.handleOrchTask(r); handled || err != nil {
			return err
		}
		if handled, err := m.handleAddRole(r); handled || err != nil {
			return err
		}
		if r.Cmd == "orch-retry" || r.Cmd == "orch-replan" {
			proceed, err := m.retryReplanTransition(r)
			if err != nil || !proceed {
				return err
			}
		}
		return m.handleRun(r)
	})
}
