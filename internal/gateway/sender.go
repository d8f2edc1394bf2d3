package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/telegram"
)

// send delivers one reply, chunked to the message size limit, retrying
// transient failures with exponential backoff. Every send is recorded as
// a send_message event so the chat transcript can be reconstructed from
// the log.
func (m *msg) send(body, sendCtx string, withMenu bool) bool {
	gw := m.gw
	retries := gw.cfg.Telegram.SendRetries
	baseDelay := time.Duration(gw.cfg.Telegram.SendRetryDelayMS) * time.Millisecond

	attempt := 0
	ok := false
	for {
		attempt++
		ok = m.trySend(body, sendCtx, withMenu)
		if ok || attempt > retries {
			break
		}
		delay := baseDelay * (1 << (attempt - 1))
		if delay > 8*time.Second {
			delay = 8 * time.Second
		}
		gw.sleep(delay)
	}

	status := "sent"
	errCode := ""
	if !ok {
		status = "failed"
		errCode = codeTelegram
		gw.obs.RecordSendFailure(m.ctx)
	}
	m.logEvent(events.Entry{
		Event:     "send_message",
		Status:    status,
		ErrorCode: errCode,
		Detail: fmt.Sprintf("context=%s with_menu=%s chars=%d attempts=%d",
			sendCtx, yesNo(withMenu), runeLen(body), attempt),
	})
	return ok
}

// trySend is one delivery attempt across all chunks. The quick-reply
// keyboard rides only on the first chunk. Dry-run prints to stdout in the
// same shape a live send would take.
func (m *msg) trySend(body, sendCtx string, withMenu bool) bool {
	gw := m.gw

	var markup *telegram.ReplyKeyboard
	if withMenu {
		markup = telegram.QuickReplyKeyboard()
	}

	chunks := telegram.SplitText(body, gw.cfg.Telegram.MaxTextChars)
	for i, chunk := range chunks {
		if gw.dryRun {
			fmt.Fprintf(gw.stdout, "[DRY-SEND chat_id=%s]\n%s\n\n", m.chatID, chunk)
			if i == 0 && markup != nil {
				if raw, err := json.Marshal(markup); err == nil {
					fmt.Fprintf(gw.stdout, "[DRY-MARKUP chat_id=%s] %s\n", m.chatID, raw)
				}
			}
			continue
		}

		var mk *telegram.ReplyKeyboard
		if i == 0 {
			mk = markup
		}
		if err := gw.platform.SendMessage(m.ctx, m.chatID, chunk, mk); err != nil {
			gw.logger.Error("sendMessage failed",
				"context", sendCtx, "chat_id", m.chatID, "error", err)
			return false
		}
	}
	return true
}
