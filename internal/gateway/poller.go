package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aoe-sh/gateway/internal/events"
	"github.com/aoe-sh/gateway/internal/state"
)

// Loop long-polls Telegram and feeds text messages through the pipeline
// until the context ends. once=true drains a single getUpdates batch.
// The offset cursor moves past every update in the batch and is
// persisted after each non-empty batch, so a crash never replays old
// updates.
func (g *Gateway) Loop(ctx context.Context, once bool) error {
	cursor := state.LoadOffset(g.cfg.Paths.StateFile)
	offset := cursor.Offset
	processed := cursor.Processed

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := g.platform.GetUpdates(ctx, offset, g.cfg.Telegram.PollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.Error("getUpdates failed", "error", err)
			g.sleep(2 * time.Second)
			continue
		}

		for _, upd := range updates {
			if next := upd.UpdateID + 1; next > offset {
				offset = next
			}
			if upd.Message == nil {
				continue
			}

			text := upd.Message.Text
			if upd.Message.Chat.ID == 0 || text == "" {
				continue
			}
			chatID := strconv.FormatInt(upd.Message.Chat.ID, 10)

			g.obs.RecordUpdate(ctx)
			g.logger.Debug("update received",
				"update_id", upd.UpdateID, "chat_id", chatID, "text", preview(text, 120))

			allowed := g.lists.Allowed(chatID)
			aclEmpty := g.lists.Empty()
			if !allowed && g.lists.DenyByDefault && aclEmpty && bootstrapAllowedCommand(text) {
				allowed = true
			}
			if !allowed {
				g.rejectUnauthorized(ctx, upd.UpdateID, chatID, text, aclEmpty)
				continue
			}

			g.HandleMessage(ctx, chatID, text, fmt.Sprintf("upd-%d", upd.UpdateID))
			processed++
		}

		if len(updates) > 0 {
			if err := state.SaveOffset(g.cfg.Paths.StateFile, offset, processed); err != nil {
				g.logger.Warn("offset state save failed", "path", g.cfg.Paths.StateFile, "error", err)
			}
		}
		if once {
			return nil
		}
	}
}

// rejectUnauthorized tells an unknown chat it is not allowed, once per
// process run, and records the attempt against the default team dir.
func (g *Gateway) rejectUnauthorized(ctx context.Context, updateID int64, chatID, text string, aclEmpty bool) {
	if _, seen := g.notified[chatID]; seen {
		return
	}
	g.notified[chatID] = struct{}{}

	notice := "not allowed."
	if g.lists.DenyByDefault && aclEmpty {
		notice = "not allowed. gateway is locked. use /lockme to claim this bot."
	}
	m := &msg{gw: g, ctx: ctx, chatID: chatID, started: g.clock.Now()}
	m.trySend(notice, "unauthorized", false)

	g.events.SetDir(g.cfg.Paths.TeamDir)
	g.events.Log(events.Entry{
		Event:     "unauthorized_message",
		TraceID:   fmt.Sprintf("upd-%d", updateID),
		Stage:     "intake",
		Actor:     "telegram:" + chatID,
		Status:    "rejected",
		ErrorCode: codeAuth,
		Detail:    preview(text, 200),
	})
}

// Simulate pushes one synthetic message through the pipeline with all
// sends forced to dry-run previews. Used by --simulate for offline
// smoke checks.
func (g *Gateway) Simulate(ctx context.Context, chatID, text string) {
	prev := g.dryRun
	g.dryRun = true
	defer func() { g.dryRun = prev }()

	g.HandleMessage(ctx, chatID, text, fmt.Sprintf("sim-%d", g.clock.Now().UnixMilli()))
}
