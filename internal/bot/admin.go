package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	logx "github.com/wapuda/autorename/internal/logs"
	"github.com/wapuda/autorename/internal/pipeline"
)

func parseUserID(args string) (int64, error) {
	s := strings.TrimSpace(args)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

func (h *Handler) ban(ctx context.Context, m *tgbotapi.Message, args string) string {
	if strings.TrimSpace(args) == "" {
		return "Usage: /ban <user_id>"
	}
	uid, err := parseUserID(args)
	if err != nil {
		return "❌ " + err.Error()
	}
	if h.cfg.IsAdmin(uid) {
		return "❌ Cannot ban an admin."
	}
	lg := logx.FromCtx(ctx)
	added, err := h.bans.Ban(ctx, uid)
	if err != nil {
		lg.Error().Err(err).Int64("target", uid).Msg("ban failed")
		return "❌ Ban failed: " + err.Error()
	}
	if !added {
		return fmt.Sprintf("User %d is already banned.", uid)
	}
	lg.Info().Int64("target", uid).Int64("by", m.From.ID).Msg("user banned")
	return fmt.Sprintf("🚫 User %d banned. They can no longer use the bot.", uid)
}

func (h *Handler) unban(ctx context.Context, m *tgbotapi.Message, args string) string {
	if strings.TrimSpace(args) == "" {
		return "Usage: /unban <user_id>"
	}
	uid, err := parseUserID(args)
	if err != nil {
		return "❌ " + err.Error()
	}
	lg := logx.FromCtx(ctx)
	removed, err := h.bans.Unban(ctx, uid)
	if err != nil {
		lg.Error().Err(err).Int64("target", uid).Msg("unban failed")
		return "❌ Unban failed: " + err.Error()
	}
	if !removed {
		return fmt.Sprintf("User %d is not banned.", uid)
	}
	lg.Info().Int64("target", uid).Int64("by", m.From.ID).Msg("user unbanned")
	return fmt.Sprintf("✅ User %d unbanned.", uid)
}

func (h *Handler) banList(ctx context.Context, _ *tgbotapi.Message, _ string) string {
	ids, err := h.bans.Banned(ctx)
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Error().Err(err).Msg("list bans failed")
		return "❌ Ban list unavailable."
	}
	if len(ids) == 0 {
		return "No banned users."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🚫 Banned users (%d):\n", len(ids))
	for i, id := range ids {
		fmt.Fprintf(&b, "%d. %d\n", i+1, id)
	}
	b.WriteString("\n/unban <user_id> lifts a ban.")
	return b.String()
}

// broadcast sends args to every user the stats store knows about. Delivery
// runs in the background and the admin gets a summary when it ends.
func (h *Handler) broadcast(ctx context.Context, m *tgbotapi.Message, args string) string {
	text := strings.TrimSpace(args)
	if text == "" {
		return "Usage: /broadcast <message>"
	}
	users, err := h.stats.Users(ctx)
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Error().Err(err).Msg("broadcast user list failed")
		return "❌ Could not load the user list."
	}
	if len(users) == 0 {
		return "No users to broadcast to."
	}
	h.async(ctx, broadcastTimeout, func(ctx context.Context) {
		sent, failed := h.deliver(ctx, users, text)
		h.reply(m, fmt.Sprintf("📢 Broadcast finished\nSent: %s\nFailed: %s",
			humanize.Comma(int64(sent)), humanize.Comma(int64(failed))))
	})
	return fmt.Sprintf("📢 Broadcasting to %s users…", humanize.Comma(int64(len(users))))
}

// deliver sends text to each user in turn, pausing between messages. A
// rate-limited send waits out Retry-After and is tried once more.
func (h *Handler) deliver(ctx context.Context, users []int64, text string) (sent, failed int) {
	lg := logx.FromCtx(ctx)
	for i, uid := range users {
		if ctx.Err() != nil {
			return sent, failed + len(users) - i
		}
		_, err := h.msg.Reply(uid, 0, text)
		var rl pipeline.RateLimited
		if errors.As(err, &rl) && wait(ctx, rl.RetryAfterDuration()) == nil {
			_, err = h.msg.Reply(uid, 0, text)
		}
		if err != nil {
			failed++
			lg.Debug().Err(err).Int64("target", uid).Msg("broadcast send failed")
		} else {
			sent++
		}
		_ = wait(ctx, h.pace)
	}
	return sent, failed
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
