// Package bot routes Telegram updates: media messages go to the work queue,
// photos become thumbnails, commands edit chat settings or report state.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/autorename/internal/config"
	"github.com/wapuda/autorename/internal/jobs"
	logx "github.com/wapuda/autorename/internal/logs"
	"github.com/wapuda/autorename/internal/pipeline"
	"github.com/wapuda/autorename/internal/settings"
	"github.com/wapuda/autorename/internal/stats"
	"github.com/wapuda/autorename/internal/telegram"
)

// Core is the queue API exposed to command handlers.
type Core interface {
	Enqueue(it jobs.WorkItem) int
	Depth() int
	ClearAll() int
	ClearForUser(uid int64) int
	CountForUser(uid int64) int
	Concurrency() int
}

// Messenger is the chat client surface the handlers use.
type Messenger interface {
	Reply(chatID int64, replyTo int, text string) (tgbotapi.Message, error)
	SendPhoto(ctx context.Context, chatID int64, replyTo int, photo tgbotapi.RequestFileData, caption string) error
	Download(ctx context.Context, fileID, dst string, size int64, progress pipeline.ProgressFunc) error
	CheckDestination(ctx context.Context, chatID int64) error
}

// AdminDump holds the global dump destination.
type AdminDump interface {
	SetAdminDump(chatID int64)
	AdminDump() int64
}

type command struct {
	admin bool
	run   func(ctx context.Context, m *tgbotapi.Message, args string) string
}

const (
	thumbTimeout     = 2 * time.Minute
	broadcastTimeout = time.Hour
	broadcastPace    = 50 * time.Millisecond
)

const bannedText = "🚫 You are banned from using this bot.\nContact an administrator if you think this is a mistake."

type Handler struct {
	cfg      config.Config
	msg      Messenger
	core     Core
	dump     AdminDump
	settings settings.Store
	bans     settings.BanList
	stats    stats.Store
	now      func() time.Time
	pace     time.Duration
	commands map[string]command

	wg sync.WaitGroup
}

type Deps struct {
	Messenger Messenger
	Core      Core
	AdminDump AdminDump
	Settings  settings.Store
	Bans      settings.BanList
	Stats     stats.Store
}

func New(cfg config.Config, d Deps) *Handler {
	h := &Handler{
		cfg:      cfg,
		msg:      d.Messenger,
		core:     d.Core,
		dump:     d.AdminDump,
		settings: d.Settings,
		bans:     d.Bans,
		stats:    d.Stats,
		now:      time.Now,
		pace:     broadcastPace,
	}
	h.commands = h.routes()
	return h
}

// HandleUpdate processes one update. It recovers from handler panics so a
// bad message cannot stop the update loop.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	m := upd.Message
	if m == nil || m.Chat == nil {
		return
	}
	var uid int64
	if m.From != nil {
		uid = m.From.ID
	}
	lg := logx.FromCtx(ctx).With().Int64("chat_id", m.Chat.ID).Int64("uid", uid).Logger()
	defer func() {
		if p := recover(); p != nil {
			lg.Error().Str("panic", fmt.Sprint(p)).Bytes("stack", debug.Stack()).Msg("update handler panicked")
		}
	}()

	if h.banned(ctx, m) {
		if m.IsCommand() || len(m.Photo) > 0 || isMedia(m) {
			h.reply(m, bannedText)
		}
		return
	}

	switch {
	case m.IsCommand():
		lg.Info().Str("cmd", m.Command()).Msg("command received")
		h.reply(m, h.runCommand(ctx, m))
	case len(m.Photo) > 0:
		h.async(ctx, thumbTimeout, func(ctx context.Context) {
			h.reply(m, h.saveThumb(ctx, m))
		})
	default:
		it, ok := telegram.WorkItem(m)
		if !ok {
			return
		}
		pos := h.core.Enqueue(it)
		lg.Info().Str("item", it.ID).Str("kind", string(it.Kind)).Int("position", pos).Msg("media queued")
		h.reply(m, fmt.Sprintf("📥 Added to queue. Position: #%d", pos))
	}
}

func isMedia(m *tgbotapi.Message) bool {
	_, ok := telegram.WorkItem(m)
	return ok
}

// banned reports whether the sender is on the ban list. Admins are never
// refused and a failing lookup lets the message through.
func (h *Handler) banned(ctx context.Context, m *tgbotapi.Message) bool {
	if h.bans == nil || m.From == nil || h.isAdmin(m) {
		return false
	}
	banned, err := h.bans.IsBanned(ctx, m.From.ID)
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Warn().Err(err).Int64("uid", m.From.ID).Msg("ban lookup failed")
		return false
	}
	return banned
}

// async runs fn off the update loop under its own deadline so slow
// transfers do not stall intake.
func (h *Handler) async(ctx context.Context, timeout time.Duration, fn func(context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				lg := logx.FromCtx(ctx)
				lg.Error().Str("panic", fmt.Sprint(p)).Bytes("stack", debug.Stack()).Msg("background handler panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until background handlers have finished.
func (h *Handler) Wait() { h.wg.Wait() }

func (h *Handler) runCommand(ctx context.Context, m *tgbotapi.Message) string {
	cmd, ok := h.commands[m.Command()]
	if !ok {
		return "Unknown command. Send /help for the list."
	}
	if cmd.admin && !h.isAdmin(m) {
		return "⛔ This command is for admins only."
	}
	return cmd.run(ctx, m, m.CommandArguments())
}

func (h *Handler) isAdmin(m *tgbotapi.Message) bool {
	return m.From != nil && h.cfg.IsAdmin(m.From.ID)
}

func (h *Handler) reply(m *tgbotapi.Message, text string) {
	if text == "" {
		return
	}
	if _, err := h.msg.Reply(m.Chat.ID, m.MessageID, text); err != nil {
		lg := logx.FromCtx(context.Background())
		lg.Warn().Err(err).Int64("chat_id", m.Chat.ID).Msg("reply failed")
	}
}

func (h *Handler) chatSettings(ctx context.Context, chatID int64) settings.ChatSettings {
	cs, err := h.settings.Get(ctx, chatID)
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Warn().Err(err).Msg("settings read failed")
		return settings.Default()
	}
	return cs
}

// update applies fn and turns store errors into a reply.
func (h *Handler) update(ctx context.Context, chatID int64, fn func(*settings.ChatSettings) error, ok string) string {
	if _, err := h.settings.Update(ctx, chatID, fn); err != nil {
		return "❌ " + err.Error()
	}
	return ok
}
