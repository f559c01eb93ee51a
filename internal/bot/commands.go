package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	logx "github.com/wapuda/autorename/internal/logs"
	"github.com/wapuda/autorename/internal/naming"
	"github.com/wapuda/autorename/internal/pipeline"
	"github.com/wapuda/autorename/internal/settings"
	"github.com/wapuda/autorename/internal/stats"
	"github.com/wapuda/autorename/internal/telegram"
)

const helpText = `Send me a document, video or audio file and I will rename it.

Naming
/format <template> - file name template
/getformat - show it
/caption <template> - caption template
/getcp, /delcp - show or reset it
/mode filename|caption - where variables are read from
/extract - reply to a file to see its variables

Upload
/media_type video|document
send a photo - set thumbnail, /seepic shows it, /delpic removes it
/pic - reply to a file to get its embedded thumbnail

Metadata
/metadata on|off, /getmetadata
/settitle /setauthor /setartist /setaudio /setsubtitle /setvideo

Dump
/setdump <chat_id>, /deldump, /seedump

Queue
/queue, /clear, /leaderboard [daily|weekly|monthly|yearly]

Admin
/stats, /admindump, /ban, /unban, /bans, /broadcast`

const formatUsage = "Usage: /format <template>\n" +
	"Placeholders: {filename} {title} {season} {episode} {chapter} {quality}\n" +
	"Example: /format S{season} E{episode} - {title} [{quality}]"

const captionUsage = "Usage: /caption <template>\n" +
	"Placeholders: {file_name} {file_size} {duration} {original_name} {extension} {mime_type}"

func (h *Handler) routes() map[string]command {
	user := func(fn func(ctx context.Context, m *tgbotapi.Message, args string) string) command {
		return command{run: fn}
	}
	admin := func(fn func(ctx context.Context, m *tgbotapi.Message, args string) string) command {
		return command{admin: true, run: fn}
	}
	r := map[string]command{
		"start":       user(func(context.Context, *tgbotapi.Message, string) string { return "👋 " + helpText }),
		"help":        user(func(context.Context, *tgbotapi.Message, string) string { return helpText }),
		"format":      user(h.setFormat),
		"getformat":   user(h.getFormat),
		"caption":     user(h.setCaption),
		"getcp":       user(h.getCaption),
		"delcp":       user(h.delCaption),
		"media_type":  user(h.setMediaType),
		"mode":        user(h.setMode),
		"metadata":    user(h.setMetadata),
		"getmetadata": user(h.getMetadata),
		"delpic":      user(h.delThumb),
		"seepic":      user(h.seeThumb),
		"checkpic":    user(h.seeThumb),
		"pic":         user(h.embeddedThumb),
		"setdump":     user(h.setDump),
		"deldump":     user(h.delDump),
		"seedump":     user(h.seeDump),
		"extract":     user(h.extract),
		"queue":       user(h.queue),
		"clear":       user(h.clear),
		"leaderboard": user(h.leaderboard),
		"stats":       admin(h.adminStats),
		"admindump":   admin(h.adminDump),
		"ban":         admin(h.ban),
		"unban":       admin(h.unban),
		"bans":        admin(h.banList),
		"broadcast":   admin(h.broadcast),
	}
	for _, field := range []string{"title", "author", "artist", "audio", "subtitle", "video"} {
		r["set"+field] = user(h.setTag(field))
	}
	return r
}

func (h *Handler) setFormat(ctx context.Context, m *tgbotapi.Message, args string) string {
	if strings.TrimSpace(args) == "" {
		return formatUsage
	}
	tmpl, err := settings.ParseNameTemplate(args)
	if err != nil {
		return "❌ " + err.Error() + "\n\n" + formatUsage
	}
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.NameTemplate = tmpl
		return nil
	}, "✅ Format saved:\n"+tmpl)
}

func (h *Handler) getFormat(ctx context.Context, m *tgbotapi.Message, _ string) string {
	return "Current format:\n" + h.chatSettings(ctx, m.Chat.ID).NameTemplate
}

func (h *Handler) setCaption(ctx context.Context, m *tgbotapi.Message, args string) string {
	if strings.TrimSpace(args) == "" {
		return captionUsage
	}
	tmpl, err := settings.ParseCaptionTemplate(args)
	if err != nil {
		return "❌ " + err.Error() + "\n\n" + captionUsage
	}
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.CaptionTemplate = tmpl
		return nil
	}, "✅ Caption saved.")
}

func (h *Handler) getCaption(ctx context.Context, m *tgbotapi.Message, _ string) string {
	return "Current caption:\n" + h.chatSettings(ctx, m.Chat.ID).CaptionTemplate
}

func (h *Handler) delCaption(ctx context.Context, m *tgbotapi.Message, _ string) string {
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.CaptionTemplate = settings.DefaultCaptionTemplate
		return nil
	}, "✅ Caption reset to the file name.")
}

func (h *Handler) setMediaType(ctx context.Context, m *tgbotapi.Message, args string) string {
	if strings.TrimSpace(args) == "" {
		return "Upload as: " + string(h.chatSettings(ctx, m.Chat.ID).UploadAs) + "\nUsage: /media_type video|document"
	}
	kind, err := settings.ParseUploadKind(args)
	if err != nil {
		return "❌ " + err.Error()
	}
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.UploadAs = kind
		return nil
	}, "✅ Files will be uploaded as "+string(kind)+".")
}

func (h *Handler) setMode(ctx context.Context, m *tgbotapi.Message, args string) string {
	if strings.TrimSpace(args) == "" {
		return "Variables are read from the " + string(h.chatSettings(ctx, m.Chat.ID).Source) + ".\nUsage: /mode filename|caption"
	}
	src, err := settings.ParseSource(args)
	if err != nil {
		return "❌ " + err.Error()
	}
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.Source = src
		return nil
	}, "✅ Variables will be read from the "+string(src)+".")
}

func (h *Handler) setMetadata(ctx context.Context, m *tgbotapi.Message, args string) string {
	var on bool
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "on":
		on = true
	case "off":
	case "":
		state := "off"
		if h.chatSettings(ctx, m.Chat.ID).TagsEnabled {
			state = "on"
		}
		return "Metadata is " + state + ".\nUsage: /metadata on|off"
	default:
		return "❌ Usage: /metadata on|off"
	}
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.TagsEnabled = on
		return nil
	}, fmt.Sprintf("✅ Metadata %s.", map[bool]string{true: "enabled", false: "disabled"}[on]))
}

func (h *Handler) setTag(field string) func(context.Context, *tgbotapi.Message, string) string {
	return func(ctx context.Context, m *tgbotapi.Message, args string) string {
		return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
			return cs.Tags.SetTag(field, args)
		}, fmt.Sprintf("✅ %s set.", strings.ToUpper(field[:1])+field[1:]))
	}
}

func (h *Handler) getMetadata(ctx context.Context, m *tgbotapi.Message, _ string) string {
	cs := h.chatSettings(ctx, m.Chat.ID)
	state := "off"
	if cs.TagsEnabled {
		state = "on"
	}
	t := cs.Tags
	return fmt.Sprintf("Metadata: %s\nTitle: %s\nAuthor: %s\nArtist: %s\nAudio: %s\nSubtitle: %s\nVideo: %s",
		state, t.Title, t.Author, t.Artist, t.Audio, t.Subtitle, t.Video)
}

func (h *Handler) saveThumb(ctx context.Context, m *tgbotapi.Message) string {
	fileID, ok := telegram.LargestPhoto(m)
	if !ok {
		return ""
	}
	dst := filepath.Join(h.cfg.ThumbDir(), fmt.Sprintf("%d.jpg", m.Chat.ID))
	if err := h.msg.Download(ctx, fileID, dst, 0, nil); err != nil {
		lg := logx.FromCtx(ctx)
		lg.Error().Err(err).Msg("thumbnail download failed")
		return "❌ Could not save thumbnail: " + err.Error()
	}
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.ThumbPath = dst
		return nil
	}, "✅ Thumbnail saved.")
}

func (h *Handler) delThumb(ctx context.Context, m *tgbotapi.Message, _ string) string {
	cs := h.chatSettings(ctx, m.Chat.ID)
	if cs.ThumbPath == "" {
		return "No thumbnail set."
	}
	if err := os.Remove(cs.ThumbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		lg := logx.FromCtx(ctx)
		lg.Warn().Err(err).Str("path", cs.ThumbPath).Msg("remove thumbnail")
	}
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.ThumbPath = ""
		return nil
	}, "✅ Thumbnail removed.")
}

const noThumb = "No thumbnail set. Send a photo to set one."

func (h *Handler) seeThumb(ctx context.Context, m *tgbotapi.Message, _ string) string {
	path := h.chatSettings(ctx, m.Chat.ID).ThumbPath
	if path == "" {
		return noThumb
	}
	if _, err := os.Stat(path); err != nil {
		return noThumb
	}
	if err := h.msg.SendPhoto(ctx, m.Chat.ID, m.MessageID, tgbotapi.FilePath(path), "🖼 Your current thumbnail"); err != nil {
		return "❌ Could not send thumbnail: " + err.Error()
	}
	return ""
}

// embeddedThumb resends the thumbnail the sender attached to a media file.
func (h *Handler) embeddedThumb(ctx context.Context, m *tgbotapi.Message, _ string) string {
	if m.ReplyToMessage == nil {
		return "Reply to a file with /pic."
	}
	fileID, ok := telegram.EmbeddedThumb(m.ReplyToMessage)
	if !ok {
		return "❌ No thumbnail found in this file."
	}
	if err := h.msg.SendPhoto(ctx, m.Chat.ID, m.MessageID, tgbotapi.FileID(fileID), "🖼 Thumbnail from the file"); err != nil {
		return "❌ Could not extract thumbnail: " + err.Error()
	}
	return ""
}

// destination validates a chat id argument and the bot's right to post there.
func (h *Handler) destination(ctx context.Context, args string) (int64, string) {
	id, err := settings.ParseDestination(args)
	if err != nil {
		return 0, "❌ " + err.Error() + "\nUse a numeric id such as -1001234567890."
	}
	if err := h.msg.CheckDestination(ctx, id); err != nil {
		return 0, fmt.Sprintf("❌ Cannot use %d: %v\nAdd the bot to that chat with permission to post.", id, err)
	}
	return id, ""
}

func (h *Handler) setDump(ctx context.Context, m *tgbotapi.Message, args string) string {
	if strings.TrimSpace(args) == "" {
		return "Usage: /setdump <chat_id>"
	}
	id, problem := h.destination(ctx, args)
	if problem != "" {
		return problem
	}
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.DumpChat = id
		return nil
	}, fmt.Sprintf("✅ Renamed files will also be sent to %d.", id))
}

func (h *Handler) delDump(ctx context.Context, m *tgbotapi.Message, _ string) string {
	return h.update(ctx, m.Chat.ID, func(cs *settings.ChatSettings) error {
		cs.DumpChat = 0
		return nil
	}, "✅ Dump destination removed.")
}

func (h *Handler) seeDump(ctx context.Context, m *tgbotapi.Message, _ string) string {
	if id := h.chatSettings(ctx, m.Chat.ID).DumpChat; id != 0 {
		return fmt.Sprintf("Dump destination: %d", id)
	}
	return "No dump destination set."
}

func (h *Handler) extract(ctx context.Context, m *tgbotapi.Message, _ string) string {
	it, ok := telegram.WorkItem(m.ReplyToMessage)
	if !ok {
		return "Reply to a file with /extract."
	}
	cs := h.chatSettings(ctx, m.Chat.ID)
	vars := pipeline.Variables(it, cs)
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "Variables (from %s):\n", cs.Source)
	for _, k := range keys {
		fmt.Fprintf(&b, "{%s} = %s\n", k, vars[k])
	}
	fmt.Fprintf(&b, "\nResult: %s", naming.Render(cs.NameTemplate, vars, naming.Extension(it.FileName, it.Kind)))
	return b.String()
}

func (h *Handler) queue(_ context.Context, m *tgbotapi.Message, _ string) string {
	mine := 0
	if m.From != nil {
		mine = h.core.CountForUser(m.From.ID)
	}
	return fmt.Sprintf("📋 Queue: %d waiting\nYours: %d\nParallel slots: %d", h.core.Depth(), mine, h.core.Concurrency())
}

func (h *Handler) clear(ctx context.Context, m *tgbotapi.Message, _ string) string {
	var n int
	if h.isAdmin(m) {
		n = h.core.ClearAll()
	} else if m.From != nil {
		n = h.core.ClearForUser(m.From.ID)
	}
	lg := logx.FromCtx(ctx)
	lg.Info().Int("removed", n).Msg("queue cleared")
	return fmt.Sprintf("🗑 Removed %d item(s) from the queue.", n)
}

func (h *Handler) leaderboard(ctx context.Context, _ *tgbotapi.Message, args string) string {
	period, err := stats.ParsePeriod(args)
	if err != nil {
		return "❌ " + err.Error() + "\nUsage: /leaderboard [daily|weekly|monthly|yearly]"
	}
	entries, err := h.stats.Leaderboard(ctx, period, h.now(), 10)
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Error().Err(err).Msg("leaderboard query failed")
		return "❌ Leaderboard unavailable."
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No files renamed yet (%s).", period)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🏆 Leaderboard (%s)\n", period)
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, e.User.DisplayName(), humanize.Comma(e.Count))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) adminStats(ctx context.Context, _ *tgbotapi.Message, _ string) string {
	t, err := h.stats.Totals(ctx, h.now())
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Error().Err(err).Msg("totals query failed")
		return "❌ Stats unavailable."
	}
	return fmt.Sprintf("📊 Users: %s\nFiles renamed: %s\nActive today: %s\nQueue: %d\nParallel slots: %d",
		humanize.Comma(t.Users), humanize.Comma(t.Files), humanize.Comma(t.ActiveToday),
		h.core.Depth(), h.core.Concurrency())
}

func (h *Handler) adminDump(ctx context.Context, _ *tgbotapi.Message, args string) string {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "":
		if id := h.dump.AdminDump(); id != 0 {
			return fmt.Sprintf("Global dump: %d\nUsage: /admindump <chat_id>|off", id)
		}
		return "Global dump is off.\nUsage: /admindump <chat_id>|off"
	case "off":
		h.dump.SetAdminDump(0)
		return "✅ Global dump disabled."
	}
	id, problem := h.destination(ctx, args)
	if problem != "" {
		return problem
	}
	h.dump.SetAdminDump(id)
	return fmt.Sprintf("✅ Global dump set to %d.", id)
}
