package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wapuda/autorename/internal/jobs"
	logx "github.com/wapuda/autorename/internal/logs"
	"github.com/wapuda/autorename/internal/naming"
	"github.com/wapuda/autorename/internal/settings"
	"github.com/wapuda/autorename/internal/stats"
)

type result struct {
	name string // final file name as uploaded
	path string
}

// run is one attempt from Queued to Finalizing. The slot is held for the
// whole attempt and released before the caller reports the terminal state.
// A rate-limit error is returned bare so the caller can restart the item.
func (p *Pipeline) run(ctx context.Context, it jobs.WorkItem, st *status) (result, error) {
	lg := logx.FromCtx(ctx)
	p.stage(it, StageQueued)
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return result{}, &StageError{Stage: StageQueued, Err: err}
	}
	defer p.slots.Release(1)
	p.active.Add(1)
	defer p.active.Add(-1)
	p.stage(it, StageSlotAcquired)

	cs := p.settings(ctx, it.ChatID)
	ext := naming.Extension(it.FileName, it.Kind)
	newName := naming.Render(cs.NameTemplate, Variables(it, cs), ext)

	// Downloading
	p.stage(it, StageDownloading)
	st.set(ctx, "📥 Downloading…")
	tmp := filepath.Join(p.cfg.TempDir, fmt.Sprintf("%d_%d%s", it.ChatID, it.MessageID, ext))
	if err := p.deps.Platform.Download(ctx, it.FileID, tmp, it.Size, p.reporter(ctx, st, "📥 Downloading")); err != nil {
		_ = os.Remove(tmp)
		var rl RateLimited
		if errors.As(err, &rl) {
			return result{}, err
		}
		return result{}, &StageError{Stage: StageDownloading, Err: err}
	}

	// Renaming
	p.stage(it, StageRenaming)
	st.set(ctx, "✏️ Renaming…\nTarget: "+newName)
	final, err := p.deps.Namer.MoveUnique(tmp, filepath.Join(p.cfg.OutDir, newName))
	if err != nil {
		_ = os.Remove(tmp)
		return result{}, &StageError{Stage: StageRenaming, Err: err}
	}
	lg.Debug().Str("path", final).Msg("renamed")

	// Tagging (best effort)
	if cs.TagsEnabled && p.deps.Tagger != nil {
		p.stage(it, StageTagging)
		st.set(ctx, "🏷 Applying metadata…")
		tagged, terr := p.deps.Tagger.Rewrite(ctx, final, cs.Tags)
		if terr != nil {
			lg.Warn().Err(terr).Str("path", final).Msg("metadata rewrite failed, uploading untagged file")
		}
		if tagged != "" {
			final = tagged
		}
	}

	// Uploading. Settings are re-read so mid-flight changes to caption,
	// upload kind or thumbnail apply.
	p.stage(it, StageUploading)
	cs = p.settings(ctx, it.ChatID)
	caption := Caption(it, cs, final)
	up := Upload{
		ChatID:    it.ChatID,
		ReplyTo:   it.MessageID,
		Path:      final,
		Caption:   caption,
		ThumbPath: existing(cs.ThumbPath),
		AsVideo:   uploadAsVideo(cs, it.Kind, final),
		Duration:  it.Duration,
	}
	if err := p.upload(ctx, st, up); err != nil {
		return result{}, &StageError{Stage: StageUploading, Err: err}
	}

	p.stage(it, StageFinalizing)
	p.finalize(ctx, it, cs, up)
	return result{name: filepath.Base(final), path: final}, nil
}

// upload retries in place on rate limiting; the file is already on disk so
// restarting from Queued would download it twice.
func (p *Pipeline) upload(ctx context.Context, st *status, up Upload) error {
	for attempt := 0; ; attempt++ {
		st.set(ctx, "📤 Uploading…")
		up.Progress = p.reporter(ctx, st, "📤 Uploading")
		err := p.deps.Platform.Upload(ctx, up)
		var rl RateLimited
		if err == nil || !errors.As(err, &rl) || attempt >= p.cfg.MaxRetries {
			return err
		}
		wait := rl.RetryAfterDuration() + p.cfg.ExtraCooldown
		lg := logx.FromCtx(ctx)
		lg.Warn().Dur("retry_after", wait).Int("attempt", attempt+1).Msg("upload rate limited")
		if serr := p.cfg.Sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

func (p *Pipeline) finalize(ctx context.Context, it jobs.WorkItem, cs settings.ChatSettings, up Upload) {
	lg := logx.FromCtx(ctx)
	if p.deps.Stats != nil {
		u := stats.UserRef{ID: it.UserID, Username: it.Username, FirstName: it.FirstName}
		if err := p.deps.Stats.Record(ctx, u, p.cfg.Now()); err != nil {
			lg.Error().Err(err).Msg("record stats")
		}
	}
	if p.deps.Fanout == nil {
		return
	}
	dump := jobs.DumpCopyPayload{
		ItemID:    it.ID,
		Path:      up.Path,
		Caption:   up.Caption,
		ThumbPath: up.ThumbPath,
		AsVideo:   up.AsVideo,
	}
	if cs.DumpChat != 0 {
		d := dump
		d.ChatID = cs.DumpChat
		p.deps.Fanout.Submit(ctx, jobs.TaskDumpCopy, d)
	}
	if admin := p.AdminDump(); admin != 0 && admin != cs.DumpChat {
		d := dump
		d.ChatID = admin
		d.Caption = attribution(it) + "\n\n" + up.Caption
		p.deps.Fanout.Submit(ctx, jobs.TaskDumpCopy, d)
	}
}

func uploadAsVideo(cs settings.ChatSettings, kind jobs.MediaKind, path string) bool {
	if cs.UploadAs != settings.UploadVideo {
		return false
	}
	return kind == jobs.KindVideo || naming.IsVideoExt(filepath.Ext(path))
}

func existing(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func attribution(it jobs.WorkItem) string {
	who := it.FirstName
	if who == "" {
		who = "Unknown"
	}
	if it.Username != "" {
		who += " (@" + it.Username + ")"
	}
	return fmt.Sprintf("User: %s | ID: %d", who, it.UserID)
}
