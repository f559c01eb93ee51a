// Package pipeline runs one WorkItem through download, rename, tag, upload
// and finalize. Concurrency is bounded by a weighted semaphore acquired
// before any transfer I/O.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/wapuda/autorename/internal/fanout"
	"github.com/wapuda/autorename/internal/jobs"
	logx "github.com/wapuda/autorename/internal/logs"
	"github.com/wapuda/autorename/internal/naming"
	"github.com/wapuda/autorename/internal/settings"
	"github.com/wapuda/autorename/internal/stats"
)

// Stage names a state of the per-item state machine.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageSlotAcquired Stage = "slot_acquired"
	StageDownloading  Stage = "downloading"
	StageRenaming     Stage = "renaming"
	StageTagging      Stage = "tagging"
	StageUploading    Stage = "uploading"
	StageFinalizing   Stage = "finalizing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// StageError is a Stage-Fatal failure: it ends this item only.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// RateLimited is implemented by transport errors that mandate a cooldown.
type RateLimited interface {
	error
	RetryAfterDuration() time.Duration
}

// ProgressFunc receives (bytes_done, bytes_total); total is 0 when unknown.
type ProgressFunc func(done, total int64)

// Upload describes one outgoing media message.
type Upload struct {
	ChatID    int64
	ReplyTo   int
	Path      string
	Caption   string
	ThumbPath string
	AsVideo   bool
	Duration  int
	Progress  ProgressFunc
}

// Platform is the chat client as seen by the pipeline.
type Platform interface {
	SendStatus(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	EditStatus(ctx context.Context, chatID int64, messageID int, text string) error
	Download(ctx context.Context, fileID, dst string, size int64, progress ProgressFunc) error
	Upload(ctx context.Context, u Upload) error
}

// Tagger rewrites container metadata. It returns a usable path even on error.
type Tagger interface {
	Rewrite(ctx context.Context, path string, t settings.Tags) (string, error)
}

type Config struct {
	TempDir       string
	OutDir        string
	Concurrency   int
	MaxRetries    int           // rate-limit restarts before the item fails
	Throttle      time.Duration // minimum gap between progress edits
	AdminDumpChat int64
	AdminLogChat  int64
	ExtraCooldown time.Duration // added to the platform's retry-after
	Now           func() time.Time
	Sleep         func(ctx context.Context, d time.Duration) error
	OnStage       func(it jobs.WorkItem, s Stage)
}

type Deps struct {
	Platform Platform
	Settings settings.Store
	Stats    stats.Store
	Tagger   Tagger
	Namer    *naming.Namer
	Fanout   fanout.Runner
}

// Pipeline is safe for concurrent use; Handle is the dispatcher's handler.
type Pipeline struct {
	cfg       Config
	deps      Deps
	slots     *semaphore.Weighted
	active    atomic.Int64
	adminDump atomic.Int64
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if deps.Namer == nil {
		deps.Namer = naming.NewNamer()
	}
	p := &Pipeline{cfg: cfg, deps: deps, slots: semaphore.NewWeighted(int64(cfg.Concurrency))}
	p.adminDump.Store(cfg.AdminDumpChat)
	return p
}

// SetAdminDump changes the global dump destination; 0 disables it.
func (p *Pipeline) SetAdminDump(chatID int64) { p.adminDump.Store(chatID) }
func (p *Pipeline) AdminDump() int64          { return p.adminDump.Load() }

// Active is the number of items currently holding a slot.
func (p *Pipeline) Active() int { return int(p.active.Load()) }

// Handle processes it to a terminal state. It never panics on item errors
// and always ends with exactly one terminal status report.
func (p *Pipeline) Handle(ctx context.Context, it jobs.WorkItem) {
	ctx = logx.WithItem(ctx, it.ID, it.UserID, it.ChatID)
	lg := logx.FromCtx(ctx).With().Int("msg_id", it.MessageID).Logger()

	cs := p.settings(ctx, it.ChatID)
	preview := naming.Render(cs.NameTemplate, Variables(it, cs), naming.Extension(it.FileName, it.Kind))
	st := p.newStatus(ctx, it, fmt.Sprintf("⏳ Queued\nTarget: %s", preview))

	res, err := p.process(ctx, it, st, lg)

	// The terminal report must reach the user even during shutdown.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		p.stage(it, StageFailed)
		stage := stageOf(err, StageFailed)
		lg.Error().Err(err).Str("stage", string(stage)).Msg("item failed")
		p.report(ctx, st, fmt.Sprintf("❌ %s failed\n%v", stageLabel(stage), cause(err)))
		p.adminLog(ctx, fmt.Sprintf("❌ %s failed for %d in %d: %v", stageLabel(stage), it.UserID, it.ChatID, err))
		return
	}
	p.stage(it, StageDone)
	lg.Info().Str("file", res.name).Msg("item done")
	p.report(ctx, st, fmt.Sprintf("✅ Done\nFile: %s", res.name))
	p.adminLog(ctx, fmt.Sprintf("✅ %s renamed %s", attribution(it), res.name))
}

// process runs attempts until one succeeds, fails at a stage, or exhausts
// the rate-limit budget. A panic becomes a failure so the item still gets
// its terminal report.
func (p *Pipeline) process(ctx context.Context, it jobs.WorkItem, st *status, lg zerolog.Logger) (res result, err error) {
	defer func() {
		if r := recover(); r != nil {
			lg.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
			res, err = result{}, &StageError{Stage: StageFailed, Err: fmt.Errorf("internal error: %v", r)}
		}
	}()

	for retries := 0; ; {
		res, err = p.run(ctx, it, st)
		var (
			rl RateLimited
			se *StageError
		)
		if errors.As(err, &se) || !errors.As(err, &rl) {
			return res, err
		}
		if retries >= p.cfg.MaxRetries {
			return res, &StageError{Stage: StageDownloading, Err: fmt.Errorf("rate limited %d times: %w", retries+1, err)}
		}
		retries++
		wait := rl.RetryAfterDuration() + p.cfg.ExtraCooldown
		lg.Warn().Dur("retry_after", wait).Int("attempt", retries).Msg("rate limited, restarting item")
		st.set(ctx, fmt.Sprintf("⏳ Rate limited, retrying in %s (%d/%d)", wait.Round(time.Second), retries, p.cfg.MaxRetries))
		if serr := p.cfg.Sleep(ctx, wait); serr != nil {
			return res, &StageError{Stage: StageQueued, Err: serr}
		}
	}
}

func (p *Pipeline) stage(it jobs.WorkItem, s Stage) {
	if p.cfg.OnStage != nil {
		p.cfg.OnStage(it, s)
	}
}

func (p *Pipeline) settings(ctx context.Context, chatID int64) settings.ChatSettings {
	cs, err := p.deps.Settings.Get(ctx, chatID)
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Warn().Err(err).Msg("settings unavailable, using defaults")
		return settings.Default()
	}
	return cs
}

func (p *Pipeline) adminLog(ctx context.Context, text string) {
	if p.cfg.AdminLogChat == 0 || p.deps.Fanout == nil {
		return
	}
	p.deps.Fanout.Submit(ctx, jobs.TaskAdminNote, jobs.AdminNotePayload{ChatID: p.cfg.AdminLogChat, Text: text})
}

func stageOf(err error, def Stage) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return def
}

func cause(err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return se.Err
	}
	return err
}

func stageLabel(s Stage) string {
	switch s {
	case StageDownloading:
		return "Download"
	case StageRenaming:
		return "Rename"
	case StageUploading:
		return "Upload"
	case StageQueued, StageSlotAcquired:
		return "Scheduling"
	case StageFailed:
		return "Processing"
	}
	return string(s)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
