package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wapuda/autorename/internal/jobs"
	"github.com/wapuda/autorename/internal/settings"
	"github.com/wapuda/autorename/internal/stats"
)

type rateErr struct{ after time.Duration }

func (e rateErr) Error() string                     { return "Too Many Requests" }
func (e rateErr) RetryAfterDuration() time.Duration { return e.after }

type fakePlatform struct {
	mu        sync.Mutex
	nextID    int
	sends     int
	edits     map[int][]string
	uploads   []Upload
	downErrs  []error
	upErrs    []error
	gate      chan struct{}
	content   []byte
	downloads int
	editErr   func(text string) error
	panicMsg  any
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{edits: map[int][]string{}, content: []byte("media bytes")}
}

func (f *fakePlatform) SendStatus(_ context.Context, _ int64, _ int, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sends++
	f.edits[f.nextID] = []string{text}
	return f.nextID, nil
}

func (f *fakePlatform) EditStatus(_ context.Context, _ int64, id int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		if err := f.editErr(text); err != nil {
			return err
		}
	}
	f.edits[id] = append(f.edits[id], text)
	return nil
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakePlatform) Download(ctx context.Context, _ string, dst string, _ int64, progress ProgressFunc) error {
	f.mu.Lock()
	f.downloads++
	err := pop(&f.downErrs)
	gate := f.gate
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dst, f.content, 0o644); err != nil {
		return err
	}
	progress(int64(len(f.content)), int64(len(f.content)))
	return nil
}

func (f *fakePlatform) Upload(_ context.Context, u Upload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != nil {
		panic(f.panicMsg)
	}
	if err := pop(&f.upErrs); err != nil {
		return err
	}
	u.Progress = nil
	f.uploads = append(f.uploads, u)
	return nil
}

func (f *fakePlatform) lastEdit(id int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.edits[id]
	return e[len(e)-1]
}

type fakeStats struct {
	mu    sync.Mutex
	users []int64
}

func (s *fakeStats) Record(_ context.Context, u stats.UserRef, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u.ID)
	return nil
}

func (s *fakeStats) Leaderboard(context.Context, stats.Period, time.Time, int) ([]stats.Entry, error) {
	return nil, nil
}
func (s *fakeStats) Totals(context.Context, time.Time) (stats.Totals, error) { return stats.Totals{}, nil }
func (s *fakeStats) Users(context.Context) ([]int64, error)                  { return nil, nil }
func (s *fakeStats) Close() error                                            { return nil }

type submitted struct {
	taskType string
	payload  any
}

type fakeRunner struct {
	mu    sync.Mutex
	tasks []submitted
}

func (r *fakeRunner) Submit(_ context.Context, taskType string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, submitted{taskType, payload})
}

type failingTagger struct{ calls int }

func (t *failingTagger) Rewrite(_ context.Context, path string, _ settings.Tags) (string, error) {
	t.calls++
	return path, errors.New("ffmpeg: exit status 1")
}

type harness struct {
	p      *Pipeline
	plat   *fakePlatform
	store  *settings.MemoryStore
	stats  *fakeStats
	runner *fakeRunner
	sleeps []time.Duration
	out    string
	temp   string

	mu     sync.Mutex
	stages []Stage
}

func newHarness(t *testing.T, mutate func(*Config, *Deps)) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		plat:   newFakePlatform(),
		store:  settings.NewMemoryStore(),
		stats:  &fakeStats{},
		runner: &fakeRunner{},
		out:    filepath.Join(dir, "out"),
		temp:   filepath.Join(dir, "temp"),
	}
	cfg := Config{
		TempDir:     h.temp,
		OutDir:      h.out,
		Concurrency: 5,
		MaxRetries:  5,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.sleeps = append(h.sleeps, d)
			return nil
		},
		OnStage: func(_ jobs.WorkItem, s Stage) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.stages = append(h.stages, s)
		},
	}
	deps := Deps{Platform: h.plat, Settings: h.store, Stats: h.stats, Fanout: h.runner}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	h.p = New(cfg, deps)
	return h
}

func (h *harness) seen() []Stage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Stage(nil), h.stages...)
}

func (h *harness) configure(t *testing.T, chatID int64, fn func(*settings.ChatSettings) error) {
	t.Helper()
	if _, err := h.store.Update(context.Background(), chatID, fn); err != nil {
		t.Fatal(err)
	}
}

func item(msgID int, name string) jobs.WorkItem {
	return jobs.WorkItem{
		ID:        jobs.NewID(),
		MessageID: msgID,
		ChatID:    100,
		UserID:    42,
		Username:  "alice",
		FirstName: "Alice",
		FileID:    "file-" + name,
		FileName:  name,
		Kind:      jobs.KindDocument,
	}
}

func TestPipelineHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 100, func(cs *settings.ChatSettings) error {
		cs.NameTemplate = "S{season} E{episode} - {title} [{quality}]"
		return nil
	})

	h.p.Handle(context.Background(), item(7, "One Piece S01E12 [1080p] [Dual].mkv"))

	if len(h.plat.uploads) != 1 {
		t.Fatalf("want 1 upload, got %d", len(h.plat.uploads))
	}
	up := h.plat.uploads[0]
	if got := filepath.Base(up.Path); got != "S01 E12 - One Piece [1080p].mkv" {
		t.Fatalf("uploaded %q", got)
	}
	if up.Caption != "S01 E12 - One Piece [1080p]" {
		t.Fatalf("default caption %q", up.Caption)
	}
	if up.AsVideo {
		t.Fatal("document upload kind should not upload as video")
	}
	if _, err := os.Stat(up.Path); err != nil {
		t.Fatalf("artifact should be retained: %v", err)
	}
	if h.plat.sends != 1 {
		t.Fatalf("status message sent %d times", h.plat.sends)
	}
	if got := h.plat.lastEdit(1); !strings.HasPrefix(got, "✅ Done") {
		t.Fatalf("terminal edit %q", got)
	}
	if len(h.stats.users) != 1 || h.stats.users[0] != 42 {
		t.Fatalf("stats %v", h.stats.users)
	}
	want := []Stage{StageQueued, StageSlotAcquired, StageDownloading, StageRenaming, StageUploading, StageFinalizing, StageDone}
	if got := h.seen(); strings.Join(stageNames(got), ",") != strings.Join(stageNames(want), ",") {
		t.Fatalf("stages %v", got)
	}
	entries, _ := os.ReadDir(h.temp)
	if len(entries) != 0 {
		t.Fatalf("temp dir not empty: %v", entries)
	}
}

func stageNames(ss []Stage) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

func TestConcurrencyLimitFiveOfEight(t *testing.T) {
	h := newHarness(t, nil)
	h.plat.gate = make(chan struct{})

	var (
		mu          sync.Mutex
		downloading int
		maxActive   int
	)
	h.p.cfg.OnStage = func(_ jobs.WorkItem, s Stage) {
		if s != StageDownloading {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		downloading++
		if a := h.p.Active(); a > maxActive {
			maxActive = a
		}
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return downloading
	}
	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for count() < n {
			if time.Now().After(deadline) {
				t.Fatalf("only %d pipelines reached downloading, want %d", count(), n)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.p.Handle(context.Background(), item(i, "f.bin"))
		}(i)
	}

	waitFor(5)
	time.Sleep(50 * time.Millisecond)
	if n := count(); n != 5 {
		t.Fatalf("want exactly 5 downloading, got %d", n)
	}
	if a := h.p.Active(); a != 5 {
		t.Fatalf("want 5 slots held, got %d", a)
	}

	for i := 6; i <= 8; i++ {
		h.plat.gate <- struct{}{}
		waitFor(i)
	}
	close(h.plat.gate)
	wg.Wait()

	if maxActive > 5 {
		t.Fatalf("slot limit exceeded: %d", maxActive)
	}
	if len(h.plat.uploads) != 8 {
		t.Fatalf("want 8 uploads, got %d", len(h.plat.uploads))
	}
	if h.p.Active() != 0 {
		t.Fatalf("slots leaked: %d", h.p.Active())
	}
}

func TestTagFailureStillUploads(t *testing.T) {
	tagger := &failingTagger{}
	h := newHarness(t, func(_ *Config, d *Deps) { d.Tagger = tagger })
	h.configure(t, 100, func(cs *settings.ChatSettings) error {
		cs.TagsEnabled = true
		cs.NameTemplate = "ep1"
		return nil
	})

	h.p.Handle(context.Background(), item(1, "raw.mkv"))

	if tagger.calls != 1 {
		t.Fatalf("tagger called %d times", tagger.calls)
	}
	if len(h.plat.uploads) != 1 || filepath.Base(h.plat.uploads[0].Path) != "ep1.mkv" {
		t.Fatalf("uploads %+v", h.plat.uploads)
	}
	seen := strings.Join(stageNames(h.seen()), ",")
	if !strings.Contains(seen, "tagging,uploading") {
		t.Fatalf("stages %s", seen)
	}
	if got := h.plat.lastEdit(1); !strings.HasPrefix(got, "✅ Done") {
		t.Fatalf("terminal edit %q", got)
	}
}

func TestRateLimitRestartsFromQueued(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.ExtraCooldown = time.Second })
	h.plat.downErrs = []error{rateErr{3 * time.Second}, rateErr{2 * time.Second}}

	h.p.Handle(context.Background(), item(1, "a.mp4"))

	if len(h.plat.uploads) != 1 {
		t.Fatalf("want upload after retries, got %d", len(h.plat.uploads))
	}
	if len(h.sleeps) != 2 || h.sleeps[0] != 4*time.Second || h.sleeps[1] != 3*time.Second {
		t.Fatalf("sleeps %v", h.sleeps)
	}
	queued := 0
	for _, s := range h.seen() {
		if s == StageQueued {
			queued++
		}
	}
	if queued != 3 {
		t.Fatalf("want 3 passes through queued, got %d", queued)
	}
	if h.plat.sends != 1 {
		t.Fatalf("status message must be reused, sent %d", h.plat.sends)
	}
	if h.p.Active() != 0 {
		t.Fatal("slot not released")
	}
}

func TestRateLimitCapIsFatal(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) { c.MaxRetries = 2 })
	h.plat.downErrs = []error{rateErr{time.Second}, rateErr{time.Second}, rateErr{time.Second}, rateErr{time.Second}}

	h.p.Handle(context.Background(), item(1, "a.mp4"))

	if h.plat.downloads != 3 {
		t.Fatalf("want 3 download attempts, got %d", h.plat.downloads)
	}
	if len(h.plat.uploads) != 0 {
		t.Fatal("nothing should upload")
	}
	if got := h.plat.lastEdit(1); !strings.HasPrefix(got, "❌ Download failed") {
		t.Fatalf("terminal edit %q", got)
	}
}

func TestUploadRateLimitRetriesInPlace(t *testing.T) {
	h := newHarness(t, nil)
	h.plat.upErrs = []error{rateErr{time.Second}}

	h.p.Handle(context.Background(), item(1, "a.mp4"))

	if h.plat.downloads != 1 {
		t.Fatalf("upload retry must not re-download, got %d downloads", h.plat.downloads)
	}
	if len(h.plat.uploads) != 1 {
		t.Fatalf("uploads %d", len(h.plat.uploads))
	}
}

func TestStageFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *harness)
		prefix string
	}{
		{
			name:   "download",
			setup:  func(h *harness) { h.plat.downErrs = []error{errors.New("file is too big")} },
			prefix: "❌ Download failed\nfile is too big",
		},
		{
			name:   "upload",
			setup:  func(h *harness) { h.plat.upErrs = []error{errors.New("Bad Request: file must be non-empty")} },
			prefix: "❌ Upload failed\nBad Request",
		},
		{
			name: "rename",
			setup: func(h *harness) {
				if err := os.WriteFile(filepath.Join(filepath.Dir(h.out), "out"), nil, 0o644); err != nil {
					panic(err)
				}
			},
			prefix: "❌ Rename failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *Config, _ *Deps) { c.AdminLogChat = -500 })
			tt.setup(h)

			h.p.Handle(context.Background(), item(1, "a.mkv"))

			if got := h.plat.lastEdit(1); !strings.HasPrefix(got, tt.prefix) {
				t.Fatalf("terminal edit %q, want prefix %q", got, tt.prefix)
			}
			if h.p.Active() != 0 {
				t.Fatal("slot not released")
			}
			if len(h.stats.users) != 0 {
				t.Fatal("failed items must not be counted")
			}
			entries, _ := os.ReadDir(h.temp)
			if len(entries) != 0 {
				t.Fatalf("temp dir not cleaned: %v", entries)
			}
			if len(h.runner.tasks) != 1 || h.runner.tasks[0].taskType != jobs.TaskAdminNote {
				t.Fatalf("admin log tasks %+v", h.runner.tasks)
			}
		})
	}
}

func TestCaptionScenario(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 100, func(cs *settings.ChatSettings) error {
		cs.NameTemplate = "ep1"
		cs.CaptionTemplate = "{file_name} | {file_size}"
		return nil
	})
	it := item(1, "whatever.mkv")
	it.Size = 1572864

	h.p.Handle(context.Background(), it)

	if got := h.plat.uploads[0].Caption; got != "ep1 | 1.50 MB" {
		t.Fatalf("caption %q", got)
	}
}

func TestCaptionVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Show.mp3")
	if err := os.WriteFile(path, make([]byte, 1536), 0o644); err != nil {
		t.Fatal(err)
	}
	it := jobs.WorkItem{FileName: "orig.mp3", Kind: jobs.KindAudio, Duration: 3725}
	v := captionVars(it, path)
	want := map[string]string{
		"file_name":     "Show",
		"file_size":     "1.50 KB",
		"duration":      "01:02:05",
		"original_name": "orig",
		"extension":     "mp3",
		"mime_type":     "Unknown",
	}
	for k, w := range want {
		if v[k] != w {
			t.Errorf("%s = %q, want %q", k, v[k], w)
		}
	}

	it = jobs.WorkItem{Kind: jobs.KindDocument, Duration: 30, MimeType: "application/pdf"}
	v = captionVars(it, filepath.Join(dir, "missing.pdf"))
	if v["duration"] != "N/A" || v["file_size"] != "Unknown" || v["original_name"] != "file" {
		t.Fatalf("fallbacks %v", v)
	}
}

func TestUploadKindSelection(t *testing.T) {
	video := settings.Default()
	video.UploadAs = settings.UploadVideo
	tests := []struct {
		cs   settings.ChatSettings
		kind jobs.MediaKind
		path string
		want bool
	}{
		{video, jobs.KindVideo, "a.bin", true},
		{video, jobs.KindDocument, "a.MKV", true},
		{video, jobs.KindDocument, "a.pdf", false},
		{settings.Default(), jobs.KindVideo, "a.mp4", false},
	}
	for _, tt := range tests {
		if got := uploadAsVideo(tt.cs, tt.kind, tt.path); got != tt.want {
			t.Errorf("uploadAsVideo(%s, %s, %s) = %v", tt.cs.UploadAs, tt.kind, tt.path, got)
		}
	}
}

func TestCaptionSourceExtraction(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 100, func(cs *settings.ChatSettings) error {
		cs.NameTemplate = "{title} E{episode}"
		cs.Source = settings.SourceCaption
		return nil
	})
	it := item(1, "upload_123.mkv")
	it.Caption = "Frieren S01E05 [720p]"

	h.p.Handle(context.Background(), it)

	if got := filepath.Base(h.plat.uploads[0].Path); got != "Frieren E05.mkv" {
		t.Fatalf("uploaded %q", got)
	}
}

func TestFanoutDestinations(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps) {
		c.AdminDumpChat = -900
		c.AdminLogChat = -901
	})
	h.configure(t, 100, func(cs *settings.ChatSettings) error {
		cs.DumpChat = -800
		cs.NameTemplate = "ep1"
		return nil
	})

	h.p.Handle(context.Background(), item(1, "raw.mkv"))

	var dumps []jobs.DumpCopyPayload
	notes := 0
	for _, task := range h.runner.tasks {
		switch p := task.payload.(type) {
		case jobs.DumpCopyPayload:
			dumps = append(dumps, p)
		case jobs.AdminNotePayload:
			notes++
		}
	}
	if len(dumps) != 2 || notes != 1 {
		t.Fatalf("tasks %+v", h.runner.tasks)
	}
	if dumps[0].ChatID != -800 || dumps[0].Caption != "ep1" {
		t.Fatalf("chat dump %+v", dumps[0])
	}
	if dumps[1].ChatID != -900 || dumps[1].Caption != "User: Alice (@alice) | ID: 42\n\nep1" {
		t.Fatalf("admin dump %+v", dumps[1])
	}
}

func TestSameTargetNameGetsDisambiguated(t *testing.T) {
	h := newHarness(t, nil)
	h.configure(t, 100, func(cs *settings.ChatSettings) error {
		cs.NameTemplate = "ep1"
		return nil
	})

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.p.Handle(context.Background(), item(i, "x.mkv"))
		}(i)
	}
	wg.Wait()

	names := map[string]bool{}
	for _, u := range h.plat.uploads {
		names[filepath.Base(u.Path)] = true
	}
	for _, want := range []string{"ep1.mkv", "ep1 (1).mkv", "ep1 (2).mkv"} {
		if !names[want] {
			t.Fatalf("missing %s in %v", want, names)
		}
	}
}

func TestFinalReportDelivery(t *testing.T) {
	tests := []struct {
		name       string
		rateLimits int // rate-limited edits before one succeeds; -1 never succeeds
		reject     bool
		sends      int
		statusID   int
		sleeps     int
	}{
		{name: "rate limited once", rateLimits: 1, sends: 1, statusID: 1, sleeps: 1},
		{name: "edit rejected", reject: true, sends: 2, statusID: 2},
		{name: "rate limit never clears", rateLimits: -1, sends: 2, statusID: 2, sleeps: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			var failures int
			h.plat.editErr = func(text string) error {
				if !strings.HasPrefix(text, "✅") {
					return nil
				}
				switch {
				case tc.reject:
					return errors.New("Bad Request: message to edit not found")
				case tc.rateLimits < 0 || failures < tc.rateLimits:
					failures++
					return rateErr{after: time.Second}
				}
				return nil
			}

			h.p.Handle(context.Background(), item(7, "ep1.mkv"))

			if len(h.plat.uploads) != 1 {
				t.Fatalf("want 1 upload, got %d", len(h.plat.uploads))
			}
			if h.plat.sends != tc.sends {
				t.Fatalf("want %d sends, got %d", tc.sends, h.plat.sends)
			}
			if got := h.plat.lastEdit(tc.statusID); got != "✅ Done\nFile: ep1.mkv" {
				t.Fatalf("final status %q", got)
			}
			if len(h.sleeps) != tc.sleeps {
				t.Fatalf("want %d cooldowns, got %v", tc.sleeps, h.sleeps)
			}
		})
	}
}

func TestPanicEndsWithFailureReport(t *testing.T) {
	h := newHarness(t, nil)
	h.plat.panicMsg = "assignment to entry in nil map"

	h.p.Handle(context.Background(), item(7, "ep1.mkv"))

	want := "❌ Processing failed\ninternal error: assignment to entry in nil map"
	if got := h.plat.lastEdit(1); got != want {
		t.Fatalf("final status %q", got)
	}
	if a := h.p.Active(); a != 0 {
		t.Fatalf("slot still held: %d active", a)
	}
	if !h.p.slots.TryAcquire(int64(h.p.cfg.Concurrency)) {
		t.Fatal("slot not released after panic")
	}
	seen := h.seen()
	if seen[len(seen)-1] != StageFailed {
		t.Fatalf("stages %v", seen)
	}
}
