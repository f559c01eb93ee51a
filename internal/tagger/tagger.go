// Package tagger rewrites container metadata with ffmpeg stream copy.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	logx "github.com/wapuda/autorename/internal/logs"
	"github.com/wapuda/autorename/internal/settings"
)

const tempPrefix = "meta_"

// Rewriter runs an ffmpeg-compatible binary.
type Rewriter struct {
	Bin     string
	Timeout time.Duration
}

func New(bin string) *Rewriter {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Rewriter{Bin: bin, Timeout: 10 * time.Minute}
}

// Args builds the stream-copy command line writing tags from in to out.
func Args(in, out string, t settings.Tags) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-map", "0",
		"-c", "copy",
		"-metadata", "title=" + t.Title,
		"-metadata", "author=" + t.Author,
		"-metadata", "artist=" + t.Artist,
		"-metadata", "album_artist=" + t.Artist,
		"-metadata:s:a", "title=" + t.Audio,
		"-metadata:s:s", "title=" + t.Subtitle,
		"-metadata:s:v", "title=" + t.Video,
		out,
	}
}

// Rewrite tags path in place. It always returns a usable path: on any
// failure the partial output is removed and the untouched original is
// returned together with the error.
func (r *Rewriter) Rewrite(ctx context.Context, path string, t settings.Tags) (string, error) {
	out := filepath.Join(filepath.Dir(path), tempPrefix+filepath.Base(path))
	if err := r.run(ctx, path, out, t); err != nil {
		_ = os.Remove(out)
		return path, err
	}
	if err := os.Rename(out, path); err != nil {
		_ = os.Remove(out)
		return path, fmt.Errorf("replace original: %w", err)
	}
	return path, nil
}

func (r *Rewriter) run(ctx context.Context, in, out string, t settings.Tags) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Bin, Args(in, out, t)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	lw := logx.NewLineWriter(logx.FromCtx(ctx), map[string]string{"tool": filepath.Base(r.Bin)}, zerolog.DebugLevel)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.Bin, err)
	}
	lw.Pipe(stderr)
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited %d: %s", r.Bin, exitErr.ExitCode(), strings.Join(lw.Tail(), " | "))
		}
		return fmt.Errorf("wait %s: %w", r.Bin, err)
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		return fmt.Errorf("%s produced no output", r.Bin)
	}
	return nil
}
