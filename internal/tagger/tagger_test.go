package tagger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wapuda/autorename/internal/settings"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ep1.mkv")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestArgs(t *testing.T) {
	tags := settings.Tags{Title: "T", Author: "Au", Artist: "Ar", Audio: "A", Subtitle: "S", Video: "V"}
	args := strings.Join(Args("in.mkv", "out.mkv", tags), " ")
	for _, want := range []string{
		"-i in.mkv", "-c copy", "title=T", "author=Au", "artist=Ar", "album_artist=Ar",
		"-metadata:s:a title=A", "-metadata:s:s title=S", "-metadata:s:v title=V",
	} {
		if !strings.Contains(args, want) {
			t.Fatalf("missing %q in %s", want, args)
		}
	}
	if !strings.HasSuffix(args, "out.mkv") {
		t.Fatalf("output must be last: %s", args)
	}
}

func TestRewriteReplacesOriginal(t *testing.T) {
	bin := writeScript(t, `eval out=\${$#}
echo "frame 1" >&2
printf tagged > "$out"
`)
	media := writeMedia(t)

	got, err := New(bin).Rewrite(context.Background(), media, settings.DefaultTags())
	if err != nil {
		t.Fatal(err)
	}
	if got != media {
		t.Fatalf("path changed: %s", got)
	}
	if b, _ := os.ReadFile(media); string(b) != "tagged" {
		t.Fatalf("content = %q", b)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(media), tempPrefix+"ep1.mkv")); !os.IsNotExist(err) {
		t.Fatal("temp output left behind")
	}
}

func TestRewriteFailureKeepsOriginal(t *testing.T) {
	bin := writeScript(t, `eval out=\${$#}
printf partial > "$out"
echo "Invalid data found when processing input" >&2
exit 1
`)
	media := writeMedia(t)

	got, err := New(bin).Rewrite(context.Background(), media, settings.DefaultTags())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("error should carry tool output: %v", err)
	}
	if got != media {
		t.Fatalf("path changed: %s", got)
	}
	if b, _ := os.ReadFile(media); string(b) != "original" {
		t.Fatalf("original modified: %q", b)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(media), tempPrefix+"ep1.mkv")); !os.IsNotExist(err) {
		t.Fatal("partial output left behind")
	}
}

func TestRewriteMissingBinary(t *testing.T) {
	media := writeMedia(t)
	got, err := New(filepath.Join(t.TempDir(), "nope")).Rewrite(context.Background(), media, settings.DefaultTags())
	if err == nil || got != media {
		t.Fatalf("got %q, %v", got, err)
	}
}
