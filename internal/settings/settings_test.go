package settings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestParseNameTemplate(t *testing.T) {
	if got, err := ParseNameTemplate("  S{season} E{episode} - {title}  "); err != nil || got != "S{season} E{episode} - {title}" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := ParseNameTemplate(" "); !errors.Is(err, ErrEmptyTemplate) {
		t.Fatalf("expected ErrEmptyTemplate, got %v", err)
	}
	if _, err := ParseNameTemplate(strings.Repeat("x", MaxNameTemplate+1)); !errors.Is(err, ErrTemplateTooLong) {
		t.Fatalf("expected ErrTemplateTooLong, got %v", err)
	}
	if _, err := ParseNameTemplate("{title"); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
	if _, err := ParseNameTemplate("{file_size}"); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("caption placeholder in name template should fail, got %v", err)
	}
}

func TestParseCaptionTemplate(t *testing.T) {
	if _, err := ParseCaptionTemplate("{file_name} | {file_size}\n{duration}"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseCaptionTemplate("{season}"); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
}

func TestParseChoices(t *testing.T) {
	if k, err := ParseUploadKind("Video"); err != nil || k != UploadVideo {
		t.Fatalf("got %q %v", k, err)
	}
	if _, err := ParseUploadKind("audio"); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("got %v", err)
	}
	if s, err := ParseSource("caption"); err != nil || s != SourceCaption {
		t.Fatalf("got %q %v", s, err)
	}
	if id, err := ParseDestination("-1001234567890"); err != nil || id != -1001234567890 {
		t.Fatalf("got %d %v", id, err)
	}
	for _, bad := range []string{"", "abc", "0", "@channel"} {
		if _, err := ParseDestination(bad); !errors.Is(err, ErrInvalidDestination) {
			t.Fatalf("ParseDestination(%q) = %v", bad, err)
		}
	}
}

func TestSetTag(t *testing.T) {
	tags := DefaultTags()
	if err := tags.SetTag("Artist", "Me"); err != nil || tags.Artist != "Me" {
		t.Fatalf("artist = %q, %v", tags.Artist, err)
	}
	if err := tags.SetTag("genre", "x"); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("got %v", err)
	}
	if err := tags.SetTag("title", "  "); err == nil {
		t.Fatal("empty value should fail")
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Get(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got != Default() {
		t.Fatalf("unknown chat should get defaults, got %+v", got)
	}

	updated, err := s.Update(ctx, 7, func(cs *ChatSettings) error {
		cs.NameTemplate = "{title} {episode}"
		cs.TagsEnabled = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.NameTemplate != "{title} {episode}" || !updated.TagsEnabled {
		t.Fatalf("update not applied: %+v", updated)
	}

	boom := errors.New("boom")
	if _, err := s.Update(ctx, 7, func(cs *ChatSettings) error {
		cs.NameTemplate = "lost"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ = s.Get(ctx, 7)
	if got.NameTemplate != "{title} {episode}" {
		t.Fatalf("failed update leaked: %+v", got)
	}
	if other, _ := s.Get(ctx, 8); other != Default() {
		t.Fatal("settings leaked across chats")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 100; attempt++ {
				if _, err := s.Update(ctx, 9, func(cs *ChatSettings) error {
					cs.DumpChat++
					return nil
				}); err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()
	if cs, _ := s.Get(ctx, 9); cs.DumpChat != 10 {
		t.Fatalf("lost updates: %d", cs.DumpChat)
	}
}

func exerciseBans(t *testing.T, b BanList) {
	t.Helper()
	ctx := context.Background()

	if added, err := b.Ban(ctx, 30); err != nil || !added {
		t.Fatalf("ban: added=%v err=%v", added, err)
	}
	if added, _ := b.Ban(ctx, 30); added {
		t.Fatal("second ban should report already banned")
	}
	if _, err := b.Ban(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if banned, _ := b.IsBanned(ctx, 30); !banned {
		t.Fatal("30 should be banned")
	}
	if banned, _ := b.IsBanned(ctx, 31); banned {
		t.Fatal("31 should not be banned")
	}
	list, err := b.Banned(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0] != 4 || list[1] != 30 {
		t.Fatalf("banned list %v", list)
	}
	if removed, _ := b.Unban(ctx, 30); !removed {
		t.Fatal("unban should remove 30")
	}
	if removed, _ := b.Unban(ctx, 30); removed {
		t.Fatal("unban of a user not on the list should report false")
	}
	if banned, _ := b.IsBanned(ctx, 30); banned {
		t.Fatal("30 still banned")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
	exerciseBans(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	exerciseStore(t, NewRedisStore(rdb))
	exerciseBans(t, NewRedisStore(rdb))

	// Older records missing fields are filled with defaults.
	mr.Set(keySettings(11), `{"name_template":"{title}","tags":{"title":"X"}}`)
	cs, err := NewRedisStore(rdb).Get(context.Background(), 11)
	if err != nil {
		t.Fatal(err)
	}
	if cs.NameTemplate != "{title}" || cs.CaptionTemplate != DefaultCaptionTemplate || cs.Tags.Title != "X" || cs.Tags.Author != DefaultTags().Author {
		t.Fatalf("normalize failed: %+v", cs)
	}
}
