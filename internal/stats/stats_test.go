package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPeriodStart(t *testing.T) {
	// Thursday 2026-10-15
	now := time.Date(2026, 10, 15, 13, 4, 5, 0, time.UTC)
	cases := map[Period]string{
		Daily:   "2026-10-15",
		Weekly:  "2026-10-12",
		Monthly: "2026-10-01",
		Yearly:  "2026-01-01",
	}
	for p, want := range cases {
		if got := p.Start(now).Format(dayLayout); got != want {
			t.Errorf("%s start = %s, want %s", p, got, want)
		}
	}
	sunday := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	if got := Weekly.Start(sunday).Format(dayLayout); got != "2026-10-12" {
		t.Errorf("sunday week start = %s", got)
	}
}

func TestParsePeriod(t *testing.T) {
	if p, err := ParsePeriod(""); err != nil || p != Monthly {
		t.Fatalf("default period = %q, %v", p, err)
	}
	if p, err := ParsePeriod("Weekly"); err != nil || p != Weekly {
		t.Fatalf("got %q %v", p, err)
	}
	if _, err := ParsePeriod("hourly"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDisplayName(t *testing.T) {
	if got := (UserRef{Username: "neo", FirstName: "Thomas"}).DisplayName(); got != "@neo" {
		t.Fatalf("got %q", got)
	}
	if got := (UserRef{FirstName: "Thomas"}).DisplayName(); got != "Thomas" {
		t.Fatalf("got %q", got)
	}
	if got := (UserRef{}).DisplayName(); got != "Unknown" {
		t.Fatalf("got %q", got)
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	lastMonth := now.AddDate(0, -1, 0)
	yesterday := now.AddDate(0, 0, -1)

	alice := UserRef{ID: 1, Username: "alice"}
	bob := UserRef{ID: 2, FirstName: "Bob"}
	carol := UserRef{ID: 3, Username: "carol"}

	record := func(u UserRef, at time.Time, n int) {
		for i := 0; i < n; i++ {
			if err := s.Record(ctx, u, at); err != nil {
				t.Fatal(err)
			}
		}
	}
	record(alice, now, 2)
	record(bob, now, 2)
	record(bob, yesterday, 1)
	record(carol, lastMonth, 5)

	daily, err := s.Leaderboard(ctx, Daily, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(daily) != 2 || daily[0].User.ID != 1 || daily[1].User.ID != 2 || daily[0].Count != 2 {
		t.Fatalf("daily = %+v", daily)
	}
	if daily[0].User.Username != "alice" || daily[1].User.FirstName != "Bob" {
		t.Fatalf("names not returned: %+v", daily)
	}

	monthly, err := s.Leaderboard(ctx, Monthly, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(monthly) != 2 || monthly[0].User.ID != 2 || monthly[0].Count != 3 {
		t.Fatalf("monthly = %+v", monthly)
	}

	yearly, err := s.Leaderboard(ctx, Yearly, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(yearly) != 1 || yearly[0].User.ID != 3 || yearly[0].Count != 5 {
		t.Fatalf("yearly = %+v", yearly)
	}

	totals, err := s.Totals(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	want := Totals{Users: 3, Files: 10, ActiveToday: 2}
	if totals != want {
		t.Fatalf("totals = %+v, want %+v", totals, want)
	}

	users, err := s.Users(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 3 || users[0] != 1 || users[1] != 2 || users[2] != 3 {
		t.Fatalf("users = %v", users)
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stats.db")
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening must not reapply migrations or lose data.
	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	totals, err := s.Totals(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if totals.Files != 10 {
		t.Fatalf("files after reopen = %d", totals.Files)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	empty, err := NewRedisStore(rdb).Totals(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if empty != (Totals{}) {
		t.Fatalf("empty totals = %+v", empty)
	}
	exerciseStore(t, NewRedisStore(rdb))
}
