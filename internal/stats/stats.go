// Package stats records how many files each user has renamed and answers
// leaderboard and admin total queries.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const dayLayout = "2006-01-02"

// UserRef identifies the user a rename is credited to.
type UserRef struct {
	ID        int64
	Username  string
	FirstName string
}

// DisplayName prefers @username, then first name.
func (u UserRef) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "":
		return u.FirstName
	}
	return "Unknown"
}

type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Daily, Weekly, Monthly, Yearly:
		return p, nil
	case "":
		return Monthly, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Start returns the first day counted by p, in now's location.
func (p Period) Start(now time.Time) time.Time {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch p {
	case Weekly:
		offset := (int(today.Weekday()) + 6) % 7 // Monday = 0
		return today.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	case Yearly:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, now.Location())
	}
	return today
}

// Entry is one leaderboard row.
type Entry struct {
	User  UserRef
	Count int64
}

// Totals are the admin-wide counters.
type Totals struct {
	Users       int64
	Files       int64
	ActiveToday int64
}

// Store is the persistent counter store.
type Store interface {
	// Record credits one rename to u on at's calendar day.
	Record(ctx context.Context, u UserRef, at time.Time) error
	Leaderboard(ctx context.Context, p Period, now time.Time, limit int) ([]Entry, error)
	Totals(ctx context.Context, now time.Time) (Totals, error)
	// Users lists every user id ever recorded, ascending.
	Users(ctx context.Context) ([]int64, error)
	Close() error
}

func sortEntries(entries []Entry, limit int) []Entry {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].User.ID < entries[j].User.ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
