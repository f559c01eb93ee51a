package stats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func keyUser(uid int64) string { return fmt.Sprintf("stats:user:%d", uid) }
func keyDay(day string) string { return "stats:day:" + day }

const (
	keyUsers = "stats:users"
	keyFiles = "stats:files"
)

// RedisStore keeps counters in Redis: a hash per user, a sorted set per day.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisStore) Close() error { return nil }

func (r *RedisStore) Record(ctx context.Context, u UserRef, at time.Time) error {
	uid := strconv.FormatInt(u.ID, 10)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, keyUser(u.ID), "files", 1)
		p.HSet(ctx, keyUser(u.ID), "username", u.Username, "first_name", u.FirstName, "last_activity", at.UTC().Format(time.RFC3339))
		p.SAdd(ctx, keyUsers, uid)
		p.Incr(ctx, keyFiles)
		p.ZIncrBy(ctx, keyDay(at.Format(dayLayout)), 1, uid)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record stats for %d: %w", u.ID, err)
	}
	return nil
}

func (r *RedisStore) Leaderboard(ctx context.Context, p Period, now time.Time, limit int) ([]Entry, error) {
	start := p.Start(now)
	end := now.Format(dayLayout)

	pipe := r.rdb.Pipeline()
	var days []*redis.ZSliceCmd
	for d := start; d.Format(dayLayout) <= end; d = d.AddDate(0, 0, 1) {
		days = append(days, pipe.ZRangeWithScores(ctx, keyDay(d.Format(dayLayout)), 0, -1))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read day counters: %w", err)
	}

	counts := map[int64]int64{}
	for _, cmd := range days {
		for _, z := range cmd.Val() {
			uid, err := strconv.ParseInt(fmt.Sprint(z.Member), 10, 64)
			if err != nil {
				continue
			}
			counts[uid] += int64(z.Score)
		}
	}

	entries := make([]Entry, 0, len(counts))
	for uid, n := range counts {
		if n > 0 {
			entries = append(entries, Entry{User: UserRef{ID: uid}, Count: n})
		}
	}
	entries = sortEntries(entries, limit)

	pipe = r.rdb.Pipeline()
	names := make([]*redis.SliceCmd, len(entries))
	for i, e := range entries {
		names[i] = pipe.HMGet(ctx, keyUser(e.User.ID), "username", "first_name")
	}
	if len(entries) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("read user names: %w", err)
		}
	}
	for i, cmd := range names {
		vals := cmd.Val()
		if len(vals) == 2 {
			entries[i].User.Username, _ = vals[0].(string)
			entries[i].User.FirstName, _ = vals[1].(string)
		}
	}
	return entries, nil
}

func (r *RedisStore) Totals(ctx context.Context, now time.Time) (Totals, error) {
	pipe := r.rdb.Pipeline()
	users := pipe.SCard(ctx, keyUsers)
	files := pipe.Get(ctx, keyFiles)
	active := pipe.ZCard(ctx, keyDay(now.Format(dayLayout)))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Totals{}, fmt.Errorf("read totals: %w", err)
	}
	t := Totals{Users: users.Val(), ActiveToday: active.Val()}
	if n, err := files.Int64(); err == nil {
		t.Files = n
	}
	return t, nil
}

func (r *RedisStore) Users(ctx context.Context) ([]int64, error) {
	members, err := r.rdb.SMembers(ctx, keyUsers).Result()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
