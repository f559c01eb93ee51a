package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
)

const keyBans = "bans"

// BanList records users the bot refuses to serve. Keeping admins off the
// list is the caller's job.
type BanList interface {
	// Ban reports false when uid was already banned.
	Ban(ctx context.Context, uid int64) (bool, error)
	// Unban reports false when uid was not banned.
	Unban(ctx context.Context, uid int64) (bool, error)
	IsBanned(ctx context.Context, uid int64) (bool, error)
	// Banned lists user ids in ascending order.
	Banned(ctx context.Context) ([]int64, error)
}

func (m *MemoryStore) Ban(_ context.Context, uid int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bans[uid]; ok {
		return false, nil
	}
	m.bans[uid] = struct{}{}
	return true, nil
}

func (m *MemoryStore) Unban(_ context.Context, uid int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bans[uid]; !ok {
		return false, nil
	}
	delete(m.bans, uid)
	return true, nil
}

func (m *MemoryStore) IsBanned(_ context.Context, uid int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bans[uid]
	return ok, nil
}

func (m *MemoryStore) Banned(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.bans))
	for uid := range m.bans {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Bans live in the "bans" set.
func (r *RedisStore) Ban(ctx context.Context, uid int64) (bool, error) {
	n, err := r.rdb.SAdd(ctx, keyBans, uid).Result()
	if err != nil {
		return false, fmt.Errorf("ban %d: %w", uid, err)
	}
	return n == 1, nil
}

func (r *RedisStore) Unban(ctx context.Context, uid int64) (bool, error) {
	n, err := r.rdb.SRem(ctx, keyBans, uid).Result()
	if err != nil {
		return false, fmt.Errorf("unban %d: %w", uid, err)
	}
	return n == 1, nil
}

func (r *RedisStore) IsBanned(ctx context.Context, uid int64) (bool, error) {
	return r.rdb.SIsMember(ctx, keyBans, uid).Result()
}

func (r *RedisStore) Banned(ctx context.Context) ([]int64, error) {
	members, err := r.rdb.SMembers(ctx, keyBans).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, s := range members {
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad ban entry %q: %w", s, err)
		}
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
