package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store holds ChatSettings with get-or-default semantics. Writes are
// last-write-wins; readers see a change from their next Get onward.
type Store interface {
	Get(ctx context.Context, chatID int64) (ChatSettings, error)
	Update(ctx context.Context, chatID int64, fn func(*ChatSettings) error) (ChatSettings, error)
}

// MemoryStore keeps settings and bans for the process lifetime.
type MemoryStore struct {
	mu    sync.RWMutex
	chats map[int64]ChatSettings
	bans  map[int64]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chats: make(map[int64]ChatSettings), bans: make(map[int64]struct{})}
}

func (m *MemoryStore) Get(_ context.Context, chatID int64) (ChatSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.chats[chatID]; ok {
		return s, nil
	}
	return Default(), nil
}

func (m *MemoryStore) Update(_ context.Context, chatID int64, fn func(*ChatSettings) error) (ChatSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.chats[chatID]
	if !ok {
		s = Default()
	}
	if err := fn(&s); err != nil {
		return ChatSettings{}, err
	}
	m.chats[chatID] = s
	return s, nil
}

// RedisStore persists one JSON document per chat under settings:<chat_id>.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func keySettings(chatID int64) string { return fmt.Sprintf("settings:%d", chatID) }

func (r *RedisStore) Get(ctx context.Context, chatID int64) (ChatSettings, error) {
	return r.load(ctx, r.rdb, chatID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, g getter, chatID int64) (ChatSettings, error) {
	raw, err := g.Get(ctx, keySettings(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Default(), nil
	}
	if err != nil {
		return ChatSettings{}, fmt.Errorf("load settings %d: %w", chatID, err)
	}
	var s ChatSettings
	if err := json.Unmarshal(raw, &s); err != nil {
		return ChatSettings{}, fmt.Errorf("decode settings %d: %w", chatID, err)
	}
	s.normalize()
	return s, nil
}

const maxUpdateAttempts = 5

// Update applies fn under WATCH so concurrent writers do not lose updates.
func (r *RedisStore) Update(ctx context.Context, chatID int64, fn func(*ChatSettings) error) (ChatSettings, error) {
	key := keySettings(chatID)
	var out ChatSettings
	txf := func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, chatID)
		if err != nil {
			return err
		}
		if err := fn(&s); err != nil {
			return err
		}
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			return nil
		})
		if err == nil {
			out = s
		}
		return err
	}
	for i := 0; i < maxUpdateAttempts; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return ChatSettings{}, err
		}
		return out, nil
	}
	return ChatSettings{}, fmt.Errorf("update settings %d: too much contention", chatID)
}
