// Package settings persists the chat settings overrides users make with
// commands, so they survive a restart.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dayuer/pacebot/internal/config"
	"github.com/dayuer/pacebot/internal/redis"
)

// GlobalScope is the scope of the bot-wide settings.
const GlobalScope = "global"

// Store loads and saves the accumulated settings patch.
type Store interface {
	// Load returns the stored patch. A store with nothing saved returns an empty patch.
	Load(ctx context.Context) (config.ChatPatch, error)
	// Save replaces the stored patch.
	Save(ctx context.Context, patch config.ChatPatch) error
}

// Update merges p into the stored patch and saves the result.
func Update(ctx context.Context, s Store, p config.ChatPatch) (config.ChatPatch, error) {
	cur, err := s.Load(ctx)
	if err != nil {
		return config.ChatPatch{}, fmt.Errorf("load settings: %w", err)
	}
	next := cur.Merge(p)
	if err := s.Save(ctx, next); err != nil {
		return config.ChatPatch{}, fmt.Errorf("save settings: %w", err)
	}
	return next, nil
}

// MemoryStore keeps the patch in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	patch config.ChatPatch
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(context.Context) (config.ChatPatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patch, nil
}

func (m *MemoryStore) Save(_ context.Context, patch config.ChatPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patch = patch
	return nil
}

// RedisStore keeps the patch as JSON under one Redis key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a RedisStore for scope.
func NewRedisStore(client *redis.Client, scope string) *RedisStore {
	return &RedisStore{client: client, key: redis.SettingsKey(scope)}
}

func (r *RedisStore) Load(ctx context.Context) (config.ChatPatch, error) {
	var patch config.ChatPatch
	err := r.client.GetJSON(ctx, r.key, &patch)
	if errors.Is(err, redis.ErrNotFound) {
		return config.ChatPatch{}, nil
	}
	if err != nil {
		return config.ChatPatch{}, err
	}
	return patch, nil
}

func (r *RedisStore) Save(ctx context.Context, patch config.ChatPatch) error {
	if patch.IsEmpty() {
		return r.client.Del(ctx, r.key)
	}
	return r.client.SetJSON(ctx, r.key, patch, 0)
}
