package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists QueryState per (table, user).
type Store interface {
	Get(ctx context.Context, key Key) (QueryState, bool, error)
	Put(ctx context.Context, key Key, s QueryState) error
	Forget(ctx context.Context, key Key) error
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	states map[Key]QueryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[Key]QueryState)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (QueryState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[key]
	return s.Clone(), ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key Key, s QueryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = s.Clone()
	return nil
}

func (m *MemoryStore) Forget(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
	return nil
}

// RedisStore keeps state as JSON documents in Redis.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore stores entries with the given ttl; zero keeps them forever.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, key Key) (QueryState, bool, error) {
	data, err := r.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return QueryState{}, false, nil
	}
	if err != nil {
		return QueryState{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var s QueryState
	if err := json.Unmarshal(data, &s); err != nil {
		return QueryState{}, false, fmt.Errorf("decode state %s: %w", key, err)
	}
	return s, true, nil
}

func (r *RedisStore) Put(ctx context.Context, key Key, s QueryState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, key.String(), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Forget(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
