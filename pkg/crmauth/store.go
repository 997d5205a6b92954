/**
 * @description
 * Shared token storage for the CRM token cache. The Redis store lets every
 * deal-service process reuse the same access token; the memory store is the
 * fallback when Redis is not configured.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client used for the shared store.
 */
package crmauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoredToken is the value kept in the shared store.
type StoredToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStore is the shared cache consulted after the in-process memo.
// Get returns (nil, nil) when nothing is stored under key.
type TokenStore interface {
	Get(ctx context.Context, key string) (*StoredToken, error)
	Put(ctx context.Context, key string, value StoredToken, ttl time.Duration) error
}

// RedisTokenStore keeps tokens as JSON strings with a TTL.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	return &RedisTokenStore{client: client, prefix: trimmedPrefix}
}

func (s *RedisTokenStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *RedisTokenStore) Get(ctx context.Context, key string) (*StoredToken, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token from redis: %w", err)
	}

	var stored StoredToken
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode stored token: %w", err)
	}
	if stored.Token == "" || stored.ExpiresAt.IsZero() {
		return nil, nil
	}
	return &stored, nil
}

func (s *RedisTokenStore) Put(ctx context.Context, key string, value StoredToken, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("write token to redis: %w", err)
	}
	return nil
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value    StoredToken
	deadline time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryTokenStore) Get(_ context.Context, key string) (*StoredToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.deadline) {
		delete(s.entries, key)
		return nil, nil
	}
	value := entry.value
	return &value, nil
}

func (s *MemoryTokenStore) Put(_ context.Context, key string, value StoredToken, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, deadline: s.now().Add(ttl)}
	return nil
}
