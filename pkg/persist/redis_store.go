package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps slots as Redis string keys under a shared prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed store. A zero TTL keeps slots
// forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "boutique:state"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Load unmarshals the slot value into v.
func (s *RedisStore) Load(ctx context.Context, slot string, v any) (bool, error) {
	data, err := s.client.Get(ctx, s.key(slot)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load slot %s: %w", slot, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, nil
	}
	return true, nil
}

// Save marshals v and writes it with the configured TTL.
func (s *RedisStore) Save(ctx context.Context, slot string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal slot %s: %w", slot, err)
	}
	if err := s.client.Set(ctx, s.key(slot), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save slot %s: %w", slot, err)
	}
	return nil
}

// Delete removes the slot key.
func (s *RedisStore) Delete(ctx context.Context, slot string) error {
	if err := s.client.Del(ctx, s.key(slot)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete slot %s: %w", slot, err)
	}
	return nil
}

func (s *RedisStore) key(slot string) string {
	return s.prefix + ":" + slot
}
