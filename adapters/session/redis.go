package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore stores sessions as JSON strings with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// ConnectRedis creates a client from a redis:// URL or a host:port
// address.
func ConnectRedis(addr, password string, db int) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), nil
}

// NewRedisStore creates a store. Keys are "<prefix><id>".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "modhost:sess:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Load retrieves a session by ID.
func (s *RedisStore) Load(ctx context.Context, id string) (map[string]any, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return values, nil
}

// Save stores a session with ttl.
func (s *RedisStore) Save(ctx context.Context, id string, values map[string]any, ttl time.Duration) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	return s.client.Set(ctx, s.prefix+id, data, ttl).Err()
}

// Delete removes a session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.prefix+id).Err()
}

var _ Store = (*RedisStore)(nil)
