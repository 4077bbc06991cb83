// Package redisseen keeps the seen-query set in a Redis SET instead of the
// relational queries table.
package redisseen

import (
	"context"
	"fmt"

	"github.com/FranksOps/trendpress/internal/storage"
	"github.com/go-redis/redis/v8"
)

var _ storage.SeenStore = (*Store)(nil)

// DefaultKey is the SET holding seen query names.
const DefaultKey = "trendpress:queries:seen"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Store is a storage.SeenStore backed by a Redis SET.
type Store struct {
	rdb *redis.Client
	key string
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisseen: ping %s: %w", opts.Addr, err)
	}
	return NewFromClient(rdb, opts.Key), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *redis.Client, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{rdb: rdb, key: key}
}

// MarkSeen implements storage.SeenStore. SADD is atomic, so concurrent callers
// with the same name see exactly one true.
func (s *Store) MarkSeen(ctx context.Context, name string) (bool, error) {
	added, err := s.rdb.SAdd(ctx, s.key, name).Result()
	if err != nil {
		return false, fmt.Errorf("redisseen: sadd: %w", err)
	}
	return added == 1, nil
}

// ClearSeen implements storage.SeenStore.
func (s *Store) ClearSeen(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redisseen: del: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
