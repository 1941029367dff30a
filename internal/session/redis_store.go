package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"configdeck/api/internal/editor"
)

const defaultTTL = 24 * time.Hour

// RedisStore keeps workspaces in Redis with a sliding expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "workspace:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Save writes w and restarts its expiry.
func (s *RedisStore) Save(ctx context.Context, w *editor.Workspace) error {
	data, err := encode(w)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(w.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*editor.Workspace, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	return decode(data)
}

// Delete is a no-op for unknown ids.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func encode(w *editor.Workspace) ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal workspace: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*editor.Workspace, error) {
	var w editor.Workspace
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal workspace: %w", err)
	}
	return &w, nil
}
