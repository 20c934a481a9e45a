package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"wallcal/internal/model"
)

// RedisStore keeps the cache as one JSON value; SET replaces it atomically.
type RedisStore struct {
	client *redis.Client
	key    string
}

// OpenRedis connects to addr, which is either host:port or a redis:// URL.
func OpenRedis(ctx context.Context, addr, key string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	opt := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opt = parsed
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStore(client, key), nil
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "wallcal:event_cache"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (model.EventCache, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return empty(), nil
	}
	if err != nil {
		return model.EventCache{}, err
	}

	var cache model.EventCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return model.EventCache{}, fmt.Errorf("decode %s: %w", s.key, err)
	}
	if cache.Events == nil {
		cache.Events = []model.Event{}
	}
	return cache, nil
}

func (s *RedisStore) Save(ctx context.Context, cache model.EventCache) error {
	data, err := json.Marshal(&cache)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
