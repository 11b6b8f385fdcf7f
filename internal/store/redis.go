package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "postpilot/pkg/logx"
)

type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("store.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Ping to surface obvious misconfiguration early, but do not fail hard:
	// redis may come up after us.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable at startup", logx.String("addr", addr), logx.Err(err))
	}

	prefix := cfg.Redis.KeyPrefix
	if prefix == "" {
		prefix = "postpilot:"
	}
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
