package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"classsync/pkg/interfaces"
)

// RedisStore is the remote backend, for deployments where class snapshots
// should survive the device (kiosk browsers, lab machines).
type RedisStore struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(addr, password string, db int, log *zap.Logger) (*RedisStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, log: log}, nil
}

func redisKey(classID, kind string) string {
	return fmt.Sprintf("classsync:%s:%s", classID, kind)
}

func (s *RedisStore) Get(ctx context.Context, classID, kind string) ([]byte, error) {
	value, err := s.client.Get(ctx, redisKey(classID, kind)).Bytes()
	if err == redis.Nil {
		return nil, interfaces.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return value, nil
}

func (s *RedisStore) Put(ctx context.Context, classID, kind string, value []byte) error {
	if err := s.client.Set(ctx, redisKey(classID, kind), value, 0).Err(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, classID, kind string) error {
	if err := s.client.Del(ctx, redisKey(classID, kind)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
