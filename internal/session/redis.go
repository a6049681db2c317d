package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CedarClinic/ClinicPipe/internal/models"
)

const redisKeyPrefix = "clinicpipe:session:"

// RedisStore persists sessions in Redis, one JSON value per user with the
// TTL refreshed on every save.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store from a redis:// URL.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	cfg := Opts{TTL: DefaultTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	redisOpts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis DSN: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, userID string) (*models.Session, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	data, err := r.client.Get(ctx, redisKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", userID, err)
	}
	return decodeSession(userID, data)
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, s *models.Session) error {
	if s == nil || s.UserID == "" {
		return models.ErrEmptyUserID
	}
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, redisKeyPrefix+s.UserID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session for %s: %w", s.UserID, err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}
	if err := r.client.Del(ctx, redisKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
