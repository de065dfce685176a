package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"askova/internal/util"
)

// RedisSessionStore keeps opaque session tokens in Redis with a TTL.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionStore builds a Redis-backed session store.
func NewRedisSessionStore(addr, password string, ttl time.Duration) *RedisSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSessionStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

// NewSession issues an opaque token mapped to the user ID.
func (s *RedisSessionStore) NewSession(userID string) (string, error) {
	token := util.NewToken()
	ctx, cancel := sessionContext()
	defer cancel()
	if err := s.client.Set(ctx, sessionRedisKey(token), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// GetUserIDByToken resolves the token, refreshing its TTL on each use.
func (s *RedisSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	ctx, cancel := sessionContext()
	defer cancel()
	userID, err := s.client.GetEx(ctx, sessionRedisKey(token), s.ttl).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return userID, true, nil
}

// DeleteSession invalidates the token.
func (s *RedisSessionStore) DeleteSession(token string) error {
	ctx, cancel := sessionContext()
	defer cancel()
	return s.client.Del(ctx, sessionRedisKey(token)).Err()
}

func sessionContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}

func sessionRedisKey(token string) string {
	return "askova:session:" + token
}
