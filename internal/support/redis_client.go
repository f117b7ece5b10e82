package support

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

var ErrRedisNotConfigured = errors.New("support: REDIS_URL is not set")

var (
	redisMu     sync.Mutex
	redisClient *redis.Client
)

// RedisConfigured reports whether cluster coordination through Redis is on.
func RedisConfigured() bool {
	return strings.TrimSpace(GetEnv("REDIS_URL", "")) != ""
}

func GetRedisClient() (*redis.Client, error) {
	redisMu.Lock()
	defer redisMu.Unlock()

	if redisClient != nil {
		return redisClient, nil
	}

	redisURL := strings.TrimSpace(GetEnv("REDIS_URL", ""))
	if redisURL == "" {
		return nil, ErrRedisNotConfigured
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %q: %w", redisURL, err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	redisClient = client
	return redisClient, nil
}

func CloseRedisClient() error {
	redisMu.Lock()
	defer redisMu.Unlock()

	if redisClient == nil {
		return nil
	}

	err := redisClient.Close()
	redisClient = nil
	return err
}
