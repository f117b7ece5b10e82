package support

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultLeadershipTTL = 45 * time.Second
	leadershipRetryDelay = time.Second
)

// RunWithLeader acquires a Redis-based leadership lock and invokes run while the
// lock is held. The run function is provided a context that is cancelled when
// leadership is lost or the parent context is done. The lock is renewed
// periodically and released when run returns. If the parent context is
// cancelled, the function returns.
func RunWithLeader(ctx context.Context, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	client, err := GetRedisClient()
	if err != nil {
		return fmt.Errorf("support: leader lock redis client: %w", err)
	}

	lock := NewRedisLock(client, key, ttl).WithRetryDelay(leadershipRetryDelay)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		session, err := lock.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("leader lock: failed to acquire", "key", key, "error", err)
			continue
		}

		log.Debug("leader lock: acquired", "key", key)
		run(session.Context())
		session.Close()
		log.Debug("leader lock: released", "key", key)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(leadershipRetryDelay):
		}
	}
}
