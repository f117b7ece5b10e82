package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLockTTL         = 30 * time.Second
	defaultLockRetryDelay  = 100 * time.Millisecond
	renewalTimeout         = 5 * time.Second
	minRenewalInterval     = time.Second
	defaultRenewalFraction = 3
)

var (
	ErrLockLost = errors.New("support: lock lost")

	lockCounter atomic.Uint64

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// RedisLock is a token based mutual exclusion lock shared by every instance
// pointed at the same Redis. Holders renew the TTL in the background.
type RedisLock struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	retryDelay time.Duration
}

func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{
		client:     client,
		key:        key,
		ttl:        ttl,
		retryDelay: defaultLockRetryDelay,
	}
}

func (l *RedisLock) WithRetryDelay(delay time.Duration) *RedisLock {
	if delay > 0 {
		l.retryDelay = delay
	}
	return l
}

// Acquire blocks until the lock is held or ctx is done. The session context
// is cancelled when the lock is lost or ctx ends.
func (l *RedisLock) Acquire(ctx context.Context) (*LockSession, error) {
	return l.acquire(ctx, ctx)
}

// acquire waits on ctx and derives the session from parent.
func (l *RedisLock) acquire(ctx, parent context.Context) (*LockSession, error) {
	if l.client == nil {
		return nil, errors.New("support: redis lock has no client")
	}
	value := generateLockToken()

	for {
		ok, err := l.client.SetNX(ctx, l.key, value, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("redis lock: setnx failed", "key", l.key, "error", err)
		}

		if ok {
			sessionCtx, cancel := context.WithCancel(parent)
			session := &LockSession{
				client:    l.client,
				key:       l.key,
				value:     value,
				ttl:       l.ttl,
				ctx:       sessionCtx,
				cancel:    cancel,
				stopRenew: make(chan struct{}),
			}
			go session.renewLoop()
			return session, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

// Lock acquires the lock and returns its release function. Once held, the
// lock is renewed until released even if ctx is cancelled.
func (l *RedisLock) Lock(ctx context.Context) (func(), error) {
	session, err := l.acquire(ctx, context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("support: acquire %s: %w", l.key, err)
	}
	return session.Release, nil
}

type LockSession struct {
	client    *redis.Client
	key       string
	value     string
	ttl       time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	stopRenew chan struct{}
	closeOnce sync.Once
	lost      atomic.Bool
}

// Context is cancelled once the lock can no longer be renewed.
func (s *LockSession) Context() context.Context {
	return s.ctx
}

// Lost reports whether renewal failed while the session was held.
func (s *LockSession) Lost() bool {
	return s.lost.Load()
}

// Release closes the session and logs when the lock was lost before it,
// which means the guarded work did not run exclusively.
func (s *LockSession) Release() {
	if s.Lost() {
		log.Error("redis lock: lost before release", "key", s.key)
	}
	s.Close()
}

func (s *LockSession) Close() {
	s.closeOnce.Do(func() {
		close(s.stopRenew)
		s.cancel()
		if err := s.releaseLock(); err != nil {
			log.Warn("redis lock: release failed", "key", s.key, "error", err)
		}
	})
}

func (s *LockSession) renewLoop() {
	interval := s.ttl / defaultRenewalFraction
	if interval < minRenewalInterval {
		interval = minRenewalInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopRenew:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.renewLock(); err != nil {
				log.Warn("redis lock: renewal failed", "key", s.key, "error", err)
				s.lost.Store(true)
				s.cancel()
				return
			}
		}
	}
}

func (s *LockSession) renewLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	res, err := renewScript.Run(ctx, s.client, []string{s.key}, s.value, s.ttl.Milliseconds()).Result()
	if err != nil {
		return err
	}

	if updated, ok := res.(int64); ok && updated == 0 {
		return ErrLockLost
	}

	return nil
}

func (s *LockSession) releaseLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	_, err := releaseScript.Run(ctx, s.client, []string{s.key}, s.value).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func generateLockToken() string {
	host, _ := os.Hostname()
	counter := lockCounter.Add(1)
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), counter)
}
