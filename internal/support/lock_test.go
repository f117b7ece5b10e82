package support

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisLockWithoutClient(t *testing.T) {
	if _, err := NewRedisLock(nil, "vpngw:test", time.Second).Acquire(context.Background()); err == nil {
		t.Fatal("Acquire succeeded without a redis client")
	}
}

func TestLockSessionMarksLostWhenRenewalFails(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	session := &LockSession{
		client:    client,
		key:       "vpngw:test:lost",
		value:     generateLockToken(),
		ttl:       time.Second,
		ctx:       ctx,
		cancel:    cancel,
		stopRenew: make(chan struct{}),
	}
	go session.renewLoop()

	select {
	case <-session.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session context not cancelled after failed renewal")
	}
	if !session.Lost() {
		t.Fatal("session not marked lost after failed renewal")
	}
	session.Release()
	session.Release()
}

// Runs against a real Redis when VPNGW_TEST_REDIS_URL is set.
func TestRedisLockExclusion(t *testing.T) {
	url := os.Getenv("VPNGW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("VPNGW_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	key := "vpngw:test:lock:" + generateLockToken()
	first := NewRedisLock(client, key, 2*time.Second).WithRetryDelay(10 * time.Millisecond)
	second := NewRedisLock(client, key, 2*time.Second).WithRetryDelay(10 * time.Millisecond)

	lockCtx, cancelLock := context.WithCancel(context.Background())
	unlock, err := first.Lock(lockCtx)
	if err != nil {
		t.Fatalf("first Lock returned error: %v", err)
	}
	// the holder keeps the lock after its caller goes away
	cancelLock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := second.Lock(ctx); err == nil {
		t.Fatal("second Lock acquired a held lock")
	}

	unlock()
	unlockSecond, err := second.Lock(context.Background())
	if err != nil {
		t.Fatalf("second Lock after release returned error: %v", err)
	}
	unlockSecond()
}
