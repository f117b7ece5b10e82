package provisioning

import (
	"context"
	"sync"
)

// Locker serializes provisioning runs. The Redis lock in support satisfies
// it for multi-instance deployments.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// LocalLocker serializes runs within one process.
type LocalLocker struct {
	slot chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slot: make(chan struct{}, 1)}
}

func (l *LocalLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.slot }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
