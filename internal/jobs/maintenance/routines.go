package maintenance

import (
	"context"
	"errors"
	"time"

	"vpngw/internal/ippool"
	"vpngw/internal/provisioning"
	"vpngw/internal/support"

	"github.com/charmbracelet/log"
)

const (
	defaultInterval   = 5 * time.Minute
	ccdCleanupLockKey = "vpngw:leader:ccd_cleanup"
)

type Resyncer interface {
	Resync(ctx context.Context) (ippool.Status, error)
}

type Sweeper interface {
	SweepClientConfigs(ctx context.Context, dir provisioning.ClientConfigDir) ([]string, error)
}

// StartPoolResyncRoutine rebuilds the local allocator from the store every
// interval until ctx is done. Every instance runs it.
func StartPoolResyncRoutine(ctx context.Context, service Resyncer, interval time.Duration) {
	runEvery(ctx, interval, func(ctx context.Context) {
		runPoolResync(ctx, service)
	})
}

// StartClientConfigCleanupRoutine removes orphaned client config files every
// interval. With Redis configured only the elected leader sweeps.
func StartClientConfigCleanupRoutine(ctx context.Context, service Sweeper, dir provisioning.ClientConfigDir, interval time.Duration) {
	if ctx == nil {
		ctx = context.Background()
	}

	loop := func(ctx context.Context) {
		runEvery(ctx, interval, func(ctx context.Context) {
			runClientConfigCleanup(ctx, service, dir)
		})
	}

	if !support.RedisConfigured() {
		loop(ctx)
		return
	}

	err := support.RunWithLeader(ctx, ccdCleanupLockKey, support.DefaultLeadershipTTL, loop)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Client config cleanup routine stopped", "error", err)
	}
}

func runEvery(ctx context.Context, interval time.Duration, run func(context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	if interval <= 0 {
		interval = defaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

func runPoolResync(ctx context.Context, service Resyncer) {
	start := time.Now()
	status, err := service.Resync(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("Failed to resync ip pool", "error", err)
		}
		return
	}
	log.Debug("IP pool resynced", "allocated", status.Allocated, "free", status.Free, "duration", time.Since(start))
}

func runClientConfigCleanup(ctx context.Context, service Sweeper, dir provisioning.ClientConfigDir) {
	start := time.Now()
	removed, err := service.SweepClientConfigs(ctx, dir)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("Failed to sweep client configs", "error", err)
		}
		return
	}
	if len(removed) == 0 {
		return
	}

	log.Info(
		"Orphaned client configs removed",
		"removed", len(removed),
		"common_names", removed,
		"duration", time.Since(start),
	)
}
