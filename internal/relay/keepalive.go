package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// keepalive periodically pushes synthetic silent audio upstream while no
// real microphone audio exists for the session. Starting is idempotent;
// stopping with permanent=true (first real audio, teardown) prevents any
// restart for the rest of the session's life.
type keepalive struct {
	interval time.Duration
	push     func(ctx context.Context) error
	log      *zap.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	disabled bool
}

func newKeepalive(interval time.Duration, push func(ctx context.Context) error, log *zap.Logger) *keepalive {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &keepalive{interval: interval, push: push, log: log}
}

// ensure starts the keepalive loop if it is neither running nor
// permanently disabled. Never creates a second timer.
func (k *keepalive) ensure() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.disabled || k.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	k.log.Debug("silent-audio keepalive started")

	go func() {
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := k.push(ctx); err != nil {
					k.log.Warn("keepalive push failed", zap.Error(err))
				}
			}
		}
	}()
}

// stop cancels the running loop, if any. With permanent=true the keepalive
// can never be started again.
func (k *keepalive) stop(permanent bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		k.cancel()
		k.cancel = nil
		k.log.Debug("silent-audio keepalive stopped")
	}
	if permanent {
		k.disabled = true
	}
}

// running reports whether the loop is currently active. Test hook.
func (k *keepalive) running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cancel != nil
}
