package relay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestKeepalivePushesOnInterval(t *testing.T) {
	var pushes atomic.Int64
	k := newKeepalive(5*time.Millisecond, func(context.Context) error {
		pushes.Add(1)
		return nil
	}, zap.NewNop())
	defer k.stop(true)

	k.ensure()
	waitUntil(t, func() bool { return pushes.Load() >= 3 }, "keepalive pushes")
}

func TestKeepaliveEnsureIsIdempotent(t *testing.T) {
	var pushes atomic.Int64
	k := newKeepalive(5*time.Millisecond, func(context.Context) error {
		pushes.Add(1)
		return nil
	}, zap.NewNop())
	defer k.stop(true)

	k.ensure()
	k.ensure()
	k.ensure()
	if !k.running() {
		t.Fatal("keepalive not running after ensure")
	}

	// A rough upper bound catches a doubled ticker: three ensures must not
	// triple the push rate.
	time.Sleep(60 * time.Millisecond)
	if got := pushes.Load(); got > 20 {
		t.Errorf("pushes = %d, more than one loop appears to be running", got)
	}
}

func TestKeepalivePermanentStop(t *testing.T) {
	k := newKeepalive(5*time.Millisecond, func(context.Context) error { return nil }, zap.NewNop())

	k.ensure()
	k.stop(true)
	if k.running() {
		t.Fatal("keepalive running after permanent stop")
	}

	k.ensure()
	if k.running() {
		t.Error("keepalive restarted after permanent stop")
	}
}

func TestKeepaliveTemporaryStopAllowsRestart(t *testing.T) {
	k := newKeepalive(5*time.Millisecond, func(context.Context) error { return nil }, zap.NewNop())
	defer k.stop(true)

	k.ensure()
	k.stop(false)
	if k.running() {
		t.Fatal("keepalive running after stop")
	}

	k.ensure()
	if !k.running() {
		t.Error("keepalive did not restart after a temporary stop")
	}
}
