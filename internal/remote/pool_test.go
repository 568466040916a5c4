package remote

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/emerald/deadside-tracker/internal/config"
	"github.com/emerald/deadside-tracker/internal/domain"
)

func testPoolConfig() config.PoolConfig {
	return config.PoolConfig{
		AcquireTimeout: 2 * time.Second,
		IdleThreshold:  time.Hour,
		EvictInterval:  time.Hour,
		MaxAttempts:    2,
		BackoffBase:    10 * time.Millisecond,
		BackoffMax:     50 * time.Millisecond,
		DialTimeout:    time.Second,
	}
}

func testTarget(id string) domain.ServerTarget {
	return domain.ServerTarget{ServerID: id, Host: "example.test", Port: 22}
}

func countingDial(dials *atomic.Int32) DialFunc {
	return func(ctx context.Context, target domain.ServerTarget) (FS, error) {
		dials.Add(1)
		return newFakeFS(), nil
	}
}

func TestPoolReusesSession(t *testing.T) {
	var dials atomic.Int32
	p := NewPool(testPoolConfig(), countingDial(&dials), zerolog.Nop())
	defer p.Shutdown()
	ctx := context.Background()

	s1, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s1, false)

	s2, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s2, false)

	if got := dials.Load(); got != 1 {
		t.Errorf("dialed %d times, want 1", got)
	}
	if s1 != s2 {
		t.Error("expected the same session back")
	}
}

func TestPoolSerializesSameTarget(t *testing.T) {
	var dials atomic.Int32
	p := NewPool(testPoolConfig(), countingDial(&dials), zerolog.Nop())
	defer p.Shutdown()
	ctx := context.Background()

	s1, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan *Session)
	go func() {
		s, err := p.Acquire(ctx, testTarget("srv1"))
		if err != nil {
			t.Error(err)
		}
		acquired <- s
	}()

	select {
	case <-acquired:
		t.Fatal("second acquisition completed while the first held the session")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(s1, false)
	select {
	case s2 := <-acquired:
		if s2.State() != SessionInUse {
			t.Errorf("got state %v, want InUse", s2.State())
		}
		p.Release(s2, false)
	case <-time.After(time.Second):
		t.Fatal("second acquisition never completed after release")
	}
}

func TestPoolIndependentTargets(t *testing.T) {
	var dials atomic.Int32
	p := NewPool(testPoolConfig(), countingDial(&dials), zerolog.Nop())
	defer p.Shutdown()
	ctx := context.Background()

	s1, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}
	// A different target must not wait on srv1's token.
	done := make(chan struct{})
	go func() {
		s2, err := p.Acquire(ctx, testTarget("srv2"))
		if err == nil {
			p.Release(s2, false)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquisition for an independent target blocked")
	}
	p.Release(s1, false)
}

func TestPoolBrokenReleaseRedials(t *testing.T) {
	var dials atomic.Int32
	p := NewPool(testPoolConfig(), countingDial(&dials), zerolog.Nop())
	defer p.Shutdown()
	ctx := context.Background()

	s1, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s1, true)

	s2, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s2, false)

	if got := dials.Load(); got != 2 {
		t.Errorf("dialed %d times, want 2 after broken release", got)
	}
}

func TestPoolDialRetriesThenFails(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context, target domain.ServerTarget) (FS, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	p := NewPool(testPoolConfig(), dial, zerolog.Nop())
	defer p.Shutdown()

	_, err := p.Acquire(context.Background(), testTarget("srv1"))
	if err == nil {
		t.Fatal("expected failure after retry exhaustion")
	}
	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %T, want *ConnectionError", err)
	}
	if got := dials.Load(); got != 2 {
		t.Errorf("dialed %d times, want 2", got)
	}
}

func TestPoolShutdownUnblocksAcquire(t *testing.T) {
	var dials atomic.Int32
	p := NewPool(testPoolConfig(), countingDial(&dials), zerolog.Nop())
	ctx := context.Background()

	s1, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}
	_ = s1

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, testTarget("srv1"))
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	p.Shutdown()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("got %v, want ErrPoolClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked acquisition did not unwind on shutdown")
	}

	if _, err := p.Acquire(ctx, testTarget("srv1")); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("got %v, want ErrPoolClosed after shutdown", err)
	}
}

func TestPoolShutdownLeavesHeldSessionToHolder(t *testing.T) {
	dial := func(ctx context.Context, target domain.ServerTarget) (FS, error) {
		return newFakeFS(), nil
	}
	p := NewPool(testPoolConfig(), dial, zerolog.Nop())
	ctx := context.Background()

	held, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}
	idle, err := p.Acquire(ctx, testTarget("srv2"))
	if err != nil {
		t.Fatal(err)
	}
	p.Release(idle, false)

	p.Shutdown()

	if !idle.fs.(*fakeFS).closed {
		t.Error("idle session transport not closed on shutdown")
	}
	if held.fs.(*fakeFS).closed {
		t.Error("held session transport closed out from under its holder")
	}
	if held.State() != SessionInUse {
		t.Errorf("held session state = %v, want InUse", held.State())
	}

	p.Release(held, false)
	if !held.fs.(*fakeFS).closed {
		t.Error("release after shutdown did not close the transport")
	}
	if held.State() != SessionClosed {
		t.Errorf("state after release = %v, want Closed", held.State())
	}
}

func TestPoolEvictIdle(t *testing.T) {
	var dials atomic.Int32
	p := NewPool(testPoolConfig(), countingDial(&dials), zerolog.Nop())
	defer p.Shutdown()
	ctx := context.Background()

	s1, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s1, false)

	p.evictIdle(0)

	s2, err := p.Acquire(ctx, testTarget("srv1"))
	if err != nil {
		t.Fatal(err)
	}
	p.Release(s2, false)
	if got := dials.Load(); got != 2 {
		t.Errorf("dialed %d times, want 2 after eviction", got)
	}
}
