package browser_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/internal/browser"
)

type fakeRuntime struct {
	mu       sync.Mutex
	spawns   int32
	stops    int32
	stopped  map[string]bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{stopped: make(map[string]bool)}
}

func (f *fakeRuntime) Spawn(_ context.Context, conversationID string) (browser.Handle, error) {
	n := atomic.AddInt32(&f.spawns, 1)
	return browser.Handle{ConversationID: conversationID, ContainerID: fmt.Sprintf("c%d", n)}, nil
}

func (f *fakeRuntime) Stop(_ context.Context, h browser.Handle) error {
	atomic.AddInt32(&f.stops, 1)
	f.mu.Lock()
	f.stopped[h.ContainerID] = true
	f.mu.Unlock()
	return nil
}

func fixedLimits(idle time.Duration, max int) browser.LimitsFunc {
	return func() browser.Limits { return browser.Limits{IdleTimeout: idle, MaxSessions: max} }
}

func TestAcquire_ReusesExistingSession(t *testing.T) {
	rt := newFakeRuntime()
	p := browser.NewPool(rt, fixedLimits(time.Hour, 4), nil)

	h1, err := p.Acquire(context.Background(), "conv1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	h2, err := p.Acquire(context.Background(), "conv1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h1.ContainerID != h2.ContainerID {
		t.Fatalf("expected same container, got %q and %q", h1.ContainerID, h2.ContainerID)
	}
	if atomic.LoadInt32(&rt.spawns) != 1 {
		t.Fatalf("expected exactly 1 spawn, got %d", rt.spawns)
	}
}

func TestAcquire_EvictsLRUAtCapacity(t *testing.T) {
	rt := newFakeRuntime()
	p := browser.NewPool(rt, fixedLimits(time.Hour, 2), nil)

	ctx := context.Background()
	if _, err := p.Acquire(ctx, "conv1"); err != nil {
		t.Fatalf("acquire conv1: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := p.Acquire(ctx, "conv2"); err != nil {
		t.Fatalf("acquire conv2: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", p.Len())
	}

	if _, err := p.Acquire(ctx, "conv3"); err != nil {
		t.Fatalf("acquire conv3: %v", err)
	}

	// eviction of the LRU session happens synchronously before spawn
	if p.Len() != 2 {
		t.Fatalf("expected pool capped at 2 after eviction, got %d", p.Len())
	}
}

func TestRelease_StopsSession(t *testing.T) {
	rt := newFakeRuntime()
	p := browser.NewPool(rt, fixedLimits(time.Hour, 4), nil)

	if _, err := p.Acquire(context.Background(), "conv1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release("conv1")

	if p.Len() != 0 {
		t.Fatalf("expected 0 sessions after release, got %d", p.Len())
	}
	if atomic.LoadInt32(&rt.stops) != 1 {
		t.Fatalf("expected 1 stop, got %d", rt.stops)
	}
}

func TestAcquire_IdleTimeoutReleasesSession(t *testing.T) {
	rt := newFakeRuntime()
	p := browser.NewPool(rt, fixedLimits(20*time.Millisecond, 4), nil)

	if _, err := p.Acquire(context.Background(), "conv1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for p.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.Len() != 0 {
		t.Fatal("expected session to be released after idle timeout")
	}
}

func TestOnNewSession_FiresOnlyOnLaunch(t *testing.T) {
	rt := newFakeRuntime()
	p := browser.NewPool(rt, fixedLimits(time.Hour, 4), nil)

	var fires int32
	p.OnNewSession(func(conversationID string, h browser.Handle) {
		atomic.AddInt32(&fires, 1)
	})

	ctx := context.Background()
	if _, err := p.Acquire(ctx, "conv1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := p.Acquire(ctx, "conv1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if atomic.LoadInt32(&fires) != 1 {
		t.Fatalf("expected onNewSession to fire once, got %d", fires)
	}
}

func TestReleaseAll_StopsEverySession(t *testing.T) {
	rt := newFakeRuntime()
	p := browser.NewPool(rt, fixedLimits(time.Hour, 4), nil)

	ctx := context.Background()
	for _, id := range []string{"conv1", "conv2", "conv3"} {
		if _, err := p.Acquire(ctx, id); err != nil {
			t.Fatalf("acquire %s: %v", id, err)
		}
	}

	p.ReleaseAll()
	if p.Len() != 0 {
		t.Fatalf("expected 0 sessions after ReleaseAll, got %d", p.Len())
	}
}
