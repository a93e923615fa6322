package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestAdmitWithinWindow(t *testing.T) {
	t.Parallel()

	l := New(Config{Window: time.Minute, MaxEvents: 3})
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		if !l.Admit(1, now) {
			t.Fatalf("Admit() #%d = false, want true", i+1)
		}
	}
	if l.Admit(1, now) {
		t.Fatal("Admit() beyond threshold = true, want false")
	}

	// Other identities are unaffected.
	if !l.Admit(2, now) {
		t.Error("Admit() for another identity = false, want true")
	}

	// One event's worth of tokens comes back after window/maxEvents.
	if !l.Admit(1, now.Add(20*time.Second)) {
		t.Error("Admit() after refill = false, want true")
	}
}

func TestEvictDropsIdleIdentities(t *testing.T) {
	t.Parallel()

	l := New(Config{Window: time.Minute, MaxEvents: 1})
	now := time.Unix(1_700_000_000, 0)

	l.Admit(1, now)
	l.Admit(2, now.Add(50*time.Second))

	if got := l.Evict(now.Add(70 * time.Second)); got != 1 {
		t.Fatalf("Evict() = %d, want 1", got)
	}
	if got := l.Tracked(); got != 1 {
		t.Errorf("Tracked() = %d, want 1", got)
	}
}

func TestTrackedKeysAreBounded(t *testing.T) {
	t.Parallel()

	l := New(Config{Window: time.Minute, MaxEvents: 5, MaxTrackedKeys: 8})
	now := time.Unix(1_700_000_000, 0)

	for id := 0; id < 100; id++ {
		l.Admit(id, now)
	}
	if got := l.Tracked(); got > 8 {
		t.Errorf("Tracked() = %d, want at most 8", got)
	}
}

func TestAdmitConcurrentSameIdentity(t *testing.T) {
	t.Parallel()

	const maxEvents = 10
	l := New(Config{Window: time.Hour, MaxEvents: maxEvents})
	now := time.Unix(1_700_000_000, 0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit(7, now) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != maxEvents {
		t.Errorf("admitted = %d, want %d", admitted, maxEvents)
	}
}
