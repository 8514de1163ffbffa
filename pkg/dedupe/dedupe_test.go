package dedupe

import (
	"fmt"
	"testing"
	"time"
)

func TestCheckAndMarkFirstSight(t *testing.T) {
	t.Parallel()

	cache := New(2 * time.Minute)
	if cache.CheckAndMark("Ev123") {
		t.Fatal("first sighting reported as duplicate")
	}
}

func TestCheckAndMarkDuplicateInsideWindow(t *testing.T) {
	t.Parallel()

	cache := New(2 * time.Minute)
	cache.CheckAndMark("Ev123")
	if !cache.CheckAndMark("Ev123") {
		t.Fatal("redelivery inside window not reported as duplicate")
	}
}

func TestCheckAndMarkExpiredKey(t *testing.T) {
	t.Parallel()

	cache := New(2 * time.Minute)
	current := time.Now()
	cache.now = func() time.Time { return current }

	cache.CheckAndMark("Ev123")

	current = current.Add(2*time.Minute + time.Second)
	if cache.CheckAndMark("Ev123") {
		t.Fatal("expired key reported as duplicate")
	}
}

func TestOpportunisticCollection(t *testing.T) {
	t.Parallel()

	cache := New(time.Minute)
	current := time.Now()
	cache.now = func() time.Time { return current }

	for i := 0; i < gcThreshold; i++ {
		cache.CheckAndMark(fmt.Sprintf("key-%d", i))
	}

	// All prior keys expire; the next mark crosses the threshold and sweeps.
	current = current.Add(2 * time.Minute)
	cache.CheckAndMark("fresh")

	if got := cache.Len(); got != 1 {
		t.Fatalf("Len = %d after sweep, want 1", got)
	}
}
