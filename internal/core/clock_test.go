package core

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var clock Clock = RealClock{}
	before := time.Now()
	now := clock.Now()
	if now.Before(before) {
		t.Errorf("Now() = %v is before %v", now, before)
	}

	time.Sleep(5 * time.Millisecond)
	if elapsed := clock.Since(before); elapsed < 5*time.Millisecond {
		t.Errorf("Since() = %v, expected >= 5ms", elapsed)
	}
}

func TestFakeClock_OnlyMovesWhenAdvanced(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var clock Clock = NewFakeClock(start)

	time.Sleep(time.Millisecond)
	if clock.Since(start) != 0 {
		t.Fatalf("Since(start) = %v before any Advance", clock.Since(start))
	}

	fake := clock.(*FakeClock)
	fake.Advance(90 * time.Second)
	fake.Advance(30 * time.Second)

	if got := clock.Since(start); got != 2*time.Minute {
		t.Errorf("Since(start) = %v, want 2m", got)
	}
	if want := start.Add(2 * time.Minute); !clock.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", clock.Now(), want)
	}
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	start := time.Unix(0, 0)
	clock := NewFakeClock(start)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Since(start)
		}()
	}
	wg.Wait()

	if got := clock.Since(start); got != 50*time.Second {
		t.Errorf("Since(start) = %v after 50 concurrent advances, want 50s", got)
	}
}
