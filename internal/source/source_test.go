package source

import (
	"context"
	"sync"
	"testing"

	"stampede/internal/core"
)

func items(urls ...string) []core.WorkItem {
	out := make([]core.WorkItem, len(urls))
	for i, u := range urls {
		out[i] = core.WorkItem{URL: u, Method: "GET"}
	}
	return out
}

func TestSingle_RepeatsItem(t *testing.T) {
	src := NewSingle(core.WorkItem{URL: "http://example.com/", Method: "GET"})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		item, ok := src.Next(ctx)
		if !ok {
			t.Fatalf("Next() #%d returned false", i)
		}
		if item.URL != "http://example.com/" {
			t.Errorf("Next() #%d URL = %s", i, item.URL)
		}
		src.Done(item)
	}
	if src.Exhausted() {
		t.Error("single source should never be exhausted")
	}
}

func TestSingle_CancelledContext(t *testing.T) {
	src := NewSingle(core.WorkItem{URL: "http://example.com/"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := src.Next(ctx); ok {
		t.Error("expected Next to fail after cancellation")
	}
}

func TestFile_CyclesInOrder(t *testing.T) {
	src := NewFile(items("http://a/", "http://b/", "http://c/"))
	ctx := context.Background()

	want := []string{"http://a/", "http://b/", "http://c/", "http://a/", "http://b/"}
	for i, w := range want {
		item, ok := src.Next(ctx)
		if !ok {
			t.Fatalf("Next() #%d returned false", i)
		}
		if item.URL != w {
			t.Errorf("Next() #%d = %s, want %s (wrap around)", i, item.URL, w)
		}
	}
}

func TestFile_ConcurrentDistribution(t *testing.T) {
	src := NewFile(items("http://a/", "http://b/", "http://c/"))
	ctx := context.Background()

	const workers, perWorker = 4, 30
	var mu sync.Mutex
	counts := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				item, _ := src.Next(ctx)
				mu.Lock()
				counts[item.URL]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 120 pulls over 3 items: every item exactly 40 times.
	for _, u := range []string{"http://a/", "http://b/", "http://c/"} {
		if counts[u] != 40 {
			t.Errorf("%s pulled %d times, want 40", u, counts[u])
		}
	}
}

func TestFile_Empty(t *testing.T) {
	src := NewFile(nil)
	if _, ok := src.Next(context.Background()); ok {
		t.Error("empty file source should yield nothing")
	}
	if !src.Exhausted() {
		t.Error("empty file source should be exhausted")
	}
}
