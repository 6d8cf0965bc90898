package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stampede/internal/collector"
	"stampede/internal/core"
	"stampede/internal/discovery"
	httpexec "stampede/internal/http"
	"stampede/internal/ratelimit"
	"stampede/internal/source"
	"stampede/internal/stop"
)

// mockExecutor records requests and tracks its own concurrency.
type mockExecutor struct {
	delay   time.Duration
	failure core.FailureKind
	panicOn string

	mu       sync.Mutex
	requests []httpexec.Request
	active   atomic.Int32
	maxSeen  atomic.Int32
}

func (m *mockExecutor) Execute(ctx context.Context, r httpexec.Request) httpexec.Response {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxSeen.Load()
		if n <= cur || m.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.mu.Unlock()

	if r.URL == m.panicOn {
		panic("boom")
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	result := core.RequestResult{URL: r.URL, Method: r.Method, Latency: m.delay, Timestamp: time.Now()}
	if m.failure != core.FailureNone {
		result.Failure = m.failure
		result.Err = errors.New(string(m.failure))
		return httpexec.Response{Result: result}
	}
	result.StatusCode = http.StatusOK
	u, _ := url.Parse(r.URL)
	return httpexec.Response{Result: result, FinalURL: u}
}

func (m *mockExecutor) urls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.URL
	}
	return out
}

func fileItems(urls ...string) []core.WorkItem {
	items := make([]core.WorkItem, len(urls))
	for i, u := range urls {
		items[i] = core.WorkItem{URL: u, Method: http.MethodGet}
	}
	return items
}

func TestCoordinator_InFlightNeverExceedsConcurrency(t *testing.T) {
	c := collector.NewCollector()
	exec := &mockExecutor{delay: 2 * time.Millisecond}
	ctl := stop.NewController(stop.Options{MaxRequests: 200})

	coord := NewCoordinator(Config{
		Concurrency: 4,
		Source:      source.NewSingle(core.WorkItem{URL: "http://example.com/", Method: "GET"}),
		Executor:    exec,
		Reporter:    c,
		Stop:        ctl,
	})
	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Close()

	if peak := coord.PeakInFlight(); peak > 4 || peak < 1 {
		t.Errorf("PeakInFlight() = %d, want 1..4", peak)
	}
	if got := exec.maxSeen.Load(); got > 4 {
		t.Errorf("executor saw %d concurrent requests, want <= 4", got)
	}
	if coord.InFlight() != 0 {
		t.Errorf("InFlight() = %d after Run, want 0", coord.InFlight())
	}
	if c.Total() != 200 {
		t.Errorf("collected %d results, want exactly 200", c.Total())
	}
	if ctl.State() != stop.Stopped {
		t.Errorf("controller state = %v, want stopped", ctl.State())
	}
}

func TestCoordinator_FileModeCyclesExactCount(t *testing.T) {
	c := collector.NewCollector()
	exec := &mockExecutor{}
	ctl := stop.NewController(stop.Options{MaxRequests: 10})

	coord := NewCoordinator(Config{
		Concurrency: 4,
		Source:      source.NewFile(fileItems("http://a.test/", "http://b.test/", "http://c.test/")),
		Executor:    exec,
		Reporter:    c,
		Stop:        ctl,
	})
	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Close()

	counts := make(map[string]int)
	for _, u := range exec.urls() {
		counts[u]++
	}
	if len(exec.urls()) != 10 {
		t.Fatalf("issued %d requests, want exactly 10", len(exec.urls()))
	}
	// Slots are reserved before the pull, so ten requests take positions
	// 0..9 of the cycle a,b,c,a,... with no gaps.
	want := map[string]int{"http://a.test/": 4, "http://b.test/": 3, "http://c.test/": 3}
	for u, n := range want {
		if counts[u] != n {
			t.Errorf("%s requested %d times, want %d (%v)", u, counts[u], n, counts)
		}
	}
	if ctl.Reason() != stop.ReasonRequestLimit {
		t.Errorf("Reason() = %q, want request-limit", ctl.Reason())
	}
}

func TestCoordinator_SingleModeDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := collector.NewCollector()
	ctl := stop.NewController(stop.Options{Duration: 300 * time.Millisecond})
	exec := httpexec.NewExecutor(httpexec.NewClient(httpexec.ClientOptions{ConnectTimeout: time.Second, Concurrency: 1}),
		httpexec.Options{Timeout: time.Second}, nil)

	start := time.Now()
	coord := NewCoordinator(Config{
		Concurrency: 1,
		Source:      source.NewSingle(core.WorkItem{URL: srv.URL, Method: http.MethodGet}),
		Executor:    exec,
		Reporter:    c,
		Stop:        ctl,
	})
	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Close()
	elapsed := time.Since(start)

	m := c.Compute()
	if m.TotalRequests < 1 {
		t.Error("expected at least one request")
	}
	if m.FailureCount != 0 {
		t.Errorf("expected no failures, got %d", m.FailureCount)
	}
	if m.SuccessCount+m.FailureCount != m.TotalRequests {
		t.Errorf("success %d + failures %d != total %d", m.SuccessCount, m.FailureCount, m.TotalRequests)
	}
	if ctl.Reason() != stop.ReasonDuration {
		t.Errorf("Reason() = %q, want duration", ctl.Reason())
	}
	// Stop within one total timeout after the trigger.
	if elapsed > 300*time.Millisecond+time.Second {
		t.Errorf("run took %v, longer than duration plus grace", elapsed)
	}
}

// siteServer serves a seed page linking to two pages which link back.
func siteServer(t *testing.T, hits *sync.Map) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/":  `<a href="/a">A</a> <a href="/b">B</a>`,
		"/a": `<a href="/">home</a> <a href="/b">B</a>`,
		"/b": `<a href="/a#x">A</a> <a href="https://elsewhere.test/">out</a>`,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		v, _ := hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		v.(*atomic.Int32).Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, "<html><body>"+body+"</body></html>")
	}))
}

func TestCoordinator_DiscoverExhaustsSite(t *testing.T) {
	var hits sync.Map
	srv := siteServer(t, &hits)
	defer srv.Close()

	seedURL, _ := url.Parse(srv.URL + "/")
	seed := core.WorkItem{URL: seedURL.String(), Method: http.MethodGet}

	frontier := source.NewFrontier(seed)
	engine := discovery.NewEngine(discovery.Config{
		SeedHost:          seedURL.Hostname(),
		PreventDuplicates: true,
		Template:          core.WorkItem{Method: http.MethodGet},
	}, frontier)
	engine.MarkVisited(seed.URL)

	exec := httpexec.NewExecutor(httpexec.NewClient(httpexec.ClientOptions{ConnectTimeout: time.Second, Concurrency: 3}),
		httpexec.Options{Timeout: time.Second, Retain: discovery.Wants}, nil)

	c := collector.NewCollector()
	ctl := stop.NewController(stop.Options{})
	coord := NewCoordinator(Config{
		Concurrency: 3,
		Source:      frontier,
		Executor:    exec,
		Reporter:    c,
		Stop:        ctl,
		Discovery:   engine,
	})

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("discover run did not terminate")
	}
	c.Close()

	if c.Total() != 3 {
		t.Errorf("fetched %d pages, want 3", c.Total())
	}
	for _, path := range []string{"/", "/a", "/b"} {
		v, ok := hits.Load(path)
		if !ok || v.(*atomic.Int32).Load() != 1 {
			t.Errorf("page %s fetched %v times, want exactly 1", path, v)
		}
	}
	if ctl.Reason() != stop.ReasonExhausted {
		t.Errorf("Reason() = %q, want work-exhausted", ctl.Reason())
	}
}

func TestCoordinator_RandomHeaderWithinBounds(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]int)
	var bad atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(r.Header.Get("X-Id"))
		if err != nil || n < 1 || n > 5 {
			bad.Add(1)
			return
		}
		mu.Lock()
		seen[n]++
		mu.Unlock()
	}))
	defer srv.Close()

	c := collector.NewCollector()
	exec := httpexec.NewExecutor(httpexec.NewClient(httpexec.ClientOptions{ConnectTimeout: time.Second, Concurrency: 4}),
		httpexec.Options{Timeout: time.Second}, nil)
	coord := NewCoordinator(Config{
		Concurrency: 4,
		Source: source.NewSingle(core.WorkItem{
			URL:     srv.URL,
			Method:  http.MethodGet,
			Headers: map[string]string{"X-Id": "%RAND(1,5)%"},
		}),
		Executor:        exec,
		Reporter:        c,
		Stop:            stop.NewController(stop.Options{MaxRequests: 100}),
		RandomArguments: true,
	})
	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Close()

	if c.Total() != 100 {
		t.Fatalf("issued %d requests, want 100", c.Total())
	}
	if bad.Load() != 0 {
		t.Errorf("%d requests carried an X-Id outside [1,5]", bad.Load())
	}
	if len(seen) < 2 {
		t.Errorf("X-Id never varied: %v", seen)
	}
}

func TestCoordinator_TemplatesLeftLiteralWithoutRandom(t *testing.T) {
	exec := &mockExecutor{}
	coord := NewCoordinator(Config{
		Concurrency: 1,
		Source: source.NewSingle(core.WorkItem{
			URL:     "http://example.com/",
			Method:  http.MethodGet,
			Headers: map[string]string{"X-Id": "%RAND(1,5)%"},
		}),
		Executor: exec,
		Stop:     stop.NewController(stop.Options{MaxRequests: 1}),
	})
	_ = coord.Run(context.Background())

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if got := exec.requests[0].Headers["X-Id"]; got != "%RAND(1,5)%" {
		t.Errorf("X-Id = %q, want the placeholder left as is", got)
	}
}

func TestCoordinator_LiteralItemsSkipExpansion(t *testing.T) {
	exec := &mockExecutor{}
	coord := NewCoordinator(Config{
		Concurrency: 1,
		Source: source.NewSingle(core.WorkItem{
			URL:     "http://example.com/%RAND(1,2)%",
			Method:  http.MethodGet,
			Literal: true,
		}),
		Executor:        exec,
		Stop:            stop.NewController(stop.Options{MaxRequests: 1}),
		RandomArguments: true,
	})
	_ = coord.Run(context.Background())

	if got := exec.urls()[0]; got != "http://example.com/%RAND(1,2)%" {
		t.Errorf("URL = %q, literal item must not be expanded", got)
	}
}

func TestCoordinator_RecoversPanics(t *testing.T) {
	c := collector.NewCollector()
	exec := &mockExecutor{panicOn: "http://b.test/"}
	coord := NewCoordinator(Config{
		Concurrency: 1,
		Source:      source.NewFile(fileItems("http://a.test/", "http://b.test/")),
		Executor:    exec,
		Reporter:    c,
		Stop:        stop.NewController(stop.Options{MaxRequests: 6}),
	})
	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Close()

	if c.Total() != 6 {
		t.Errorf("collected %d results, want 6", c.Total())
	}
	if got := c.Failures(core.FailureProtocol); got != 3 {
		t.Errorf("panics reported as %d protocol failures, want 3", got)
	}
	if coord.InFlight() != 0 {
		t.Errorf("InFlight() = %d after panics, want 0", coord.InFlight())
	}
}

// panickingDiscoverer fails after the page's result was already reported.
type panickingDiscoverer struct{ calls atomic.Int32 }

func (d *panickingDiscoverer) Discover(discovery.Page) int {
	d.calls.Add(1)
	panic("discover failed")
}

func TestCoordinator_PanicAfterReportCountsOnce(t *testing.T) {
	c := collector.NewCollector()
	ctl := stop.NewController(stop.Options{MaxRequests: 3})
	disc := &panickingDiscoverer{}
	coord := NewCoordinator(Config{
		Concurrency: 1,
		Source:      source.NewSingle(core.WorkItem{URL: "http://a.test/", Method: "GET"}),
		Executor:    &mockExecutor{},
		Reporter:    c,
		Stop:        ctl,
		Discovery:   disc,
	})
	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.Close()

	if disc.calls.Load() != 3 {
		t.Errorf("Discover called %d times, want 3", disc.calls.Load())
	}
	if c.Total() != ctl.Issued() {
		t.Errorf("collected %d results for %d issued requests", c.Total(), ctl.Issued())
	}
	if got := c.Failures(core.FailureProtocol); got != 0 {
		t.Errorf("%d protocol failures, want 0: the requests themselves succeeded", got)
	}
}

func TestCoordinator_NoReachableTarget(t *testing.T) {
	coord := NewCoordinator(Config{
		Concurrency: 2,
		Source:      source.NewSingle(core.WorkItem{URL: "http://nope.invalid/", Method: "GET"}),
		Executor:    &mockExecutor{failure: core.FailureDNS},
		Stop:        stop.NewController(stop.Options{MaxRequests: 4}),
	})
	if err := coord.Run(context.Background()); !errors.Is(err, ErrNoReachableTarget) {
		t.Errorf("Run() = %v, want ErrNoReachableTarget", err)
	}
}

func TestCoordinator_InterruptStopsRun(t *testing.T) {
	ctl := stop.NewController(stop.Options{})
	coord := NewCoordinator(Config{
		Concurrency: 3,
		Source:      source.NewSingle(core.WorkItem{URL: "http://example.com/", Method: "GET"}),
		Executor:    &mockExecutor{delay: 5 * time.Millisecond},
		Stop:        ctl,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after interrupt")
	}
	if ctl.Reason() != stop.ReasonInterrupted {
		t.Errorf("Reason() = %q, want interrupted", ctl.Reason())
	}
}

type countingGauge struct {
	cur, max atomic.Int32
}

func (g *countingGauge) Inc() {
	n := g.cur.Add(1)
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (g *countingGauge) Dec() { g.cur.Add(-1) }

func TestCoordinator_DrivesInFlightGauge(t *testing.T) {
	g := &countingGauge{}
	coord := NewCoordinator(Config{
		Concurrency: 2,
		Source:      source.NewSingle(core.WorkItem{URL: "http://example.com/", Method: "GET"}),
		Executor:    &mockExecutor{delay: time.Millisecond},
		Stop:        stop.NewController(stop.Options{MaxRequests: 20}),
		InFlight:    g,
	})
	_ = coord.Run(context.Background())

	if g.cur.Load() != 0 {
		t.Errorf("gauge = %d after run, want 0", g.cur.Load())
	}
	if g.max.Load() < 1 || g.max.Load() > 2 {
		t.Errorf("gauge max = %d, want 1..2", g.max.Load())
	}
}

func TestCoordinator_RateLimit(t *testing.T) {
	coord := NewCoordinator(Config{
		Concurrency: 4,
		Source:      source.NewSingle(core.WorkItem{URL: "http://example.com/", Method: "GET"}),
		Executor:    &mockExecutor{},
		Stop:        stop.NewController(stop.Options{MaxRequests: 30}),
		RateLimiter: ratelimit.NewRateLimiter(20),
	})

	start := time.Now()
	_ = coord.Run(context.Background())
	elapsed := time.Since(start)

	// Evenly paced: 29 gaps of 50ms after the first request.
	if elapsed < time.Second {
		t.Errorf("30 requests at 20/s finished in %v, limiter not applied", elapsed)
	}
}
