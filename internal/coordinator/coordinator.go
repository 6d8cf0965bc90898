// Package coordinator runs the fixed worker pool that drives a run.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stampede/internal/core"
	"stampede/internal/discovery"
	httpexec "stampede/internal/http"
	"stampede/internal/ratelimit"
	"stampede/internal/source"
	"stampede/internal/stop"
	"stampede/internal/template"
)

// ErrNoReachableTarget is returned when every request of a run failed name
// resolution.
var ErrNoReachableTarget = errors.New("no target could be reached: every request failed DNS resolution")

// Executor issues one expanded request. *httpexec.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, r httpexec.Request) httpexec.Response
}

// Discoverer consumes fetched pages in discover mode. *discovery.Engine
// satisfies it.
type Discoverer interface {
	Discover(p discovery.Page) int
}

// Gauge tracks the number of in-flight requests. prometheus.Gauge satisfies
// it.
type Gauge interface {
	Inc()
	Dec()
}

// Config wires a Coordinator.
type Config struct {
	Concurrency int
	Source      source.Source
	Executor    Executor
	Reporter    core.Reporter
	Stop        *stop.Controller

	// Optional.
	Discovery       Discoverer
	RateLimiter     *ratelimit.RateLimiter
	InFlight        Gauge
	RandomArguments bool
	Logger          *zap.Logger
}

// Coordinator owns the worker goroutines of a run.
type Coordinator struct {
	cfg       Config
	templates template.Cache
	pullFirst bool

	inFlight atomic.Int64
	peak     atomic.Int64
	results  atomic.Int64
	dnsFails atomic.Int64
}

// NewCoordinator creates a coordinator. Reporter defaults to
// core.NullReporter and Logger to a no-op logger.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Reporter == nil {
		cfg.Reporter = core.NullReporter
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	b, ok := cfg.Source.(source.Blocking)
	return &Coordinator{cfg: cfg, pullFirst: ok && b.Blocking()}
}

// Run starts exactly Concurrency workers and blocks until all of them have
// returned. Cancelling ctx stops the run with the interrupted reason;
// in-flight requests still finish. The stop controller is Stopped when Run
// returns.
func (c *Coordinator) Run(ctx context.Context) error {
	release := context.AfterFunc(ctx, func() {
		c.cfg.Stop.Trigger(stop.ReasonInterrupted)
	})
	defer release()

	var g errgroup.Group
	for id := 1; id <= c.cfg.Concurrency; id++ {
		g.Go(func() error {
			c.worker(id)
			return nil
		})
	}
	err := g.Wait()
	c.cfg.Stop.Finish()
	if err != nil {
		return err
	}

	if n := c.results.Load(); n > 0 && c.dnsFails.Load() == n {
		return ErrNoReachableTarget
	}
	return nil
}

func (c *Coordinator) worker(id int) {
	src := c.cfg.Source
	ctl := c.cfg.Stop
	for ctl.State() == stop.Running {
		if !c.step(id) {
			return
		}
		ctl.Evaluate(src.Exhausted())
	}
}

// step issues at most one request. It returns false when the worker should
// exit. Blocking sources are pulled before a slot is reserved, since a pull
// may wait for work that never comes; the others are pulled only after
// admission so every pulled item is issued and a cycle has no gaps.
func (c *Coordinator) step(id int) bool {
	src := c.cfg.Source
	ctl := c.cfg.Stop

	if c.pullFirst {
		item, ok := src.Next(ctl.Context())
		if !ok {
			ctl.Evaluate(src.Exhausted())
			return false
		}
		admitted := c.admit()
		if admitted {
			c.issue(id, item)
		}
		src.Done(item)
		return admitted
	}

	if src.Exhausted() {
		ctl.Evaluate(true)
		return false
	}
	if !c.admit() {
		return false
	}
	item, ok := src.Next(context.Background())
	if !ok {
		// Unreachable for non-blocking sources that are not exhausted.
		c.report(core.RequestResult{
			Failure:   core.FailureProtocol,
			Err:       errors.New("work source returned no item"),
			Timestamp: time.Now(),
		})
		return false
	}
	c.issue(id, item)
	src.Done(item)
	return true
}

// admit waits for the rate limiter and reserves a request slot. It returns
// false when the run is stopping.
func (c *Coordinator) admit() bool {
	ctl := c.cfg.Stop
	if err := c.cfg.RateLimiter.Wait(ctl.Context()); err != nil {
		return false
	}
	return ctl.Admit()
}

// issue executes an admitted item and reports exactly one result for it.
func (c *Coordinator) issue(id int, item core.WorkItem) {
	var reported bool
	defer c.recoverPanic(id, item, &reported)

	req, err := c.expand(item)
	if err != nil {
		reported = true
		c.report(core.RequestResult{
			URL:       item.URL,
			Method:    item.Method,
			Failure:   core.FailureProtocol,
			Err:       err,
			Timestamp: time.Now(),
		})
		return
	}

	resp := c.execute(req)
	reported = true
	c.report(resp.Result)

	if c.cfg.Discovery != nil && resp.FinalURL != nil {
		c.cfg.Discovery.Discover(discovery.Page{
			URL:         resp.FinalURL,
			StatusCode:  resp.Result.StatusCode,
			ContentType: resp.ContentType,
			Body:        resp.Body,
		})
	}
}

// execute runs one request. In-flight requests are never cancelled by a
// stop; the executor's own timeout bounds them.
func (c *Coordinator) execute(req httpexec.Request) httpexec.Response {
	c.enter()
	defer c.leave()
	return c.cfg.Executor.Execute(context.Background(), req)
}

func (c *Coordinator) expand(item core.WorkItem) (httpexec.Request, error) {
	random := c.cfg.RandomArguments
	req := httpexec.Request{Method: item.Method, URL: item.URL}

	if !item.Literal {
		t, err := c.templates.Get(item.URL)
		if err != nil {
			return req, fmt.Errorf("url: %w", err)
		}
		req.URL = t.Render(random)
	}

	if len(item.Headers) > 0 {
		req.Headers = make(map[string]string, len(item.Headers))
		for k, v := range item.Headers {
			t, err := c.templates.Get(v)
			if err != nil {
				return req, fmt.Errorf("header %q: %w", k, err)
			}
			req.Headers[k] = t.Render(random)
		}
	}

	if item.Body != "" {
		t, err := c.templates.Get(item.Body)
		if err != nil {
			return req, fmt.Errorf("body: %w", err)
		}
		req.Body = t.Render(random)
	}
	return req, nil
}

func (c *Coordinator) report(r core.RequestResult) {
	c.results.Add(1)
	if r.Failure == core.FailureDNS {
		c.dnsFails.Add(1)
	}
	c.cfg.Reporter.Report(r)
}

func (c *Coordinator) enter() {
	n := c.inFlight.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if c.cfg.InFlight != nil {
		c.cfg.InFlight.Inc()
	}
}

func (c *Coordinator) leave() {
	c.inFlight.Add(-1)
	if c.cfg.InFlight != nil {
		c.cfg.InFlight.Dec()
	}
}

// recoverPanic recovers from a panic while processing an item. A panic
// before the result was reported becomes a failed request, so the admitted
// request is still accounted for; a later one (in discovery or a reporter)
// is only logged.
func (c *Coordinator) recoverPanic(workerID int, item core.WorkItem, reported *bool) {
	r := recover()
	if r == nil {
		return
	}
	if *reported {
		c.cfg.Logger.Error("panic after request was reported",
			zap.Int("worker", workerID),
			zap.String("url", item.URL),
			zap.Any("panic", r),
		)
		return
	}
	c.report(core.RequestResult{
		URL:       item.URL,
		Method:    item.Method,
		Failure:   core.FailureProtocol,
		Err:       fmt.Errorf("worker %d: panic: %v", workerID, r),
		Timestamp: time.Now(),
	})
}

// InFlight returns the number of requests currently executing.
func (c *Coordinator) InFlight() int {
	return int(c.inFlight.Load())
}

// PeakInFlight returns the highest number of concurrently executing requests
// observed.
func (c *Coordinator) PeakInFlight() int {
	return int(c.peak.Load())
}
