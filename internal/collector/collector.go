// Package collector aggregates request results from concurrent workers and
// computes run metrics.
package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/codahale/hdrhistogram"
	"go.uber.org/zap"

	"stampede/internal/core"
)

const (
	// histogramMin and histogramMax bound recorded latencies, in microseconds.
	histogramMin = 1
	histogramMax = int64(time.Hour / time.Microsecond)
	histogramSig = 3
)

// Collector aggregates results from workers. Report is safe for concurrent
// use; counters are atomic and the latency fold holds a short mutex section.
type Collector struct {
	clock core.Clock
	start time.Time

	total   atomic.Int64
	success atomic.Int64
	bytes   atomic.Int64
	fails   map[core.FailureKind]*atomic.Int64

	mu       sync.Mutex
	hist     *hdrhistogram.Histogram
	min      time.Duration
	max      time.Duration
	sum      float64
	sumSq    float64
	statuses map[int]int64
	end      time.Time

	observers []core.Reporter
	logger    *zap.Logger
	verbose   bool
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock sets the clock used for elapsed time.
func WithClock(clock core.Clock) Option {
	return func(c *Collector) { c.clock = clock }
}

// WithLogger sets the logger for per-request outcome lines. With verbose set
// every outcome is logged, otherwise only failures.
func WithLogger(logger *zap.Logger, verbose bool) Option {
	return func(c *Collector) {
		c.logger = logger
		c.verbose = verbose
	}
}

// WithObserver registers a reporter that receives every result after it has
// been aggregated.
func WithObserver(obs core.Reporter) Option {
	return func(c *Collector) { c.observers = append(c.observers, obs) }
}

// NewCollector creates a Collector. The run clock starts now.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		clock:    core.RealClock{},
		fails:    make(map[core.FailureKind]*atomic.Int64, len(core.FailureKinds)),
		hist:     hdrhistogram.New(histogramMin, histogramMax, histogramSig),
		statuses: make(map[int]int64),
		logger:   zap.NewNop(),
	}
	for _, kind := range core.FailureKinds {
		c.fails[kind] = new(atomic.Int64)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.start = c.clock.Now()
	return c
}

// Report folds one result into the aggregate. Thread-safe.
func (c *Collector) Report(r core.RequestResult) {
	c.total.Add(1)
	c.bytes.Add(r.Bytes)
	if r.Success() {
		c.success.Add(1)
	} else if counter, ok := c.fails[r.Failure]; ok {
		counter.Add(1)
	} else {
		c.fails[core.FailureProtocol].Add(1)
	}

	micros := r.Latency.Microseconds()
	if micros < histogramMin {
		micros = histogramMin
	} else if micros > histogramMax {
		micros = histogramMax
	}
	secs := r.Latency.Seconds()

	c.mu.Lock()
	_ = c.hist.RecordValue(micros) // bounded above, cannot fail
	if c.hist.TotalCount() == 1 || r.Latency < c.min {
		c.min = r.Latency
	}
	if r.Latency > c.max {
		c.max = r.Latency
	}
	c.sum += secs
	c.sumSq += secs * secs
	if r.Success() {
		c.statuses[r.StatusCode]++
	}
	c.mu.Unlock()

	c.logResult(r)

	for _, obs := range c.observers {
		obs.Report(r)
	}
}

func (c *Collector) logResult(r core.RequestResult) {
	if r.Success() {
		if c.verbose {
			c.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("url", r.URL),
				zap.Int("status", r.StatusCode),
				zap.Duration("latency", r.Latency),
				zap.Int64("bytes", r.Bytes),
			)
		}
		return
	}
	c.logger.Warn("request failed",
		zap.String("method", r.Method),
		zap.String("url", r.URL),
		zap.String("kind", string(r.Failure)),
		zap.Duration("latency", r.Latency),
		zap.Error(r.Err),
	)
}

// Close marks the end of the run. Elapsed time stops advancing.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.end.IsZero() {
		c.end = c.clock.Now()
	}
	c.mu.Unlock()
}

// Duration returns the run duration: start to Close, or start to now while
// still running.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	end := c.end
	c.mu.Unlock()
	if !end.IsZero() {
		return end.Sub(c.start)
	}
	return c.clock.Since(c.start)
}

// Total returns the number of results reported so far.
func (c *Collector) Total() int64 { return c.total.Load() }

// Failures returns the number of failed results for kind.
func (c *Collector) Failures(kind core.FailureKind) int64 {
	if counter, ok := c.fails[kind]; ok {
		return counter.Load()
	}
	return 0
}

// Snapshot is a point-in-time summary used for progress output.
type Snapshot struct {
	Elapsed        time.Duration
	Total          int64
	Success        int64
	Failures       int64
	RequestsPerSec float64
	ErrorRate      float64
	MeanLatency    time.Duration
}

// Snapshot returns current counters without blocking workers for longer than
// a copy of the latency sum.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Elapsed: c.Duration(),
		Total:   c.total.Load(),
		Success: c.success.Load(),
	}
	s.Failures = s.Total - s.Success

	c.mu.Lock()
	sum := c.sum
	count := c.hist.TotalCount()
	c.mu.Unlock()

	if s.Elapsed > 0 {
		s.RequestsPerSec = float64(s.Total) / s.Elapsed.Seconds()
	}
	if s.Total > 0 {
		s.ErrorRate = float64(s.Failures) / float64(s.Total) * 100
	}
	if count > 0 {
		s.MeanLatency = time.Duration(sum / float64(count) * float64(time.Second))
	}
	return s
}

// Compute returns the full metrics of the run so far.
func (c *Collector) Compute() *Metrics {
	elapsed := c.Duration()

	m := &Metrics{
		TotalRequests:  c.total.Load(),
		SuccessCount:   c.success.Load(),
		TotalBytes:     c.bytes.Load(),
		TestDuration:   elapsed,
		FailuresByKind: make(map[core.FailureKind]int64),
	}

	for kind, counter := range c.fails {
		if n := counter.Load(); n > 0 {
			m.FailuresByKind[kind] = n
		}
	}

	c.mu.Lock()
	m.Duration = computeDurationMetrics(c.hist, c.min, c.max, c.sum, c.sumSq)
	m.StatusCodes = make(map[int]int64, len(c.statuses))
	for code, n := range c.statuses {
		m.StatusCodes[code] = n
	}
	c.mu.Unlock()

	finishMetrics(m)
	return m
}
