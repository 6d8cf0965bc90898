// Package stop decides when a run ends.
//
// A Controller moves through Running, Stopping and Stopped. The first
// trigger (duration elapsed, request limit reached, work exhausted or an
// interrupt) moves it to Stopping and cancels its context; workers stop
// pulling new work but let in-flight requests finish. Finish moves it to
// Stopped once every worker has returned.
package stop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"stampede/internal/core"
)

// Reason names why a run stopped.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonDuration     Reason = "duration"
	ReasonRequestLimit Reason = "request-limit"
	ReasonExhausted    Reason = "work-exhausted"
	ReasonInterrupted  Reason = "interrupted"
)

// State is the controller's lifecycle state.
type State int32

const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Controller. Zero Duration and zero MaxRequests mean
// no limit of that kind.
type Options struct {
	Duration    time.Duration
	MaxRequests int
	Clock       core.Clock
}

// Controller tracks stop conditions. Safe for concurrent use.
type Controller struct {
	clock       core.Clock
	duration    time.Duration
	maxRequests int64

	start  time.Time
	issued atomic.Int64
	state  atomic.Int32

	mu     sync.Mutex
	reason Reason
	timer  *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a controller in the Running state. The duration
// clock starts now.
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		clock:       opts.Clock,
		duration:    opts.Duration,
		maxRequests: int64(opts.MaxRequests),
		start:       opts.Clock.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}
	if c.duration > 0 {
		// Wakes workers blocked in a pull even when no request completes.
		c.timer = time.AfterFunc(c.duration, func() { c.Trigger(ReasonDuration) })
	}
	return c
}

// Admit reserves one request slot. It returns false once the controller is
// stopping or the request limit is used up; at most MaxRequests calls ever
// return true.
func (c *Controller) Admit() bool {
	if c.State() != Running {
		return false
	}
	if c.durationElapsed() {
		c.Trigger(ReasonDuration)
		return false
	}
	n := c.issued.Add(1)
	if c.maxRequests > 0 && n > c.maxRequests {
		c.issued.Add(-1)
		c.Trigger(ReasonRequestLimit)
		return false
	}
	return true
}

// Evaluate checks the stop conditions after a request completes. exhausted
// reports whether the work source has run dry.
func (c *Controller) Evaluate(exhausted bool) {
	switch {
	case c.maxRequests > 0 && c.issued.Load() >= c.maxRequests:
		c.Trigger(ReasonRequestLimit)
	case c.durationElapsed():
		c.Trigger(ReasonDuration)
	case exhausted:
		c.Trigger(ReasonExhausted)
	}
}

func (c *Controller) durationElapsed() bool {
	return c.duration > 0 && c.clock.Since(c.start) >= c.duration
}

// Trigger moves a running controller to Stopping with reason. Only the first
// trigger takes effect; it reports whether this call did.
func (c *Controller) Trigger(reason Reason) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return false
	}
	c.reason = reason
	c.cancel()
	return true
}

// Finish marks the run as Stopped. A run that ended without a trigger (all
// workers returned on their own) is recorded as work-exhausted.
func (c *Controller) Finish() {
	c.Trigger(ReasonExhausted)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.state.Store(int32(Stopped))
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Reason returns the stop reason, empty while running.
func (c *Controller) Reason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Issued returns the number of admitted requests.
func (c *Controller) Issued() int64 {
	return c.issued.Load()
}

// Elapsed returns the time since the controller was created.
func (c *Controller) Elapsed() time.Duration {
	return c.clock.Since(c.start)
}

// Context is cancelled when the controller leaves Running. Use it for pulls
// and rate waits only; in-flight requests run to their own timeout.
func (c *Controller) Context() context.Context {
	return c.ctx
}

// Done is shorthand for Context().Done().
func (c *Controller) Done() <-chan struct{} {
	return c.ctx.Done()
}
