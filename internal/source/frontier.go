package source

import (
	"context"
	"sync"

	"stampede/internal/core"
)

// Frontier is the discovery queue: a FIFO of URLs waiting to be fetched.
//
// A worker that finds the queue empty waits while other items are in
// flight, since those may still produce new links. Once the queue is empty
// and nothing is in flight, the frontier is exhausted for good and every
// waiting worker is released.
type Frontier struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []core.WorkItem
	inFlight  int
	exhausted bool
}

// NewFrontier creates a frontier holding the given seeds.
func NewFrontier(seeds ...core.WorkItem) *Frontier {
	f := &Frontier{queue: append([]core.WorkItem(nil), seeds...)}
	f.cond = sync.NewCond(&f.mu)
	if len(f.queue) == 0 {
		f.exhausted = true
	}
	return f
}

// Push appends items to the back of the queue. Pushes after exhaustion are
// dropped.
func (f *Frontier) Push(items ...core.WorkItem) {
	if len(items) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exhausted {
		return
	}
	f.queue = append(f.queue, items...)
	f.cond.Broadcast()
}

// Next pops the head of the queue, waiting while the queue is empty but
// other items are in flight.
func (f *Frontier) Next(ctx context.Context) (core.WorkItem, bool) {
	// Wake waiters when ctx ends so they can observe it.
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if ctx.Err() != nil || f.exhausted {
			return core.WorkItem{}, false
		}
		if len(f.queue) > 0 {
			item := f.queue[0]
			f.queue[0] = core.WorkItem{}
			f.queue = f.queue[1:]
			f.inFlight++
			return item, true
		}
		if f.inFlight == 0 {
			f.exhausted = true
			f.cond.Broadcast()
			return core.WorkItem{}, false
		}
		f.cond.Wait()
	}
}

// Done marks one item returned by Next as finished. Call it after any links
// found on the page have been pushed.
func (f *Frontier) Done(core.WorkItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inFlight > 0 {
		f.inFlight--
	}
	if f.inFlight == 0 && len(f.queue) == 0 {
		f.exhausted = true
	}
	f.cond.Broadcast()
}

// Blocking reports true: Next waits while items are in flight.
func (f *Frontier) Blocking() bool { return true }

// Exhausted reports whether the frontier has run dry.
func (f *Frontier) Exhausted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exhausted
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// InFlight returns the number of items handed out but not yet done.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}
