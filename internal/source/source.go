// Package source supplies work items to the worker pool.
//
// Three sources exist: Single repeats one item forever, File cycles through
// a fixed list, and Frontier is the growing discovery queue. All of them are
// safe for concurrent use by any number of workers.
package source

import (
	"context"
	"sync/atomic"

	"stampede/internal/core"
)

// Source yields work items. Next blocks until an item is available, the
// source is exhausted, or ctx is done; it returns false in the last two
// cases. Done must be called once for every item Next returned, after the
// item has been fully processed (including any discovery it triggered).
type Source interface {
	Next(ctx context.Context) (core.WorkItem, bool)
	Done(item core.WorkItem)
	Exhausted() bool
}

// Blocking is implemented by sources whose Next may wait for work to
// appear. Workers pull from such a source before reserving a request slot;
// other sources are pulled after admission so no pulled item is dropped.
type Blocking interface {
	Blocking() bool
}

// Single yields the same item on every call.
type Single struct {
	item core.WorkItem
}

// NewSingle creates a Single source.
func NewSingle(item core.WorkItem) *Single {
	return &Single{item: item}
}

func (s *Single) Next(ctx context.Context) (core.WorkItem, bool) {
	if ctx.Err() != nil {
		return core.WorkItem{}, false
	}
	return s.item, true
}

func (s *Single) Done(core.WorkItem) {}

// Exhausted always reports false; a Single source never runs dry.
func (s *Single) Exhausted() bool { return false }

// File cycles through a fixed list of items in order, wrapping around.
type File struct {
	items   []core.WorkItem
	counter atomic.Uint64
}

// NewFile creates a File source. An empty list yields nothing.
func NewFile(items []core.WorkItem) *File {
	return &File{items: items}
}

// Len returns the number of items in the list.
func (f *File) Len() int {
	return len(f.items)
}

// Next returns the next item in list order. Thread-safe: concurrent callers
// each take a distinct position in the cycle.
func (f *File) Next(ctx context.Context) (core.WorkItem, bool) {
	if len(f.items) == 0 || ctx.Err() != nil {
		return core.WorkItem{}, false
	}
	n := f.counter.Add(1) - 1
	return f.items[n%uint64(len(f.items))], true
}

func (f *File) Done(core.WorkItem) {}

// Exhausted reports true only for an empty list.
func (f *File) Exhausted() bool { return len(f.items) == 0 }
