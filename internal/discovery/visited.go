package discovery

import "sync"

// VisitedSet records normalized URLs that have already been enqueued.
type VisitedSet struct {
	mu      sync.Mutex
	visited map[string]struct{}
}

// NewVisitedSet creates an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{visited: make(map[string]struct{})}
}

// Add inserts key and reports whether it was absent. Check and insert happen
// under one lock, so two workers racing on the same URL see exactly one true.
func (v *VisitedSet) Add(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.visited[key]; ok {
		return false
	}
	v.visited[key] = struct{}{}
	return true
}

// Contains reports whether key is in the set.
func (v *VisitedSet) Contains(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.visited[key]
	return ok
}

// Len returns the number of keys.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.visited)
}
