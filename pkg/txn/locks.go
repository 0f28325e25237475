package txn

import (
	"sort"
	"sync"
)

// pathLocks serializes commits touching the same target paths when the
// Coordinator runs with path serialization enabled.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *pathLocks) get(path string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[path]
	if !ok {
		l = &sync.Mutex{}
		p.locks[path] = l
	}
	return l
}

// lockAll acquires the locks for every path in sorted order, which keeps two
// commits with overlapping path sets from deadlocking. The returned func
// releases them in reverse order.
func (p *pathLocks) lockAll(paths []string) func() {
	sorted := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		if !seen[path] {
			seen[path] = true
			sorted = append(sorted, path)
		}
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, path := range sorted {
		l := p.get(path)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
