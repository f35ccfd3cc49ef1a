// Package gate provides a single-writer lock per key. Holders of different
// keys never wait on each other; the shared map lock is only held while a
// key's entry is looked up or released.
package gate

import "sync"

// Gate serializes work per key.
type Gate struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty gate.
func New() *Gate {
	return &Gate{locks: make(map[string]*entry)}
}

// Lock blocks until key is free and returns the function that releases it.
func (g *Gate) Lock(key string) (unlock func()) {
	g.mu.Lock()
	e, ok := g.locks[key]
	if !ok {
		e = &entry{}
		g.locks[key] = e
	}
	e.refs++
	g.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			g.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(g.locks, key)
			}
			g.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or waited on.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
