// Package turn drives a single conversational exchange: persist the inbound
// message, assemble context, call the model, persist the reply and kick off
// the post-turn memory and summary writes. Turns for the same user/character
// pair are serialised; turns for different pairs proceed concurrently.
package turn

import "sync"

// pairLocks hands out one mutex per key. Entries are reference counted and
// removed once the last holder releases, so the map never grows unbounded in
// long-running processes.
type pairLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the mutex for key is held and returns the matching
// unlock function. The unlock function must be called exactly once.
func (p *pairLocks) Lock(key string) func() {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &lockEntry{}
		p.entries[key] = e
	}
	e.refs++
	p.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		p.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(p.entries, key)
		}
		p.mu.Unlock()
	}
}
