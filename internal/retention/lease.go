package retention

import "sync"

// ownerLeases serializes sweeps per owner key. Sweeps for different owners
// run fully in parallel; a second sweep for the same owner is refused while
// the first holds the lease.
type ownerLeases struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newOwnerLeases() *ownerLeases {
	return &ownerLeases{held: make(map[string]struct{})}
}

// acquire takes the lease for ownerKey. It returns false when another sweep
// already holds it.
func (l *ownerLeases) acquire(ownerKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[ownerKey]; ok {
		return false
	}
	l.held[ownerKey] = struct{}{}
	return true
}

func (l *ownerLeases) release(ownerKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, ownerKey)
}
