package index

import "sync"

// ownerLocks tracks in-flight builds per owner. Acquire fails fast instead of
// queueing; release removes the entry so the registry never grows past the
// number of concurrently building owners.
type ownerLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{held: make(map[string]struct{})}
}

// tryAcquire claims the build slot for owner. It returns false when a build
// is already running.
func (l *ownerLocks) tryAcquire(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[owner]; busy {
		return false
	}
	l.held[owner] = struct{}{}
	return true
}

// release frees the build slot and reclaims the registry entry.
func (l *ownerLocks) release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, owner)
}

// size reports how many owners currently hold a build slot.
func (l *ownerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
