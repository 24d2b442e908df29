package services

import "sync"

// EventLocks serializes every mutating operation per event. Join,
// release, purchase commit, promotion and the expiry sweep all take
// the same lock for an event, so availability check-then-act sequences
// are linearized; operations on different events run in parallel.
type EventLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEventLocks() *EventLocks {
	return &EventLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the event's mutex, creating it on first use. The
// returned function releases it.
func (l *EventLocks) Lock(eventID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[eventID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[eventID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
