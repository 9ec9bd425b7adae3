package common

import "sync"

// IDLocks serializes mutating operations per entity id. Two concurrent calls
// on the same id run one after the other; distinct ids proceed in parallel.
// Lock entries are never removed: the id space is small (sequential entity
// ids) and reuse keeps the fast path allocation-free.
type IDLocks struct {
	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

// NewIDLocks returns an empty lock table.
func NewIDLocks() *IDLocks {
	return &IDLocks{locks: make(map[uint64]*sync.Mutex)}
}

// Lock acquires the mutex for id and returns the matching unlock function.
func (l *IDLocks) Lock(id uint64) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
