package service

import "sync"

// keyedMutex provides mutual exclusion scoped to a string key. Locks for
// different keys are independent, so operations on different batches
// never block each other.
//
// Entries are reference-counted and reclaimed on final unlock, so the
// map does not grow with the number of batch identifiers ever seen. The
// lock is in-process only; running multiple replicas requires promoting
// this to a distributed mutex keyed the same way.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for key, creating it on first use.
func (km *keyedMutex) Lock(key string) {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		entry = &lockEntry{}
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the mutex for key and reclaims the entry when no other
// goroutine is holding or waiting on it.
func (km *keyedMutex) Unlock(key string) {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		km.mu.Unlock()
		panic("keyedMutex: unlock of unheld key " + key)
	}
	entry.refs--
	if entry.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	entry.mu.Unlock()
}
