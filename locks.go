package quotacore

import (
	"sync"
	"time"
)

// lockTable hands out per-account mutexes. An entry is pinned while any
// goroutine holds or is waiting for its mutex; reclamation, whether capacity
// overflow or the idle sweep, only ever drops unpinned entries. A held lock
// therefore can never be evicted and re-minted mid-critical-section.
type lockTable struct {
	mu      sync.Mutex
	maxKeys int
	now     func() time.Time
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu        sync.Mutex
	key       string
	refs      int
	lastTouch time.Time
}

func newLockTable(maxKeys int) *lockTable {
	if maxKeys <= 0 {
		maxKeys = 1
	}
	return &lockTable{
		maxKeys: maxKeys,
		now:     time.Now,
		entries: make(map[string]*lockEntry),
	}
}

// setClock replaces the table's time source. Call before first use.
func (t *lockTable) setClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// lock acquires the key's mutex, creating and pinning its entry.
func (t *lockTable) lock(key string) *lockEntry {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		if len(t.entries) >= t.maxKeys {
			t.evictOneIdle()
		}
		e = &lockEntry{key: key}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return e
}

// unlock releases the mutex and unpins the entry.
func (t *lockTable) unlock(e *lockEntry) {
	e.mu.Unlock()
	t.mu.Lock()
	e.refs--
	e.lastTouch = t.now()
	t.mu.Unlock()
}

// evictOneIdle drops the least recently used unpinned entry. Caller holds
// t.mu. When every entry is pinned the table grows past maxKeys rather than
// dropping a lock that is in use.
func (t *lockTable) evictOneIdle() {
	var victim *lockEntry
	for _, e := range t.entries {
		if e.refs > 0 {
			continue
		}
		if victim == nil || e.lastTouch.Before(victim.lastTouch) {
			victim = e
		}
	}
	if victim != nil {
		delete(t.entries, victim.key)
	}
}

// sweep removes unpinned entries idle since before cutoff and returns how
// many were reclaimed.
func (t *lockTable) sweep(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	reclaimed := 0
	for key, e := range t.entries {
		if e.refs == 0 && e.lastTouch.Before(cutoff) {
			delete(t.entries, key)
			reclaimed++
		}
	}
	return reclaimed
}
