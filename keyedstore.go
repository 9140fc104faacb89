package quotacore

import (
	"container/list"
	"sync"
	"time"
)

// KeyedStore is a bounded, last-touch-ordered map. It backs the
// high-cardinality value tables in the core (rate windows, renewal guard
// entries) so memory stays bounded no matter how many distinct callers show
// up. When the store is full, inserting a new key drops the least recently
// touched one. Sweep removes keys idle past a horizon. Account locks live in
// a lockTable instead: entries there are pinned while held, which a plain
// value store cannot express.
//
// All operations are O(1) amortized and never block beyond the store's own
// short critical section.
type KeyedStore[V any] struct {
	mu      sync.Mutex
	maxKeys int
	now     func() time.Time
	order   *list.List // front = most recently touched
	entries map[string]*list.Element
}

type storeEntry[V any] struct {
	key       string
	value     V
	lastTouch time.Time
}

// NewKeyedStore creates a store holding at most maxKeys entries.
func NewKeyedStore[V any](maxKeys int) *KeyedStore[V] {
	if maxKeys <= 0 {
		maxKeys = 1
	}
	return &KeyedStore[V]{
		maxKeys: maxKeys,
		now:     time.Now,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// SetClock replaces the store's time source. Test hook; also used by Core so
// every component shares one clock.
func (s *KeyedStore[V]) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Get returns the value for key and marks it most recently touched.
func (s *KeyedStore[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	s.touch(el)
	return el.Value.(*storeEntry[V]).value, true
}

// Put stores value under key, touching it. If the key is new and the store is
// at capacity, the least recently touched key is dropped first.
func (s *KeyedStore[V]) Put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		ent := el.Value.(*storeEntry[V])
		ent.value = value
		s.touch(el)
		return
	}
	s.insert(key, value)
}

// GetOrCreate returns the value for key, creating it with make if absent.
// The create happens under the store lock, so concurrent callers for the same
// key observe a single value.
func (s *KeyedStore[V]) GetOrCreate(key string, make func() V) V {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.touch(el)
		return el.Value.(*storeEntry[V]).value
	}
	v := make()
	s.insert(key, v)
	return v
}

// Delete removes key if present.
func (s *KeyedStore[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.order.Remove(el)
		delete(s.entries, key)
	}
}

// Len returns the number of resident entries.
func (s *KeyedStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes every key whose last touch is before cutoff and returns how
// many were reclaimed. Entries are throttle/cache state only, so dropping
// them is always safe.
func (s *KeyedStore[V]) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := 0
	// Oldest entries sit at the back; stop at the first live one.
	for el := s.order.Back(); el != nil; {
		ent := el.Value.(*storeEntry[V])
		if !ent.lastTouch.Before(cutoff) {
			break
		}
		prev := el.Prev()
		s.order.Remove(el)
		delete(s.entries, ent.key)
		reclaimed++
		el = prev
	}
	return reclaimed
}

// touch must be called with the lock held.
func (s *KeyedStore[V]) touch(el *list.Element) {
	el.Value.(*storeEntry[V]).lastTouch = s.now()
	s.order.MoveToFront(el)
}

// insert must be called with the lock held.
func (s *KeyedStore[V]) insert(key string, value V) {
	if len(s.entries) >= s.maxKeys {
		oldest := s.order.Back()
		if oldest != nil {
			ent := oldest.Value.(*storeEntry[V])
			s.order.Remove(oldest)
			delete(s.entries, ent.key)
		}
	}
	el := s.order.PushFront(&storeEntry[V]{key: key, value: value, lastTouch: s.now()})
	s.entries[key] = el
}
