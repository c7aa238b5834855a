package replay

import "sync"

// Table owns one Window per key, created lazily on first use. The router
// daemon keeps one, keyed by (source NID, MsgType).
type Table[K comparable] struct {
	size uint64
	mu   sync.Mutex
	rows map[K]*Window
}

// NewTable creates a Table whose Windows use the given size.
func NewTable[K comparable](size uint64) *Table[K] {
	return &Table[K]{
		size: size,
		rows: make(map[K]*Window),
	}
}

// Check runs the check-and-record operation for key, creating its Window on
// first use.
func (t *Table[K]) Check(key K, seq uint32) Result {
	return t.windowFor(key).Check(seq)
}

// Reset clears the Window for key, creating an empty one if none exists
// yet.
func (t *Table[K]) Reset(key K) {
	t.windowFor(key).Reset()
}

// Evict drops the Window for key entirely, e.g. on link loss (spec §4.7).
func (t *Table[K]) Evict(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, key)
}

func (t *Table[K]) windowFor(key K) *Window {
	t.mu.Lock()
	w, ok := t.rows[key]
	if !ok {
		w = NewWindow(t.size)
		t.rows[key] = w
	}
	t.mu.Unlock()
	return w
}
