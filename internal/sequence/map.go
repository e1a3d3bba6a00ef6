// Package sequence provides maps and sets whose keys carry a sequence number
// (a generation or birth round) and which can discard every key below a
// moving lower bound in one call.
package sequence

import "github.com/google/btree"

type bucket[K comparable] struct {
	seq  int64
	keys map[K]struct{}
}

func lessBucket[K comparable](a, b *bucket[K]) bool {
	return a.seq < b.seq
}

// Map is a window-indexed map. Keys whose sequence number is below the
// lowest allowed value are never stored.
//
// Map is not safe for concurrent use; each pipeline stage owns its maps.
type Map[K comparable, V any] struct {
	seqOf  func(K) int64
	lowest int64
	items  map[K]V
	index  *btree.BTreeG[*bucket[K]]
}

// NewMap returns an empty map. seqOf extracts a key's sequence number.
func NewMap[K comparable, V any](lowest int64, seqOf func(K) int64) *Map[K, V] {
	return &Map[K, V]{
		seqOf:  seqOf,
		lowest: lowest,
		items:  make(map[K]V),
		index:  btree.NewG(8, lessBucket[K]),
	}
}

// Len returns the number of stored keys.
func (m *Map[K, V]) Len() int { return len(m.items) }

// Get returns the value stored for k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.items[k]
	return v, ok
}

// Contains reports whether k is stored.
func (m *Map[K, V]) Contains(k K) bool {
	_, ok := m.items[k]
	return ok
}

// Put stores v under k, replacing any previous value. It returns false and
// stores nothing if k is below the window.
func (m *Map[K, V]) Put(k K, v V) bool {
	seq := m.seqOf(k)
	if seq < m.lowest {
		return false
	}
	if _, ok := m.items[k]; !ok {
		m.bucketFor(seq, true).keys[k] = struct{}{}
	}
	m.items[k] = v
	return true
}

// PutIfAbsent stores v under k only if k is not already present and is
// within the window. It reports whether v was stored.
func (m *Map[K, V]) PutIfAbsent(k K, v V) bool {
	if m.Contains(k) {
		return false
	}
	return m.Put(k, v)
}

// Remove deletes k and returns its value.
func (m *Map[K, V]) Remove(k K) (V, bool) {
	v, ok := m.items[k]
	if !ok {
		return v, false
	}
	delete(m.items, k)
	if b := m.bucketFor(m.seqOf(k), false); b != nil {
		delete(b.keys, k)
		if len(b.keys) == 0 {
			m.index.Delete(b)
		}
	}
	return v, true
}

// ShiftWindow raises the lower bound to lowest and removes every key below
// it, oldest first. onRemove, if non-nil, sees each removed entry. Lowering
// the bound is a no-op.
func (m *Map[K, V]) ShiftWindow(lowest int64, onRemove func(K, V)) {
	if lowest <= m.lowest {
		return
	}
	m.lowest = lowest
	for {
		b, ok := m.index.Min()
		if !ok || b.seq >= lowest {
			return
		}
		m.index.DeleteMin()
		for k := range b.keys {
			v := m.items[k]
			delete(m.items, k)
			if onRemove != nil {
				onRemove(k, v)
			}
		}
	}
}

func (m *Map[K, V]) bucketFor(seq int64, create bool) *bucket[K] {
	if b, ok := m.index.Get(&bucket[K]{seq: seq}); ok {
		return b
	}
	if !create {
		return nil
	}
	b := &bucket[K]{seq: seq, keys: make(map[K]struct{})}
	m.index.ReplaceOrInsert(b)
	return b
}
