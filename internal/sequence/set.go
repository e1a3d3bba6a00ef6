package sequence

// Set is a window-indexed set.
type Set[K comparable] struct {
	m *Map[K, struct{}]
}

// NewSet returns an empty set.
func NewSet[K comparable](lowest int64, seqOf func(K) int64) *Set[K] {
	return &Set[K]{m: NewMap[K, struct{}](lowest, seqOf)}
}

// Add inserts k. It reports whether k was newly added; keys below the window
// are never added.
func (s *Set[K]) Add(k K) bool { return s.m.PutIfAbsent(k, struct{}{}) }

// Contains reports whether k is present.
func (s *Set[K]) Contains(k K) bool { return s.m.Contains(k) }

// Len returns the number of keys.
func (s *Set[K]) Len() int { return s.m.Len() }

// ShiftWindow raises the lower bound and drops every key below it.
func (s *Set[K]) ShiftWindow(lowest int64, onRemove func(K)) {
	var cb func(K, struct{})
	if onRemove != nil {
		cb = func(k K, _ struct{}) { onRemove(k) }
	}
	s.m.ShiftWindow(lowest, cb)
}
