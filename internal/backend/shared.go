package backend

import "sync"

// Shared guards a value owned by the processor and read by the presentation layer.
// The processor always waits for the lock; readers on a render path use TryView and skip the
// pass when the lock is busy.
type Shared[T any] struct {
	mu    sync.Mutex
	value T
}

// NewShared wraps v
func NewShared[T any](v T) *Shared[T] {
	return &Shared[T]{value: v}
}

// Update runs fn with the lock held, waiting for it if needed
func (s *Shared[T]) Update(fn func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.value)
}

// Replace swaps the guarded value
func (s *Shared[T]) Replace(v T) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// TryView runs fn only if the lock is free right now and reports whether it ran.
// fn must not keep references to the value after it returns.
func (s *Shared[T]) TryView(fn func(T)) bool {
	if !s.mu.TryLock() {
		return false
	}
	defer s.mu.Unlock()
	fn(s.value)
	return true
}
