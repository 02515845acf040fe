package sentinel

import "github.com/gammazero/deque"

// Ring is a fixed capacity FIFO, pushing into a full ring overwrites the oldest item.
// Not safe for concurrent use.
type Ring[T any] struct {
	q        *deque.Deque[T]
	capacity int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{q: deque.New[T](capacity), capacity: capacity}
}

func (r *Ring[T]) Push(v T) {
	if r.q.Len() == r.capacity {
		r.q.PopFront()
	}
	r.q.PushBack(v)
}

func (r *Ring[T]) Len() int { return r.q.Len() }

func (r *Ring[T]) Cap() int { return r.capacity }

// Latest returns the most recently pushed item.
func (r *Ring[T]) Latest() (T, bool) {
	var zero T
	if r.q.Len() == 0 {
		return zero, false
	}
	return r.q.Back(), true
}

// Last copies up to n of the newest items, oldest first.
func (r *Ring[T]) Last(n int) []T {
	size := r.q.Len()
	if n > size {
		n = size
	}
	out := make([]T, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, r.q.At(i))
	}
	return out
}
