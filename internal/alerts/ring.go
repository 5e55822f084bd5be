package alerts

// Ring is a fixed-capacity FIFO that evicts the oldest entry on overflow.
// It is not safe for concurrent use; owners guard it with their own lock.
type Ring[T any] struct {
	buf   []T
	head  int
	count int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, returning the evicted entry if the ring was full
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	if r.count == len(r.buf) {
		evicted, ok = r.buf[r.head], true
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, ok
	}
	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
	return evicted, false
}

// PopWhile removes entries from the oldest end while drop returns true
func (r *Ring[T]) PopWhile(drop func(T) bool) int {
	var zero T
	n := 0
	for r.count > 0 && drop(r.buf[r.head]) {
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		n++
	}
	return n
}

func (r *Ring[T]) Len() int { return r.count }
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th entry counting from the oldest
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Last returns up to n of the newest entries, oldest first
func (r *Ring[T]) Last(n int) []T {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.count - n + i)
	}
	return out
}

// Each calls fn for every entry, oldest first
func (r *Ring[T]) Each(fn func(T)) {
	for i := 0; i < r.count; i++ {
		fn(r.At(i))
	}
}
