package analytics

// ring is a fixed capacity buffer that overwrites its oldest entry.
type ring[T any] struct {
	buf  []T
	next int
	full bool
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) Push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring[T]) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring[T]) Cap() int {
	return len(r.buf)
}

// Last returns the newest entry.
func (r *ring[T]) Last() (T, bool) {
	var zero T
	if r.Len() == 0 {
		return zero, false
	}
	i := r.next - 1
	if i < 0 {
		i = len(r.buf) - 1
	}
	return r.buf[i], true
}

// Values returns a copy, oldest first.
func (r *ring[T]) Values() []T {
	if !r.full {
		out := make([]T, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]T, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Raw returns the populated storage in arbitrary order without copying.
func (r *ring[T]) Raw() []T {
	if r.full {
		return r.buf
	}
	return r.buf[:r.next]
}
