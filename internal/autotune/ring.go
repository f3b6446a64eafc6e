package autotune

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
// Not safe for concurrent use.
type ring[T any] struct {
	buf   []T
	head  int // next write position
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// at returns the i-th entry counting from the oldest.
func (r *ring[T]) at(i int) T {
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	return r.buf[(start+i)%len(r.buf)]
}

func (r *ring[T]) each(fn func(T)) {
	for i := 0; i < r.count; i++ {
		fn(r.at(i))
	}
}

func (r *ring[T]) clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.count = 0
}

func (r *ring[T]) len() int { return r.count }

func (r *ring[T]) capacity() int { return len(r.buf) }

func (r *ring[T]) full() bool { return r.count == len(r.buf) }
