// Package spsc provides the bounded single-producer/single-consumer ring
// buffer connecting the ledger, engine and I/O-boundary workers. The
// producer and consumer halves are distinct handles created together, so
// the single-writer/single-reader contract is enforced by construction:
// hand each half to exactly one goroutine.
package spsc

import "sync/atomic"

type ring[T any] struct {
	head  atomic.Uint64 // written by producer only
	_pad1 [56]byte
	tail  atomic.Uint64 // written by consumer only
	_pad2 [56]byte

	buf  []T
	mask uint64
}

// New allocates a ring and splits it into its two ownership halves.
// Capacity must be a power of two.
func New[T any](capacity uint64) (*Producer[T], *Consumer[T]) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("spsc: capacity must be a power of two")
	}
	r := &ring[T]{
		buf:  make([]T, capacity),
		mask: capacity - 1,
	}
	return &Producer[T]{r: r}, &Consumer[T]{r: r}
}

// Producer is the write half. Not safe for use from more than one
// goroutine.
type Producer[T any] struct {
	r *ring[T]
}

// Push appends one element; it never blocks. A false return means the ring
// is full and the caller must drop or back off.
func (p *Producer[T]) Push(v T) bool {
	r := p.r
	h := r.head.Load()
	t := r.tail.Load()
	if h-t == uint64(len(r.buf)) {
		return false
	}
	r.buf[h&r.mask] = v
	r.head.Store(h + 1)
	return true
}

// Len reports the queued element count (approximate under concurrency).
func (p *Producer[T]) Len() int {
	return int(p.r.head.Load() - p.r.tail.Load())
}

func (p *Producer[T]) Cap() int {
	return len(p.r.buf)
}

// Consumer is the read half. Not safe for use from more than one
// goroutine.
type Consumer[T any] struct {
	r *ring[T]
}

// Pop removes the oldest element; it never blocks. A false return means
// the ring is empty.
func (c *Consumer[T]) Pop() (T, bool) {
	r := c.r
	t := r.tail.Load()
	h := r.head.Load()
	var zero T
	if t == h {
		return zero, false
	}
	v := r.buf[t&r.mask]
	r.buf[t&r.mask] = zero
	r.tail.Store(t + 1)
	return v, true
}

func (c *Consumer[T]) Len() int {
	return int(c.r.head.Load() - c.r.tail.Load())
}
