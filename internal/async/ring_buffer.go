package async

import (
	"errors"
	"runtime"
	"sync/atomic"
)

var (
	ErrInvalidCapacity = errors.New("ring buffer capacity must be a power of two and >= 2")
)

type cell[T any] struct {
	sequence atomic.Uint64
	value    T
}

// RingBuffer는 sequence 기반 CAS(Vyukov 스타일) lock-free MPMC bounded queue이다.
// Any goroutine may Enqueue; the translation core drains it from its single
// mutator at a safe point.
type RingBuffer[T any] struct {
	capacity uint64
	mask     uint64

	_pad0 [48]byte
	head  atomic.Uint64
	_pad1 [48]byte
	tail  atomic.Uint64
	_pad2 [48]byte

	cells []cell[T]
}

func NewRingBuffer[T any](capacity uint64) (*RingBuffer[T], error) {
	if capacity < 2 || (capacity&(capacity-1)) != 0 {
		return nil, ErrInvalidCapacity
	}
	cells := make([]cell[T], capacity)
	for i := range cells {
		cells[i].sequence.Store(uint64(i))
	}
	return &RingBuffer[T]{
		capacity: capacity,
		mask:     capacity - 1,
		cells:    cells,
	}, nil
}

func (q *RingBuffer[T]) Capacity() uint64 {
	return q.capacity
}

// Len is a racy estimate of queued items; exact when no producer or
// consumer is active.
func (q *RingBuffer[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Enqueue returns false when the queue is full.
func (q *RingBuffer[T]) Enqueue(value T) bool {
	for {
		pos := q.tail.Load()
		c := &q.cells[pos&q.mask]
		delta := int64(c.sequence.Load()) - int64(pos)

		switch {
		case delta == 0:
			if q.tail.CompareAndSwap(pos, pos+1) {
				c.value = value
				c.sequence.Store(pos + 1)
				return true
			}
		case delta < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// Dequeue returns false when the queue is empty.
func (q *RingBuffer[T]) Dequeue() (T, bool) {
	var zero T
	for {
		pos := q.head.Load()
		c := &q.cells[pos&q.mask]
		delta := int64(c.sequence.Load()) - int64(pos+1)

		switch {
		case delta == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				value := c.value
				c.value = zero
				c.sequence.Store(pos + q.capacity)
				return value, true
			}
		case delta < 0:
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}

// Drain dequeues until empty, handing each item to fn in FIFO order, and
// returns how many were handled. Items enqueued during the drain may or
// may not be included.
func (q *RingBuffer[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := q.Dequeue()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}
