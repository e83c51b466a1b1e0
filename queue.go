package taurus

import (
	"sync"
)

// fifo is an unbounded queue that any goroutine may push
// to or pop from. It never blocks and applies no
// backpressure: if the consumer stalls it simply grows.
//
// Popped slots are zeroed so the backing array does
// not pin payloads, and the slice is compacted once the
// dead prefix dominates.
type fifo[T any] struct {
	mut  sync.Mutex
	q    []T
	head int
}

func newFifo[T any]() *fifo[T] {
	return &fifo[T]{}
}

func (s *fifo[T]) push(v T) {
	s.mut.Lock()
	s.q = append(s.q, v)
	s.mut.Unlock()
}

// tryPop returns the oldest element, if any.
func (s *fifo[T]) tryPop() (v T, ok bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.head >= len(s.q) {
		return
	}
	v = s.q[s.head]
	var zero T
	s.q[s.head] = zero
	s.head++
	ok = true

	switch {
	case s.head == len(s.q):
		s.q = s.q[:0]
		s.head = 0
	case s.head > 64 && s.head*2 > len(s.q):
		n := copy(s.q, s.q[s.head:])
		clear(s.q[n:])
		s.q = s.q[:n]
		s.head = 0
	}
	return
}

func (s *fifo[T]) len() (n int) {
	s.mut.Lock()
	n = len(s.q) - s.head
	s.mut.Unlock()
	return
}

// drainAll pops everything queued right now. Elements
// pushed after the call wait for the next ProcessEvents,
// so a busy producer cannot starve the later steps.
func (s *fifo[T]) drainAll() (out []T) {
	s.mut.Lock()
	defer s.mut.Unlock()
	n := len(s.q) - s.head
	if n == 0 {
		return nil
	}
	out = make([]T, n)
	copy(out, s.q[s.head:])
	clear(s.q)
	s.q = s.q[:0]
	s.head = 0
	return
}
