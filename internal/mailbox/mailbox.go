// Package mailbox provides an unbounded FIFO queue for handing events from
// callbacks that must not block to a single consumer goroutine.
package mailbox

import "sync"

type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
}

func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Push enqueues v. It never blocks and reports false once the mailbox is
// closed.
func (m *Mailbox[T]) Push(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready receives a value whenever items may be waiting.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Drain removes and returns everything queued so far.
func (m *Mailbox[T]) Drain() []T {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.mu.Unlock()
	return items
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close drops queued items and rejects further pushes.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.items = nil
	m.mu.Unlock()
}

// Run hands every item to fn in push order until done is closed.
func (m *Mailbox[T]) Run(done <-chan struct{}, fn func(T)) {
	for {
		select {
		case <-done:
			return
		case <-m.ready:
			for _, v := range m.Drain() {
				select {
				case <-done:
					return
				default:
				}
				fn(v)
			}
		}
	}
}
