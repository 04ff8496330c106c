package broker

import (
	"sync"

	"github.com/Wyydra/yacall/internal/mailbox"
)

// Watch is one subscription. Its callback runs on a goroutine of its own.
type Watch[T any] struct {
	box    *mailbox.Mailbox[T]
	done   chan struct{}
	once   sync.Once
	detach func()
}

func newWatch[T any](fn func(T), filter func(T) bool) *Watch[T] {
	w := &Watch[T]{
		box:  mailbox.New[T](),
		done: make(chan struct{}),
	}
	go w.box.Run(w.done, func(v T) {
		if filter != nil && !filter(v) {
			return
		}
		fn(v)
	})
	return w
}

// Deliver queues values for the callback. It never blocks.
func (w *Watch[T]) Deliver(vs ...T) {
	for _, v := range vs {
		w.box.Push(v)
	}
}

func (w *Watch[T]) Unsubscribe() {
	w.stop()
	if w.detach != nil {
		w.detach()
	}
}

func (w *Watch[T]) stop() {
	w.once.Do(func() {
		w.box.Close()
		close(w.done)
	})
}
