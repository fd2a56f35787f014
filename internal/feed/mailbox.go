package feed

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO between the store, which must never block on
// a slow subscriber, and the subscriber's channel.
type mailbox[T any] struct {
	mu    sync.Mutex
	queue []T
	wake  chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{wake: make(chan struct{}, 1)}
}

func (m *mailbox[T]) push(v T) {
	m.mu.Lock()
	m.queue = append(m.queue, v)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox[T]) pop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if len(m.queue) == 0 {
		return zero, false
	}
	v := m.queue[0]
	m.queue[0] = zero
	m.queue = m.queue[1:]
	return v, true
}

// run drains the mailbox into out until ctx is done, then closes out.
func (m *mailbox[T]) run(ctx context.Context, out chan<- T) {
	defer close(out)
	for {
		v, ok := m.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
				continue
			}
		}
		select {
		case out <- v:
		case <-ctx.Done():
			return
		}
	}
}
