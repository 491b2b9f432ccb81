package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/khaledhikmat/vs-office/model"
)

// Buffer is a bounded FIFO that never blocks the producer: pushing into a
// full buffer evicts the oldest entry. Consumers either poll with TryPop or
// wait with Pop, which honours a timeout, the context and Close.
type Buffer[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	count   int
	dropped uint64
	closed  bool
	onDrop  func(T)

	notify chan struct{}
	done   chan struct{}
}

// NewBuffer creates a buffer holding at most capacity items. onDrop, if not
// nil, receives every evicted item.
func NewBuffer[T any](capacity int, onDrop func(T)) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		items:  make([]T, capacity),
		onDrop: onDrop,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends item, evicting the oldest entry when full. It reports
// ErrBufferClosed after Close.
func (b *Buffer[T]) Push(item T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return model.ErrBufferClosed
	}

	var evicted T
	hasEvicted := false
	capacity := len(b.items)
	if b.count == capacity {
		evicted = b.items[b.head]
		hasEvicted = true
		b.head = (b.head + 1) % capacity
		b.count--
		b.dropped++
	}

	b.items[(b.head+b.count)%capacity] = item
	b.count++
	b.mu.Unlock()

	if hasEvicted && b.onDrop != nil {
		b.onDrop(evicted)
	}

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// TryPop returns the oldest item, ErrBufferEmpty when nothing is queued, or
// ErrBufferClosed once the buffer is closed and drained.
func (b *Buffer[T]) TryPop() (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.count == 0 {
		if b.closed {
			return zero, model.ErrBufferClosed
		}
		return zero, model.ErrBufferEmpty
	}

	item := b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % len(b.items)
	b.count--
	return item, nil
}

// Pop waits up to timeout for an item. It returns ErrBufferEmpty on
// timeout, ErrBufferClosed when closed and drained, or the context error.
func (b *Buffer[T]) Pop(canx context.Context, timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		item, err := b.TryPop()
		if !errors.Is(err, model.ErrBufferEmpty) {
			return item, err
		}

		select {
		case <-b.notify:
		case <-b.done:
			// closed: loop once more to drain what is left
		case <-canx.Done():
			var zero T
			return zero, canx.Err()
		case <-timer.C:
			return b.TryPop()
		}
	}
}

// Close wakes any waiting consumer. Items already queued can still be
// popped. Close is idempotent.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Drain removes and returns everything queued, oldest first.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	out := make([]T, 0, b.count)
	for b.count > 0 {
		out = append(out, b.items[b.head])
		b.items[b.head] = zero
		b.head = (b.head + 1) % len(b.items)
		b.count--
	}
	return out
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Dropped counts items evicted by Push.
func (b *Buffer[T]) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Buffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
