package peer

import "sync"

// queue is an unbounded FIFO with a single consumer.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		signal: make(chan struct{}, 1),
	}
}

// push appends the item and wakes the consumer if it is waiting.
func (q *queue[T]) push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available or shut is closed.
func (q *queue[T]) pop(shut <-chan struct{}) (T, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-shut:
			var zero T
			return zero, false
		}
	}
}

// remove drops every queued item the match function selects.
func (q *queue[T]) remove(match func(T) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, item := range q.items {
		if !match(item) {
			kept = append(kept, item)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		var zero T
		q.items[i] = zero
	}
	q.items = kept
}

func (q *queue[T]) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
