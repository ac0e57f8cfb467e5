package memory

import "sync"

// inbox is a bounded, thread-safe FIFO of messages for one peer.
//
// The hub enqueues from posting goroutines; the peer's delivery goroutine
// dequeues. A full inbox rejects new messages instead of blocking the
// poster, since posting is fire-and-forget.
//
// The signal channel enables context-free waiting without spinning.
type inbox struct {
	mu       sync.Mutex
	messages [][]byte
	capacity int
	closed   bool
	signal   chan struct{} // Signals message availability (buffered, size 1)
}

func newInbox(capacity int) *inbox {
	return &inbox{
		messages: make([][]byte, 0, capacity),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a message to the back of the inbox.
// Returns false if the inbox is full or closed.
func (q *inbox) Enqueue(msg []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.messages) >= q.capacity {
		return false
	}

	q.messages = append(q.messages, msg)

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front message without blocking.
func (q *inbox) TryDequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return nil, false
	}

	msg := q.messages[0]
	q.messages[0] = nil // release for GC

	if len(q.messages) == 1 {
		q.messages = q.messages[:0]
	} else {
		q.messages = q.messages[1:]
	}

	return msg, true
}

// Wait returns a channel that signals when messages may be available.
// It is closed once the inbox is closed.
func (q *inbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued messages.
func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Close stops accepting messages and wakes the waiter.
func (q *inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
