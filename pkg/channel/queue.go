package channel

import (
	"sync"
)

// requestQueue is an unbounded FIFO of incoming requests. Pushing never
// blocks the transport's delivery goroutine.
type requestQueue struct {
	mu     sync.Mutex
	items  []*RequestMessage
	signal chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		signal: make(chan struct{}, 1),
	}
}

func (q *requestQueue) push(req *RequestMessage) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *requestQueue) drain() []*RequestMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
