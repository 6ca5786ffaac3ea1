package transport

import (
	"errors"
	"net"
	"sync"
)

// DefaultBacklog is the number of accepted connections that may wait for
// Accept before further ones are refused.
const DefaultBacklog = 16

var ErrListenerClosed = errors.New("listener closed")

// Backlog hands connections accepted by a server transport to Accept.
type Backlog struct {
	mu     sync.Mutex
	conns  chan Conn
	closed bool
}

func NewBacklog(size int) *Backlog {
	if size <= 0 {
		size = DefaultBacklog
	}
	return &Backlog{
		conns: make(chan Conn, size),
	}
}

// Offer queues c for Accept. It reports false when the backlog is full or
// closed, in which case c still belongs to the caller.
func (b *Backlog) Offer(c Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.conns <- c:
		return true
	default:
		return false
	}
}

// Accept blocks until a connection is queued or the backlog is closed.
func (b *Backlog) Accept() (Conn, error) {
	c, ok := <-b.conns
	if !ok {
		return nil, ErrListenerClosed
	}
	return c, nil
}

// Close wakes every pending Accept. It reports whether this call closed the
// backlog. Queued connections that were never accepted are closed.
func (b *Backlog) Close() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.closed = true
	close(b.conns)
	b.mu.Unlock()

	for c := range b.conns {
		c.Close()
	}
	return true
}

// Serve accepts connections from l until l is closed, wraps each with wrap
// and offers it. Connections that wrap fails on or the backlog refuses are
// closed.
func (b *Backlog) Serve(l net.Listener, wrap func(net.Conn) (Conn, error)) {
	for {
		raw, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || b.isClosed() {
				return
			}
			continue
		}

		c, err := wrap(raw)
		if err != nil {
			raw.Close()
			continue
		}
		if !b.Offer(c) {
			c.Close()
		}
	}
}

func (b *Backlog) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
