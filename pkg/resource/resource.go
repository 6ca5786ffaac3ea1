package resource

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Resource is the state the collector inspects. Owned and listener resources
// implement it.
type Resource interface {
	ID() uint64
	Age() time.Time
	LastUpdate() time.Time
	RefCount() int
	Errored() bool
	Disposed() bool
	Err() error
	// SetError moves the resource into the errored state and fails its
	// observers with err. It has no effect once errored or disposed.
	SetError(err error)
	// Dispose fails every pending observer with ErrResourceDisposed. It is
	// idempotent.
	Dispose()
}

// pusher sends protocol messages on behalf of a resource. A failed push marks
// the resource errored; onDone runs once the remote side acknowledged it.
type pusher interface {
	push(r Resource, msg *ProtocolMessage, onDone func())
	nextID() uint64
}

type base struct {
	id         uint64
	clock      clock.Clock
	age        time.Time
	mu         *sync.Mutex
	lastUpdate time.Time
	refCount   int
	errored    bool
	disposed   bool
	err        error
}

func newBase(id uint64, clk clock.Clock) base {
	now := clk.Now()
	return base{
		id:         id,
		clock:      clk,
		age:        now,
		mu:         &sync.Mutex{},
		lastUpdate: now,
	}
}

func (b *base) ID() uint64 {
	return b.id
}

func (b *base) Age() time.Time {
	return b.age
}

func (b *base) LastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}

func (b *base) RefCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refCount
}

func (b *base) Errored() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.errored
}

func (b *base) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

func (b *base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *base) touch() {
	b.mu.Lock()
	b.lastUpdate = b.clock.Now()
	b.mu.Unlock()
}

func (b *base) use() {
	b.mu.Lock()
	b.refCount++
	b.lastUpdate = b.clock.Now()
	b.mu.Unlock()
}

func (b *base) release() {
	b.mu.Lock()
	b.refCount--
	b.lastUpdate = b.clock.Now()
	b.mu.Unlock()
}

// markErrored records err and reports whether the transition happened.
func (b *base) markErrored(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errored || b.disposed {
		return false
	}
	b.errored = true
	b.err = err
	return true
}

func (b *base) markDisposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return false
	}
	b.disposed = true
	return true
}

// terminalErr returns the error observers of an errored or disposed resource
// fail with, or nil.
func (b *base) terminalErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errored {
		return b.err
	}
	if b.disposed {
		return ErrResourceDisposed
	}
	return nil
}

func (b *base) live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.errored && !b.disposed
}
