package async

import (
	"context"
	"errors"
	"sync"
)

var ErrNilRejection = errors.New("deferred rejected with nil error")

// Awaitable is anything that eventually settles to a value or an error and
// notifies callbacks registered through Then exactly once.
type Awaitable interface {
	Then(onValue func(any), onError func(error))
}

type callback struct {
	onValue func(any)
	onError func(error)
}

func (c callback) run(value any, err error) {
	if err != nil {
		if c.onError != nil {
			c.onError(err)
		}
		return
	}
	if c.onValue != nil {
		c.onValue(value)
	}
}

// Deferred is a single-shot value that settles exactly once.
type Deferred struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     any
	err       error
	callbacks []callback
}

func NewDeferred() *Deferred {
	return &Deferred{
		done: make(chan struct{}),
	}
}

// Resolved returns a deferred already settled with v.
func Resolved(v any) *Deferred {
	d := NewDeferred()
	d.Resolve(v)
	return d
}

// Rejected returns a deferred already settled with err.
func Rejected(err error) *Deferred {
	d := NewDeferred()
	d.Reject(err)
	return d
}

// Resolve settles the deferred with v. It returns false if the deferred was
// already settled.
func (d *Deferred) Resolve(v any) bool {
	return d.settle(v, nil)
}

// Reject settles the deferred with err. It returns false if the deferred was
// already settled.
func (d *Deferred) Reject(err error) bool {
	if err == nil {
		err = ErrNilRejection
	}
	return d.settle(nil, err)
}

func (d *Deferred) settle(value any, err error) bool {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return false
	}
	d.settled = true
	d.value = value
	d.err = err
	callbacks := d.callbacks
	d.callbacks = nil
	close(d.done)
	d.mu.Unlock()

	for _, cb := range callbacks {
		cb.run(value, err)
	}
	return true
}

// Then registers callbacks invoked once the deferred settles. If it already
// has, the matching callback runs immediately on the calling goroutine,
// otherwise on the goroutine that settles it.
func (d *Deferred) Then(onValue func(any), onError func(error)) {
	cb := callback{
		onValue: onValue,
		onError: onError,
	}

	d.mu.Lock()
	if !d.settled {
		d.callbacks = append(d.callbacks, cb)
		d.mu.Unlock()
		return
	}
	value, err := d.value, d.err
	d.mu.Unlock()

	cb.run(value, err)
}

// Done is closed once the deferred settles.
func (d *Deferred) Done() <-chan struct{} {
	return d.done
}

// Result returns the settled value and error, and whether the deferred has
// settled at all.
func (d *Deferred) Result() (any, error, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.err, d.settled
}

// Wait blocks until the deferred settles or ctx is done.
func (d *Deferred) Wait(ctx context.Context) (any, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await blocks until a settles or ctx is done.
func Await(ctx context.Context, a Awaitable) (any, error) {
	if d, ok := a.(*Deferred); ok {
		return d.Wait(ctx)
	}
	d := NewDeferred()
	a.Then(func(v any) {
		d.Resolve(v)
	}, func(err error) {
		d.Reject(err)
	})
	return d.Wait(ctx)
}

// Go runs fn on a new goroutine and settles the returned deferred with its
// result.
func Go(fn func() (any, error)) *Deferred {
	d := NewDeferred()
	go func() {
		v, err := fn()
		if err != nil {
			d.Reject(err)
			return
		}
		d.Resolve(v)
	}()
	return d
}
