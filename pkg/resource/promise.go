package resource

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/kbirk/peerchan/pkg/async"
	"github.com/kbirk/peerchan/pkg/channel"
)

// PromiseResource exposes a local deferred value to the remote side. The
// value is pushed once the listener pings it.
type PromiseResource struct {
	base
	source  async.Awaitable
	settled *async.Deferred
	pusher  pusher
}

func newPromiseResource(id uint64, source async.Awaitable, clk clock.Clock, p pusher) *PromiseResource {
	r := &PromiseResource{
		base:    newBase(id, clk),
		source:  source,
		settled: async.NewDeferred(),
		pusher:  p,
	}
	// settled races the source against errors and disposal
	source.Then(func(v any) {
		r.settled.Resolve(v)
	}, func(err error) {
		r.settled.Reject(err)
	})
	return r
}

func (r *PromiseResource) Source() async.Awaitable {
	return r.source
}

func (r *PromiseResource) SetError(err error) {
	if r.markErrored(err) {
		r.settled.Reject(err)
	}
}

func (r *PromiseResource) Dispose() {
	if r.markDisposed() {
		r.settled.Reject(ErrResourceDisposed)
	}
}

func (r *PromiseResource) handleActive(msg *ProtocolMessage) bool {
	if msg.Type != TypePromisePing {
		return false
	}
	if err := r.terminalErr(); err != nil {
		r.pushReject(err)
		return true
	}
	r.use()
	r.settled.Then(func(v any) {
		r.release()
		r.pushResolve(v)
	}, func(err error) {
		r.release()
		r.pushReject(err)
	})
	return true
}

func (r *PromiseResource) pushResolve(v any) {
	r.pusher.push(r, &ProtocolMessage{
		Type:    TypePromiseResolve,
		ID:      r.id,
		Payload: v,
	}, r.Dispose)
}

func (r *PromiseResource) pushReject(err error) {
	r.pusher.push(r, &ProtocolMessage{
		Type:    TypePromiseReject,
		ID:      r.id,
		Payload: channel.NewErrorPayload(err),
	}, r.Dispose)
}

// PromiseListenerResource stands in for a deferred value owned by the remote
// side.
type PromiseListenerResource struct {
	base
	deferred *async.Deferred
	pinged   bool
	pusher   pusher
	proxy    *RemoteDeferred
}

func newPromiseListenerResource(id uint64, clk clock.Clock, p pusher) *PromiseListenerResource {
	r := &PromiseListenerResource{
		base:     newBase(id, clk),
		deferred: async.NewDeferred(),
		pusher:   p,
	}
	r.proxy = &RemoteDeferred{
		r: r,
	}
	return r
}

func (r *PromiseListenerResource) Deferred() *RemoteDeferred {
	return r.proxy
}

func (r *PromiseListenerResource) SetError(err error) {
	if r.markErrored(err) {
		r.deferred.Reject(err)
	}
}

func (r *PromiseListenerResource) Dispose() {
	if r.markDisposed() {
		r.deferred.Reject(ErrResourceDisposed)
	}
}

func (r *PromiseListenerResource) handlePassive(msg *ProtocolMessage) bool {
	switch msg.Type {
	case TypePromiseResolve:
		r.touch()
		r.deferred.Resolve(msg.Payload)
	case TypePromiseReject:
		r.touch()
		r.deferred.Reject(channel.ErrorFromPayload(msg.Payload, channel.CodeRequestError))
	default:
		return false
	}
	return true
}

// ping asks the owner for the value the first time the proxy is observed.
func (r *PromiseListenerResource) ping() {
	if _, _, settled := r.deferred.Result(); settled {
		return
	}
	r.mu.Lock()
	if r.pinged {
		r.mu.Unlock()
		return
	}
	r.pinged = true
	r.mu.Unlock()

	r.pusher.push(r, &ProtocolMessage{
		Type: TypePromisePing,
		ID:   r.id,
	}, nil)
}

// RemoteDeferred is the local proxy of a remote deferred value. Observing it
// any number of times shares a single ping to the owner.
type RemoteDeferred struct {
	r *PromiseListenerResource
}

func (d *RemoteDeferred) ID() uint64 {
	return d.r.id
}

func (d *RemoteDeferred) Then(onValue func(any), onError func(error)) {
	r := d.r
	r.use()
	r.ping()
	r.deferred.Then(func(v any) {
		r.release()
		if onValue != nil {
			onValue(v)
		}
	}, func(err error) {
		r.release()
		if onError != nil {
			onError(err)
		}
	})
}

// Wait blocks until the remote value settles or ctx is done.
func (d *RemoteDeferred) Wait(ctx context.Context) (any, error) {
	return async.Await(ctx, d)
}
