package resource

import (
	"github.com/benbjohnson/clock"

	"github.com/kbirk/peerchan/pkg/async"
	"github.com/kbirk/peerchan/pkg/channel"
)

// ObservableResource exposes a local stream to the remote side. Every remote
// subscription id opens its own subscription on the source.
type ObservableResource struct {
	base
	source async.Observable
	subs   map[uint64]*async.Subscriber
	pusher pusher
}

func newObservableResource(id uint64, source async.Observable, clk clock.Clock, p pusher) *ObservableResource {
	return &ObservableResource{
		base:   newBase(id, clk),
		source: source,
		subs:   make(map[uint64]*async.Subscriber),
		pusher: p,
	}
}

func (r *ObservableResource) Source() async.Observable {
	return r.source
}

// Subscriptions returns the number of open remote subscriptions.
func (r *ObservableResource) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *ObservableResource) SetError(err error) {
	if r.markErrored(err) {
		r.failAll(err)
	}
}

func (r *ObservableResource) Dispose() {
	if r.markDisposed() {
		r.failAll(ErrResourceDisposed)
	}
}

func (r *ObservableResource) failAll(err error) {
	r.mu.Lock()
	subs := make([]*async.Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	for _, s := range subs {
		s.Error(err)
	}
}

func (r *ObservableResource) handleActive(msg *ProtocolMessage) bool {
	switch msg.Type {
	case TypeObservableSubscribe:
		r.subscribe(msg.SubID)
	case TypeObservableUnsubscribe:
		r.unsubscribe(msg.SubID)
	default:
		return false
	}
	return true
}

func (r *ObservableResource) subscribe(subID uint64) {
	var inner *async.Subscriber
	inner = async.NewSubscriber(async.Observer{
		Next: func(v any) {
			r.touch()
			r.pushNext(v)
		},
		Error: func(err error) {
			r.touch()
			r.remove(subID, inner)
			r.pushError(err)
		},
		Complete: func() {
			r.touch()
			r.remove(subID, inner)
			r.pushComplete()
		},
	})

	if err := r.terminalErr(); err != nil {
		inner.Error(err)
		return
	}

	r.mu.Lock()
	if prev, ok := r.subs[subID]; ok {
		// a repeated subscribe replaces the previous registration
		r.mu.Unlock()
		r.remove(subID, prev)
		prev.Unsubscribe()
		r.mu.Lock()
	}
	r.subs[subID] = inner
	r.refCount++
	r.lastUpdate = r.clock.Now()
	r.mu.Unlock()

	upstream := r.source.Subscribe(async.Observer{
		Next:     inner.Next,
		Error:    inner.Error,
		Complete: inner.Complete,
	})
	inner.Add(upstream.Unsubscribe)
}

func (r *ObservableResource) unsubscribe(subID uint64) {
	r.mu.Lock()
	inner, ok := r.subs[subID]
	r.mu.Unlock()
	if !ok {
		r.touch()
		return
	}
	r.remove(subID, inner)
	inner.Unsubscribe()
}

// remove drops the registration of subID if it still belongs to inner and
// releases its reference.
func (r *ObservableResource) remove(subID uint64, inner *async.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.subs[subID]; !ok || current != inner {
		return
	}
	delete(r.subs, subID)
	r.refCount--
	r.lastUpdate = r.clock.Now()
}

func (r *ObservableResource) pushNext(v any) {
	r.pusher.push(r, &ProtocolMessage{
		Type:    TypeObservableNext,
		ID:      r.id,
		Payload: v,
	}, nil)
}

func (r *ObservableResource) pushError(err error) {
	r.pusher.push(r, &ProtocolMessage{
		Type:    TypeObservableError,
		ID:      r.id,
		Payload: channel.NewErrorPayload(err),
	}, r.Dispose)
}

func (r *ObservableResource) pushComplete() {
	r.pusher.push(r, &ProtocolMessage{
		Type: TypeObservableComplete,
		ID:   r.id,
	}, r.Dispose)
}

// ObservableListenerResource stands in for a stream owned by the remote side.
// Local subscribers share one remote subscription, opened by the first of
// them and closed when the last one leaves.
type ObservableListenerResource struct {
	base
	subject    *async.Subject
	observers  int
	registered bool
	subID      uint64
	terminated bool
	pusher     pusher
	proxy      *RemoteStream
}

func newObservableListenerResource(id uint64, clk clock.Clock, p pusher) *ObservableListenerResource {
	r := &ObservableListenerResource{
		base:    newBase(id, clk),
		subject: async.NewSubject(),
		pusher:  p,
	}
	r.proxy = &RemoteStream{
		r: r,
	}
	return r
}

func (r *ObservableListenerResource) Stream() *RemoteStream {
	return r.proxy
}

func (r *ObservableListenerResource) SetError(err error) {
	if r.markErrored(err) {
		r.terminate()
		r.subject.Error(err)
	}
}

func (r *ObservableListenerResource) Dispose() {
	if r.markDisposed() {
		r.terminate()
		r.subject.Error(ErrResourceDisposed)
	}
}

func (r *ObservableListenerResource) terminate() {
	r.mu.Lock()
	r.terminated = true
	r.mu.Unlock()
}

func (r *ObservableListenerResource) handlePassive(msg *ProtocolMessage) bool {
	switch msg.Type {
	case TypeObservableNext:
		r.touch()
		r.subject.Next(msg.Payload)
	case TypeObservableComplete:
		r.touch()
		r.terminate()
		r.subject.Complete()
	case TypeObservableError:
		r.touch()
		r.terminate()
		r.subject.Error(channel.ErrorFromPayload(msg.Payload, channel.CodeRequestError))
	default:
		return false
	}
	return true
}

// addObserver counts a local subscriber and reports the subscription id to
// register remotely, if this is the first one.
func (r *ObservableListenerResource) addObserver() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount++
	r.observers++
	r.lastUpdate = r.clock.Now()
	if r.registered || r.terminated {
		return 0, false
	}
	r.registered = true
	r.subID = r.pusher.nextID()
	return r.subID, true
}

func (r *ObservableListenerResource) removeObserver() {
	r.mu.Lock()
	r.refCount--
	r.observers--
	r.lastUpdate = r.clock.Now()
	if r.observers > 0 || !r.registered || r.terminated {
		r.mu.Unlock()
		return
	}
	r.registered = false
	subID := r.subID
	r.mu.Unlock()

	r.pusher.push(r, &ProtocolMessage{
		Type:  TypeObservableUnsubscribe,
		ID:    r.id,
		SubID: subID,
	}, nil)
}

// RemoteStream is the local proxy of a remote stream. Values emitted by the
// owner before a subscription is registered are never replayed.
type RemoteStream struct {
	r *ObservableListenerResource
}

func (s *RemoteStream) ID() uint64 {
	return s.r.id
}

func (s *RemoteStream) Subscribe(o async.Observer) async.Subscription {
	r := s.r
	sub := async.NewSubscriber(o)

	if err := r.terminalErr(); err != nil {
		sub.Error(err)
		return sub
	}

	subID, register := r.addObserver()
	sub.Add(r.removeObserver)

	inner := r.subject.Subscribe(async.Observer{
		Next:     sub.Next,
		Error:    sub.Error,
		Complete: sub.Complete,
	})
	sub.Add(inner.Unsubscribe)

	if register {
		r.pusher.push(r, &ProtocolMessage{
			Type:  TypeObservableSubscribe,
			ID:    r.id,
			SubID: subID,
		}, nil)
	}
	return sub
}
