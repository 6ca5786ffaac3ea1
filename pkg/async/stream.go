package async

import (
	"sync"
	"sync/atomic"
)

// Observer receives the notifications of a stream. Nil callbacks are ignored.
type Observer struct {
	Next     func(any)
	Error    func(error)
	Complete func()
}

type Subscription interface {
	Unsubscribe()
}

// Observable is a push based sequence of values terminated by completion or
// error. Every call to Subscribe creates an independent subscription.
type Observable interface {
	Subscribe(Observer) Subscription
}

// Subscriber wraps an Observer and enforces the stream contract: nothing is
// delivered after a terminal notification, and teardown logic runs exactly
// once. No notification starts after Unsubscribe returns, but a Next already
// in progress on another goroutine still reaches the observer. Delivery is
// not held under a lock so that observers may unsubscribe from their own
// callbacks.
type Subscriber struct {
	observer Observer
	closed   atomic.Bool
	mu       sync.Mutex
	teardown []func()
}

func NewSubscriber(o Observer) *Subscriber {
	return &Subscriber{
		observer: o,
	}
}

func (s *Subscriber) Next(v any) {
	if s.closed.Load() {
		return
	}
	if s.observer.Next != nil {
		s.observer.Next(v)
	}
}

func (s *Subscriber) Error(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.observer.Error != nil {
		s.observer.Error(err)
	}
	s.runTeardown()
}

func (s *Subscriber) Complete() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.observer.Complete != nil {
		s.observer.Complete()
	}
	s.runTeardown()
}

func (s *Subscriber) Unsubscribe() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.runTeardown()
}

// Closed reports whether the subscriber has terminated or unsubscribed.
func (s *Subscriber) Closed() bool {
	return s.closed.Load()
}

// Add registers fn to run when the subscriber closes. If it is already
// closed fn runs immediately.
func (s *Subscriber) Add(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if !s.closed.Load() {
		s.teardown = append(s.teardown, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

func (s *Subscriber) runTeardown() {
	s.mu.Lock()
	teardown := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	for i := len(teardown) - 1; i >= 0; i-- {
		teardown[i]()
	}
}

type observableFunc func(*Subscriber) func()

func (fn observableFunc) Subscribe(o Observer) Subscription {
	s := NewSubscriber(o)
	s.Add(fn(s))
	return s
}

// NewObservable creates a cold observable. produce is called once per
// subscription and may return a teardown function.
func NewObservable(produce func(*Subscriber) func()) Observable {
	return observableFunc(produce)
}

// Of returns a cold observable that emits values synchronously then completes.
func Of(values ...any) Observable {
	return NewObservable(func(s *Subscriber) func() {
		for _, v := range values {
			if s.Closed() {
				return nil
			}
			s.Next(v)
		}
		s.Complete()
		return nil
	})
}

type subjectEntry struct {
	id  uint64
	sub *Subscriber
}

// Subject is a hot observable. Values emitted before a subscription exists
// are not replayed to it. Once completed or errored, later subscribers are
// notified of the terminal state immediately.
type Subject struct {
	mu          sync.Mutex
	subscribers []subjectEntry
	nextID      uint64
	stopped     bool
	err         error
}

func NewSubject() *Subject {
	return &Subject{}
}

func (s *Subject) Subscribe(o Observer) Subscription {
	sub := NewSubscriber(o)

	s.mu.Lock()
	if s.stopped {
		err := s.err
		s.mu.Unlock()
		if err != nil {
			sub.Error(err)
		} else {
			sub.Complete()
		}
		return sub
	}
	id := s.nextID
	s.nextID++
	s.subscribers = append(s.subscribers, subjectEntry{id: id, sub: sub})
	s.mu.Unlock()

	sub.Add(func() {
		s.remove(id)
	})
	return sub
}

func (s *Subject) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.subscribers {
		if e.id == id {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

func (s *Subject) snapshot() []*Subscriber {
	subs := make([]*Subscriber, len(s.subscribers))
	for i, e := range s.subscribers {
		subs[i] = e.sub
	}
	return subs
}

func (s *Subject) Next(v any) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	subs := s.snapshot()
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Next(v)
	}
}

func (s *Subject) Error(err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.err = err
	subs := s.snapshot()
	s.subscribers = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Error(err)
	}
}

func (s *Subject) Complete() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	subs := s.snapshot()
	s.subscribers = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Complete()
	}
}

// Observers returns the number of active subscriptions.
func (s *Subject) Observers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}
