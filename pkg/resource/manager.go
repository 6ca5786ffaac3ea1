package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kbirk/peerchan/internal/util"
	"github.com/kbirk/peerchan/pkg/async"
	"github.com/kbirk/peerchan/pkg/channel"
	"github.com/kbirk/peerchan/pkg/log"
)

const (
	DefaultCollectionPeriod = 30 * time.Second
	DefaultSlidingWindow    = 600 * time.Second
	DefaultExpirationGrace  = 10 * time.Second
)

type options struct {
	collectionPeriod time.Duration
	slidingWindow    time.Duration
	maxLifetime      time.Duration
	expirationGrace  time.Duration
	clock            clock.Clock
	logger           log.Logger
}

type Option func(*options)

// WithCollectionPeriod sets how often the collector sweeps both arenas.
func WithCollectionPeriod(period time.Duration) Option {
	return func(o *options) {
		o.collectionPeriod = period
	}
}

// WithSlidingWindow sets how long a resource may stay idle before it expires.
// A non positive window disables idle expiry.
func WithSlidingWindow(window time.Duration) Option {
	return func(o *options) {
		o.slidingWindow = window
	}
}

// WithMaxLifetime sets the absolute lifetime of a resource. A non positive
// lifetime, the default, disables it.
func WithMaxLifetime(lifetime time.Duration) Option {
	return func(o *options) {
		o.maxLifetime = lifetime
	}
}

// WithExpirationGrace sets how long a resource past its lifetime must have
// been idle before it expires.
func WithExpirationGrace(grace time.Duration) Option {
	return func(o *options) {
		o.expirationGrace = grace
	}
}

func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

type ownedResource interface {
	Resource
	handleActive(msg *ProtocolMessage) bool
}

type listenerResource interface {
	Resource
	handlePassive(msg *ProtocolMessage) bool
}

// arena holds resources of one role keyed by id.
type arena[R Resource] struct {
	mu    *sync.Mutex
	items map[uint64]R
}

func newArena[R Resource]() *arena[R] {
	return &arena[R]{
		mu:    &sync.Mutex{},
		items: make(map[uint64]R),
	}
}

func (a *arena[R]) put(r R) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[r.ID()] = r
}

func (a *arena[R]) get(id uint64) (R, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.items[id]
	return r, ok
}

func (a *arena[R]) snapshot() []R {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs := make([]R, 0, len(a.items))
	for _, r := range a.items {
		rs = append(rs, r)
	}
	return rs
}

// removeIf deletes r only if it is still the resource registered under its id.
func (a *arena[R]) removeIf(r R) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if current, ok := a.items[r.ID()]; ok && Resource(current) == Resource(r) {
		delete(a.items, r.ID())
	}
}

func (a *arena[R]) clear() []R {
	a.mu.Lock()
	defer a.mu.Unlock()
	rs := make([]R, 0, len(a.items))
	for _, r := range a.items {
		rs = append(rs, r)
	}
	a.items = make(map[uint64]R)
	return rs
}

func (a *arena[R]) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// Manager proxies deferred values and streams across a channel. It is an
// incoming request middleware: register it with the channel builder.
type Manager struct {
	ch     *channel.Channel
	opts   options
	clock  clock.Clock
	logger log.Logger
	ids    *util.SequentialIDProvider
	ctx    context.Context
	cancel context.CancelFunc

	owned     *arena[ownedResource]
	listeners *arena[listenerResource]

	mu       *sync.Mutex
	disposed bool
	done     chan struct{}
}

// NewManager creates a manager sending through ch and starts the periodic
// collector.
func NewManager(ch *channel.Channel, opts ...Option) *Manager {
	o := options{
		collectionPeriod: DefaultCollectionPeriod,
		slidingWindow:    DefaultSlidingWindow,
		expirationGrace:  DefaultExpirationGrace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = ch.Clock()
	}
	if o.collectionPeriod <= 0 {
		o.collectionPeriod = DefaultCollectionPeriod
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		ch:        ch,
		opts:      o,
		clock:     o.clock,
		logger:    log.OrNop(o.logger),
		ids:       util.NewSequentialIDProvider(),
		ctx:       ctx,
		cancel:    cancel,
		owned:     newArena[ownedResource](),
		listeners: newArena[listenerResource](),
		mu:        &sync.Mutex{},
		done:      make(chan struct{}),
	}

	go m.collectLoop(m.clock.Ticker(o.collectionPeriod))

	return m
}

func (m *Manager) collectLoop(ticker *clock.Ticker) {
	defer close(m.done)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Collect()
		}
	}
}

func (m *Manager) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

func (m *Manager) nextID() uint64 {
	return m.ids.Next()
}

func (m *Manager) push(r Resource, msg *ProtocolMessage, onDone func()) {
	m.ch.SendRequestAsync(m.ctx, msg).Then(func(any) {
		if onDone != nil {
			onDone()
		}
	}, func(err error) {
		m.logger.Debug(fmt.Sprintf("Failed to push %s for resource %d: %v", msg.Type, msg.ID, err))
		r.SetError(err)
	})
}

func (m *Manager) announce(ctx context.Context, r ownedResource, typ MessageType) (uint64, error) {
	m.owned.put(r)

	_, err := m.ch.SendRequest(ctx, &ProtocolMessage{
		Type: typ,
		ID:   r.ID(),
	})
	if err != nil {
		r.SetError(err)
		return 0, err
	}
	m.logger.Debug(fmt.Sprintf("Announced %s %d", typ, r.ID()))
	return r.ID(), nil
}

// WrapDeferred registers a local deferred value and announces it to the
// remote side. The returned id is valid once the remote side acknowledged
// it.
func (m *Manager) WrapDeferred(ctx context.Context, a async.Awaitable) (uint64, error) {
	if a == nil {
		return 0, fmt.Errorf("awaitable must be set")
	}
	if m.Disposed() {
		return 0, ErrManagerDisposed
	}
	r := newPromiseResource(m.ids.Next(), a, m.clock, m)
	return m.announce(ctx, r, TypePromiseCreate)
}

// WrapStream registers a local stream and announces it to the remote side.
func (m *Manager) WrapStream(ctx context.Context, o async.Observable) (uint64, error) {
	if o == nil {
		return 0, fmt.Errorf("observable must be set")
	}
	if m.Disposed() {
		return 0, ErrManagerDisposed
	}
	r := newObservableResource(m.ids.Next(), o, m.clock, m)
	return m.announce(ctx, r, TypeObservableCreate)
}

// GetWrappedDeferredID returns the id of the live resource wrapping a.
func (m *Manager) GetWrappedDeferredID(a async.Awaitable) (uint64, bool) {
	if m.Disposed() {
		return 0, false
	}
	for _, r := range m.owned.snapshot() {
		if p, ok := r.(*PromiseResource); ok && p.live() && util.SameValue(p.source, a) {
			return p.id, true
		}
	}
	return 0, false
}

// GetWrappedStreamID returns the id of the live resource wrapping o.
func (m *Manager) GetWrappedStreamID(o async.Observable) (uint64, bool) {
	if m.Disposed() {
		return 0, false
	}
	for _, r := range m.owned.snapshot() {
		if s, ok := r.(*ObservableResource); ok && s.live() && util.SameValue(s.source, o) {
			return s.id, true
		}
	}
	return 0, false
}

// GetListeningDeferred returns the proxy of the remote deferred value with
// the given id, or nil if there is no live one.
func (m *Manager) GetListeningDeferred(id uint64) *RemoteDeferred {
	if m.Disposed() {
		return nil
	}
	r, ok := m.listeners.get(id)
	if !ok {
		return nil
	}
	p, ok := r.(*PromiseListenerResource)
	if !ok || !p.live() {
		return nil
	}
	return p.proxy
}

// GetListeningStream returns the proxy of the remote stream with the given
// id, or nil if there is no live one.
func (m *Manager) GetListeningStream(id uint64) *RemoteStream {
	if m.Disposed() {
		return nil
	}
	r, ok := m.listeners.get(id)
	if !ok {
		return nil
	}
	s, ok := r.(*ObservableListenerResource)
	if !ok || !s.live() {
		return nil
	}
	return s.proxy
}

func (m *Manager) GetListeningDeferredID(d *RemoteDeferred) (uint64, bool) {
	if d == nil || m.GetListeningDeferred(d.r.id) != d {
		return 0, false
	}
	return d.r.id, true
}

func (m *Manager) GetListeningStreamID(s *RemoteStream) (uint64, bool) {
	if s == nil || m.GetListeningStream(s.r.id) != s {
		return 0, false
	}
	return s.r.id, true
}

// HandleIncomingRequest consumes resource protocol messages addressed to a
// known resource and passes everything else down the chain.
func (m *Manager) HandleIncomingRequest(ctx *channel.IncomingRequestContext, next channel.Next) error {
	if m.Disposed() {
		return next()
	}

	msg, ok := ParseProtocolMessage(ctx.Request.Payload)
	if !ok {
		return next()
	}

	switch {
	case msg.Type == TypePromiseCreate:
		m.listen(newPromiseListenerResource(msg.ID, m.clock, m))
	case msg.Type == TypeObservableCreate:
		m.listen(newObservableListenerResource(msg.ID, m.clock, m))
	case msg.Type.IsActive():
		r, ok := m.owned.get(msg.ID)
		if !ok || !r.handleActive(msg) {
			return next()
		}
	case msg.Type.IsPassive():
		r, ok := m.listeners.get(msg.ID)
		if !ok || !r.handlePassive(msg) {
			return next()
		}
	default:
		return next()
	}

	return ctx.SetResult(true)
}

// MatchInline reports whether req is a protocol message for a resource this
// manager knows. Handling those never blocks.
func (m *Manager) MatchInline(req *channel.RequestMessage) bool {
	if m.Disposed() {
		return false
	}
	msg, ok := ParseProtocolMessage(req.Payload)
	if !ok {
		return false
	}
	switch {
	case msg.Type.IsCreate():
		return true
	case msg.Type.IsActive():
		_, ok = m.owned.get(msg.ID)
	case msg.Type.IsPassive():
		_, ok = m.listeners.get(msg.ID)
	default:
		ok = false
	}
	return ok
}

func (m *Manager) listen(r listenerResource) {
	if prev, ok := m.listeners.get(r.ID()); ok {
		prev.Dispose()
	}
	m.listeners.put(r)
	m.logger.Debug(fmt.Sprintf("Listening to remote resource %d", r.ID()))
}

// Collect runs one collection pass over both arenas. Each resource makes at
// most one transition per pass, so an expired resource is marked errored on
// one pass and removed on the next.
func (m *Manager) Collect() {
	if m.Disposed() {
		return
	}
	now := m.clock.Now()
	collectArena(m, now, m.owned)
	collectArena(m, now, m.listeners)
}

func collectArena[R Resource](m *Manager, now time.Time, a *arena[R]) {
	for _, r := range a.snapshot() {
		if m.collect(now, r) {
			a.removeIf(r)
		}
	}
}

// collect applies the collection rules in order and reports whether r was
// disposed and must be removed.
func (m *Manager) collect(now time.Time, r Resource) bool {
	switch {
	case r.RefCount() <= 0 && r.Age().Before(r.LastUpdate()):
		r.Dispose()
		return true
	case r.Errored() || r.Disposed():
		r.Dispose()
		return true
	case m.opts.slidingWindow > 0 && now.Sub(r.LastUpdate()) > m.opts.slidingWindow:
		m.logger.Debug(fmt.Sprintf("Resource %d idle for %s", r.ID(), now.Sub(r.LastUpdate())))
		r.SetError(ErrResourceSlidingUsageExpired)
	case m.opts.maxLifetime > 0 && now.Sub(r.Age()) > m.opts.maxLifetime && now.Sub(r.LastUpdate()) > m.opts.expirationGrace:
		m.logger.Debug(fmt.Sprintf("Resource %d exceeded its lifetime", r.ID()))
		r.SetError(ErrResourceExpired)
	}
	return false
}

// Counts returns the number of owned and listener resources currently held.
func (m *Manager) Counts() (owned int, listening int) {
	return m.owned.len(), m.listeners.len()
}

// Dispose stops the collector and disposes every resource. Pending observers
// fail with ErrResourceDisposed.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return nil
	}
	m.disposed = true
	m.mu.Unlock()

	m.cancel()
	<-m.done

	for _, r := range m.owned.clear() {
		r.Dispose()
	}
	for _, r := range m.listeners.clear() {
		r.Dispose()
	}
	m.logger.Debug("Resource manager disposed")
	return nil
}
