package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/kbirk/peerchan/internal/util"
	"github.com/kbirk/peerchan/pkg/async"
)

type pendingRequest struct {
	request  *RequestMessage
	deferred *async.Deferred
	age      time.Time
	timer    *clock.Timer
}

// Channel correlates requests, responses and events exchanged with a single
// remote peer over a Transport.
type Channel struct {
	conf   Config
	name   string
	clock  clock.Clock
	ids    *util.SequentialIDProvider
	ctx    context.Context
	cancel context.CancelFunc
	queue  *requestQueue

	outgoing  []step[*OutgoingRequestContext]
	incoming  []step[*IncomingRequestContext]
	responses []step[*IncomingResponseContext]
	inline    []InlineMatcher
	disposers []Disposer

	mu       *sync.Mutex
	pending  map[uint64]*pendingRequest
	disposed bool

	errors            *async.Subject
	events            *async.Subject
	outgoingRequests  *async.Subject
	outgoingResponses *async.Subject
	outgoingEvents    *async.Subject
	incomingRequests  *async.Subject
	incomingResponses *async.Subject
	incomingEvents    *async.Subject
}

// New creates a channel over conf.Transport, lets build register middleware
// and starts the transport.
func New(conf Config, build BuildFunc) (*Channel, error) {
	if conf.Transport == nil {
		return nil, fmt.Errorf("transport must be set")
	}
	conf = conf.withDefaults()

	name := conf.Name
	if name == "" {
		name = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		conf:              conf,
		name:              name,
		clock:             conf.Clock,
		ids:               util.NewSequentialIDProvider(),
		ctx:               ctx,
		cancel:            cancel,
		queue:             newRequestQueue(),
		mu:                &sync.Mutex{},
		pending:           make(map[uint64]*pendingRequest),
		errors:            async.NewSubject(),
		events:            async.NewSubject(),
		outgoingRequests:  async.NewSubject(),
		outgoingResponses: async.NewSubject(),
		outgoingEvents:    async.NewSubject(),
		incomingRequests:  async.NewSubject(),
		incomingResponses: async.NewSubject(),
		incomingEvents:    async.NewSubject(),
	}

	b := &Builder{}
	if build != nil {
		build(c, b)
	}
	c.outgoing = outgoingSteps(b.outgoing)
	c.incoming = incomingSteps(b.incoming)
	c.responses = responseSteps(b.responses)
	c.inline = b.inline
	c.disposers = b.disposers

	if b.err != nil {
		c.disposeMiddleware()
		cancel()
		return nil, b.err
	}

	go c.dispatch()

	if err := conf.Transport.Start(c.handleMessage, c.handleError); err != nil {
		c.Dispose()
		return nil, fmt.Errorf("failed to start transport: %w", err)
	}

	c.logDebug(fmt.Sprintf("Channel %s started", c.name))
	return c, nil
}

func (c *Channel) Name() string {
	return c.name
}

// Clock returns the clock the channel schedules its timers on.
func (c *Channel) Clock() clock.Clock {
	return c.clock
}

func (c *Channel) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Pending returns the number of requests awaiting a response.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Channel) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *Channel) logInfo(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Info(msg)
	}
}

func (c *Channel) logWarn(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Warn(msg)
	}
}

func (c *Channel) logError(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error(msg)
	}
}

func (c *Channel) handleError(err error) {
	c.logError("Encountered error: " + err.Error())
	c.errors.Next(err)
	if c.conf.ErrHandler != nil {
		c.conf.ErrHandler(err)
	}
}

func (c *Channel) guard() error {
	if c.Disposed() {
		return ErrChannelDisposed
	}
	return nil
}

func (c *Channel) executeOutgoingRequestPipeline(ctx *OutgoingRequestContext) error {
	return buildChain(ctx, c.outgoing, c.guard, nil)()
}

func (c *Channel) executeIncomingRequestPipeline(ctx *IncomingRequestContext) error {
	return buildChain(ctx, c.incoming, c.guard, ctx.IsCompleted)()
}

func (c *Channel) executeIncomingResponsePipeline(ctx *IncomingResponseContext) error {
	return buildChain(ctx, c.responses, c.guard, nil)()
}

type requestOptions struct {
	timeout       time.Duration
	transferables []any
}

type RequestOption func(*requestOptions)

// WithTimeout sets the timeout of a single request, overriding both the
// pipeline and the global timeout.
func WithTimeout(timeout time.Duration) RequestOption {
	return func(o *requestOptions) {
		o.timeout = timeout
	}
}

// WithTransferables seeds the transfer hints of a request.
func WithTransferables(transferables ...any) RequestOption {
	return func(o *requestOptions) {
		o.transferables = append(o.transferables, transferables...)
	}
}

// SendRequest sends payload to the remote peer and blocks until the response
// arrives, the request times out, or ctx is done.
func (c *Channel) SendRequest(ctx context.Context, payload any, opts ...RequestOption) (any, error) {
	req, d := c.sendRequest(ctx, payload, opts)

	res, err := d.Wait(ctx)
	if err != nil && ctx.Err() != nil && req != nil {
		c.removePending(req.ID)
	}
	return res, err
}

// SendRequestAsync runs the outgoing pipeline and posts the request before
// returning, so consecutive calls reach the transport in call order. The
// returned deferred settles with the response.
func (c *Channel) SendRequestAsync(ctx context.Context, payload any, opts ...RequestOption) *async.Deferred {
	_, d := c.sendRequest(ctx, payload, opts)
	return d
}

func (c *Channel) sendRequest(ctx context.Context, payload any, opts []RequestOption) (*RequestMessage, *async.Deferred) {
	d := async.NewDeferred()

	if c.Disposed() {
		d.Reject(ErrChannelDisposed)
		return nil, d
	}

	options := requestOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	req := &RequestMessage{
		ID:      c.ids.Next(),
		Payload: payload,
	}

	octx := &OutgoingRequestContext{
		ctx:           ctx,
		Request:       req,
		Transferables: options.transferables,
	}

	if err := c.executeOutgoingRequestPipeline(octx); err != nil {
		d.Reject(err)
		return nil, d
	}

	timeout := options.timeout
	if timeout <= 0 {
		timeout = octx.Timeout
	}
	if timeout <= 0 {
		timeout = c.conf.GlobalRequestTimeout
	}

	// the pipeline may have replaced the request
	req = octx.Request
	req.Payload = normalizePayload(req.Payload)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		d.Reject(ErrChannelDisposed)
		return nil, d
	}
	pr := &pendingRequest{
		request:  req,
		deferred: d,
		age:      c.clock.Now(),
	}
	id := req.ID
	pr.timer = c.clock.AfterFunc(timeout, func() {
		c.expire(id)
	})
	c.pending[id] = pr
	c.mu.Unlock()

	c.outgoingRequests.Next(req)

	if err := c.conf.Transport.PostMessage(req, octx.Transferables); err != nil {
		c.removePending(id)
		d.Reject(err)
		return nil, d
	}

	return req, d
}

func (c *Channel) takePending(id uint64) (*pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pending[id]
	if !ok {
		return nil, false
	}
	delete(c.pending, id)
	pr.timer.Stop()
	return pr, true
}

func (c *Channel) removePending(id uint64) {
	c.takePending(id)
}

func (c *Channel) expire(id uint64) {
	pr, ok := c.takePending(id)
	if !ok {
		return
	}
	c.logDebug(fmt.Sprintf("Request %d timed out after %s", id, c.clock.Since(pr.age)))
	pr.deferred.Reject(ErrRequestTimeout)
}

// SendResponse answers the request with the given id. A non OK code carries
// an error payload. It is a no-op once the channel is disposed.
func (c *Channel) SendResponse(requestID uint64, code ResponseCode, result any, transferables ...any) error {
	if c.Disposed() {
		return nil
	}

	if code != CodeOK {
		// hints only accompany successful results
		transferables = nil
	}

	res := &ResponseMessage{
		ID:        c.ids.Next(),
		RequestID: requestID,
		Code:      code,
		Payload:   normalizePayload(result),
	}

	c.outgoingResponses.Next(res)

	return c.conf.Transport.PostMessage(res, transferables)
}

// SendEvent posts a fire-and-forget event. It is a no-op once the channel is
// disposed.
func (c *Channel) SendEvent(payload any, transferables ...any) error {
	if c.Disposed() {
		return nil
	}

	evt := &EventMessage{
		ID:      c.ids.Next(),
		Payload: normalizePayload(payload),
	}

	c.outgoingEvents.Next(evt)

	return c.conf.Transport.PostMessage(evt, transferables)
}

func (c *Channel) handleMessage(msg Message) {
	if c.Disposed() {
		c.logDebug(fmt.Sprintf("Dropping %s %d received after dispose", msg.Kind(), msg.MessageID()))
		return
	}

	switch m := msg.(type) {
	case *RequestMessage:
		c.incomingRequests.Next(m)
		c.queue.push(m)
	case *ResponseMessage:
		c.incomingResponses.Next(m)
		c.handleResponse(m)
	case *EventMessage:
		c.incomingEvents.Next(m)
		c.events.Next(m.Payload)
	default:
		c.handleError(fmt.Errorf("unsupported message type %T", msg))
	}
}

// dispatch starts incoming request pipelines in arrival order. Only inline
// requests finish before the next one starts.
func (c *Channel) dispatch() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.queue.signal:
			for _, req := range c.queue.drain() {
				if c.matchInline(req) {
					c.handleRequest(req)
					continue
				}
				go c.handleRequest(req)
			}
		}
	}
}

func (c *Channel) matchInline(req *RequestMessage) bool {
	for _, m := range c.inline {
		if m.MatchInline(req) {
			return true
		}
	}
	return false
}

func (c *Channel) runIncomingRequestPipeline(ctx *IncomingRequestContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("request handler panicked: %v", r)
		}
	}()
	return c.executeIncomingRequestPipeline(ctx)
}

func (c *Channel) handleRequest(req *RequestMessage) {
	ctx := &IncomingRequestContext{
		ctx:     c.ctx,
		Request: req,
	}

	err := c.runIncomingRequestPipeline(ctx)
	if err == nil {
		if result, ok := ctx.Result(); ok {
			if err := c.SendResponse(req.ID, CodeOK, result, ctx.Transferables...); err != nil {
				c.handleError(err)
			}
			return
		}
		err = ErrNoResponse
	}

	if errors.Is(err, ErrChannelDisposed) && c.Disposed() {
		return
	}

	c.logDebug(fmt.Sprintf("Request %d failed: %v", req.ID, err))

	chErr := ToChannelError(err)
	if err := c.SendResponse(req.ID, chErr.Code, chErr); err != nil {
		c.handleError(err)
	}
}

func (c *Channel) handleResponse(res *ResponseMessage) {
	pr, ok := c.takePending(res.RequestID)
	if !ok {
		c.logDebug(fmt.Sprintf("Ignoring response to unknown request %d", res.RequestID))
		return
	}

	ctx := &IncomingResponseContext{
		ctx:      c.ctx,
		Request:  pr.request,
		Response: res,
	}

	if err := c.executeIncomingResponsePipeline(ctx); err != nil {
		c.logWarn(fmt.Sprintf("Response to request %d failed handling: %v", res.RequestID, err))
		pr.deferred.Reject(NewResponseHandlingError(err))
		return
	}

	if ctx.Response.Code == CodeOK {
		pr.deferred.Resolve(ctx.Response.Payload)
		return
	}
	pr.deferred.Reject(ErrorFromPayload(ctx.Response.Payload, ctx.Response.Code))
}

func (c *Channel) disposeMiddleware() error {
	var err error
	for _, d := range c.disposers {
		err = multierr.Append(err, d.Dispose())
	}
	return err
}

// Dispose disposes every middleware that implements Disposer and closes the
// transport. It is idempotent.
func (c *Channel) Dispose() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	var pending map[uint64]*pendingRequest
	if c.conf.RejectPendingOnDispose {
		pending = c.pending
		c.pending = make(map[uint64]*pendingRequest)
		for _, pr := range pending {
			pr.timer.Stop()
		}
	}
	c.mu.Unlock()

	c.cancel()

	err := c.disposeMiddleware()
	err = multierr.Append(err, c.conf.Transport.Close())

	for _, pr := range pending {
		pr.deferred.Reject(ErrChannelDisposed)
	}

	for _, s := range []*async.Subject{
		c.errors,
		c.events,
		c.outgoingRequests,
		c.outgoingResponses,
		c.outgoingEvents,
		c.incomingRequests,
		c.incomingResponses,
		c.incomingEvents,
	} {
		s.Complete()
	}

	c.logInfo(fmt.Sprintf("Channel %s disposed", c.name))
	return err
}

// Errors emits transport and dispatch failures.
func (c *Channel) Errors() async.Observable {
	return c.errors
}

// Events emits the payload of every incoming event.
func (c *Channel) Events() async.Observable {
	return c.events
}

func (c *Channel) OutgoingRequests() async.Observable {
	return c.outgoingRequests
}

func (c *Channel) OutgoingResponses() async.Observable {
	return c.outgoingResponses
}

func (c *Channel) OutgoingEvents() async.Observable {
	return c.outgoingEvents
}

func (c *Channel) IncomingRequests() async.Observable {
	return c.incomingRequests
}

func (c *Channel) IncomingResponses() async.Observable {
	return c.incomingResponses
}

func (c *Channel) IncomingEvents() async.Observable {
	return c.incomingEvents
}
