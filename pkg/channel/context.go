package channel

import (
	"context"
	"sync"
	"time"
)

// OutgoingRequestContext is shared by the outgoing request pipeline. The
// request, the transfer hints and the timeout may all be changed.
type OutgoingRequestContext struct {
	ctx           context.Context
	Request       *RequestMessage
	Transferables []any
	// Timeout overrides the channel's global timeout when positive. A timeout
	// passed to SendRequest takes precedence.
	Timeout time.Duration
}

func (c *OutgoingRequestContext) Context() context.Context {
	return c.ctx
}

// IncomingRequestContext is shared by the incoming request pipeline. The
// result may be set exactly once; once set, the pipeline stops advancing.
type IncomingRequestContext struct {
	ctx           context.Context
	Request       *RequestMessage
	Transferables []any

	mu        sync.Mutex
	result    any
	completed bool
}

func (c *IncomingRequestContext) Context() context.Context {
	return c.ctx
}

func (c *IncomingRequestContext) SetResult(result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return ErrResultSet
	}
	c.result = result
	c.completed = true
	return nil
}

func (c *IncomingRequestContext) Result() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.completed
}

func (c *IncomingRequestContext) IsCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// IncomingResponseContext is shared by the incoming response pipeline. The
// response payload and code may be rewritten before the caller is settled.
type IncomingResponseContext struct {
	ctx      context.Context
	Request  *RequestMessage
	Response *ResponseMessage
}

func (c *IncomingResponseContext) Context() context.Context {
	return c.ctx
}
