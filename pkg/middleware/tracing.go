package middleware

import (
	"fmt"

	"github.com/kbirk/peerchan/pkg/async"
	"github.com/kbirk/peerchan/pkg/channel"
	"github.com/kbirk/peerchan/pkg/log"
)

// Tracing logs every request, result, response and event passing through a
// channel at debug level.
type Tracing struct {
	logger log.Logger
	subs   []async.Subscription
}

// NewTracing creates a tracing middleware. When ch is set, its incoming and
// outgoing events are traced as well.
func NewTracing(logger log.Logger, ch *channel.Channel) *Tracing {
	t := &Tracing{
		logger: log.OrNop(logger),
	}
	if ch != nil {
		t.subs = append(t.subs,
			ch.IncomingEvents().Subscribe(async.Observer{
				Next: func(v any) {
					t.logger.Debug(fmt.Sprintf("Incoming event R-->S %s", describe(v)))
				},
			}),
			ch.OutgoingEvents().Subscribe(async.Observer{
				Next: func(v any) {
					t.logger.Debug(fmt.Sprintf("Outgoing event S-->R %s", describe(v)))
				},
			}),
		)
	}
	return t
}

func (t *Tracing) HandleIncomingRequest(ctx *channel.IncomingRequestContext, next channel.Next) error {
	t.logger.Debug(fmt.Sprintf("Incoming request R-->S %s", describe(ctx.Request)))

	err := next()
	if err != nil {
		t.logger.Debug(fmt.Sprintf("Request %d failed S-->R: %v", ctx.Request.ID, err))
		return err
	}

	result, _ := ctx.Result()
	t.logger.Debug(fmt.Sprintf("Result S-->R %d %s", ctx.Request.ID, describe(result)))
	return nil
}

func (t *Tracing) HandleOutgoingRequest(ctx *channel.OutgoingRequestContext, next channel.Next) error {
	if err := next(); err != nil {
		return err
	}
	t.logger.Debug(fmt.Sprintf("Outgoing request S-->R %s", describe(ctx.Request)))
	return nil
}

func (t *Tracing) HandleIncomingResponse(ctx *channel.IncomingResponseContext, next channel.Next) error {
	t.logger.Debug(fmt.Sprintf("Incoming response R-->S %s", describe(ctx.Response)))
	return next()
}

func (t *Tracing) Dispose() error {
	for _, s := range t.subs {
		s.Unsubscribe()
	}
	t.subs = nil
	return nil
}

func describe(v any) string {
	switch m := v.(type) {
	case *channel.RequestMessage:
		return fmt.Sprintf("{id: %d, payload: %+v}", m.ID, m.Payload)
	case *channel.ResponseMessage:
		return fmt.Sprintf("{id: %d, requestId: %d, code: %d, payload: %+v}", m.ID, m.RequestID, m.Code, m.Payload)
	case *channel.EventMessage:
		return fmt.Sprintf("{id: %d, payload: %+v}", m.ID, m.Payload)
	}
	return fmt.Sprintf("%+v", v)
}
