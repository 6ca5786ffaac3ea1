package channel

// Next invokes the remainder of a pipeline.
type Next func() error

type OutgoingRequestMiddleware interface {
	HandleOutgoingRequest(ctx *OutgoingRequestContext, next Next) error
}

type IncomingRequestMiddleware interface {
	HandleIncomingRequest(ctx *IncomingRequestContext, next Next) error
}

type IncomingResponseMiddleware interface {
	HandleIncomingResponse(ctx *IncomingResponseContext, next Next) error
}

// InlineMatcher is implemented by incoming request middleware that handles
// some requests without blocking. A request any matcher accepts runs its
// pipeline on the dispatch goroutine, in arrival order with the other
// matched requests. Every other request runs on a goroutine of its own.
type InlineMatcher interface {
	MatchInline(req *RequestMessage) bool
}

// Disposer is implemented by middleware that holds resources. Dispose is
// called once when the channel is disposed.
type Disposer interface {
	Dispose() error
}

type OutgoingRequestFunc func(ctx *OutgoingRequestContext, next Next) error

func (fn OutgoingRequestFunc) HandleOutgoingRequest(ctx *OutgoingRequestContext, next Next) error {
	return fn(ctx, next)
}

type IncomingRequestFunc func(ctx *IncomingRequestContext, next Next) error

func (fn IncomingRequestFunc) HandleIncomingRequest(ctx *IncomingRequestContext, next Next) error {
	return fn(ctx, next)
}

type IncomingResponseFunc func(ctx *IncomingResponseContext, next Next) error

func (fn IncomingResponseFunc) HandleIncomingResponse(ctx *IncomingResponseContext, next Next) error {
	return fn(ctx, next)
}

type step[C any] func(ctx C, next Next) error

// buildChain folds the steps right to left so that step 0 runs first and
// each step decides when, and whether, to invoke the rest. guard runs before
// every step; a non-nil error aborts the chain. stop, when set, skips the
// remaining steps once it reports true.
func buildChain[C any](ctx C, steps []step[C], guard func() error, stop func() bool) Next {

	// start with the terminal no-op
	chain := Next(func() error {
		return guard()
	})

	// loop backwards through the steps
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		next := chain
		chain = func() error {
			if err := guard(); err != nil {
				return err
			}
			if stop != nil && stop() {
				return nil
			}
			return s(ctx, next)
		}
	}

	return chain
}

func outgoingSteps(middleware []OutgoingRequestMiddleware) []step[*OutgoingRequestContext] {
	steps := make([]step[*OutgoingRequestContext], len(middleware))
	for i, m := range middleware {
		steps[i] = m.HandleOutgoingRequest
	}
	return steps
}

func incomingSteps(middleware []IncomingRequestMiddleware) []step[*IncomingRequestContext] {
	steps := make([]step[*IncomingRequestContext], len(middleware))
	for i, m := range middleware {
		steps[i] = m.HandleIncomingRequest
	}
	return steps
}

func responseSteps(middleware []IncomingResponseMiddleware) []step[*IncomingResponseContext] {
	steps := make([]step[*IncomingResponseContext], len(middleware))
	for i, m := range middleware {
		steps[i] = m.HandleIncomingResponse
	}
	return steps
}
