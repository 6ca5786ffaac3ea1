package channel

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/kbirk/peerchan/internal/util"
)

// Builder collects middleware while a channel is constructed. The resulting
// chains are fixed for the lifetime of the channel.
type Builder struct {
	outgoing  []OutgoingRequestMiddleware
	incoming  []IncomingRequestMiddleware
	responses []IncomingResponseMiddleware
	inline    []InlineMatcher
	disposers []Disposer
	err       error
}

// BuildFunc registers middleware on b. The channel is passed so that
// middleware such as the resource manager can send through it.
type BuildFunc func(ch *Channel, b *Builder)

// Use registers m in every pipeline whose interface it implements.
func (b *Builder) Use(m any) *Builder {
	matched := false
	if o, ok := m.(OutgoingRequestMiddleware); ok {
		b.outgoing = append(b.outgoing, o)
		matched = true
	}
	if i, ok := m.(IncomingRequestMiddleware); ok {
		b.incoming = append(b.incoming, i)
		b.addInline(i)
		matched = true
	}
	if r, ok := m.(IncomingResponseMiddleware); ok {
		b.responses = append(b.responses, r)
		matched = true
	}
	if !matched {
		b.err = multierr.Append(b.err, fmt.Errorf("%T does not implement any middleware interface", m))
		return b
	}
	b.addDisposer(m)
	return b
}

func (b *Builder) UseOutgoingRequest(m OutgoingRequestMiddleware) *Builder {
	if m == nil {
		b.err = multierr.Append(b.err, fmt.Errorf("outgoing request middleware must be set"))
		return b
	}
	b.outgoing = append(b.outgoing, m)
	b.addDisposer(m)
	return b
}

func (b *Builder) UseIncomingRequest(m IncomingRequestMiddleware) *Builder {
	if m == nil {
		b.err = multierr.Append(b.err, fmt.Errorf("incoming request middleware must be set"))
		return b
	}
	b.incoming = append(b.incoming, m)
	b.addInline(m)
	b.addDisposer(m)
	return b
}

func (b *Builder) UseIncomingResponse(m IncomingResponseMiddleware) *Builder {
	if m == nil {
		b.err = multierr.Append(b.err, fmt.Errorf("incoming response middleware must be set"))
		return b
	}
	b.responses = append(b.responses, m)
	b.addDisposer(m)
	return b
}

func (b *Builder) addInline(m any) {
	if im, ok := m.(InlineMatcher); ok {
		b.inline = append(b.inline, im)
	}
}

func (b *Builder) addDisposer(m any) {
	d, ok := m.(Disposer)
	if !ok {
		return
	}
	for _, existing := range b.disposers {
		if util.SameValue(existing, d) {
			return
		}
	}
	b.disposers = append(b.disposers, d)
}
