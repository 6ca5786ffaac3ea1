package transport

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/kbirk/peerchan/pkg/async"
	"github.com/kbirk/peerchan/pkg/channel"
	"github.com/kbirk/peerchan/pkg/log"
)

type LinkSide int

const (
	SideA LinkSide = iota
	SideB
)

func (s LinkSide) String() string {
	if s == SideA {
		return "a"
	}
	return "b"
}

// LinkMessage is published for every message forwarded by a Link.
type LinkMessage struct {
	From    LinkSide
	Message channel.Message
}

// Link bridges two transports: whatever arrives on one is posted to the
// other, with transfer hints rediscovered from the payload.
type Link struct {
	a        channel.Transport
	b        channel.Transport
	logger   log.Logger
	messages *async.Subject
	errors   *async.Subject
}

// NewLink starts both transports and begins forwarding.
func NewLink(a, b channel.Transport, logger log.Logger) (*Link, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("both transports must be set")
	}

	l := &Link{
		a:        a,
		b:        b,
		logger:   log.OrNop(logger),
		messages: async.NewSubject(),
		errors:   async.NewSubject(),
	}

	// both sides are started before a failure is reported
	err := multierr.Append(
		a.Start(l.forward(SideA, b), l.handleError),
		b.Start(l.forward(SideB, a), l.handleError),
	)
	if err != nil {
		return nil, multierr.Append(err, l.Close())
	}

	return l, nil
}

func (l *Link) forward(from LinkSide, to channel.Transport) func(channel.Message) {
	return func(msg channel.Message) {
		l.messages.Next(LinkMessage{
			From:    from,
			Message: msg,
		})

		if err := to.PostMessage(msg, channel.DiscoverTransferables(msg)); err != nil {
			l.handleError(fmt.Errorf("failed to forward %s %d from %s: %w", msg.Kind(), msg.MessageID(), from, err))
		}
	}
}

func (l *Link) handleError(err error) {
	l.logger.Warn(err.Error())
	l.errors.Next(err)
}

// Messages emits every forwarded message.
func (l *Link) Messages() async.Observable {
	return l.messages
}

// Errors emits transport and forwarding failures.
func (l *Link) Errors() async.Observable {
	return l.errors
}

func (l *Link) Close() error {
	err := multierr.Append(l.a.Close(), l.b.Close())
	l.messages.Complete()
	l.errors.Complete()
	return err
}
