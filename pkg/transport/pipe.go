package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kbirk/peerchan/pkg/channel"
)

var ErrClosed = errors.New("transport closed")

type PipeConfig struct {
	// Codec, when set, round trips every message through its byte encoding
	// so that peers never share values.
	Codec Codec
}

// Pipe is one end of an in-process message pipe. Messages posted on one end
// are delivered on the other end's delivery goroutine in post order. Messages
// posted before the receiving end is started are buffered.
type Pipe struct {
	conf      PipeConfig
	peer      *Pipe
	mu        *sync.Mutex
	inbox     []channel.Message
	signal    chan struct{}
	done      chan struct{}
	onMessage func(channel.Message)
	started   bool
	closed    bool
}

// NewPipe returns both ends of a pipe.
func NewPipe(conf PipeConfig) (*Pipe, *Pipe) {
	a := newPipeEnd(conf)
	b := newPipeEnd(conf)
	a.peer = b
	b.peer = a
	return a, b
}

func newPipeEnd(conf PipeConfig) *Pipe {
	return &Pipe{
		conf:   conf,
		mu:     &sync.Mutex{},
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start begins delivery. In-process delivery cannot fail, so onError is never
// called.
func (p *Pipe) Start(onMessage func(channel.Message), onError func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.started {
		return fmt.Errorf("pipe is already started")
	}
	p.started = true
	p.onMessage = onMessage

	go p.deliver()

	return nil
}

func (p *Pipe) deliver() {
	for {
		select {
		case <-p.done:
			return
		case <-p.signal:
			for _, msg := range p.drain() {
				select {
				case <-p.done:
					return
				default:
				}
				p.onMessage(msg)
			}
		}
	}
}

func (p *Pipe) drain() []channel.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.inbox
	p.inbox = nil
	return msgs
}

func (p *Pipe) enqueue(msg channel.Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.inbox = append(p.inbox, msg)
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// PostMessage delivers msg to the other end. Messages posted to a closed end
// are dropped. Transfer hints are accepted and ignored since in-process
// values are never copied.
func (p *Pipe) PostMessage(msg channel.Message, transferables []any) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return ErrClosed
	}

	if p.conf.Codec != nil {
		data, err := p.conf.Codec.Encode(msg)
		if err != nil {
			return err
		}
		msg, err = p.conf.Codec.Decode(data)
		if err != nil {
			return err
		}
	}

	p.peer.enqueue(msg)
	return nil
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.inbox = nil
	close(p.done)
	return nil
}
