package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/kbirk/peerchan/pkg/channel"
	"github.com/kbirk/peerchan/pkg/log"
)

var ErrConnectionClosed = errors.New("connection closed")

// Conn is a bidirectional connection carrying whole byte messages.
type Conn interface {
	// Send sends a message to the remote peer
	Send(data []byte) error

	// Receive blocks until a message is received from the remote peer
	Receive() ([]byte, error)

	// Close closes the connection
	Close() error
}

type ConnTransportConfig struct {
	// Codec defaults to WireCodec.
	Codec  Codec
	Logger log.Logger
}

// ConnTransport adapts a Conn to channel.Transport.
type ConnTransport struct {
	conn    Conn
	codec   Codec
	logger  log.Logger
	started atomic.Bool
	closed  atomic.Bool
}

func NewConnTransport(conn Conn, conf ConnTransportConfig) *ConnTransport {
	codec := conf.Codec
	if codec == nil {
		codec = NewWireCodec()
	}
	return &ConnTransport{
		conn:   conn,
		codec:  codec,
		logger: log.OrNop(conf.Logger),
	}
}

func (t *ConnTransport) Start(onMessage func(channel.Message), onError func(error)) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("transport is already started")
	}

	go t.readLoop(onMessage, onError)

	return nil
}

func (t *ConnTransport) readLoop(onMessage func(channel.Message), onError func(error)) {
	for {
		data, err := t.conn.Receive()
		if err != nil {
			// Don't treat normal connection closures as errors
			if t.closed.Load() || errors.Is(err, ErrConnectionClosed) {
				t.logger.Debug("Connection closed normally")
				return
			}
			onError(err)
			return
		}

		msg, err := t.codec.Decode(data)
		if err != nil {
			onError(fmt.Errorf("failed to decode message: %w", err))
			continue
		}

		onMessage(msg)
	}
}

func (t *ConnTransport) PostMessage(msg channel.Message, transferables []any) error {
	if t.closed.Load() {
		return ErrClosed
	}

	data, err := t.codec.Encode(msg)
	if err != nil {
		return err
	}
	return t.conn.Send(data)
}

func (t *ConnTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.conn.Close()
}

// FramedConn implements Conn over a stream connection by prefixing every
// message with its length as a 4 byte big endian integer.
type FramedConn struct {
	conn               net.Conn
	mu                 *sync.Mutex
	maxRecvMessageSize uint32
}

// NewFramedConn wraps conn. A zero maxRecvMessageSize means no limit.
func NewFramedConn(conn net.Conn, maxRecvMessageSize uint32) *FramedConn {
	return &FramedConn{
		conn:               conn,
		mu:                 &sync.Mutex{},
		maxRecvMessageSize: maxRecvMessageSize,
	}
}

func (c *FramedConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return err
	}
	return nil
}

func (c *FramedConn) Receive() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, normalizeReadError(err)
	}
	length := binary.BigEndian.Uint32(header)

	if c.maxRecvMessageSize > 0 && length > c.maxRecvMessageSize {
		return nil, fmt.Errorf("message size %d exceeds receive limit %d", length, c.maxRecvMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, normalizeReadError(err)
	}
	return data, nil
}

func (c *FramedConn) Close() error {
	return c.conn.Close()
}

func normalizeReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrConnectionClosed
	}
	return err
}
