package nats

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/kbirk/peerchan/pkg/transport"
)

const DefaultSubjectPrefix = "peerchan"

// Subject returns the subject a peer listens on.
func Subject(prefix string, peerID string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return strings.Join([]string{prefix, peerID}, ".")
}

// NewPeerID returns a random peer id usable as a subject token.
func NewPeerID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type ConnectionConfig struct {
	URL                string
	SubjectPrefix      string // Defaults to DefaultSubjectPrefix
	LocalID            string // Subject token this peer receives on
	RemoteID           string // Subject token the remote peer receives on
	MaxSendMessageSize uint32 // 0 for no limit
	MaxRecvMessageSize uint32 // 0 for no limit
	BufferSize         int    // Receive buffer in messages, defaults to defaultBufferSize
}

// Connection implements transport.Conn over a pair of NATS subjects, one per
// direction. Core NATS preserves publish order per publisher, which is all
// the channel requires.
type Connection struct {
	conf     ConnectionConfig
	nc       *nats.Conn
	ownsConn bool
	sub      *nats.Subscription
	inbox    chan []byte
	done     chan struct{}
	once     sync.Once
}

const defaultBufferSize = 256

var errMissingPeerID = errors.New("nats connection needs both a local and a remote peer id")

// Dial connects to the NATS server at conf.URL. The server connection is
// closed together with the returned Connection.
func Dial(conf ConnectionConfig) (*Connection, error) {
	nc, err := nats.Connect(conf.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", conf.URL, err)
	}
	c, err := NewConnection(nc, conf)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.ownsConn = true
	return c, nil
}

// NewConnection uses an existing NATS connection, which is left open on
// Close.
func NewConnection(nc *nats.Conn, conf ConnectionConfig) (*Connection, error) {
	if conf.LocalID == "" || conf.RemoteID == "" {
		return nil, errMissingPeerID
	}
	if conf.BufferSize <= 0 {
		conf.BufferSize = defaultBufferSize
	}

	c := &Connection{
		conf:  conf,
		nc:    nc,
		inbox: make(chan []byte, conf.BufferSize),
		done:  make(chan struct{}),
	}

	subject := Subject(conf.SubjectPrefix, conf.LocalID)
	sub, err := nc.Subscribe(subject, c.deliver)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	c.sub = sub
	return c, nil
}

func (c *Connection) deliver(msg *nats.Msg) {
	select {
	case c.inbox <- msg.Data:
	case <-c.done:
	}
}

func (c *Connection) Send(data []byte) error {
	if limit := c.conf.MaxSendMessageSize; limit > 0 && uint32(len(data)) > limit {
		return fmt.Errorf("message size %d exceeds send limit %d", len(data), limit)
	}
	select {
	case <-c.done:
		return transport.ErrConnectionClosed
	default:
	}
	return c.nc.Publish(Subject(c.conf.SubjectPrefix, c.conf.RemoteID), data)
}

func (c *Connection) Receive() ([]byte, error) {
	select {
	case data := <-c.inbox:
		if limit := c.conf.MaxRecvMessageSize; limit > 0 && uint32(len(data)) > limit {
			return nil, fmt.Errorf("message size %d exceeds receive limit %d", len(data), limit)
		}
		return data, nil
	case <-c.done:
		return nil, transport.ErrConnectionClosed
	}
}

func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.sub.Unsubscribe()
		if c.ownsConn {
			c.nc.Close()
		}
	})
	return err
}
