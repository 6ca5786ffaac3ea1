package tcp

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kbirk/peerchan/pkg/transport"
)

var ErrAlreadyListening = errors.New("tcp transport already listening")

type ServerTransportConfig struct {
	Host               string // empty listens on every interface
	Port               int    // 0 picks a free port, see Addr
	NoDelay            bool
	MaxRecvMessageSize uint32 // 0 for no limit
	Backlog            int    // connections waiting for Accept, defaults to transport.DefaultBacklog
}

// ServerTransport accepts length framed peer connections over TCP.
type ServerTransport struct {
	conf    ServerTransportConfig
	backlog *transport.Backlog

	mu       sync.Mutex
	listener net.Listener
}

func NewServerTransport(conf ServerTransportConfig) *ServerTransport {
	return &ServerTransport{
		conf:    conf,
		backlog: transport.NewBacklog(conf.Backlog),
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		return ErrAlreadyListening
	}
	l, err := net.Listen("tcp", net.JoinHostPort(t.conf.Host, strconv.Itoa(t.conf.Port)))
	if err != nil {
		return err
	}
	t.listener = l
	go t.backlog.Serve(l, t.wrap)
	return nil
}

func (t *ServerTransport) wrap(c net.Conn) (transport.Conn, error) {
	return frame(c, t.conf.NoDelay, t.conf.MaxRecvMessageSize)
}

// Addr returns the bound address, or nil before Listen.
func (t *ServerTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Accept blocks until a peer connects or the transport is closed.
func (t *ServerTransport) Accept() (transport.Conn, error) {
	return t.backlog.Accept()
}

func (t *ServerTransport) Close() error {
	if !t.backlog.Close() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

type ClientTransportConfig struct {
	Host               string
	Port               int
	NoDelay            bool
	MaxRecvMessageSize uint32        // 0 for no limit
	DialTimeout        time.Duration // 0 waits for the OS
}

// ClientTransport dials a peer over TCP.
type ClientTransport struct {
	conf ClientTransportConfig
}

func NewClientTransport(conf ClientTransportConfig) *ClientTransport {
	return &ClientTransport{conf: conf}
}

func (t *ClientTransport) Connect() (transport.Conn, error) {
	d := net.Dialer{Timeout: t.conf.DialTimeout}
	c, err := d.Dial("tcp", net.JoinHostPort(t.conf.Host, strconv.Itoa(t.conf.Port)))
	if err != nil {
		return nil, err
	}
	return frame(c, t.conf.NoDelay, t.conf.MaxRecvMessageSize)
}

// frame applies the socket options and wraps c. c is closed on failure.
func frame(c net.Conn, noDelay bool, maxRecv uint32) (transport.Conn, error) {
	if tc, ok := c.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(noDelay); err != nil {
			c.Close()
			return nil, err
		}
	}
	return transport.NewFramedConn(c, maxRecv), nil
}
