package unix

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/kbirk/peerchan/pkg/transport"
)

var ErrAlreadyListening = errors.New("unix transport already listening")

type ServerTransportConfig struct {
	SocketPath         string
	MaxRecvMessageSize uint32 // 0 for no limit
	Backlog            int    // connections waiting for Accept, defaults to transport.DefaultBacklog
}

// ServerTransport accepts length framed peer connections on a Unix socket.
// The socket file is replaced on Listen and removed on Close.
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
	if err := os.RemoveAll(t.conf.SocketPath); err != nil {
		return fmt.Errorf("removing stale socket %s: %w", t.conf.SocketPath, err)
	}
	l, err := net.Listen("unix", t.conf.SocketPath)
	if err != nil {
		return err
	}
	t.listener = l
	go t.backlog.Serve(l, func(c net.Conn) (transport.Conn, error) {
		return transport.NewFramedConn(c, t.conf.MaxRecvMessageSize), nil
	})
	return nil
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
	err := t.listener.Close()
	os.RemoveAll(t.conf.SocketPath)
	return err
}

type ClientTransportConfig struct {
	SocketPath         string
	MaxRecvMessageSize uint32 // 0 for no limit
}

// ClientTransport dials a peer on a Unix socket.
type ClientTransport struct {
	conf ClientTransportConfig
}

func NewClientTransport(conf ClientTransportConfig) *ClientTransport {
	return &ClientTransport{conf: conf}
}

func (t *ClientTransport) Connect() (transport.Conn, error) {
	c, err := net.Dial("unix", t.conf.SocketPath)
	if err != nil {
		return nil, err
	}
	return transport.NewFramedConn(c, t.conf.MaxRecvMessageSize), nil
}
