package websocket

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kbirk/peerchan/pkg/transport"
)

const (
	DefaultPath = "/peer"

	closeGracePeriod = time.Second
)

var ErrAlreadyListening = errors.New("websocket transport already listening")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Connection implements transport.Conn with one binary frame per message.
type Connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	maxSend uint32
}

func newConnection(ws *websocket.Conn, maxSend, maxRecv uint32) *Connection {
	if maxRecv > 0 {
		ws.SetReadLimit(int64(maxRecv))
	}
	return &Connection{
		ws:      ws,
		maxSend: maxSend,
	}
}

func (c *Connection) Send(data []byte) error {
	if c.maxSend > 0 && uint32(len(data)) > c.maxSend {
		return fmt.Errorf("message size %d exceeds send limit %d", len(data), c.maxSend)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Connection) Receive() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	switch {
	case err == nil:
		return data, nil
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway), errors.Is(err, net.ErrClosed):
		return nil, transport.ErrConnectionClosed
	}
	return nil, err
}

// Close sends a normal closure frame, then drops the socket.
func (c *Connection) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	cerr := c.ws.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return werr
	}
	return cerr
}

type ServerTransportConfig struct {
	Host               string // used by Listen, empty listens on every interface
	Port               int    // used by Listen, 0 picks a free port
	Path               string // defaults to DefaultPath
	CertFile           string // TLS is enabled when both files are set
	KeyFile            string
	MaxSendMessageSize uint32 // 0 for no limit
	MaxRecvMessageSize uint32 // 0 for no limit
	Backlog            int    // connections waiting for Accept, defaults to transport.DefaultBacklog
}

// ServerTransport accepts peer connections over WebSocket. Listen runs a
// dedicated HTTP server; alternatively mount it on an existing mux at Path.
type ServerTransport struct {
	conf    ServerTransportConfig
	backlog *transport.Backlog

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func NewServerTransport(conf ServerTransportConfig) *ServerTransport {
	if conf.Path == "" {
		conf.Path = DefaultPath
	}
	return &ServerTransport{
		conf:    conf,
		backlog: transport.NewBacklog(conf.Backlog),
	}
}

// Path is the route peers connect on.
func (t *ServerTransport) Path() string {
	return t.conf.Path
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.server != nil {
		return ErrAlreadyListening
	}
	l, err := net.Listen("tcp", net.JoinHostPort(t.conf.Host, strconv.Itoa(t.conf.Port)))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(t.conf.Path, t)
	srv := &http.Server{Handler: mux}
	t.server = srv
	t.listener = l

	go func() {
		if t.conf.CertFile != "" && t.conf.KeyFile != "" {
			srv.ServeTLS(l, t.conf.CertFile, t.conf.KeyFile)
			return
		}
		srv.Serve(l)
	}()
	return nil
}

// Addr returns the address bound by Listen, or nil.
func (t *ServerTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// ServeHTTP upgrades the request and queues the connection for Accept.
func (t *ServerTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConnection(ws, t.conf.MaxSendMessageSize, t.conf.MaxRecvMessageSize)
	if !t.backlog.Offer(c) {
		ws.Close()
	}
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
	if t.server == nil {
		return nil
	}
	return t.server.Close()
}

type ClientTransportConfig struct {
	Host               string
	Port               int
	Path               string // defaults to DefaultPath
	TLSConfig          *tls.Config
	HandshakeTimeout   time.Duration
	MaxSendMessageSize uint32 // 0 for no limit
	MaxRecvMessageSize uint32 // 0 for no limit
}

// ClientTransport dials a peer over WebSocket.
type ClientTransport struct {
	conf ClientTransportConfig
}

func NewClientTransport(conf ClientTransportConfig) *ClientTransport {
	if conf.Path == "" {
		conf.Path = DefaultPath
	}
	return &ClientTransport{conf: conf}
}

func (t *ClientTransport) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(t.conf.Host, strconv.Itoa(t.conf.Port)),
		Path:   t.conf.Path,
	}
	if t.conf.TLSConfig != nil {
		u.Scheme = "wss"
	}
	return u.String()
}

func (t *ClientTransport) Connect() (transport.Conn, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  t.conf.TLSConfig,
		HandshakeTimeout: t.conf.HandshakeTimeout,
	}
	ws, _, err := dialer.Dial(t.URL(), nil)
	if err != nil {
		return nil, err
	}
	return newConnection(ws, t.conf.MaxSendMessageSize, t.conf.MaxRecvMessageSize), nil
}
