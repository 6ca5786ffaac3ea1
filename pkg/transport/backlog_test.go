package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeRecorder struct {
	Conn
	closed chan struct{}
}

func (c *closeRecorder) Close() error {
	close(c.closed)
	return nil
}

func newRecorder() *closeRecorder {
	return &closeRecorder{closed: make(chan struct{})}
}

func TestBacklogOfferAccept(t *testing.T) {
	b := NewBacklog(1)

	first := newRecorder()
	require.True(t, b.Offer(first))
	assert.False(t, b.Offer(newRecorder()))

	c, err := b.Accept()
	require.NoError(t, err)
	assert.Same(t, first, c)
}

func TestBacklogClose(t *testing.T) {
	b := NewBacklog(0)

	queued := newRecorder()
	require.True(t, b.Offer(queued))

	assert.True(t, b.Close())
	assert.False(t, b.Close())

	select {
	case <-queued.closed:
	default:
		t.Fatal("queued connection was not closed")
	}

	_, err := b.Accept()
	assert.ErrorIs(t, err, ErrListenerClosed)
	assert.False(t, b.Offer(newRecorder()))
}

func TestBacklogCloseWakesAccept(t *testing.T) {
	b := NewBacklog(0)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Accept()
		errCh <- err
	}()

	b.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrListenerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("accept did not return")
	}
}

func TestBacklogServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := NewBacklog(0)
	done := make(chan struct{})
	go func() {
		b.Serve(l, func(c net.Conn) (Conn, error) {
			return NewFramedConn(c, 0), nil
		})
		close(done)
	}()

	raw, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	client := NewFramedConn(raw, 0)
	defer client.Close()

	server, err := b.Accept()
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, client.Send([]byte("hi")))
	data, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)

	b.Close()
	require.NoError(t, l.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
