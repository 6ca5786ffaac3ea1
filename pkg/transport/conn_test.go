package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/peerchan/pkg/channel"
)

func TestFramedConn(t *testing.T) {
	c1, c2 := net.Pipe()

	a := NewFramedConn(c1, 0)
	b := NewFramedConn(c2, 0)

	go func() {
		a.Send([]byte("hello"))
		a.Send([]byte("world"))
	}()

	data, err := b.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	data, err = b.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), data)

	require.NoError(t, a.Close())

	_, err = b.Receive()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestFramedConnReceiveLimit(t *testing.T) {
	c1, c2 := net.Pipe()

	a := NewFramedConn(c1, 0)
	b := NewFramedConn(c2, 4)

	go a.Send([]byte("too long"))

	_, err := b.Receive()
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrConnectionClosed))

	a.Close()
	b.Close()
}

func TestConnTransport(t *testing.T) {
	c1, c2 := net.Pipe()

	ta := NewConnTransport(NewFramedConn(c1, 0), ConnTransportConfig{})
	tb := NewConnTransport(NewFramedConn(c2, 0), ConnTransportConfig{})

	received := &inbox{}
	var errs []error
	require.NoError(t, tb.Start(received.add, func(err error) {
		errs = append(errs, err)
	}))
	require.NoError(t, ta.Start(func(channel.Message) {}, func(error) {}))
	assert.Error(t, ta.Start(func(channel.Message) {}, func(error) {}))

	go func() {
		ta.PostMessage(&channel.RequestMessage{ID: 1, Payload: "a"}, nil)
		ta.PostMessage(&channel.EventMessage{ID: 2, Payload: "b"}, nil)
	}()

	require.Eventually(t, func() bool {
		return received.len() == 2
	}, time.Second, time.Millisecond)

	msgs := received.all()
	assert.Equal(t, channel.KindRequest, msgs[0].Kind())
	assert.Equal(t, "b", msgs[1].(*channel.EventMessage).Payload)

	require.NoError(t, ta.Close())
	require.NoError(t, ta.Close())
	assert.ErrorIs(t, ta.PostMessage(&channel.EventMessage{}, nil), ErrClosed)

	require.NoError(t, tb.Close())
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, errs)
}
