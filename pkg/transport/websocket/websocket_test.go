package websocket

import (
	"context"
	"net"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/peerchan/pkg/channel"
	"github.com/kbirk/peerchan/pkg/transport"
)

func TestWebSocketRoundTrip(t *testing.T) {
	server := NewServerTransport(ServerTransportConfig{})
	defer server.Close()

	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	host, portStr, err := net.SplitHostPort(httpServer.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client := NewClientTransport(ClientTransportConfig{
		Host: host,
		Port: port,
	})
	assert.Equal(t, "ws://"+host+":"+portStr+DefaultPath, client.URL())

	clientConn, err := client.Connect()
	require.NoError(t, err)

	serverConn, err := server.Accept()
	require.NoError(t, err)

	remote, err := channel.New(channel.Config{
		Transport: transport.NewConnTransport(serverConn, transport.ConnTransportConfig{}),
	}, func(ch *channel.Channel, b *channel.Builder) {
		b.UseIncomingRequest(channel.IncomingRequestFunc(func(ctx *channel.IncomingRequestContext, next channel.Next) error {
			return channel.NewChannelError("bad", channel.CodeRequestError)
		}))
	})
	require.NoError(t, err)
	defer remote.Dispose()

	local, err := channel.New(channel.Config{
		Transport: transport.NewConnTransport(clientConn, transport.ConnTransportConfig{}),
	}, nil)
	require.NoError(t, err)
	defer local.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = local.SendRequest(ctx, "x")
	require.Error(t, err)
	assert.EqualError(t, err, "bad")

	var chErr *channel.ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, channel.CodeRequestError, chErr.Code)
}

func TestWebSocketSendLimit(t *testing.T) {
	server := NewServerTransport(ServerTransportConfig{})
	defer server.Close()

	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	host, portStr, err := net.SplitHostPort(httpServer.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	conn, err := NewClientTransport(ClientTransportConfig{
		Host:               host,
		Port:               port,
		MaxSendMessageSize: 2,
	}).Connect()
	require.NoError(t, err)
	defer conn.Close()

	assert.Error(t, conn.Send([]byte("abc")))
	assert.NoError(t, conn.Send([]byte("ab")))
}

func TestWebSocketListen(t *testing.T) {
	server := NewServerTransport(ServerTransportConfig{
		Host:               "127.0.0.1",
		MaxRecvMessageSize: 4,
	})
	assert.Nil(t, server.Addr())
	require.NoError(t, server.Listen())
	defer server.Close()
	assert.ErrorIs(t, server.Listen(), ErrAlreadyListening)
	assert.Equal(t, DefaultPath, server.Path())

	clientConn, err := NewClientTransport(ClientTransportConfig{
		Host:             "127.0.0.1",
		Port:             server.Addr().(*net.TCPAddr).Port,
		HandshakeTimeout: 5 * time.Second,
	}).Connect()
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn, err := server.Accept()
	require.NoError(t, err)
	defer serverConn.Close()

	require.NoError(t, clientConn.Send([]byte("abcd")))
	data, err := serverConn.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	// frames above the receive limit fail the read
	require.NoError(t, clientConn.Send([]byte("abcde")))
	_, err = serverConn.Receive()
	assert.Error(t, err)

	require.NoError(t, server.Close())
	_, err = server.Accept()
	assert.ErrorIs(t, err, transport.ErrListenerClosed)
}
