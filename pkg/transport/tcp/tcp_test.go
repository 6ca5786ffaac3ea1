package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/peerchan/pkg/channel"
	"github.com/kbirk/peerchan/pkg/transport"
)

func echo(ch *channel.Channel, b *channel.Builder) {
	b.UseIncomingRequest(channel.IncomingRequestFunc(func(ctx *channel.IncomingRequestContext, next channel.Next) error {
		return ctx.SetResult(ctx.Request.Payload)
	}))
}

func TestTCPRoundTrip(t *testing.T) {
	server := NewServerTransport(ServerTransportConfig{
		Port:    0,
		NoDelay: true,
	})
	require.NoError(t, server.Listen())
	defer server.Close()
	assert.ErrorIs(t, server.Listen(), ErrAlreadyListening)

	port := server.Addr().(*net.TCPAddr).Port

	client := NewClientTransport(ClientTransportConfig{
		Host:    "localhost",
		Port:    port,
		NoDelay: true,
	})
	clientConn, err := client.Connect()
	require.NoError(t, err)

	serverConn, err := server.Accept()
	require.NoError(t, err)

	remote, err := channel.New(channel.Config{
		Transport: transport.NewConnTransport(serverConn, transport.ConnTransportConfig{}),
	}, echo)
	require.NoError(t, err)
	defer remote.Dispose()

	local, err := channel.New(channel.Config{
		Transport: transport.NewConnTransport(clientConn, transport.ConnTransportConfig{}),
	}, nil)
	require.NoError(t, err)
	defer local.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := local.SendRequest(ctx, map[string]any{"value": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": "x"}, res)
}

func TestTCPAcceptAfterClose(t *testing.T) {
	server := NewServerTransport(ServerTransportConfig{})
	require.NoError(t, server.Listen())
	require.NoError(t, server.Close())
	require.NoError(t, server.Close())

	_, err := server.Accept()
	assert.ErrorIs(t, err, transport.ErrListenerClosed)
}
