package tcpsock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ludrak/unisock/action"
	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/tcpsock"
)

func TestTcpClientSendBroadcastsToEveryConnection(t *testing.T) {
	server, err := tcpsock.NewTcpServer()
	require.NoError(t, err)
	defer server.Close()

	var received [][]byte
	server.On(tcpsock.TagReceive, tcpsock.ReceiveFunc(func(c *tcpsock.Connection, b []byte) {
		received = append(received, append([]byte{}, b...))
	}), action.Default)

	require.True(t, server.Listen("127.0.0.1", 18930, false))

	client, err := tcpsock.NewTcpClient()
	require.NoError(t, err)
	defer client.Close()

	require.True(t, client.Connect("127.0.0.1", 18930, false))
	require.True(t, client.Connect("127.0.0.1", 18930, false))
	require.Equal(t, 2, client.Connections().Len())

	pollAllUntil(t, []netpoll.Poller{server.Reactor(), client.Reactor()}, 2*time.Second, func() bool {
		return server.Clients().Len() == 2
	})

	client.Send([]byte("broadcast"))

	pollAllUntil(t, []netpoll.Poller{server.Reactor(), client.Reactor()}, 2*time.Second, func() bool {
		return len(received) == 2
	})

	for _, b := range received {
		require.Equal(t, "broadcast", string(b))
	}
}

func TestTcpClientConnectFailureFiresError(t *testing.T) {
	client, err := tcpsock.NewTcpClient()
	require.NoError(t, err)
	defer client.Close()

	var errs []string
	client.On(tcpsock.TagClientError, tcpsock.ClientErrorFunc(func(op string, err error) {
		errs = append(errs, op)
	}), action.Default)

	// Nothing is listening on this port, so the non-blocking connect must
	// eventually surface ECONNREFUSED through TagClientError rather than
	// silently leaving a dangling Connection registered.
	ok := client.Connect("127.0.0.1", 1, false)
	if !ok {
		require.NotEmpty(t, errs)
		return
	}

	pollUntil(t, client.Reactor(), 2*time.Second, func() bool {
		return len(errs) > 0
	})
}

func TestTcpClientCloseDrainsConnections(t *testing.T) {
	server, err := tcpsock.NewTcpServer()
	require.NoError(t, err)
	defer server.Close()

	require.True(t, server.Listen("127.0.0.1", 18931, false))

	client, err := tcpsock.NewTcpClient()
	require.NoError(t, err)

	require.True(t, client.Connect("127.0.0.1", 18931, false))
	require.Equal(t, 1, client.Connections().Len())

	require.NoError(t, client.Close())
	require.Equal(t, 0, client.Connections().Len())
}
