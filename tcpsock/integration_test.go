package tcpsock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ludrak/unisock/action"
	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/tcpsock"
)

func pollUntil(t *testing.T, reactor netpoll.Poller, timeout time.Duration, done func() bool) {
	t.Helper()
	pollAllUntil(t, []netpoll.Poller{reactor}, timeout, done)
}

// pollAllUntil interleaves Poll calls across every reactor involved in a
// scenario — necessary whenever progress on one side (e.g. a client's
// connect completing) is what lets the other side (e.g. a server's
// accept) make progress in turn.
func pollAllUntil(t *testing.T, reactors []netpoll.Poller, timeout time.Duration, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if done() {
			return
		}
		for _, r := range reactors {
			require.NoError(t, r.Poll(ctx, 20))
		}
	}
	t.Fatal("timed out waiting for condition")
}

func TestEchoServerRoundTrip(t *testing.T) {
	server, err := tcpsock.NewTcpServer()
	require.NoError(t, err)
	defer server.Close()

	server.On(tcpsock.TagReceive, tcpsock.ReceiveFunc(func(c *tcpsock.Connection, b []byte) {
		c.Send(b)
	}), action.Default)

	require.True(t, server.Listen("127.0.0.1", 18901, false))
	require.Equal(t, 1, server.Listeners().Len())

	client, err := tcpsock.NewTcpClient()
	require.NoError(t, err)
	defer client.Close()

	var received []byte
	client.On(tcpsock.TagConnect, tcpsock.ConnectFunc(func(c *tcpsock.Connection) {
		c.Send([]byte("ping"))
	}), action.Default)
	client.On(tcpsock.TagClientReceive, tcpsock.ClientReceiveFunc(func(c *tcpsock.Connection, b []byte) {
		received = append(received, b...)
	}), action.Default)

	require.True(t, client.Connect("127.0.0.1", 18901, false))

	pollAllUntil(t, []netpoll.Poller{server.Reactor(), client.Reactor()}, 2*time.Second, func() bool {
		return len(received) > 0
	})

	require.Equal(t, "ping", string(received))
}

func TestListenFailureLeavesCountUnchanged(t *testing.T) {
	server, err := tcpsock.NewTcpServer()
	require.NoError(t, err)
	defer server.Close()

	require.True(t, server.Listen("127.0.0.1", 18902, false))
	require.Equal(t, 1, server.Listeners().Len())

	var errs []string
	server.On(tcpsock.TagServerError, tcpsock.ServerErrorFunc(func(op string, err error) {
		errs = append(errs, op)
	}), action.Default)

	// Binding the same address a second time must fail without changing
	// the listener count — a failed Listen must not leak a half
	// constructed socket.
	ok := server.Listen("127.0.0.1", 18902, false)
	require.False(t, ok)
	require.Equal(t, 1, server.Listeners().Len())
	require.NotEmpty(t, errs)
}

func TestListenRangeBindsEveryPort(t *testing.T) {
	server, err := tcpsock.NewTcpServer()
	require.NoError(t, err)
	defer server.Close()

	results := server.ListenRange("127.0.0.1", 18910, 18913, false)
	require.Len(t, results, 4)
	for _, ok := range results {
		require.True(t, ok)
	}
	require.Equal(t, 4, server.Listeners().Len())
}

func TestDisconnectFiresOnClientClose(t *testing.T) {
	server, err := tcpsock.NewTcpServer()
	require.NoError(t, err)
	defer server.Close()

	disconnected := make(chan struct{}, 1)
	server.On(tcpsock.TagDisconnect, tcpsock.DisconnectFunc(func(c *tcpsock.Connection) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	}), action.Default)

	require.True(t, server.Listen("127.0.0.1", 18920, false))

	client, err := tcpsock.NewTcpClient()
	require.NoError(t, err)

	require.True(t, client.Connect("127.0.0.1", 18920, false))

	pollAllUntil(t, []netpoll.Poller{server.Reactor(), client.Reactor()}, 2*time.Second, func() bool {
		return server.Clients().Len() == 1
	})

	require.NoError(t, client.Close())

	pollUntil(t, server.Reactor(), 2*time.Second, func() bool {
		select {
		case <-disconnected:
			return true
		default:
			return false
		}
	})
}
