package udpsock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ludrak/unisock/internal/dgram"
	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/netaddr"
	"github.com/Ludrak/unisock/udpsock"
)

func pollUntil(t *testing.T, reactor netpoll.Poller, timeout time.Duration, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if done() {
			return
		}
		require.NoError(t, reactor.Poll(ctx, 20))
	}
	t.Fatal("timed out waiting for condition")
}

func newBoundSocket(t *testing.T, port uint16) (*udpsock.DgramSocket, netpoll.Poller) {
	t.Helper()
	reactor, err := netpoll.New()
	require.NoError(t, err)

	sock := udpsock.NewDgramSocket(reactor)
	require.NoError(t, sock.Open(netaddr.IPv4))
	require.NoError(t, sock.Bind("127.0.0.1", port, false))
	return sock, reactor
}

func TestDgramSocketSendRecvRoundTrip(t *testing.T) {
	server, serverReactor := newBoundSocket(t, 19001)
	defer server.Close()

	client, clientReactor := newBoundSocket(t, 19002)
	defer client.Close()

	var receivedFrom netaddr.Address
	var received []byte
	server.On(udpsock.TagRecvFrom, udpsock.RecvFromFunc(func(from netaddr.Address, b []byte) {
		receivedFrom = from
		received = append([]byte{}, b...)
	}), 0)

	result := client.SendTo(server.LocalAddr(), []byte("hello"))
	require.True(t, result.IsSuccess() || result.IsUnavailable())

	pollUntil(t, serverReactor, 2*time.Second, func() bool { return len(received) > 0 })

	require.Equal(t, "hello", string(received))
	require.Equal(t, netaddr.Port(client.LocalAddr()), netaddr.Port(receivedFrom))

	_ = clientReactor
}

func TestDgramSocketSendToFreestanding(t *testing.T) {
	server, serverReactor := newBoundSocket(t, 19003)
	defer server.Close()

	received := make(chan string, 1)
	server.On(udpsock.TagRecvFrom, udpsock.RecvFromFunc(func(from netaddr.Address, b []byte) {
		received <- string(b)
	}), 0)

	result := udpsock.SendToFreestanding(context.Background(), server.LocalAddr(), []byte("one-shot"))
	require.True(t, result.IsSuccess() || result.IsUnavailable())

	pollUntil(t, serverReactor, 2*time.Second, func() bool {
		select {
		case s := <-received:
			require.Equal(t, "one-shot", s)
			return true
		default:
			return false
		}
	})
}

// TestDgramSocketModeSelectsReadPath asserts OnReadable dispatches to the
// syscall Mode actually selects, for each of the three Mode values — a
// Mode that were silently ignored would fire the wrong tag (or none)
// rather than merely avoid erroring.
func TestDgramSocketModeSelectsReadPath(t *testing.T) {
	cases := []struct {
		name string
		mode dgram.Mode
		port uint16
	}{
		{"RecvFrom", dgram.ModeRecvFrom, 19010},
		{"Recv", dgram.ModeRecv, 19011},
		{"RecvMsg", dgram.ModeRecvMsg, 19012},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, serverReactor := newBoundSocket(t, tc.port)
			defer server.Close()
			server.SetMode(tc.mode)

			client, clientReactor := newBoundSocket(t, tc.port+100)
			defer client.Close()

			var gotRecv, gotRecvFrom, gotRecvMsg bool
			server.On(udpsock.TagRecv, udpsock.RecvFunc(func(b []byte) { gotRecv = true }), 0)
			server.On(udpsock.TagRecvFrom, udpsock.RecvFromFunc(func(from netaddr.Address, b []byte) { gotRecvFrom = true }), 0)
			server.On(udpsock.TagRecvMsg, udpsock.RecvMsgFunc(func(msg dgram.Msg) { gotRecvMsg = true }), 0)

			result := client.SendTo(server.LocalAddr(), []byte("ping"))
			require.True(t, result.IsSuccess() || result.IsUnavailable())
			_ = clientReactor

			switch tc.mode {
			case dgram.ModeRecv:
				pollUntil(t, serverReactor, 2*time.Second, func() bool { return gotRecv })
				require.False(t, gotRecvFrom)
				require.False(t, gotRecvMsg)
			case dgram.ModeRecvMsg:
				pollUntil(t, serverReactor, 2*time.Second, func() bool { return gotRecvMsg })
				require.False(t, gotRecv)
				require.False(t, gotRecvFrom)
			default:
				pollUntil(t, serverReactor, 2*time.Second, func() bool { return gotRecvFrom })
				require.False(t, gotRecv)
				require.False(t, gotRecvMsg)
			}
		})
	}
}

func TestDgramSocketCloseFiresOnce(t *testing.T) {
	sock, _ := newBoundSocket(t, 19004)

	var closedCount int
	sock.On(udpsock.TagClosed, udpsock.ClosedFunc(func(addr netaddr.Address) {
		closedCount++
	}), 0)

	did, err := sock.Close()
	require.True(t, did)
	require.NoError(t, err)
	require.Equal(t, 1, closedCount)

	did, err = sock.Close()
	require.False(t, did)
	require.NoError(t, err)
	require.Equal(t, 1, closedCount)
}
