package rawsock_test

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/internal/dgram"
	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/netaddr"
	"github.com/Ludrak/unisock/rawsock"
)

// newOpenSocket opens a SOCK_RAW/IPPROTO_ICMP socket, skipping the test
// when the process lacks CAP_NET_RAW — raw sockets are privileged, so CI
// and sandboxed environments routinely can't exercise the live syscalls.
func newOpenSocket(t *testing.T) (*rawsock.DgramSocket, netpoll.Poller) {
	t.Helper()
	reactor, err := netpoll.New()
	require.NoError(t, err)

	sock := rawsock.NewDgramSocket(reactor)
	err = sock.Open(netaddr.IPv4, unix.IPPROTO_ICMP)
	if err != nil {
		if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
			t.Skip("raw sockets require CAP_NET_RAW; skipping in unprivileged environment")
		}
		require.NoError(t, err)
	}
	return sock, reactor
}

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

// icmpEchoRequest builds a minimal ICMP echo request (type 8, code 0) with
// a correct internet checksum, so sending it to 127.0.0.1 provokes a real
// echo reply the kernel loops back to any raw ICMP socket on that host.
func icmpEchoRequest(id, seq uint16) []byte {
	b := make([]byte, 8)
	b[0] = 8 // type: echo request
	b[1] = 0 // code
	binary.BigEndian.PutUint16(b[4:6], id)
	binary.BigEndian.PutUint16(b[6:8], seq)

	var sum uint32
	for i := 0; i < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	binary.BigEndian.PutUint16(b[2:4], ^uint16(sum))
	return b
}

func TestDgramSocketOpenAndBind(t *testing.T) {
	sock, _ := newOpenSocket(t)
	defer sock.Close()

	var bound netaddr.Address
	sock.On(rawsock.TagBind, rawsock.BindFunc(func(addr netaddr.Address) {
		bound = addr
	}), 0)

	require.NoError(t, sock.Bind("127.0.0.1", false))
	require.Equal(t, netaddr.IPv4, netaddr.FamilyOf(bound))
	require.Equal(t, netaddr.IPv4, netaddr.FamilyOf(sock.LocalAddr()))
}

// TestDgramSocketModeSelectsReadPath provokes a real ICMP echo reply for
// each Mode and asserts the tag OnReadable actually fired matches that
// Mode — a socket with Mode ignored or wired to the wrong case would fire
// the wrong tag (or none), not merely return an error.
func TestDgramSocketModeSelectsReadPath(t *testing.T) {
	loopback, err := netaddr.Resolve(context.Background(), "127.0.0.1", netaddr.IPv4)
	require.NoError(t, err)

	cases := []struct {
		name string
		mode dgram.Mode
	}{
		{"RecvFrom", dgram.ModeRecvFrom},
		{"Recv", dgram.ModeRecv},
		{"RecvMsg", dgram.ModeRecvMsg},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sock, reactor := newOpenSocket(t)
			defer sock.Close()

			sock.SetMode(tc.mode)
			require.NoError(t, sock.Bind("127.0.0.1", false))

			var gotRecv, gotRecvFrom, gotRecvMsg bool
			sock.On(rawsock.TagRecv, rawsock.RecvFunc(func(b []byte) { gotRecv = true }), 0)
			sock.On(rawsock.TagRecvFrom, rawsock.RecvFromFunc(func(from netaddr.Address, b []byte) { gotRecvFrom = true }), 0)
			sock.On(rawsock.TagRecvMsg, rawsock.RecvMsgFunc(func(msg dgram.Msg) { gotRecvMsg = true }), 0)

			result := sock.SendTo(loopback, icmpEchoRequest(uint16(1000+tc.mode), 1))
			require.True(t, result.IsSuccess() || result.IsUnavailable())

			switch tc.mode {
			case dgram.ModeRecv:
				pollUntil(t, reactor, 2*time.Second, func() bool { return gotRecv })
				require.False(t, gotRecvFrom)
				require.False(t, gotRecvMsg)
			case dgram.ModeRecvMsg:
				pollUntil(t, reactor, 2*time.Second, func() bool { return gotRecvMsg })
				require.False(t, gotRecv)
				require.False(t, gotRecvFrom)
			default:
				pollUntil(t, reactor, 2*time.Second, func() bool { return gotRecvFrom })
				require.False(t, gotRecv)
				require.False(t, gotRecvMsg)
			}
		})
	}
}

func TestDgramSocketCloseFiresOnce(t *testing.T) {
	sock, _ := newOpenSocket(t)
	require.NoError(t, sock.Bind("127.0.0.1", false))

	var closedCount int
	sock.On(rawsock.TagClosed, rawsock.ClosedFunc(func(addr netaddr.Address) {
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
