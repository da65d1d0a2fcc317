package unisock

import (
	"context"
	"time"

	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/netaddr"
	"github.com/Ludrak/unisock/udpsock"
)

// Reactor is satisfied by tcpsock.TcpServer, tcpsock.TcpClient, and
// anything else exposing the reactor it shares — Poll is polymorphic over
// "anything holding a poller" rather than tied to one endpoint type.
// udpsock.DgramSocket does not expose its reactor; poll the Poller it was
// constructed with directly.
type Reactor interface {
	Reactor() netpoll.Poller
}

// Poll drives one readiness round on entity's reactor, waiting up to
// timeout for an event. It is the free-function counterpart to calling
// entity.Reactor().Poll(ctx, ms) directly, rounding timeout down to
// whole milliseconds the way the underlying epoll_wait/kevent/poll calls
// expect.
func Poll(ctx context.Context, entity Reactor, timeout time.Duration) error {
	return entity.Reactor().Poll(ctx, int(timeout.Milliseconds()))
}

// SendTo fires a single UDP datagram to addr without requiring a bound
// DgramSocket — send one packet and forget it.
func SendTo(ctx context.Context, addr netaddr.Address, b []byte) bool {
	return udpsock.SendToFreestanding(ctx, addr, b).IsSuccess()
}
