// Package tcpsock implements the TCP connection state machine plus the
// TcpServer and TcpClient endpoints that own collections of connections.
//
// Grounded on includes/tcp/connection.hpp's connection_base (send/
// send_flush/recv/listen/connect) for the buffering and recv-loop
// contract, and on li-ma-gnet/eventloop.go's loopRead/loopWrite/
// loopCloseConn for the non-blocking unix.Read/unix.Write Go idiom.
package tcpsock

import (
	"context"
	"net/netip"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/action"
	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/netaddr"
	"github.com/Ludrak/unisock/socket"
	"github.com/Ludrak/unisock/sockerr"
)

// RecvBufferSize is the default size of the fixed stack buffer used for
// one recv(2) call. Overridable per Connection via SetRecvBufferSize.
const RecvBufferSize = 4096

// ListenBacklog is the default OS-listen backlog.
const ListenBacklog = 10

// ConnTag identifies one Connection event kind. Connection's action table
// only binds RECV and ERROR directly; CLOSED is exposed through the same
// table for symmetry with TcpServer/TcpClient's own action tags.
type ConnTag int

const (
	TagRecv ConnTag = iota
	TagError
	TagClosed
)

type (
	RecvFunc   func(c *Connection, b []byte)
	ErrorFunc  func(c *Connection, op string, err error)
	ClosedFunc func(c *Connection)
)

// connState is the Connection lifecycle state
// machine diagram.
type connState int

const (
	stateUnopened connState = iota
	stateOpen
	stateListening
	stateConnecting
	stateConnected
	stateClosed
)

// Connection is a stream socket with a send buffer and a recv loop. It
// implements netpoll.Socket directly (OnReadable/OnWritable), satisfying
// the reactor's callback-target interface without any reinterpret cast.
type Connection struct {
	socket.Base

	peer  netaddr.Address
	state connState

	recvBufSize int
	sendQueue   [][]byte // FIFO of byte chunks awaiting writable readiness
	pooled      []*bytebufferpool.ByteBuffer

	actions action.Table[ConnTag, any]

	userData interface{}
}

// NewConnection constructs an unopened Connection bound to reactor.
func NewConnection(reactor netpoll.Poller) *Connection {
	base := socket.NewBase(reactor)
	return &Connection{Base: base, recvBufSize: RecvBufferSize, state: stateUnopened}
}

// newAcceptedConnection wraps an already-accepted, already-nonblocking fd.
func newAcceptedConnection(reactor netpoll.Poller, fd int, peer netaddr.Address) *Connection {
	c := &Connection{
		Base:        socket.NewBaseFromFD(reactor, fd),
		recvBufSize: RecvBufferSize,
		state:       stateConnected,
		peer:        peer,
	}
	return c
}

// On registers fn for tag with the given flags.
func (c *Connection) On(tag ConnTag, fn interface{}, flags action.Flag) {
	c.actions.On(tag, fn, flags)
}

// SetRecvBufferSize overrides the default 4096-byte recv buffer.
func (c *Connection) SetRecvBufferSize(n int) { c.recvBufSize = n }

// UserData returns the user-defined context attached to this connection.
func (c *Connection) UserData() interface{} { return c.userData }

// SetUserData attaches a user-defined context to this connection.
func (c *Connection) SetUserData(v interface{}) { c.userData = v }

// PeerAddr returns the remote address of this connection (set on accept
// or after a successful Connect).
func (c *Connection) PeerAddr() netaddr.Address { return c.peer }

// Open creates the underlying stream socket fd for the given family.
func (c *Connection) Open(family int) error {
	if err := c.Base.Open(family, unix.SOCK_STREAM, 0); err != nil {
		return err
	}
	c.state = stateOpen
	return nil
}

// Listen wraps listen(2) with the default backlog of 10.
func (c *Connection) Listen() error {
	if err := unix.Listen(c.FD(), ListenBacklog); err != nil {
		return sockerr.Op("listen", err)
	}
	c.state = stateListening
	return nil
}

// Connect wraps connect(2) using the pre-set peer Address (via
// SetPeerAddr). EINPROGRESS is treated as success: the connection is
// non-blocking and completes asynchronously.
func (c *Connection) Connect() error {
	sa, err := sockaddrOf(c.peer)
	if err != nil {
		return err
	}
	if err := unix.Connect(c.FD(), sa); err != nil && err != unix.EINPROGRESS {
		return sockerr.Op("connect", err)
	}
	c.state = stateConnecting
	return nil
}

// SetPeerAddr records addr as the address Connect will dial.
func (c *Connection) SetPeerAddr(addr netaddr.Address) { c.peer = addr }

// Recv attempts one non-blocking read into a fixed recvBufSize buffer.
// n>0 fires RECV; n==0 closes the connection (firing CLOSED); n<0/err
// fires ERROR("recv", err).
func (c *Connection) Recv() (int, error) {
	buf := make([]byte, c.recvBufSize)
	n, err := unix.Read(c.FD(), buf)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		c.fireError("recv", sockerr.Op("recv", err))
		return -1, err
	}
	if n == 0 {
		c.Close()
		return 0, nil
	}
	c.state = stateConnected
	c.actions.Execute(TagRecv, func(fn interface{}) { fn.(RecvFunc)(c, buf[:n]) })
	return n, nil
}

// Send attempts one non-blocking write. A zero-length b is a no-op that
// never queues. Full write returns true. A partial write enqueues the
// unsent tail and requests write-readiness. An OS error fires ERROR and
// returns false.
func (c *Connection) Send(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	n, err := unix.Write(c.FD(), b)
	if err != nil {
		if err == unix.EAGAIN {
			n = 0
		} else {
			c.fireError("send", sockerr.Op("send", err))
			return false
		}
	}
	if n < len(b) {
		c.enqueue(b[n:])
		_ = c.SetWantWrite(true)
	}
	return true
}

// SendFlush is invoked on write-readiness: it writes the head-of-queue
// chunk, retaining any unsent tail, and clears write-interest once the
// queue is empty.
func (c *Connection) SendFlush() error {
	if len(c.sendQueue) == 0 {
		return nil
	}
	head := c.sendQueue[0]
	n, err := unix.Write(c.FD(), head)
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		c.fireError("send", sockerr.Op("send", err))
		return nil
	}
	if n < len(head) {
		c.sendQueue[0] = head[n:]
		return nil
	}
	c.popFront()
	if len(c.sendQueue) == 0 {
		return c.SetWantWrite(false)
	}
	return nil
}

// HasQueuedData reports whether the send buffer is non-empty. This must
// hold iff write-interest is set for this connection.
func (c *Connection) HasQueuedData() bool { return len(c.sendQueue) > 0 }

// Close removes the connection from its reactor, closes the fd, releases
// pooled send buffers, and fires CLOSED exactly once.
func (c *Connection) Close() (bool, error) {
	did, err := c.Base.Close()
	if !did {
		return false, nil
	}
	c.state = stateClosed
	for _, pb := range c.pooled {
		bytebufferpool.Put(pb)
	}
	c.pooled = nil
	c.sendQueue = nil
	c.actions.Execute(TagClosed, func(fn interface{}) { fn.(ClosedFunc)(c) })
	return true, err
}

// OnReadable implements netpoll.Socket.
func (c *Connection) OnReadable() error {
	if c.state == stateListening {
		// A listener's readiness is handled by the TcpServer, which
		// registers a listenerSocket adapter rather than the Connection
		// itself; this branch only exists to keep Connection a valid
		// netpoll.Socket standalone (e.g. in tests).
		return nil
	}
	_, err := c.Recv()
	if err != nil && err != unix.EAGAIN {
		return nil // errors are surfaced through ERROR, never thrown through Poll.
	}
	return nil
}

// OnWritable implements netpoll.Socket.
func (c *Connection) OnWritable() error {
	return c.SendFlush()
}

func (c *Connection) enqueue(tail []byte) {
	pb := bytebufferpool.Get()
	pb.Write(tail)
	c.pooled = append(c.pooled, pb)
	c.sendQueue = append(c.sendQueue, pb.B)
}

func (c *Connection) popFront() {
	if len(c.pooled) > 0 {
		bytebufferpool.Put(c.pooled[0])
		c.pooled = c.pooled[1:]
	}
	c.sendQueue = c.sendQueue[1:]
}

func (c *Connection) fireError(op string, err error) {
	c.actions.Execute(TagError, func(fn interface{}) { fn.(ErrorFunc)(c, op, err) })
}

func sockaddrOf(addr netaddr.Address) (unix.Sockaddr, error) {
	switch netaddr.FamilyOf(addr) {
	case netaddr.IPv4:
		ip, ok := netaddr.AsIPv4(addr)
		if !ok {
			return nil, sockerr.ErrUnsupportedProtocol
		}
		b := ip.As4()
		return &unix.SockaddrInet4{Port: int(netaddr.Port(addr)), Addr: b}, nil
	case netaddr.IPv6:
		ip, ok := netaddr.AsIPv6(addr)
		if !ok {
			return nil, sockerr.ErrUnsupportedProtocol
		}
		b := ip.As16()
		return &unix.SockaddrInet6{Port: int(netaddr.Port(addr)), Addr: b}, nil
	default:
		return nil, sockerr.ErrUnsupportedProtocol
	}
}

// resolveCtx is the context used for address resolution inside endpoint
// pipelines that don't take one explicitly (Listen/Connect's signatures
// are fixed); a background context with no deadline matches the
// retry-bounded-by-count, not time, resolve discipline.
var resolveCtx = context.Background()

// addressFromSockaddr converts a unix.Sockaddr (as returned by accept(2))
// into a netaddr.Address.
func addressFromSockaddr(sa unix.Sockaddr) netaddr.Address {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return netaddr.FromIPPort(netip.AddrFrom4(s.Addr), uint16(s.Port), netaddr.IPv4)
	case *unix.SockaddrInet6:
		return netaddr.FromIPPort(netip.AddrFrom16(s.Addr), uint16(s.Port), netaddr.IPv6)
	default:
		return netaddr.New()
	}
}
