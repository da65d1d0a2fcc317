package tcpsock

import (
	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/action"
	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/netaddr"
	"github.com/Ludrak/unisock/socketcontainer"
)

// ClientTag identifies one TcpClient event kind.
//
// Grounded on includes/tcp/client.hpp's client_actions_list: CONNECT plus
// the common RECEIVE/CLOSED/ERROR tags also used by tcp::server.
type ClientTag int

const (
	TagConnect ClientTag = iota
	TagClientReceive
	TagClientClosed
	TagClientError
)

type (
	ConnectFunc      func(conn *Connection)
	ClientReceiveFunc func(conn *Connection, b []byte)
	ClientClosedFunc func(conn *Connection)
	ClientErrorFunc  func(op string, err error)
)

// TcpClient owns one socket container of outbound connections sharing a
// reactor. Unlike TcpServer it never accepts; every Connection it holds
// was created locally and dialed out. Grounded on includes/tcp/client.hpp's
// client_impl and on darinkes-gnet's free Connect function for the
// resolve-then-connect Go idiom.
type TcpClient struct {
	reactor     netpoll.Poller
	connections *socketcontainer.Container[*Connection]
	actions     action.Table[ClientTag, any]
}

// NewTcpClient constructs a TcpClient backed by a freshly created reactor.
func NewTcpClient() (*TcpClient, error) {
	reactor, err := netpoll.New()
	if err != nil {
		return nil, err
	}
	return NewTcpClientWithReactor(reactor), nil
}

// NewTcpClientWithReactor constructs a TcpClient sharing an existing
// reactor — typically the same one driving a TcpServer, so one Poll call
// services both.
func NewTcpClientWithReactor(reactor netpoll.Poller) *TcpClient {
	c := &TcpClient{reactor: reactor}
	c.connections = socketcontainer.New[*Connection](func(op string, errno int) {
		c.fireErrorErr(op, errnoError(errno))
	})
	return c
}

// Reactor exposes the shared reactor.
func (c *TcpClient) Reactor() netpoll.Poller { return c.reactor }

// On registers fn for tag.
func (c *TcpClient) On(tag ClientTag, fn interface{}, flags action.Flag) {
	c.actions.On(tag, fn, flags)
}

// Connections exposes the held-connection container.
func (c *TcpClient) Connections() *socketcontainer.Container[*Connection] { return c.connections }

// Connect resolves host, opens a stream socket, issues a non-blocking
// connect(2) (EINPROGRESS counts as in-flight, not failure), registers the
// connection with the reactor, and emits CONNECT once the pipeline
// completes. Any
// failing step closes the partial connection and emits ERROR.
func (c *TcpClient) Connect(host string, port uint16, useV6 bool) bool {
	family := netaddr.IPv4
	domain := unix.AF_INET
	if useV6 {
		family = netaddr.IPv6
		domain = unix.AF_INET6
	}

	peer, err := netaddr.ResolveWithPort(resolveCtx, host, port, family)
	if err != nil {
		c.fireErrorErr("getaddrinfo", err)
		return false
	}

	conn, err := c.connections.Make(
		func() (*Connection, error) {
			conn := NewConnection(c.reactor)
			if err := conn.Open(domain); err != nil {
				return nil, err
			}
			conn.SetPeerAddr(peer)
			return conn, nil
		},
		func(conn *Connection, onClosed func()) {
			conn.On(TagClosed, ClosedFunc(func(*Connection) {
				c.actions.Execute(TagClientClosed, func(fn interface{}) { fn.(ClientClosedFunc)(conn) })
			}), action.Default)
			conn.On(TagClosed, ClosedFunc(func(*Connection) { onClosed() }), socketcontainer.WireQueueEndStopAfterFlags())
		},
	)
	if err != nil {
		c.fireErrorErr("socket", err)
		return false
	}

	if err := conn.Connect(); err != nil {
		c.fireErrorErr("connect", err)
		conn.Close()
		return false
	}

	conn.On(TagRecv, RecvFunc(func(conn *Connection, b []byte) {
		c.actions.Execute(TagClientReceive, func(fn interface{}) { fn.(ClientReceiveFunc)(conn, b) })
	}), action.Default)
	conn.On(TagError, ErrorFunc(func(conn *Connection, op string, err error) {
		c.fireErrorErr(op, err)
	}), action.Default)

	if err := conn.Register(conn); err != nil {
		c.fireErrorErr("register", err)
		conn.Close()
		return false
	}

	c.actions.Execute(TagConnect, func(fn interface{}) { fn.(ConnectFunc)(conn) })
	return true
}

// Send writes b to every connection this client currently holds —
// broadcast-to-all-connections semantics for a client holding more than
// one.
func (c *TcpClient) Send(b []byte) {
	c.connections.Each(func(conn *Connection) {
		conn.Send(b)
	})
}

// Close closes every connection this client holds.
func (c *TcpClient) Close() error {
	return c.connections.CloseAll()
}

func (c *TcpClient) fireErrorErr(op string, err error) {
	c.actions.Execute(TagClientError, func(fn interface{}) { fn.(ClientErrorFunc)(op, err) })
}
