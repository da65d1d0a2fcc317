package tcpsock

import (
	"context"
	"fmt"
	"net"

	"github.com/libp2p/go-reuseport"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/action"
	"github.com/Ludrak/unisock/internal/logging"
	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/netaddr"
	"github.com/Ludrak/unisock/socketcontainer"
	"github.com/Ludrak/unisock/sockerr"
)

// ServerTag identifies one TcpServer event kind.
//
// Grounded on includes/tcp/server.hpp's server_actions_list: LISTEN,
// ACCEPT, DISCONNECT, plus the common RECEIVE/CLOSED/ERROR tags shared
// with tcp::client.
type ServerTag int

const (
	TagListen ServerTag = iota
	TagAccept
	TagDisconnect
	TagReceive
	TagServerClosed
	TagServerError
)

type (
	ListenFunc       func(listener *Connection)
	AcceptFunc       func(client *Connection)
	DisconnectFunc   func(client *Connection)
	ReceiveFunc      func(client *Connection, b []byte)
	ServerClosedFunc func(listener *Connection)
	ServerErrorFunc  func(op string, err error)
)

// TcpServer owns two socket containers sharing one reactor: listeners and
// accepted clients. Grounded on includes/tcp/server.hpp's server_impl,
// with the listen/accept pipelines mirroring li-ma-gnet/eventloop.go's
// loopAccept/loopOpened.
type TcpServer struct {
	reactor    netpoll.Poller
	listeners  *socketcontainer.Container[*Connection]
	clients    *socketcontainer.Container[*Connection]
	actions    action.Table[ServerTag, any]
	reusePort  bool
	acceptPool *ants.Pool
}

// listenerSocket adapts a listening Connection's readiness into
// TcpServer.accept, since a listening fd's OnReadable means "a peer is
// waiting in the accept queue", not "data is available to recv".
type listenerSocket struct {
	srv  *TcpServer
	conn *Connection
}

func (l *listenerSocket) OnReadable() error { return l.srv.accept(l.conn) }
func (l *listenerSocket) OnWritable() error { return nil }

// NewTcpServer constructs a TcpServer backed by a freshly created reactor.
func NewTcpServer() (*TcpServer, error) {
	reactor, err := netpoll.New()
	if err != nil {
		return nil, err
	}
	return NewTcpServerWithReactor(reactor), nil
}

// NewTcpServerWithReactor constructs a TcpServer sharing an existing
// reactor — used when multiple endpoints must be polled together.
func NewTcpServerWithReactor(reactor netpoll.Poller) *TcpServer {
	s := &TcpServer{reactor: reactor}
	s.listeners = socketcontainer.New[*Connection](func(op string, errno int) {
		s.fireErrorErr(op, errnoError(errno))
	})
	s.clients = socketcontainer.New[*Connection](func(op string, errno int) {
		s.fireErrorErr(op, errnoError(errno))
	})
	return s
}

// Reactor exposes the shared reactor so the caller's poll loop can drive
// it, or so a TcpClient can be built atop the same reactor.
func (s *TcpServer) Reactor() netpoll.Poller { return s.reactor }

// On registers fn for tag.
func (s *TcpServer) On(tag ServerTag, fn interface{}, flags action.Flag) {
	s.actions.On(tag, fn, flags)
}

// Listeners exposes the listener container (for Count()-style inspection
// in tests/scenarios).
func (s *TcpServer) Listeners() *socketcontainer.Container[*Connection] { return s.listeners }

// Clients exposes the accepted-client container.
func (s *TcpServer) Clients() *socketcontainer.Container[*Connection] { return s.clients }

// SetReusePort toggles SO_REUSEPORT for subsequent Listen calls, letting
// multiple independent TcpServer instances (in this or other processes)
// share one port. Bind/listen is then performed through
// github.com/libp2p/go-reuseport rather than raw unix.Bind/unix.Listen.
func (s *TcpServer) SetReusePort(on bool) { s.reusePort = on }

// SetAcceptPool bounds a goroutine pool of size n that post-accept
// bookkeeping (currently: reverse name resolution of the peer address) is
// offloaded to, keeping the reactor goroutine itself from blocking on a
// DNS round trip. It never runs user RECV/ACCEPT callbacks — those always
// run synchronously on the poll goroutine.
func (s *TcpServer) SetAcceptPool(n int) error {
	pool, err := ants.NewPool(n)
	if err != nil {
		return err
	}
	s.acceptPool = pool
	return nil
}

// Listen runs the full bind pipeline: create listener,
// install a CLOSED emitter, resolve the address, set the port, bind,
// listen, install accept-on-readable, emit LISTEN. Any failing step
// closes the partially-created listener and emits ERROR; the listener
// container's Len() is left unchanged on failure.
func (s *TcpServer) Listen(host string, port uint16, useV6 bool) bool {
	family := netaddr.IPv4
	domain := unix.AF_INET
	if useV6 {
		family = netaddr.IPv6
		domain = unix.AF_INET6
	}

	var addr netaddr.Address

	listener, err := s.listeners.Make(
		func() (*Connection, error) {
			if s.reusePort {
				return s.openReuseportListener(host, port, useV6)
			}
			c := NewConnection(s.reactor)
			if err := c.Open(domain); err != nil {
				return nil, err
			}
			return c, nil
		},
		func(c *Connection, onClosed func()) {
			c.On(TagClosed, ClosedFunc(func(*Connection) {
				s.actions.Execute(TagServerClosed, func(fn interface{}) { fn.(ServerClosedFunc)(c) })
			}), action.Default)
			c.On(TagClosed, ClosedFunc(func(*Connection) { onClosed() }), socketcontainer.WireQueueEndStopAfterFlags())
		},
	)
	if err != nil {
		s.fireErrorErr("socket", err)
		return false
	}

	addr, err = netaddr.ResolveWithPort(resolveCtx, host, port, family)
	if err != nil {
		s.fireErrorErr("getaddrinfo", err)
		listener.Close()
		return false
	}
	listener.SetLocalAddr(addr)

	if s.reusePort {
		// openReuseportListener already bound and is listening; only the
		// Address bookkeeping above and the reactor registration below
		// remain.
		listener.state = stateListening
	} else {
		sa, err := sockaddrOf(addr)
		if err != nil {
			s.fireErrorErr("bind", err)
			listener.Close()
			return false
		}
		if err := unix.Bind(listener.FD(), sa); err != nil {
			s.fireErrorErr("bind", sockerr.Op("bind", err))
			listener.Close()
			return false
		}
		if err := listener.Listen(); err != nil {
			s.fireErrorErr("listen", err)
			listener.Close()
			return false
		}
	}

	if err := listener.Register(&listenerSocket{srv: s, conn: listener}); err != nil {
		s.fireErrorErr("register", err)
		listener.Close()
		return false
	}

	s.actions.Execute(TagListen, func(fn interface{}) { fn.(ListenFunc)(listener) })
	return true
}

// openReuseportListener binds and listens through go-reuseport (installing
// SO_REUSEPORT before bind), then hands the resulting fd to a Connection
// the same way a plain accept would — dup'd off the temporary net.Listener
// so closing that listener doesn't take the fd we're about to hand to the
// reactor down with it.
func (s *TcpServer) openReuseportListener(host string, port uint16, useV6 bool) (*Connection, error) {
	network := "tcp4"
	if useV6 {
		network = "tcp6"
	}
	ln, err := reuseport.Listen(network, fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, sockerr.Op("reuseport.listen", err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, sockerr.ErrUnsupportedProtocol
	}
	file, err := tcpLn.File()
	if err != nil {
		tcpLn.Close()
		return nil, sockerr.Op("reuseport.file", err)
	}
	fd, err := unix.Dup(int(file.Fd()))
	file.Close()
	tcpLn.Close()
	if err != nil {
		return nil, sockerr.Op("dup", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, sockerr.Op("setnonblock", err)
	}
	return newAcceptedConnection(s.reactor, fd, netaddr.New()), nil
}

// ListenRange binds a contiguous port range in one call. It returns one
// bool per port in [startPort, endPort], in order.
func (s *TcpServer) ListenRange(host string, startPort, endPort uint16, useV6 bool) []bool {
	results := make([]bool, 0, int(endPort-startPort)+1)
	for p := startPort; ; p++ {
		results = append(results, s.Listen(host, p, useV6))
		if p == endPort {
			break
		}
	}
	return results
}

func (s *TcpServer) accept(listener *Connection) error {
	nfd, sa, err := unix.Accept(listener.FD())
	if err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		s.fireErrorErr("accept", sockerr.Op("accept", err))
		return nil
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		s.fireErrorErr("accept", sockerr.Op("setnonblock", err))
		return nil
	}

	peer := addressFromSockaddr(sa)
	client, err := s.clients.Make(
		func() (*Connection, error) {
			return newAcceptedConnection(s.reactor, nfd, peer), nil
		},
		func(c *Connection, onClosed func()) {
			c.On(TagClosed, ClosedFunc(func(*Connection) {
				s.actions.Execute(TagDisconnect, func(fn interface{}) { fn.(DisconnectFunc)(c) })
			}), action.Default)
			c.On(TagClosed, ClosedFunc(func(*Connection) { onClosed() }), socketcontainer.WireQueueEndStopAfterFlags())
		},
	)
	if err != nil {
		_ = unix.Close(nfd)
		return nil
	}

	client.On(TagRecv, RecvFunc(func(c *Connection, b []byte) {
		s.actions.Execute(TagReceive, func(fn interface{}) { fn.(ReceiveFunc)(c, b) })
	}), action.Default)

	if err := client.Register(client); err != nil {
		client.Close()
		return nil
	}

	if s.acceptPool != nil {
		_ = s.acceptPool.Submit(func() {
			name, err := netaddr.NameOf(context.Background(), peer)
			if err != nil {
				return
			}
			client.SetUserData(name)
		})
	}

	s.actions.Execute(TagAccept, func(fn interface{}) { fn.(AcceptFunc)(client) })
	return nil
}

// Close closes every listener and every accepted client, and releases the
// accept pool if one was configured. Errors from both containers are
// aggregated via go.uber.org/multierr rather than dropping all but the
// first.
func (s *TcpServer) Close() error {
	var err error
	if closeErr := s.listeners.CloseAll(); closeErr != nil {
		err = multierr.Append(err, closeErr)
		logging.LogErr(closeErr)
	}
	if closeErr := s.clients.CloseAll(); closeErr != nil {
		err = multierr.Append(err, closeErr)
		logging.LogErr(closeErr)
	}
	if s.acceptPool != nil {
		s.acceptPool.Release()
	}
	return err
}

func (s *TcpServer) fireErrorErr(op string, err error) {
	s.actions.Execute(TagServerError, func(fn interface{}) { fn.(ServerErrorFunc)(op, err) })
}

// errnoError turns a bare errno (0 meaning "not an OS error", used by
// socketcontainer's duplicate-key path) into a presentable error.
func errnoError(errno int) error {
	if errno == 0 {
		return sockerr.ErrDuplicateKey
	}
	return unix.Errno(errno)
}
