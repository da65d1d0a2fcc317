package unisock

import (
	"github.com/Ludrak/unisock/internal/dgram"
	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/tcpsock"
	"github.com/Ludrak/unisock/udpsock"
)

// Option configures an endpoint constructed through this package's
// New*-family helpers, grounded on walkon-gnet's functional-options
// pattern (WithMulticore, WithTCPKeepAlive, ...).
type Option func(*config)

type config struct {
	recvBufSize       int
	listenBacklog     int
	maxResolveRetries int
	recvMode          dgram.Mode
	reusePort         bool
	acceptPoolSize    int
}

func newConfig() config {
	return config{recvBufSize: -1, listenBacklog: -1, maxResolveRetries: -1, recvMode: dgram.ModeRecvFrom}
}

// WithRecvBufferSize overrides the default fixed recv buffer size used by
// one Recv/RecvFrom call.
func WithRecvBufferSize(n int) Option { return func(c *config) { c.recvBufSize = n } }

// WithListenBacklog records a listen(2) backlog in the option set. No
// constructor in this package applies it: TcpServer.Listen always uses
// tcpsock.ListenBacklog (10).
func WithListenBacklog(n int) Option { return func(c *config) { c.listenBacklog = n } }

// WithMaxResolveRetries records a resolve retry count in the option set.
// No constructor in this package applies it: the connect/listen/bind
// pipelines always resolve with netaddr.MaxResolveRetries (3).
func WithMaxResolveRetries(n int) Option { return func(c *config) { c.maxResolveRetries = n } }

// WithRecvMode selects the datagram receive syscall (ModeRecvFrom,
// ModeRecv, ModeRecvMsg) for a udpsock/rawsock DgramSocket.
func WithRecvMode(m dgram.Mode) Option { return func(c *config) { c.recvMode = m } }

// WithReusePort enables SO_REUSEPORT (via github.com/libp2p/go-reuseport)
// on the next Listen/Bind call, letting multiple endpoints share one port.
func WithReusePort(on bool) Option { return func(c *config) { c.reusePort = on } }

// WithAcceptPool bounds a github.com/panjf2000/ants/v2 goroutine pool of
// size n that TcpServer offloads post-accept bookkeeping (reverse name
// resolution) to, keeping the reactor goroutine itself non-blocking. It
// is never used to run user RECV/ACCEPT callbacks.
func WithAcceptPool(n int) Option { return func(c *config) { c.acceptPoolSize = n } }

func applyOptions(opts []Option) config {
	cfg := newConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// NewTcpServer constructs a tcpsock.TcpServer configured by opts, backed
// by a freshly created reactor.
func NewTcpServer(opts ...Option) (*tcpsock.TcpServer, error) {
	reactor, err := netpoll.New()
	if err != nil {
		return nil, err
	}
	return NewTcpServerWithReactor(reactor, opts...)
}

// NewTcpServerWithReactor constructs a tcpsock.TcpServer configured by
// opts, sharing reactor with other endpoints.
func NewTcpServerWithReactor(reactor netpoll.Poller, opts ...Option) (*tcpsock.TcpServer, error) {
	cfg := applyOptions(opts)
	s := tcpsock.NewTcpServerWithReactor(reactor)
	if cfg.reusePort {
		s.SetReusePort(true)
	}
	if cfg.acceptPoolSize > 0 {
		if err := s.SetAcceptPool(cfg.acceptPoolSize); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewTcpClient constructs a tcpsock.TcpClient configured by opts, backed
// by a freshly created reactor.
func NewTcpClient(opts ...Option) (*tcpsock.TcpClient, error) {
	reactor, err := netpoll.New()
	if err != nil {
		return nil, err
	}
	return NewTcpClientWithReactor(reactor, opts...), nil
}

// NewTcpClientWithReactor constructs a tcpsock.TcpClient configured by
// opts, sharing reactor with other endpoints.
func NewTcpClientWithReactor(reactor netpoll.Poller, opts ...Option) *tcpsock.TcpClient {
	return tcpsock.NewTcpClientWithReactor(reactor)
}

// NewUDPSocket constructs a udpsock.DgramSocket configured by opts,
// sharing reactor with other endpoints.
func NewUDPSocket(reactor netpoll.Poller, opts ...Option) *udpsock.DgramSocket {
	cfg := applyOptions(opts)
	d := udpsock.NewDgramSocket(reactor)
	if cfg.recvBufSize > 0 {
		d.SetRecvBufferSize(cfg.recvBufSize)
	}
	d.SetMode(cfg.recvMode)
	if cfg.reusePort {
		d.SetReusePort(true)
	}
	return d
}
