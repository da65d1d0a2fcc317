// Package dgram implements the datagram socket core shared by udpsock
// (SOCK_DGRAM) and rawsock (SOCK_RAW): open/bind, the mode-selectable
// receive path, and the SendTo/freestanding-send helpers.
//
// Grounded on includes/udp/udp.hpp's server::on_receive (the single
// recvfrom-per-readiness-event loop) and includes/raw/common.hpp's
// method enum (recv/recvmsg/recvfrom on the read side, send/sendmsg/
// sendto on the write side) and its free send_to/listener_impl helpers,
// written in the Go idiom li-ma-gnet/eventloop.go uses for its UDP path
// (unix.Recvfrom/unix.Sendto against a fixed-size stack buffer).
package dgram

import (
	"context"
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/netaddr"
	"github.com/Ludrak/unisock/socket"
	"github.com/Ludrak/unisock/sockerr"
)

// RecvBufferSize is the default size of the fixed stack buffer used for
// one recv/recvfrom/recvmsg call.
const RecvBufferSize = 1024

// Mode selects which syscall the receive path uses, mirroring
// raw::method's recv/recvmsg/recvfrom discrimination.
type Mode int

const (
	ModeRecvFrom Mode = iota
	ModeRecv
	ModeRecvMsg
)

// SendResult mirrors raw::send_result: a success/error/unavailable tri-state
// plus a "sent some but not all of it" case carrying the byte count. Go has
// no portable integer-arithmetic enum trick worth keeping (the C++ source
// encodes the count as send_result::INCOMPLETE + n), so this is a small
// tagged struct instead.
type SendResult struct {
	kind sendKind
	n    int
}

type sendKind int

const (
	sendSuccess sendKind = iota
	sendError
	sendUnavailable
	sendIncomplete
)

func Success() SendResult             { return SendResult{kind: sendSuccess} }
func Error() SendResult                { return SendResult{kind: sendError} }
func Unavailable() SendResult          { return SendResult{kind: sendUnavailable} }
func Incomplete(n int) SendResult      { return SendResult{kind: sendIncomplete, n: n} }
func (r SendResult) IsSuccess() bool    { return r.kind == sendSuccess }
func (r SendResult) IsError() bool      { return r.kind == sendError }
func (r SendResult) IsUnavailable() bool { return r.kind == sendUnavailable }
func (r SendResult) IsIncomplete() bool { return r.kind == sendIncomplete }
func (r SendResult) N() int             { return r.n }

// Core is the datagram socket state both udpsock.DgramSocket and
// rawsock.DgramSocket embed: an fd, a recv mode, and the recv/send
// primitives built atop it. It is not itself a complete endpoint —
// callers supply the socket domain/type at Open time and their own
// action dispatch around Recv's result.
type Core struct {
	socket.Base

	Mode        Mode
	recvBufSize int
}

// NewCore constructs an unopened Core bound to reactor.
func NewCore(reactor netpoll.Poller) Core {
	return Core{Base: socket.NewBase(reactor), Mode: ModeRecvFrom, recvBufSize: RecvBufferSize}
}

// NewCoreFromFD wraps an already-open, already-nonblocking fd (e.g. one
// obtained through github.com/libp2p/go-reuseport and dup'd off its
// temporary net.PacketConn) bound to reactor.
func NewCoreFromFD(reactor netpoll.Poller, fd int) Core {
	return Core{Base: socket.NewBaseFromFD(reactor, fd), Mode: ModeRecvFrom, recvBufSize: RecvBufferSize}
}

// Open creates the underlying socket fd of typ (SOCK_DGRAM for udpsock,
// SOCK_RAW for rawsock) in the given family.
func (c *Core) Open(family, typ, protocol int) error {
	return c.Base.Open(family, typ, protocol)
}

// SetRecvBufferSize overrides the default 1024-byte recv buffer.
func (c *Core) SetRecvBufferSize(n int) { c.recvBufSize = n }

// Bind resolves host:port and binds the socket to it, returning the bound
// Address for the caller to record and fire its BIND action with.
func (c *Core) Bind(host string, port uint16, family netaddr.Family) (netaddr.Address, error) {
	addr, err := netaddr.ResolveWithPort(context.Background(), host, port, family)
	if err != nil {
		return netaddr.Address{}, err
	}
	sa, err := SockaddrOf(addr)
	if err != nil {
		return netaddr.Address{}, err
	}
	if err := unix.Bind(c.FD(), sa); err != nil {
		return netaddr.Address{}, sockerr.Op("bind", err)
	}
	c.SetLocalAddr(addr)
	return addr, nil
}

// RecvFrom performs one non-blocking recvfrom(2), returning the sender's
// Address and the received bytes. unix.EAGAIN is reported as (zero, nil,
// nil) — "nothing ready right now", not an error.
func (c *Core) RecvFrom() (netaddr.Address, []byte, error) {
	buf := make([]byte, c.recvBufSize)
	n, from, err := unix.Recvfrom(c.FD(), buf, 0)
	if err != nil {
		if err == unix.EAGAIN {
			return netaddr.Address{}, nil, nil
		}
		return netaddr.Address{}, nil, sockerr.Op("recvfrom", err)
	}
	return AddressFromSockaddr(from), buf[:n], nil
}

// Recv performs one non-blocking recv(2), discarding sender information —
// the ModeRecv path, for connected datagram sockets.
func (c *Core) Recv() ([]byte, error) {
	buf := make([]byte, c.recvBufSize)
	n, err := unix.Read(c.FD(), buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, sockerr.Op("recv", err)
	}
	return buf[:n], nil
}

// Msg is the Go rendering of the msghdr a RECVMSG action carries: the
// sender's Address, the payload, any ancillary (control) data, and the
// recvmsg(2) result flags (e.g. MSG_TRUNC).
type Msg struct {
	From  netaddr.Address
	Data  []byte
	OOB   []byte
	Flags int
}

// RecvMsg performs one non-blocking recvmsg(2), the ModeRecvMsg path —
// the only receive variant that surfaces ancillary data and truncation
// flags alongside the payload and sender address.
func (c *Core) RecvMsg() (Msg, error) {
	buf := make([]byte, c.recvBufSize)
	oob := make([]byte, unix.CmsgSpace(0))
	n, oobn, recvFlags, from, err := unix.Recvmsg(c.FD(), buf, oob, 0)
	if err != nil {
		if err == unix.EAGAIN {
			return Msg{}, nil
		}
		return Msg{}, sockerr.Op("recvmsg", err)
	}
	return Msg{
		From:  AddressFromSockaddr(from),
		Data:  buf[:n],
		OOB:   oob[:oobn],
		Flags: recvFlags,
	}, nil
}

// SendTo performs one non-blocking sendto(2). EAGAIN is reported as
// Unavailable and any other error as Error; a call that does not fail is
// reported as Success. It never returns Incomplete, since unix.Sendto
// does not report a byte count.
func (c *Core) SendTo(addr netaddr.Address, b []byte) SendResult {
	sa, err := SockaddrOf(addr)
	if err != nil {
		return Error()
	}
	if err := unix.Sendto(c.FD(), b, 0, sa); err != nil {
		if err == unix.EAGAIN {
			return Unavailable()
		}
		return Error()
	}
	return Success()
}

// SendToFreestanding opens an ephemeral non-blocking datagram socket,
// sends b to addr, and closes it — the Go rendering of raw::send_to's
// free-function overload that builds a stack-scoped socket for one
// one-shot send — RAII becomes a stack-scoped value with
// defer" guidance.
func SendToFreestanding(_ context.Context, addr netaddr.Address, b []byte, typ, protocol int) SendResult {
	domain := unix.AF_INET
	if netaddr.FamilyOf(addr) == netaddr.IPv6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, typ, protocol)
	if err != nil {
		return Error()
	}
	defer unix.Close(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		return Error()
	}
	sa, err := SockaddrOf(addr)
	if err != nil {
		return Error()
	}
	if err := unix.Sendto(fd, b, 0, sa); err != nil {
		if err == unix.EAGAIN {
			return Unavailable()
		}
		return Error()
	}
	return Success()
}

// SockaddrOf converts a netaddr.Address into the unix.Sockaddr form
// sendto/bind/connect need. tcpsock keeps its own small copy of the same
// logic close to its Connection type rather than importing this one, to
// avoid coupling the two packages' internals; this copy exists for the
// datagram-only core.
func SockaddrOf(addr netaddr.Address) (unix.Sockaddr, error) {
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

// AddressFromSockaddr converts a unix.Sockaddr (as returned by
// recvfrom(2)) into a netaddr.Address.
func AddressFromSockaddr(sa unix.Sockaddr) netaddr.Address {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return netaddr.FromIPPort(netip.AddrFrom4(s.Addr), uint16(s.Port), netaddr.IPv4)
	case *unix.SockaddrInet6:
		return netaddr.FromIPPort(netip.AddrFrom16(s.Addr), uint16(s.Port), netaddr.IPv6)
	default:
		return netaddr.New()
	}
}
