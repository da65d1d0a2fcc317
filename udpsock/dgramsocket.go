// Package udpsock implements the UDP datagram endpoint: a single socket
// that binds (optionally), sends to arbitrary peers, and fires an action
// per inbound datagram.
//
// Grounded on includes/udp/udp.hpp's server (listen/on_receive) for the
// bind-then-dispatch contract and on internal/dgram for the syscall core
// shared with rawsock.
package udpsock

import (
	"context"
	"fmt"
	"net"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/action"
	"github.com/Ludrak/unisock/internal/dgram"
	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/netaddr"
	"github.com/Ludrak/unisock/sockerr"
)

// Tag identifies one DgramSocket event kind.
type Tag int

const (
	TagBind Tag = iota
	TagRecv
	TagRecvFrom
	TagRecvMsg
	TagClosed
	TagError
)

type (
	BindFunc     func(addr netaddr.Address)
	RecvFunc     func(b []byte)
	RecvFromFunc func(from netaddr.Address, b []byte)
	RecvMsgFunc  func(msg dgram.Msg)
	ClosedFunc   func(addr netaddr.Address)
	ErrorFunc    func(op string, err error)
)

// DgramSocket is a single UDP socket: optionally bound, sending to and
// receiving from arbitrary peers. Unlike tcpsock it never holds a
// collection of connections — one fd is the whole endpoint, matching
// udp::server/udp::client in the original source (both wrap exactly one
// socket).
type DgramSocket struct {
	core      dgram.Core
	actions   action.Table[Tag, any]
	reusePort bool
}

// NewDgramSocket constructs an unopened DgramSocket bound to reactor.
func NewDgramSocket(reactor netpoll.Poller) *DgramSocket {
	return &DgramSocket{core: dgram.NewCore(reactor)}
}

// On registers fn for tag.
func (d *DgramSocket) On(tag Tag, fn interface{}, flags action.Flag) {
	d.actions.On(tag, fn, flags)
}

// SetMode selects which syscall OnReadable dispatches to — ModeRecvFrom
// (the default, firing RECVFROM), ModeRecv (firing RECV, sender address
// discarded), or ModeRecvMsg (firing RECVMSG with ancillary data and
// recvmsg(2) result flags) — matching raw::method's discrimination.
func (d *DgramSocket) SetMode(m dgram.Mode) { d.core.Mode = m }

// SetRecvBufferSize overrides the default 1024-byte recv buffer.
func (d *DgramSocket) SetRecvBufferSize(n int) { d.core.SetRecvBufferSize(n) }

// SetReusePort toggles SO_REUSEPORT for the next Bind call, letting
// multiple DgramSocket instances load-balance inbound datagrams across
// one port via github.com/libp2p/go-reuseport.
func (d *DgramSocket) SetReusePort(on bool) { d.reusePort = on }

// FD returns the underlying file descriptor.
func (d *DgramSocket) FD() int { return d.core.FD() }

// LocalAddr returns the address this socket is bound to, if any.
func (d *DgramSocket) LocalAddr() netaddr.Address { return d.core.LocalAddr() }

// Open creates the underlying SOCK_DGRAM fd for the given family.
func (d *DgramSocket) Open(family netaddr.Family) error {
	domain := unix.AF_INET
	if family == netaddr.IPv6 {
		domain = unix.AF_INET6
	}
	return d.core.Open(domain, unix.SOCK_DGRAM, 0)
}

// Bind resolves host:port, binds the socket, registers it with the
// reactor, and fires BIND. Any failing step fires ERROR and returns it.
func (d *DgramSocket) Bind(host string, port uint16, useV6 bool) error {
	family := netaddr.IPv4
	if useV6 {
		family = netaddr.IPv6
	}

	var addr netaddr.Address
	if d.reusePort {
		a, err := d.bindReuseport(host, port, useV6, family)
		if err != nil {
			d.fireError("bind", err)
			return err
		}
		addr = a
	} else {
		a, err := d.core.Bind(host, port, family)
		if err != nil {
			d.fireError("bind", err)
			return err
		}
		addr = a
	}

	if err := d.core.Register(d); err != nil {
		d.fireError("register", err)
		return err
	}
	d.actions.Execute(TagBind, func(fn interface{}) { fn.(BindFunc)(addr) })
	return nil
}

// bindReuseport installs SO_REUSEPORT via github.com/libp2p/go-reuseport
// and hands its resulting fd to this DgramSocket's Core, dup'd off the
// temporary net.PacketConn the same way TcpServer's reuseport listener is.
func (d *DgramSocket) bindReuseport(host string, port uint16, useV6 bool, family netaddr.Family) (netaddr.Address, error) {
	network := "udp4"
	if useV6 {
		network = "udp6"
	}
	pc, err := reuseport.ListenPacket(network, fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return netaddr.Address{}, sockerr.Op("reuseport.listenpacket", err)
	}
	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return netaddr.Address{}, sockerr.ErrUnsupportedProtocol
	}
	file, err := udpConn.File()
	if err != nil {
		udpConn.Close()
		return netaddr.Address{}, sockerr.Op("reuseport.file", err)
	}
	fd, err := unix.Dup(int(file.Fd()))
	file.Close()
	udpConn.Close()
	if err != nil {
		return netaddr.Address{}, sockerr.Op("dup", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return netaddr.Address{}, sockerr.Op("setnonblock", err)
	}

	addr, err := netaddr.ResolveWithPort(context.Background(), host, port, family)
	if err != nil {
		unix.Close(fd)
		return netaddr.Address{}, err
	}
	mode := d.core.Mode
	d.core = dgram.NewCoreFromFD(d.core.Reactor(), fd)
	d.core.Mode = mode
	d.core.SetLocalAddr(addr)
	return addr, nil
}

// SendTo performs one non-blocking sendto(2) to addr.
func (d *DgramSocket) SendTo(addr netaddr.Address, b []byte) dgram.SendResult {
	return d.core.SendTo(addr, b)
}

// SendToFreestanding sends one datagram to addr using a fresh ephemeral
// socket, without requiring a bound DgramSocket — fire a single UDP packet
// and forget it.
func SendToFreestanding(ctx context.Context, addr netaddr.Address, b []byte) dgram.SendResult {
	return dgram.SendToFreestanding(ctx, addr, b, unix.SOCK_DGRAM, 0)
}

// Recv performs one non-blocking recv(2), discarding sender information,
// and fires RECV — the ModeRecv path, for a DgramSocket that only ever
// talks to one peer.
func (d *DgramSocket) Recv() ([]byte, error) {
	b, err := d.core.Recv()
	if err != nil {
		d.fireError("recv", err)
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	d.actions.Execute(TagRecv, func(fn interface{}) { fn.(RecvFunc)(b) })
	return b, nil
}

// RecvFrom performs one non-blocking recvfrom(2) and fires RECVFROM.
func (d *DgramSocket) RecvFrom() (netaddr.Address, []byte, error) {
	from, b, err := d.core.RecvFrom()
	if err != nil {
		d.fireError("recvfrom", err)
		return netaddr.Address{}, nil, err
	}
	if b == nil {
		return netaddr.Address{}, nil, nil
	}
	d.actions.Execute(TagRecvFrom, func(fn interface{}) { fn.(RecvFromFunc)(from, b) })
	return from, b, nil
}

// RecvMsg performs one non-blocking recvmsg(2) and fires RECVMSG with the
// resulting Msg (sender address, payload, ancillary data, result flags) —
// the ModeRecvMsg path.
func (d *DgramSocket) RecvMsg() (dgram.Msg, error) {
	msg, err := d.core.RecvMsg()
	if err != nil {
		d.fireError("recvmsg", err)
		return dgram.Msg{}, err
	}
	if msg.Data == nil {
		return dgram.Msg{}, nil
	}
	d.actions.Execute(TagRecvMsg, func(fn interface{}) { fn.(RecvMsgFunc)(msg) })
	return msg, nil
}

// Close removes the socket from its reactor and closes the fd, firing
// CLOSED exactly once.
func (d *DgramSocket) Close() (bool, error) {
	addr := d.core.LocalAddr()
	did, err := d.core.Close()
	if !did {
		return false, nil
	}
	d.actions.Execute(TagClosed, func(fn interface{}) { fn.(ClosedFunc)(addr) })
	return true, err
}

// OnReadable implements netpoll.Socket, dispatching to recv, recvfrom, or
// recvmsg per the configured Mode.
func (d *DgramSocket) OnReadable() error {
	switch d.core.Mode {
	case dgram.ModeRecv:
		_, _ = d.Recv()
	case dgram.ModeRecvMsg:
		_, _ = d.RecvMsg()
	default:
		_, _, _ = d.RecvFrom()
	}
	return nil
}

// OnWritable implements netpoll.Socket. DgramSocket never queues writes —
// sendto either completes or is reported Unavailable immediately, per
// udp::server's on_writeable always returning false in the original
// source — so there is nothing to flush here.
func (d *DgramSocket) OnWritable() error { return nil }

func (d *DgramSocket) fireError(op string, err error) {
	d.actions.Execute(TagError, func(fn interface{}) { fn.(ErrorFunc)(op, err) })
}
