// Package socket implements the ownership cell over one OS file
// descriptor that every specialized endpoint (tcpsock.Connection,
// udpsock.DgramSocket, ...) embeds.
//
// Grounded on includes/socket/socket_base.hpp for the fd-ownership
// contract (open/close/setsockopt/getsockopt, -1 sentinel, idempotent
// close) and on li-ma-gnet/eventloop.go's unix.SetNonblock/unix.Close
// usage for the Go syscall idiom. The "pure virtual on_readable/on_writeable"
// hooks become Go embedding: Base itself does not implement
// netpoll.Socket — each concrete endpoint does, satisfying the interface
// the reactor holds instead of a reinterpret-cast pointer.
package socket

import (
	"golang.org/x/sys/unix"

	"github.com/Ludrak/unisock/internal/netpoll"
	"github.com/Ludrak/unisock/netaddr"
	"github.com/Ludrak/unisock/sockerr"
)

// Base owns one fd plus its local Address. fd is either -1 (unopened or
// closed) or a descriptor owned exclusively by this instance.
type Base struct {
	fd      int
	local   netaddr.Address
	reactor netpoll.Poller
}

// NewBase returns a Base not yet backed by any fd, bound to reactor for
// future registration.
func NewBase(reactor netpoll.Poller) Base {
	return Base{fd: -1, reactor: reactor}
}

// NewBaseFromFD wraps an already-open, already-nonblocking fd (the accept
// path), bound to reactor.
func NewBaseFromFD(reactor netpoll.Poller, fd int) Base {
	return Base{fd: fd, reactor: reactor}
}

// Open creates the fd via socket(2). On failure fd remains -1 and the
// error is returned; the caller (a constructor-like endpoint operation per
// this module's error-handling convention) is responsible for also emitting an
// ERROR action.
func (b *Base) Open(domain, typ, protocol int) error {
	fd, err := unix.Socket(domain, typ, protocol)
	if err != nil {
		return sockerr.Op("socket", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return sockerr.Op("setnonblock", err)
	}
	b.fd = fd
	return nil
}

// FD returns the underlying file descriptor, or -1 if unopened/closed.
func (b *Base) FD() int { return b.fd }

// LocalAddr returns the address this socket is bound to.
func (b *Base) LocalAddr() netaddr.Address { return b.local }

// SetLocalAddr records addr as this socket's local address (set once, by
// bind/connect pipelines).
func (b *Base) SetLocalAddr(addr netaddr.Address) { b.local = addr }

// Reactor exposes the poller this socket is or will be registered with.
func (b *Base) Reactor() netpoll.Poller { return b.reactor }

// Register adds fd to the reactor with s as the readiness callback target.
// Must be called once the fd is valid; duplicate registration is the
// reactor's own no-op responsibility.
func (b *Base) Register(s netpoll.Socket) error {
	if b.fd == -1 {
		return sockerr.ErrInvalidFD
	}
	return b.reactor.Add(b.fd, s)
}

// Close removes the socket from its reactor, closes the fd, and reports
// whether this call actually performed the close (false means the socket
// was already closed — idempotent no-op).
func (b *Base) Close() (didClose bool, err error) {
	if b.fd == -1 {
		return false, nil
	}
	fd := b.fd
	b.fd = -1
	if rErr := b.reactor.Remove(fd); rErr != nil {
		err = rErr
	}
	if cErr := unix.Close(fd); cErr != nil && err == nil {
		err = sockerr.Op("close", cErr)
	}
	return true, err
}

// SetWantRead delegates to the reactor for this socket's fd.
func (b *Base) SetWantRead(on bool) error {
	if b.fd == -1 {
		return sockerr.ErrInvalidFD
	}
	return b.reactor.SetWantRead(b.fd, on)
}

// SetWantWrite delegates to the reactor for this socket's fd.
func (b *Base) SetWantWrite(on bool) error {
	if b.fd == -1 {
		return sockerr.ErrInvalidFD
	}
	return b.reactor.SetWantWrite(b.fd, on)
}

// SetSockoptInt is a thin wrapper over setsockopt(2) for integer options.
func (b *Base) SetSockoptInt(level, name, value int) error {
	if b.fd == -1 {
		return sockerr.ErrInvalidFD
	}
	if err := unix.SetsockoptInt(b.fd, level, name, value); err != nil {
		return sockerr.Op("setsockopt", err)
	}
	return nil
}

// GetSockoptInt is a thin wrapper over getsockopt(2) for integer options.
func (b *Base) GetSockoptInt(level, name int) (int, error) {
	if b.fd == -1 {
		return 0, sockerr.ErrInvalidFD
	}
	v, err := unix.GetsockoptInt(b.fd, level, name)
	if err != nil {
		return 0, sockerr.Op("getsockopt", err)
	}
	return v, nil
}
