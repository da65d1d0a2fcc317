// Package netpoll implements the readiness reactor: fd registration,
// interest-mask bookkeeping, and one poll-dispatch round per Poll call.
//
// Grounded on li-ma-gnet/eventloop.go's loop.loopRun/Polling dispatch shape
// (readable before writable, one callback per ready fd, epoch-style
// invalidation check between readable and writable dispatch) and on
// includes/events/handlers/poll/poll_impl.hpp + events/polling_handler.hpp
// for the "stop the round when the interest set mutates mid-walk"
// contract (see Poller.Poll for the order ready fds are visited in). The
// concrete
// backend (epoll/kqueue/poll/select) is selected at build time through Go
// build tags on separate files, mirroring a PollBackend-style
// configuration table and gnet's own per-OS poller split.
package netpoll

import "context"

// Socket is the callback target the reactor invokes once an fd becomes
// ready. Every specialized endpoint (Connection, DgramSocket, listener)
// implements this directly rather than being reached through a reinterpret
// cast.
type Socket interface {
	OnReadable() error
	OnWritable() error
}

// Poller is the reactor contract. Exactly one Poller backs a given set of
// related endpoints (a TcpServer's listener+client containers, a TcpClient,
// a standalone DgramSocket); user callbacks run synchronously inside Poll.
type Poller interface {
	// Add registers fd with default interest = read. A duplicate fd is
	// rejected silently (no error, no second entry).
	Add(fd int, s Socket) error

	// Remove unregisters fd. No-op if fd is not currently registered.
	Remove(fd int) error

	// SetWantRead flips the read-interest bit for fd.
	SetWantRead(fd int, on bool) error

	// SetWantWrite flips the write-interest bit for fd.
	SetWantWrite(fd int, on bool) error

	// Empty reports whether no fd is currently registered.
	Empty() bool

	// Count reports the number of fds currently registered.
	Count() int

	// Epoch returns the current mutation counter, bumped on every Add or
	// Remove. Poll uses this to detect that a callback invalidated the
	// interest set mid-round.
	Epoch() uint16

	// Poll blocks for at most timeoutMS milliseconds (-1 blocks
	// indefinitely, 0 does not block) waiting for at least one fd to
	// become ready, then dispatches readable/writable callbacks, stopping
	// the round once a callback changes the epoch. Ready fds are visited
	// in the order the backend reports them: epoll_wait's order for the
	// epoll backend, kevent's for kqueue, and record-slice order for the
	// poll/select backends, where Remove moves the last record into the
	// removed slot. Registration order is not guaranteed.
	// Readiness-primitive errors are returned to the
	// caller; per-fd I/O errors are the callback's own responsibility to
	// surface (typically through an ERROR action).
	Poll(ctx context.Context, timeoutMS int) error

	// Close releases any OS resources held by the poller (epoll/kqueue
	// fd). It does not close any registered socket fd.
	Close() error
}

// New constructs the build-selected default Poller implementation for the
// current platform.
func New() (Poller, error) {
	return newPoller()
}

// pollRecord is the single per-fd record shared by the poll(2) and
// select(2) fallback backends — one slice of records rather than separate
// parallel slices kept in lockstep.
type pollRecord struct {
	fd        int
	sock      Socket
	wantRead  bool
	wantWrite bool
}
