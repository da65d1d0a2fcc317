// Package socketcontainer implements the keyed collection of sockets
// sharing one reactor.
//
// Grounded on includes/socket/socket_container.hpp's make/delete_socket/
// close contract, redesigned to avoid the cyclic container<->socket
// reference graph the original builds: here the container is a plain Go
// map keyed by the stable integer fd, and the reactor holds only a
// netpoll.Socket interface value, never a pointer punned from a different
// owner type.
package socketcontainer

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/Ludrak/unisock/action"
	"github.com/Ludrak/unisock/sockerr"
)

// Entity is the constraint every socket type stored in a Container must
// satisfy: a stable fd-shaped key and a way to close itself.
type Entity interface {
	FD() int
	Close() (bool, error)
}

// Container is a generic, fd-keyed set of sockets that all share one
// reactor. TcpServer and TcpClient compose it to hold their listener or
// connection sockets; udpsock and rawsock DgramSockets do not use it.
type Container[S Entity] struct {
	mu      sync.Mutex
	sockets map[int]S

	// onInsertError is invoked (through the owning endpoint's own action
	// table) when Make's internal bookkeeping detects a duplicate key —
	// an invariant violation, never expected in normal operation.
	onInsertError func(op string, errno int)
}

// New constructs an empty Container. onInsertError may be nil; if non-nil
// it is called with ("insert", 0) on the internal-error path described in
// a fd-keyed container.
func New[S Entity](onInsertError func(op string, errno int)) *Container[S] {
	return &Container[S]{sockets: make(map[int]S), onInsertError: onInsertError}
}

// Make constructs a new socket via newSocket, inserts it keyed by its fd,
// and wires a close-time erase hook on its CLOSED action so removal from
// this Container is always the last act of Close. Make does not register
// the socket with the reactor; the caller calls Register on the returned
// socket once its pipeline (bind/listen/connect) has succeeded.
//
// wireCloseHook is supplied by the caller because the concrete CLOSED
// action tag/table type differs per endpoint (tcpsock.Connection's vs
// udpsock.DgramSocket's); Container only needs to know how to ask the
// socket to notify it right before the fd disappears.
func (c *Container[S]) Make(newSocket func() (S, error), wireCloseHook func(s S, onClosed func())) (S, error) {
	var zero S
	s, err := newSocket()
	if err != nil {
		return zero, err
	}

	fd := s.FD()

	c.mu.Lock()
	if _, exists := c.sockets[fd]; exists {
		c.mu.Unlock()
		if c.onInsertError != nil {
			c.onInsertError("insert", 0)
		}
		return zero, sockerr.ErrDuplicateKey
	}
	c.sockets[fd] = s
	c.mu.Unlock()

	wireCloseHook(s, func() {
		c.mu.Lock()
		delete(c.sockets, fd)
		c.mu.Unlock()
	})

	return s, nil
}

// Find returns the socket keyed by fd, or the zero value and false if
// absent.
func (c *Container[S]) Find(fd int) (S, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sockets[fd]
	return s, ok
}

// FindFunc returns the first socket matching predicate, or the zero value
// and false if none match.
func (c *Container[S]) FindFunc(predicate func(S) bool) (S, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sockets {
		if predicate(s) {
			return s, true
		}
	}
	var zero S
	return zero, false
}

// Each calls fn for every socket currently held. fn must not mutate the
// Container directly (it may call Close on the socket it's given, which
// self-erases through the close hook).
func (c *Container[S]) Each(fn func(S)) {
	c.mu.Lock()
	snapshot := make([]S, 0, len(c.sockets))
	for _, s := range c.sockets {
		snapshot = append(snapshot, s)
	}
	c.mu.Unlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// Len reports how many sockets this Container currently holds.
func (c *Container[S]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sockets)
}

// CloseAll repeatedly takes an arbitrary entry and closes it — which
// self-erases through the Make-time hook — until the Container is empty,
// aggregating every close error via go.uber.org/multierr rather than
// dropping all but the first.
func (c *Container[S]) CloseAll() error {
	var err error
	for {
		c.mu.Lock()
		var any S
		found := false
		for _, s := range c.sockets {
			any = s
			found = true
			break
		}
		c.mu.Unlock()
		if !found {
			return err
		}
		if _, closeErr := any.Close(); closeErr != nil {
			err = multierr.Append(err, closeErr)
		}
	}
}

// WireQueueEndStopAfterFlags returns the QueueEnd|StopAfter flags tcpsock
// uses when attaching the Container's erase hook to a CLOSED action.Table,
// so removal from the keyed set always runs last, after every other
// CLOSED callback.
func WireQueueEndStopAfterFlags() action.Flag {
	return action.QueueEnd | action.StopAfter
}
