// Package sockerr defines the sentinel errors shared by every endpoint in
// the module. Syscall-level failures are wrapped with github.com/pkg/errors
// so the originating operation survives while errors.Is still matches the
// sentinel.
package sockerr

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrServerShutdown signals that a server has been asked to stop. No
	// function in this module currently returns it.
	ErrServerShutdown = errors.New("unisock: server shutdown")

	// ErrInvalidFD is returned when an operation is attempted on a closed
	// or otherwise invalid file descriptor.
	ErrInvalidFD = errors.New("unisock: invalid file descriptor")

	// ErrEmptyListener signals that an operation required a bound listener
	// but none was ever successfully created. No function in this module
	// currently returns it.
	ErrEmptyListener = errors.New("unisock: listener not open")

	// ErrUnsupportedProtocol is returned when an address family does not
	// match any of the families this operation supports.
	ErrUnsupportedProtocol = errors.New("unisock: unsupported protocol")

	// ErrResolve is a permanent name-resolution failure.
	ErrResolve = errors.New("unisock: resolve failed")

	// ErrUnavailable signals that the maximum number of resolve retries
	// was exhausted on transient failures.
	ErrUnavailable = errors.New("unisock: resolve unavailable after retries")

	// ErrTooBig signals a resolved address or name exceeded its storage.
	ErrTooBig = errors.New("unisock: resolved value too big")

	// ErrDuplicateKey is the internal error surfaced through ERROR("insert", 0)
	// when a socket container is asked to insert an fd it already holds.
	ErrDuplicateKey = errors.New("unisock: duplicate socket key")
)

// Op wraps err with the name of the syscall or operation that produced it,
// preserving errors.Is/As against the wrapped sentinel.
func Op(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, op)
}

// Errno reports the value an ERROR action callback should receive for err.
// For syscall errors this is the underlying errno value; for everything
// else it is 0 (matching the original library's convention of emitting 0
// for internal, non-syscall errors such as duplicate-key insertion).
func Errno(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}

// String implements a debug-friendly rendering of "op: err".
func String(op string, err error) string {
	return fmt.Sprintf("%s: %v", op, err)
}
