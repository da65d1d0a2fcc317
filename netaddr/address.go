// Package netaddr implements the family-tagged address abstraction used by
// every socket endpoint in this module: a small value type wrapping a raw
// sockaddr-sized byte blob, plus hostname resolution with bounded retries.
//
// Grounded on includes/socket/socket_address.hpp (original_source) for the
// resolve/retry/family-projection semantics, written in the idiom of
// golang.org/x/sys/unix + net.Resolver the way the gnet lineage dials and
// resolves addresses in gnet.go's Connect/Serve.
package netaddr

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/Ludrak/unisock/sockerr"
)

// Family tags which sockaddr variant an Address holds.
type Family int

const (
	// Unspec is the zero-value family of a freshly constructed Address.
	Unspec Family = iota
	IPv4
	IPv6
)

// MaxResolveRetries is the default number of retries resolve operations
// attempt on a transient failure before giving up with ErrUnavailable. It
// mirrors socket_address::MAX_HOST_RESOLVE_RETRIES and is overridable per
// call via ResolveOption.
const MaxResolveRetries = 3

// rawSize is large enough to hold a sockaddr_in6 (28 bytes on Linux/BSD).
const rawSize = 28

// Address is a copyable, family-tagged address value. The zero Address has
// family Unspec. Addresses are produced by New, FromRaw, FromIPPort, or a
// Resolve* call — never mutated in place except by assignment.
type Address struct {
	family Family
	length int
	raw    [rawSize]byte
}

// New returns a zeroed Address with family Unspec.
func New() Address {
	return Address{family: Unspec}
}

// FromRaw constructs an Address from a raw platform address blob (as
// returned by accept(2)/getsockname(2) wrappers). It fails with
// sockerr.ErrTooBig if b does not fit in the fixed-size internal storage.
func FromRaw(family Family, b []byte) (Address, error) {
	if len(b) > rawSize {
		return Address{}, sockerr.ErrTooBig
	}
	var a Address
	a.family = family
	a.length = len(b)
	copy(a.raw[:], b)
	return a, nil
}

// ResolveOption customizes a single Resolve/ResolveWithPort/NameOf call.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	maxRetries int
	retryDelay time.Duration
}

func defaultResolveOptions() resolveOptions {
	return resolveOptions{maxRetries: MaxResolveRetries, retryDelay: 10 * time.Millisecond}
}

// WithMaxRetries overrides the number of retries attempted on a transient
// resolution failure.
func WithMaxRetries(n int) ResolveOption {
	return func(o *resolveOptions) { o.maxRetries = n }
}

// Resolve performs a forward name-to-address lookup, retrying up to
// MaxResolveRetries times (by default) on a transient failure. It returns
// sockerr.ErrUnavailable once retries are exhausted, sockerr.ErrResolve on
// a permanent failure, and sockerr.ErrTooBig if the resolved address would
// overflow internal storage.
func Resolve(ctx context.Context, host string, family Family, opts ...ResolveOption) (Address, error) {
	cfg := defaultResolveOptions()
	for _, o := range opts {
		o(&cfg)
	}

	network := networkFor(family)

	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		ips, err := net.DefaultResolver.LookupIP(ctx, network, host)
		if err == nil && len(ips) > 0 {
			return addressFromIP(ips[0], family)
		}
		lastErr = err
		if !isTemporary(err) {
			if err == nil {
				// Empty result set with no error: treat as permanent.
				return Address{}, sockerr.ErrResolve
			}
			return Address{}, fmt.Errorf("getaddrinfo: %w: %w", sockerr.ErrResolve, err)
		}
		select {
		case <-ctx.Done():
			return Address{}, sockerr.Op("getaddrinfo", ctx.Err())
		case <-time.After(cfg.retryDelay):
		}
	}
	_ = lastErr
	return Address{}, sockerr.ErrUnavailable
}

// ResolveWithPort resolves host as Resolve does, then overwrites the
// resolved Address's port field. It fails with sockerr.ErrResolve if the
// resolved family is neither IPv4 nor IPv6.
func ResolveWithPort(ctx context.Context, host string, port uint16, family Family, opts ...ResolveOption) (Address, error) {
	addr, err := Resolve(ctx, host, family, opts...)
	if err != nil {
		return Address{}, err
	}
	if addr.family != IPv4 && addr.family != IPv6 {
		return Address{}, sockerr.ErrResolve
	}
	setPort(&addr, port)
	return addr, nil
}

// NameOf performs a reverse address-to-name lookup with the same retry
// discipline as Resolve.
func NameOf(ctx context.Context, addr Address, opts ...ResolveOption) (string, error) {
	cfg := defaultResolveOptions()
	for _, o := range opts {
		o(&cfg)
	}

	ip, ok := ipOf(addr)
	if !ok {
		return "", sockerr.ErrUnsupportedProtocol
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		names, err := net.DefaultResolver.LookupAddr(ctx, ip.String())
		if err == nil && len(names) > 0 {
			return names[0], nil
		}
		lastErr = err
		if !isTemporary(err) {
			if err == nil {
				return "", sockerr.ErrResolve
			}
			return "", sockerr.Op("getnameinfo", err)
		}
		select {
		case <-ctx.Done():
			return "", sockerr.Op("getnameinfo", ctx.Err())
		case <-time.After(cfg.retryDelay):
		}
	}
	_ = lastErr
	return "", sockerr.ErrUnavailable
}

// IPString renders addr in numeric form. It fails for non-IP families.
func IPString(addr Address) (string, error) {
	ip, ok := ipOf(addr)
	if !ok {
		return "", sockerr.ErrUnsupportedProtocol
	}
	return ip.String(), nil
}

// Port returns the port stored in addr, converted from network to host
// byte order. Non-IP families always report 0.
func Port(addr Address) uint16 {
	if addr.family != IPv4 && addr.family != IPv6 {
		return 0
	}
	off := portOffset(addr.family)
	return binary.BigEndian.Uint16(addr.raw[off : off+2])
}

// FamilyOf returns addr's family tag.
func FamilyOf(addr Address) Family { return addr.family }

// Size returns the number of meaningful bytes addr's raw storage holds.
func Size(addr Address) int { return addr.length }

// AsIPv4 projects addr as an IPv4 netip.Addr. ok is false when addr's
// family tag is not IPv4.
func AsIPv4(addr Address) (netip.Addr, bool) {
	if addr.family != IPv4 {
		return netip.Addr{}, false
	}
	var b [4]byte
	copy(b[:], addr.raw[4:8])
	return netip.AddrFrom4(b), true
}

// AsIPv6 projects addr as an IPv6 netip.Addr. ok is false when addr's
// family tag is not IPv6.
func AsIPv6(addr Address) (netip.Addr, bool) {
	if addr.family != IPv6 {
		return netip.Addr{}, false
	}
	var b [16]byte
	copy(b[:], addr.raw[8:24])
	return netip.AddrFrom16(b), true
}

// FromIPPort builds an Address directly from a netip.Addr and a host-order
// port, tagging it with family. This is the constructor endpoints use to
// turn a unix.Sockaddr from accept(2)/recvfrom(2) into an Address without
// reaching into this package's internal raw layout.
func FromIPPort(ip netip.Addr, port uint16, family Family) Address {
	var a Address
	a.family = family
	switch family {
	case IPv4:
		a.length = 16
		b := ip.As4()
		copy(a.raw[4:8], b[:])
	case IPv6:
		a.length = 28
		b := ip.As16()
		copy(a.raw[8:24], b[:])
	}
	setPort(&a, port)
	return a
}

// setPort overwrites addr's port field in place, in network byte order.
func setPort(addr *Address, port uint16) {
	off := portOffset(addr.family)
	binary.BigEndian.PutUint16(addr.raw[off:off+2], port)
}

func portOffset(family Family) int {
	// Both sockaddr_in and sockaddr_in6 place sin_port at the same offset
	// on every platform this module targets: family(2) + port(2).
	if family == IPv4 || family == IPv6 {
		return 2
	}
	return 0
}

func networkFor(family Family) string {
	switch family {
	case IPv4:
		return "ip4"
	case IPv6:
		return "ip6"
	default:
		return "ip"
	}
}

func addressFromIP(ip net.IP, family Family) (Address, error) {
	var a Address
	if v4 := ip.To4(); v4 != nil && family != IPv6 {
		a.family = IPv4
		a.length = 16 // sizeof(sockaddr_in)
		a.raw[0] = byte(IPv4)
		copy(a.raw[4:8], v4)
		return a, nil
	}
	if v6 := ip.To16(); v6 != nil {
		a.family = IPv6
		a.length = 28 // sizeof(sockaddr_in6)
		a.raw[0] = byte(IPv6)
		copy(a.raw[8:24], v6)
		return a, nil
	}
	return Address{}, sockerr.ErrTooBig
}

func ipOf(addr Address) (netip.Addr, bool) {
	switch addr.family {
	case IPv4:
		return AsIPv4(addr)
	case IPv6:
		return AsIPv6(addr)
	default:
		return netip.Addr{}, false
	}
}

func isTemporary(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		return netErr.Timeout()
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
