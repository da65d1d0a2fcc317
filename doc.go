// Package unisock provides a single-threaded, reactor-based socket
// abstraction over TCP, UDP, and raw sockets: non-blocking I/O dispatched
// through one poll loop per process (epoll on Linux, kqueue on BSD/Darwin,
// poll(2) elsewhere, or select(2) when built with the unisock_select
// build tag), with endpoints (TcpServer, TcpClient, udpsock.DgramSocket,
// rawsock.DgramSocket) exposing their lifecycle through a small ordered
// action-table dispatcher instead of callbacks registered ad hoc.
//
// Subpackages:
//
//   - netaddr: family-tagged addresses and bounded-retry DNS resolution
//   - action: the ordered, flag-annotated callback table every endpoint uses
//   - socket: the fd-ownership cell every endpoint embeds
//   - socketcontainer: the fd-keyed collection of sockets sharing a reactor
//   - tcpsock: TcpServer, TcpClient, and the underlying Connection type
//   - udpsock: the UDP DgramSocket endpoint
//   - rawsock: the SOCK_RAW DgramSocket endpoint
//   - sockerr: sentinel errors shared across the module
//
// Grounded on li-ma-gnet (github.com/panjf2000/gnet)'s eventloop.go for
// the reactor idiom, enriched with the gnet-fork lineage's dependency
// stack (go-reuseport, ants, bytebufferpool, zap+lumberjack, goframe)
// present across the retrieval pack.
package unisock
