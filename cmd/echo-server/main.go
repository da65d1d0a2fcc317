// Command echo-server runs a TcpServer that echoes back every byte chunk
// it receives, demonstrating the reactor-driven TcpServer/Connection API.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/Ludrak/unisock"
	"github.com/Ludrak/unisock/internal/logging"
	"github.com/Ludrak/unisock/tcpsock"
)

func main() {
	host := flag.String("host", "0.0.0.0", "address to listen on")
	port := flag.Uint("port", 9000, "port to listen on")
	flag.Parse()

	_ = logging.Configure(logging.Options{Filename: "echo-server.log"})

	server, err := unisock.NewTcpServer()
	if err != nil {
		log.Fatalf("new server: %v", err)
	}

	server.On(tcpsock.TagListen, tcpsock.ListenFunc(func(l *tcpsock.Connection) {
		log.Printf("listening on %s", *host)
	}), 0)
	server.On(tcpsock.TagAccept, tcpsock.AcceptFunc(func(c *tcpsock.Connection) {
		log.Printf("accepted client fd=%d", c.FD())
	}), 0)
	server.On(tcpsock.TagDisconnect, tcpsock.DisconnectFunc(func(c *tcpsock.Connection) {
		log.Printf("client fd=%d disconnected", c.FD())
	}), 0)
	server.On(tcpsock.TagReceive, tcpsock.ReceiveFunc(func(c *tcpsock.Connection, b []byte) {
		c.Send(b)
	}), 0)
	server.On(tcpsock.TagServerError, tcpsock.ServerErrorFunc(func(op string, err error) {
		log.Printf("error during %s: %v", op, err)
	}), 0)

	if !server.Listen(*host, uint16(*port), false) {
		log.Fatalf("listen failed")
	}
	defer server.Close()

	ctx := context.Background()
	for {
		if err := unisock.Poll(ctx, server, 500*time.Millisecond); err != nil {
			log.Fatalf("poll: %v", err)
		}
	}
}
