// Command echo-client connects to an echo-server instance, sends one
// line of input, and prints whatever comes back.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Ludrak/unisock"
	"github.com/Ludrak/unisock/tcpsock"
)

func main() {
	host := flag.String("host", "127.0.0.1", "server address")
	port := flag.Uint("port", 9000, "server port")
	flag.Parse()

	client, err := unisock.NewTcpClient()
	if err != nil {
		log.Fatalf("new client: %v", err)
	}
	defer client.Close()

	done := make(chan struct{})
	client.On(tcpsock.TagConnect, tcpsock.ConnectFunc(func(c *tcpsock.Connection) {
		reader := bufio.NewReader(os.Stdin)
		fmt.Print("> ")
		line, _ := reader.ReadString('\n')
		c.Send([]byte(line))
	}), 0)
	client.On(tcpsock.TagClientReceive, tcpsock.ClientReceiveFunc(func(c *tcpsock.Connection, b []byte) {
		fmt.Printf("< %s", b)
		close(done)
	}), 0)
	client.On(tcpsock.TagClientError, tcpsock.ClientErrorFunc(func(op string, err error) {
		log.Fatalf("error during %s: %v", op, err)
	}), 0)

	if !client.Connect(*host, uint16(*port), false) {
		log.Fatalf("connect failed")
	}

	ctx := context.Background()
	for {
		select {
		case <-done:
			return
		default:
		}
		if err := unisock.Poll(ctx, client, 500*time.Millisecond); err != nil {
			log.Fatalf("poll: %v", err)
		}
	}
}
