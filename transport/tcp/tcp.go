// Package tcp implements the plain-TCP OpenWebNet transport (spec §4.3).
package tcp

import (
	"context"
	"fmt"
	"net"

	"go.openwebnet.dev/gateway/transport"
)

// alias it to a private type so we can make it private when embedding, the
// same trick the teacher uses for its ssh/tls transports.
type framer = transport.Framer

// Transport implements transport.Transport over a plain TCP socket.
type Transport struct {
	conn net.Conn
	*framer
}

// Dial connects to addr (host:port) and returns a ready Transport. When the
// Transport is closed the underlying connection is closed too.
func Dial(ctx context.Context, addr string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	return NewTransport(conn), nil
}

// NewTransport wraps an already-connected net.Conn.
func NewTransport(conn net.Conn) *Transport {
	return &Transport{
		conn:   conn,
		framer: transport.NewFramer(conn, conn),
	}
}

// Close closes the underlying TCP connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}
