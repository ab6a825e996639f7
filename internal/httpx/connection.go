package httpx

import (
	"net"
)

// Conn owns one bidirectional byte stream, plain or TLS-wrapped, plus
// the keep-alive flag for HTTP connection reuse. The peer address is
// fixed at construction.
type Conn struct {
	stream    net.Conn
	keepAlive bool
	peer      net.Addr
}

func newConn(stream net.Conn) Conn {
	return Conn{stream: stream, keepAlive: true, peer: stream.RemoteAddr()}
}

// Stream returns the underlying byte stream, nil once released.
func (c *Conn) Stream() net.Conn { return c.stream }

// Peer returns the remote address recorded at construction.
func (c *Conn) Peer() net.Addr { return c.peer }

// KeepAlive reports whether the connection may carry another exchange.
func (c *Conn) KeepAlive() bool { return c.keepAlive }

// SetKeepAlive updates the keep-alive flag.
func (c *Conn) SetKeepAlive(v bool) { c.keepAlive = v }

// Released reports whether the stream has been taken or closed.
func (c *Conn) Released() bool { return c.stream == nil }

// Release hands over the underlying stream, leaving the connection
// unusable.
func (c *Conn) Release() net.Conn {
	s := c.stream
	c.stream = nil
	return s
}

// Shutdown closes the underlying stream, if any.
func (c *Conn) Shutdown() {
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
}
