package httpx

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

const readChunkSize = 4096

// ClientConn drives one outbound exchange at a time over a pooled
// connection. Available ⇔ no exchange in flight ∧ keep-alive still holds.
type ClientConn struct {
	Conn
	busy     bool
	leftover []byte
}

func newClientConn(stream net.Conn) *ClientConn {
	c := &ClientConn{Conn: newConn(stream)}
	return c
}

// available is checked under the owning Client's lock.
func (c *ClientConn) available() bool {
	return !c.busy && c.keepAlive && !c.Released()
}

// do writes the serialized request and reads one complete response.
// Errors are classified per the client taxonomy; any error leaves the
// stream closed. The busy flag is managed by the owning Client.
func (c *ClientConn) do(req *Request, timeout time.Duration) (*Response, error) {
	addr := ""
	if c.peer != nil {
		addr = c.peer.String()
	}
	if c.Released() {
		return nil, newError(KindClosing, "send request", addr, nil)
	}

	if timeout > 0 {
		c.stream.SetDeadline(time.Now().Add(timeout))
		defer func() {
			if !c.Released() {
				c.stream.SetDeadline(time.Time{})
			}
		}()
	}

	if err := writeAll(c.stream, req.Bytes()); err != nil {
		c.Shutdown()
		return nil, classify(err, "write request", addr)
	}

	res := NewResponse(0)
	buf := make([]byte, readChunkSize)
	for !res.IsComplete() {
		chunk := buf
		n := len(c.leftover)
		if n > 0 {
			chunk = c.leftover
			c.leftover = nil
		} else {
			var err error
			n, err = c.stream.Read(buf)
			if err != nil && n == 0 {
				c.Shutdown()
				return nil, classify(err, "read response", addr)
			}
		}
		consumed, err := res.Parse(chunk[:n])
		if err != nil {
			c.Shutdown()
			return nil, newError(KindInvalid, "parse response", addr, err)
		}
		if consumed < n {
			c.leftover = append([]byte(nil), chunk[consumed:n]...)
		}
	}

	if !res.KeepsAlive() {
		c.keepAlive = false
		c.Shutdown()
	}
	return res, nil
}

// classify maps a raw stream error onto the client error taxonomy: a
// fired deadline is a timeout, everything else that ends the stream
// before the response completes is a no-reply.
func classify(err error, op, addr string) *Error {
	var nerr net.Error
	if (errors.As(err, &nerr) && nerr.Timeout()) || errors.Is(err, os.ErrDeadlineExceeded) {
		return newError(KindTimeout, op, addr, err)
	}
	return newError(KindNoReply, op, addr, err)
}

func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
