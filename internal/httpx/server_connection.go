package httpx

import (
	"net"
	"strings"
	"sync/atomic"
	"time"
)

const serverReadChunk = 2048

// serverConn receives requests on one inbound stream and hands each
// completed one to the server's handler.
type serverConn struct {
	Conn
	srv *Server
	idx int

	req       *Request
	idleSince atomic.Int64
}

func newServerConn(srv *Server, stream net.Conn, idx int) *serverConn {
	sc := &serverConn{Conn: newConn(stream), srv: srv, idx: idx}
	sc.req = NewRequest("")
	sc.touch()
	return sc
}

func (sc *serverConn) touch() {
	sc.idleSince.Store(time.Now().UnixNano())
}

func (sc *serverConn) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, sc.idleSince.Load()))
}

// run is the per-connection read loop; it exits when the stream closes,
// a parse fails, or an exchange ends without keep-alive.
func (sc *serverConn) run() {
	defer sc.srv.closeConn(sc)

	buf := make([]byte, serverReadChunk)
	for {
		n, err := sc.stream.Read(buf)
		if err != nil && n == 0 {
			return
		}
		chunk := buf[:n]
		for {
			consumed, perr := sc.req.Parse(chunk)
			if perr != nil {
				sc.srv.statBadRequests.Inc()
				sc.respondBare(StatusBadRequest)
				return
			}
			chunk = chunk[consumed:]
			if !sc.req.IsComplete() {
				break
			}
			if !sc.handle(sc.req) {
				return
			}
			sc.req = NewRequest("")
			if len(chunk) == 0 {
				break
			}
		}
	}
}

// handle delivers one completed request; it reports whether the
// connection survives for another exchange.
func (sc *serverConn) handle(req *Request) bool {
	sc.srv.statRequests.Inc()

	res := sc.srv.createResponse(StatusOK)
	w := newResponseWriter(res, sc.stream)
	sc.srv.onRequest(req, w)
	if !w.headerSent {
		if err := w.Send(); err != nil {
			return false
		}
	}
	sc.touch()

	if strings.EqualFold(res.header.Value(fieldConnection), connectionClose) {
		sc.keepAlive = false
	}
	return sc.keepAlive
}

// respondBare writes a headers-only failure response and gives up on
// the connection.
func (sc *serverConn) respondBare(status int) {
	res := NewResponse(status)
	res.Header().SetField(fieldConnection, connectionClose)
	writeAll(sc.stream, res.Bytes())
}
