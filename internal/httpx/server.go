package httpx

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/irgordon/uplink/internal/stats"
)

// DefaultIdleTimeout is how long a server connection may sit between
// exchanges before the sweeper closes it. Zero disables sweeping.
const DefaultIdleTimeout = 60 * time.Second

const serverName = "uplink-httpd"

const dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Handler is invoked for every completed request with a writer whose
// response is prefilled with Server, Date and a 200 status.
type Handler func(*Request, *ResponseWriter)

// Server accepts HTTP/1.1 connections on a port and tracks them in an
// indexed set with free-slot reuse. An idle sweeper closes connections
// inactive past the configured threshold.
type Server struct {
	mu      sync.Mutex
	ln      net.Listener
	conns   []*serverConn
	freeIdx []int
	done    chan struct{}

	onRequest   Handler
	idleTimeout time.Duration
	logger      *slog.Logger

	statAccepts     *stats.Counter
	statRequests    *stats.Counter
	statBadRequests *stats.Counter
	statTimeouts    *stats.Counter
}

// NewServer returns a server publishing its counters into reg. The
// handler must be installed with OnRequest before Listen.
func NewServer(logger *slog.Logger, reg *stats.Registry) *Server {
	return &Server{
		done:            make(chan struct{}),
		idleTimeout:     DefaultIdleTimeout,
		logger:          logger,
		statAccepts:     reg.Counter("http.accepts"),
		statRequests:    reg.Counter("http.requests"),
		statBadRequests: reg.Counter("http.bad_requests"),
		statTimeouts:    reg.Counter("http.timeouts"),
	}
}

// OnRequest installs the request handler.
func (s *Server) OnRequest(h Handler) { s.onRequest = h }

// SetIdleTimeout overrides the idle threshold; call before Listen.
func (s *Server) SetIdleTimeout(d time.Duration) { s.idleTimeout = d }

// Listen binds a TCP listener on the port and starts accepting.
func (s *Server) Listen(port uint16) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on %d: %w", port, err)
	}
	s.Serve(ln)
	return nil
}

// Serve starts accepting on an existing listener (handy for :0 in
// tests). It does not block.
func (s *Server) Serve(ln net.Listener) {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go s.acceptLoop(ln)
	if s.idleTimeout > 0 {
		go s.sweep()
	}
	s.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		stream, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Error("accept failed", slog.String("error", err.Error()))
			}
			return
		}
		s.statAccepts.Inc()
		s.connect(stream)
	}
}

// connect indexes a new server connection, reusing a freed slot when one
// exists, and starts its read loop.
func (s *Server) connect(stream net.Conn) {
	s.mu.Lock()
	var idx int
	if n := len(s.freeIdx); n > 0 {
		idx = s.freeIdx[n-1]
		s.freeIdx = s.freeIdx[:n-1]
	} else {
		idx = len(s.conns)
		s.conns = append(s.conns, nil)
	}
	sc := newServerConn(s, stream, idx)
	s.conns[idx] = sc
	s.mu.Unlock()

	go sc.run()
}

// closeConn releases a connection's slot onto the free list.
func (s *Server) closeConn(sc *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc.Shutdown()
	if sc.idx < len(s.conns) && s.conns[sc.idx] == sc {
		s.conns[sc.idx] = nil
		s.freeIdx = append(s.freeIdx, sc.idx)
	}
}

// ConnectedClients returns the number of live connections.
func (s *Server) ConnectedClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns) - len(s.freeIdx)
}

// sweep re-arms a one-shot timer and closes connections whose idle time
// exceeds the threshold.
func (s *Server) sweep() {
	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-timer.C:
			s.mu.Lock()
			victims := make([]net.Conn, 0)
			for _, sc := range s.conns {
				if sc != nil && !sc.Released() && sc.idleFor(now) > s.idleTimeout {
					victims = append(victims, sc.stream)
				}
			}
			s.mu.Unlock()
			for _, stream := range victims {
				s.statTimeouts.Inc()
				// Closing the stream unblocks the connection's read
				// loop, which releases the slot.
				stream.Close()
			}
			timer.Reset(s.idleTimeout)
		}
	}
}

// createResponse prefills the standard server headers.
func (s *Server) createResponse(status int) *Response {
	res := NewResponse(status)
	res.Header().SetField(fieldServer, serverName)
	res.Header().SetField(fieldDate, time.Now().UTC().Format(dateLayout))
	res.Header().SetField(fieldConnection, connectionKeepAlive)
	return res
}

// Close stops the listener and shuts every connection down.
func (s *Server) Close() {
	close(s.done)
	s.mu.Lock()
	ln := s.ln
	streams := make([]net.Conn, 0, len(s.conns))
	for _, sc := range s.conns {
		if sc != nil && !sc.Released() {
			streams = append(streams, sc.stream)
		}
	}
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	for _, stream := range streams {
		stream.Close()
	}
}
