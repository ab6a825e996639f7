package httpx_test

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/uplink/internal/httpx"
	"github.com/irgordon/uplink/internal/stats"
)

func startServer(t *testing.T, reg *stats.Registry, handler httpx.Handler, idle time.Duration) *httpx.Server {
	t.Helper()
	srv := httpx.NewServer(testLogger(), reg)
	srv.OnRequest(handler)
	if idle > 0 {
		srv.SetIdleTimeout(idle)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.Serve(ln)
	t.Cleanup(srv.Close)
	return srv
}

func readResponse(t *testing.T, r *bufio.Reader) *httpx.Response {
	t.Helper()
	res := httpx.NewResponse(0)
	deadline := time.Now().Add(2 * time.Second)
	// Byte at a time, so bytes of a following response stay in r.
	for !res.IsComplete() {
		require.True(t, time.Now().Before(deadline), "response never completed")
		b, err := r.ReadByte()
		require.NoError(t, err)
		_, perr := res.Parse([]byte{b})
		require.NoError(t, perr)
	}
	return res
}

func TestServer_ServesRequests(t *testing.T) {
	reg := stats.NewRegistry()
	srv := startServer(t, reg, func(req *httpx.Request, w *httpx.ResponseWriter) {
		w.Response().SetBody([]byte("pong: " + req.QueryValue("tag")))
	}, 0)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /ping?tag=abc HTTP/1.1\r\nHost: t\r\n\r\n"))
	require.NoError(t, err)

	res := readResponse(t, bufio.NewReader(conn))
	assert.Equal(t, httpx.StatusOK, res.Status)
	assert.Equal(t, "pong: abc", string(res.Body()))
	assert.NotEmpty(t, res.Header().Value("Server"))
	assert.NotEmpty(t, res.Header().Value("Date"))
}

func TestServer_KeepAliveCarriesSecondExchange(t *testing.T) {
	reg := stats.NewRegistry()
	srv := startServer(t, reg, func(req *httpx.Request, w *httpx.ResponseWriter) {
		w.Response().SetBody([]byte(req.URL.Path))
	}, 0)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	conn.Write([]byte("GET /one HTTP/1.1\r\nHost: t\r\n\r\n"))
	res := readResponse(t, r)
	assert.Equal(t, "/one", string(res.Body()))

	conn.Write([]byte("GET /two HTTP/1.1\r\nHost: t\r\n\r\n"))
	res = readResponse(t, r)
	assert.Equal(t, "/two", string(res.Body()))

	assert.Equal(t, uint64(2), reg.Counter("http.requests").Value())
	assert.Equal(t, uint64(1), reg.Counter("http.accepts").Value())
}

func TestServer_PipelinedRequestsHandledInOrder(t *testing.T) {
	reg := stats.NewRegistry()
	srv := startServer(t, reg, func(req *httpx.Request, w *httpx.ResponseWriter) {
		w.Response().SetBody([]byte(req.URL.Path))
	}, 0)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	conn.Write([]byte("GET /a HTTP/1.1\r\nHost: t\r\n\r\nGET /b HTTP/1.1\r\nHost: t\r\n\r\n"))

	res := readResponse(t, r)
	assert.Equal(t, "/a", string(res.Body()))
	res = readResponse(t, r)
	assert.Equal(t, "/b", string(res.Body()))
}

func TestServer_BadRequestGets400AndClose(t *testing.T) {
	reg := stats.NewRegistry()
	srv := startServer(t, reg, func(req *httpx.Request, w *httpx.ResponseWriter) {}, 0)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.Write([]byte("THIS IS NOT HTTP\r\n\r\n"))

	res := readResponse(t, bufio.NewReader(conn))
	assert.Equal(t, httpx.StatusBadRequest, res.Status)
	assert.Equal(t, uint64(1), reg.Counter("http.bad_requests").Value())

	// The server hangs up after the failure response.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	one := make([]byte, 1)
	_, err = conn.Read(one)
	require.Error(t, err)
}

func TestServer_IdleSweeperClosesStaleConnections(t *testing.T) {
	reg := stats.NewRegistry()
	srv := startServer(t, reg, func(req *httpx.Request, w *httpx.ResponseWriter) {}, 100*time.Millisecond)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Never send anything; the sweeper should reap the connection.
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	one := make([]byte, 1)
	_, err = conn.Read(one)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "timeout", "connection should be closed by the server, not our deadline")

	waitFor(t, func() bool { return srv.ConnectedClients() == 0 })
	assert.Equal(t, uint64(1), reg.Counter("http.timeouts").Value())
}

func TestServer_ResponseWriterStreamsBodyAfterHeaders(t *testing.T) {
	reg := stats.NewRegistry()
	srv := startServer(t, reg, func(req *httpx.Request, w *httpx.ResponseWriter) {
		w.Header().SetContentLength(10)
		require.NoError(t, w.SendHeader(httpx.StatusOK))
		w.SendBody([]byte("01234"))
		w.SendBody([]byte("56789"))
	}, 0)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.Write([]byte("GET /stream HTTP/1.1\r\nHost: t\r\n\r\n"))
	res := readResponse(t, bufio.NewReader(conn))
	assert.Equal(t, "0123456789", string(res.Body()))
}

func TestServer_ClosedConnectionsReleaseSlots(t *testing.T) {
	reg := stats.NewRegistry()
	srv := startServer(t, reg, func(req *httpx.Request, w *httpx.ResponseWriter) {
		w.Header().SetField("Connection", "close")
	}, 0)

	for i := 0; i < 3; i++ {
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		conn.Write([]byte("GET / HTTP/1.1\r\nHost: t\r\n\r\n"))
		readResponse(t, bufio.NewReader(conn))
		conn.Close()
		waitFor(t, func() bool { return srv.ConnectedClients() == 0 })
	}
	assert.Equal(t, uint64(3), reg.Counter("http.accepts").Value())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}
