package httpx_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/uplink/internal/httpx"
)

func parseURL(s string) (*url.URL, error) { return url.Parse(s) }

func TestRequest_ParseSimple(t *testing.T) {
	raw := []byte("GET /status?verbose=1 HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n")

	req := httpx.NewRequest("")
	n, err := req.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	require.True(t, req.IsComplete())

	assert.Equal(t, httpx.MethodGet, req.Method)
	assert.Equal(t, "/status", req.URL.Path)
	assert.Equal(t, httpx.HTTP11, req.Version)
	assert.Equal(t, "example.com", req.Header().Value("host"))
	assert.Equal(t, "1", req.QueryValue("verbose"))
}

func TestRequest_ParseIncremental(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello"

	// Every split point must yield the same result as one shot.
	for cut := 1; cut < len(raw); cut++ {
		req := httpx.NewRequest("")
		_, err := req.Parse([]byte(raw[:cut]))
		require.NoError(t, err, "cut=%d", cut)
		_, err = req.Parse([]byte(raw[cut:]))
		require.NoError(t, err, "cut=%d", cut)

		require.True(t, req.IsComplete(), "cut=%d", cut)
		assert.Equal(t, httpx.MethodPost, req.Method)
		assert.Equal(t, "hello", string(req.Body()))
	}
}

func TestRequest_ParseRejectsUnknownMethod(t *testing.T) {
	req := httpx.NewRequest("")
	_, err := req.Parse([]byte("BREW /pot HTTP/1.1\r\n\r\n"))
	require.Error(t, err)
	assert.Equal(t, httpx.KindInvalid, httpx.ErrKind(err))
}

func TestRequest_ParseRejectsChunked(t *testing.T) {
	req := httpx.NewRequest("")
	_, err := req.Parse([]byte("POST /x HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, httpx.ErrChunkedUnsupported)
}

func TestRequest_SerializeParseRoundTrip(t *testing.T) {
	req := httpx.NewRequest(httpx.MethodPost)
	var err error
	req.URL, err = parseURL("http://node.example:8080/api/v1/report?full=yes")
	require.NoError(t, err)
	req.Header().SetField("Content-Type", "application/json")
	req.SetBody([]byte(`{"ok":true}`))

	wire := req.Bytes()

	parsed := httpx.NewRequest("")
	_, perr := parsed.Parse(wire)
	require.NoError(t, perr)
	require.True(t, parsed.IsComplete())

	assert.Equal(t, req.Method, parsed.Method)
	assert.Equal(t, "/api/v1/report", parsed.URL.Path)
	assert.Equal(t, "full=yes", parsed.URL.RawQuery)
	assert.Equal(t, req.Version, parsed.Version)
	assert.Equal(t, "node.example:8080", parsed.Header().Value("Host"))
	assert.Equal(t, "11", parsed.Header().Value("Content-Length"))
	assert.Equal(t, req.Body(), parsed.Body())
}

func TestRequest_PostValue(t *testing.T) {
	raw := "POST /login HTTP/1.1\r\nContent-Length: 25\r\n\r\nuser=alice&pass=wonder%21"

	req := httpx.NewRequest("")
	_, err := req.Parse([]byte(raw))
	require.NoError(t, err)
	require.True(t, req.IsComplete())

	assert.Equal(t, "alice", req.PostValue("user"))
	assert.Equal(t, "", req.PostValue("missing"))
}

func TestRequest_Reset(t *testing.T) {
	req := httpx.NewRequest("")
	_, err := req.Parse([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)
	require.True(t, req.IsComplete())

	req.Reset()
	assert.False(t, req.HeadersComplete())
	assert.Nil(t, req.URL)
	assert.Equal(t, 0, req.Header().Len())
}
