package httpx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/uplink/internal/httpx"
)

func TestResponse_ParseWithBody(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nServer: test\r\n\r\nhello")

	res := httpx.NewResponse(0)
	n, err := res.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	require.True(t, res.IsComplete())

	assert.Equal(t, httpx.StatusOK, res.Status)
	assert.Equal(t, httpx.HTTP11, res.Version)
	assert.Equal(t, "hello", string(res.Body()))
}

func TestResponse_NoContentNeverExpectsBody(t *testing.T) {
	// Content-Length on a 204 is informational only.
	raw := []byte("HTTP/1.1 204 No Content\r\nContent-Length: 10\r\n\r\n")

	res := httpx.NewResponse(0)
	_, err := res.Parse(raw)
	require.NoError(t, err)
	assert.True(t, res.IsComplete())
	assert.Empty(t, res.Body())
}

func TestResponse_AbsentContentLengthMeansNoBody(t *testing.T) {
	res := httpx.NewResponse(0)
	_, err := res.Parse([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	require.NoError(t, err)
	assert.True(t, res.IsComplete())

	// Explicit zero is also a valid empty body.
	res2 := httpx.NewResponse(0)
	_, err = res2.Parse([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)
	assert.True(t, res2.IsComplete())
}

func TestResponse_KeepAliveSemantics(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"http11 default", "HTTP/1.1 200 OK\r\n\r\n", true},
		{"http11 close", "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n", false},
		{"http10 default", "HTTP/1.0 200 OK\r\n\r\n", false},
		{"http10 keep-alive", "HTTP/1.0 200 OK\r\nConnection: keep-alive\r\n\r\n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := httpx.NewResponse(0)
			_, err := res.Parse([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.KeepsAlive())
		})
	}
}

func TestResponse_ParseRejectsGarbage(t *testing.T) {
	res := httpx.NewResponse(0)
	_, err := res.Parse([]byte("not an http response\r\n\r\n"))
	require.Error(t, err)
	assert.Equal(t, httpx.KindInvalid, httpx.ErrKind(err))
}

func TestResponse_SerializeRoundTrip(t *testing.T) {
	res := httpx.NewResponse(httpx.StatusNotFound)
	res.Header().SetField("Server", "test")
	res.SetBody([]byte("missing"))

	parsed := httpx.NewResponse(0)
	_, err := parsed.Parse(res.Bytes())
	require.NoError(t, err)
	require.True(t, parsed.IsComplete())

	assert.Equal(t, httpx.StatusNotFound, parsed.Status)
	assert.Equal(t, "missing", string(parsed.Body()))
	assert.Equal(t, "7", parsed.Header().Value("Content-Length"))
}
