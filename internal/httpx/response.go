package httpx

import (
	"strconv"
	"strings"
)

// Response is an HTTP response message.
type Response struct {
	message
	Version Version
	Status  int
}

// NewResponse returns an empty HTTP/1.1 response with the given status.
func NewResponse(status int) *Response {
	return &Response{message: newMessage(), Version: HTTP11, Status: status}
}

// Reset clears the response back to a reusable zero state.
func (r *Response) Reset() {
	r.message.reset()
	r.Version = Version{}
	r.Status = 0
}

// Parse feeds a chunk of bytes into the incremental parser; state
// persists across calls. The returned count is how many bytes of chunk
// belong to this response.
func (r *Response) Parse(chunk []byte) (int, error) {
	return r.feed(chunk, r.parseStatusLine, r.wantBody)
}

// IsComplete reports whether the headers are parsed and the body, when
// one is expected, has been fully received.
func (r *Response) IsComplete() bool {
	return r.headersComplete && len(r.body) >= r.wantBody()
}

func (r *Response) wantBody() int {
	if !r.headersComplete || !bodyPermitted(r.Status) {
		return 0
	}
	return r.header.ContentLength()
}

// parseStatusLine parses "HTTP/major.minor SP code SP reason".
func (r *Response) parseStatusLine(line string) error {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return newError(KindInvalid, "parse status line", "", nil)
	}
	v, err := ParseVersion(parts[0])
	if err != nil {
		return newError(KindInvalid, "parse status version", "", err)
	}
	r.Version = v
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return newError(KindInvalid, "parse status code", "", err)
	}
	r.Status = code
	return nil
}

// statusLine renders the status line without the trailing CRLF.
func (r *Response) statusLine() string {
	return r.Version.String() + " " + strconv.Itoa(r.Status) + " " + StatusText(r.Status)
}

// Bytes serializes the response for the wire; Content-Length is
// auto-computed when a body is present.
func (r *Response) Bytes() []byte {
	if len(r.body) > 0 {
		r.header.SetContentLength(len(r.body))
	}
	var sb strings.Builder
	sb.WriteString(r.statusLine())
	sb.WriteString("\r\n")
	r.header.writeTo(&sb)
	sb.Write(r.body)
	return []byte(sb.String())
}

func (r *Response) String() string { return string(r.Bytes()) }

// KeepsAlive reports whether the peer allows connection reuse after this
// response: HTTP/1.1 unless "Connection: close", HTTP/1.0 only with an
// explicit keep-alive.
func (r *Response) KeepsAlive() bool {
	conn := strings.ToLower(r.header.Value(fieldConnection))
	if strings.Contains(conn, connectionClose) {
		return false
	}
	if !r.Version.AtLeast(1, 1) {
		return strings.Contains(conn, connectionKeepAlive)
	}
	return true
}
