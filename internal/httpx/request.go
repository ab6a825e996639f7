package httpx

import (
	"net/url"
	"strings"
)

// Request is an HTTP request message.
type Request struct {
	message
	Method  Method
	URL     *url.URL
	Version Version
}

// NewRequest returns an empty request with the given method and HTTP/1.1.
func NewRequest(method Method) *Request {
	return &Request{message: newMessage(), Method: method, Version: HTTP11}
}

// Reset clears the request back to a reusable zero state.
func (r *Request) Reset() {
	r.message.reset()
	r.Method = ""
	r.URL = nil
	r.Version = Version{}
}

// Parse feeds a chunk of bytes into the incremental parser. State
// persists across calls; check IsComplete after each feed. The returned
// count is how many bytes of chunk belong to this request, so a caller
// multiplexing a keep-alive stream can start the next request at the
// leftover.
func (r *Request) Parse(chunk []byte) (int, error) {
	return r.feed(chunk, r.parseRequestLine, r.wantBody)
}

// IsComplete reports whether the headers are parsed and the body, when
// one is expected, has been fully received.
func (r *Request) IsComplete() bool {
	return r.headersComplete && len(r.body) >= r.wantBody()
}

func (r *Request) wantBody() int {
	if !r.headersComplete || !r.Method.PermitsBody() {
		return 0
	}
	// Absent header means no body; present with 0 means an empty body.
	return r.header.ContentLength()
}

// parseRequestLine parses "METHOD SP target SP HTTP/major.minor".
func (r *Request) parseRequestLine(line string) error {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return newError(KindInvalid, "parse request line", "", nil)
	}
	r.Method = ParseMethod(parts[0])
	if r.Method == MethodInvalid {
		return newError(KindInvalid, "parse request method", "", nil)
	}
	u, err := url.ParseRequestURI(parts[1])
	if err != nil {
		return newError(KindInvalid, "parse request target", "", err)
	}
	r.URL = u
	v, err := ParseVersion(parts[2])
	if err != nil {
		return newError(KindInvalid, "parse request version", "", err)
	}
	r.Version = v
	return nil
}

// Bytes serializes the request for the wire. Host is auto-filled from
// the URL when absent and Content-Length is auto-computed when a body is
// present.
func (r *Request) Bytes() []byte {
	if r.URL != nil && r.URL.Host != "" && !r.header.HasField(fieldHost) {
		r.header.SetField(fieldHost, r.URL.Host)
	}
	if len(r.body) > 0 {
		r.header.SetContentLength(len(r.body))
	}

	var sb strings.Builder
	sb.WriteString(string(r.Method))
	sb.WriteByte(' ')
	if r.URL != nil {
		sb.WriteString(RequestTarget(r.URL))
	} else {
		sb.WriteByte('/')
	}
	sb.WriteByte(' ')
	sb.WriteString(r.Version.String())
	sb.WriteString("\r\n")
	r.header.writeTo(&sb)
	sb.Write(r.body)
	return []byte(sb.String())
}

func (r *Request) String() string { return string(r.Bytes()) }

// QueryValue returns the value following "name=" in the URI query, up to
// "&" or end of string.
func (r *Request) QueryValue(name string) string {
	if r.URL == nil {
		return ""
	}
	return scanPair(r.URL.RawQuery, name)
}

// PostValue performs the analogous scan on the body for POST requests.
func (r *Request) PostValue(name string) string {
	if r.Method != MethodPost {
		return ""
	}
	return scanPair(string(r.body), name)
}

// scanPair finds "name=value" in an urlencoded pair list.
func scanPair(s, name string) string {
	for s != "" {
		var pair string
		pair, s, _ = strings.Cut(s, "&")
		k, v, ok := strings.Cut(pair, "=")
		if ok && k == name {
			return v
		}
	}
	return ""
}
