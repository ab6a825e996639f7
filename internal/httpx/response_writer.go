package httpx

import (
	"net"
	"strings"
)

// ResponseWriter borrows a prefilled Response and the connection's
// stream. Once the status line and headers have been flushed, further
// writes append body bytes after the header boundary.
type ResponseWriter struct {
	res        *Response
	stream     net.Conn
	headerSent bool
}

func newResponseWriter(res *Response, stream net.Conn) *ResponseWriter {
	return &ResponseWriter{res: res, stream: stream}
}

// Header exposes the response header set.
func (w *ResponseWriter) Header() *Header { return w.res.Header() }

// Response exposes the borrowed response.
func (w *ResponseWriter) Response() *Response { return w.res }

// HeaderSent reports whether the status line and headers have been
// flushed to the stream.
func (w *ResponseWriter) HeaderSent() bool { return w.headerSent }

// SendHeader flushes the status line and headers with the given status
// code. It is a no-op after the first call.
func (w *ResponseWriter) SendHeader(status int) error {
	if w.headerSent {
		return nil
	}
	w.res.Status = status
	var sb strings.Builder
	sb.WriteString(w.res.statusLine())
	sb.WriteString("\r\n")
	w.res.header.writeTo(&sb)
	if err := writeAll(w.stream, []byte(sb.String())); err != nil {
		return err
	}
	w.headerSent = true
	return nil
}

// SendBody writes body bytes, flushing the headers first when needed.
// Before the header boundary the Content-Length is computed from this
// first chunk; later chunks stream as-is.
func (w *ResponseWriter) SendBody(data []byte) error {
	if !w.headerSent {
		w.res.header.SetContentLength(len(data))
		if err := w.SendHeader(w.res.Status); err != nil {
			return err
		}
	}
	return writeAll(w.stream, data)
}

// Send serializes the whole borrowed response in one write.
func (w *ResponseWriter) Send() error {
	if w.headerSent {
		return writeAll(w.stream, w.res.Body())
	}
	if err := writeAll(w.stream, w.res.Bytes()); err != nil {
		return err
	}
	w.headerSent = true
	return nil
}
