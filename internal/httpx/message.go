package httpx

import (
	"bytes"
	"strings"
)

var crlfcrlf = []byte("\r\n\r\n")

// message is the shared core of Request and Response: a header set, an
// optional body and the incremental-parse state. The pending slice holds
// bytes received before the header boundary was seen.
type message struct {
	header          Header
	body            []byte
	headersComplete bool
	pending         []byte
}

func newMessage() message {
	return message{header: NewHeader()}
}

// Header exposes the header set for mutation.
func (m *message) Header() *Header { return &m.header }

// Body returns the accumulated body bytes.
func (m *message) Body() []byte { return m.body }

// SetBody replaces the body.
func (m *message) SetBody(b []byte) { m.body = b }

// HeadersComplete reports whether the header boundary has been parsed.
func (m *message) HeadersComplete() bool { return m.headersComplete }

func (m *message) reset() {
	m.header.Clear()
	m.body = nil
	m.headersComplete = false
	m.pending = nil
}

// feed consumes bytes from chunk into the message. parseStart is invoked
// once with the start line; wantBody is consulted after the headers are
// complete for the exact body length. feed returns how many bytes of
// chunk it consumed, so the caller can carry leftovers to the next
// message on the stream.
func (m *message) feed(chunk []byte, parseStart func(string) error, wantBody func() int) (int, error) {
	consumed := 0
	if !m.headersComplete {
		m.pending = append(m.pending, chunk...)
		consumed = len(chunk)
		idx := bytes.Index(m.pending, crlfcrlf)
		if idx < 0 {
			return consumed, nil
		}
		rest := m.pending[idx+4:]
		if err := m.parseHead(string(m.pending[:idx]), parseStart); err != nil {
			return consumed, err
		}
		m.headersComplete = true
		m.pending = nil
		// Bytes past the boundary belong to the body, or to the next
		// message; hand back what the body does not claim.
		consumed -= len(rest)
		chunk = rest
	}
	want := wantBody()
	if n := want - len(m.body); n > 0 {
		n = min(n, len(chunk))
		m.body = append(m.body, chunk[:n]...)
		consumed += n
	}
	return consumed, nil
}

func (m *message) parseHead(head string, parseStart func(string) error) error {
	lines := strings.Split(head, "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return newError(KindInvalid, "parse start line", "", nil)
	}
	if err := parseStart(lines[0]); err != nil {
		return err
	}
	last := -1
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		// Folded continuation lines extend the previous value.
		if line[0] == ' ' || line[0] == '\t' {
			if last >= 0 {
				m.header.fields[last].Value += " " + strings.TrimSpace(line)
			}
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			return newError(KindInvalid, "parse header field", "", nil)
		}
		m.header.AddField(strings.TrimSpace(name), strings.TrimSpace(value))
		last = m.header.Len() - 1
	}
	if strings.Contains(strings.ToLower(m.header.Value(fieldTransferEncoding)), "chunked") {
		return newError(KindInvalid, "parse body framing", "", ErrChunkedUnsupported)
	}
	return nil
}
