package httpx

import (
	"strconv"
	"strings"
)

// DefaultFieldLimit caps how many fields a Header accepts unless a
// different limit is given at construction.
const DefaultFieldLimit = 25

// Field is one name/value pair in a header set.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered set of fields with case-insensitive lookup and a
// bounded capacity enforced on insert.
type Header struct {
	fields []Field
	limit  int
}

// NewHeader returns a header set limited to DefaultFieldLimit fields.
func NewHeader() Header {
	return NewHeaderLimit(DefaultFieldLimit)
}

// NewHeaderLimit returns a header set that accepts at most limit fields.
func NewHeaderLimit(limit int) Header {
	return Header{fields: make([]Field, 0, min(limit, DefaultFieldLimit)), limit: limit}
}

func (h *Header) find(name string) int {
	for i, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// AddField appends a field unconditionally. It reports false when the
// set is full.
func (h *Header) AddField(name, value string) bool {
	if len(h.fields) >= h.limit {
		return false
	}
	h.fields = append(h.fields, Field{name, value})
	return true
}

// SetField upserts a field by case-insensitive name match.
func (h *Header) SetField(name, value string) bool {
	if i := h.find(name); i >= 0 {
		h.fields[i].Value = value
		return true
	}
	return h.AddField(name, value)
}

// HasField reports whether the set contains a field with the given name.
func (h *Header) HasField(name string) bool {
	return h.find(name) >= 0
}

// Value returns the value of the first field matching name, or "".
func (h *Header) Value(name string) string {
	if i := h.find(name); i >= 0 {
		return h.fields[i].Value
	}
	return ""
}

// Erase removes every field matching name.
func (h *Header) Erase(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Clear removes all fields.
func (h *Header) Clear() {
	h.fields = h.fields[:0]
}

// Len returns the number of fields in the set.
func (h *Header) Len() int { return len(h.fields) }

// IsEmpty reports whether the set has no fields.
func (h *Header) IsEmpty() bool { return len(h.fields) == 0 }

// Fields returns the fields in insertion order.
func (h *Header) Fields() []Field { return h.fields }

// ContentLength returns the integer value of the Content-Length field.
// Absent or unparseable values yield 0.
func (h *Header) ContentLength() int {
	v := h.Value(fieldContentLength)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SetContentLength upserts the Content-Length field.
func (h *Header) SetContentLength(n int) bool {
	return h.SetField(fieldContentLength, strconv.Itoa(n))
}

// writeTo serializes the set as "name: value\r\n" lines followed by the
// terminating CRLF.
func (h *Header) writeTo(sb *strings.Builder) {
	for _, f := range h.fields {
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
}

// Well-known field names.
const (
	fieldContentLength     = "Content-Length"
	fieldContentType       = "Content-Type"
	fieldConnection        = "Connection"
	fieldHost              = "Host"
	fieldLocation          = "Location"
	fieldServer            = "Server"
	fieldDate              = "Date"
	fieldTransferEncoding  = "Transfer-Encoding"
	connectionKeepAlive    = "keep-alive"
	connectionClose        = "close"
)
