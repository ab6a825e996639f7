// Package transport implements the framed binary protocol the uplink
// speaks over its WebSocket: a 5-byte packed header (one code byte and a
// little-endian uint32 cargo length) followed by the cargo itself.
package transport

import (
	"encoding/binary"
	"fmt"
)

// Code identifies the meaning of a frame's cargo.
type Code uint8

const (
	CodeIdent   Code = 1
	CodeLog     Code = 2
	CodeUpdate  Code = 5
	CodeAppdata Code = 6
	CodePanic   Code = 7
	CodeStats   Code = 8
	CodeUplink  Code = 9
	CodeError   Code = 255
)

func (c Code) String() string {
	switch c {
	case CodeIdent:
		return "ident"
	case CodeLog:
		return "log"
	case CodeUpdate:
		return "update"
	case CodeAppdata:
		return "appdata"
	case CodePanic:
		return "panic"
	case CodeStats:
		return "stats"
	case CodeUplink:
		return "uplink"
	case CodeError:
		return "error"
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// HeaderSize is the fixed length of the wire header.
const HeaderSize = 5

// MaxCargo is the largest length the u32 header field can carry.
const MaxCargo = 1<<32 - 1

// Frame is one header+cargo unit, stored contiguously as it appears on
// the wire.
type Frame struct {
	data []byte
}

// New allocates a frame for the given code with room reserved for
// length cargo bytes. Cargo is appended with Load.
func New(code Code, length uint32) *Frame {
	data := make([]byte, HeaderSize, HeaderSize+int(length))
	data[0] = byte(code)
	binary.LittleEndian.PutUint32(data[1:], length)
	return &Frame{data: data}
}

// Encode builds a complete frame around the payload in one step.
func Encode(code Code, cargo []byte) []byte {
	f := New(code, uint32(len(cargo)))
	f.Load(cargo)
	return f.data
}

// Decode splits a complete wire frame back into code and cargo. The
// input must contain exactly one frame.
func Decode(b []byte) (Code, []byte, error) {
	if len(b) < HeaderSize {
		return 0, nil, fmt.Errorf("transport: short frame (%d bytes)", len(b))
	}
	length := binary.LittleEndian.Uint32(b[1:])
	if uint64(len(b)-HeaderSize) != uint64(length) {
		return 0, nil, fmt.Errorf("transport: length %d does not match cargo %d", length, len(b)-HeaderSize)
	}
	return Code(b[0]), b[HeaderSize:], nil
}

// Load appends cargo bytes, up to the length declared in the header.
func (f *Frame) Load(cargo []byte) {
	if room := f.remaining(); len(cargo) > room {
		cargo = cargo[:room]
	}
	f.data = append(f.data, cargo...)
}

func (f *Frame) remaining() int {
	return int(f.Length()) - f.CargoLen()
}

// Code returns the frame's code byte.
func (f *Frame) Code() Code { return Code(f.data[0]) }

// Length returns the cargo length declared by the header.
func (f *Frame) Length() uint32 { return binary.LittleEndian.Uint32(f.data[1:]) }

// CargoLen returns how many cargo bytes have been loaded so far.
func (f *Frame) CargoLen() int { return len(f.data) - HeaderSize }

// Cargo returns the loaded cargo bytes.
func (f *Frame) Cargo() []byte { return f.data[HeaderSize:] }

// Message returns the cargo as a string.
func (f *Frame) Message() string { return string(f.Cargo()) }

// Bytes returns the full wire representation.
func (f *Frame) Bytes() []byte { return f.data }

// IsComplete reports whether the loaded cargo satisfies the header.
func (f *Frame) IsComplete() bool { return f.remaining() == 0 }
