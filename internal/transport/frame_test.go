package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/uplink/internal/transport"
)

func collect(frames *[]*transport.Frame) func(*transport.Frame) {
	return func(f *transport.Frame) { *frames = append(*frames, f) }
}

func TestParser_ReassemblesAcrossMessages(t *testing.T) {
	// A log frame "HI!" split as header+2, then the final byte.
	var frames []*transport.Frame
	p := transport.NewParser(collect(&frames))

	p.Parse([]byte{0x02, 0x03, 0x00, 0x00, 0x00, 'H', 'I'})
	require.Empty(t, frames)

	p.Parse([]byte{'!'})
	require.Len(t, frames, 1)
	assert.Equal(t, transport.CodeLog, frames[0].Code())
	assert.Equal(t, "HI!", frames[0].Message())
}

func TestParser_MultipleFramesPerMessage(t *testing.T) {
	var frames []*transport.Frame
	p := transport.NewParser(collect(&frames))

	msg := append(transport.Encode(transport.CodeIdent, []byte("abc")),
		transport.Encode(transport.CodeStats, []byte("{}"))...)
	p.Parse(msg)

	require.Len(t, frames, 2)
	assert.Equal(t, transport.CodeIdent, frames[0].Code())
	assert.Equal(t, "abc", frames[0].Message())
	assert.Equal(t, transport.CodeStats, frames[1].Code())
	assert.Equal(t, "{}", frames[1].Message())
}

func TestParser_ConcatenationIdempotent(t *testing.T) {
	wire := append(transport.Encode(transport.CodeLog, []byte("first")),
		transport.Encode(transport.CodeUpdate, []byte{0xde, 0xad, 0xbe, 0xef})...)

	// parse(a); parse(b) must equal parse(a++b) for every split point.
	var whole []*transport.Frame
	transport.NewParser(collect(&whole)).Parse(wire)
	require.Len(t, whole, 2)

	for cut := 0; cut <= len(wire); cut++ {
		var split []*transport.Frame
		p := transport.NewParser(collect(&split))
		p.Parse(wire[:cut])
		p.Parse(wire[cut:])

		require.Len(t, split, 2, "cut=%d", cut)
		for i := range whole {
			assert.Equal(t, whole[i].Code(), split[i].Code(), "cut=%d", cut)
			assert.Equal(t, whole[i].Cargo(), split[i].Cargo(), "cut=%d", cut)
		}
	}
}

func TestParser_ZeroLengthCargo(t *testing.T) {
	var frames []*transport.Frame
	p := transport.NewParser(collect(&frames))

	p.Parse(transport.Encode(transport.CodeStats, nil))

	require.Len(t, frames, 1)
	assert.Equal(t, transport.CodeStats, frames[0].Code())
	assert.Equal(t, 0, frames[0].CargoLen())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{nil, {0}, []byte("payload"), make([]byte, 70000)}
	codes := []transport.Code{
		transport.CodeIdent, transport.CodeLog, transport.CodeUpdate,
		transport.CodeAppdata, transport.CodePanic, transport.CodeStats,
		transport.CodeUplink, transport.CodeError,
	}
	for _, code := range codes {
		for _, payload := range payloads {
			wire := transport.Encode(code, payload)
			gotCode, gotCargo, err := transport.Decode(wire)
			require.NoError(t, err)
			assert.Equal(t, code, gotCode)
			assert.Equal(t, len(payload), len(gotCargo))
			if len(payload) > 0 {
				assert.Equal(t, payload, gotCargo)
			}
		}
	}
}

func TestEncode_HeaderLayout(t *testing.T) {
	wire := transport.Encode(transport.CodeUplink, []byte("x"))

	// One code byte, little-endian u32 length, then cargo.
	assert.Equal(t, byte(9), wire[0])
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00}, wire[1:5])
	assert.Equal(t, byte('x'), wire[5])
	assert.Len(t, wire, transport.HeaderSize+1)
}

func TestDecode_LengthMismatch(t *testing.T) {
	wire := transport.Encode(transport.CodeLog, []byte("abc"))
	_, _, err := transport.Decode(wire[:len(wire)-1])
	require.Error(t, err)

	_, _, err = transport.Decode([]byte{1, 2})
	require.Error(t, err)
}
