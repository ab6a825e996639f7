package transport

// Parser reassembles frames from an arbitrarily fragmented byte stream.
// WebSocket messages may carry several frames, and one frame may span
// several messages; Parse handles both, invoking the completion callback
// once per finished frame.
type Parser struct {
	onComplete func(*Frame)

	hdr   []byte
	frame *Frame
}

// NewParser returns a parser delivering completed frames to onComplete.
func NewParser(onComplete func(*Frame)) *Parser {
	return &Parser{onComplete: onComplete}
}

// Parse consumes a chunk. Feeding parse(a) then parse(b) yields the same
// completed frames as parse(a++b).
func (p *Parser) Parse(data []byte) {
	for {
		if p.frame == nil {
			if len(data) == 0 {
				return
			}
			need := HeaderSize - len(p.hdr)
			take := min(need, len(data))
			p.hdr = append(p.hdr, data[:take]...)
			data = data[take:]
			if len(p.hdr) < HeaderSize {
				return
			}
			hdr := &Frame{data: p.hdr}
			p.frame = New(hdr.Code(), hdr.Length())
			p.hdr = nil
		}

		take := min(p.frame.remaining(), len(data))
		p.frame.Load(data[:take])
		data = data[take:]

		if !p.frame.IsComplete() {
			return
		}
		done := p.frame
		p.frame = nil
		p.onComplete(done)
	}
}
