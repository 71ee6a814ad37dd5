package protocol

// Parse reads the frames of one message in order.
type Parse struct {
	frames []frame
	pos    int
}

// NewParse wraps f with a read cursor positioned at the discriminant.
func NewParse(f *Frames) *Parse {
	return &Parse{frames: f.frames}
}

// MessageType consumes the first frame and decodes it as a MessageType.
func (p *Parse) MessageType() (MessageType, error) {
	fr, ok := p.next()
	if !ok {
		return 0, framingErrorf("message type not found")
	}
	if fr.kind != frameKindMessageType {
		return 0, framingErrorf("expected message type frame at position %d", p.pos-1)
	}
	return ParseMessageType(fr.mt)
}

// NextBytesOrNull consumes the next frame. A data frame yields its payload (never
// nil), a null frame yields nil.
func (p *Parse) NextBytesOrNull() ([]byte, error) {
	fr, ok := p.next()
	if !ok {
		return nil, framingErrorf("expected at least %d frames, got %d", p.pos+1, len(p.frames))
	}
	switch fr.kind {
	case frameKindBytes:
		return fr.data, nil
	case frameKindNull:
		return nil, nil
	default:
		return nil, framingErrorf("unexpected message type frame at position %d", p.pos-1)
	}
}

// NextBytes consumes the next frame and requires it to be a data frame.
func (p *Parse) NextBytes() ([]byte, error) {
	b, err := p.NextBytesOrNull()
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, framingErrorf("unexpected null frame at position %d", p.pos-1)
	}
	return b, nil
}

// NextString consumes the next data frame as a string.
func (p *Parse) NextString() (string, error) {
	b, err := p.NextBytes()
	return string(b), err
}

// NextStringOrEmpty consumes the next frame, a null frame yields "".
func (p *Parse) NextStringOrEmpty() (string, error) {
	b, err := p.NextBytesOrNull()
	return string(b), err
}

// ExpectConsumed fails unless every frame has been read.
func (p *Parse) ExpectConsumed() error {
	if p.pos != len(p.frames) {
		return framingErrorf("expected %d frames, got %d", p.pos, len(p.frames))
	}
	return nil
}

func (p *Parse) next() (frame, bool) {
	if p.pos >= len(p.frames) {
		return frame{}, false
	}
	fr := p.frames[p.pos]
	p.pos++
	return fr, true
}
