package protocol

// frameKind tags a single frame on the wire
type frameKind byte

const (
	frameKindMessageType frameKind = 0x01 // followed by one discriminant byte
	frameKindBytes       frameKind = 0x02 // followed by u32 length and payload
	frameKindNull        frameKind = 0x03 // no payload
)

// frame is one unit of a message: the discriminant, a byte payload or a null.
type frame struct {
	kind frameKind
	mt   byte
	data []byte
}

// Frames is the ordered frame sequence of one message. The first frame is always
// the message type discriminant.
type Frames struct {
	frames []frame
}

// NewFrames creates the frame sequence for a message of type t that will carry n
// frames after the discriminant.
func NewFrames(t MessageType, n int) *Frames {
	f := &Frames{frames: make([]frame, 0, n+1)}
	f.frames = append(f.frames, frame{kind: frameKindMessageType, mt: byte(t)})
	return f
}

// PushBytes appends a data frame. A nil payload is sent as an empty payload, use
// PushNull for a null.
func (f *Frames) PushBytes(b []byte) {
	if b == nil {
		b = []byte{}
	}
	f.frames = append(f.frames, frame{kind: frameKindBytes, data: b})
}

// PushString appends a data frame holding s.
func (f *Frames) PushString(s string) {
	f.PushBytes([]byte(s))
}

// PushNull appends a null frame.
func (f *Frames) PushNull() {
	f.frames = append(f.frames, frame{kind: frameKindNull})
}

// PushBytesOrNull appends a null frame for nil and a data frame otherwise.
func (f *Frames) PushBytesOrNull(b []byte) {
	if b == nil {
		f.PushNull()
		return
	}
	f.PushBytes(b)
}

// Len returns the number of frames including the discriminant.
func (f *Frames) Len() int {
	return len(f.frames)
}
