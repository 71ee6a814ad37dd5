package protocol

import (
	"encoding/binary"
	"io"
	"math"
	"net"

	"github.com/pkg/errors"
)

/*
Every message travels in an envelope:

	+-----------------------+----------------------------+
	| body length (u32, BE) | frames (body length bytes) |
	+-----------------------+----------------------------+

and each frame starts with a tag byte:

	0x01 <message type u8>
	0x02 <payload length u32 BE> <payload>
	0x03
*/

const (
	envelopeHeaderSize = 4

	// MaxMessageSize is the default upper bound for a message body.
	MaxMessageSize = 64 << 20
)

// EncodedSize returns the number of body bytes f occupies on the wire.
func (f *Frames) EncodedSize() int {
	size := 0
	for _, fr := range f.frames {
		switch fr.kind {
		case frameKindMessageType:
			size += 2
		case frameKindBytes:
			size += 5 + len(fr.data)
		case frameKindNull:
			size++
		}
	}
	return size
}

// AppendEncoded appends the body encoding of f to dst.
func (f *Frames) AppendEncoded(dst []byte) []byte {
	for _, fr := range f.frames {
		dst = append(dst, byte(fr.kind))
		switch fr.kind {
		case frameKindMessageType:
			dst = append(dst, fr.mt)
		case frameKindBytes:
			dst = binary.BigEndian.AppendUint32(dst, uint32(len(fr.data)))
			dst = append(dst, fr.data...)
		}
	}
	return dst
}

// DecodeFrames parses a message body. The returned frames reference body.
func DecodeFrames(body []byte) (*Frames, error) {
	f := &Frames{}
	for pos := 0; pos < len(body); {
		kind := frameKind(body[pos])
		pos++
		switch kind {
		case frameKindMessageType:
			if pos >= len(body) {
				return nil, framingErrorf("truncated message type frame")
			}
			f.frames = append(f.frames, frame{kind: kind, mt: body[pos]})
			pos++
		case frameKindBytes:
			if len(body)-pos < 4 {
				return nil, framingErrorf("truncated frame length")
			}
			n := int(binary.BigEndian.Uint32(body[pos : pos+4]))
			pos += 4
			if len(body)-pos < n {
				return nil, framingErrorf("frame announces %d bytes, %d left", n, len(body)-pos)
			}
			f.frames = append(f.frames, frame{kind: kind, data: body[pos : pos+n : pos+n]})
			pos += n
		case frameKindNull:
			f.frames = append(f.frames, frame{kind: kind})
		default:
			return nil, framingErrorf("unknown frame tag %#x at byte %d", byte(kind), pos-1)
		}
	}
	if len(f.frames) == 0 {
		return nil, framingErrorf("message type not found")
	}
	return f, nil
}

// WriteFrames writes f as one envelope.
func WriteFrames(w io.Writer, f *Frames) error {
	size := f.EncodedSize()
	if uint64(size) > math.MaxUint32 {
		return errors.Wrapf(ErrMessageTooLarge, "%d bytes", size)
	}

	header := make([]byte, envelopeHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(size))
	body := f.AppendEncoded(make([]byte, 0, size))

	b := net.Buffers{header, body}
	_, err := b.WriteTo(w)
	return err
}

// ReadFrames reads one envelope from r and decodes its body. Bodies larger than
// maxSize are rejected with ErrMessageTooLarge before they are read (maxSize < 1
// selects MaxMessageSize).
//
// io.EOF is returned if r ends cleanly before an envelope starts, an envelope cut
// short yields io.ErrUnexpectedEOF. A malformed body yields a *FramingError, the
// reader is positioned at the next envelope in that case.
func ReadFrames(r io.Reader, maxSize int) (*Frames, error) {
	if maxSize < 1 {
		maxSize = MaxMessageSize
	}

	var header [envelopeHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(maxSize) {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%d bytes announced, limit is %d", size, maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return DecodeFrames(body)
}

// WriteMessage writes m as one envelope.
func WriteMessage(w io.Writer, m Message) error {
	return WriteFrames(w, m.Frames())
}

// ReadMessage reads one envelope and decodes it into a Message.
func ReadMessage(r io.Reader, maxSize int) (Message, error) {
	f, err := ReadFrames(r, maxSize)
	if err != nil {
		return nil, err
	}
	return MessageFromFrames(f)
}
