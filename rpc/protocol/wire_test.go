package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(body []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(body)))
	return append(out, body...)
}

func TestEncodedSize(t *testing.T) {
	for name, msg := range testMessages(t) {
		f := msg.Frames()
		assert.Equal(t, f.EncodedSize(), len(f.AppendEncoded(nil)), name)
	}
}

func TestFrameEncoding(t *testing.T) {
	f := NewFrames(MsgTSuccess, 1)
	f.PushBytes([]byte("ab"))
	assert.Equal(t, []byte{0x01, 0x03, 0x02, 0, 0, 0, 2, 'a', 'b'}, f.AppendEncoded(nil))

	f = NewFrames(MsgTSuccess, 1)
	f.PushNull()
	assert.Equal(t, []byte{0x01, 0x03, 0x03}, f.AppendEncoded(nil))
}

func TestReadFramesCleanEOF(t *testing.T) {
	_, err := ReadFrames(bytes.NewReader(nil), 0)
	assert.Equal(t, io.EOF, err)
}

func TestReadFramesTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, &Authenticate{Username: "u", Password: "p"}))
	data := buf.Bytes()

	for _, cut := range []int{2, 4, len(data) - 1} {
		_, err := ReadFrames(bytes.NewReader(data[:cut]), 0)
		assert.Equal(t, io.ErrUnexpectedEOF, err, "cut at %d", cut)
	}
}

func TestReadFramesTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, &Set{Key: "k", Value: mustValue(t, "0123456789")}))

	_, err := ReadFrames(&buf, 8)
	assert.True(t, errors.Is(err, ErrMessageTooLarge), "got %v", err)
}

func TestDecodeFramesMalformed(t *testing.T) {
	tests := map[string][]byte{
		"empty":              {},
		"unknown tag":        {0x01, 0x01, 0x09},
		"truncated type":     {0x01},
		"truncated length":   {0x01, 0x03, 0x02, 0x00},
		"payload overrun":    {0x01, 0x03, 0x02, 0, 0, 0, 5, 'a'},
		"bytes instead type": {0x02, 0, 0, 0, 0},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			f, err := DecodeFrames(body)
			if err == nil {
				_, err = MessageFromFrames(f)
			}
			var fe *FramingError
			assert.True(t, errors.As(err, &fe), "got %v", err)
		})
	}
}

func TestReadMessageResynchronizesAfterFramingError(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(envelope([]byte{0x01, 0x03, 0x03, 0x03}))
	require.NoError(t, WriteMessage(&buf, NewPing()))

	_, err := ReadMessage(&buf, 0)
	assert.True(t, errors.Is(err, ErrProtocol), "got %v", err)

	m, err := ReadMessage(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, MsgTPing, m.Type())
}

func BenchmarkWriteReadMessage(b *testing.B) {
	for name, msg := range testMessages(b) {
		b.Run(name, func(b *testing.B) {
			var buf bytes.Buffer
			for i := 0; i < b.N; i++ {
				buf.Reset()
				if err := WriteMessage(&buf, msg); err != nil {
					b.Fatalf("Failed to write: %v", err)
				}
				if _, err := ReadMessage(&buf, 0); err != nil {
					b.Fatalf("Failed to read: %v", err)
				}
			}
		})
	}
}
