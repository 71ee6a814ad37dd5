package table

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustValue(t *testing.T, s string) *value.Value {
	t.Helper()
	v, err := value.FromString(s)
	require.NoError(t, err)
	return v
}

func TestEntryRoundTrip(t *testing.T) {
	large := strings.Repeat("abcdefgh", 1024)

	tests := []struct {
		name  string
		key   string
		value *value.Value
		opts  encodeOptions
	}{
		{name: "value", key: "a", value: mustValue(t, "1")},
		{name: "empty value", key: "empty", value: mustValue(t, "")},
		{name: "tombstone", key: "gone", value: nil},
		{name: "empty key", key: "", value: mustValue(t, "x")},
		{name: "compressed", key: "big", value: mustValue(t, large), opts: encodeOptions{compress: true, compressThreshold: 16}},
		{name: "below threshold", key: "small", value: mustValue(t, "tiny"), opts: encodeOptions{compress: true, compressThreshold: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewEntry(tt.key, tt.value).encode(tt.opts)
			require.NoError(t, err)

			n, e, err := DecodeEntry(bytes.NewReader(buf))
			require.NoError(t, err)
			assert.Equal(t, len(buf), n)
			assert.Equal(t, tt.key, e.Key())
			assert.Equal(t, tt.value == nil, e.IsTombstone())
			assert.True(t, value.Equal(tt.value, e.Value()))
		})
	}
}

func TestEntryCompressionShrinksRecord(t *testing.T) {
	v := mustValue(t, strings.Repeat("a", 4096))

	plain, err := NewEntry("k", v).Encode()
	require.NoError(t, err)
	compressed, err := NewEntry("k", v).encode(encodeOptions{compress: true, compressThreshold: 1})
	require.NoError(t, err)

	assert.Less(t, len(compressed), len(plain))
	assert.Equal(t, flagSnappy, compressed[1]&flagSnappy)
}

func TestDecodeEntryEOF(t *testing.T) {
	_, _, err := DecodeEntry(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestDecodeEntryCorruption(t *testing.T) {
	valid, err := NewEntry("key", mustValue(t, "value")).Encode()
	require.NoError(t, err)

	mutate := func(f func(b []byte) []byte) []byte {
		c := append([]byte(nil), valid...)
		return f(c)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated header", data: valid[:5]},
		{name: "truncated body", data: valid[:len(valid)-1]},
		{name: "header only", data: valid[:headerSize]},
		{name: "bad version", data: mutate(func(b []byte) []byte { b[0] = 9; return b })},
		{name: "unknown flag", data: mutate(func(b []byte) []byte { b[1] = 0x80; return b })},
		{name: "checksum", data: mutate(func(b []byte) []byte { b[len(b)-1] ^= 0xff; return b })},
		{name: "tombstone with value", data: mutate(func(b []byte) []byte { b[1] = flagTombstone; return b })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeEntry(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)

			var ce *CorruptionError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func TestEntryTakeKeyOnce(t *testing.T) {
	e := NewEntry("k", nil)

	k, err := e.TakeKey()
	require.NoError(t, err)
	assert.Equal(t, "k", k)

	_, err = e.TakeKey()
	assert.Equal(t, ErrKeyTaken, err)

	_, err = e.Encode()
	assert.Equal(t, ErrKeyTaken, err)
}

func TestEntryKeyTooLarge(t *testing.T) {
	_, err := NewEntry(strings.Repeat("k", MaxKeySize+1), nil).Encode()
	assert.True(t, errors.Is(err, ErrKeyTooLarge))
}
