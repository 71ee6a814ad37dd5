// Package value defines Value, the unit of data stored in a table and carried by
// protocol messages.
//
// A Value is immutable once constructed. The absence of a value (a null) is
// represented by a nil *Value and is distinct from a Value with an empty payload.
package value

import (
	"bytes"
	"errors"
	"fmt"
	"math"
)

// MaxSize is the largest payload a Value can carry. Both the on-disk entry format
// and the wire format use 32 bit length prefixes.
const MaxSize = math.MaxUint32

// ErrTooLarge is returned when a payload exceeds MaxSize.
var ErrTooLarge = errors.New("value: payload too large")

// Value wraps a byte payload.
type Value struct {
	b []byte
}

// New creates a Value holding a copy of b.
func New(b []byte) (*Value, error) {
	if uint64(len(b)) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(b))
	}
	c := make([]byte, len(b))
	copy(c, b)
	return &Value{b: c}, nil
}

// FromString creates a Value from a string.
func FromString(s string) (*Value, error) {
	return New([]byte(s))
}

// wrap takes ownership of b without copying. Used by decoders that already own a
// freshly allocated buffer.
func wrap(b []byte) *Value {
	if b == nil {
		b = []byte{}
	}
	return &Value{b: b}
}

// Owned creates a Value that takes ownership of b. The caller must not modify b
// afterwards.
func Owned(b []byte) (*Value, error) {
	if uint64(len(b)) > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(b))
	}
	return wrap(b), nil
}

// Bytes returns a copy of the payload.
func (v *Value) Bytes() []byte {
	if v == nil {
		return nil
	}
	c := make([]byte, len(v.b))
	copy(c, v.b)
	return c
}

// View returns the payload without copying. The returned slice must not be modified.
func (v *Value) View() []byte {
	if v == nil {
		return nil
	}
	return v.b
}

// Len returns the payload length.
func (v *Value) Len() int {
	if v == nil {
		return 0
	}
	return len(v.b)
}

// String returns the payload as a string.
func (v *Value) String() string {
	if v == nil {
		return "<null>"
	}
	return string(v.b)
}

// Equal reports whether both values are null or both carry the same payload.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(a.b, b.b)
}
