package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCopiesPayload(t *testing.T) {
	b := []byte("abc")
	v, err := New(b)
	require.NoError(t, err)

	b[0] = 'x'
	assert.Equal(t, "abc", v.String())

	out := v.Bytes()
	out[0] = 'y'
	assert.Equal(t, "abc", v.String())
}

func TestNullAndEmptyAreDistinct(t *testing.T) {
	empty, err := New(nil)
	require.NoError(t, err)

	var null *Value

	assert.NotNil(t, empty)
	assert.Equal(t, 0, empty.Len())
	assert.NotNil(t, empty.View())
	assert.Nil(t, null.View())
	assert.False(t, Equal(empty, null))
	assert.True(t, Equal(null, nil))
	assert.Equal(t, "<null>", null.String())
}

func TestEqual(t *testing.T) {
	a, _ := FromString("1")
	b, _ := FromString("1")
	c, _ := FromString("2")

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
}
