package table

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logRecord struct {
	key   string
	value *value.Value
}

// writeLog encodes records back to back and returns the log plus the offset of
// every record
func writeLog(t *testing.T, records []logRecord) ([]byte, []int64) {
	t.Helper()
	var buf bytes.Buffer
	offsets := make([]int64, 0, len(records))
	for _, r := range records {
		offsets = append(offsets, int64(buf.Len()))
		b, err := NewEntry(r.key, r.value).Encode()
		require.NoError(t, err)
		buf.Write(b)
	}
	return buf.Bytes(), offsets
}

func TestIndexLastWriteWins(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))

	var records []logRecord
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%d", rnd.Intn(40))
		var v *value.Value
		if rnd.Intn(5) != 0 {
			v = mustValue(t, fmt.Sprintf("v%d", i))
		}
		records = append(records, logRecord{key: key, value: v})
	}

	log, offsets := writeLog(t, records)

	expected := make(map[string]int64)
	for i, r := range records {
		expected[r.key] = offsets[i]
	}

	idx, err := IndexFromReader(bytes.NewReader(log))
	require.NoError(t, err)
	assert.Equal(t, len(expected), idx.Len())
	assert.Equal(t, len(records), idx.entries)
	assert.Equal(t, int64(len(log)), idx.end)

	for key, off := range expected {
		got, ok := idx.LookupOffset(key)
		assert.True(t, ok, key)
		assert.Equal(t, off, got, key)
	}

	_, ok := idx.LookupOffset("never-written")
	assert.False(t, ok)
}

func TestIndexTruncatedAtBoundary(t *testing.T) {
	log, offsets := writeLog(t, []logRecord{
		{key: "a", value: mustValue(t, "1")},
		{key: "b", value: mustValue(t, "2")},
		{key: "c", value: mustValue(t, "3")},
	})

	idx, err := IndexFromReader(bytes.NewReader(log[:offsets[2]]))
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	_, ok := idx.LookupOffset("c")
	assert.False(t, ok)
}

func TestIndexTruncatedMidRecord(t *testing.T) {
	log, offsets := writeLog(t, []logRecord{
		{key: "a", value: mustValue(t, "1")},
		{key: "b", value: mustValue(t, "2")},
	})

	for cut := offsets[1] + 1; cut < int64(len(log)); cut++ {
		_, err := IndexFromReader(bytes.NewReader(log[:cut]))
		require.Error(t, err, "cut at %d", cut)

		var ce *CorruptionError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, offsets[1], ce.Offset)
	}
}

func TestCheckedAddOverflow(t *testing.T) {
	_, err := checkedAdd(math.MaxInt64-1, 2)
	assert.True(t, errors.Is(err, ErrOffsetOverflow))

	pos, err := checkedAdd(10, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), pos)
}
