package table

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// Index maps every key written to a table to the offset of its most recent entry.
// Tombstones are indexed like any other entry.
type Index struct {
	offsets map[string]int64
	entries int   // records in the log
	end     int64 // offset right after the last record
}

func newIndex() *Index {
	return &Index{offsets: make(map[string]int64)}
}

// IndexFromReader replays a log from its first byte and records the offset of the
// last entry for every key. It stops cleanly at the end of the stream; any other
// decode error is returned and no index is built.
func IndexFromReader(r io.Reader) (*Index, error) {
	idx := newIndex()
	var pos int64

	for {
		n, entry, err := DecodeEntry(r)
		if err == io.EOF {
			idx.end = pos
			return idx, nil
		}
		if err != nil {
			var ce *CorruptionError
			if errors.As(err, &ce) {
				ce.Offset = pos
			}
			return nil, err
		}

		key, err := entry.TakeKey()
		if err != nil {
			return nil, err
		}
		idx.offsets[key] = pos
		idx.entries++

		if pos, err = checkedAdd(pos, n); err != nil {
			return nil, err
		}
	}
}

// LookupOffset returns the offset of the latest entry for key.
func (idx *Index) LookupOffset(key string) (int64, bool) {
	off, ok := idx.offsets[key]
	return off, ok
}

// Len returns the number of indexed keys, tombstones included.
func (idx *Index) Len() int {
	return len(idx.offsets)
}

// insert records a freshly appended entry of n bytes at offset.
func (idx *Index) insert(key string, offset int64, n int) error {
	end, err := checkedAdd(offset, n)
	if err != nil {
		return err
	}
	idx.offsets[key] = offset
	idx.entries++
	idx.end = end
	return nil
}

// keys returns all indexed keys in no particular order.
func (idx *Index) keys() []string {
	keys := make([]string, 0, len(idx.offsets))
	for k := range idx.offsets {
		keys = append(keys, k)
	}
	return keys
}

func checkedAdd(pos int64, n int) (int64, error) {
	if n < 0 || pos > math.MaxInt64-int64(n) {
		return 0, errors.Wrapf(ErrOffsetOverflow, "%d + %d", pos, n)
	}
	return pos + int64(n), nil
}
