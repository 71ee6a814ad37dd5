package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

/*
Entry layout (version 1), all integers big endian:

	+------------+----------+---------------+-----------------+-------------+-----+-------+
	| version u8 | flags u8 | key len (u32) | value len (u32) | crc32 (u32) | key | value |
	+------------+----------+---------------+-----------------+-------------+-----+-------+

The crc covers version, flags, both lengths, the key and the stored value bytes.
A tombstone has flagTombstone set and a value length of zero. If flagSnappy is set
the stored value bytes are snappy compressed.
*/

const (
	entryVersion byte = 1

	flagTombstone byte = 1 << 0
	flagSnappy    byte = 1 << 1
	knownFlags         = flagTombstone | flagSnappy

	headerSize = 14
	crcOffset  = 10

	// MaxKeySize is the largest key an entry can carry.
	MaxKeySize = 64 * 1024

	maxPrealloc = 1 << 20
)

var crcTable = crc32.IEEETable

// Entry is one logical record of the append log: a key and either a value or a
// tombstone (nil value).
type Entry struct {
	key   string
	taken bool
	value *value.Value
}

// NewEntry creates an entry. A nil value creates a tombstone.
func NewEntry(key string, v *value.Value) *Entry {
	return &Entry{key: key, value: v}
}

// Key returns the key without taking it.
func (e *Entry) Key() string {
	return e.key
}

// Value returns the value or nil for a tombstone.
func (e *Entry) Value() *value.Value {
	return e.value
}

// IsTombstone reports whether the entry marks its key as deleted.
func (e *Entry) IsTombstone() bool {
	return e.value == nil
}

// TakeKey moves the key out of the entry. It can only be called once per entry,
// further calls return ErrKeyTaken.
func (e *Entry) TakeKey() (string, error) {
	if e.taken {
		return "", ErrKeyTaken
	}
	e.taken = true
	k := e.key
	e.key = ""
	return k, nil
}

// encodeOptions control how an entry is written
type encodeOptions struct {
	compress          bool
	compressThreshold int
}

// encode returns the serialized entry.
func (e *Entry) encode(opts encodeOptions) ([]byte, error) {
	if e.taken {
		return nil, ErrKeyTaken
	}
	if len(e.key) > MaxKeySize {
		return nil, errors.Wrapf(ErrKeyTooLarge, "%d bytes", len(e.key))
	}

	var flags byte
	var stored []byte
	if e.value == nil {
		flags |= flagTombstone
	} else {
		stored = e.value.View()
		if opts.compress && len(stored) >= opts.compressThreshold {
			if c := snappy.Encode(nil, stored); len(c) < len(stored) {
				stored = c
				flags |= flagSnappy
			}
		}
		if uint64(len(stored)) > value.MaxSize {
			return nil, errors.Wrapf(value.ErrTooLarge, "%d bytes", len(stored))
		}
	}

	buf := make([]byte, headerSize+len(e.key)+len(stored))
	buf[0] = entryVersion
	buf[1] = flags
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(e.key)))
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(stored)))
	copy(buf[headerSize:], e.key)
	copy(buf[headerSize+len(e.key):], stored)

	crc := crc32.Checksum(buf[:crcOffset], crcTable)
	crc = crc32.Update(crc, crcTable, buf[headerSize:])
	binary.BigEndian.PutUint32(buf[crcOffset:headerSize], crc)

	return buf, nil
}

// Encode serializes the entry without compression. Mostly useful for tests and tools
// that need the exact persisted bytes.
func (e *Entry) Encode() ([]byte, error) {
	return e.encode(encodeOptions{})
}

// DecodeEntry reads exactly one entry from r and returns the number of bytes it
// occupied in the stream.
//
// If r is at a clean record boundary with no more data, io.EOF is returned. A
// record that ends early or fails validation yields a *CorruptionError.
func DecodeEntry(r io.Reader) (int, *Entry, error) {
	var header [headerSize]byte

	n, err := io.ReadFull(r, header[:])
	switch {
	case err == io.EOF:
		return 0, nil, io.EOF
	case err == io.ErrUnexpectedEOF:
		return 0, nil, corrupt(fmt.Sprintf("truncated header (%d of %d bytes)", n, headerSize), nil)
	case err != nil:
		return 0, nil, errors.Wrap(err, "table: read entry header")
	}

	if header[0] != entryVersion {
		return 0, nil, corrupt(fmt.Sprintf("unknown entry version %d", header[0]), nil)
	}
	flags := header[1]
	if flags&^knownFlags != 0 {
		return 0, nil, corrupt(fmt.Sprintf("unknown flags %#x", flags), nil)
	}

	keyLen := binary.BigEndian.Uint32(header[2:6])
	valueLen := binary.BigEndian.Uint32(header[6:10])
	crc := binary.BigEndian.Uint32(header[crcOffset:headerSize])

	if keyLen > MaxKeySize {
		return 0, nil, corrupt(fmt.Sprintf("key length %d exceeds limit", keyLen), nil)
	}
	tombstone := flags&flagTombstone != 0
	if tombstone && (valueLen != 0 || flags&flagSnappy != 0) {
		return 0, nil, corrupt("tombstone carries a value", nil)
	}

	// copy instead of allocating the announced size up front, a corrupt length
	// must not allocate gigabytes before the short read is detected
	total := int64(keyLen) + int64(valueLen)
	var buf bytes.Buffer
	buf.Grow(int(min(total, maxPrealloc)))
	if _, err := io.CopyN(&buf, r, total); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, corrupt("truncated body", err)
		}
		return 0, nil, errors.Wrap(err, "table: read entry body")
	}
	body := buf.Bytes()

	sum := crc32.Checksum(header[:crcOffset], crcTable)
	sum = crc32.Update(sum, crcTable, body)
	if sum != crc {
		return 0, nil, corrupt(fmt.Sprintf("checksum mismatch (stored %#08x, computed %#08x)", crc, sum), nil)
	}

	e := &Entry{key: string(body[:keyLen])}
	if !tombstone {
		stored := body[keyLen:]
		if flags&flagSnappy != 0 {
			plain, err := snappy.Decode(nil, stored)
			if err != nil {
				return 0, nil, corrupt("invalid compressed value", err)
			}
			stored = plain
		}
		v, err := value.Owned(stored)
		if err != nil {
			return 0, nil, corrupt("value too large", err)
		}
		e.value = v
	}

	return headerSize + len(body), e, nil
}
