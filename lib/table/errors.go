package table

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a key has never been written or its latest
	// entry is a tombstone.
	ErrNotFound = errors.New("table: key not found")
	// ErrCorrupt matches every *CorruptionError via errors.Is.
	ErrCorrupt = errors.New("table: corrupt log")
	// ErrKeyTaken is returned when the key of an entry is taken twice.
	ErrKeyTaken = errors.New("table: entry key already taken")
	// ErrOffsetOverflow is returned when the log offset would overflow int64.
	ErrOffsetOverflow = errors.New("table: log offset overflow")
	// ErrKeyTooLarge is returned when a key exceeds MaxKeySize.
	ErrKeyTooLarge = errors.New("table: key too large")
	// ErrClosed is returned when a closed table is used.
	ErrClosed = errors.New("table: closed")
)

// CorruptionError describes an invalid or partial record in the log.
type CorruptionError struct {
	// Offset is the log position of the record, -1 if unknown
	Offset int64
	Reason string
	Err    error
}

func corrupt(reason string, err error) *CorruptionError {
	return &CorruptionError{Offset: -1, Reason: reason, Err: err}
}

func (e *CorruptionError) Error() string {
	msg := "table: corrupt entry"
	if e.Offset >= 0 {
		msg = fmt.Sprintf("%s at offset %d", msg, e.Offset)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Is makes every CorruptionError match ErrCorrupt.
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupt
}
