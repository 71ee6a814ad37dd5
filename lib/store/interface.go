package store

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DefaultNamespace and DefaultTable are used when a request names no table.
const (
	DefaultNamespace = "default"
	DefaultTable     = "default"
	SystemNamespace  = "system"
)

// TableRef names one table inside one namespace.
type TableRef struct {
	Namespace string
	Table     string
}

// Default returns the ref with empty parts replaced by the defaults.
func (r TableRef) Default() TableRef {
	if r.Namespace == "" {
		r.Namespace = DefaultNamespace
	}
	if r.Table == "" {
		r.Table = DefaultTable
	}
	return r
}

func (r TableRef) String() string {
	r = r.Default()
	return r.Namespace + "/" + r.Table
}

// IStore is the generic interface for interacting with the key-value store.
// Failures are reported as *Error values carrying a RetCode.
type IStore interface {
	// Set inserts or updates a key-value pair.
	Set(ctx context.Context, ref TableRef, key string, value *value.Value) (err error)
	// Get returns the value for a key. A missing or deleted key yields an error
	// with code RetCKeyNotFound.
	Get(ctx context.Context, ref TableRef, key string) (value *value.Value, err error)
	// Delete removes a key and returns the value it had. Deleting a missing key is
	// not an error, the returned value is nil in that case.
	Delete(ctx context.Context, ref TableRef, key string) (old *value.Value, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("kvsd (code %s): %s", e.Code, e.Msg)
}

// Is matches another *Error with the same code, so errors.Is(err, ErrNotFound)
// works for every not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Sentinels for errors.Is, they match any message.
var (
	ErrNotFound        = &Error{Code: RetCKeyNotFound}
	ErrTableNotFound   = &Error{Code: RetCTableNotFound}
	ErrUnauthenticated = &Error{Code: RetCUnauthenticated}
)

// CodeOf returns the code of the first *Error in err's chain or
// RetCInternalError for any other error.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess            RetCode = iota // 0: Command executed successfully.
	RetCInternalError                     // 1: Command failed due to an internal error.
	RetCInvalidRequest                    // 2: The request was malformed.
	RetCKeyNotFound                       // 3: The key does not exist or was deleted.
	RetCTableNotFound                     // 4: The namespace/table does not exist.
	RetCUnauthenticated                   // 5: The connection has not authenticated.
	RetCUnexpectedMessage                 // 6: The message is not valid in the current state.
	RetCTooManyConnections                // 7: The server connection limit is reached.
	RetCShuttingDown                      // 8: The server is shutting down.
	RetCValueTooLarge                     // 9: The value exceeds the configured limit.
)

var retCodeNames = map[RetCode]string{
	RetCSuccess:            "success",
	RetCInternalError:      "internal_error",
	RetCInvalidRequest:     "invalid_request",
	RetCKeyNotFound:        "key_not_found",
	RetCTableNotFound:      "table_not_found",
	RetCUnauthenticated:    "unauthenticated",
	RetCUnexpectedMessage:  "unexpected_message",
	RetCTooManyConnections: "too_many_connections",
	RetCShuttingDown:       "shutting_down",
	RetCValueTooLarge:      "value_too_large",
}

// String returns the wire name of the code.
func (c RetCode) String() string {
	if s, ok := retCodeNames[c]; ok {
		return s
	}
	return "unknown"
}

// ParseRetCode converts a wire name back into a RetCode. Unknown names map to
// RetCInternalError.
func ParseRetCode(s string) RetCode {
	for c, name := range retCodeNames {
		if name == s {
			return c
		}
	}
	return RetCInternalError
}
