package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType is the discriminant carried by the first frame of every message.
type MessageType uint8

const (
	MsgTPing         MessageType = 1 // Liveness check, answered with a Ping
	MsgTAuthenticate MessageType = 2 // Credentials, answered with Success or Fail
	MsgTSuccess      MessageType = 3 // Successful outcome with an optional value
	MsgTFail         MessageType = 4 // Any outcome that is not a success

	MsgTSet    MessageType = 5 // Set a key-value pair
	MsgTGet    MessageType = 6 // Get a value by key
	MsgTDelete MessageType = 7 // Delete a key-value pair
)

// ParseMessageType converts a discriminant byte into a MessageType. Bytes that do
// not name a known type yield an *UnknownMessageTypeError.
func ParseMessageType(b byte) (MessageType, error) {
	switch t := MessageType(b); t {
	case MsgTPing, MsgTAuthenticate, MsgTSuccess, MsgTFail, MsgTSet, MsgTGet, MsgTDelete:
		return t, nil
	default:
		return 0, &UnknownMessageTypeError{MessageType: b}
	}
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTPing:
		return "ping"
	case MsgTAuthenticate:
		return "authenticate"
	case MsgTSuccess:
		return "success"
	case MsgTFail:
		return "fail"
	case MsgTSet:
		return "set"
	case MsgTGet:
		return "get"
	case MsgTDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrMessageTooLarge is returned when an envelope announces a body larger than
	// the reader accepts.
	ErrMessageTooLarge = errors.New("protocol: message too large")
	// ErrProtocol matches every *FramingError and *UnknownMessageTypeError.
	ErrProtocol = errors.New("protocol: invalid message")
)

// UnknownMessageTypeError is returned for a discriminant byte outside the known
// message types.
type UnknownMessageTypeError struct {
	MessageType byte
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown message type %d", e.MessageType)
}

func (e *UnknownMessageTypeError) Is(target error) bool {
	return target == ErrProtocol
}

// FramingError describes a message whose frames do not match what its type
// requires (wrong count, wrong frame kind, malformed frame).
type FramingError struct {
	Msg string
}

func framingErrorf(format string, args ...interface{}) *FramingError {
	return &FramingError{Msg: fmt.Sprintf(format, args...)}
}

func (e *FramingError) Error() string {
	return "protocol: framing: " + e.Msg
}

func (e *FramingError) Is(target error) bool {
	return target == ErrProtocol
}
