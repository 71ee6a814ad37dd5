package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/value"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustValue(t testing.TB, s string) *value.Value {
	v, err := value.FromString(s)
	require.NoError(t, err)
	return v
}

func testMessages(t testing.TB) map[string]Message {
	ts := time.Date(2024, 5, 17, 10, 30, 0, 123456789, time.UTC)
	return map[string]Message{
		"PingEmpty":         &Ping{},
		"PingClient":        &Ping{ClientTime: ts},
		"PingAck":           &Ping{ClientTime: ts, ServerTime: ts.Add(time.Millisecond)},
		"Authenticate":      &Authenticate{Username: "alice", Password: "s3cret"},
		"AuthenticateEmpty": &Authenticate{},
		"SuccessNull":       NewSuccess(),
		"SuccessEmpty":      NewSuccessWithValue(mustValue(t, "")),
		"SuccessValue":      NewSuccessWithValue(mustValue(t, "hello")),
		"Fail":              NewFail(store.RetCKeyNotFound, "key not found: k"),
		"SetDefault":        &Set{Key: "k", Value: mustValue(t, "v")},
		"SetTable":          &Set{Ref: store.TableRef{Namespace: "ns", Table: "t"}, Key: "k", Value: mustValue(t, "")},
		"Get":               &Get{Ref: store.TableRef{Namespace: "ns"}, Key: "k"},
		"Delete":            &Delete{Ref: store.TableRef{Table: "t"}, Key: "k"},
	}
}

func TestMessageRoundTrip(t *testing.T) {
	for name, msg := range testMessages(t) {
		t.Run(name, func(t *testing.T) {
			got, err := MessageFromFrames(msg.Frames())
			require.NoError(t, err)
			assert.Equal(t, msg, got)
		})
	}
}

func TestMessageRoundTripOverWire(t *testing.T) {
	var buf bytes.Buffer
	msgs := testMessages(t)
	order := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		order = append(order, m)
		require.NoError(t, WriteMessage(&buf, m))
	}

	for _, want := range order {
		got, err := ReadMessage(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Zero(t, buf.Len())
}

func TestSuccessNullDiffersFromEmpty(t *testing.T) {
	null, err := MessageFromFrames(NewSuccess().Frames())
	require.NoError(t, err)
	assert.Nil(t, null.(*Success).Value)

	empty, err := MessageFromFrames(NewSuccessWithValue(mustValue(t, "")).Frames())
	require.NoError(t, err)
	require.NotNil(t, empty.(*Success).Value)
	assert.Equal(t, 0, empty.(*Success).Value.Len())
}

func TestSuccessExtraFrameRejected(t *testing.T) {
	f := NewSuccessWithValue(mustValue(t, "v")).Frames()
	f.PushNull()

	_, err := MessageFromFrames(f)
	var fe *FramingError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Contains(t, fe.Msg, "expected 2 frames, got 3")
	assert.True(t, errors.Is(err, ErrProtocol))
}

func TestExtraFrameRejectedForEveryType(t *testing.T) {
	for name, msg := range testMessages(t) {
		t.Run(name, func(t *testing.T) {
			f := msg.Frames()
			f.PushBytes([]byte("extra"))
			_, err := MessageFromFrames(f)
			var fe *FramingError
			assert.True(t, errors.As(err, &fe), "got %v", err)
		})
	}
}

func TestMissingFrameRejected(t *testing.T) {
	f := NewFrames(MsgTAuthenticate, 1)
	f.PushString("alice")

	_, err := MessageFromFrames(f)
	var fe *FramingError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, "expected at least 3 frames, got 2", fe.Msg)
}

func TestNullWhereBytesRequired(t *testing.T) {
	f := NewFrames(MsgTGet, 3)
	f.PushNull()
	f.PushNull()
	f.PushNull()

	_, err := MessageFromFrames(f)
	assert.True(t, errors.Is(err, ErrProtocol), "got %v", err)
}

func TestUnknownMessageType(t *testing.T) {
	for _, b := range []byte{0, 8, 42, 255} {
		f := NewFrames(MessageType(b), 0)
		_, err := MessageFromFrames(f)

		var ue *UnknownMessageTypeError
		require.True(t, errors.As(err, &ue), "type %d: got %v", b, err)
		assert.Equal(t, b, ue.MessageType)
		assert.True(t, errors.Is(err, ErrProtocol))
	}
}

func TestParseMessageType(t *testing.T) {
	for _, mt := range []MessageType{MsgTPing, MsgTAuthenticate, MsgTSuccess, MsgTFail, MsgTSet, MsgTGet, MsgTDelete} {
		got, err := ParseMessageType(byte(mt))
		require.NoError(t, err)
		assert.Equal(t, mt, got)
		assert.NotContains(t, got.String(), "unknown")
	}
	assert.Equal(t, "unknown(9)", MessageType(9).String())
}

func TestParseCursor(t *testing.T) {
	f := NewFrames(MsgTPing, 3)
	f.PushBytes([]byte("a"))
	f.PushNull()
	f.PushBytes(nil)

	p := NewParse(f)
	mt, err := p.MessageType()
	require.NoError(t, err)
	assert.Equal(t, MsgTPing, mt)

	b, err := p.NextBytesOrNull()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), b)

	b, err = p.NextBytesOrNull()
	require.NoError(t, err)
	assert.Nil(t, b)

	assert.Error(t, p.ExpectConsumed())

	b, err = p.NextBytesOrNull()
	require.NoError(t, err)
	assert.NotNil(t, b)
	assert.Empty(t, b)

	assert.NoError(t, p.ExpectConsumed())

	_, err = p.NextBytesOrNull()
	assert.Error(t, err)
}

func TestFailFromError(t *testing.T) {
	f := FailFromError(errors.Wrap(store.NewError(store.RetCTableNotFound, "ns/t"), "open"))
	assert.Equal(t, store.RetCTableNotFound, f.Code)
	assert.Equal(t, "ns/t", f.Message)
	assert.True(t, errors.Is(f.Err(), store.ErrTableNotFound))

	f = FailFromError(errors.New("disk on fire"))
	assert.Equal(t, store.RetCInternalError, f.Code)
	assert.Equal(t, "disk on fire", f.Message)
}

func TestPingAck(t *testing.T) {
	p := NewPing()
	now := p.ClientTime.Add(3 * time.Millisecond)
	ack := p.Ack(now)

	assert.True(t, ack.ClientTime.Equal(p.ClientTime))
	assert.True(t, ack.ServerTime.Equal(now))
	assert.Equal(t, 3*time.Millisecond, p.RoundTrip(now))
	assert.Zero(t, (&Ping{}).RoundTrip(now))
}

func TestAuthenticateStringHidesPassword(t *testing.T) {
	a := &Authenticate{Username: "alice", Password: "s3cret"}
	assert.NotContains(t, a.String(), "s3cret")
	assert.Contains(t, a.String(), "alice")
}
