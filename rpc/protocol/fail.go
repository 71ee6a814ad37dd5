package protocol

import (
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/pkg/errors"
)

// Fail reports any outcome that is not a success.
type Fail struct {
	Code    store.RetCode
	Message string
}

// NewFail creates a Fail message.
func NewFail(code store.RetCode, msg string) *Fail {
	return &Fail{Code: code, Message: msg}
}

// FailFromError creates a Fail for err. Errors that carry a store code keep it, any
// other error is reported as an internal error.
func FailFromError(err error) *Fail {
	var e *store.Error
	if errors.As(err, &e) {
		return &Fail{Code: e.Code, Message: e.Msg}
	}
	return &Fail{Code: store.RetCInternalError, Message: err.Error()}
}

// Err converts the message back into a *store.Error.
func (f *Fail) Err() error {
	return store.NewError(f.Code, f.Message)
}

func (f *Fail) Type() MessageType { return MsgTFail }

func (f *Fail) Frames() *Frames {
	fr := NewFrames(MsgTFail, 2)
	fr.PushString(f.Code.String())
	fr.PushString(f.Message)
	return fr
}

func (f *Fail) isMessage() {}

func parseFail(p *Parse) (*Fail, error) {
	code, err := p.NextString()
	if err != nil {
		return nil, err
	}
	msg, err := p.NextString()
	if err != nil {
		return nil, err
	}
	return &Fail{Code: store.ParseRetCode(code), Message: msg}, nil
}
