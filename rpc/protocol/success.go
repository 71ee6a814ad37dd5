package protocol

import (
	"github.com/ValentinKolb/kvsd/lib/value"
)

// Success reports a successful outcome. Value is nil when the operation produced
// no value.
type Success struct {
	Value *value.Value
}

// NewSuccess creates a Success without a value.
func NewSuccess() *Success {
	return &Success{}
}

// NewSuccessWithValue creates a Success carrying v.
func NewSuccessWithValue(v *value.Value) *Success {
	return &Success{Value: v}
}

func (s *Success) Type() MessageType { return MsgTSuccess }

func (s *Success) Frames() *Frames {
	f := NewFrames(MsgTSuccess, 1)
	if s.Value == nil {
		f.PushNull()
	} else {
		f.PushBytes(s.Value.View())
	}
	return f
}

func (s *Success) isMessage() {}

func parseSuccess(p *Parse) (*Success, error) {
	b, err := p.NextBytesOrNull()
	if err != nil {
		return nil, err
	}
	if b == nil {
		return &Success{}, nil
	}
	v, err := value.Owned(b)
	if err != nil {
		return nil, framingErrorf("%v", err)
	}
	return &Success{Value: v}, nil
}
