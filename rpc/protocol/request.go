package protocol

import (
	"github.com/ValentinKolb/kvsd/lib/store"
	"github.com/ValentinKolb/kvsd/lib/value"
)

// Set stores Value under Key in the table Ref points at. An empty namespace or
// table is sent as a null and selects the default.
type Set struct {
	Ref   store.TableRef
	Key   string
	Value *value.Value
}

func (s *Set) Type() MessageType { return MsgTSet }

func (s *Set) Frames() *Frames {
	f := NewFrames(MsgTSet, 4)
	pushRef(f, s.Ref)
	f.PushString(s.Key)
	f.PushBytes(s.Value.View())
	return f
}

func (s *Set) isMessage() {}

func parseSet(p *Parse) (*Set, error) {
	ref, key, err := nextRefKey(p)
	if err != nil {
		return nil, err
	}
	b, err := p.NextBytes()
	if err != nil {
		return nil, err
	}
	v, err := value.Owned(b)
	if err != nil {
		return nil, framingErrorf("%v", err)
	}
	return &Set{Ref: ref, Key: key, Value: v}, nil
}

// Get reads the value stored under Key.
type Get struct {
	Ref store.TableRef
	Key string
}

func (g *Get) Type() MessageType { return MsgTGet }

func (g *Get) Frames() *Frames {
	f := NewFrames(MsgTGet, 3)
	pushRef(f, g.Ref)
	f.PushString(g.Key)
	return f
}

func (g *Get) isMessage() {}

func parseGet(p *Parse) (*Get, error) {
	ref, key, err := nextRefKey(p)
	if err != nil {
		return nil, err
	}
	return &Get{Ref: ref, Key: key}, nil
}

// Delete removes Key. The server answers with the deleted value, or a null if the
// key held no value.
type Delete struct {
	Ref store.TableRef
	Key string
}

func (d *Delete) Type() MessageType { return MsgTDelete }

func (d *Delete) Frames() *Frames {
	f := NewFrames(MsgTDelete, 3)
	pushRef(f, d.Ref)
	f.PushString(d.Key)
	return f
}

func (d *Delete) isMessage() {}

func parseDelete(p *Parse) (*Delete, error) {
	ref, key, err := nextRefKey(p)
	if err != nil {
		return nil, err
	}
	return &Delete{Ref: ref, Key: key}, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func pushOptionalString(f *Frames, s string) {
	if s == "" {
		f.PushNull()
		return
	}
	f.PushString(s)
}

func pushRef(f *Frames, ref store.TableRef) {
	pushOptionalString(f, ref.Namespace)
	pushOptionalString(f, ref.Table)
}

func nextRefKey(p *Parse) (store.TableRef, string, error) {
	var ref store.TableRef
	var err error
	if ref.Namespace, err = p.NextStringOrEmpty(); err != nil {
		return ref, "", err
	}
	if ref.Table, err = p.NextStringOrEmpty(); err != nil {
		return ref, "", err
	}
	key, err := p.NextString()
	if err != nil {
		return ref, "", err
	}
	return ref, key, nil
}
