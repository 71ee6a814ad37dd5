package protocol

// Message is one of the protocol's message variants: *Ping, *Authenticate,
// *Success, *Fail, *Set, *Get or *Delete. The set is closed.
type Message interface {
	// Type returns the discriminant written in the first frame
	Type() MessageType
	// Frames encodes the message
	Frames() *Frames

	isMessage()
}

// MessageFromFrames decodes f into the message variant named by its first frame.
// Frames left over after the variant's fields yield a *FramingError.
func MessageFromFrames(f *Frames) (Message, error) {
	p := NewParse(f)
	t, err := p.MessageType()
	if err != nil {
		return nil, err
	}

	var m Message
	switch t {
	case MsgTPing:
		m, err = parsePing(p)
	case MsgTAuthenticate:
		m, err = parseAuthenticate(p)
	case MsgTSuccess:
		m, err = parseSuccess(p)
	case MsgTFail:
		m, err = parseFail(p)
	case MsgTSet:
		m, err = parseSet(p)
	case MsgTGet:
		m, err = parseGet(p)
	case MsgTDelete:
		m, err = parseDelete(p)
	default:
		return nil, &UnknownMessageTypeError{MessageType: byte(t)}
	}
	if err != nil {
		return nil, err
	}

	if err := p.ExpectConsumed(); err != nil {
		return nil, err
	}
	return m, nil
}
