package protocol

// Authenticate carries the credentials a client presents after connecting.
type Authenticate struct {
	Username string
	Password string
}

func (a *Authenticate) Type() MessageType { return MsgTAuthenticate }

func (a *Authenticate) Frames() *Frames {
	f := NewFrames(MsgTAuthenticate, 2)
	f.PushString(a.Username)
	f.PushString(a.Password)
	return f
}

func (a *Authenticate) isMessage() {}

// String hides the password so the message can be logged.
func (a *Authenticate) String() string {
	return "Authenticate{Username: " + a.Username + ", Password: ***}"
}

func parseAuthenticate(p *Parse) (*Authenticate, error) {
	user, err := p.NextString()
	if err != nil {
		return nil, err
	}
	pass, err := p.NextString()
	if err != nil {
		return nil, err
	}
	return &Authenticate{Username: user, Password: pass}, nil
}
