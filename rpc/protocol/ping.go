package protocol

import (
	"time"
)

// Ping checks liveness. The client sends its own timestamp, the server answers
// with a Ping that echoes it and adds the server timestamp. Zero times are sent as
// null frames.
type Ping struct {
	ClientTime time.Time
	ServerTime time.Time
}

// NewPing creates a ping stamped with the current time.
func NewPing() *Ping {
	return &Ping{ClientTime: time.Now().UTC()}
}

// Ack returns the server's answer to p stamped with now.
func (p *Ping) Ack(now time.Time) *Ping {
	return &Ping{ClientTime: p.ClientTime, ServerTime: now.UTC()}
}

// RoundTrip returns the time elapsed since the client stamped the ping.
func (p *Ping) RoundTrip(now time.Time) time.Duration {
	if p.ClientTime.IsZero() {
		return 0
	}
	return now.Sub(p.ClientTime)
}

func (p *Ping) Type() MessageType { return MsgTPing }

func (p *Ping) Frames() *Frames {
	f := NewFrames(MsgTPing, 2)
	pushTime(f, p.ClientTime)
	pushTime(f, p.ServerTime)
	return f
}

func (p *Ping) isMessage() {}

func parsePing(p *Parse) (*Ping, error) {
	client, err := nextTime(p)
	if err != nil {
		return nil, err
	}
	server, err := nextTime(p)
	if err != nil {
		return nil, err
	}
	return &Ping{ClientTime: client, ServerTime: server}, nil
}

func pushTime(f *Frames, t time.Time) {
	if t.IsZero() {
		f.PushNull()
		return
	}
	f.PushString(t.UTC().Format(time.RFC3339Nano))
}

func nextTime(p *Parse) (time.Time, error) {
	b, err := p.NextBytesOrNull()
	if err != nil || b == nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(b))
	if err != nil {
		return time.Time{}, framingErrorf("invalid timestamp %q", b)
	}
	return t, nil
}
