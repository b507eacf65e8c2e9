package smtp

import (
	"bytes"

	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/lineproto"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
)

var verbs = map[string]message.Kind{
	"EHLO": KindEhlo,
	"HELO": KindHelo,
	"MAIL": KindMail,
	"RCPT": KindRcpt,
	"DATA": KindData,
	"QUIT": KindQuit,
	"NOOP": KindNoop,
	"RSET": KindRset,
	"VRFY": KindVrfy,
}

// Lines cuts the stream into replies on the initiator side and into command
// lines or mail content on the responder side. Bytes without a line end stay
// buffered until the receive ends.
type Lines struct {
	in layer.Buffer
}

var _ layer.Layer = &Lines{}

func NewLines() *Lines {
	return &Lines{}
}

func (*Lines) ContentType(message.Message) uint8 {
	return 0
}

func (*Lines) Wrap(_ *session.Context, _ uint8, payload []byte) []byte {
	return payload
}

func (l *Lines) Feed(ctx *session.Context, data []byte) []layer.Unit {
	l.in.Write(data)
	units := make([]layer.Unit, 0)
	for {
		var unit []byte
		var ok bool
		switch {
		case ctx.Role() == session.Initiator:
			unit, ok = l.nextReply()
		case lineproto.LastCommand(ctx, KindInitialGreeting) == KindData && len(units) == 0:
			unit, ok = l.in.NextDotTerminated()
		default:
			unit, ok = l.in.NextLine()
		}
		if !ok {
			return units
		}
		units = append(units, layer.Unit{Data: unit})
	}
}

// nextReply cuts one complete reply, the last line of which has no dash
// after the code
func (l *Lines) nextReply() ([]byte, bool) {
	data := l.in.Peek()
	off := 0
	for {
		i := bytes.IndexByte(data[off:], '\n')
		if i < 0 {
			return nil, false
		}
		line := data[off : off+i+1]
		off += i + 1
		if len(line) < 4 || line[3] != '-' {
			return l.in.Next(off), true
		}
	}
}

func (l *Lines) Buffered() int {
	return l.in.Len()
}

func (l *Lines) Pending() []byte {
	return l.in.Drain()
}

// Detect picks the reply variant from the last command on the initiator side
// and the command from its verb on the responder side
func (l *Lines) Detect(ctx *session.Context, u layer.Unit) (message.Kind, bool) {
	last := lineproto.LastCommand(ctx, KindInitialGreeting)
	if ctx.Role() == session.Initiator {
		if last == KindEhlo {
			return KindEhloReply, true
		}
		return KindReply, true
	}
	if last == KindData && layer.DotTerminated(u.Data) == len(u.Data) {
		return KindMailContent, true
	}
	if kind, ok := verbs[lineproto.Verb(u.Data)]; ok {
		return kind, true
	}
	return KindUnknownCommand, true
}

func (l *Lines) Reset() {
	l.in.Reset()
}
