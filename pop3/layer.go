package pop3

import (
	"bytes"

	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/lineproto"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
)

var verbs = map[string]message.Kind{
	"USER": KindUser,
	"PASS": KindPass,
	"STAT": KindStat,
	"LIST": KindList,
	"RETR": KindRetr,
	"DELE": KindDele,
	"NOOP": KindNoop,
	"QUIT": KindQuit,
}

// Lines cuts replies on the initiator side and command lines on the
// responder side. A positive answer to RETR or a bare LIST runs up to the
// dot line.
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
		if ctx.Role() == session.Initiator && len(units) == 0 && multiline(ctx) &&
			bytes.HasPrefix(l.in.Peek(), []byte(StatusOK)) {
			unit, ok = l.in.NextDotTerminated()
		} else {
			unit, ok = l.in.NextLine()
		}
		if !ok {
			return units
		}
		units = append(units, layer.Unit{Data: unit})
	}
}

func multiline(ctx *session.Context) bool {
	switch lineproto.LastCommand(ctx, KindGreeting) {
	case KindRetr, KindList:
		return true
	}
	return false
}

func (l *Lines) Buffered() int {
	return l.in.Len()
}

func (l *Lines) Pending() []byte {
	return l.in.Drain()
}

func (l *Lines) Detect(ctx *session.Context, u layer.Unit) (message.Kind, bool) {
	if ctx.Role() == session.Initiator {
		if lineproto.LastCommand(ctx, KindGreeting) == KindStat {
			return KindStatReply, true
		}
		return KindReply, true
	}
	if kind, ok := verbs[lineproto.Verb(u.Data)]; ok {
		return kind, true
	}
	return KindUnknownCommand, true
}

func (l *Lines) Reset() {
	l.in.Reset()
}
