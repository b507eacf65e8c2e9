package tls

import (
	"fmt"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/workflow"
)

// Factory trace names
const (
	TraceHello     = "hello"
	TraceHandshake = "handshake"
	TraceAlert     = "alert"
)

func optional(m message.Message) message.Message {
	m.Common().SetRequired(false)
	return m
}

func send(name string, msgs ...message.Message) *workflow.SendAction {
	a := workflow.NewSendAction(msgs...)
	a.Name = name
	return a
}

func receive(name string, msgs ...message.Message) *workflow.ReceiveAction {
	a := workflow.NewReceiveAction(msgs...)
	a.Name = name
	return a
}

// NewTrace builds a factory trace. The responder traces mirror the
// initiator ones so that two instances can run against each other.
func NewTrace(name string, role session.Role, opts Options) (*workflow.Trace, error) {
	family := "tls"
	if opts.DTLS {
		family = "dtls"
	}
	t := workflow.NewTrace(family, role)
	t.Name = name
	switch name {
	case TraceHello:
		addHello(t, role, opts)
	case TraceHandshake:
		addHello(t, role, opts)
		addFinish(t, role)
	case TraceAlert:
		if role == session.Initiator {
			t.Add(
				send("client hello", &ClientHello{}),
				receive("alert", &Alert{}),
			)
		} else {
			t.Add(
				receive("client hello", &ClientHello{}),
				send("alert", NewAlert(AlertHandshakeFailure)),
			)
		}
	default:
		return nil, fmt.Errorf("%w: %s has no %q", workflow.ErrUnknownTrace, family, name)
	}
	return t, nil
}

func addHello(t *workflow.Trace, role session.Role, opts Options) {
	if role == session.Initiator {
		if opts.DTLS {
			t.Add(
				send("client hello", &ClientHello{}),
				receive("hello verify request", &HelloVerifyRequest{}),
			)
		}
		t.Add(
			send("client hello", &ClientHello{}),
			receive("server hello",
				&ServerHello{},
				optional(&Certificate{}),
				optional(&ServerKeyExchange{}),
				&ServerHelloDone{},
			),
		)
		return
	}
	if opts.DTLS {
		t.Add(
			receive("client hello", &ClientHello{}),
			send("hello verify request", &HelloVerifyRequest{}),
		)
	}
	t.Add(
		receive("client hello", &ClientHello{}),
		send("server hello", &ServerHello{}, &ServerKeyExchange{}, &ServerHelloDone{}),
	)
}

func addFinish(t *workflow.Trace, role session.Role) {
	if role == session.Initiator {
		t.Add(
			send("client finish", &ClientKeyExchange{}, &ChangeCipherSpec{}, &Finished{}),
			receive("server finish", &ChangeCipherSpec{}, &Finished{}),
		)
		return
	}
	t.Add(
		receive("client finish", &ClientKeyExchange{}, &ChangeCipherSpec{}, &Finished{}),
		send("server finish", &ChangeCipherSpec{}, &Finished{}),
	)
}
