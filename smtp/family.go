package smtp

import (
	"fmt"

	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/workflow"
)

// Factory trace names
const (
	TraceHello = "hello"
	TraceMail  = "mail"
)

type Family struct{}

var SMTP = Family{}

func (Family) Name() string {
	return "smtp"
}

func (Family) Network() string {
	return "tcp"
}

func (Family) Options(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return DefaultOptions(), nil
	}
	return DecodeOptions(cfg.Options)
}

func (f Family) Registry(cfg *config.Config) (*message.Registry, error) {
	opts, err := f.Options(cfg)
	if err != nil {
		return nil, err
	}
	return NewRegistry(opts), nil
}

func (f Family) Layer(cfg *config.Config) (layer.Layer, error) {
	if _, err := f.Options(cfg); err != nil {
		return nil, err
	}
	return NewLines(), nil
}

func (Family) Traces() []string {
	return []string{TraceHello, TraceMail}
}

func (Family) Trace(name string, role session.Role, _ *config.Config) (*workflow.Trace, error) {
	return NewTrace(name, role)
}

// exchange is one command and its reply, seen from role
func exchange(t *workflow.Trace, role session.Role, name string, command, reply message.Message) {
	send := workflow.NewSendAction(command)
	recv := workflow.NewReceiveAction(reply)
	if role == session.Responder {
		send = workflow.NewSendAction(reply)
		recv = workflow.NewReceiveAction(command)
		t.Add(recv, send)
	} else {
		t.Add(send, recv)
	}
	send.Name = name
	recv.Name = name
}

// NewTrace builds a factory trace. The responder answers every command the
// initiator sends.
func NewTrace(name string, role session.Role) (*workflow.Trace, error) {
	t := workflow.NewTrace("smtp", role)
	t.Name = name
	greeting := &Reply{}
	if role == session.Initiator {
		t.Add(workflow.NewReceiveAction(greeting))
	} else {
		t.Add(workflow.NewSendAction(greeting))
	}
	switch name {
	case TraceHello:
		exchange(t, role, "ehlo", &Ehlo{}, &EhloReply{})
	case TraceMail:
		exchange(t, role, "ehlo", &Ehlo{}, &EhloReply{})
		exchange(t, role, "mail", &Mail{}, &Reply{})
		exchange(t, role, "rcpt", &Rcpt{}, &Reply{})
		exchange(t, role, "data", &Data{}, &Reply{})
		exchange(t, role, "content", &MailContent{}, &Reply{})
	default:
		return nil, fmt.Errorf("%w: smtp has no %q", workflow.ErrUnknownTrace, name)
	}
	exchange(t, role, "quit", &Quit{}, &Reply{})
	return t, nil
}
