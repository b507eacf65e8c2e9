package pop3

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
	TraceLogin    = "login"
	TraceStat     = "stat"
	TraceRetrieve = "retrieve"
)

type Family struct{}

var POP3 = Family{}

func (Family) Name() string {
	return "pop3"
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
	return []string{TraceLogin, TraceStat, TraceRetrieve}
}

func (Family) Trace(name string, role session.Role, _ *config.Config) (*workflow.Trace, error) {
	return NewTrace(name, role)
}

type step struct {
	name    string
	command message.Message
	reply   message.Message
}

// NewTrace builds a factory trace. The responder answers every command the
// initiator sends.
func NewTrace(name string, role session.Role) (*workflow.Trace, error) {
	steps := []step{
		{"user", &User{}, &Reply{}},
		{"pass", &Pass{}, &Reply{}},
	}
	switch name {
	case TraceLogin:
	case TraceStat:
		steps = append(steps, step{"stat", &Stat{}, &StatReply{}})
	case TraceRetrieve:
		steps = append(steps,
			step{"list", &List{}, &Reply{}},
			step{"retr", &Retr{}, &Reply{}},
			step{"dele", &Dele{}, &Reply{}},
		)
	default:
		return nil, fmt.Errorf("%w: pop3 has no %q", workflow.ErrUnknownTrace, name)
	}
	steps = append(steps, step{"quit", &Quit{}, &Reply{}})

	t := workflow.NewTrace("pop3", role)
	t.Name = name
	if role == session.Initiator {
		t.Add(workflow.NewReceiveAction(&Reply{}))
	} else {
		t.Add(workflow.NewSendAction(&Reply{}))
	}
	for _, s := range steps {
		send := workflow.NewSendAction(s.command)
		recv := workflow.NewReceiveAction(s.reply)
		if role == session.Responder {
			send = workflow.NewSendAction(s.reply)
			recv = workflow.NewReceiveAction(s.command)
			t.Add(recv, send)
		} else {
			t.Add(send, recv)
		}
		send.Name = s.name
		recv.Name = s.name
	}
	return t, nil
}
