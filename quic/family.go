package quic

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
	TracePing  = "ping"
	TraceClose = "close"
)

type Family struct{}

var QUIC = Family{}

func (Family) Name() string {
	return "quic"
}

func (Family) Network() string {
	return "udp"
}

func (Family) Options(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return DefaultOptions(), nil
	}
	return DecodeOptions(cfg.Options)
}

func (f Family) Registry(cfg *config.Config) (*message.Registry, error) {
	if _, err := f.Options(cfg); err != nil {
		return nil, err
	}
	return NewRegistry(), nil
}

func (f Family) Layer(cfg *config.Config) (layer.Layer, error) {
	opts, err := f.Options(cfg)
	if err != nil {
		return nil, err
	}
	return NewPackets(opts), nil
}

func (Family) Traces() []string {
	return []string{TracePing, TraceClose}
}

func (Family) Trace(name string, role session.Role, _ *config.Config) (*workflow.Trace, error) {
	return NewTrace(name, role)
}

func optional(m message.Message) message.Message {
	m.Common().SetRequired(false)
	return m
}

// NewTrace builds a factory trace. Responder traces mirror the initiator.
func NewTrace(name string, role session.Role) (*workflow.Trace, error) {
	t := workflow.NewTrace("quic", role)
	t.Name = name
	initiator := role == session.Initiator
	switch name {
	case TracePing:
		if initiator {
			t.Add(
				workflow.NewSendAction(&Ping{}, &Padding{Length: 20}),
				workflow.NewReceiveAction(&Ack{}),
			)
		} else {
			t.Add(
				workflow.NewReceiveAction(&Ping{}, optional(&Padding{})),
				workflow.NewSendAction(&Ack{}),
			)
		}
	case TraceClose:
		if initiator {
			t.Add(
				workflow.NewSendAction(&ConnectionClose{FrameType: FramePing, Reason: "closing"}),
				workflow.NewReceiveAction(&ConnectionClose{}),
			)
		} else {
			t.Add(
				workflow.NewReceiveAction(&ConnectionClose{}),
				workflow.NewSendAction(&ConnectionClose{Application: true, Reason: "bye"}),
			)
		}
	default:
		return nil, fmt.Errorf("%w: quic has no %q", workflow.ErrUnknownTrace, name)
	}
	return t, nil
}
