package tls

import (
	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/workflow"
)

// Family builds registries, record layers and factory traces for tls or dtls
type Family struct {
	dtls bool
}

var (
	TLS  = Family{}
	DTLS = Family{dtls: true}
)

func (f Family) Name() string {
	if f.dtls {
		return "dtls"
	}
	return "tls"
}

// Network is the transport used when the config leaves it empty
func (f Family) Network() string {
	if f.dtls {
		return "udp"
	}
	return "tcp"
}

func (f Family) Options(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return DefaultOptions(f.dtls), nil
	}
	return DecodeOptions(cfg.Options, f.dtls)
}

func (f Family) Registry(cfg *config.Config) (*message.Registry, error) {
	opts, err := f.Options(cfg)
	if err != nil {
		return nil, err
	}
	return NewRegistry(opts), nil
}

func (f Family) Layer(cfg *config.Config) (layer.Layer, error) {
	opts, err := f.Options(cfg)
	if err != nil {
		return nil, err
	}
	return NewRecords(opts), nil
}

func (f Family) Traces() []string {
	return []string{TraceHello, TraceHandshake, TraceAlert}
}

func (f Family) Trace(name string, role session.Role, cfg *config.Config) (*workflow.Trace, error) {
	opts, err := f.Options(cfg)
	if err != nil {
		return nil, err
	}
	return NewTrace(name, role, opts)
}
