// Package protocol is the table of protocol families known at compile time
package protocol

import (
	"errors"
	"fmt"
	"sort"

	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/pop3"
	"github.com/wiretamper/wiretamper/quic"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/smtp"
	"github.com/wiretamper/wiretamper/tls"
	"github.com/wiretamper/wiretamper/workflow"
)

// ErrUnknownProtocol is returned for names missing from the table
var ErrUnknownProtocol = errors.New("unknown protocol")

// Family bundles everything needed to run traces of one protocol. A nil
// config means defaults everywhere.
type Family interface {
	Name() string
	// Network is the default transport network, tcp or udp
	Network() string
	Registry(cfg *config.Config) (*message.Registry, error)
	// Layer returns a fresh layer, layers keep per connection state
	Layer(cfg *config.Config) (layer.Layer, error)
	// Traces lists the factory trace names
	Traces() []string
	Trace(name string, role session.Role, cfg *config.Config) (*workflow.Trace, error)
}

var families = map[string]Family{
	tls.TLS.Name():   tls.TLS,
	tls.DTLS.Name():  tls.DTLS,
	quic.QUIC.Name(): quic.QUIC,
	smtp.SMTP.Name(): smtp.SMTP,
	pop3.POP3.Name(): pop3.POP3,
}

// Get looks a family up by name
func Get(name string) (Family, error) {
	f, ok := families[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	return f, nil
}

// Names lists the known families in lexical order
func Names() []string {
	out := make([]string, 0, len(families))
	for name := range families {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Network returns the network of cfg, falling back to the family default
func Network(f Family, cfg *config.Config) string {
	if cfg != nil && cfg.Network != "" {
		return cfg.Network
	}
	return f.Network()
}

// Resolved is a trace together with the family and registry it belongs to
type Resolved struct {
	Family   Family
	Registry *message.Registry
	Trace    *workflow.Trace
	// Document is the YAML form of Trace
	Document []byte
}

// Resolve decodes doc when it is not empty. Otherwise it builds the factory
// trace traceName of the configured protocol and role, the first factory
// trace when traceName is empty.
func Resolve(cfg *config.Config, doc []byte, traceName string) (*Resolved, error) {
	if len(doc) > 0 {
		name, err := workflow.PeekProtocol(doc)
		if err != nil {
			return nil, err
		}
		f, err := Get(name)
		if err != nil {
			return nil, err
		}
		reg, err := f.Registry(cfg)
		if err != nil {
			return nil, err
		}
		trace, err := workflow.Decode(doc, reg)
		if err != nil {
			return nil, err
		}
		return &Resolved{Family: f, Registry: reg, Trace: trace, Document: doc}, nil
	}

	if cfg == nil {
		cfg = config.Default()
	}
	f, err := Get(cfg.Protocol)
	if err != nil {
		return nil, err
	}
	role, err := session.ParseRole(cfg.Role)
	if err != nil {
		return nil, err
	}
	if traceName == "" {
		traceName = f.Traces()[0]
	}
	trace, err := f.Trace(traceName, role, cfg)
	if err != nil {
		return nil, err
	}
	reg, err := f.Registry(cfg)
	if err != nil {
		return nil, err
	}
	raw, err := workflow.Encode(trace)
	if err != nil {
		return nil, err
	}
	return &Resolved{Family: f, Registry: reg, Trace: trace, Document: raw}, nil
}
