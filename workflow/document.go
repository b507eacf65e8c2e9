package workflow

import (
	"fmt"
	"time"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
	"gopkg.in/yaml.v3"
)

// Document is the persisted form of a trace. Executed traces keep their
// state and actual messages so that runs can be diffed.
type Document struct {
	Protocol string           `yaml:"protocol"`
	Role     session.Role     `yaml:"role"`
	Name     string           `yaml:"name,omitempty"`
	Actions  []ActionDocument `yaml:"actions"`
}

// ActionDocument is one action. Messages are mappings with a kind key and
// the fields of the variant inline.
type ActionDocument struct {
	Type     ActionType  `yaml:"type"`
	Name     string      `yaml:"name,omitempty"`
	State    State       `yaml:"state,omitempty"`
	Duration string      `yaml:"duration,omitempty"`
	Messages []yaml.Node `yaml:"messages,omitempty"`
	Actual   []yaml.Node `yaml:"actual,omitempty"`
}

const kindKey = "kind"

// EncodeMessage renders m as a mapping node led by its kind
func EncodeMessage(m message.Message) (*yaml.Node, error) {
	if m == nil {
		return nil, message.ErrNilMessage
	}
	n := new(yaml.Node)
	if err := n.Encode(m); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Kind(), err)
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("encoding %s: not a mapping", m.Kind())
	}
	n.Style = 0
	n.Content = append([]*yaml.Node{
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: kindKey},
		{Kind: yaml.ScalarNode, Tag: "!!str", Value: m.Kind().String()},
	}, n.Content...)
	return n, nil
}

// DecodeMessage reads a mapping written by EncodeMessage
func DecodeMessage(n *yaml.Node, reg *message.Registry) (message.Message, error) {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("message must be a mapping")
	}
	kind := ""
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == kindKey {
			kind = n.Content[i+1].Value
			break
		}
	}
	if kind == "" {
		return nil, fmt.Errorf("line %d: message without %s", n.Line, kindKey)
	}
	m, err := reg.New(message.Kind(kind))
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", n.Line, err)
	}
	if err := n.Decode(m); err != nil {
		return nil, fmt.Errorf("line %d: decoding %s: %w", n.Line, kind, err)
	}
	if err := m.Common().Overrides.Validate(); err != nil {
		return nil, fmt.Errorf("line %d: %s: %w", n.Line, kind, err)
	}
	return m, nil
}

func encodeMessages(msgs []message.Message) ([]yaml.Node, error) {
	out := make([]yaml.Node, 0, len(msgs))
	for _, m := range msgs {
		n, err := EncodeMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}

func decodeMessages(nodes []yaml.Node, reg *message.Registry) ([]message.Message, error) {
	out := make([]message.Message, 0, len(nodes))
	for i := range nodes {
		m, err := DecodeMessage(&nodes[i], reg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ToDocument converts the trace and its current results
func ToDocument(t *Trace) (*Document, error) {
	doc := &Document{
		Protocol: t.Protocol,
		Role:     t.Role,
		Name:     t.Name,
		Actions:  make([]ActionDocument, 0, len(t.actions)),
	}
	for i, a := range t.actions {
		ad := ActionDocument{Type: a.Type(), State: a.State()}
		var err error
		switch v := a.(type) {
		case *SendAction:
			ad.Name = v.Name
			if ad.Messages, err = encodeMessages(v.Messages); err == nil {
				ad.Actual, err = encodeMessages(v.actual)
			}
		case *ReceiveAction:
			ad.Name = v.Name
			if ad.Messages, err = encodeMessages(v.Expected); err == nil {
				ad.Actual, err = encodeMessages(v.actual)
			}
		case *WaitAction:
			ad.Duration = v.Duration.String()
		case *ResetTranscriptAction:
		default:
			err = fmt.Errorf("%w: %T", ErrUnknownActionType, a)
		}
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		doc.Actions = append(doc.Actions, ad)
	}
	return doc, nil
}

// FromDocument rebuilds a trace. Message kinds resolve against reg.
func FromDocument(doc *Document, reg *message.Registry) (*Trace, error) {
	if doc.Protocol != reg.Protocol() {
		return nil, fmt.Errorf("trace is for %q, registry for %q", doc.Protocol, reg.Protocol())
	}
	t := NewTrace(doc.Protocol, doc.Role)
	t.Name = doc.Name
	for i, ad := range doc.Actions {
		a, err := fromActionDocument(ad, reg)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		t.Add(a)
	}
	return t, nil
}

func fromActionDocument(ad ActionDocument, reg *message.Registry) (Action, error) {
	switch ad.Type {
	case TypeSend, TypeReceive:
		msgs, err := decodeMessages(ad.Messages, reg)
		if err != nil {
			return nil, err
		}
		actual, err := decodeMessages(ad.Actual, reg)
		if err != nil {
			return nil, err
		}
		if len(actual) == 0 {
			actual = nil
		}
		if ad.Type == TypeSend {
			a := &SendAction{Name: ad.Name, Messages: msgs, actual: actual}
			a.state = ad.State
			return a, nil
		}
		a := &ReceiveAction{Name: ad.Name, Expected: msgs, actual: actual}
		a.state = ad.State
		return a, nil
	case TypeWait:
		d, err := time.ParseDuration(ad.Duration)
		if err != nil {
			return nil, fmt.Errorf("wait duration: %w", err)
		}
		a := NewWaitAction(d)
		a.state = ad.State
		return a, nil
	case TypeResetTranscript:
		a := NewResetTranscriptAction()
		a.state = ad.State
		return a, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, ad.Type)
}

// Encode writes the trace as YAML
func Encode(t *Trace) ([]byte, error) {
	doc, err := ToDocument(t)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// Decode parses a YAML trace
func Decode(data []byte, reg *message.Registry) (*Trace, error) {
	doc := &Document{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parsing trace: %w", err)
	}
	return FromDocument(doc, reg)
}

// PeekProtocol returns the protocol named by a trace document
func PeekProtocol(data []byte) (string, error) {
	var head struct {
		Protocol string `yaml:"protocol"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("parsing trace: %w", err)
	}
	if head.Protocol == "" {
		return "", fmt.Errorf("trace names no protocol")
	}
	return head.Protocol, nil
}
