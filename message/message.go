// Package message defines the protocol message entity shared by all protocol
// families and the registry resolving a message kind to its parser,
// preparator, serializer and handler.
package message

import (
	"encoding/hex"
	"fmt"

	"github.com/wiretamper/wiretamper/modvar"
	"gopkg.in/yaml.v3"
)

// Kind identifies a concrete message variant within a protocol family
type Kind string

func (k Kind) String() string {
	return string(k)
}

// Message is one wire unit
type Message interface {
	Kind() Kind
	Common() *Base
}

// Base carries the state shared by every message variant
type Base struct {
	// Required marks a message that must be received for the trace to be executed as planned
	Required *bool `yaml:"required,omitempty"`
	// GoingToBeSent false prepares the message without transmitting it
	GoingToBeSent *bool `yaml:"going_to_be_sent,omitempty"`
	// AdjustContext false skips the handler
	AdjustContext *bool `yaml:"adjust_context,omitempty"`
	// Overrides of single fields
	Overrides modvar.Overrides `yaml:"overrides,omitempty"`
	// ResultingBytes exact bytes after serialization or parsing
	ResultingBytes Bytes `yaml:"resulting_bytes,omitempty"`
}

// Common returns the base itself so that embedding structs satisfy Message
func (b *Base) Common() *Base {
	return b
}

func flag(v *bool) bool {
	return v == nil || *v
}

// IsRequired defaults to true
func (b *Base) IsRequired() bool {
	return flag(b.Required)
}

// IsGoingToBeSent defaults to true
func (b *Base) IsGoingToBeSent() bool {
	return flag(b.GoingToBeSent)
}

// AdjustContextOnProcess reports whether the handler runs, true unless disabled
func (b *Base) AdjustContextOnProcess() bool {
	return flag(b.AdjustContext)
}

// SetRequired marks the message optional when v is false
func (b *Base) SetRequired(v bool) {
	b.Required = &v
}

// SetGoingToBeSent false keeps the message off the wire
func (b *Base) SetGoingToBeSent(v bool) {
	b.GoingToBeSent = &v
}

// SetAdjustContext false skips the handler
func (b *Base) SetAdjustContext(v bool) {
	b.AdjustContext = &v
}

// CompleteResultingBytes returns the bytes last serialized or parsed
func (b *Base) CompleteResultingBytes() []byte {
	return b.ResultingBytes
}

// SetCompleteResultingBytes records raw as the message's wire form
func (b *Base) SetCompleteResultingBytes(raw []byte) {
	b.ResultingBytes = raw
}

// Bytes is a byte slice written as hex in trace documents
type Bytes []byte

func (b Bytes) String() string {
	return hex.EncodeToString(b)
}

func (b Bytes) MarshalYAML() (interface{}, error) {
	return hex.EncodeToString(b), nil
}

func (b *Bytes) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid hex %q: %w", node.Line, s, err)
	}
	*b = raw
	return nil
}
