// Package modvar holds the hook through which every overridable message
// field passes after its natural value is computed.
package modvar

import (
	"encoding/hex"
	"fmt"
	"sort"
)

// Field names a message field. Hooks installed for a whole run receive
// qualified names such as "ClientHello.cipher_suites".
type Field string

// Qualify prefixes a field name with the message kind
func Qualify(kind string, name string) Field {
	return Field(kind + "." + name)
}

// Hook replaces natural field values. It is called exactly once per field and
// prepare call.
type Hook interface {
	ApplyBytes(f Field, natural []byte) []byte
	ApplyUint(f Field, natural uint64) uint64
}

// Nop leaves every value untouched
type Nop struct{}

var _ Hook = Nop{}

func (Nop) ApplyBytes(_ Field, natural []byte) []byte { return natural }

func (Nop) ApplyUint(_ Field, natural uint64) uint64 { return natural }

// Override is a persisted modification of one field. Explicit values win,
// the remaining operations are applied in declaration order.
type Override struct {
	Bytes    string  `yaml:"bytes,omitempty" json:"bytes,omitempty"`
	Uint     *uint64 `yaml:"uint,omitempty" json:"uint,omitempty"`
	Xor      string  `yaml:"xor,omitempty" json:"xor,omitempty"`
	Add      int64   `yaml:"add,omitempty" json:"add,omitempty"`
	Prepend  string  `yaml:"prepend,omitempty" json:"prepend,omitempty"`
	Append   string  `yaml:"append,omitempty" json:"append,omitempty"`
	Truncate *int    `yaml:"truncate,omitempty" json:"truncate,omitempty"`
}

// Validate checks that the hex encoded parts decode
func (o Override) Validate() error {
	for name, v := range map[string]string{"bytes": o.Bytes, "xor": o.Xor, "prepend": o.Prepend, "append": o.Append} {
		if _, err := hex.DecodeString(v); err != nil {
			return fmt.Errorf("override %s: %w", name, err)
		}
	}
	if o.Truncate != nil && *o.Truncate < 0 {
		return fmt.Errorf("override truncate: negative length %d", *o.Truncate)
	}
	return nil
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func (o Override) applyBytes(natural []byte) []byte {
	out := make([]byte, len(natural))
	copy(out, natural)
	if o.Bytes != "" {
		out = mustHex(o.Bytes)
	}
	if key := mustHex(o.Xor); len(key) > 0 {
		for i := range out {
			out[i] ^= key[i%len(key)]
		}
	}
	if pre := mustHex(o.Prepend); len(pre) > 0 {
		out = append(pre, out...)
	}
	if app := mustHex(o.Append); len(app) > 0 {
		out = append(out, app...)
	}
	if o.Truncate != nil && *o.Truncate < len(out) {
		out = out[:*o.Truncate]
	}
	return out
}

func (o Override) applyUint(natural uint64) uint64 {
	v := natural
	if o.Uint != nil {
		v = *o.Uint
	}
	if key := mustHex(o.Xor); len(key) > 0 {
		var x uint64
		for _, b := range key {
			x = x<<8 | uint64(b)
		}
		v ^= x
	}
	return v + uint64(o.Add)
}

// Overrides maps unqualified field names to their modification
type Overrides map[Field]Override

var _ Hook = Overrides{}

func (o Overrides) ApplyBytes(f Field, natural []byte) []byte {
	mod, ok := o[f]
	if !ok {
		return natural
	}
	return mod.applyBytes(natural)
}

func (o Overrides) ApplyUint(f Field, natural uint64) uint64 {
	mod, ok := o[f]
	if !ok {
		return natural
	}
	return mod.applyUint(natural)
}

// Fields returns the overridden field names in sorted order
func (o Overrides) Fields() []Field {
	out := make([]Field, 0, len(o))
	for f := range o {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks every override
func (o Overrides) Validate() error {
	for _, f := range o.Fields() {
		if err := o[f].Validate(); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}
	return nil
}

type chain []Hook

func (c chain) ApplyBytes(f Field, natural []byte) []byte {
	for _, h := range c {
		natural = h.ApplyBytes(f, natural)
	}
	return natural
}

func (c chain) ApplyUint(f Field, natural uint64) uint64 {
	for _, h := range c {
		natural = h.ApplyUint(f, natural)
	}
	return natural
}

// Chain combines hooks, applying them in order. Nil hooks are skipped.
func Chain(hooks ...Hook) Hook {
	c := make(chain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			c = append(c, h)
		}
	}
	if len(c) == 0 {
		return Nop{}
	}
	return c
}

// Recorder wraps a hook and records every field it was consulted for
type Recorder struct {
	Hook   Hook
	Called []Field
}

func (r *Recorder) ApplyBytes(f Field, natural []byte) []byte {
	r.Called = append(r.Called, f)
	if r.Hook == nil {
		return natural
	}
	return r.Hook.ApplyBytes(f, natural)
}

func (r *Recorder) ApplyUint(f Field, natural uint64) uint64 {
	r.Called = append(r.Called, f)
	if r.Hook == nil {
		return natural
	}
	return r.Hook.ApplyUint(f, natural)
}
