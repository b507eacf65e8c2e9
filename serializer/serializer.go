// Package serializer provides the append only buffer message serializers
// write into.
package serializer

import (
	"golang.org/x/crypto/cryptobyte"
)

// Serializer is a growing output buffer
type Serializer struct {
	b *cryptobyte.Builder
}

// New returns an empty Serializer
func New() *Serializer {
	return &Serializer{
		b: cryptobyte.NewBuilder(make([]byte, 0, 64)),
	}
}

// AppendBytes appends raw bytes
func (s *Serializer) AppendBytes(b []byte) {
	s.b.AddBytes(b)
}

// AppendString appends the bytes of str
func (s *Serializer) AppendString(str string) {
	s.b.AddBytes([]byte(str))
}

// AppendUint writes the n low order bytes of v in big endian order. Values
// that do not fit are truncated so that overridden lengths can be written.
func (s *Serializer) AppendUint(v uint64, n int) {
	if n <= 0 {
		return
	}
	if n > 8 {
		s.b.AddBytes(make([]byte, n-8))
		n = 8
	}
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	s.b.AddBytes(out)
}

func (s *Serializer) AppendUint8(v uint8) {
	s.b.AddUint8(v)
}

func (s *Serializer) AppendUint16(v uint16) {
	s.b.AddUint16(v)
}

func (s *Serializer) AppendUint24(v uint32) {
	s.b.AddUint24(v)
}

func (s *Serializer) AppendUint32(v uint32) {
	s.b.AddUint32(v)
}

// AlreadySerialized returns a copy of everything written so far
func (s *Serializer) AlreadySerialized() []byte {
	b, err := s.b.Bytes()
	if err != nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Len returns the number of bytes written so far
func (s *Serializer) Len() int {
	b, _ := s.b.Bytes()
	return len(b)
}

// Bytes returns the serialized output
func (s *Serializer) Bytes() []byte {
	return s.AlreadySerialized()
}
