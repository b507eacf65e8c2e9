// Package parser implements a forward only cursor over an immutable byte
// slice. Enclosing structures push constraints that every subsequent read has
// to pass, which is how a declared outer length bounds the inner fields.
package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedInput is returned when fewer bytes remain than requested
	ErrTruncatedInput = errors.New("truncated input")
	// ErrInvalidLength is returned for negative lengths or unsupported integer widths
	ErrInvalidLength = errors.New("invalid length")
	// ErrEndOfInput is returned when peeking past the last byte
	ErrEndOfInput = errors.New("end of input")
	// ErrConstraintViolated is returned when a read would cross a declared boundary
	ErrConstraintViolated = errors.New("read crosses declared boundary")
)

// Parser reads values from data starting at origin.
// cursor never decreases and never exceeds len(data).
type Parser struct {
	data        []byte
	origin      int
	cursor      int
	constraints []Constraint
}

// New creates a Parser reading data from start
func New(data []byte, start int) *Parser {
	if start < 0 {
		start = 0
	}
	if start > len(data) {
		start = len(data)
	}
	return &Parser{
		data:        data,
		origin:      start,
		cursor:      start,
		constraints: make([]Constraint, 0),
	}
}

// Cursor returns the current absolute read offset
func (p *Parser) Cursor() int {
	return p.cursor
}

// Origin returns the offset parsing started at
func (p *Parser) Origin() int {
	return p.origin
}

// Remaining returns the number of unread bytes
func (p *Parser) Remaining() int {
	return len(p.data) - p.cursor
}

// AlreadyParsed returns the bytes consumed since origin
func (p *Parser) AlreadyParsed() []byte {
	out := make([]byte, p.cursor-p.origin)
	copy(out, p.data[p.origin:p.cursor])
	return out
}

// Depth returns the number of active constraints
func (p *Parser) Depth() int {
	return len(p.constraints)
}

// PushContext activates a constraint for all following reads
func (p *Parser) PushContext(c Constraint) {
	p.constraints = append(p.constraints, c)
}

// PopContext removes the most recent constraint. Popping an empty stack
// returns false.
func (p *Parser) PopContext() (Constraint, bool) {
	if len(p.constraints) == 0 {
		return nil, false
	}
	last := len(p.constraints) - 1
	c := p.constraints[last]
	p.constraints[last] = nil
	p.constraints = p.constraints[:last]
	return c, true
}

func (p *Parser) check(n int) error {
	for i := len(p.constraints) - 1; i >= 0; i-- {
		var previous Constraint
		if i > 0 {
			previous = p.constraints[i-1]
		}
		if err := p.constraints[i].CheckBeforeRead(p.cursor, n, previous); err != nil {
			return err
		}
	}
	return nil
}

// ReadBytes returns the next n bytes. Reading zero bytes always succeeds and
// does not consult the constraints.
func (p *Parser) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	if p.Remaining() < n {
		return nil, fmt.Errorf("%w: want %d bytes at offset %d, have %d", ErrTruncatedInput, n, p.cursor, p.Remaining())
	}
	if err := p.check(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p.data[p.cursor:p.cursor+n])
	p.cursor += n
	return out, nil
}

// ReadUint reads a big endian unsigned integer of n bytes, 1 <= n <= 8
func (p *Parser) ReadUint(n int) (uint64, error) {
	if n <= 0 || n > 8 {
		return 0, fmt.Errorf("%w: integer of %d bytes", ErrInvalidLength, n)
	}
	b, err := p.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// ReadUint8 reads one byte
func (p *Parser) ReadUint8() (uint8, error) {
	v, err := p.ReadUint(1)
	return uint8(v), err
}

// ReadUint16 reads a big endian uint16
func (p *Parser) ReadUint16() (uint16, error) {
	v, err := p.ReadUint(2)
	return uint16(v), err
}

// ReadUint24 reads a three byte big endian length
func (p *Parser) ReadUint24() (uint32, error) {
	v, err := p.ReadUint(3)
	return uint32(v), err
}

// ReadUint32 reads a big endian uint32
func (p *Parser) ReadUint32() (uint32, error) {
	v, err := p.ReadUint(4)
	return uint32(v), err
}

// ReadUntilByte consumes bytes up to and including terminator. On failure the
// cursor is restored.
func (p *Parser) ReadUntilByte(terminator byte) ([]byte, error) {
	start := p.cursor
	for {
		b, err := p.ReadBytes(1)
		if err != nil {
			p.cursor = start
			return nil, err
		}
		if b[0] == terminator {
			break
		}
	}
	out := make([]byte, p.cursor-start)
	copy(out, p.data[start:p.cursor])
	return out, nil
}

// Peek returns the next byte without advancing
func (p *Parser) Peek() (byte, error) {
	if p.Remaining() <= 0 {
		return 0, ErrEndOfInput
	}
	return p.data[p.cursor], nil
}

// ReadRemainderOrUpTo returns n bytes or everything that is left, whichever is
// smaller
func (p *Parser) ReadRemainderOrUpTo(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	if rem := p.Remaining(); rem < n {
		n = rem
	}
	return p.ReadBytes(n)
}

// ReadRemainder returns all unread bytes
func (p *Parser) ReadRemainder() ([]byte, error) {
	return p.ReadBytes(p.Remaining())
}

// Nested bounds fn to the next length bytes. The constraint is popped on
// every path.
func (p *Parser) Nested(name string, length int, fn func() error) error {
	if length < 0 {
		return fmt.Errorf("%w: %s of %d bytes", ErrInvalidLength, name, length)
	}
	p.PushContext(Within(name, p.cursor, length))
	defer p.PopContext()
	return fn()
}

// Exhausted reports whether the cursor reached the end of a nested block
// starting at start with the given length
func (p *Parser) Exhausted(start, length int) bool {
	return p.cursor >= start+length || p.Remaining() == 0
}

// Consumed returns the bytes between from and the cursor
func (p *Parser) Consumed(from int) []byte {
	if from < 0 || from > p.cursor {
		return []byte{}
	}
	out := make([]byte, p.cursor-from)
	copy(out, p.data[from:p.cursor])
	return out
}
