package parser

import "fmt"

// Constraint validates a read of n bytes at cursor before it happens.
// previous is the constraint pushed right before this one, nil at the bottom
// of the stack.
type Constraint interface {
	CheckBeforeRead(cursor, n int, previous Constraint) error
}

// ConstraintFunc adapts a function to the Constraint interface
type ConstraintFunc func(cursor, n int, previous Constraint) error

func (f ConstraintFunc) CheckBeforeRead(cursor, n int, previous Constraint) error {
	return f(cursor, n, previous)
}

// Boundary forbids reads crossing Start+Length
type Boundary struct {
	Name   string
	Start  int
	Length int
}

// Within returns a Boundary for the length bytes starting at start
func Within(name string, start, length int) *Boundary {
	return &Boundary{Name: name, Start: start, Length: length}
}

// End is the first offset outside the boundary
func (b *Boundary) End() int {
	return b.Start + b.Length
}

func (b *Boundary) CheckBeforeRead(cursor, n int, _ Constraint) error {
	if cursor+n > b.End() {
		return fmt.Errorf("%w: %s ends at %d, read of %d at %d", ErrConstraintViolated, b.Name, b.End(), n, cursor)
	}
	return nil
}

// ReadLimit caps the number of bytes read after its first check. It bounds
// reads that have no declared length, such as lines.
type ReadLimit struct {
	Name  string
	Limit int

	start   int
	started bool
}

// MaxRead returns a ReadLimit of limit bytes
func MaxRead(name string, limit int) *ReadLimit {
	return &ReadLimit{Name: name, Limit: limit}
}

func (r *ReadLimit) CheckBeforeRead(cursor, n int, _ Constraint) error {
	if !r.started {
		r.start = cursor
		r.started = true
	}
	if cursor+n-r.start > r.Limit {
		return fmt.Errorf("%w: %s is limited to %d bytes", ErrConstraintViolated, r.Name, r.Limit)
	}
	return nil
}
