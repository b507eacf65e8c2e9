package parser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadUintTruncated(t *testing.T) {
	p := New([]byte{0x01, 0x02}, 0)
	_, err := p.ReadUint(4)
	require.ErrorIs(t, err, ErrTruncatedInput)
	assert.Equal(t, 0, p.Cursor())

	v, err := p.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), v)
}

func TestReadFixedWidthUints(t *testing.T) {
	p := New([]byte{0x07, 0x00, 0x00, 0x2a, 0xde, 0xad, 0xbe, 0xef}, 0)
	u8, err := p.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	u24, err := p.ReadUint24()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u24)

	u32, err := p.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u32)
	assert.Equal(t, 0, p.Remaining())
}

func TestReadBytesBoundaries(t *testing.T) {
	p := New([]byte{0xaa, 0xbb, 0xcc}, 1)
	assert.Equal(t, 1, p.Origin())

	// zero length reads ignore constraints, even failing ones
	p.PushContext(ConstraintFunc(func(int, int, Constraint) error {
		return errors.New("always")
	}))
	b, err := p.ReadBytes(0)
	require.NoError(t, err)
	assert.Empty(t, b)
	assert.Equal(t, 1, p.Cursor())
	_, err = p.ReadBytes(1)
	assert.Error(t, err)
	p.PopContext()

	_, err = p.ReadBytes(-1)
	assert.ErrorIs(t, err, ErrInvalidLength)
	_, err = p.ReadUint(0)
	assert.ErrorIs(t, err, ErrInvalidLength)
	_, err = p.ReadUint(9)
	assert.ErrorIs(t, err, ErrInvalidLength)

	b, err = p.ReadBytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbb, 0xcc}, b)
	assert.Equal(t, []byte{0xbb, 0xcc}, p.AlreadyParsed())
	assert.Equal(t, 0, p.Remaining())

	_, err = p.Peek()
	assert.ErrorIs(t, err, ErrEndOfInput)
}

func TestPeekDoesNotAdvance(t *testing.T) {
	p := New([]byte{0x16, 0x03}, 0)
	b, err := p.Peek()
	require.NoError(t, err)
	assert.Equal(t, byte(0x16), b)
	assert.Equal(t, 0, p.Cursor())
}

func TestReadUntilByte(t *testing.T) {
	p := New([]byte("250 ok\r\n220"), 0)
	line, err := p.ReadUntilByte('\n')
	require.NoError(t, err)
	assert.Equal(t, "250 ok\r\n", string(line))

	_, err = p.ReadUntilByte('\n')
	assert.ErrorIs(t, err, ErrTruncatedInput)
	assert.Equal(t, 8, p.Cursor())
}

func TestReadUntilByteRespectsConstraint(t *testing.T) {
	p := New([]byte("aaaaaaaa\n"), 0)
	p.PushContext(Within("line", 0, 4))
	_, err := p.ReadUntilByte('\n')
	assert.ErrorIs(t, err, ErrConstraintViolated)
	assert.Equal(t, 0, p.Cursor())
}

func TestReadRemainderOrUpTo(t *testing.T) {
	p := New([]byte{1, 2, 3}, 0)
	b, err := p.ReadRemainderOrUpTo(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, b)

	b, err = p.ReadRemainderOrUpTo(10)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, b)

	_, err = p.ReadRemainderOrUpTo(-2)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestPopEmptyContext(t *testing.T) {
	p := New(nil, 0)
	c, ok := p.PopContext()
	assert.False(t, ok)
	assert.Nil(t, c)
}

func TestNestedScoping(t *testing.T) {
	// outer block of 4 bytes holding two inner blocks of 2 bytes, followed by a sibling byte
	p := New([]byte{1, 2, 3, 4, 5}, 0)
	err := p.Nested("outer", 4, func() error {
		for i := 0; i < 2; i++ {
			err := p.Nested("inner", 2, func() error {
				_, err := p.ReadBytes(2)
				return err
			})
			if err != nil {
				return err
			}
		}
		assert.Equal(t, 1, p.Depth())
		_, err := p.ReadBytes(1)
		assert.ErrorIs(t, err, ErrConstraintViolated)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Depth())

	b, err := p.ReadBytes(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{5}, b)
}

func TestInnerCannotCrossOuter(t *testing.T) {
	p := New([]byte{0, 0, 0, 0, 0, 0}, 0)
	err := p.Nested("outer", 2, func() error {
		return p.Nested("inner", 4, func() error {
			_, err := p.ReadBytes(3)
			return err
		})
	})
	assert.ErrorIs(t, err, ErrConstraintViolated)
	assert.Equal(t, 0, p.Cursor())
}

func TestConstraintOrderAndPrevious(t *testing.T) {
	var order []string
	var sawPrevious Constraint
	first := ConstraintFunc(func(int, int, Constraint) error {
		order = append(order, "first")
		return nil
	})
	p := New([]byte{1}, 0)
	p.PushContext(first)
	p.PushContext(ConstraintFunc(func(_, _ int, previous Constraint) error {
		order = append(order, "second")
		sawPrevious = previous
		return nil
	}))
	_, err := p.ReadBytes(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, order)
	assert.NotNil(t, sawPrevious)
}

func TestDeterministicTrajectory(t *testing.T) {
	data := []byte{0x00, 0x05, 'h', 'e', 'l', 'l', 'o', 0xff}
	run := func() ([]int, []byte) {
		p := New(data, 0)
		var cursors []int
		n, _ := p.ReadUint16()
		cursors = append(cursors, p.Cursor())
		var body []byte
		_ = p.Nested("body", int(n), func() error {
			var err error
			body, err = p.ReadBytes(int(n))
			return err
		})
		cursors = append(cursors, p.Cursor())
		_, _ = p.ReadRemainder()
		cursors = append(cursors, p.Cursor())
		return cursors, body
	}
	c1, b1 := run()
	c2, b2 := run()
	assert.Equal(t, c1, c2)
	assert.Equal(t, b1, b2)
	assert.Equal(t, []int{2, 7, 8}, c1)
	assert.Equal(t, "hello", string(b1))
}

func TestMaxReadBoundsUnterminatedLines(t *testing.T) {
	p := New([]byte("HELLO WORLD\n"), 0)
	p.PushContext(MaxRead("line", 5))
	_, err := p.ReadUntilByte('\n')
	assert.ErrorIs(t, err, ErrConstraintViolated)
	assert.Equal(t, 0, p.Cursor())
	p.PopContext()

	p.PushContext(MaxRead("line", 64))
	line, err := p.ReadUntilByte('\n')
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD\n", string(line))
}
