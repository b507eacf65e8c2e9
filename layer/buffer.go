package layer

import (
	"bytes"
)

// Buffer accumulates received bytes until a layer can cut a unit from them
type Buffer struct {
	data []byte
}

func (b *Buffer) Write(p []byte) {
	b.data = append(b.data, p...)
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// Peek returns the buffered bytes without consuming them
func (b *Buffer) Peek() []byte {
	return b.data
}

// Next consumes n bytes and returns a copy of them. It returns nil if fewer
// than n bytes are buffered.
func (b *Buffer) Next(n int) []byte {
	if n < 0 || n > len(b.data) {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	b.data = b.data[n:]
	return out
}

// NextLine consumes one line including its terminating LF
func (b *Buffer) NextLine() ([]byte, bool) {
	i := bytes.IndexByte(b.data, '\n')
	if i < 0 {
		return nil, false
	}
	return b.Next(i + 1), true
}

// Drain consumes everything
func (b *Buffer) Drain() []byte {
	if len(b.data) == 0 {
		return nil
	}
	return b.Next(len(b.data))
}

func (b *Buffer) Reset() {
	b.data = nil
}

// NextDotTerminated consumes lines up to and including a line holding a
// single dot, the end marker of SMTP data and POP3 multi-line bodies
func (b *Buffer) NextDotTerminated() ([]byte, bool) {
	if n := DotTerminated(b.data); n > 0 {
		return b.Next(n), true
	}
	return nil, false
}

// DotTerminated returns the length of the prefix of data ending with a dot
// line, zero if there is none yet
func DotTerminated(data []byte) int {
	off := 0
	for {
		i := bytes.IndexByte(data[off:], '\n')
		if i < 0 {
			return 0
		}
		line := bytes.TrimRight(data[off:off+i+1], "\r\n")
		off += i + 1
		if len(line) == 1 && line[0] == '.' {
			return off
		}
	}
}
