package transport

import (
	"context"
	"io"
	"sync"
	"time"
)

// MemConn is one end of an in-memory connection. Chunks keep their
// boundaries unless a receive asks for less than a chunk holds.
type MemConn struct {
	name     string
	in       chan []byte
	out      chan []byte
	rest     []byte
	closed   chan struct{}
	peerDone chan struct{}
	once     *sync.Once
	lock     *sync.Mutex
	sent     [][]byte
}

var _ Transport = &MemConn{}

// Pipe returns two connected ends
func Pipe() (*MemConn, *MemConn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	a := &MemConn{name: "pipe://a", in: ba, out: ab, closed: aClosed, peerDone: bClosed, once: new(sync.Once), lock: new(sync.Mutex)}
	b := &MemConn{name: "pipe://b", in: ab, out: ba, closed: bClosed, peerDone: aClosed, once: new(sync.Once), lock: new(sync.Mutex)}
	return a, b
}

func (m *MemConn) Name() string {
	return m.name
}

func (m *MemConn) Send(ctx context.Context, b []byte) error {
	select {
	case <-m.closed:
		return ErrClosed
	case <-m.peerDone:
		return io.ErrClosedPipe
	default:
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	m.lock.Lock()
	m.sent = append(m.sent, cp)
	m.lock.Unlock()
	select {
	case m.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemConn) take(chunk []byte, max int) []byte {
	if max <= 0 || len(chunk) <= max {
		return chunk
	}
	m.rest = chunk[max:]
	return chunk[:max]
}

func (m *MemConn) ReceiveUpTo(ctx context.Context, max int, timeout time.Duration) ([]byte, error) {
	if len(m.rest) > 0 {
		chunk := m.rest
		m.rest = nil
		return m.take(chunk, max), nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case chunk := <-m.in:
		return m.take(chunk, max), nil
	case <-m.closed:
		return nil, ErrClosed
	case <-m.peerDone:
		// drain what the peer wrote before closing
		select {
		case chunk := <-m.in:
			return m.take(chunk, max), nil
		default:
			return nil, io.EOF
		}
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Sent returns every chunk written by this end
func (m *MemConn) Sent() [][]byte {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MemConn) Close() error {
	m.once.Do(func() {
		close(m.closed)
	})
	return nil
}
