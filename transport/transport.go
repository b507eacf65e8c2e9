// Package transport moves raw bytes between the executor and the peer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/wiretamper/wiretamper/log"
)

var (
	// ErrTimeout is returned when nothing arrived within the receive timeout
	ErrTimeout = errors.New("receive timed out")
	// ErrClosed is returned when using a closed transport
	ErrClosed = errors.New("transport closed")
)

// DefaultMaxRead is the read size used by the executor
const DefaultMaxRead = 1 << 16

// Transport is owned by one executor. Both calls may fail and a receive may
// return any prefix of what the peer sent.
type Transport interface {
	Name() string
	Send(ctx context.Context, b []byte) error
	// ReceiveUpTo returns ErrTimeout when nothing arrived and io.EOF when the
	// peer closed the connection
	ReceiveUpTo(ctx context.Context, max int, timeout time.Duration) ([]byte, error)
	Close() error
}

// Conn adapts a net.Conn
type Conn struct {
	conn   net.Conn
	name   string
	logger *log.Logger
}

var _ Transport = &Conn{}

// NewConn wraps an established connection
func NewConn(conn net.Conn, logger *log.Logger) *Conn {
	if logger == nil {
		logger = log.NewNop()
	}
	name := fmt.Sprintf("%s://%s", conn.RemoteAddr().Network(), conn.RemoteAddr().String())
	return &Conn{
		conn:   conn,
		name:   name,
		logger: logger.With(log.LogParams{"transport": name}),
	}
}

func (c *Conn) Name() string {
	return c.name
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func (c *Conn) Send(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(d)
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}
	_, err := c.conn.Write(b)
	if err != nil {
		return fmt.Errorf("sending %d bytes: %w", len(b), err)
	}
	c.logger.With(log.LogParams{"bytes": len(b)}).Debug("Sent data")
	return nil
}

func (c *Conn) ReceiveUpTo(ctx context.Context, max int, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = DefaultMaxRead
	}
	c.conn.SetReadDeadline(deadline(ctx, timeout))
	buf := make([]byte, max)
	n, err := c.conn.Read(buf)
	if n > 0 {
		c.logger.With(log.LogParams{"bytes": n}).Debug("Received data")
		return buf[:n], nil
	}
	return nil, classify(err)
}

func classify(err error) error {
	if err == nil {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return io.EOF
	}
	return err
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Dial connects to addr over network ("tcp" or "udp")
func Dial(ctx context.Context, network, addr string, timeout time.Duration, logger *log.Logger) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s %s: %w", network, addr, err)
	}
	return NewConn(conn, logger), nil
}

// Accept listens on addr and waits for the first peer. For udp the first
// datagram fixes the peer and is delivered by the first receive.
func Accept(ctx context.Context, network, addr string, logger *log.Logger) (Transport, error) {
	switch network {
	case "udp", "udp4", "udp6":
		pc, err := net.ListenPacket(network, addr)
		if err != nil {
			return nil, fmt.Errorf("listening on %s %s: %w", network, addr, err)
		}
		return newPacketConn(pc, logger), nil
	}
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s %s: %w", network, addr, err)
	}
	defer l.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("accepting on %s: %w", addr, r.err)
		}
		return NewConn(r.conn, logger), nil
	}
}
