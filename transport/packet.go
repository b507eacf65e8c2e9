package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wiretamper/wiretamper/log"
)

// packetConn serves a single udp peer learned from the first datagram
type packetConn struct {
	pc     net.PacketConn
	peer   net.Addr
	logger *log.Logger
}

func newPacketConn(pc net.PacketConn, logger *log.Logger) *packetConn {
	if logger == nil {
		logger = log.NewNop()
	}
	return &packetConn{
		pc:     pc,
		logger: logger.With(log.LogParams{"transport": "udp://" + pc.LocalAddr().String()}),
	}
}

func (p *packetConn) Name() string {
	return "udp://" + p.pc.LocalAddr().String()
}

func (p *packetConn) Send(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.peer == nil {
		return fmt.Errorf("sending %d bytes: no peer yet", len(b))
	}
	if _, err := p.pc.WriteTo(b, p.peer); err != nil {
		return fmt.Errorf("sending %d bytes: %w", len(b), err)
	}
	return nil
}

func (p *packetConn) ReceiveUpTo(ctx context.Context, max int, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = DefaultMaxRead
	}
	p.pc.SetReadDeadline(deadline(ctx, timeout))
	buf := make([]byte, max)
	for {
		n, addr, err := p.pc.ReadFrom(buf)
		if err != nil {
			return nil, classify(err)
		}
		if p.peer == nil {
			p.peer = addr
			p.logger.With(log.LogParams{"peer": addr.String()}).Info("Learned peer address")
		}
		if addr.String() != p.peer.String() {
			continue
		}
		return buf[:n], nil
	}
}

func (p *packetConn) Close() error {
	return p.pc.Close()
}
