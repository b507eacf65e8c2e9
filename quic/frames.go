// Package quic sends and receives QUIC frames inside unprotected long header
// packets. Nothing is encrypted and no connection state beyond packet
// numbers is kept.
package quic

import (
	"errors"
	"fmt"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

// Frame types
const (
	FramePadding          uint64 = 0x00
	FramePing             uint64 = 0x01
	FrameAck              uint64 = 0x02
	FrameAckECN           uint64 = 0x03
	FrameCrypto           uint64 = 0x06
	FrameConnectionClose  uint64 = 0x1c
	FrameApplicationClose uint64 = 0x1d
)

const (
	maxVarint     uint64 = 1<<62 - 1
	maxPadding    uint64 = 1 << 16
	contentFrames uint8  = 1
)

const (
	KindPadding         message.Kind = "Padding"
	KindPing            message.Kind = "Ping"
	KindAck             message.Kind = "Ack"
	KindCrypto          message.Kind = "Crypto"
	KindConnectionClose message.Kind = "ConnectionClose"
)

// ErrUnexpectedFrame is returned when a unit carries another frame type
var ErrUnexpectedFrame = errors.New("unexpected frame type")

// Padding is a run of zero bytes, the type byte included
type Padding struct {
	message.Base `yaml:",inline"`
	Length       uint64 `yaml:"length,omitempty"`
}

func (*Padding) Kind() message.Kind { return KindPadding }

type Ping struct {
	message.Base `yaml:",inline"`
}

func (*Ping) Kind() message.Kind { return KindPing }

type AckRange struct {
	Gap    uint64 `yaml:"gap"`
	Length uint64 `yaml:"length"`
}

// Ack acknowledges packet numbers. ECN selects frame type 0x03 and the
// three counters.
type Ack struct {
	message.Base        `yaml:",inline"`
	ECN                 bool       `yaml:"ecn,omitempty"`
	LargestAcknowledged uint64     `yaml:"largest_acknowledged"`
	AckDelay            uint64     `yaml:"ack_delay,omitempty"`
	RangeCount          uint64     `yaml:"range_count,omitempty"`
	FirstRange          uint64     `yaml:"first_range,omitempty"`
	Ranges              []AckRange `yaml:"ranges,omitempty"`
	ECT0                uint64     `yaml:"ect0,omitempty"`
	ECT1                uint64     `yaml:"ect1,omitempty"`
	ECNCE               uint64     `yaml:"ecn_ce,omitempty"`
}

func (*Ack) Kind() message.Kind { return KindAck }

type Crypto struct {
	message.Base `yaml:",inline"`
	Offset       uint64        `yaml:"offset,omitempty"`
	Length       uint64        `yaml:"length,omitempty"`
	Data         message.Bytes `yaml:"data,omitempty"`
}

func (*Crypto) Kind() message.Kind { return KindCrypto }

// ConnectionClose closes the connection. Application selects frame type
// 0x1d which carries no triggering frame type.
type ConnectionClose struct {
	message.Base `yaml:",inline"`
	Application  bool   `yaml:"application,omitempty"`
	ErrorCode    uint64 `yaml:"error_code,omitempty"`
	FrameType    uint64 `yaml:"frame_type,omitempty"`
	ReasonLength uint64 `yaml:"reason_length,omitempty"`
	Reason       string `yaml:"reason,omitempty"`
}

func (*ConnectionClose) Kind() message.Kind { return KindConnectionClose }

type byteReader struct {
	p *parser.Parser
}

func (r byteReader) ReadByte() (byte, error) {
	return r.p.ReadUint8()
}

func readVarint(p *parser.Parser) (uint64, error) {
	return quicvarint.Read(byteReader{p})
}

// appendVarint clamps mutated values to the largest encodable one
func appendVarint(s *serializer.Serializer, v uint64) {
	if v > maxVarint {
		v = maxVarint
	}
	s.AppendBytes(quicvarint.Append(nil, v))
}

func expectType(p *parser.Parser, allowed ...uint64) (uint64, error) {
	typ, err := readVarint(p)
	if err != nil {
		return 0, err
	}
	for _, a := range allowed {
		if typ == a {
			return typ, nil
		}
	}
	return typ, fmt.Errorf("%w: 0x%x", ErrUnexpectedFrame, typ)
}

func sentByUs(ctx *session.Context) bool {
	return ctx.TalkingSide() == ctx.Role()
}

func parsePadding(p *parser.Parser, m *Padding) error {
	if _, err := expectType(p, FramePadding); err != nil {
		return err
	}
	m.Length = 1
	for p.Remaining() > 0 {
		b, err := p.Peek()
		if err != nil || b != 0 {
			break
		}
		// a zero beyond an enclosing boundary belongs to the next packet
		if _, err := p.ReadUint8(); err != nil {
			break
		}
		m.Length++
	}
	return nil
}

var paddingCodec = message.Codec[*Padding]{
	Parse: func(_ *session.Context, p *parser.Parser, m *Padding) error {
		return parsePadding(p, m)
	},
	Prepare: func(ctx *session.Context, m *Padding) error {
		natural := m.Length
		if natural == 0 {
			natural = 1
		}
		m.Length = message.OverridableUint(ctx, m, "length", natural)
		return nil
	},
	Serialize: func(m *Padding, s *serializer.Serializer) {
		n := m.Length
		if n > maxPadding {
			n = maxPadding
		}
		s.AppendBytes(make([]byte, n))
	},
}

var pingCodec = message.Codec[*Ping]{
	Parse: func(_ *session.Context, p *parser.Parser, _ *Ping) error {
		_, err := expectType(p, FramePing)
		return err
	},
	Serialize: func(_ *Ping, s *serializer.Serializer) {
		appendVarint(s, FramePing)
	},
}

func parseAck(p *parser.Parser, m *Ack) error {
	typ, err := expectType(p, FrameAck, FrameAckECN)
	if err != nil {
		return err
	}
	m.ECN = typ == FrameAckECN
	fields := []*uint64{&m.LargestAcknowledged, &m.AckDelay, &m.RangeCount, &m.FirstRange}
	for _, f := range fields {
		if *f, err = readVarint(p); err != nil {
			return err
		}
	}
	m.Ranges = make([]AckRange, 0)
	for i := uint64(0); i < m.RangeCount; i++ {
		var r AckRange
		if r.Gap, err = readVarint(p); err != nil {
			return err
		}
		if r.Length, err = readVarint(p); err != nil {
			return err
		}
		m.Ranges = append(m.Ranges, r)
	}
	if !m.ECN {
		return nil
	}
	for _, f := range []*uint64{&m.ECT0, &m.ECT1, &m.ECNCE} {
		if *f, err = readVarint(p); err != nil {
			return err
		}
	}
	return nil
}

var ackCodec = message.Codec[*Ack]{
	Parse: func(_ *session.Context, p *parser.Parser, m *Ack) error {
		return parseAck(p, m)
	},
	Prepare: func(ctx *session.Context, m *Ack) error {
		m.LargestAcknowledged = message.OverridableUint(ctx, m, "largest_acknowledged", m.LargestAcknowledged)
		m.AckDelay = message.OverridableUint(ctx, m, "ack_delay", m.AckDelay)
		m.RangeCount = message.OverridableUint(ctx, m, "range_count", uint64(len(m.Ranges)))
		m.FirstRange = message.OverridableUint(ctx, m, "first_range", m.FirstRange)
		if m.ECN {
			m.ECT0 = message.OverridableUint(ctx, m, "ect0", m.ECT0)
			m.ECT1 = message.OverridableUint(ctx, m, "ect1", m.ECT1)
			m.ECNCE = message.OverridableUint(ctx, m, "ecn_ce", m.ECNCE)
		}
		return nil
	},
	Serialize: func(m *Ack, s *serializer.Serializer) {
		if m.ECN {
			appendVarint(s, FrameAckECN)
		} else {
			appendVarint(s, FrameAck)
		}
		appendVarint(s, m.LargestAcknowledged)
		appendVarint(s, m.AckDelay)
		appendVarint(s, m.RangeCount)
		appendVarint(s, m.FirstRange)
		for _, r := range m.Ranges {
			appendVarint(s, r.Gap)
			appendVarint(s, r.Length)
		}
		if m.ECN {
			appendVarint(s, m.ECT0)
			appendVarint(s, m.ECT1)
			appendVarint(s, m.ECNCE)
		}
	},
	Handle: func(ctx *session.Context, m *Ack) error {
		if !sentByUs(ctx) {
			ctx.SetCapability(session.CapLargestAcked, m.LargestAcknowledged)
		}
		return nil
	},
}

func parseCrypto(p *parser.Parser, m *Crypto) error {
	if _, err := expectType(p, FrameCrypto); err != nil {
		return err
	}
	var err error
	if m.Offset, err = readVarint(p); err != nil {
		return err
	}
	if m.Length, err = readVarint(p); err != nil {
		return err
	}
	if m.Length > uint64(p.Remaining()) {
		return fmt.Errorf("%w: crypto data of %d bytes", parser.ErrTruncatedInput, m.Length)
	}
	m.Data, err = p.ReadBytes(int(m.Length))
	return err
}

var cryptoCodec = message.Codec[*Crypto]{
	Parse: func(_ *session.Context, p *parser.Parser, m *Crypto) error {
		return parseCrypto(p, m)
	},
	Prepare: func(ctx *session.Context, m *Crypto) error {
		offset, _ := session.CapabilityOf[uint64](ctx, session.CapCryptoOffset)
		if m.Offset != 0 {
			offset = m.Offset
		}
		m.Offset = message.OverridableUint(ctx, m, "offset", offset)
		m.Data = message.Overridable(ctx, m, "data", m.Data)
		m.Length = message.OverridableUint(ctx, m, "length", uint64(len(m.Data)))
		return nil
	},
	Serialize: func(m *Crypto, s *serializer.Serializer) {
		appendVarint(s, FrameCrypto)
		appendVarint(s, m.Offset)
		appendVarint(s, m.Length)
		s.AppendBytes(m.Data)
	},
	Handle: func(ctx *session.Context, m *Crypto) error {
		ctx.ExtendTranscript(m.Data)
		if sentByUs(ctx) {
			ctx.SetCapability(session.CapCryptoOffset, m.Offset+uint64(len(m.Data)))
		}
		return nil
	},
}

func parseConnectionClose(p *parser.Parser, m *ConnectionClose) error {
	typ, err := expectType(p, FrameConnectionClose, FrameApplicationClose)
	if err != nil {
		return err
	}
	m.Application = typ == FrameApplicationClose
	if m.ErrorCode, err = readVarint(p); err != nil {
		return err
	}
	if !m.Application {
		if m.FrameType, err = readVarint(p); err != nil {
			return err
		}
	}
	if m.ReasonLength, err = readVarint(p); err != nil {
		return err
	}
	if m.ReasonLength > uint64(p.Remaining()) {
		return fmt.Errorf("%w: reason of %d bytes", parser.ErrTruncatedInput, m.ReasonLength)
	}
	reason, err := p.ReadBytes(int(m.ReasonLength))
	m.Reason = string(reason)
	return err
}

var connectionCloseCodec = message.Codec[*ConnectionClose]{
	Parse: func(_ *session.Context, p *parser.Parser, m *ConnectionClose) error {
		return parseConnectionClose(p, m)
	},
	Prepare: func(ctx *session.Context, m *ConnectionClose) error {
		m.ErrorCode = message.OverridableUint(ctx, m, "error_code", m.ErrorCode)
		if !m.Application {
			m.FrameType = message.OverridableUint(ctx, m, "frame_type", m.FrameType)
		}
		m.Reason = message.OverridableString(ctx, m, "reason", m.Reason)
		m.ReasonLength = message.OverridableUint(ctx, m, "reason_length", uint64(len(m.Reason)))
		return nil
	},
	Serialize: func(m *ConnectionClose, s *serializer.Serializer) {
		if m.Application {
			appendVarint(s, FrameApplicationClose)
		} else {
			appendVarint(s, FrameConnectionClose)
		}
		appendVarint(s, m.ErrorCode)
		if !m.Application {
			appendVarint(s, m.FrameType)
		}
		appendVarint(s, m.ReasonLength)
		s.AppendString(m.Reason)
	},
	Handle: func(ctx *session.Context, m *ConnectionClose) error {
		if !sentByUs(ctx) {
			ctx.SetCapability(session.CapCloseReason, m.Reason)
		}
		return nil
	},
}

// scanFrame reads one frame of type typ to find where it ends
func scanFrame(p *parser.Parser, typ uint64) error {
	switch typ {
	case FramePadding:
		return parsePadding(p, &Padding{})
	case FramePing:
		_, err := expectType(p, FramePing)
		return err
	case FrameAck, FrameAckECN:
		return parseAck(p, &Ack{})
	case FrameCrypto:
		return parseCrypto(p, &Crypto{})
	case FrameConnectionClose, FrameApplicationClose:
		return parseConnectionClose(p, &ConnectionClose{})
	}
	return fmt.Errorf("%w: 0x%x", ErrUnexpectedFrame, typ)
}

// NewRegistry registers every frame of the family
func NewRegistry() *message.Registry {
	r := message.NewRegistry("quic")
	message.Register[Padding](r, paddingCodec)
	message.Register[Ping](r, pingCodec)
	message.Register[Ack](r, ackCodec)
	message.Register[Crypto](r, cryptoCodec)
	message.Register[ConnectionClose](r, connectionCloseCodec)
	return r
}
