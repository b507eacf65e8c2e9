package tls

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

var (
	// ErrUnexpectedType is returned when a unit carries another handshake type
	ErrUnexpectedType = errors.New("unexpected handshake type")
	// ErrFragmented is returned for a dtls fragment that was not reassembled
	ErrFragmented = errors.New("handshake fragment")
)

// body is the codec of a handshake message body. The header is handled by
// registerHandshake.
type body[M handshakeMessage] struct {
	typ       uint8
	parse     func(ctx *session.Context, p *parser.Parser, m M) error
	prepare   func(ctx *session.Context, m M) error
	serialize func(m M, s *serializer.Serializer)
	handle    func(ctx *session.Context, m M) error
	// noTranscript keeps the message out of the handshake transcript
	noTranscript bool
}

func registerHandshake[S any, M interface {
	*S
	handshakeMessage
}](r *message.Registry, dtls bool, b body[M]) {
	serializeBody := func(m M, s *serializer.Serializer) {
		if b.serialize != nil {
			b.serialize(m, s)
		}
	}
	message.Register[S, M](r, message.Codec[M]{
		Parse: func(ctx *session.Context, p *parser.Parser, m M) error {
			typ, err := p.ReadUint8()
			if err != nil {
				return err
			}
			if typ != b.typ {
				return fmt.Errorf("%w: %d", ErrUnexpectedType, typ)
			}
			h := m.header()
			if h.Length, err = p.ReadUint24(); err != nil {
				return err
			}
			if dtls {
				if h.MessageSeq, err = p.ReadUint16(); err != nil {
					return err
				}
				offset, err := p.ReadUint24()
				if err != nil {
					return err
				}
				fragment, err := p.ReadUint24()
				if err != nil {
					return err
				}
				if offset != 0 || fragment != h.Length {
					return fmt.Errorf("%w: offset %d length %d of %d", ErrFragmented, offset, fragment, h.Length)
				}
			}
			if b.parse == nil {
				_, err := p.ReadBytes(int(h.Length))
				return err
			}
			return p.Nested(m.Kind().String(), int(h.Length), func() error {
				return b.parse(ctx, p, m)
			})
		},
		Prepare: func(ctx *session.Context, m M) error {
			if b.prepare != nil {
				if err := b.prepare(ctx, m); err != nil {
					return err
				}
			}
			s := serializer.New()
			serializeBody(m, s)
			h := m.header()
			h.Length = message.OverridableUint32(ctx, m, "length", uint32(s.Len()))
			if dtls {
				h.MessageSeq = message.OverridableUint16(ctx, m, "message_seq", ctx.Handshake().NextSendSeq)
			}
			return nil
		},
		Serialize: func(m M, s *serializer.Serializer) {
			h := m.header()
			s.AppendUint8(b.typ)
			s.AppendUint24(h.Length)
			if dtls {
				s.AppendUint16(h.MessageSeq)
				s.AppendUint24(0)
				s.AppendUint24(h.Length)
			}
			serializeBody(m, s)
		},
		Handle: func(ctx *session.Context, m M) error {
			var err error
			if b.handle != nil {
				err = b.handle(ctx, m)
			}
			if !b.noTranscript {
				ctx.ExtendTranscript(m.Common().CompleteResultingBytes())
			}
			if dtls {
				hs := ctx.Handshake()
				if sentByUs(ctx) {
					hs.NextSendSeq++
				} else {
					hs.NextReceiveSeq = m.header().MessageSeq + 1
				}
			}
			return err
		},
	})
}

func sentByUs(ctx *session.Context) bool {
	return ctx.TalkingSide() == ctx.Role()
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %s", err))
	}
	return b
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func uint16sToBytes(list []uint16) []byte {
	s := serializer.New()
	writeUint16s(s, list)
	return s.Bytes()
}

// bytesToUint16s drops a trailing odd byte
func bytesToUint16s(b []byte) []uint16 {
	out := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		out = append(out, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return out
}

func readVector8(p *parser.Parser) ([]byte, error) {
	n, err := p.ReadUint8()
	if err != nil {
		return nil, err
	}
	return p.ReadBytes(int(n))
}

func readVector16(p *parser.Parser) ([]byte, error) {
	n, err := p.ReadUint16()
	if err != nil {
		return nil, err
	}
	return p.ReadBytes(int(n))
}

func writeVector8(s *serializer.Serializer, b []byte) {
	s.AppendUint8(uint8(len(b)))
	s.AppendBytes(b)
}

func writeVector16(s *serializer.Serializer, b []byte) {
	s.AppendUint16(uint16(len(b)))
	s.AppendBytes(b)
}

func orUint16(v, fallback uint16) uint16 {
	if v != 0 {
		return v
	}
	return fallback
}

func orBytes(v []byte, fallback func() []byte) []byte {
	if len(v) != 0 {
		return v
	}
	return fallback()
}

func contains(list []uint16, v uint16) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
