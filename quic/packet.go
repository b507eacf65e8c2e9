package quic

import (
	"errors"
	"fmt"

	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

// ErrMalformedPacket is returned for headers that cannot be delimited
var ErrMalformedPacket = errors.New("malformed packet")

// long header, fixed bit, handshake packet type. The handshake type carries
// no token which keeps the header layout fixed.
const longHeaderFlags uint8 = 0xe0

// typeUnparsed marks units whose frames could not be delimited
const typeUnparsed uint8 = 0xff

var frameKinds = map[uint8]message.Kind{
	uint8(FramePadding):          KindPadding,
	uint8(FramePing):             KindPing,
	uint8(FrameAck):              KindAck,
	uint8(FrameAckECN):           KindAck,
	uint8(FrameCrypto):           KindCrypto,
	uint8(FrameConnectionClose):  KindConnectionClose,
	uint8(FrameApplicationClose): KindConnectionClose,
}

// Packets frames flush units as long header packets and cuts received
// packets into frames
type Packets struct {
	opts Options
	in   layer.Buffer
	pn   uint64
	// source connection id of the first packet received
	peerSCID []byte
}

var _ layer.Layer = &Packets{}

func NewPackets(opts Options) *Packets {
	return &Packets{opts: opts}
}

func (p *Packets) ContentType(m message.Message) uint8 {
	if u, ok := m.(*message.Unknown); ok && u.ContentType != 0 {
		return u.ContentType
	}
	return contentFrames
}

// destination answers to the peer's source id once one was seen
func (p *Packets) destination() []byte {
	if p.peerSCID != nil {
		return p.peerSCID
	}
	return p.opts.DCID
}

func (p *Packets) Wrap(_ *session.Context, _ uint8, payload []byte) []byte {
	pnLen := p.opts.PacketNumberLength
	s := serializer.New()
	s.AppendUint8(longHeaderFlags | uint8(pnLen-1))
	s.AppendUint32(p.opts.Version)
	dcid := p.destination()
	s.AppendUint8(uint8(len(dcid)))
	s.AppendBytes(dcid)
	s.AppendUint8(uint8(len(p.opts.SCID)))
	s.AppendBytes(p.opts.SCID)
	appendVarint(s, uint64(pnLen+len(payload)))
	s.AppendUint(p.pn, pnLen)
	p.pn++
	s.AppendBytes(payload)
	return s.Bytes()
}

func readCID(pr *parser.Parser) ([]byte, error) {
	n, err := pr.ReadUint8()
	if err != nil {
		return nil, err
	}
	return pr.ReadBytes(int(n))
}

// cut delimits the first packet of data and returns its frames
func (p *Packets) cut(data []byte) ([]layer.Unit, int, error) {
	pr := parser.New(data, 0)
	flags, err := pr.ReadUint8()
	if err != nil {
		return nil, 0, err
	}
	if flags&0x80 == 0 {
		return nil, 0, fmt.Errorf("%w: short header", ErrMalformedPacket)
	}
	if _, err := pr.ReadUint32(); err != nil {
		return nil, 0, err
	}
	if _, err := readCID(pr); err != nil {
		return nil, 0, err
	}
	scid, err := readCID(pr)
	if err != nil {
		return nil, 0, err
	}
	length, err := readVarint(pr)
	if err != nil {
		return nil, 0, err
	}
	pnLen := int(flags&0x03) + 1
	if length < uint64(pnLen) {
		return nil, 0, fmt.Errorf("%w: length %d below packet number length", ErrMalformedPacket, length)
	}
	if length > uint64(pr.Remaining()) {
		return nil, 0, fmt.Errorf("%w: packet of %d bytes", parser.ErrTruncatedInput, length)
	}
	if _, err := pr.ReadUint(pnLen); err != nil {
		return nil, 0, err
	}
	units := make([]layer.Unit, 0)
	err = pr.Nested("frames", int(length)-pnLen, func() error {
		units = frameUnits(pr, data, pr.Cursor()+int(length)-pnLen)
		return nil
	})
	if p.peerSCID == nil {
		p.peerSCID = scid
	}
	return units, pr.Cursor(), err
}

// frameUnits cuts frames until end. A frame that cannot be delimited takes
// the rest of the payload with it.
func frameUnits(pr *parser.Parser, data []byte, end int) []layer.Unit {
	units := make([]layer.Unit, 0)
	for pr.Cursor() < end {
		start := pr.Cursor()
		typ, err := readVarint(parser.New(data, start))
		if err == nil {
			err = scanFrame(pr, typ)
		}
		if err != nil {
			if pr.Cursor() < end {
				if _, err := pr.ReadBytes(end - pr.Cursor()); err != nil {
					break
				}
			}
			units = append(units, layer.Unit{ContentType: contentFrames, Type: typeUnparsed, Data: pr.Consumed(start)})
			break
		}
		u := layer.Unit{ContentType: contentFrames, Type: typeUnparsed, Data: pr.Consumed(start)}
		if typ < uint64(typeUnparsed) {
			u.Type = uint8(typ)
		}
		u.Fatal = typ == FrameConnectionClose || typ == FrameApplicationClose
		units = append(units, u)
	}
	return units
}

func (p *Packets) Feed(_ *session.Context, data []byte) []layer.Unit {
	p.in.Write(data)
	units := make([]layer.Unit, 0)
	for p.in.Len() > 0 {
		frames, n, err := p.cut(p.in.Peek())
		if errors.Is(err, parser.ErrTruncatedInput) {
			break
		}
		if err != nil {
			units = append(units, layer.Unit{Type: typeUnparsed, Data: p.in.Drain()})
			break
		}
		p.in.Next(n)
		units = append(units, frames...)
	}
	return units
}

func (p *Packets) Buffered() int {
	return p.in.Len()
}

func (p *Packets) Pending() []byte {
	return p.in.Drain()
}

func (p *Packets) Detect(_ *session.Context, u layer.Unit) (message.Kind, bool) {
	kind, ok := frameKinds[u.Type]
	return kind, ok
}

func (p *Packets) Reset() {
	p.in.Reset()
	p.pn = 0
	p.peerSCID = nil
}
