package tls

import (
	"encoding/binary"

	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

var changeCipherSpecCodec = message.Codec[*ChangeCipherSpec]{
	Parse: func(_ *session.Context, p *parser.Parser, m *ChangeCipherSpec) error {
		var err error
		m.Value, err = p.ReadUint8()
		return err
	},
	Prepare: func(ctx *session.Context, m *ChangeCipherSpec) error {
		m.Value = message.OverridableUint8(ctx, m, "value", 1)
		return nil
	},
	Serialize: func(m *ChangeCipherSpec, s *serializer.Serializer) {
		s.AppendUint8(m.Value)
	},
}

var alertCodec = message.Codec[*Alert]{
	Parse: func(_ *session.Context, p *parser.Parser, m *Alert) error {
		var err error
		if m.Level, err = p.ReadUint8(); err != nil {
			return err
		}
		m.Description, err = p.ReadUint8()
		return err
	},
	Prepare: func(ctx *session.Context, m *Alert) error {
		level := m.Level
		if level == 0 {
			level = AlertFatal
		}
		m.Level = message.OverridableUint8(ctx, m, "level", level)
		m.Description = message.OverridableUint8(ctx, m, "description", m.Description)
		return nil
	},
	Serialize: func(m *Alert, s *serializer.Serializer) {
		s.AppendUint8(m.Level)
		s.AppendUint8(m.Description)
	},
	Handle: func(ctx *session.Context, m *Alert) error {
		if ctx.TalkingSide() == ctx.Role() {
			return nil
		}
		ctx.SetCapability(session.CapLastAlert, m.Description)
		ctx.Logger().With(log.LogParams{
			"level":       m.Level,
			"description": m.Description,
		}).Info("Received alert")
		return nil
	},
}

var applicationDataCodec = message.Codec[*ApplicationData]{
	Parse: func(_ *session.Context, p *parser.Parser, m *ApplicationData) error {
		var err error
		m.Data, err = p.ReadRemainder()
		return err
	},
	Prepare: func(ctx *session.Context, m *ApplicationData) error {
		m.Data = message.Overridable(ctx, m, "data", m.Data)
		return nil
	},
	Serialize: func(m *ApplicationData, s *serializer.Serializer) {
		s.AppendBytes(m.Data)
	},
}

// Records is the record layer of one connection. It cuts handshake messages
// across record boundaries and reassembles dtls fragments.
type Records struct {
	opts Options
	// received records not yet complete
	in layer.Buffer
	// handshake bytes not yet forming a message
	handshake layer.Buffer
	fragments map[uint16]*reassembly
	epoch     uint16
	seq       uint64
}

var _ layer.Layer = &Records{}

type reassembly struct {
	typ    uint8
	length uint32
	data   []byte
	have   []bool
}

func NewRecords(opts Options) *Records {
	return &Records{
		opts:      opts,
		fragments: make(map[uint16]*reassembly),
	}
}

func (r *Records) ContentType(m message.Message) uint8 {
	if u, ok := m.(*message.Unknown); ok && u.ContentType != 0 {
		return u.ContentType
	}
	return contentTypeOf(m.Kind())
}

func (r *Records) recordVersion(ctx *session.Context) uint16 {
	if v, ok := ctx.NegotiatedVersion(); ok {
		return v
	}
	return r.opts.RecordVersion
}

// Wrap splits payload into records of at most 2^14 bytes. An empty payload
// still produces one empty record.
func (r *Records) Wrap(ctx *session.Context, contentType uint8, payload []byte) []byte {
	s := serializer.New()
	version := r.recordVersion(ctx)
	for first := true; first || len(payload) > 0; first = false {
		n := len(payload)
		if n > maxFragment {
			n = maxFragment
		}
		s.AppendUint8(contentType)
		s.AppendUint16(version)
		if r.opts.DTLS {
			s.AppendUint16(r.epoch)
			s.AppendUint(r.seq, 6)
			r.seq++
		}
		s.AppendUint16(uint16(n))
		s.AppendBytes(payload[:n])
		payload = payload[n:]
	}
	if r.opts.DTLS && contentType == ContentChangeCipherSpec {
		r.epoch++
		r.seq = 0
	}
	return s.Bytes()
}

func (r *Records) headerLen() int {
	if r.opts.DTLS {
		return dtlsRecordHeaderLen
	}
	return recordHeaderLen
}

func (r *Records) Feed(ctx *session.Context, data []byte) []layer.Unit {
	r.in.Write(data)
	units := make([]layer.Unit, 0)
	hl := r.headerLen()
	for r.in.Len() >= hl {
		head := r.in.Peek()
		length := int(binary.BigEndian.Uint16(head[hl-2 : hl]))
		if r.in.Len() < hl+length {
			break
		}
		record := r.in.Next(hl + length)
		contentType, fragment := record[0], record[hl:]
		switch contentType {
		case ContentHandshake:
			r.handshake.Write(fragment)
			units = append(units, r.handshakeUnits(ctx)...)
		case ContentAlert:
			for len(fragment) >= 2 {
				units = append(units, layer.Unit{
					ContentType: contentType,
					Data:        fragment[:2],
					Fatal:       fragment[0] == AlertFatal,
				})
				fragment = fragment[2:]
			}
			if len(fragment) > 0 {
				units = append(units, layer.Unit{ContentType: contentType, Data: fragment})
			}
		default:
			units = append(units, layer.Unit{ContentType: contentType, Data: fragment})
		}
	}
	return units
}

func (r *Records) handshakeUnits(ctx *session.Context) []layer.Unit {
	units := make([]layer.Unit, 0)
	hl := handshakeHeaderLen
	if r.opts.DTLS {
		hl = dtlsHandshakeHeaderLen
	}
	for r.handshake.Len() >= hl {
		head := r.handshake.Peek()
		typ := head[0]
		length := uint32(head[1])<<16 | uint32(head[2])<<8 | uint32(head[3])
		if !r.opts.DTLS {
			if r.handshake.Len() < hl+int(length) {
				break
			}
			units = append(units, layer.Unit{ContentType: ContentHandshake, Type: typ, Data: r.handshake.Next(hl + int(length))})
			continue
		}
		fragLen := uint32(head[9])<<16 | uint32(head[10])<<8 | uint32(head[11])
		if r.handshake.Len() < hl+int(fragLen) {
			break
		}
		frag := r.handshake.Next(hl + int(fragLen))
		offset := uint32(head[6])<<16 | uint32(head[7])<<8 | uint32(head[8])
		if offset == 0 && fragLen == length {
			units = append(units, layer.Unit{ContentType: ContentHandshake, Type: typ, Data: frag})
			continue
		}
		if u, ok := r.reassemble(ctx, frag, typ, length, offset, fragLen); ok {
			units = append(units, u)
		}
	}
	return units
}

// reassemble collects a dtls fragment and returns the message once complete.
// Overlapping fragments overwrite, the last one wins.
func (r *Records) reassemble(ctx *session.Context, frag []byte, typ uint8, length, offset, fragLen uint32) (layer.Unit, bool) {
	seq := binary.BigEndian.Uint16(frag[4:6])
	if offset+fragLen > length {
		ctx.Logger().With(log.LogParams{
			"message_seq": seq,
			"offset":      offset,
			"length":      fragLen,
		}).Warn("Fragment exceeds message length")
		return layer.Unit{ContentType: ContentHandshake, Type: typ, Data: frag}, true
	}
	re, ok := r.fragments[seq]
	if !ok || re.length != length || re.typ != typ {
		re = &reassembly{typ: typ, length: length, data: make([]byte, length), have: make([]bool, length)}
		r.fragments[seq] = re
	}
	copy(re.data[offset:], frag[dtlsHandshakeHeaderLen:])
	for i := offset; i < offset+fragLen; i++ {
		re.have[i] = true
	}
	for _, h := range re.have {
		if !h {
			return layer.Unit{}, false
		}
	}
	delete(r.fragments, seq)
	s := serializer.New()
	s.AppendUint8(typ)
	s.AppendUint24(length)
	s.AppendUint16(seq)
	s.AppendUint24(0)
	s.AppendUint24(length)
	s.AppendBytes(re.data)
	return layer.Unit{ContentType: ContentHandshake, Type: typ, Data: s.Bytes()}, true
}

func (r *Records) Buffered() int {
	return r.in.Len() + r.handshake.Len() + len(r.fragments)
}

// Pending returns partial handshake messages first, then partial records.
// Incomplete dtls reassemblies are dropped.
func (r *Records) Pending() []byte {
	out := append(r.handshake.Drain(), r.in.Drain()...)
	r.fragments = make(map[uint16]*reassembly)
	if len(out) == 0 {
		return nil
	}
	return out
}

func (r *Records) Detect(_ *session.Context, u layer.Unit) (message.Kind, bool) {
	switch u.ContentType {
	case ContentChangeCipherSpec:
		return KindChangeCipherSpec, true
	case ContentAlert:
		return KindAlert, true
	case ContentApplicationData:
		return KindApplicationData, true
	case ContentHandshake:
		kind, ok := handshakeKinds[u.Type]
		return kind, ok
	}
	return "", false
}

func (r *Records) Reset() {
	r.in.Reset()
	r.handshake.Reset()
	r.fragments = make(map[uint16]*reassembly)
	r.epoch = 0
	r.seq = 0
}
