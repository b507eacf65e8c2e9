package message

import (
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

// KindUnknown is registered in every family
const KindUnknown Kind = "Unknown"

// Unknown holds bytes that could not be parsed as the expected variant. It
// can also be configured for sending to inject raw bytes.
type Unknown struct {
	Base `yaml:",inline"`
	// ContentType of the unit the bytes arrived in, zero when the family has none
	ContentType uint8 `yaml:"content_type,omitempty"`
	Raw         Bytes `yaml:"raw"`
}

func (*Unknown) Kind() Kind {
	return KindUnknown
}

// NewUnknown wraps raw bytes
func NewUnknown(contentType uint8, raw []byte) *Unknown {
	u := &Unknown{ContentType: contentType, Raw: raw}
	u.SetCompleteResultingBytes(raw)
	return u
}

var unknownCodec = Codec[*Unknown]{
	Parse: func(_ *session.Context, p *parser.Parser, m *Unknown) error {
		raw, err := p.ReadRemainder()
		if err != nil {
			return err
		}
		m.Raw = raw
		return nil
	},
	Prepare: func(ctx *session.Context, m *Unknown) error {
		m.Raw = Overridable(ctx, m, "raw", m.Raw)
		return nil
	},
	Serialize: func(m *Unknown, s *serializer.Serializer) {
		s.AppendBytes(m.Raw)
	},
}

// IsUnknown reports whether m is the fallback variant
func IsUnknown(m Message) bool {
	return m != nil && m.Kind() == KindUnknown
}
