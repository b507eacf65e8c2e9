package tls

import (
	"fmt"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

// Extension is one hello extension. Only the fields matching Type are used.
// Raw holds the body of extensions that are unknown or did not parse.
type Extension struct {
	Type                uint16        `yaml:"type"`
	ServerName          string        `yaml:"server_name,omitempty"`
	Groups              []uint16      `yaml:"groups,omitempty"`
	PointFormats        message.Bytes `yaml:"point_formats,omitempty"`
	SignatureAlgorithms []uint16      `yaml:"signature_algorithms,omitempty"`
	Versions            []uint16      `yaml:"versions,omitempty"`
	Raw                 message.Bytes `yaml:"raw,omitempty"`
	Malformed           bool          `yaml:"malformed,omitempty"`
}

func known(typ uint16) bool {
	switch typ {
	case ExtServerName, ExtSupportedGroups, ExtPointFormats, ExtSignatureAlgorithms, ExtSupportedVersions:
		return true
	}
	return false
}

// parseExtensions reads the length prefixed extension list. It returns the
// list bytes without the prefix as well.
func parseExtensions(p *parser.Parser, fromServer bool) ([]Extension, []byte, error) {
	total, err := p.ReadUint16()
	if err != nil {
		return nil, nil, err
	}
	start := p.Cursor()
	end := start + int(total)
	exts := make([]Extension, 0)
	err = p.Nested("extensions", int(total), func() error {
		for p.Cursor() < end {
			typ, err := p.ReadUint16()
			if err != nil {
				return err
			}
			length, err := p.ReadUint16()
			if err != nil {
				return err
			}
			body, err := p.ReadBytes(int(length))
			if err != nil {
				return err
			}
			exts = append(exts, parseExtension(typ, body, fromServer))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return exts, p.Consumed(start), nil
}

// parseExtension never fails, a body that does not parse is kept raw
func parseExtension(typ uint16, body []byte, fromServer bool) Extension {
	e := Extension{Type: typ}
	if !known(typ) {
		e.Raw = body
		return e
	}
	p := parser.New(body, 0)
	if err := parseExtensionBody(p, &e, fromServer); err != nil || p.Remaining() > 0 {
		return Extension{Type: typ, Raw: body, Malformed: true}
	}
	return e
}

func readUint16List(p *parser.Parser, length int) ([]uint16, error) {
	if length%2 != 0 {
		return nil, fmt.Errorf("%w: odd list length %d", parser.ErrInvalidLength, length)
	}
	out := make([]uint16, 0, length/2)
	for i := 0; i < length/2; i++ {
		v, err := p.ReadUint16()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parseExtensionBody(p *parser.Parser, e *Extension, fromServer bool) error {
	switch e.Type {
	case ExtServerName:
		if p.Remaining() == 0 {
			return nil
		}
		listLen, err := p.ReadUint16()
		if err != nil {
			return err
		}
		end := p.Cursor() + int(listLen)
		for p.Cursor() < end {
			nameType, err := p.ReadUint8()
			if err != nil {
				return err
			}
			nameLen, err := p.ReadUint16()
			if err != nil {
				return err
			}
			name, err := p.ReadBytes(int(nameLen))
			if err != nil {
				return err
			}
			if nameType == 0 && e.ServerName == "" {
				e.ServerName = string(name)
			}
		}
		return nil
	case ExtSupportedGroups, ExtSignatureAlgorithms:
		n, err := p.ReadUint16()
		if err != nil {
			return err
		}
		list, err := readUint16List(p, int(n))
		if err != nil {
			return err
		}
		if e.Type == ExtSupportedGroups {
			e.Groups = list
		} else {
			e.SignatureAlgorithms = list
		}
		return nil
	case ExtPointFormats:
		n, err := p.ReadUint8()
		if err != nil {
			return err
		}
		e.PointFormats, err = p.ReadBytes(int(n))
		return err
	case ExtSupportedVersions:
		if fromServer {
			v, err := p.ReadUint16()
			e.Versions = []uint16{v}
			return err
		}
		n, err := p.ReadUint8()
		if err != nil {
			return err
		}
		e.Versions, err = readUint16List(p, int(n))
		return err
	}
	return nil
}

func writeUint16s(s *serializer.Serializer, list []uint16) {
	for _, v := range list {
		s.AppendUint16(v)
	}
}

func writeExtension(s *serializer.Serializer, e Extension, fromServer bool) {
	body := serializer.New()
	switch {
	case e.Raw != nil || !known(e.Type):
		body.AppendBytes(e.Raw)
	case e.Type == ExtServerName:
		if e.ServerName != "" {
			body.AppendUint16(uint16(3 + len(e.ServerName)))
			body.AppendUint8(0)
			body.AppendUint16(uint16(len(e.ServerName)))
			body.AppendString(e.ServerName)
		}
	case e.Type == ExtSupportedGroups:
		body.AppendUint16(uint16(2 * len(e.Groups)))
		writeUint16s(body, e.Groups)
	case e.Type == ExtSignatureAlgorithms:
		body.AppendUint16(uint16(2 * len(e.SignatureAlgorithms)))
		writeUint16s(body, e.SignatureAlgorithms)
	case e.Type == ExtPointFormats:
		body.AppendUint8(uint8(len(e.PointFormats)))
		body.AppendBytes(e.PointFormats)
	case e.Type == ExtSupportedVersions:
		if fromServer && len(e.Versions) > 0 {
			body.AppendUint16(e.Versions[0])
			break
		}
		body.AppendUint8(uint8(2 * len(e.Versions)))
		writeUint16s(body, e.Versions)
	}
	s.AppendUint16(e.Type)
	s.AppendUint16(uint16(body.Len()))
	s.AppendBytes(body.Bytes())
}

// encodeExtensions renders the list without its length prefix
func encodeExtensions(exts []Extension, fromServer bool) []byte {
	if len(exts) == 0 {
		return nil
	}
	s := serializer.New()
	for _, e := range exts {
		writeExtension(s, e, fromServer)
	}
	return s.Bytes()
}

func clientExtensions(opts Options) []Extension {
	exts := make([]Extension, 0, 5)
	if opts.ServerName != "" {
		exts = append(exts, Extension{Type: ExtServerName, ServerName: opts.ServerName})
	}
	if len(opts.NamedGroups) > 0 {
		exts = append(exts, Extension{Type: ExtSupportedGroups, Groups: opts.NamedGroups})
	}
	if len(opts.PointFormats) > 0 {
		exts = append(exts, Extension{Type: ExtPointFormats, PointFormats: opts.PointFormats})
	}
	if len(opts.SignatureAlgorithms) > 0 {
		exts = append(exts, Extension{Type: ExtSignatureAlgorithms, SignatureAlgorithms: opts.SignatureAlgorithms})
	}
	return exts
}

// serverExtensions answers the extensions the peer sent
func serverExtensions(ctx *session.Context) []Extension {
	exts := make([]Extension, 0, 2)
	if _, ok := ctx.Capability(session.CapServerName); ok {
		exts = append(exts, Extension{Type: ExtServerName})
	}
	if _, ok := ctx.Capability(session.CapPointFormats); ok {
		exts = append(exts, Extension{Type: ExtPointFormats, PointFormats: []byte{0}})
	}
	return exts
}

// applyExtension records what the peer announced. Unknown and malformed
// extensions are logged and skipped.
func applyExtension(ctx *session.Context, kind message.Kind, e Extension) {
	if e.Malformed || !known(e.Type) {
		message.Warn(ctx, message.UnknownValueWarning{Kind: kind, Field: "extensions", Value: e.Type})
		return
	}
	switch e.Type {
	case ExtServerName:
		ctx.SetCapability(session.CapServerName, e.ServerName)
	case ExtSupportedGroups:
		ctx.SetCapability(session.CapNamedGroups, e.Groups)
	case ExtPointFormats:
		ctx.SetCapability(session.CapPointFormats, []byte(e.PointFormats))
	case ExtSignatureAlgorithms:
		ctx.SetCapability(session.CapSignatureAlgorithms, e.SignatureAlgorithms)
	case ExtSupportedVersions:
		ctx.SetCapability(session.CapSupportedVersions, e.Versions)
	}
}
