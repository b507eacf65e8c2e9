package tls

import (
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

func clientHelloBody(opts Options) body[*ClientHello] {
	return body[*ClientHello]{
		typ: TypeClientHello,
		parse: func(_ *session.Context, p *parser.Parser, m *ClientHello) error {
			var err error
			if m.Version, err = p.ReadUint16(); err != nil {
				return err
			}
			if m.Random, err = p.ReadBytes(randomLen); err != nil {
				return err
			}
			if m.SessionID, err = readVector8(p); err != nil {
				return err
			}
			if opts.DTLS {
				if m.Cookie, err = readVector8(p); err != nil {
					return err
				}
			}
			if m.CipherSuites, err = readVector16(p); err != nil {
				return err
			}
			if m.CompressionMethods, err = readVector8(p); err != nil {
				return err
			}
			if p.Remaining() == 0 {
				return nil
			}
			m.Extensions, m.ExtensionBytes, err = parseExtensions(p, false)
			return err
		},
		prepare: func(ctx *session.Context, m *ClientHello) error {
			m.Version = message.OverridableUint16(ctx, m, "version", orUint16(m.Version, opts.Version))
			m.Random = message.Overridable(ctx, m, "random", orBytes(m.Random, func() []byte {
				return randomBytes(randomLen)
			}))
			sid := m.SessionID
			if sid == nil {
				sid = randomBytes(opts.SessionIDLength)
			}
			m.SessionID = message.Overridable(ctx, m, "session_id", sid)
			if opts.DTLS {
				m.Cookie = message.Overridable(ctx, m, "cookie", orBytes(m.Cookie, func() []byte {
					return cloneBytes(ctx.Handshake().Cookie)
				}))
			}
			m.CipherSuites = message.Overridable(ctx, m, "cipher_suites", orBytes(m.CipherSuites, func() []byte {
				return uint16sToBytes(opts.CipherSuites)
			}))
			m.CompressionMethods = message.Overridable(ctx, m, "compression_methods", orBytes(m.CompressionMethods, func() []byte {
				return []byte{0}
			}))
			if m.Extensions == nil {
				m.Extensions = clientExtensions(opts)
			}
			m.ExtensionBytes = message.Overridable(ctx, m, "extensions", encodeExtensions(m.Extensions, false))
			return nil
		},
		serialize: func(m *ClientHello, s *serializer.Serializer) {
			s.AppendUint16(m.Version)
			s.AppendBytes(m.Random)
			writeVector8(s, m.SessionID)
			if opts.DTLS {
				writeVector8(s, m.Cookie)
			}
			writeVector16(s, m.CipherSuites)
			writeVector8(s, m.CompressionMethods)
			if len(m.ExtensionBytes) > 0 {
				writeVector16(s, m.ExtensionBytes)
			}
		},
		handle: func(ctx *session.Context, m *ClientHello) error {
			hs := ctx.Handshake()
			hs.ClientRandom = cloneBytes(m.Random)
			if sentByUs(ctx) {
				return nil
			}
			hs.SessionID = cloneBytes(m.SessionID)
			ctx.SetCapability(session.CapCipherSuites, bytesToUint16s(m.CipherSuites))
			for _, e := range m.Extensions {
				applyExtension(ctx, m.Kind(), e)
			}
			return nil
		},
	}
}

// pickSuite prefers our order among the suites the peer offered
func pickSuite(ctx *session.Context, opts Options) uint16 {
	if opts.SelectedSuite != 0 {
		return opts.SelectedSuite
	}
	offered, ok := session.CapabilityOf[[]uint16](ctx, session.CapCipherSuites)
	for _, s := range opts.CipherSuites {
		if !ok || contains(offered, s) {
			return s
		}
	}
	if len(offered) > 0 {
		return offered[0]
	}
	if len(opts.CipherSuites) > 0 {
		return opts.CipherSuites[0]
	}
	return 0
}

func serverHelloBody(opts Options) body[*ServerHello] {
	return body[*ServerHello]{
		typ: TypeServerHello,
		parse: func(_ *session.Context, p *parser.Parser, m *ServerHello) error {
			var err error
			if m.Version, err = p.ReadUint16(); err != nil {
				return err
			}
			if m.Random, err = p.ReadBytes(randomLen); err != nil {
				return err
			}
			if m.SessionID, err = readVector8(p); err != nil {
				return err
			}
			if m.CipherSuite, err = p.ReadUint16(); err != nil {
				return err
			}
			if m.Compression, err = p.ReadUint8(); err != nil {
				return err
			}
			if p.Remaining() == 0 {
				return nil
			}
			m.Extensions, m.ExtensionBytes, err = parseExtensions(p, true)
			return err
		},
		prepare: func(ctx *session.Context, m *ServerHello) error {
			m.Version = message.OverridableUint16(ctx, m, "version", orUint16(m.Version, opts.Version))
			m.Random = message.Overridable(ctx, m, "random", orBytes(m.Random, func() []byte {
				return randomBytes(randomLen)
			}))
			sid := m.SessionID
			if sid == nil {
				sid = randomBytes(opts.SessionIDLength)
			}
			m.SessionID = message.Overridable(ctx, m, "session_id", sid)
			m.CipherSuite = message.OverridableUint16(ctx, m, "cipher_suite", orUint16(m.CipherSuite, pickSuite(ctx, opts)))
			m.Compression = message.OverridableUint8(ctx, m, "compression", m.Compression)
			if m.Extensions == nil {
				m.Extensions = serverExtensions(ctx)
			}
			m.ExtensionBytes = message.Overridable(ctx, m, "extensions", encodeExtensions(m.Extensions, true))
			return nil
		},
		serialize: func(m *ServerHello, s *serializer.Serializer) {
			s.AppendUint16(m.Version)
			s.AppendBytes(m.Random)
			writeVector8(s, m.SessionID)
			s.AppendUint16(m.CipherSuite)
			s.AppendUint8(m.Compression)
			if len(m.ExtensionBytes) > 0 {
				writeVector16(s, m.ExtensionBytes)
			}
		},
		handle: func(ctx *session.Context, m *ServerHello) error {
			hs := ctx.Handshake()
			hs.ServerRandom = cloneBytes(m.Random)
			hs.SessionID = cloneBytes(m.SessionID)
			version := m.Version
			for _, e := range m.Extensions {
				if e.Type == ExtSupportedVersions && len(e.Versions) == 1 {
					version = e.Versions[0]
				}
				if !sentByUs(ctx) {
					applyExtension(ctx, m.Kind(), e)
				}
			}
			if err := ctx.SetNegotiatedVersion(version); err != nil {
				keepFirst(ctx, m.Kind(), "version", err)
			}
			if err := ctx.SetSelectedSuite(m.CipherSuite); err != nil {
				keepFirst(ctx, m.Kind(), "cipher_suite", err)
			}
			return nil
		},
	}
}

func keepFirst(ctx *session.Context, kind message.Kind, field string, err error) {
	ctx.Logger().With(log.LogParams{
		"kind":  kind.String(),
		"field": field,
		"error": err.Error(),
	}).Warn("Keeping the first negotiated value")
}

func helloVerifyRequestBody(opts Options) body[*HelloVerifyRequest] {
	return body[*HelloVerifyRequest]{
		typ: TypeHelloVerifyRequest,
		parse: func(_ *session.Context, p *parser.Parser, m *HelloVerifyRequest) error {
			var err error
			if m.Version, err = p.ReadUint16(); err != nil {
				return err
			}
			m.Cookie, err = readVector8(p)
			return err
		},
		prepare: func(ctx *session.Context, m *HelloVerifyRequest) error {
			m.Version = message.OverridableUint16(ctx, m, "version", orUint16(m.Version, opts.Version))
			m.Cookie = message.Overridable(ctx, m, "cookie", orBytes(m.Cookie, func() []byte {
				return randomBytes(20)
			}))
			return nil
		},
		serialize: func(m *HelloVerifyRequest, s *serializer.Serializer) {
			s.AppendUint16(m.Version)
			writeVector8(s, m.Cookie)
		},
		// the first hello and the verify request are not part of the
		// transcript
		handle: func(ctx *session.Context, m *HelloVerifyRequest) error {
			ctx.Handshake().Cookie = cloneBytes(m.Cookie)
			ctx.ResetTranscript()
			return nil
		},
		noTranscript: true,
	}
}
