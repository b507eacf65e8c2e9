package tls

import (
	"bytes"

	"github.com/pion/dtls/v2/pkg/crypto/elliptic"
	"github.com/pion/dtls/v2/pkg/crypto/prf"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
)

// pickCurve prefers our order among the groups the peer announced
func pickCurve(ctx *session.Context, opts Options) uint16 {
	offered, ok := session.CapabilityOf[[]uint16](ctx, session.CapNamedGroups)
	for _, g := range opts.NamedGroups {
		if supportedCurve(g) && (!ok || contains(offered, g)) {
			return g
		}
	}
	for _, g := range opts.NamedGroups {
		if supportedCurve(g) {
			return g
		}
	}
	return uint16(elliptic.X25519)
}

// keypair returns the configured keys or fresh ones for curve
func keypair(kind message.Kind, curve uint16, public, private []byte) ([]byte, []byte, error) {
	if len(public) != 0 {
		return public, private, nil
	}
	kp, err := elliptic.GenerateKeypair(elliptic.Curve(curve))
	if err != nil {
		return nil, nil, message.NewPreparationError(kind, err)
	}
	return kp.PublicKey, kp.PrivateKey, nil
}

// establish derives the master secret once both halves of the exchange are known
func establish(ctx *session.Context, kind message.Kind) {
	hs := ctx.Handshake()
	if len(hs.PeerPublicKey) == 0 || len(hs.LocalPrivateKey) == 0 {
		message.Warn(ctx, message.UnknownValueWarning{Kind: kind, Field: "public_key", Value: "missing key share"})
		return
	}
	pre, err := prf.PreMasterSecret(hs.PeerPublicKey, hs.LocalPrivateKey, elliptic.Curve(hs.Curve))
	if err != nil {
		ctx.Logger().With(log.LogParams{
			"kind":  kind.String(),
			"error": err.Error(),
		}).Warn("Key exchange failed")
		return
	}
	ctx.EstablishMasterSecret(pre)
}

func serverKeyExchangeBody(opts Options) body[*ServerKeyExchange] {
	return body[*ServerKeyExchange]{
		typ: TypeServerKeyExchange,
		parse: func(_ *session.Context, p *parser.Parser, m *ServerKeyExchange) error {
			var err error
			if m.CurveType, err = p.ReadUint8(); err != nil {
				return err
			}
			if m.NamedCurve, err = p.ReadUint16(); err != nil {
				return err
			}
			if m.PublicKey, err = readVector8(p); err != nil {
				return err
			}
			if p.Remaining() == 0 {
				return nil
			}
			if m.SignatureAlgorithm, err = p.ReadUint16(); err != nil {
				return err
			}
			m.Signature, err = readVector16(p)
			return err
		},
		prepare: func(ctx *session.Context, m *ServerKeyExchange) error {
			m.CurveType = message.OverridableUint8(ctx, m, "curve_type", CurveNamed)
			curve := orUint16(m.NamedCurve, pickCurve(ctx, opts))
			public, private, err := keypair(m.Kind(), curve, m.PublicKey, m.PrivateKey)
			if err != nil {
				return err
			}
			m.NamedCurve = message.OverridableUint16(ctx, m, "named_curve", curve)
			m.PrivateKey = private
			m.PublicKey = message.Overridable(ctx, m, "public_key", public)
			var alg uint16
			if len(opts.SignatureAlgorithms) > 0 {
				alg = opts.SignatureAlgorithms[0]
			}
			m.SignatureAlgorithm = message.OverridableUint16(ctx, m, "signature_algorithm", orUint16(m.SignatureAlgorithm, alg))
			m.Signature = message.Overridable(ctx, m, "signature", m.Signature)
			return nil
		},
		serialize: func(m *ServerKeyExchange, s *serializer.Serializer) {
			s.AppendUint8(m.CurveType)
			s.AppendUint16(m.NamedCurve)
			writeVector8(s, m.PublicKey)
			s.AppendUint16(m.SignatureAlgorithm)
			writeVector16(s, m.Signature)
		},
		handle: func(ctx *session.Context, m *ServerKeyExchange) error {
			hs := ctx.Handshake()
			hs.Curve = m.NamedCurve
			if !supportedCurve(m.NamedCurve) {
				message.Warn(ctx, message.UnknownValueWarning{Kind: m.Kind(), Field: "named_curve", Value: m.NamedCurve})
			}
			if sentByUs(ctx) {
				hs.LocalPublicKey = cloneBytes(m.PublicKey)
				hs.LocalPrivateKey = cloneBytes(m.PrivateKey)
				return nil
			}
			hs.PeerPublicKey = cloneBytes(m.PublicKey)
			return nil
		},
	}
}

var serverHelloDoneBody = body[*ServerHelloDone]{
	typ: TypeServerHelloDone,
}

func clientKeyExchangeBody(opts Options) body[*ClientKeyExchange] {
	return body[*ClientKeyExchange]{
		typ: TypeClientKeyExchange,
		parse: func(_ *session.Context, p *parser.Parser, m *ClientKeyExchange) error {
			var err error
			m.PublicKey, err = readVector8(p)
			return err
		},
		prepare: func(ctx *session.Context, m *ClientKeyExchange) error {
			curve := orUint16(m.Curve, orUint16(ctx.Handshake().Curve, pickCurve(ctx, opts)))
			public, private, err := keypair(m.Kind(), curve, m.PublicKey, m.PrivateKey)
			if err != nil {
				return err
			}
			m.Curve = curve
			m.PrivateKey = private
			m.PublicKey = message.Overridable(ctx, m, "public_key", public)
			return nil
		},
		serialize: func(m *ClientKeyExchange, s *serializer.Serializer) {
			writeVector8(s, m.PublicKey)
		},
		handle: func(ctx *session.Context, m *ClientKeyExchange) error {
			hs := ctx.Handshake()
			if sentByUs(ctx) {
				hs.Curve = m.Curve
				hs.LocalPublicKey = cloneBytes(m.PublicKey)
				hs.LocalPrivateKey = cloneBytes(m.PrivateKey)
			} else {
				hs.PeerPublicKey = cloneBytes(m.PublicKey)
			}
			establish(ctx, m.Kind())
			return nil
		},
	}
}

func finishedLabel(r session.Role) string {
	if r == session.Initiator {
		return "client finished"
	}
	return "server finished"
}

func verifyData(ctx *session.Context, r session.Role) ([]byte, error) {
	secret, err := ctx.DeriveSecret(finishedLabel(r), ctx.Transcript().Digest())
	if err != nil {
		return nil, err
	}
	return secret[:verifyDataLen], nil
}

var finishedBody = body[*Finished]{
	typ: TypeFinished,
	parse: func(_ *session.Context, p *parser.Parser, m *Finished) error {
		var err error
		m.VerifyData, err = p.ReadBytes(int(m.Length))
		return err
	},
	prepare: func(ctx *session.Context, m *Finished) error {
		natural := m.VerifyData
		if len(natural) == 0 {
			if len(ctx.Handshake().MasterSecret) == 0 {
				return message.Missing(m.Kind(), "master secret")
			}
			if ctx.Transcript().Digest() == nil {
				return message.Missing(m.Kind(), "transcript digest")
			}
			vd, err := verifyData(ctx, ctx.Role())
			if err != nil {
				return message.NewPreparationError(m.Kind(), err)
			}
			natural = vd
		}
		m.VerifyData = message.Overridable(ctx, m, "verify_data", natural)
		return nil
	},
	serialize: func(m *Finished, s *serializer.Serializer) {
		s.AppendBytes(m.VerifyData)
	},
	handle: func(ctx *session.Context, m *Finished) error {
		if sentByUs(ctx) {
			return nil
		}
		want, err := verifyData(ctx, ctx.Role().Peer())
		ok := err == nil && bytes.Equal(want, m.VerifyData)
		ctx.SetCapability(session.CapFinishedVerified, ok)
		if !ok {
			message.Warn(ctx, message.UnknownValueWarning{Kind: m.Kind(), Field: "verify_data", Value: m.VerifyData})
		}
		return nil
	},
}

var certificateBody = body[*Certificate]{
	typ: TypeCertificate,
	parse: func(_ *session.Context, p *parser.Parser, m *Certificate) error {
		total, err := p.ReadUint24()
		if err != nil {
			return err
		}
		start := p.Cursor()
		end := start + int(total)
		m.Certificates = make([]message.Bytes, 0)
		err = p.Nested("certificate_list", int(total), func() error {
			for p.Cursor() < end {
				n, err := p.ReadUint24()
				if err != nil {
					return err
				}
				cert, err := p.ReadBytes(int(n))
				if err != nil {
					return err
				}
				m.Certificates = append(m.Certificates, cert)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.ListBytes = p.Consumed(start)
		return nil
	},
	prepare: func(ctx *session.Context, m *Certificate) error {
		s := serializer.New()
		for _, cert := range m.Certificates {
			s.AppendUint24(uint32(len(cert)))
			s.AppendBytes(cert)
		}
		m.ListBytes = message.Overridable(ctx, m, "certificates", s.Bytes())
		return nil
	},
	serialize: func(m *Certificate, s *serializer.Serializer) {
		s.AppendUint24(uint32(len(m.ListBytes)))
		s.AppendBytes(m.ListBytes)
	},
	handle: func(ctx *session.Context, m *Certificate) error {
		if !sentByUs(ctx) {
			ctx.Logger().With(log.LogParams{"certificates": len(m.Certificates)}).Debug("Received certificates")
		}
		return nil
	},
}
