package tls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/executor"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/modvar"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/transport"
	"github.com/wiretamper/wiretamper/workflow"
)

func newSession(role session.Role) *session.Context {
	return session.New(role, config.Default(), nil, nil)
}

// roundTrip prepares and serializes m, then parses the bytes back
func roundTrip(t *testing.T, reg *message.Registry, sc *session.Context, m message.Message) ([]byte, message.Message) {
	t.Helper()
	prep, err := reg.PreparatorFor(sc, m.Kind())
	require.NoError(t, err)
	require.NoError(t, prep.Prepare(m))
	ser, err := reg.SerializerFor(sc, m.Kind())
	require.NoError(t, err)
	raw, err := ser.Serialize(m)
	require.NoError(t, err)
	par, err := reg.ParserFor(sc, m.Kind())
	require.NoError(t, err)
	got, err := par.Parse(parser.New(raw, 0))
	require.NoError(t, err)
	assert.Equal(t, raw, got.Common().CompleteResultingBytes())
	return raw, got
}

func TestRegistryKinds(t *testing.T) {
	plain := NewRegistry(DefaultOptions(false))
	assert.Equal(t, "tls", plain.Protocol())
	assert.False(t, plain.Has(KindHelloVerifyRequest))
	assert.True(t, plain.Has(KindCertificate))
	assert.True(t, plain.Has(message.KindUnknown))

	dtls := NewRegistry(DefaultOptions(true))
	assert.Equal(t, "dtls", dtls.Protocol())
	assert.True(t, dtls.Has(KindHelloVerifyRequest))
}

func TestClientHelloRoundTrip(t *testing.T) {
	for _, dtls := range []bool{false, true} {
		opts := DefaultOptions(dtls)
		opts.ServerName = "example.org"
		reg := NewRegistry(opts)
		sc := newSession(session.Initiator)
		sc.Handshake().Cookie = []byte{1, 2, 3}

		m := &ClientHello{}
		_, got := roundTrip(t, reg, sc, m)
		ch := got.(*ClientHello)
		assert.Equal(t, opts.Version, ch.Version)
		assert.Len(t, ch.Random, randomLen)
		assert.Equal(t, m.Random, ch.Random)
		assert.Len(t, ch.SessionID, opts.SessionIDLength)
		assert.Equal(t, opts.CipherSuites, bytesToUint16s(ch.CipherSuites))
		assert.Equal(t, m.Extensions, ch.Extensions)
		assert.Equal(t, "example.org", ch.Extensions[0].ServerName)
		if dtls {
			assert.Equal(t, message.Bytes{1, 2, 3}, ch.Cookie)
			assert.Equal(t, uint16(0), ch.MessageSeq)
		} else {
			assert.Empty(t, ch.Cookie)
		}
	}
}

func TestHeaderLengthOverride(t *testing.T) {
	reg := NewRegistry(DefaultOptions(false))
	sc := newSession(session.Responder)
	length := uint64(3)
	m := &ServerHelloDone{}
	m.Overrides = modvar.Overrides{"length": {Uint: &length}}
	raw, err := func() ([]byte, error) {
		prep, _ := reg.PreparatorFor(sc, KindServerHelloDone)
		if err := prep.Prepare(m); err != nil {
			return nil, err
		}
		ser, _ := reg.SerializerFor(sc, KindServerHelloDone)
		return ser.Serialize(m)
	}()
	require.NoError(t, err)
	assert.Equal(t, []byte{TypeServerHelloDone, 0, 0, 3}, raw)

	par, err := reg.ParserFor(sc, KindServerHelloDone)
	require.NoError(t, err)
	_, err = par.Parse(parser.New(raw, 0))
	assert.True(t, errors.Is(err, parser.ErrTruncatedInput))
}

func TestCertificateRoundTrip(t *testing.T) {
	reg := NewRegistry(DefaultOptions(false))
	m := &Certificate{Certificates: []message.Bytes{{0x30, 0x01}, {0x30, 0x02, 0x03}}}
	raw, got := roundTrip(t, reg, newSession(session.Responder), m)
	assert.Equal(t, m.Certificates, got.(*Certificate).Certificates)
	// header(4) list length(3) two length prefixed certificates
	assert.Len(t, raw, 4+3+3+2+3+3)
}

func TestServerKeyExchangeRoundTrip(t *testing.T) {
	reg := NewRegistry(DefaultOptions(false))
	m := &ServerKeyExchange{Signature: message.Bytes{0xaa}}
	_, got := roundTrip(t, reg, newSession(session.Responder), m)
	ske := got.(*ServerKeyExchange)
	assert.Equal(t, CurveNamed, ske.CurveType)
	assert.Equal(t, DefaultOptions(false).NamedGroups[0], ske.NamedCurve)
	assert.Equal(t, m.PublicKey, ske.PublicKey)
	assert.NotEmpty(t, m.PrivateKey)
	assert.Empty(t, ske.PrivateKey)
	assert.Equal(t, message.Bytes{0xaa}, ske.Signature)
}

func TestWrongHandshakeType(t *testing.T) {
	reg := NewRegistry(DefaultOptions(false))
	sc := newSession(session.Initiator)
	par, err := reg.ParserFor(sc, KindServerHello)
	require.NoError(t, err)
	_, err = par.Parse(parser.New([]byte{TypeServerHelloDone, 0, 0, 0}, 0))
	assert.True(t, errors.Is(err, ErrUnexpectedType))
}

func TestFinishedNeedsSecret(t *testing.T) {
	reg := NewRegistry(DefaultOptions(false))
	sc := newSession(session.Initiator)
	prep, err := reg.PreparatorFor(sc, KindFinished)
	require.NoError(t, err)
	err = prep.Prepare(&Finished{})
	var perr *message.PreparationError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindFinished, perr.Kind)
	assert.Contains(t, err.Error(), "master secret")

	sc.EstablishMasterSecret([]byte("premaster"))
	err = prep.Prepare(&Finished{})
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, message.ErrMissingContext)
	assert.Contains(t, err.Error(), "transcript digest")

	sc.ExtendTranscript([]byte{1, 0, 0, 0})
	f := &Finished{}
	require.NoError(t, prep.Prepare(f))
	assert.Len(t, f.VerifyData, verifyDataLen)
}

func TestExtensionEdgeCases(t *testing.T) {
	cases := []struct {
		name       string
		typ        uint16
		body       []byte
		fromServer bool
		want       Extension
	}{
		{"groups", ExtSupportedGroups, []byte{0, 4, 0, 29, 0, 23}, false,
			Extension{Type: ExtSupportedGroups, Groups: []uint16{29, 23}}},
		{"odd groups", ExtSupportedGroups, []byte{0, 3, 0, 29, 0}, false,
			Extension{Type: ExtSupportedGroups, Raw: []byte{0, 3, 0, 29, 0}, Malformed: true}},
		{"trailing bytes", ExtPointFormats, []byte{1, 0, 9}, false,
			Extension{Type: ExtPointFormats, Raw: []byte{1, 0, 9}, Malformed: true}},
		{"empty server name", ExtServerName, []byte{}, true,
			Extension{Type: ExtServerName}},
		{"server version", ExtSupportedVersions, []byte{3, 3}, true,
			Extension{Type: ExtSupportedVersions, Versions: []uint16{0x0303}}},
		{"unknown", 0xff01, []byte{0}, false,
			Extension{Type: 0xff01, Raw: []byte{0}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, parseExtension(c.typ, c.body, c.fromServer))
		})
	}
}

func TestUnknownExtensionIsKeptAndReserialized(t *testing.T) {
	s := serializer.New()
	writeExtension(s, Extension{Type: 0xff01, Raw: []byte{7, 7}}, false)
	list := s.Bytes()

	framed := serializer.New()
	framed.AppendUint16(uint16(len(list)))
	framed.AppendBytes(list)
	exts, raw, err := parseExtensions(parser.New(framed.Bytes(), 0), false)
	require.NoError(t, err)
	assert.Equal(t, list, raw)
	require.Len(t, exts, 1)
	assert.Equal(t, message.Bytes{7, 7}, exts[0].Raw)
	assert.Equal(t, list, encodeExtensions(exts, false))
}

func TestExtensionListOverrun(t *testing.T) {
	// declares four bytes of extensions but the extension claims eight
	data := []byte{0, 4, 0, 10, 0, 8}
	_, _, err := parseExtensions(parser.New(data, 0), false)
	assert.Error(t, err)
}

func TestOptionsDecode(t *testing.T) {
	o, err := DecodeOptions(map[string]interface{}{
		"cipher_suites":  []interface{}{"0xc02f", 49195},
		"server_name":    "example.org",
		"session_id_len": "8",
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0xc02f, 0xc02b}, o.CipherSuites)
	assert.Equal(t, "example.org", o.ServerName)
	assert.Equal(t, 8, o.SessionIDLength)
	assert.Equal(t, VersionTLS12, o.Version)

	_, err = DecodeOptions(map[string]interface{}{"no_such_option": 1}, false)
	assert.Error(t, err)
	_, err = DecodeOptions(map[string]interface{}{"session_id_len": 33}, false)
	assert.Error(t, err)

	one, err := DecodeOptions(map[string]interface{}{
		"cipher_suites": []interface{}{"0x1301"},
		"point_formats": []interface{}{1},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1301}, one.CipherSuites)
	assert.Equal(t, []uint8{1}, one.PointFormats)
	assert.Equal(t, DefaultOptions(false).NamedGroups, one.NamedGroups)

	d, err := DecodeOptions(nil, true)
	require.NoError(t, err)
	assert.True(t, d.DTLS)
	assert.Equal(t, VersionDTLS12, d.RecordVersion)
}

func TestRecordsSplitLargePayload(t *testing.T) {
	sc := newSession(session.Initiator)
	out := NewRecords(DefaultOptions(false))
	payload := make([]byte, maxFragment+10)
	wire := out.Wrap(sc, ContentApplicationData, payload)
	assert.Len(t, wire, len(payload)+2*recordHeaderLen)

	in := NewRecords(DefaultOptions(false))
	units := in.Feed(sc, wire[:100])
	assert.Empty(t, units)
	assert.Equal(t, 100, in.Buffered())
	units = in.Feed(sc, wire[100:])
	require.Len(t, units, 2)
	assert.Len(t, units[0].Data, maxFragment)
	assert.Len(t, units[1].Data, 10)
	assert.Equal(t, 0, in.Buffered())
}

func TestRecordsEmptyPayload(t *testing.T) {
	wire := NewRecords(DefaultOptions(false)).Wrap(newSession(session.Initiator), ContentApplicationData, nil)
	assert.Equal(t, []byte{ContentApplicationData, 3, 3, 0, 0}, wire)
}

func TestRecordsHandshakeAcrossRecords(t *testing.T) {
	sc := newSession(session.Initiator)
	msg := []byte{TypeFinished, 0, 0, 4, 1, 2, 3, 4}
	out := NewRecords(DefaultOptions(false))
	wire := append(out.Wrap(sc, ContentHandshake, msg[:3]), out.Wrap(sc, ContentHandshake, msg[3:])...)

	in := NewRecords(DefaultOptions(false))
	units := in.Feed(sc, wire)
	require.Len(t, units, 1)
	assert.Equal(t, msg, units[0].Data)
	assert.Equal(t, TypeFinished, units[0].Type)
	kind, ok := in.Detect(sc, units[0])
	assert.True(t, ok)
	assert.Equal(t, KindFinished, kind)
}

func TestRecordsPendingDrains(t *testing.T) {
	sc := newSession(session.Initiator)
	in := NewRecords(DefaultOptions(false))
	partial := NewRecords(DefaultOptions(false)).Wrap(sc, ContentHandshake, []byte{TypeFinished, 0, 0, 12, 1})
	assert.Empty(t, in.Feed(sc, partial))
	assert.Equal(t, []byte{TypeFinished, 0, 0, 12, 1}, in.Pending())
	assert.Nil(t, in.Pending())
	assert.Equal(t, 0, in.Buffered())
}

func TestRecordsFatalAlert(t *testing.T) {
	sc := newSession(session.Initiator)
	wire := NewRecords(DefaultOptions(false)).Wrap(sc, ContentAlert, []byte{AlertWarning, 0, AlertFatal, 40})
	units := NewRecords(DefaultOptions(false)).Feed(sc, wire)
	require.Len(t, units, 2)
	assert.False(t, units[0].Fatal)
	assert.True(t, units[1].Fatal)
}

func dtlsFragment(typ uint8, length uint32, seq uint16, offset uint32, data []byte) []byte {
	s := serializer.New()
	s.AppendUint8(typ)
	s.AppendUint24(length)
	s.AppendUint16(seq)
	s.AppendUint24(offset)
	s.AppendUint24(uint32(len(data)))
	s.AppendBytes(data)
	return s.Bytes()
}

func TestDTLSRecordHeader(t *testing.T) {
	sc := newSession(session.Initiator)
	r := NewRecords(DefaultOptions(true))
	first := r.Wrap(sc, ContentChangeCipherSpec, []byte{1})
	second := r.Wrap(sc, ContentHandshake, []byte{})
	assert.Equal(t, []byte{ContentChangeCipherSpec, 0xfe, 0xfd, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 1}, first)
	// the epoch moves on after a change cipher spec
	assert.Equal(t, []byte{0, 1}, second[3:5])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, second[5:11])
}

func TestDTLSReassembly(t *testing.T) {
	opts := DefaultOptions(true)
	sc := newSession(session.Initiator)
	verify := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	out := NewRecords(opts)
	second := out.Wrap(sc, ContentHandshake, dtlsFragment(TypeFinished, 12, 4, 6, verify[6:]))
	first := out.Wrap(sc, ContentHandshake, dtlsFragment(TypeFinished, 12, 4, 0, verify[:6]))

	in := NewRecords(opts)
	assert.Empty(t, in.Feed(sc, second))
	assert.NotZero(t, in.Buffered())
	units := in.Feed(sc, first)
	require.Len(t, units, 1)
	assert.Equal(t, dtlsFragment(TypeFinished, 12, 4, 0, verify), units[0].Data)

	reg := NewRegistry(opts)
	par, err := reg.ParserFor(sc, KindFinished)
	require.NoError(t, err)
	m, err := par.Parse(parser.New(units[0].Data, 0))
	require.NoError(t, err)
	assert.Equal(t, message.Bytes(verify), m.(*Finished).VerifyData)
	assert.Equal(t, uint16(4), m.(*Finished).MessageSeq)
}

func TestDTLSUnreassembledFragmentDoesNotParse(t *testing.T) {
	opts := DefaultOptions(true)
	sc := newSession(session.Initiator)
	par, err := NewRegistry(opts).ParserFor(sc, KindFinished)
	require.NoError(t, err)
	_, err = par.Parse(parser.New(dtlsFragment(TypeFinished, 12, 0, 0, []byte{1, 2}), 0))
	assert.True(t, errors.Is(err, ErrFragmented))
}

func TestFactoryTraces(t *testing.T) {
	for _, f := range []Family{TLS, DTLS} {
		for _, name := range f.Traces() {
			for _, role := range []session.Role{session.Initiator, session.Responder} {
				tr, err := f.Trace(name, role, nil)
				require.NoError(t, err)
				assert.Equal(t, f.Name(), tr.Protocol)
				assert.Equal(t, name, tr.Name)
				assert.NotEmpty(t, tr.Actions())
			}
		}
		_, err := f.Trace("resumption", session.Initiator, nil)
		assert.True(t, errors.Is(err, workflow.ErrUnknownTrace))
	}
	hello, err := DTLS.Trace(TraceHello, session.Initiator, nil)
	require.NoError(t, err)
	assert.Len(t, hello.Actions(), 4)
}

func TestFactoryTraceDocument(t *testing.T) {
	tr, err := TLS.Trace(TraceHandshake, session.Initiator, nil)
	require.NoError(t, err)
	data, err := workflow.Encode(tr)
	require.NoError(t, err)
	back, err := workflow.Decode(data, NewRegistry(DefaultOptions(false)))
	require.NoError(t, err)
	again, err := workflow.Encode(back)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

type peers struct {
	client, server       *session.Context
	clientTr, serverTr   *workflow.Trace
	clientErr, serverErr error
}

func runPeers(t *testing.T, f Family, name string) peers {
	t.Helper()
	c := config.Default()
	c.Timeout = config.Duration{Duration: time.Second}
	reg, err := f.Registry(c)
	require.NoError(t, err)
	a, b := transport.Pipe()
	p := peers{
		client: session.New(session.Initiator, c, nil, nil),
		server: session.New(session.Responder, c, nil, nil),
	}
	p.clientTr, err = f.Trace(name, session.Initiator, c)
	require.NoError(t, err)
	p.serverTr, err = f.Trace(name, session.Responder, c)
	require.NoError(t, err)
	cl, err := f.Layer(c)
	require.NoError(t, err)
	sl, err := f.Layer(c)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- p.serverTr.Execute(context.Background(), p.server, executor.New(reg, sl, b, workflow.Hooks{}, nil), workflow.Hooks{})
	}()
	p.clientErr = p.clientTr.Execute(context.Background(), p.client, executor.New(reg, cl, a, workflow.Hooks{}, nil), workflow.Hooks{})
	p.serverErr = <-done
	return p
}

func TestFullHandshake(t *testing.T) {
	for _, f := range []Family{TLS, DTLS} {
		t.Run(f.Name(), func(t *testing.T) {
			p := runPeers(t, f, TraceHandshake)
			require.NoError(t, p.clientErr)
			require.NoError(t, p.serverErr)
			assert.True(t, p.clientTr.ExecutedAsPlanned())
			assert.True(t, p.serverTr.ExecutedAsPlanned())

			assert.NotEmpty(t, p.client.Handshake().MasterSecret)
			assert.Equal(t, p.client.Handshake().MasterSecret, p.server.Handshake().MasterSecret)
			assert.Equal(t, p.client.Transcript().Digest(), p.server.Transcript().Digest())
			for _, sc := range []*session.Context{p.client, p.server} {
				verified, ok := session.CapabilityOf[bool](sc, session.CapFinishedVerified)
				assert.True(t, ok)
				assert.True(t, verified)
				suite, ok := sc.SelectedSuite()
				assert.True(t, ok)
				assert.Equal(t, uint16(0xc02b), suite)
			}
			assert.True(t, p.clientTr.DidReceive(KindServerKeyExchange))
			assert.False(t, p.clientTr.DidReceive(KindCertificate))
			assert.Zero(t, p.clientTr.UnknownReceived())
		})
	}
}

func TestTamperedFinishedIsNotVerified(t *testing.T) {
	c := config.Default()
	c.Timeout = config.Duration{Duration: time.Second}
	reg, err := TLS.Registry(c)
	require.NoError(t, err)
	a, b := transport.Pipe()
	client := session.New(session.Initiator, c, nil, nil)
	server := session.New(session.Responder, c, nil, nil)
	ct, err := TLS.Trace(TraceHandshake, session.Initiator, c)
	require.NoError(t, err)
	st, err := TLS.Trace(TraceHandshake, session.Responder, c)
	require.NoError(t, err)
	finish := ct.Actions()[2].(*workflow.SendAction)
	finish.Messages[2].Common().Overrides = modvar.Overrides{"verify_data": {Xor: "01"}}

	done := make(chan error, 1)
	go func() {
		done <- st.Execute(context.Background(), server, executor.New(reg, NewRecords(DefaultOptions(false)), b, workflow.Hooks{}, nil), workflow.Hooks{})
	}()
	require.NoError(t, ct.Execute(context.Background(), client, executor.New(reg, NewRecords(DefaultOptions(false)), a, workflow.Hooks{}, nil), workflow.Hooks{}))
	require.NoError(t, <-done)

	verified, ok := session.CapabilityOf[bool](server, session.CapFinishedVerified)
	assert.True(t, ok)
	assert.False(t, verified)
}

func TestAlertTrace(t *testing.T) {
	p := runPeers(t, TLS, TraceAlert)
	require.NoError(t, p.clientErr)
	require.NoError(t, p.serverErr)
	assert.True(t, p.clientTr.ExecutedAsPlanned())
	desc, ok := session.CapabilityOf[uint8](p.client, session.CapLastAlert)
	assert.True(t, ok)
	assert.Equal(t, AlertHandshakeFailure, desc)
}
