package smtp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/executor"
	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/lineproto"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/modvar"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/transport"
	"github.com/wiretamper/wiretamper/workflow"
)

func newSession(role session.Role) *session.Context {
	return session.New(role, config.Default(), nil, nil)
}

func encode(t *testing.T, sc *session.Context, m message.Message) []byte {
	t.Helper()
	reg := NewRegistry(DefaultOptions())
	prep, err := reg.PreparatorFor(sc, m.Kind())
	require.NoError(t, err)
	require.NoError(t, prep.Prepare(m))
	ser, err := reg.SerializerFor(sc, m.Kind())
	require.NoError(t, err)
	raw, err := ser.Serialize(m)
	require.NoError(t, err)
	return raw
}

func decode(t *testing.T, sc *session.Context, kind message.Kind, raw string) (message.Message, error) {
	t.Helper()
	par, err := NewRegistry(DefaultOptions()).ParserFor(sc, kind)
	require.NoError(t, err)
	return par.Parse(parser.New([]byte(raw), 0))
}

func TestCommandsUseOptions(t *testing.T) {
	sc := newSession(session.Initiator)
	assert.Equal(t, "EHLO client.wiretamper.test\r\n", string(encode(t, sc, &Ehlo{})))
	assert.Equal(t, "MAIL FROM:<alice@wiretamper.test>\r\n", string(encode(t, sc, &Mail{})))
	assert.Equal(t, "RCPT TO:<bob@wiretamper.test>\r\n", string(encode(t, sc, &Rcpt{})))
	assert.Equal(t, "DATA\r\n", string(encode(t, sc, &Data{})))

	custom := &UnknownCommand{}
	custom.Verb = "XYZZY"
	custom.Parameters = "now"
	assert.Equal(t, "XYZZY now\r\n", string(encode(t, sc, custom)))

	quit := &Quit{}
	quit.Overrides = modvar.Overrides{"verb": {Bytes: "71756974"}}
	assert.Equal(t, "quit\r\n", string(encode(t, sc, quit)))
}

func TestCommandParse(t *testing.T) {
	sc := newSession(session.Responder)
	m, err := decode(t, sc, KindMail, "mail FROM:<x@y> SIZE=10\r\n")
	require.NoError(t, err)
	assert.Equal(t, "mail", m.(*Mail).Verb)
	assert.Equal(t, "FROM:<x@y> SIZE=10", m.(*Mail).Parameters)

	_, err = decode(t, sc, KindRcpt, "MAIL FROM:<x@y>\r\n")
	assert.True(t, errors.Is(err, lineproto.ErrUnexpectedCommand))

	other, err := decode(t, sc, KindUnknownCommand, "STARTTLS\r\n")
	require.NoError(t, err)
	assert.Equal(t, "STARTTLS", other.(*UnknownCommand).Verb)
}

func TestInitialGreetingCannotBeParsed(t *testing.T) {
	_, err := decode(t, newSession(session.Initiator), KindInitialGreeting, "220 hi\r\n")
	assert.True(t, errors.Is(err, message.ErrUnsupportedOperation))
}

func TestMultilineReply(t *testing.T) {
	sc := newSession(session.Initiator)
	m, err := decode(t, sc, KindReply, "250-first\r\n250-second\r\n250 last\r\n")
	require.NoError(t, err)
	assert.Equal(t, 250, m.(*Reply).Code)
	assert.Equal(t, []string{"first", "second", "last"}, m.(*Reply).Lines)

	bare, err := decode(t, sc, KindReply, "354\r\n")
	require.NoError(t, err)
	assert.Equal(t, 354, bare.(*Reply).Code)
	assert.Empty(t, bare.(*Reply).Lines)
}

func TestInconsistentCodeKeepsFirst(t *testing.T) {
	m, err := decode(t, newSession(session.Initiator), KindReply, "250-one\r\n451 two\r\n")
	require.NoError(t, err)
	assert.Equal(t, 250, m.(*Reply).Code)
	assert.Len(t, m.(*Reply).Lines, 2)
}

func TestMalformedReplies(t *testing.T) {
	sc := newSession(session.Initiator)
	for _, raw := range []string{"2x0 no\r\n", "25\r\n", "250+ok\r\n", "250-open\r\n"} {
		_, err := decode(t, sc, KindReply, raw)
		assert.Error(t, err, raw)
	}
}

func TestReplyRoundTrip(t *testing.T) {
	sc := newSession(session.Responder)
	sc.SetGreetingReceived(true)
	raw := encode(t, sc, &Reply{Code: 451, Lines: []string{"busy", "try later"}})
	assert.Equal(t, "451-busy\r\n451 try later\r\n", string(raw))
	m, err := decode(t, sc, KindReply, string(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"busy", "try later"}, m.(*Reply).Lines)
}

func TestNaturalReplies(t *testing.T) {
	sc := newSession(session.Responder)
	assert.Equal(t, "220 mx.wiretamper.test ESMTP wiretamper\r\n", string(encode(t, sc, &Reply{})))
	sc.SetGreetingReceived(true)
	sc.SetLastCommand(KindData.String())
	assert.Equal(t, "354 End data with <CR><LF>.<CR><LF>\r\n", string(encode(t, sc, &Reply{})))
	sc.SetLastCommand(KindUnknownCommand.String())
	assert.Equal(t, "500 Command unrecognized\r\n", string(encode(t, sc, &Reply{})))
}

func TestEhloReply(t *testing.T) {
	sc := newSession(session.Initiator)
	raw := "250-mx.example.org greets you\r\n" +
		"250-SIZE 1000\r\n" +
		"250-AUTH PLAIN LOGIN\r\n" +
		"250-XFORWARD NAME ADDR\r\n" +
		"250-FANCY\r\n" +
		"250- \r\n" +
		"250 8BITMIME\r\n"
	m, err := decode(t, sc, KindEhloReply, raw)
	require.NoError(t, err)
	r := m.(*EhloReply)
	assert.Equal(t, "mx.example.org", r.Domain)
	assert.Equal(t, "greets you", r.Greeting)
	assert.Equal(t, []EhloExtension{
		{Keyword: "SIZE", Parameters: []string{"1000"}},
		{Keyword: "AUTH", Parameters: []string{"PLAIN", "LOGIN"}},
		{Keyword: "XFORWARD", Parameters: []string{"NAME", "ADDR"}},
		{Keyword: "FANCY", Unknown: true},
		{Keyword: "8BITMIME"},
	}, r.Extensions)

	sc.SetTalkingSide(session.Responder)
	h, err := NewRegistry(DefaultOptions()).HandlerFor(sc, KindEhloReply)
	require.NoError(t, err)
	require.NoError(t, h.Adjust(r))
	mechs, _ := session.CapabilityOf[[]string](sc, session.CapSASLMechanisms)
	assert.Equal(t, []string{"PLAIN", "LOGIN"}, mechs)
	exts, _ := session.CapabilityOf[[]string](sc, session.CapEhloExtensions)
	assert.Equal(t, []string{"SIZE", "AUTH", "XFORWARD", "FANCY", "8BITMIME"}, exts)
}

func TestEhloReplyOtherCodeIsGeneric(t *testing.T) {
	m, err := decode(t, newSession(session.Initiator), KindEhloReply, "502 not implemented\r\n")
	require.NoError(t, err)
	r := m.(*EhloReply)
	assert.Equal(t, 502, r.Code)
	assert.Equal(t, []string{"not implemented"}, r.Lines)
	assert.Empty(t, r.Domain)
	assert.Empty(t, r.Extensions)
}

func TestEhloReplyPrepare(t *testing.T) {
	sc := newSession(session.Responder)
	sc.SetCapability(session.CapClientIdentity, "c.example")
	raw := encode(t, sc, &EhloReply{Extensions: []EhloExtension{{Keyword: "PIPELINING"}}})
	assert.Equal(t, "250-mx.wiretamper.test greets c.example\r\n250 PIPELINING\r\n", string(raw))
}

func TestMailContentDotStuffing(t *testing.T) {
	sc := newSession(session.Initiator)
	raw := encode(t, sc, &MailContent{Lines: []string{"a", ".b", ""}})
	assert.Equal(t, "a\r\n..b\r\n\r\n.\r\n", string(raw))
	m, err := decode(t, sc, KindMailContent, string(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", ".b", ""}, m.(*MailContent).Lines)
}

func TestLinesCutsReplies(t *testing.T) {
	sc := newSession(session.Initiator)
	l := NewLines()
	assert.Empty(t, l.Feed(sc, []byte("250-a\r\n250-b")))
	units := l.Feed(sc, []byte("\r\n250 c\r\n221 bye\r\n354 go"))
	require.Len(t, units, 2)
	assert.Equal(t, "250-a\r\n250-b\r\n250 c\r\n", string(units[0].Data))
	assert.Equal(t, "221 bye\r\n", string(units[1].Data))
	assert.Equal(t, 6, l.Buffered())
	assert.Equal(t, "354 go", string(l.Pending()))
	assert.Equal(t, 0, l.Buffered())
}

func layerUnit(s string) layer.Unit {
	return layer.Unit{Data: []byte(s)}
}

func TestLinesDetect(t *testing.T) {
	client := newSession(session.Initiator)
	l := NewLines()
	kind, _ := l.Detect(client, layerUnit("250 ok\r\n"))
	assert.Equal(t, KindReply, kind)
	client.SetLastCommand(KindEhlo.String())
	kind, _ = l.Detect(client, layerUnit("250 ok\r\n"))
	assert.Equal(t, KindEhloReply, kind)

	server := newSession(session.Responder)
	kind, _ = l.Detect(server, layerUnit("rcpt TO:<a@b>\r\n"))
	assert.Equal(t, KindRcpt, kind)
	kind, _ = l.Detect(server, layerUnit("AUTH PLAIN\r\n"))
	assert.Equal(t, KindUnknownCommand, kind)

	server.SetLastCommand(KindData.String())
	units := l.Feed(server, []byte("Subject: x\r\n\r\nbody\r\n.\r\nQUIT\r\n"))
	require.Len(t, units, 2)
	kind, _ = l.Detect(server, units[0])
	assert.Equal(t, KindMailContent, kind)
	assert.Equal(t, "QUIT\r\n", string(units[1].Data))
}

func TestPathsFollowTransaction(t *testing.T) {
	sc := newSession(session.Responder)
	sc.SetTalkingSide(session.Initiator)
	reg := NewRegistry(DefaultOptions())
	adjust := func(kind message.Kind, raw string) {
		m, err := decode(t, sc, kind, raw)
		require.NoError(t, err)
		h, err := reg.HandlerFor(sc, kind)
		require.NoError(t, err)
		require.NoError(t, h.Adjust(m))
	}
	adjust(KindEhlo, "EHLO c.example\r\n")
	adjust(KindMail, "MAIL FROM:<a@x> BODY=8BITMIME\r\n")
	adjust(KindRcpt, "RCPT TO:<b@x>\r\n")
	adjust(KindRcpt, "RCPT TO:<c@x>\r\n")

	client, _ := session.CapabilityOf[string](sc, session.CapClientIdentity)
	assert.Equal(t, "c.example", client)
	from, _ := session.CapabilityOf[string](sc, session.CapReversePath)
	assert.Equal(t, "a@x", from)
	to, _ := session.CapabilityOf[[]string](sc, session.CapForwardPaths)
	assert.Equal(t, []string{"b@x", "c@x"}, to)
	assert.Equal(t, KindRcpt.String(), sc.LastCommand())

	adjust(KindRset, "RSET\r\n")
	to, _ = session.CapabilityOf[[]string](sc, session.CapForwardPaths)
	assert.Empty(t, to)
}

func runPeers(t *testing.T, name string) (*session.Context, *session.Context, *workflow.Trace, *workflow.Trace) {
	t.Helper()
	c := config.Default()
	c.Protocol = "smtp"
	c.Timeout = config.Duration{Duration: time.Second}
	a, b := transport.Pipe()
	client := session.New(session.Initiator, c, nil, nil)
	server := session.New(session.Responder, c, nil, nil)
	ct, err := SMTP.Trace(name, session.Initiator, c)
	require.NoError(t, err)
	st, err := SMTP.Trace(name, session.Responder, c)
	require.NoError(t, err)
	reg, err := SMTP.Registry(c)
	require.NoError(t, err)
	cl, err := SMTP.Layer(c)
	require.NoError(t, err)
	sl, err := SMTP.Layer(c)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- st.Execute(context.Background(), server, executor.New(reg, sl, b, workflow.Hooks{}, nil), workflow.Hooks{})
	}()
	require.NoError(t, ct.Execute(context.Background(), client, executor.New(reg, cl, a, workflow.Hooks{}, nil), workflow.Hooks{}))
	require.NoError(t, <-done)
	return client, server, ct, st
}

func TestHelloTrace(t *testing.T) {
	client, server, ct, st := runPeers(t, TraceHello)
	assert.True(t, ct.ExecutedAsPlanned())
	assert.True(t, st.ExecutedAsPlanned())
	assert.True(t, client.GreetingReceived())

	identity, _ := session.CapabilityOf[string](client, session.CapServerIdentity)
	assert.Equal(t, "mx.wiretamper.test", identity)
	exts, _ := session.CapabilityOf[[]string](client, session.CapEhloExtensions)
	assert.Equal(t, []string{"8BITMIME", "SIZE", "AUTH", "PIPELINING"}, exts)
	peer, _ := session.CapabilityOf[string](server, session.CapClientIdentity)
	assert.Equal(t, "client.wiretamper.test", peer)

	greeting, ok := ct.FirstReceived(KindReply)
	require.True(t, ok)
	assert.Equal(t, 220, greeting.(*Reply).Code)
}

func TestMailTrace(t *testing.T) {
	_, server, ct, st := runPeers(t, TraceMail)
	assert.True(t, ct.ExecutedAsPlanned())
	assert.True(t, st.ExecutedAsPlanned())
	body, ok := st.FirstReceived(KindMailContent)
	require.True(t, ok)
	assert.Equal(t, []string{"Subject: wiretamper", "", "hello"}, body.(*MailContent).Lines)
	to, _ := session.CapabilityOf[[]string](server, session.CapForwardPaths)
	assert.Equal(t, []string{"bob@wiretamper.test"}, to)
	assert.Equal(t, KindQuit.String(), server.LastCommand())
}

func TestOptionsDecode(t *testing.T) {
	o, err := DecodeOptions(map[string]interface{}{"client_identity": "me", "rcpt_to": "x@y"})
	require.NoError(t, err)
	assert.Equal(t, "me", o.ClientIdentity)
	assert.Equal(t, "x@y", o.RcptTo)
	assert.Equal(t, DefaultOptions().MailFrom, o.MailFrom)

	ext, err := DecodeOptions(map[string]interface{}{
		"extensions": []interface{}{"SMTPUTF8"},
		"body":       []interface{}{"hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SMTPUTF8"}, ext.Extensions)
	assert.Equal(t, []string{"hi"}, ext.Body)

	_, err = DecodeOptions(map[string]interface{}{"client_identity": ""})
	assert.Error(t, err)
	_, err = DecodeOptions(map[string]interface{}{"helo": "x"})
	assert.Error(t, err)
}

func TestUnknownTrace(t *testing.T) {
	_, err := SMTP.Trace("auth", session.Initiator, nil)
	assert.True(t, errors.Is(err, workflow.ErrUnknownTrace))
}
