package executor

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/modvar"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/serializer"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/transport"
	"github.com/wiretamper/wiretamper/workflow"
)

// A tiny framed family: frame = content type, uint16 length, payload. Notes
// (type 1) and acks (type 2) are self delimiting inside a frame. Content type
// 3 frames are fatal.

const capNotes session.Capability = "notes"

type note struct {
	message.Base `yaml:",inline"`
	Text         string `yaml:"text"`
}

func (*note) Kind() message.Kind { return "Note" }

type ack struct {
	message.Base `yaml:",inline"`
	Code         uint8 `yaml:"code"`
}

func (*ack) Kind() message.Kind { return "Ack" }

func registry() *message.Registry {
	reg := message.NewRegistry("frames")
	message.Register[note](reg, message.Codec[*note]{
		Parse: func(_ *session.Context, p *parser.Parser, m *note) error {
			typ, err := p.ReadUint8()
			if err != nil {
				return err
			}
			if typ != 1 {
				return parser.ErrConstraintViolated
			}
			n, err := p.ReadUint8()
			if err != nil {
				return err
			}
			b, err := p.ReadBytes(int(n))
			m.Text = string(b)
			return err
		},
		Prepare: func(ctx *session.Context, m *note) error {
			if m.Text == "" {
				return message.Missing(m.Kind(), "text")
			}
			m.Text = message.OverridableString(ctx, m, "text", m.Text)
			return nil
		},
		Serialize: func(m *note, s *serializer.Serializer) {
			s.AppendUint8(1)
			s.AppendUint8(uint8(len(m.Text)))
			s.AppendString(m.Text)
		},
		Handle: func(ctx *session.Context, m *note) error {
			seen, _ := session.CapabilityOf[[]string](ctx, capNotes)
			ctx.SetCapability(capNotes, append(seen, m.Text))
			ctx.ExtendTranscript(m.CompleteResultingBytes())
			return nil
		},
	})
	message.Register[ack](reg, message.Codec[*ack]{
		Parse: func(_ *session.Context, p *parser.Parser, m *ack) error {
			typ, err := p.ReadUint8()
			if err != nil {
				return err
			}
			if typ != 2 {
				return parser.ErrConstraintViolated
			}
			m.Code, err = p.ReadUint8()
			return err
		},
		Serialize: func(m *ack, s *serializer.Serializer) {
			s.AppendUint8(2)
			s.AppendUint8(m.Code)
		},
	})
	return reg
}

type frames struct {
	buf layer.Buffer
}

func (*frames) ContentType(m message.Message) uint8 {
	if m.Kind() == "Ack" {
		return 2
	}
	return 1
}

func (*frames) Wrap(_ *session.Context, ct uint8, payload []byte) []byte {
	out := []byte{ct, 0, 0}
	binary.BigEndian.PutUint16(out[1:], uint16(len(payload)))
	return append(out, payload...)
}

func (f *frames) Feed(_ *session.Context, data []byte) []layer.Unit {
	f.buf.Write(data)
	units := make([]layer.Unit, 0)
	for f.buf.Len() >= 3 {
		head := f.buf.Peek()
		n := int(binary.BigEndian.Uint16(head[1:3]))
		if f.buf.Len() < 3+n {
			break
		}
		frame := f.buf.Next(3 + n)
		ct, payload := frame[0], frame[3:]
		if ct == 3 {
			units = append(units, layer.Unit{ContentType: ct, Data: payload, Fatal: true})
			continue
		}
		for len(payload) > 0 {
			size := 2
			if payload[0] == 1 && len(payload) > 1 {
				size = 2 + int(payload[1])
			}
			if size > len(payload) {
				size = len(payload)
			}
			units = append(units, layer.Unit{ContentType: ct, Type: payload[0], Data: payload[:size]})
			payload = payload[size:]
		}
	}
	return units
}

func (f *frames) Buffered() int {
	return f.buf.Len()
}

func (f *frames) Pending() []byte {
	return f.buf.Drain()
}

func (*frames) Detect(_ *session.Context, u layer.Unit) (message.Kind, bool) {
	switch u.Type {
	case 1:
		return "Note", true
	case 2:
		return "Ack", true
	}
	return "", false
}

func (f *frames) Reset() {
	f.buf.Reset()
}

func frame(ct uint8, payload ...byte) []byte {
	return (&frames{}).Wrap(nil, ct, payload)
}

func testConfig() *config.Config {
	c := config.Default()
	c.Timeout = config.Duration{Duration: 50 * time.Millisecond}
	return c
}

type fixture struct {
	ex   *Executor
	sc   *session.Context
	peer *transport.MemConn
	seen []workflow.MessageEvent
}

func newFixture(c *config.Config) *fixture {
	local, peer := transport.Pipe()
	f := &fixture{peer: peer, sc: session.New(session.Initiator, c, nil, nil)}
	hooks := workflow.Hooks{OnMessage: func(e workflow.MessageEvent) { f.seen = append(f.seen, e) }}
	f.ex = New(registry(), &frames{}, local, hooks, nil)
	return f
}

func notes(sc *session.Context) []string {
	v, _ := session.CapabilityOf[[]string](sc, capNotes)
	return v
}

func TestSendCoalescesRuns(t *testing.T) {
	f := newFixture(testConfig())
	msgs := []message.Message{&note{Text: "a"}, &note{Text: "b"}, &ack{Code: 7}, &note{Text: "c"}}
	actual, err := f.ex.Send(context.Background(), f.sc, msgs)
	require.NoError(t, err)
	require.Len(t, actual, 4)

	wire, err := f.peer.ReceiveUpTo(context.Background(), 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, frame(1, 1, 1, 'a', 1, 1, 'b'), wire)
	wire, err = f.peer.ReceiveUpTo(context.Background(), 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, frame(2, 2, 7), wire)
	wire, err = f.peer.ReceiveUpTo(context.Background(), 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, frame(1, 1, 1, 'c'), wire)

	assert.Equal(t, []string{"a", "b", "c"}, notes(f.sc))
	assert.Equal(t, message.Bytes{1, 1, 'a'}, actual[0].Common().ResultingBytes)
	assert.Len(t, f.seen, 4)
	assert.Empty(t, msgs[0].Common().ResultingBytes)
}

func TestSendWithoutCoalescing(t *testing.T) {
	c := testConfig()
	c.Coalesce = false
	f := newFixture(c)
	_, err := f.ex.Send(context.Background(), f.sc, []message.Message{&note{Text: "a"}, &note{Text: "b"}})
	require.NoError(t, err)
	for _, want := range [][]byte{frame(1, 1, 1, 'a'), frame(1, 1, 1, 'b')} {
		wire, err := f.peer.ReceiveUpTo(context.Background(), 100, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, wire)
	}
}

func TestSuppressedMessageLeavesSession(t *testing.T) {
	f := newFixture(testConfig())
	hidden := &note{Text: "hidden"}
	hidden.SetGoingToBeSent(false)
	before := f.sc.Snapshot()

	actual, err := f.ex.Send(context.Background(), f.sc, []message.Message{hidden})
	require.NoError(t, err)
	require.Len(t, actual, 1)
	assert.Equal(t, "hidden", actual[0].(*note).Text)
	assert.Equal(t, before, f.sc.Snapshot())
	_, err = f.peer.ReceiveUpTo(context.Background(), 100, 20*time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestSuppressedMessageSplitsNothing(t *testing.T) {
	f := newFixture(testConfig())
	hidden := &ack{}
	hidden.SetGoingToBeSent(false)
	_, err := f.ex.Send(context.Background(), f.sc, []message.Message{&note{Text: "a"}, hidden, &note{Text: "b"}})
	require.NoError(t, err)
	wire, err := f.peer.ReceiveUpTo(context.Background(), 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, frame(1, 1, 1, 'a', 1, 1, 'b'), wire)
}

func TestSendPreparationError(t *testing.T) {
	f := newFixture(testConfig())
	_, err := f.ex.Send(context.Background(), f.sc, []message.Message{&note{}})
	var pe *message.PreparationError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, message.Kind("Note"), pe.Kind)
	assert.Empty(t, f.peer.Sent())
}

func TestSendHonoursOverrides(t *testing.T) {
	f := newFixture(testConfig())
	n := &note{Text: "a"}
	n.Overrides = modvar.Overrides{"text": {Append: "62"}}
	_, err := f.ex.Send(context.Background(), f.sc, []message.Message{n})
	require.NoError(t, err)
	wire, err := f.peer.ReceiveUpTo(context.Background(), 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, frame(1, 1, 2, 'a', 'b'), wire)
}

func TestReceiveUnexpectedIsUnknown(t *testing.T) {
	f := newFixture(testConfig())
	require.NoError(t, f.peer.Send(context.Background(), frame(2, 2, 9)))

	actual, err := f.ex.Receive(context.Background(), f.sc, []message.Message{&note{}})
	require.NoError(t, err)
	require.Len(t, actual, 1)
	u, ok := actual[0].(*message.Unknown)
	require.True(t, ok)
	assert.Equal(t, message.Bytes{2, 9}, u.Raw)
	assert.Equal(t, uint8(2), u.ContentType)
}

func TestReceiveTimeoutYieldsNothing(t *testing.T) {
	f := newFixture(testConfig())
	actual, err := f.ex.Receive(context.Background(), f.sc, []message.Message{&note{}})
	require.NoError(t, err)
	assert.Empty(t, actual)
}

func TestQuickReceive(t *testing.T) {
	c := testConfig()
	c.Timeout = config.Duration{Duration: 5 * time.Second}
	f := newFixture(c)
	require.NoError(t, f.peer.Send(context.Background(), frame(1, 1, 2, 'h', 'i')))

	start := time.Now()
	actual, err := f.ex.Receive(context.Background(), f.sc, []message.Message{&note{}})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, actual, 1)
	assert.Equal(t, "hi", actual[0].(*note).Text)
	assert.Equal(t, []string{"hi"}, notes(f.sc))
	assert.Equal(t, 4, f.sc.Transcript().Len())
}

func TestReceiveOptionalAndDetected(t *testing.T) {
	f := newFixture(testConfig())
	require.NoError(t, f.peer.Send(context.Background(), frame(1, 1, 1, 'x', 2, 5)))

	opt := &ack{}
	opt.SetRequired(false)
	expected := []message.Message{opt, &note{}}
	actual, err := f.ex.Receive(context.Background(), f.sc, expected)
	require.NoError(t, err)
	require.Len(t, actual, 2)
	assert.Equal(t, message.Kind("Note"), actual[0].Kind())
	assert.Equal(t, message.Kind("Ack"), actual[1].Kind())
	assert.Equal(t, uint8(5), actual[1].(*ack).Code)
}

func TestReceiveWithoutAdjustContext(t *testing.T) {
	f := newFixture(testConfig())
	require.NoError(t, f.peer.Send(context.Background(), frame(1, 1, 1, 'x')))
	want := &note{}
	want.SetAdjustContext(false)
	actual, err := f.ex.Receive(context.Background(), f.sc, []message.Message{want})
	require.NoError(t, err)
	require.Len(t, actual, 1)
	assert.Empty(t, notes(f.sc))
}

func TestReceivePartialUnitIsUnknown(t *testing.T) {
	f := newFixture(testConfig())
	require.NoError(t, f.peer.Send(context.Background(), []byte{1, 0, 9, 1}))
	actual, err := f.ex.Receive(context.Background(), f.sc, []message.Message{&note{}})
	require.NoError(t, err)
	require.Len(t, actual, 1)
	assert.Equal(t, message.Bytes{1, 0, 9, 1}, actual[0].(*message.Unknown).Raw)
}

func TestReceiveStopsOnFatal(t *testing.T) {
	f := newFixture(testConfig())
	require.NoError(t, f.peer.Send(context.Background(), frame(3, 40)))
	require.NoError(t, f.peer.Send(context.Background(), frame(1, 1, 1, 'x')))

	actual, err := f.ex.Receive(context.Background(), f.sc, []message.Message{&note{}})
	require.NoError(t, err)
	require.Len(t, actual, 1)
	assert.True(t, message.IsUnknown(actual[0]))

	actual, err = f.ex.Receive(context.Background(), f.sc, []message.Message{&note{}})
	require.NoError(t, err)
	require.Len(t, actual, 1)
	assert.Equal(t, "x", actual[0].(*note).Text)
}

func TestReceivePeerClosed(t *testing.T) {
	f := newFixture(testConfig())
	require.NoError(t, f.peer.Close())
	actual, err := f.ex.Receive(context.Background(), f.sc, nil)
	require.NoError(t, err)
	assert.Empty(t, actual)
}

func TestTracesAgainstEachOther(t *testing.T) {
	c := testConfig()
	c.Timeout = config.Duration{Duration: time.Second}
	a, b := transport.Pipe()
	reg := registry()
	client := New(reg, &frames{}, a, workflow.Hooks{}, nil)
	server := New(reg, &frames{}, b, workflow.Hooks{}, nil)
	csc := session.New(session.Initiator, c, nil, nil)
	ssc := session.New(session.Responder, c, nil, nil)

	ct := workflow.NewTrace("frames", session.Initiator).
		Add(workflow.NewSendAction(&note{Text: "hello"})).
		Add(workflow.NewReceiveAction(&ack{}))
	st := workflow.NewTrace("frames", session.Responder).
		Add(workflow.NewReceiveAction(&note{})).
		Add(workflow.NewSendAction(&ack{Code: 1}))

	done := make(chan error, 1)
	go func() {
		done <- st.Execute(context.Background(), ssc, server, workflow.Hooks{})
	}()
	require.NoError(t, ct.Execute(context.Background(), csc, client, workflow.Hooks{}))
	require.NoError(t, <-done)

	assert.True(t, ct.ExecutedAsPlanned())
	assert.True(t, st.ExecutedAsPlanned())
	assert.Equal(t, []string{"hello"}, notes(ssc))
	assert.Equal(t, csc.Transcript().Digest(), ssc.Transcript().Digest())
}
