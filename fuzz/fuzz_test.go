package fuzz

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/modvar"
	"github.com/wiretamper/wiretamper/protocol"
	"github.com/wiretamper/wiretamper/report"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/smtp"
	"github.com/wiretamper/wiretamper/testlib"
	"github.com/wiretamper/wiretamper/transport"
	"github.com/wiretamper/wiretamper/workflow"
)

func TestMutatorIsDeterministic(t *testing.T) {
	c := config.FuzzConfig{Percentage: 100}
	a, err := NewMutator(c, 7)
	require.NoError(t, err)
	b, err := NewMutator(c, 7)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		f := modvar.Field("Msg.field")
		assert.Equal(t, a.ApplyBytes(f, []byte("payload")), b.ApplyBytes(f, []byte("payload")))
		assert.Equal(t, a.ApplyUint(f, 0x0303), b.ApplyUint(f, 0x0303))
	}
	assert.Equal(t, a.Applied(), b.Applied())
	assert.Len(t, a.Applied(), 40)
}

func TestMutationsAlwaysChangeTheValue(t *testing.T) {
	m, err := NewMutator(config.FuzzConfig{Percentage: 100}, 1)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		for _, natural := range [][]byte{{}, {0}, {0, 0, 0}, []byte("EHLO")} {
			out := m.ApplyBytes("Msg.bytes", natural)
			assert.NotEqual(t, natural, out)
		}
		for _, natural := range []uint64{0, 1, 0x16, 0x0303, 1 << 40} {
			out := m.ApplyUint("Msg.uint", natural)
			if natural != 0 {
				assert.NotEqual(t, natural, out)
			}
		}
	}
	for _, mut := range m.Applied() {
		assert.Contains(t, mutationKinds, mut.Kind)
	}
}

func TestMutatorSelection(t *testing.T) {
	m, err := NewMutator(config.FuzzConfig{Percentage: 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), m.ApplyBytes("A.b", []byte("abc")))
	assert.Empty(t, m.Applied())

	m, err = NewMutator(config.FuzzConfig{Percentage: 100, Whitelist: `^ClientHello\.`, Blacklist: `random$`}, 1)
	require.NoError(t, err)
	m.ApplyBytes("ServerHello.session_id", []byte{1})
	m.ApplyBytes("ClientHello.random", []byte{1})
	m.ApplyUint("ClientHello.version", 0x0303)
	applied := m.Applied()
	require.Len(t, applied, 1)
	assert.Equal(t, modvar.Field("ClientHello.version"), applied[0].Field)

	m, err = NewMutator(config.FuzzConfig{Percentage: 100, MaxMutations: 2}, 1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		m.ApplyUint("A.b", 5)
	}
	assert.Len(t, m.Applied(), 2)

	_, err = NewMutator(config.FuzzConfig{Whitelist: "("}, 1)
	assert.Error(t, err)
	_, err = NewMutator(config.FuzzConfig{Blacklist: "["}, 1)
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	tr := workflow.NewTrace("smtp", session.Initiator)
	rep := &report.Report{Socket: "open"}
	fp := TakeFingerprint(tr, rep)
	assert.True(t, fp.ExecutedAsPlanned)
	assert.True(t, fp.Equal(TakeFingerprint(tr, rep)))

	other := fp
	other.Received = []message.Kind{"Reply"}
	assert.False(t, fp.Equal(other))
	other = fp
	other.Socket = "closed"
	assert.False(t, fp.Equal(other))
	other = fp
	other.IOError = true
	assert.False(t, fp.Equal(other))
	assert.Contains(t, fp.String(), "socket=open")
}

func TestCorpus(t *testing.T) {
	c := NewCorpus(filepath.Join(t.TempDir(), "corpus.cbor"))
	loaded, err := c.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	first := Finding{
		Campaign:  "c",
		Iteration: 3,
		Seed:      4,
		Mutations: []Mutation{{Field: "EHLO.verb", Kind: BitFlip, Before: "45484c4f", After: "44484c4f"}},
		Fingerprint: Fingerprint{
			Received: []message.Kind{"Reply"},
			Socket:   "closed",
		},
		ReportID: "id",
		Trace:    "protocol: smtp\n",
	}
	second := first
	second.Iteration = 9
	require.NoError(t, c.Append(first))
	require.NoError(t, c.Append(second))

	loaded, err = c.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, first, loaded[0])
	assert.Equal(t, 9, loaded[1].Iteration)
}

// strictPeer is an SMTP server that only accepts the exact EHLO line of the
// default options and hangs up on anything else
func strictPeer(b *transport.MemConn) {
	ctx := context.Background()
	defer b.Close()
	if err := b.Send(ctx, []byte("220 mx.test ready\r\n")); err != nil {
		return
	}
	for {
		data, err := b.ReceiveUpTo(ctx, transport.DefaultMaxRead, time.Second)
		if err != nil {
			return
		}
		switch string(data) {
		case "EHLO client.wiretamper.test\r\n":
			b.Send(ctx, []byte("250-mx.test greets client\r\n250 8BITMIME\r\n"))
		case "QUIT\r\n":
			b.Send(ctx, []byte("221 bye\r\n"))
			return
		default:
			return
		}
	}
}

func smtpCampaign(t *testing.T, fc config.FuzzConfig) *Campaign {
	c := config.Default()
	c.Protocol = "smtp"
	c.Timeout = config.Duration{Duration: time.Second}
	c.FuzzConfig = fc
	runner := testlib.NewRunner(c, nil, testlib.WithConnect(
		func(context.Context, protocol.Family, session.Role) (transport.Transport, error) {
			a, b := transport.Pipe()
			go strictPeer(b)
			return a, nil
		}))

	tr, err := smtp.NewTrace(smtp.TraceHello, session.Initiator)
	require.NoError(t, err)
	doc, err := workflow.Encode(tr)
	require.NoError(t, err)
	reg, err := smtp.SMTP.Registry(nil)
	require.NoError(t, err)
	return NewCampaign("ehlo", doc, reg, c, runner, nil)
}

func TestCampaignFindsDivergingRuns(t *testing.T) {
	camp := smtpCampaign(t, config.FuzzConfig{
		Iterations:   4,
		Workers:      2,
		Seed:         11,
		Percentage:   100,
		MaxMutations: 1,
		Whitelist:    `^EHLO\.verb$`,
		CorpusPath:   filepath.Join(t.TempDir(), "findings.cbor"),
	})
	store := report.NewMemoryStore()
	camp.Store = store

	result, err := camp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []message.Kind{smtp.KindReply, smtp.KindEhloReply, smtp.KindReply}, result.Baseline.Received)
	assert.True(t, result.Baseline.ExecutedAsPlanned)
	assert.Equal(t, 4, result.Runs)
	require.Len(t, result.Findings, 4)
	for i, f := range result.Findings {
		assert.Equal(t, i, f.Iteration)
		require.Len(t, f.Mutations, 1)
		assert.Equal(t, modvar.Field("EHLO.verb"), f.Mutations[0].Field)
		assert.False(t, f.Fingerprint.ExecutedAsPlanned)
	}

	stored, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
	assert.Len(t, stored[0].Mutations, 1)

	corpus, err := camp.Corpus.Load()
	require.NoError(t, err)
	assert.Len(t, corpus, 4)
}

func TestCampaignWithoutMutationsFindsNothing(t *testing.T) {
	camp := smtpCampaign(t, config.FuzzConfig{
		Iterations: 3,
		Workers:    3,
		Percentage: 100,
		Whitelist:  `^NoSuchMessage\.`,
	})
	result, err := camp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Runs)
	assert.Empty(t, result.Findings)
}

func TestCampaignErrors(t *testing.T) {
	camp := smtpCampaign(t, config.FuzzConfig{})
	_, err := camp.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoIterations)

	camp = smtpCampaign(t, config.FuzzConfig{Iterations: 1})
	camp.Runner = testlib.NewRunner(nil, nil, testlib.WithConnect(
		func(context.Context, protocol.Family, session.Role) (transport.Transport, error) {
			return nil, assert.AnError
		}))
	_, err = camp.Run(context.Background())
	assert.ErrorIs(t, err, ErrBaselineFailed)
}
