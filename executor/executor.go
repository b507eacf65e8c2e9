// Package executor moves messages between a session and a transport. It
// implements the send and receive halves of workflow actions.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wiretamper/wiretamper/layer"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/parser"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/transport"
	"github.com/wiretamper/wiretamper/workflow"
)

// SocketState is what the last receive observed on the transport
type SocketState string

const (
	SocketOpen    SocketState = "open"
	SocketClosed  SocketState = "closed"
	SocketTimeout SocketState = "timeout"
)

// Executor is bound to one connection. It is not safe for concurrent use,
// traces are sequential.
type Executor struct {
	registry  *message.Registry
	layer     layer.Layer
	transport transport.Transport
	hooks     workflow.Hooks
	logger    *log.Logger
	socket    SocketState
}

var _ workflow.Executor = &Executor{}

func New(reg *message.Registry, l layer.Layer, t transport.Transport, hooks workflow.Hooks, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Executor{
		registry:  reg,
		layer:     l,
		transport: t,
		hooks:     hooks,
		socket:    SocketOpen,
		logger: logger.With(log.LogParams{
			"protocol":  reg.Protocol(),
			"transport": t.Name(),
		}),
	}
}

func (e *Executor) Registry() *message.Registry {
	return e.registry
}

func (e *Executor) Transport() transport.Transport {
	return e.transport
}

// SocketState of the transport as seen by the last receive
func (e *Executor) SocketState() SocketState {
	return e.socket
}

func (e *Executor) emit(d workflow.Direction, m message.Message) {
	e.hooks.Message(workflow.MessageEvent{
		Direction: d,
		Message:   m,
		Protocol:  e.registry.Protocol(),
	})
}

// handle runs the handler unless the message opted out. Handler errors are
// logged, they never stop a run.
func (e *Executor) handle(sc *session.Context, m message.Message) {
	if !m.Common().AdjustContextOnProcess() {
		return
	}
	h, err := e.registry.HandlerFor(sc, m.Kind())
	if err != nil {
		e.logger.With(log.LogParams{"kind": m.Kind().String()}).Warn(err.Error())
		return
	}
	if err := h.Adjust(m); err != nil {
		e.logger.With(log.LogParams{
			"kind":  m.Kind().String(),
			"error": err.Error(),
		}).Warn("Handler failed, session left as is")
	}
}

// Send processes msgs in order: prepare, serialize and transmit when the
// message is going to be sent, then handle. Consecutive messages of the same
// content type share a flush unit when coalescing is enabled. The last
// message of a run is always flushed before a message of another type.
func (e *Executor) Send(ctx context.Context, sc *session.Context, msgs []message.Message) ([]message.Message, error) {
	coalesce := sc.Config().Coalesce
	actual := make([]message.Message, 0, len(msgs))
	var payload []byte

	for i, configured := range msgs {
		m, err := e.registry.Clone(configured)
		if err != nil {
			return actual, err
		}
		prep, err := e.registry.PreparatorFor(sc, m.Kind())
		if err != nil {
			return actual, err
		}
		if err := prep.Prepare(m); err != nil {
			return actual, err
		}
		actual = append(actual, m)
		if !m.Common().IsGoingToBeSent() {
			e.logger.With(log.LogParams{"kind": m.Kind().String()}).Debug("Prepared without sending")
			continue
		}

		ser, err := e.registry.SerializerFor(sc, m.Kind())
		if err != nil {
			return actual, err
		}
		raw, err := ser.Serialize(m)
		if err != nil {
			return actual, err
		}
		m.Common().SetCompleteResultingBytes(raw)
		payload = append(payload, raw...)

		ct := e.layer.ContentType(m)
		if !coalesce || e.endsRun(msgs[i+1:], ct) {
			if err := e.flush(ctx, sc, ct, payload); err != nil {
				return actual, err
			}
			payload = nil
		}
		e.handle(sc, m)
		e.emit(workflow.Sent, m)
	}
	return actual, nil
}

// endsRun reports whether no further message to be sent shares contentType
// without interruption
func (e *Executor) endsRun(rest []message.Message, contentType uint8) bool {
	for _, next := range rest {
		if !next.Common().IsGoingToBeSent() {
			continue
		}
		return e.layer.ContentType(next) != contentType
	}
	return true
}

func (e *Executor) flush(ctx context.Context, sc *session.Context, contentType uint8, payload []byte) error {
	wire := e.layer.Wrap(sc, contentType, payload)
	if err := e.transport.Send(ctx, wire); err != nil {
		return fmt.Errorf("sending %d bytes: %w", len(wire), err)
	}
	e.logger.With(log.LogParams{
		"content_type": contentType,
		"bytes":        len(wire),
	}).Debug("Flushed unit")
	return nil
}

// Receive reads until the expectation is met or the peer goes quiet. Units
// are parsed under the configured expectation first and fall back to
// Unknown. A timeout or a closed peer ends the receive without error.
func (e *Executor) Receive(ctx context.Context, sc *session.Context, expected []message.Message) ([]message.Message, error) {
	cfg := sc.Config()
	actual := make([]message.Message, 0)
	next := 0

	reads := cfg.MaxReceiveReads
	if reads <= 0 {
		reads = 1
	}
	for ; reads > 0; reads-- {
		if cfg.QuickReceive && len(expected) > 0 && e.layer.Buffered() == 0 && workflow.Satisfied(expected, actual) {
			break
		}
		data, err := e.transport.ReceiveUpTo(ctx, transport.DefaultMaxRead, cfg.Timeout.Duration)
		if errors.Is(err, transport.ErrTimeout) {
			e.logger.Debug("Receive timed out")
			e.socket = SocketTimeout
			break
		}
		if errors.Is(err, io.EOF) {
			e.logger.Info("Peer closed the connection")
			e.socket = SocketClosed
			break
		}
		if err != nil {
			e.socket = SocketClosed
			return actual, err
		}
		e.socket = SocketOpen

		fatal := false
		for _, u := range e.layer.Feed(sc, data) {
			m := e.parse(sc, u, expected, &next)
			actual = append(actual, m)
			e.handle(sc, m)
			e.emit(workflow.Received, m)
			if u.Fatal {
				fatal = true
			}
		}
		if fatal && cfg.StopOnFatal {
			e.logger.Info("Received fatal unit, stop reading")
			break
		}
	}
	if rest := e.layer.Pending(); len(rest) > 0 {
		m := message.NewUnknown(0, rest)
		actual = append(actual, m)
		e.emit(workflow.Received, m)
	}
	return actual, nil
}

// parse tries the expectations from *next up to and including the first
// required one. Units beyond the expectation are detected by the layer.
func (e *Executor) parse(sc *session.Context, u layer.Unit, expected []message.Message, next *int) message.Message {
	for j := *next; j < len(expected); j++ {
		want := expected[j]
		if m, ok := e.tryParse(sc, want.Kind(), u); ok {
			m.Common().AdjustContext = want.Common().AdjustContext
			*next = j + 1
			return m
		}
		if want.Common().IsRequired() {
			return e.unknown(u, want.Kind())
		}
	}
	if *next >= len(expected) {
		if kind, ok := e.layer.Detect(sc, u); ok {
			if m, ok := e.tryParse(sc, kind, u); ok {
				return m
			}
		}
	}
	return e.unknown(u, "")
}

func (e *Executor) tryParse(sc *session.Context, kind message.Kind, u layer.Unit) (message.Message, bool) {
	prs, err := e.registry.ParserFor(sc, kind)
	if err != nil {
		return nil, false
	}
	p := parser.New(u.Data, 0)
	m, err := prs.Parse(p)
	if err != nil {
		e.logger.With(log.LogParams{
			"kind":  kind.String(),
			"error": err.Error(),
		}).Debug("Unit does not parse as expected")
		return nil, false
	}
	if p.Remaining() > 0 {
		e.logger.With(log.LogParams{
			"kind":     kind.String(),
			"trailing": p.Remaining(),
		}).Debug("Unit has trailing bytes")
		return nil, false
	}
	return m, true
}

func (e *Executor) unknown(u layer.Unit, wanted message.Kind) message.Message {
	if wanted != "" {
		e.logger.With(log.LogParams{
			"expected": wanted.String(),
			"bytes":    len(u.Data),
		}).Info("Unexpected message, recorded as unknown")
	}
	return message.NewUnknown(u.ContentType, u.Data)
}
