package workflow

import (
	"context"
	"fmt"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
)

// Trace is an ordered script of actions for one protocol family and role
type Trace struct {
	Protocol string
	Role     session.Role
	Name     string
	actions  []Action
}

func NewTrace(protocol string, role session.Role) *Trace {
	return &Trace{
		Protocol: protocol,
		Role:     role,
		actions:  make([]Action, 0),
	}
}

// Add appends actions and returns the trace for chaining
func (t *Trace) Add(actions ...Action) *Trace {
	t.actions = append(t.actions, actions...)
	return t
}

func (t *Trace) Actions() []Action {
	return t.actions
}

// MessageActions returns the send and receive actions in order
func (t *Trace) MessageActions() []MessageAction {
	out := make([]MessageAction, 0, len(t.actions))
	for _, a := range t.actions {
		if ma, ok := a.(MessageAction); ok {
			out = append(out, ma)
		}
	}
	return out
}

// Reset makes every action pending again
func (t *Trace) Reset() {
	for _, a := range t.actions {
		a.Reset()
	}
}

// Execute runs the actions strictly in order. Cancellation is checked
// between actions. The first error aborts the run.
func (t *Trace) Execute(ctx context.Context, sc *session.Context, ex Executor, hooks Hooks) error {
	logger := sc.Logger()
	for i, a := range t.actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		hooks.actionStart(i, a)
		logger.Debug(fmt.Sprintf("Executing action %d: %s", i, a.Type()))
		err := a.Execute(ctx, sc, ex)
		hooks.actionDone(i, a, err)
		if err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a.Type(), err)
		}
	}
	return nil
}

// ExecutedAsPlanned holds when every action did
func (t *Trace) ExecutedAsPlanned() bool {
	for _, a := range t.actions {
		if !a.ExecutedAsPlanned() {
			return false
		}
	}
	return true
}

// Clone copies the configuration of the trace. Configured messages are shared,
// executors never modify them.
func (t *Trace) Clone() *Trace {
	out := NewTrace(t.Protocol, t.Role)
	out.Name = t.Name
	for _, a := range t.actions {
		switch v := a.(type) {
		case *SendAction:
			out.Add(&SendAction{Name: v.Name, Messages: v.Messages})
		case *ReceiveAction:
			out.Add(&ReceiveAction{Name: v.Name, Expected: v.Expected})
		case *WaitAction:
			out.Add(NewWaitAction(v.Duration))
		case *ResetTranscriptAction:
			out.Add(NewResetTranscriptAction())
		}
	}
	return out
}

func (t *Trace) collect(typ ActionType) []message.Message {
	out := make([]message.Message, 0)
	for _, a := range t.actions {
		if a.Type() != typ {
			continue
		}
		out = append(out, a.(MessageAction).Actual()...)
	}
	return out
}

// Sent returns every message actually processed by send actions
func (t *Trace) Sent() []message.Message {
	return t.collect(TypeSend)
}

// Received returns every message received, in order
func (t *Trace) Received() []message.Message {
	return t.collect(TypeReceive)
}

// FirstReceived returns the first received message of kind
func (t *Trace) FirstReceived(kind message.Kind) (message.Message, bool) {
	for _, m := range t.Received() {
		if m.Kind() == kind {
			return m, true
		}
	}
	return nil, false
}

func (t *Trace) DidReceive(kind message.Kind) bool {
	_, ok := t.FirstReceived(kind)
	return ok
}

func (t *Trace) DidSend(kind message.Kind) bool {
	for _, m := range t.Sent() {
		if m.Kind() == kind {
			return true
		}
	}
	return false
}

// ReceivedKinds lists the kinds of every received message in order
func (t *Trace) ReceivedKinds() []message.Kind {
	msgs := t.Received()
	out := make([]message.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind()
	}
	return out
}

// UnknownReceived returns how many received messages fell back to Unknown
func (t *Trace) UnknownReceived() int {
	count := 0
	for _, m := range t.Received() {
		if message.IsUnknown(m) {
			count++
		}
	}
	return count
}

// LastReceivingAction returns the last receive action that received anything
func (t *Trace) LastReceivingAction() (*ReceiveAction, bool) {
	for i := len(t.actions) - 1; i >= 0; i-- {
		r, ok := t.actions[i].(*ReceiveAction)
		if ok && len(r.actual) > 0 {
			return r, true
		}
	}
	return nil, false
}
