// Package workflow sequences protocol messages as scripted actions. A Trace
// is executed strictly in order against one session.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
)

var (
	// ErrAlreadyExecuted is returned when executing an action twice without reset
	ErrAlreadyExecuted = errors.New("already executed")
	// ErrIllegalTransition is returned for any other illegal state change
	ErrIllegalTransition = errors.New("illegal action state transition")
	// ErrUnknownActionType is returned when decoding an unknown action
	ErrUnknownActionType = errors.New("unknown action type")
	// ErrUnknownTrace is returned by families asked for a trace they do not build
	ErrUnknownTrace = errors.New("unknown trace")
)

// WorkflowExecutionError reports a driver bug: double execution or an
// illegal trace state. It aborts the run.
type WorkflowExecutionError struct {
	Action string
	Err    error
}

func (e *WorkflowExecutionError) Error() string {
	return fmt.Sprintf("workflow execution error in %s: %s", e.Action, e.Err)
}

func (e *WorkflowExecutionError) Unwrap() error {
	return e.Err
}

// ActionType names an action in trace documents
type ActionType string

const (
	TypeSend            ActionType = "send"
	TypeReceive         ActionType = "receive"
	TypeWait            ActionType = "wait"
	TypeResetTranscript ActionType = "reset_transcript"
)

// Executor performs the I/O of message actions. It owns the transport.
type Executor interface {
	// Send prepares, serializes, transmits and handles msgs. The returned
	// messages are what was processed, also on error.
	Send(ctx context.Context, sc *session.Context, msgs []message.Message) ([]message.Message, error)
	// Receive reads until the expectation is met or the peer goes quiet. A
	// timeout is not an error.
	Receive(ctx context.Context, sc *session.Context, expected []message.Message) ([]message.Message, error)
}

// Action is one step of a trace
type Action interface {
	Type() ActionType
	State() State
	Execute(ctx context.Context, sc *session.Context, ex Executor) error
	// Reset makes the action executable again, keeping its configuration
	Reset()
	ExecutedAsPlanned() bool
}

// MessageAction is an action with configured and actual messages
type MessageAction interface {
	Action
	Configured() []message.Message
	Actual() []message.Message
}

// Direction of a message relative to the local end
type Direction int

const (
	Sent Direction = iota
	Received
)

func (d Direction) String() string {
	if d == Sent {
		return "sent"
	}
	return "received"
}

// MessageEvent is emitted by executors once a message was handled
type MessageEvent struct {
	Direction Direction
	Message   message.Message
	Protocol  string
}

// Hooks observe a run. Nil functions are skipped.
type Hooks struct {
	OnActionStart func(index int, a Action)
	OnActionDone  func(index int, a Action, err error)
	OnMessage     func(e MessageEvent)
}

func (h Hooks) actionStart(i int, a Action) {
	if h.OnActionStart != nil {
		h.OnActionStart(i, a)
	}
}

func (h Hooks) actionDone(i int, a Action, err error) {
	if h.OnActionDone != nil {
		h.OnActionDone(i, a, err)
	}
}

// Message forwards e to OnMessage
func (h Hooks) Message(e MessageEvent) {
	if h.OnMessage != nil {
		h.OnMessage(e)
	}
}

// Merge returns hooks calling h first and then other
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnActionStart: func(i int, a Action) {
			h.actionStart(i, a)
			other.actionStart(i, a)
		},
		OnActionDone: func(i int, a Action, err error) {
			h.actionDone(i, a, err)
			other.actionDone(i, a, err)
		},
		OnMessage: func(e MessageEvent) {
			h.Message(e)
			other.Message(e)
		},
	}
}
