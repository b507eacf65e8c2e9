package workflow

import (
	"context"
	"time"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
)

// SendAction transmits its configured messages in order
type SendAction struct {
	lifecycle
	Name     string
	Messages []message.Message
	actual   []message.Message
}

var _ MessageAction = &SendAction{}

func NewSendAction(msgs ...message.Message) *SendAction {
	return &SendAction{Messages: msgs}
}

func (a *SendAction) Type() ActionType {
	return TypeSend
}

func (a *SendAction) label() string {
	if a.Name != "" {
		return a.Name
	}
	return string(TypeSend)
}

func (a *SendAction) Execute(ctx context.Context, sc *session.Context, ex Executor) error {
	if err := a.begin(a.label()); err != nil {
		return err
	}
	sc.SetTalkingSide(sc.Role())
	actual, err := ex.Send(ctx, sc, a.Messages)
	a.actual = actual
	if err != nil {
		return err
	}
	return a.finish(a.label())
}

func (a *SendAction) Configured() []message.Message {
	return a.Messages
}

func (a *SendAction) Actual() []message.Message {
	return a.actual
}

func (a *SendAction) Reset() {
	a.reset()
	a.actual = nil
}

// ExecutedAsPlanned holds when every configured message was processed in order
func (a *SendAction) ExecutedAsPlanned() bool {
	if a.state != Done || len(a.actual) != len(a.Messages) {
		return false
	}
	for i := range a.Messages {
		if a.actual[i].Kind() != a.Messages[i].Kind() {
			return false
		}
	}
	return true
}

// WaitAction sleeps without touching the session
type WaitAction struct {
	lifecycle
	Duration time.Duration
}

func NewWaitAction(d time.Duration) *WaitAction {
	return &WaitAction{Duration: d}
}

func (a *WaitAction) Type() ActionType {
	return TypeWait
}

func (a *WaitAction) Execute(ctx context.Context, _ *session.Context, _ Executor) error {
	if err := a.begin(string(TypeWait)); err != nil {
		return err
	}
	t := time.NewTimer(a.Duration)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.finish(string(TypeWait))
}

func (a *WaitAction) Reset() {
	a.reset()
}

func (a *WaitAction) ExecutedAsPlanned() bool {
	return a.state == Done
}

// ResetTranscriptAction clears the running transcript, used between the
// handshakes of a renegotiation trace
type ResetTranscriptAction struct {
	lifecycle
}

func NewResetTranscriptAction() *ResetTranscriptAction {
	return &ResetTranscriptAction{}
}

func (a *ResetTranscriptAction) Type() ActionType {
	return TypeResetTranscript
}

func (a *ResetTranscriptAction) Execute(_ context.Context, sc *session.Context, _ Executor) error {
	if err := a.begin(string(TypeResetTranscript)); err != nil {
		return err
	}
	sc.ResetTranscript()
	return a.finish(string(TypeResetTranscript))
}

func (a *ResetTranscriptAction) Reset() {
	a.reset()
}

func (a *ResetTranscriptAction) ExecutedAsPlanned() bool {
	return a.state == Done
}
