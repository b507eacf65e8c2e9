package workflow

import (
	"context"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
)

// ReceiveAction collects whatever the peer sends and compares it with the
// expected messages afterwards. Unexpected traffic never fails the action.
type ReceiveAction struct {
	lifecycle
	Name     string
	Expected []message.Message
	actual   []message.Message
}

var _ MessageAction = &ReceiveAction{}

func NewReceiveAction(expected ...message.Message) *ReceiveAction {
	return &ReceiveAction{Expected: expected}
}

func (a *ReceiveAction) Type() ActionType {
	return TypeReceive
}

func (a *ReceiveAction) label() string {
	if a.Name != "" {
		return a.Name
	}
	return string(TypeReceive)
}

func (a *ReceiveAction) Execute(ctx context.Context, sc *session.Context, ex Executor) error {
	if err := a.begin(a.label()); err != nil {
		return err
	}
	sc.SetTalkingSide(sc.Role().Peer())
	actual, err := ex.Receive(ctx, sc, a.Expected)
	a.actual = actual
	if err != nil {
		return err
	}
	return a.finish(a.label())
}

func (a *ReceiveAction) Configured() []message.Message {
	return a.Expected
}

func (a *ReceiveAction) Actual() []message.Message {
	return a.actual
}

func (a *ReceiveAction) Reset() {
	a.reset()
	a.actual = nil
}

// ExecutedAsPlanned matches actual against expected in order. Optional
// expectations may be absent, anything else received spoils the plan.
func (a *ReceiveAction) ExecutedAsPlanned() bool {
	if a.state != Done {
		return false
	}
	return Matches(a.Expected, a.actual)
}

// Matches reports whether actual satisfies expected in order, skipping
// expected messages that are not required
func Matches(expected, actual []message.Message) bool {
	j := 0
	for _, e := range expected {
		if j < len(actual) && actual[j].Kind() == e.Kind() {
			j++
			continue
		}
		if e.Common().IsRequired() {
			return false
		}
	}
	return j == len(actual)
}

// Satisfied reports whether every required expected message is present in
// actual, in order. Extra messages are tolerated.
func Satisfied(expected, actual []message.Message) bool {
	j := 0
	for _, e := range expected {
		if !e.Common().IsRequired() {
			continue
		}
		found := false
		for j < len(actual) {
			k := actual[j].Kind()
			j++
			if k == e.Kind() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
