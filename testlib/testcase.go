// Package testlib runs test cases: a trace against a peer with a state
// machine judging the exchanged messages.
package testlib

import (
	"time"

	"github.com/wiretamper/wiretamper/sm"
	"github.com/wiretamper/wiretamper/workflow"
)

// TestCase represents a unit test case
type TestCase struct {
	// Name name of the testcase
	Name string
	// Timeout maximum duration of the testcase execution, zero means none
	Timeout time.Duration
	// Trace is executed against the peer
	Trace *workflow.Trace
	// StateMachine instance of *StateMachine to assert a property
	StateMachine *sm.StateMachine

	setup    func(*sm.Context) error
	assertFn func(*workflow.Trace, *sm.Context) bool
}

func defaultSetupFunc(_ *sm.Context) error {
	return nil
}

// NewTestCase instantiates a TestCase based on the parameters specified. A
// nil state machine gets an empty one.
func NewTestCase(name string, timeout time.Duration, trace *workflow.Trace, machine *sm.StateMachine) *TestCase {
	if machine == nil {
		machine = sm.NewStateMachine()
	}
	return &TestCase{
		Name:         name,
		Timeout:      timeout,
		Trace:        trace,
		StateMachine: machine,
		setup:        defaultSetupFunc,
	}
}

// SetupFunc can be used to set the setup function
func (t *TestCase) SetupFunc(setupFunc func(*sm.Context) error) {
	t.setup = setupFunc
}

// AssertFn overrides the verdict. It is called after the trace finished
// without error.
func (t *TestCase) AssertFn(fn func(*workflow.Trace, *sm.Context) bool) {
	t.assertFn = fn
}

// Assert decides the verdict of a completed run. Without an assert function
// a state machine with transitions must end in a success state, an empty one
// requires the trace to be executed as planned.
func (t *TestCase) Assert(c *sm.Context) bool {
	if t.assertFn != nil {
		return t.assertFn(t.Trace, c)
	}
	if t.StateMachine.Empty() {
		return t.Trace.ExecutedAsPlanned()
	}
	return t.StateMachine.InSuccessState()
}
