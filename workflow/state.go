package workflow

import (
	"fmt"
)

// State of an action
type State int

const (
	// Pending actions have not been executed since creation or the last reset
	Pending State = iota
	// Executing actions started. A failed action stays Executing until reset.
	Executing
	// Done is terminal until reset
	Done
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Executing:
		return "executing"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending", "":
		*s = Pending
	case "executing":
		*s = Executing
	case "done":
		*s = Done
	default:
		return fmt.Errorf("unknown action state %q", string(b))
	}
	return nil
}

// canTransition lists the legal moves. Reset to Pending is always legal.
func canTransition(from, to State) bool {
	switch {
	case to == Pending:
		return true
	case from == Pending && to == Executing:
		return true
	case from == Executing && to == Done:
		return true
	}
	return false
}

// lifecycle is embedded by every action
type lifecycle struct {
	state State
}

func (l *lifecycle) State() State {
	return l.state
}

func (l *lifecycle) transition(name string, to State) error {
	if !canTransition(l.state, to) {
		if l.state != Pending && to == Executing {
			return &WorkflowExecutionError{Action: name, Err: ErrAlreadyExecuted}
		}
		return &WorkflowExecutionError{Action: name, Err: fmt.Errorf("%w: %s to %s", ErrIllegalTransition, l.state, to)}
	}
	l.state = to
	return nil
}

func (l *lifecycle) begin(name string) error {
	return l.transition(name, Executing)
}

func (l *lifecycle) finish(name string) error {
	return l.transition(name, Done)
}

func (l *lifecycle) reset() {
	l.state = Pending
}
