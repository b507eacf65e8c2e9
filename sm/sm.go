// Package sm judges a run. A state machine is stepped with every message the
// trace sends or receives and the verdict depends on the state it ends in.
//
// Machines are assembled with the builder:
//
//	m := sm.NewStateMachine()
//	m.Builder().
//		On(sm.IsSent().And(sm.IsKind("EHLO")), "ehloSent").
//		On(sm.IsReceived().And(sm.IsKind("EhloReply")), sm.SuccessStateLabel)
package sm

import (
	"encoding/json"
	"sync"

	"github.com/wiretamper/wiretamper/log"
)

// Built-in state labels
const (
	StartStateLabel   = "startState"
	FailStateLabel    = "failState"
	SuccessStateLabel = "successState"
)

// edge leads to a state when its condition holds
type edge struct {
	to   *State
	cond Condition
}

// State of a StateMachine. Outgoing edges are tried in the order they were
// added.
type State struct {
	Label   string
	Success bool
	edges   []edge
}

// Is returns true if the label matches with the state label
func (s *State) Is(l string) bool {
	return s.Label == l
}

func (s *State) Eq(other *State) bool {
	return other != nil && s.Label == other.Label
}

func (s *State) MarshalJSON() ([]byte, error) {
	next := make([]string, len(s.edges))
	for i, e := range s.edges {
		next[i] = e.to.Label
	}
	return json.Marshal(struct {
		Label       string   `json:"label"`
		Success     bool     `json:"success"`
		Transitions []string `json:"transitions"`
	}{s.Label, s.Success, next})
}

// StateMachineBuilder adds edges starting at its current state
type StateMachineBuilder struct {
	machine *StateMachine
	from    *State
}

// On adds an edge to the state labelled stateLabel, creating the state if
// needed, and continues building from there
func (b StateMachineBuilder) On(cond Condition, stateLabel string) StateMachineBuilder {
	to := b.machine.state(stateLabel)
	b.from.edges = append(b.from.edges, edge{to: to, cond: cond})
	return StateMachineBuilder{machine: b.machine, from: to}
}

// MarkSuccess marks the current state of the builder as a success state
func (b StateMachineBuilder) MarkSuccess() StateMachineBuilder {
	b.from.Success = true
	return b
}

// StateMachine is a deterministic transition system labelled by conditions.
// It remembers the states visited since the last Reset.
type StateMachine struct {
	states map[string]*State
	start  *State

	lock    *sync.Mutex
	current *State
	visited []string
}

func NewStateMachine() *StateMachine {
	m := &StateMachine{
		states: make(map[string]*State),
		lock:   new(sync.Mutex),
	}
	m.start = m.state(StartStateLabel)
	m.state(FailStateLabel)
	m.state(SuccessStateLabel).Success = true
	m.Reset()
	return m
}

// state returns the state labelled label, adding it on first use
func (m *StateMachine) state(label string) *State {
	if s, ok := m.states[label]; ok {
		return s
	}
	s := &State{Label: label}
	m.states[label] = s
	return s
}

// Builder starts building at the start state
func (m *StateMachine) Builder() StateMachineBuilder {
	return StateMachineBuilder{machine: m, from: m.start}
}

func (m *StateMachine) CurState() *State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.current
}

func (m *StateMachine) moveTo(s *State) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.current = s
	m.visited = append(m.visited, s.Label)
}

// Transition forces the machine into the state labelled to. Unknown labels
// are ignored.
func (m *StateMachine) Transition(to string) {
	if s, ok := m.states[to]; ok {
		m.moveTo(s)
	}
}

// Transitions lists the labels of the states visited since the last reset,
// starting with the start state
func (m *StateMachine) Transitions() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := make([]string, len(m.visited))
	copy(out, m.visited)
	return out
}

// Empty is true when no edge was ever added
func (m *StateMachine) Empty() bool {
	for _, s := range m.states {
		if len(s.edges) > 0 {
			return false
		}
	}
	return true
}

// Step follows the first edge of the current state whose condition holds
// for e. Nothing happens when none does.
func (m *StateMachine) Step(e *Event, c *Context) {
	for _, out := range m.CurState().edges {
		if !out.cond(e, c) {
			continue
		}
		c.Logger.With(log.LogParams{
			"state": out.to.Label,
			"kind":  e.Kind().String(),
		}).Debug("State machine transition")
		m.moveTo(out.to)
		c.Vars.Add("curState", out.to.Label)
		return
	}
}

func (m *StateMachine) InSuccessState() bool {
	return m.CurState().Success
}

// InState returns a condition which holds while the machine is in the state
// labelled label
func (m *StateMachine) InState(label string) Condition {
	return func(_ *Event, _ *Context) bool {
		return m.CurState().Is(label)
	}
}

// Reset moves the machine back to the start state and forgets the visited
// states
func (m *StateMachine) Reset() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.current = m.start
	m.visited = []string{m.start.Label}
}
