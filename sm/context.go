package sm

import (
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/types"
	"github.com/wiretamper/wiretamper/util"
)

// EventType tells whether a message left or arrived
type EventType string

const (
	Sent     EventType = "sent"
	Received EventType = "received"
)

// Event is one message passing through a trace
type Event struct {
	Type    EventType
	Message message.Message
	// Action is the name of the action the message belongs to
	Action string
}

// Kind of the carried message, empty when there is none
func (e *Event) Kind() message.Kind {
	if e.Message == nil {
		return ""
	}
	return e.Message.Kind()
}

// Context used to step the state machine.
// The Context is passed to the [Condition].
type Context struct {
	// Session of the running trace, conditions may read negotiated state
	Session  *session.Context
	Vars     *types.Map[string, interface{}]
	counters *types.Map[string, *util.Counter]
	Logger   *log.Logger
}

// NewContext creates a context for the session of one run
func NewContext(sc *session.Context, logger *log.Logger) *Context {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Context{
		Session:  sc,
		Vars:     types.NewMap[string, interface{}](),
		counters: types.NewMap[string, *util.Counter](),
		Logger:   logger,
	}
}

// Counter returns the counter with label, creating it on first use
func (c *Context) Counter(label string) *util.Counter {
	counter, _ := c.counters.GetOrAdd(label, util.NewCounter)
	return counter
}
