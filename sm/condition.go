package sm

import (
	"fmt"
	"reflect"

	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/session"
)

// Condition a generic function that used to transition the [StateMachine] from one state to the next.
type Condition func(e *Event, c *Context) bool

// And to create boolean conditional expressions
func (c Condition) And(other Condition) Condition {
	return func(e *Event, ctx *Context) bool {
		return c(e, ctx) && other(e, ctx)
	}
}

// Or to create boolean conditional expressions
func (c Condition) Or(other Condition) Condition {
	return func(e *Event, ctx *Context) bool {
		return c(e, ctx) || other(e, ctx)
	}
}

// Not to create boolean conditional expressions
func (c Condition) Not() Condition {
	return func(e *Event, ctx *Context) bool {
		return !c(e, ctx)
	}
}

// IsSent condition returns true if the event is a message send event
func IsSent() Condition {
	return func(e *Event, _ *Context) bool {
		return e.Type == Sent
	}
}

// IsReceived condition returns true if the event is a message receive event
func IsReceived() Condition {
	return func(e *Event, _ *Context) bool {
		return e.Type == Received
	}
}

// IsKind condition returns true if the message is of kind
func IsKind(kind message.Kind) Condition {
	return func(e *Event, _ *Context) bool {
		return e.Kind() == kind
	}
}

// IsUnknown is true for bytes no variant could parse
func IsUnknown() Condition {
	return func(e *Event, _ *Context) bool {
		return message.IsUnknown(e.Message)
	}
}

// IsAction is true for messages of the named action
func IsAction(name string) Condition {
	return func(e *Event, _ *Context) bool {
		return e.Action == name
	}
}

// HasCapability is true once the session recorded cap with a value equal to v
func HasCapability(cap session.Capability, v interface{}) Condition {
	return func(_ *Event, c *Context) bool {
		if c.Session == nil {
			return false
		}
		got, ok := c.Session.Capability(cap)
		return ok && reflect.DeepEqual(got, v)
	}
}

// CountWrapper encapsulates the function to fetch counter from the context dynamically.
// CountWrapper is used to define actions and condition based on the counter.
type CountWrapper struct {
	label string
}

// Count returns a CountWrapper for the counter with label
func Count(label string) *CountWrapper {
	return &CountWrapper{label: label}
}

func (c *CountWrapper) value(ctx *Context) int {
	return ctx.Counter(c.label).Value()
}

// Lt condition that returns true if the counter value is less than the specified value.
func (c *CountWrapper) Lt(val int) Condition {
	return func(_ *Event, ctx *Context) bool {
		return c.value(ctx) < val
	}
}

// Gt condition that returns true if the counter value is greater than the specified value.
func (c *CountWrapper) Gt(val int) Condition {
	return func(_ *Event, ctx *Context) bool {
		return c.value(ctx) > val
	}
}

// Eq condition that returns true if the counter value is equal to the specified value.
func (c *CountWrapper) Eq(val int) Condition {
	return func(_ *Event, ctx *Context) bool {
		return c.value(ctx) == val
	}
}

// Leq condition that returns true if the counter value is less than or equal to the specified value.
func (c *CountWrapper) Leq(val int) Condition {
	return func(_ *Event, ctx *Context) bool {
		return c.value(ctx) <= val
	}
}

// Geq condition that returns true if the counter value is greater than or equal to the specified value.
func (c *CountWrapper) Geq(val int) Condition {
	return func(_ *Event, ctx *Context) bool {
		return c.value(ctx) >= val
	}
}

// OnceCondition is a meta condition that allows the inner condition to be true only once
func OnceCondition(name string, c Condition) Condition {
	return func(e *Event, ctx *Context) bool {
		key := fmt.Sprintf("%s_cond_once", name)
		if !ctx.Vars.Exists(key) {
			if c(e, ctx) {
				ctx.Vars.Add(key, true)
				return true
			}
		}
		return false
	}
}
