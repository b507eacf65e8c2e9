package sm

// Action is a generic function that can be used to define side effects in the context
type Action func(*Event, *Context)

// ConditionWithAction creates a condition with the side effect given by Action
func ConditionWithAction(cond Condition, action Action) Condition {
	return func(e *Event, c *Context) bool {
		if cond(e, c) {
			action(e, c)
			return true
		}
		return false
	}
}

// Incr is an action that increments the counter
func (c *CountWrapper) Incr() Action {
	return func(_ *Event, ctx *Context) {
		ctx.Counter(c.label).Next()
	}
}

// CountWhile counts every event satisfying cond and never fires itself.
// Place it before the transitions that read the counter.
func CountWhile(cond Condition, counter *CountWrapper) Condition {
	return func(e *Event, c *Context) bool {
		if cond(e, c) {
			counter.Incr()(e, c)
		}
		return false
	}
}
