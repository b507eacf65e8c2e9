package testlib

import (
	"context"
	"errors"
	"fmt"

	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/executor"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/modvar"
	"github.com/wiretamper/wiretamper/protocol"
	"github.com/wiretamper/wiretamper/report"
	"github.com/wiretamper/wiretamper/session"
	"github.com/wiretamper/wiretamper/sm"
	"github.com/wiretamper/wiretamper/transport"
	"github.com/wiretamper/wiretamper/workflow"
)

// ErrNoTrace is returned for test cases without a trace
var ErrNoTrace = errors.New("test case has no trace")

// ConnectFunc opens the transport of one run
type ConnectFunc func(ctx context.Context, f protocol.Family, role session.Role) (transport.Transport, error)

// Runner executes test cases against the configured target
type Runner struct {
	config  *config.Config
	logger  *log.Logger
	hooks   workflow.Hooks
	connect ConnectFunc
}

type RunnerOption func(*Runner)

// WithHooks adds observers to every run
func WithHooks(h workflow.Hooks) RunnerOption {
	return func(r *Runner) {
		r.hooks = r.hooks.Merge(h)
	}
}

// WithConnect replaces dialing and accepting
func WithConnect(c ConnectFunc) RunnerOption {
	return func(r *Runner) {
		r.connect = c
	}
}

func NewRunner(c *config.Config, logger *log.Logger, opts ...RunnerOption) *Runner {
	if c == nil {
		c = config.Default()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	r := &Runner{
		config: c,
		logger: logger,
	}
	r.connect = r.dial
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// dial connects as initiator and waits for the peer as responder
func (r *Runner) dial(ctx context.Context, f protocol.Family, role session.Role) (transport.Transport, error) {
	network := protocol.Network(f, r.config)
	if role == session.Responder {
		return transport.Accept(ctx, network, r.config.Target, r.logger)
	}
	return transport.Dial(ctx, network, r.config.Target, r.config.Timeout.Duration, r.logger)
}

func actionName(a workflow.Action) string {
	switch v := a.(type) {
	case *workflow.SendAction:
		if v.Name != "" {
			return v.Name
		}
	case *workflow.ReceiveAction:
		if v.Name != "" {
			return v.Name
		}
	}
	return string(a.Type())
}

// Run executes the test case once without mutations
func (r *Runner) Run(ctx context.Context, tc *TestCase) *report.Report {
	return r.RunWithHook(ctx, tc, nil)
}

// RunWithHook executes the test case with hook applied to every prepared
// field. The transport is always closed and a report is always returned.
func (r *Runner) RunWithHook(ctx context.Context, tc *TestCase, hook modvar.Hook) *report.Report {
	if tc.Trace == nil {
		rep := report.New(tc.Name, r.config.Protocol)
		rep.Finish(nil, ErrNoTrace)
		rep.Verdict = report.Error
		return rep
	}
	rep := report.New(tc.Name, tc.Trace.Protocol)
	rep.Target = r.config.Target
	rep.Role = tc.Trace.Role.String()
	logger := r.logger.With(log.LogParams{
		"testcase": tc.Name,
		"protocol": tc.Trace.Protocol,
		"report":   rep.ID,
	})

	sc := session.New(tc.Trace.Role, r.config, logger, hook)
	smCtx := sm.NewContext(sc, logger)
	tc.StateMachine.Reset()
	tc.Trace.Reset()

	socket, err := r.execute(ctx, tc, sc, smCtx)
	rep.Finish(tc.Trace, err)
	rep.Socket = string(socket)
	rep.Transitions = tc.StateMachine.Transitions()
	switch {
	case err != nil:
		rep.Verdict = report.Error
	case tc.Assert(smCtx):
		rep.Verdict = report.Pass
	default:
		rep.Verdict = report.Fail
	}
	logger.With(log.LogParams{
		"verdict":  string(rep.Verdict),
		"duration": rep.Duration.String(),
	}).Info("Test case finished")
	return rep
}

func (r *Runner) execute(ctx context.Context, tc *TestCase, sc *session.Context, smCtx *sm.Context) (executor.SocketState, error) {
	f, err := protocol.Get(tc.Trace.Protocol)
	if err != nil {
		return "", err
	}
	reg, err := f.Registry(r.config)
	if err != nil {
		return "", err
	}
	l, err := f.Layer(r.config)
	if err != nil {
		return "", err
	}
	if err := tc.setup(smCtx); err != nil {
		return "", fmt.Errorf("setup: %w", err)
	}

	if tc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tc.Timeout)
		defer cancel()
	}

	t, err := r.connect(ctx, f, tc.Trace.Role)
	if err != nil {
		return executor.SocketClosed, err
	}
	defer t.Close()

	action := ""
	hooks := workflow.Hooks{
		OnActionStart: func(_ int, a workflow.Action) {
			action = actionName(a)
		},
		OnMessage: func(e workflow.MessageEvent) {
			typ := sm.Received
			if e.Direction == workflow.Sent {
				typ = sm.Sent
			}
			tc.StateMachine.Step(&sm.Event{Type: typ, Message: e.Message, Action: action}, smCtx)
		},
	}.Merge(r.hooks)

	ex := executor.New(reg, l, t, hooks, sc.Logger())
	err = tc.Trace.Execute(ctx, sc, ex, hooks)
	return ex.SocketState(), err
}
