// Package report holds the outcome of test case runs, where they are stored
// and the metrics collected while they execute.
package report

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wiretamper/wiretamper/workflow"
)

var (
	// ErrReportNotFound is returned by stores for an unknown id
	ErrReportNotFound = errors.New("report not found")
	// ErrUnknownStore is returned by NewStore for an unsupported type
	ErrUnknownStore = errors.New("unknown store type")
)

// Verdict of a run
type Verdict string

const (
	Pass Verdict = "pass"
	Fail Verdict = "fail"
	// Error means the run could not complete, the verdict is unknown
	Error Verdict = "error"
)

// Report is the persisted outcome of one run
type Report struct {
	ID                string        `json:"id"`
	TestCase          string        `json:"testcase"`
	Protocol          string        `json:"protocol"`
	Target            string        `json:"target"`
	Role              string        `json:"role"`
	Verdict           Verdict       `json:"verdict"`
	ExecutedAsPlanned bool          `json:"executed_as_planned"`
	Error             string        `json:"error,omitempty"`
	Transitions       []string      `json:"transitions,omitempty"`
	// Socket is open, closed or timeout after the last receive
	Socket string `json:"socket,omitempty"`
	Start             time.Time     `json:"start"`
	Duration          time.Duration `json:"duration"`
	// Trace is the executed trace document in YAML
	Trace string `json:"trace"`
	// Iteration and Mutations are set for fuzzing runs
	Iteration int      `json:"iteration,omitempty"`
	Mutations []string `json:"mutations,omitempty"`
}

// New creates a report with a fresh id and the start time set to now
func New(testCase, protocol string) *Report {
	return &Report{
		ID:       uuid.NewString(),
		TestCase: testCase,
		Protocol: protocol,
		Start:    time.Now(),
	}
}

// Finish records the duration, the error and the executed trace
func (r *Report) Finish(t *workflow.Trace, err error) {
	r.Duration = time.Since(r.Start)
	if err != nil {
		r.Error = err.Error()
	}
	if t == nil {
		return
	}
	r.ExecutedAsPlanned = t.ExecutedAsPlanned()
	raw, encErr := workflow.Encode(t)
	if encErr != nil {
		if r.Error == "" {
			r.Error = encErr.Error()
		}
		return
	}
	r.Trace = string(raw)
}

// Passed is true for the pass verdict
func (r *Report) Passed() bool {
	return r.Verdict == Pass
}
