package fuzz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/message"
	"github.com/wiretamper/wiretamper/modvar"
	"github.com/wiretamper/wiretamper/report"
	"github.com/wiretamper/wiretamper/testlib"
	"github.com/wiretamper/wiretamper/workflow"
)

var (
	// ErrBaselineFailed is returned when the unmutated run could not complete
	ErrBaselineFailed = errors.New("baseline run failed")
	// ErrNoIterations is returned for campaigns without iterations
	ErrNoIterations = errors.New("campaign needs at least one iteration")
)

// Campaign runs one trace many times with random field mutations
type Campaign struct {
	Name string
	// Document is the trace in YAML, every worker decodes its own copy
	Document   []byte
	Registry   *message.Registry
	Iterations int
	Workers    int
	Seed       int64
	Timeout    time.Duration
	Fuzz       config.FuzzConfig

	Runner *testlib.Runner
	// Store and Corpus receive findings, both are optional
	Store  report.Store
	Corpus *Corpus
	Logger *log.Logger
}

// NewCampaign fills a campaign from the fuzzing section of the config
func NewCampaign(name string, doc []byte, reg *message.Registry, c *config.Config, runner *testlib.Runner, logger *log.Logger) *Campaign {
	if logger == nil {
		logger = log.NewNop()
	}
	camp := &Campaign{
		Name:       name,
		Document:   doc,
		Registry:   reg,
		Iterations: c.FuzzConfig.Iterations,
		Workers:    c.FuzzConfig.Workers,
		Seed:       c.FuzzConfig.Seed,
		Timeout:    10 * c.Timeout.Duration,
		Fuzz:       c.FuzzConfig,
		Runner:     runner,
		Logger:     logger,
	}
	if c.FuzzConfig.CorpusPath != "" {
		camp.Corpus = NewCorpus(c.FuzzConfig.CorpusPath)
	}
	return camp
}

// Result of a campaign
type Result struct {
	Baseline Fingerprint
	Runs     int
	Findings []Finding
}

func (c *Campaign) iterationSeed(i int) uint64 {
	return uint64(c.Seed) + uint64(i) + 1
}

func (c *Campaign) testCase(name string) (*testlib.TestCase, error) {
	t, err := workflow.Decode(c.Document, c.Registry)
	if err != nil {
		return nil, err
	}
	return testlib.NewTestCase(name, c.Timeout, t, nil), nil
}

// Run executes the baseline and then the mutated iterations. The campaign
// stops early when ctx is cancelled, returning what was found so far.
func (c *Campaign) Run(ctx context.Context) (*Result, error) {
	if c.Iterations <= 0 {
		return nil, ErrNoIterations
	}
	base, err := c.testCase(c.Name + "/baseline")
	if err != nil {
		return nil, err
	}
	rep := c.Runner.RunWithHook(ctx, base, modvar.Nop{})
	if rep.Verdict == report.Error {
		return nil, fmt.Errorf("%w: %s", ErrBaselineFailed, rep.Error)
	}
	result := &Result{Baseline: TakeFingerprint(base.Trace, rep)}
	c.Logger.With(log.LogParams{
		"campaign":    c.Name,
		"fingerprint": result.Baseline.String(),
	}).Info("Baseline recorded")

	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > c.Iterations {
		workers = c.Iterations
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runs := new(atomic.Int64)
	iterations := make(chan int)
	findings := make(chan Finding)
	errCh := make(chan error, workers)
	wg := new(sync.WaitGroup)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			if err := c.work(ctx, w, result.Baseline, iterations, findings, runs); err != nil {
				errCh <- err
				cancel()
			}
		}(w)
	}
	go func() {
		defer close(iterations)
		for i := 0; i < c.Iterations; i++ {
			select {
			case iterations <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(findings)
		close(errCh)
	}()

	for f := range findings {
		result.Findings = append(result.Findings, f)
	}
	result.Runs = int(runs.Load())
	sort.Slice(result.Findings, func(i, j int) bool {
		return result.Findings[i].Iteration < result.Findings[j].Iteration
	})
	for err := range errCh {
		return result, err
	}
	return result, nil
}

// work runs iterations on a trace owned by the worker
func (c *Campaign) work(ctx context.Context, w int, baseline Fingerprint, iterations <-chan int, findings chan<- Finding, runs *atomic.Int64) error {
	tc, err := c.testCase(fmt.Sprintf("%s/worker-%d", c.Name, w))
	if err != nil {
		return err
	}
	logger := c.Logger.With(log.LogParams{"campaign": c.Name, "worker": w})
	for i := range iterations {
		tc.Trace.Reset()
		seed := c.iterationSeed(i)
		mutator, err := NewMutator(c.Fuzz, seed)
		if err != nil {
			return err
		}
		tc.Name = fmt.Sprintf("%s/%d", c.Name, i)
		rep := c.Runner.RunWithHook(ctx, tc, mutator)
		if ctx.Err() != nil {
			return nil
		}
		runs.Add(1)
		fp := TakeFingerprint(tc.Trace, rep)
		if fp.Equal(baseline) {
			continue
		}

		applied := mutator.Applied()
		rep.Iteration = i
		rep.Mutations = make([]string, len(applied))
		for j, m := range applied {
			rep.Mutations[j] = m.String()
		}
		finding := Finding{
			Campaign:    c.Name,
			Iteration:   i,
			Seed:        seed,
			Mutations:   applied,
			Fingerprint: fp,
			ReportID:    rep.ID,
			Trace:       rep.Trace,
		}
		logger.With(log.LogParams{
			"iteration":   i,
			"fingerprint": fp.String(),
			"mutations":   len(applied),
		}).Info("Fingerprint differs from baseline")

		if c.Store != nil {
			if err := c.Store.Save(ctx, rep); err != nil {
				logger.WithError(err).Error("Failed to store report")
			}
		}
		if c.Corpus != nil {
			if err := c.Corpus.Append(finding); err != nil {
				return err
			}
		}
		findings <- finding
	}
	return nil
}
