// Package context holds the state shared by the commands and the API server
package context

import (
	goctx "context"

	"github.com/wiretamper/wiretamper/config"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/report"
	"github.com/wiretamper/wiretamper/testlib"
	"github.com/wiretamper/wiretamper/util"
)

// RootContext stores what the commands and the API server share
type RootContext struct {
	// Config and instance of the configuration object
	Config *config.Config
	// Store keeps the reports of every run
	Store report.Store
	// Metrics collected from every run of the Runner
	Metrics *report.Metrics
	// Runner executes test cases against the configured target
	Runner *testlib.Runner
	// Counter is a thread safe monotonic integer counter
	Counter *util.Counter
	// Logger for logging purposes
	Logger *log.Logger
}

// NewRootContext creates an instance of the RootContext from the configuration
func NewRootContext(c *config.Config, logger *log.Logger, opts ...testlib.RunnerOption) (*RootContext, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	store, err := report.NewStore(c.StoreConfig)
	if err != nil {
		return nil, err
	}
	metrics := report.NewMetrics()
	opts = append([]testlib.RunnerOption{testlib.WithHooks(metrics.Hooks())}, opts...)
	return &RootContext{
		Config:  c,
		Store:   store,
		Metrics: metrics,
		Runner:  testlib.NewRunner(c, logger, opts...),
		Counter: util.NewCounter(),
		Logger:  logger,
	}, nil
}

// Record stores a finished report and observes its duration
func (c *RootContext) Record(ctx goctx.Context, r *report.Report) error {
	c.Metrics.ObserveRun(r)
	return c.Store.Save(ctx, r)
}

// Stop releases the store
func (c *RootContext) Stop() {
	if err := c.Store.Close(); err != nil {
		c.Logger.WithError(err).Error("Failed to close report store")
	}
}
