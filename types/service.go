package types

import (
	"sync"
	"sync/atomic"

	"github.com/wiretamper/wiretamper/log"
)

// Service is anything started once and stopped on termination
type Service interface {
	Name() string
	Start() error
	Running() bool
	Stop() error
	// QuitCh is closed once the service stops running
	QuitCh() <-chan struct{}
}

// BaseService implements the bookkeeping part of Service. Embedders call
// StartRunning and StopRunning from their Start and Stop.
type BaseService struct {
	name     string
	running  atomic.Bool
	quitOnce sync.Once
	quit     chan struct{}
	Logger   *log.Logger
}

// NewBaseService instantiates BaseService with a logger tagged by name
func NewBaseService(name string, parentLogger *log.Logger) *BaseService {
	if parentLogger == nil {
		parentLogger = log.NewNop()
	}
	return &BaseService{
		name:   name,
		quit:   make(chan struct{}),
		Logger: parentLogger.With(log.LogParams{"service": name}),
	}
}

func (b *BaseService) StartRunning() {
	b.Logger.Debug("Starting service")
	b.running.Store(true)
}

// StopRunning unsets the running flag and closes the quit channel, only the
// first call has an effect on the channel
func (b *BaseService) StopRunning() {
	b.Logger.Debug("Stopping service")
	b.running.Store(false)
	b.quitOnce.Do(func() {
		close(b.quit)
	})
}

func (b *BaseService) Name() string {
	return b.name
}

func (b *BaseService) Running() bool {
	return b.running.Load()
}

func (b *BaseService) QuitCh() <-chan struct{} {
	return b.quit
}
