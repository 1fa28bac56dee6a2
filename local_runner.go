package flowmesh

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/flowmesh/flowmesh/internal/asyncop"
	"github.com/flowmesh/flowmesh/internal/bus"
	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/internal/timer"
	"github.com/flowmesh/flowmesh/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, MessageBus, timer.Service,
// asyncop.Runner, and Worker into a single process-local helper for
// development and unit tests:
//
//	runner := flowmesh.NewLocalRunner("local")
//	def := flowmesh.New("Example").Step("a", doA).Build()
//	runner.MustRegister(def)
//	cp, err := runner.Start(ctx, "Example", input)
//
//	_ = runner.Run(ctx) // in its own goroutine, to process peer traffic
//	defer runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory flow engine backing this runner.
	Engine *engine.FlowEngine
	// Worker drains Engine's bus, timer, and async-op collaborators.
	Worker *worker.Worker

	bus      bus.MessageBus
	timers   *timer.InMemoryService
	asyncOps *asyncop.InMemoryRunner

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner builds a LocalRunner whose Engine stamps localParty
// onto every outbound InitialSessionMessage and whose Worker subscribes
// to the bus under that same name.
func NewLocalRunner(localParty string) *LocalRunner {
	b := bus.NewInMemoryBus(0)
	t := timer.NewInMemoryService(0)
	a := asyncop.NewInMemoryRunner(0)

	eng := engine.NewEngineWithConfig(engine.Config{
		Bus:        b,
		Timers:     t,
		AsyncOps:   a,
		LocalParty: localParty,
	})

	w := worker.New(eng, b, t, a, localParty)

	return &LocalRunner{
		Engine:   eng,
		Worker:   w,
		bus:      b,
		timers:   t,
		asyncOps: a,
	}
}

// MustRegister registers def on the runner's Engine, panicking on
// error.
func (r *LocalRunner) MustRegister(def FlowDefinition) {
	if err := r.Engine.RegisterFlow(def); err != nil {
		panic(err)
	}
}

// RegisterResponder arranges for a peer's InitialSessionMessage whose
// FlowClassName is className to start definitionName via
// Engine.InitiateFlow.
func (r *LocalRunner) RegisterResponder(className, definitionName, version string) {
	r.Worker.RegisterResponder(className, definitionName, version)
}

// Start starts name with args and binds any sessions it opens, so
// replies addressed to them route back to this flow.
func (r *LocalRunner) Start(ctx context.Context, name string, args any) (*Checkpoint, error) {
	return r.Worker.Start(ctx, name, args)
}

// Run starts the background goroutine that drains the runner's bus,
// timers, and async-op completions until ctx is cancelled or Stop is
// called. Run itself returns immediately; errors from the background
// loop are logged, not returned, mirroring the prior design's local
// worker loop logging a bad task rather than tearing down the runner.
func (r *LocalRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("flowmesh: LocalRunner already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("flowmesh: local runner worker exited: %v", err)
		}
	}()
	return nil
}

// Stop cancels the background loop started by Run and waits for it to
// exit. Stop on a runner that was never started is a no-op.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
