package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/asyncop"
	"github.com/flowmesh/flowmesh/internal/bus"
	"github.com/flowmesh/flowmesh/internal/hospital"
	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/internal/timer"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// FlowEngine is the default flow.Engine implementation: it owns the
// definition registry, the durable collaborators, the interceptor
// chain, and the action executor, and drives every external event
// through Transition -> Execute in a single synchronous call, mirroring
// the prior design's executeSteps loop generalized from a fixed step
// walk to arbitrary event dispatch.
type FlowEngine struct {
	defs store.DefinitionStore

	checkpoints store.CheckpointStore
	dedup       store.DedupStore
	results     store.ResultStore

	messageBus bus.MessageBus
	timers     timer.Service
	asyncOps   asyncop.Runner

	history      *HistoryRecorder
	hospitaliser *Hospitaliser
	chain        flow.Interceptor
	executor     *Executor

	mu          sync.Mutex
	transitions map[string]flow.TransitionFunc // "name@version" cache
}

var _ flow.Engine = (*FlowEngine)(nil)

// Config bundles the collaborators an Engine is built from.
type Config struct {
	Definitions  store.DefinitionStore
	Checkpoints  store.CheckpointStore
	Dedup        store.DedupStore
	Results      store.ResultStore
	Bus          bus.MessageBus
	Timers       timer.Service
	AsyncOps     asyncop.Runner
	Hospital     hospital.Hospital
	HistoryLimit int

	// LocalParty is this engine's own address, stamped onto every
	// outbound InitialSessionMessage so a peer's worker knows which
	// destination to route its replies back to.
	LocalParty string

	// Logger receives the executor's per-action debug records and the
	// history recorder's error-propagation dumps. Defaults to
	// slog.Default() when nil.
	Logger *slog.Logger
}

// NewEngineWithConfig builds a FlowEngine from cfg, filling in in-memory
// defaults for any collaborator left unset.
func NewEngineWithConfig(cfg Config) *FlowEngine {
	if cfg.Definitions == nil {
		cfg.Definitions = store.NewMemoryDefinitionStore()
	}
	if cfg.Checkpoints == nil || cfg.Dedup == nil || cfg.Results == nil {
		mem := store.NewMemoryStore()
		if cfg.Checkpoints == nil {
			cfg.Checkpoints = mem
		}
		if cfg.Dedup == nil {
			cfg.Dedup = mem
		}
		if cfg.Results == nil {
			cfg.Results = mem
		}
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.NewInMemoryBus(0)
	}
	if cfg.Timers == nil {
		cfg.Timers = timer.NewInMemoryService(0)
	}
	if cfg.AsyncOps == nil {
		cfg.AsyncOps = asyncop.NewInMemoryRunner(0)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	history := NewHistoryRecorder(cfg.HistoryLimit, cfg.Logger)
	hospitaliser := NewHospitaliser(cfg.Hospital)

	e := &FlowEngine{
		defs:         cfg.Definitions,
		checkpoints:  cfg.Checkpoints,
		dedup:        cfg.Dedup,
		results:      cfg.Results,
		messageBus:   cfg.Bus,
		timers:       cfg.Timers,
		asyncOps:     cfg.AsyncOps,
		history:      history,
		hospitaliser: hospitaliser,
		chain:        flow.Chain(history, hospitaliser),
		executor: &Executor{
			Checkpoints: cfg.Checkpoints,
			Dedup:       cfg.Dedup,
			Results:     cfg.Results,
			Bus:         cfg.Bus,
			Timers:      cfg.Timers,
			AsyncOps:    cfg.AsyncOps,
			LocalParty:  cfg.LocalParty,
			Logger:      cfg.Logger,
		},
		transitions: make(map[string]flow.TransitionFunc),
	}

	go e.drainRetries()
	return e
}

// NewInMemoryEngine returns a FlowEngine backed entirely by in-memory
// collaborators, suitable for tests and the single-process LocalRunner.
func NewInMemoryEngine() *FlowEngine {
	return NewEngineWithConfig(Config{})
}

// NewSQLiteEngine returns a FlowEngine whose checkpoints, dedup log, and
// persisted results live in db. Flow definitions remain an in-process
// registry, mirroring the prior design's NewSQLiteEngine pairing a
// durable instance store with an in-memory workflow registry.
func NewSQLiteEngine(db *sql.DB) (*FlowEngine, error) {
	s, err := store.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Checkpoints: s, Dedup: s, Results: s}), nil
}

// NewPostgresEngine returns a FlowEngine whose checkpoints, dedup log,
// and persisted results live in db, a *sql.DB opened against any
// database/sql-compatible PostgreSQL driver (the postgres submodule
// opens it against pgx's stdlib adapter before passing it in). The
// store itself holds no driver import, matching the prior design's
// Postgres store, which spoke only $N-placeholder SQL through
// database/sql.
func NewPostgresEngine(db *sql.DB) (*FlowEngine, error) {
	s, err := store.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Checkpoints: s, Dedup: s, Results: s}), nil
}

// NewRedisEngine returns a FlowEngine whose checkpoint/dedup/result
// persistence is backed by checkpoints, matching the prior design's
// NewRedisEngine swapping instance persistence for a Redis-backed store
// while keeping everything else the same shape. The concrete Redis
// client dependency lives in the redis submodule, which implements
// these store interfaces against go-redis and replaces into this
// module; the root engine stays driver-agnostic.
func NewRedisEngine(checkpoints store.CheckpointStore, dedup store.DedupStore, results store.ResultStore) *FlowEngine {
	return NewEngineWithConfig(Config{Checkpoints: checkpoints, Dedup: dedup, Results: results})
}

func (e *FlowEngine) RegisterFlow(def flow.FlowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("flow: definition name is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("flow: definition %q must have at least one step", def.Name)
	}
	if def.Version == "" {
		def.Version = "v1"
	}
	if err := e.defs.Save(def); err != nil {
		return err
	}

	e.mu.Lock()
	e.transitions[def.Name+"@"+def.Version] = NewTransition(def, e)
	e.mu.Unlock()
	return nil
}

func (e *FlowEngine) transitionFor(name, version string) (flow.TransitionFunc, flow.FlowDefinition, error) {
	e.mu.Lock()
	fn, ok := e.transitions[name+"@"+version]
	e.mu.Unlock()

	def, err := e.defs.Get(name, version)
	if err != nil {
		return nil, flow.FlowDefinition{}, err
	}
	if !ok {
		fn = NewTransition(def, e)
		e.mu.Lock()
		e.transitions[name+"@"+version] = fn
		e.mu.Unlock()
	}
	return fn, def, nil
}

func (e *FlowEngine) Start(ctx context.Context, name string, args any) (*flow.Checkpoint, error) {
	def, err := e.defs.GetLatest(name)
	if err != nil {
		return nil, err
	}
	return e.StartVersion(ctx, name, def.Version, args)
}

func (e *FlowEngine) StartVersion(ctx context.Context, name, version string, args any) (*flow.Checkpoint, error) {
	fn, def, err := e.transitionFor(name, version)
	if err != nil {
		return nil, err
	}

	prev := flow.Checkpoint{
		Id:             flow.NewFlowId(),
		DefinitionName: def.Name,
		Version:        def.Version,
		InvocationContext: flow.InvocationContext{
			Args: args,
		},
		FlowState:       flow.FlowState{Kind: flow.FlowUnstarted, Args: args},
		CheckpointState: flow.CheckpointState{Sessions: make(map[flow.SessionId]flow.SessionState)},
		ErrorState:      flow.ErrorState{Kind: flow.ErrorClean},
		Status:          flow.StatusRunnable,
	}

	// Persisted once, unconditionally, before the first transition runs
	// so that a hospital VerdictRetry on the very first event still has
	// a row to find later, mirroring the prior design's
	// SaveInstance-before-executeSteps ordering in Run.
	if err := e.checkpoints.Upsert(ctx, prev); err != nil {
		return nil, err
	}

	return e.apply(ctx, fn, prev, flow.StartEvent{})
}

var _ SubFlowRunner = (*FlowEngine)(nil)

// subFlowPollInterval is how often RunSubFlow polls a child flow's
// checkpoint for a terminal status.
const subFlowPollInterval = 10 * time.Millisecond

// RunSubFlow drives definitionName to completion as a child flow and
// returns its outcome value, or its first recorded error, to whichever
// SubFlow suspension point submitted it. It runs on the async-op
// runner's own goroutine, never on a parent flow's transition path, so
// blocking here to poll the child never stalls another flow.
func (e *FlowEngine) RunSubFlow(definitionName string, args any) (any, error) {
	ctx := context.Background()
	clientId := "subflow:" + flow.NewFlowId().String()

	cp, err := e.startSubFlow(ctx, definitionName, clientId, args)
	if err != nil {
		return nil, err
	}

	for !cp.Status.Terminal() {
		time.Sleep(subFlowPollInterval)
		next, err := e.GetCheckpoint(ctx, cp.Id)
		if err != nil {
			if errors.Is(err, flow.ErrNotFound) {
				break // already removed; its outcome lives in the result store
			}
			return nil, err
		}
		cp = next
	}

	outcome, err := e.results.GetResult(ctx, clientId)
	if err != nil {
		return nil, fmt.Errorf("engine: subflow %s outcome: %w", definitionName, err)
	}
	if outcome.Kind == flow.OutcomeErrorFinish {
		if len(outcome.Errors) > 0 {
			return nil, outcome.Errors[0].Exception
		}
		return nil, fmt.Errorf("engine: subflow %s failed", definitionName)
	}
	return outcome.Value, nil
}

func (e *FlowEngine) startSubFlow(ctx context.Context, name, clientId string, args any) (*flow.Checkpoint, error) {
	def, err := e.defs.GetLatest(name)
	if err != nil {
		return nil, err
	}
	fn, _, err := e.transitionFor(name, def.Version)
	if err != nil {
		return nil, err
	}

	prev := flow.Checkpoint{
		Id:             flow.NewFlowId(),
		DefinitionName: def.Name,
		Version:        def.Version,
		InvocationContext: flow.InvocationContext{
			Args:     args,
			ClientId: clientId,
		},
		FlowState:       flow.FlowState{Kind: flow.FlowUnstarted, Args: args},
		CheckpointState: flow.CheckpointState{Sessions: make(map[flow.SessionId]flow.SessionState)},
		ErrorState:      flow.ErrorState{Kind: flow.ErrorClean},
		Status:          flow.StatusRunnable,
	}
	if err := e.checkpoints.Upsert(ctx, prev); err != nil {
		return nil, err
	}
	return e.apply(ctx, fn, prev, flow.StartEvent{})
}

// InitiateFlow starts a brand-new flow in response to a peer's
// InitialSessionMessage. It is not part of the flow.Engine interface
// because only the worker, which owns inbound bus subscriptions and
// knows which destination name maps to which registered definition,
// ever needs to call it.
func (e *FlowEngine) InitiateFlow(ctx context.Context, name, version string, ev flow.InitiateFlowEvent) (*flow.Checkpoint, error) {
	fn, def, err := e.transitionFor(name, version)
	if err != nil {
		return nil, err
	}

	prev := flow.Checkpoint{
		Id:              flow.NewFlowId(),
		DefinitionName:  def.Name,
		Version:         def.Version,
		FlowState:       flow.FlowState{Kind: flow.FlowUnstarted},
		CheckpointState: flow.CheckpointState{Sessions: make(map[flow.SessionId]flow.SessionState)},
		ErrorState:      flow.ErrorState{Kind: flow.ErrorClean},
		Status:          flow.StatusRunnable,
	}
	if err := e.checkpoints.Upsert(ctx, prev); err != nil {
		return nil, err
	}

	return e.apply(ctx, fn, prev, ev)
}

func (e *FlowEngine) GetCheckpoint(ctx context.Context, id flow.FlowId) (*flow.Checkpoint, error) {
	cp, err := e.checkpoints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (e *FlowEngine) ListCheckpoints(ctx context.Context, opts flow.InstanceListOptions) ([]*flow.Checkpoint, error) {
	cps, err := e.checkpoints.List(ctx, store.StatusFilter{Status: opts.Status, Name: opts.DefinitionName})
	if err != nil {
		return nil, err
	}
	out := make([]*flow.Checkpoint, 0, len(cps))
	for _, cp := range cps {
		if opts.DefinitionName != "" && cp.DefinitionName != opts.DefinitionName {
			continue
		}
		c := cp
		out = append(out, &c)
	}
	return out, nil
}

func (e *FlowEngine) DeliverMessage(ctx context.Context, id flow.FlowId, ev flow.MessageReceivedEvent) (*flow.Checkpoint, error) {
	return e.dispatchById(ctx, id, ev)
}

func (e *FlowEngine) ExpireTimeout(ctx context.Context, id flow.FlowId) (*flow.Checkpoint, error) {
	return e.dispatchById(ctx, id, flow.TimeoutEvent{})
}

func (e *FlowEngine) CompleteAsyncOp(ctx context.Context, id flow.FlowId, dedup flow.DedupId, result any, opErr error) (*flow.Checkpoint, error) {
	return e.dispatchById(ctx, id, flow.AsyncOpCompletedEvent{DedupId: dedup, Result: result, Err: opErr})
}

func (e *FlowEngine) RetryFromSafePoint(ctx context.Context, id flow.FlowId, reason error) (*flow.Checkpoint, error) {
	return e.dispatchById(ctx, id, flow.RetryFromSafePointEvent{Reason: reason})
}

func (e *FlowEngine) SoftShutdown(ctx context.Context, id flow.FlowId) error {
	_, err := e.dispatchById(ctx, id, flow.SoftShutdownEvent{})
	return err
}

func (e *FlowEngine) StartErrorPropagation(ctx context.Context, id flow.FlowId) (*flow.Checkpoint, error) {
	return e.dispatchById(ctx, id, flow.StartErrorPropagationEvent{})
}

func (e *FlowEngine) ListHistory(ctx context.Context, id flow.FlowId) ([]flow.HistoryEntry, error) {
	return e.history.History(id), nil
}

// RecoverStuckFlows reviews every Hospitalized checkpoint and asks the
// hospital for a fresh verdict. Unlike the Hospitaliser interceptor,
// which runs immediately after the event that caused the
// hospitalization and can still redeliver that same event on
// VerdictRetry, a crash loses the in-flight event entirely — so a
// VerdictRetry here arms no timer and replays nothing: the checkpoint
// stays Hospitalized for the next pass.
func (e *FlowEngine) RecoverStuckFlows(ctx context.Context) (int, error) {
	cps, err := e.checkpoints.List(ctx, store.StatusFilter{Status: flow.StatusHospitalized})
	if err != nil {
		return 0, err
	}

	for _, cp := range cps {
		cause := latestError(cp)
		if cause == nil {
			continue
		}
		verdict, _ := e.hospitaliser.hospital.Handle(hospital.Case{
			FlowId:     cp.Id,
			Attempt:    e.hospitaliser.bumpAttempt(cp.Id),
			Cause:      cause,
			Checkpoint: cp,
		})

		switch verdict {
		case hospital.VerdictPropagate:
			if _, err := e.dispatchById(ctx, cp.Id, flow.StartErrorPropagationEvent{}); err != nil {
				return len(cps), err
			}
		case hospital.VerdictKill:
			b := newTransitionBuilder(cp).withTransaction()
			res := killFlow(b, cause)
			if err := e.executor.Execute(ctx, cp.Id, res.Actions); err != nil {
				return len(cps), err
			}
		default:
			// VerdictRetry and VerdictPause both leave the checkpoint
			// Hospitalized; a real retry needs the original event, which
			// did not survive the crash.
		}
	}
	return len(cps), nil
}

func (e *FlowEngine) dispatchById(ctx context.Context, id flow.FlowId, ev flow.Event) (*flow.Checkpoint, error) {
	prev, err := e.checkpoints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fn, def, err := e.transitionFor(prev.DefinitionName, prev.Version)
	if err != nil {
		return nil, err
	}
	if def.Version != prev.Version {
		return nil, flow.ErrVersionDrift
	}
	return e.apply(ctx, fn, prev, ev)
}

func (e *FlowEngine) apply(ctx context.Context, fn flow.TransitionFunc, prev flow.Checkpoint, ev flow.Event) (*flow.Checkpoint, error) {
	res := e.chain.Intercept(prev, ev, fn)
	if err := e.executor.Execute(ctx, prev.Id, res.Actions); err != nil {
		return &res.Checkpoint, err
	}
	if res.Continuation.Kind == flow.ContinuationResume && res.Continuation.Err != nil {
		return &res.Checkpoint, res.Continuation.Err
	}
	return &res.Checkpoint, nil
}

func (e *FlowEngine) drainRetries() {
	for due := range e.executor.RetryDue() {
		if _, err := e.dispatchById(context.Background(), due.FlowId, due.Event); err != nil {
			// Best-effort: the next timer fire or RecoverStuckFlows pass
			// will pick this flow up again if it is still Hospitalized.
			continue
		}
	}
}
