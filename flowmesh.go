package flowmesh

import (
	"context"
	"database/sql"

	"github.com/flowmesh/flowmesh/internal/engine"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// Re-export the types callers need day to day so they don't have to dig
// into pkg/flow.
type (
	Engine              = flow.Engine
	FlowDefinition      = flow.FlowDefinition
	StepDefinition      = flow.StepDefinition
	FlowStepFunc        = flow.FlowStepFunc
	FiberContext        = flow.FiberContext
	RetryPolicy         = flow.RetryPolicy
	ConditionFunc       = flow.ConditionFunc
	SelectorFunc        = flow.SelectorFunc
	Checkpoint          = flow.Checkpoint
	Status              = flow.Status
	InstanceListOptions = flow.InstanceListOptions
	FlowId              = flow.FlowId
	SessionId           = flow.SessionId
	AsyncOperation       = flow.AsyncOperation
)

// Re-export status constants.
const (
	StatusRunnable     = flow.StatusRunnable
	StatusHospitalized = flow.StatusHospitalized
	StatusPaused       = flow.StatusPaused
	StatusCompleted    = flow.StatusCompleted
	StatusFailed       = flow.StatusFailed
	StatusKilled       = flow.StatusKilled
)

// NewInMemoryEngine returns an Engine backed entirely by in-memory
// collaborators: checkpoints, dedup log, results, message bus, timers,
// and async-op runner. Suitable for tests; see NewLocalRunner for a
// fuller development harness with a Worker attached.
func NewInMemoryEngine() *engine.FlowEngine {
	return engine.NewInMemoryEngine()
}

// NewSQLiteEngine returns an Engine whose checkpoints, dedup log, and
// persisted results live in db.
func NewSQLiteEngine(db *sql.DB) (*engine.FlowEngine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewPostgresEngine returns an Engine whose checkpoints, dedup log, and
// persisted results live in db, opened against any database/sql
// PostgreSQL driver.
func NewPostgresEngine(db *sql.DB) (*engine.FlowEngine, error) {
	return engine.NewPostgresEngine(db)
}

// NewEngineWithConfig exposes the full collaborator wiring (bus, timer
// service, async-op runner, hospital, LocalParty) for callers that need
// more than the convenience constructors provide — typically anyone
// backing an Engine with the redis or mongo submodules, or running more
// than one party on the same bus.
func NewEngineWithConfig(cfg engine.Config) *engine.FlowEngine {
	return engine.NewEngineWithConfig(cfg)
}

// Run starts name with args and drives it to its first suspension point
// or terminal outcome.
func Run(ctx context.Context, eng Engine, name string, args any) (*Checkpoint, error) {
	return eng.Start(ctx, name, args)
}

// GetCheckpoint fetches a flow's current checkpoint by id.
func GetCheckpoint(ctx context.Context, eng Engine, id FlowId) (*Checkpoint, error) {
	return eng.GetCheckpoint(ctx, id)
}

// ListCheckpoints lists checkpoints matching opts.
func ListCheckpoints(ctx context.Context, eng Engine, opts InstanceListOptions) ([]*Checkpoint, error) {
	return eng.ListCheckpoints(ctx, opts)
}

// RecoverStuckFlows delegates to eng.RecoverStuckFlows. Typically called
// once on process startup, before any Worker begins draining the bus.
func RecoverStuckFlows(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverStuckFlows(ctx)
}
