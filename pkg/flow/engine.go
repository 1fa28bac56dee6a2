package flow

import "context"

// Engine is the programmatic surface callers use to register flow
// definitions, start flows, and drive them to completion as external
// events (messages, timers, async-op completions, operator commands)
// arrive. It is implemented by internal/engine.FlowEngine; this package
// only names the contract so that pkg/worker and the top-level DSL can
// depend on it without reaching into internal packages.
type Engine interface {
	// RegisterFlow registers a definition by (name, version).
	RegisterFlow(def FlowDefinition) error

	// Start creates a new flow and drives it synchronously up to its
	// first suspension point or terminal outcome.
	Start(ctx context.Context, name string, args any) (*Checkpoint, error)

	// StartVersion is like Start but pins an explicit definition
	// version instead of the latest registered one.
	StartVersion(ctx context.Context, name, version string, args any) (*Checkpoint, error)

	// GetCheckpoint looks up a flow's current checkpoint by id.
	GetCheckpoint(ctx context.Context, id FlowId) (*Checkpoint, error)

	// ListCheckpoints returns checkpoints matching opts.
	ListCheckpoints(ctx context.Context, opts InstanceListOptions) ([]*Checkpoint, error)

	// DeliverMessage feeds an inbound MessageReceivedEvent to flow id,
	// driving it through Transition and the action executor.
	DeliverMessage(ctx context.Context, id FlowId, ev MessageReceivedEvent) (*Checkpoint, error)

	// ExpireTimeout delivers a TimeoutEvent to id.
	ExpireTimeout(ctx context.Context, id FlowId) (*Checkpoint, error)

	// CompleteAsyncOp delivers an AsyncOpCompletedEvent to id.
	CompleteAsyncOp(ctx context.Context, id FlowId, dedup DedupId, result any, opErr error) (*Checkpoint, error)

	// RetryFromSafePoint rolls back id's in-flight transaction, if any,
	// and replays from the last committed checkpoint.
	RetryFromSafePoint(ctx context.Context, id FlowId, reason error) (*Checkpoint, error)

	// SoftShutdown asks id to drain at its next suspension point.
	SoftShutdown(ctx context.Context, id FlowId) error

	// StartErrorPropagation instructs the error-flow transition to begin
	// propagating id's recorded errors to live sessions.
	StartErrorPropagation(ctx context.Context, id FlowId) (*Checkpoint, error)

	// RecoverStuckFlows reviews every Hospitalized checkpoint and asks the
	// hospital for a fresh verdict: Propagate starts error propagation,
	// Kill kills the flow, and Retry or Pause leave it Hospitalized.
	// Flows in any other status are not examined. Returns the count
	// examined.
	RecoverStuckFlows(ctx context.Context) (int, error)

	// ListHistory returns the HistoryRecorder interceptor's bounded trace
	// for id, oldest first.
	ListHistory(ctx context.Context, id FlowId) ([]HistoryEntry, error)
}
