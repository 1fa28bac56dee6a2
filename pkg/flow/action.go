package flow

// Action is the closed sum type of every side effect the transition
// function can request. The action executor (internal/engine/executor.go)
// interprets these strictly in the order they appear in a TransitionResult
// — it must not reorder, batch, or drop any of them.
type Action interface {
	isAction()
}

type actionBase struct{}

func (actionBase) isAction() {}

// CreateTransactionAction opens the transactional scope that every
// persistence action in the same list executes within.
type CreateTransactionAction struct{ actionBase }

// CommitTransactionAction closes the transactional scope successfully.
type CommitTransactionAction struct{ actionBase }

// RollbackTransactionAction closes the transactional scope by discarding
// its effects. Used by the RetryFromSafePoint path.
type RollbackTransactionAction struct{ actionBase }

// PersistCheckpointAction upserts a checkpoint by (id, num_commits);
// IsUpdate distinguishes the first persist of a new flow from a
// subsequent update so stores can choose INSERT vs UPDATE semantics.
type PersistCheckpointAction struct {
	actionBase

	Id         FlowId
	Checkpoint Checkpoint
	IsUpdate   bool
}

// RemoveCheckpointAction deletes a checkpoint row. Result/exception rows
// are retained iff MayHavePersistentResults (i.e. InvocationContext.ClientId
// was set).
type RemoveCheckpointAction struct {
	actionBase

	Id                       FlowId
	MayHavePersistentResults bool
}

// PersistDeduplicationFactsAction atomically records that the listed
// DedupIds have been durably processed. A conflict (already present)
// is not an error — the delivery was already accounted for.
type PersistDeduplicationFactsAction struct {
	actionBase

	Handlers []DedupHandler
}

// AcknowledgeMessagesAction tells the bus these deliveries are done. This
// MUST run after commit, never before: losing the ack on crash is
// tolerable because the dedup log will suppress the replay.
type AcknowledgeMessagesAction struct {
	actionBase

	Handlers []DedupHandler
}

// SendInitialAction publishes an InitialSessionMessage for a freshly
// Initiating session.
type SendInitialAction struct {
	actionBase

	Destination string
	Message     InitialSessionMessage
	Dedup       DedupId
}

// SendExistingAction publishes a single ExistingSessionMessage on an
// already-Initiated session.
type SendExistingAction struct {
	actionBase

	Destination string
	Message     ExistingSessionMessage
	Dedup       DedupId
}

// SendMultipleAction publishes several ExistingSessionMessages to the
// same destination, preserving the given order (used when flushing
// buffered_messages after a handshake completes).
type SendMultipleAction struct {
	actionBase

	Destination string
	Messages    []ExistingSessionMessage
	Dedups      []DedupId
}

// PropagateErrorsAction emits each of Messages to the paired entry in
// Destinations and Dedups — the bus treats an error message like any
// other existing-session send.
type PropagateErrorsAction struct {
	actionBase

	Messages     []ErrorSessionMessage
	Destinations []string
	Dedups       []DedupId
	SenderUUID   FlowId
}

// ScheduleFlowTimeoutAction arms (or re-arms) a timer for this flow,
// idempotent on FlowId.
type ScheduleFlowTimeoutAction struct {
	actionBase

	FlowId FlowId
	At     int64 // unix nanos; avoids importing time into the pure action log
}

// CancelFlowTimeoutAction disarms a previously scheduled timer.
type CancelFlowTimeoutAction struct {
	actionBase

	FlowId FlowId
}

// ExecuteAsyncOperationAction hands off to an external operation whose
// completion surfaces later as an AsyncOpCompletedEvent.
type ExecuteAsyncOperationAction struct {
	actionBase

	DedupId   DedupId
	Operation AsyncOperation
}

// AsyncOperation is the minimal collaborator-facing description of work
// to submit to the async-op runner. Concrete flows supply a Run closure;
// the engine never inspects it beyond invoking it once.
type AsyncOperation interface {
	Run() (any, error)
}

// SleepUntilAction parks the fiber until the given instant without
// involving the async-op runner (used by the sleep suspension point).
type SleepUntilAction struct {
	actionBase

	FlowId FlowId
	At     int64
}

// TrackTransactionAction registers the currently open transaction in the
// live-transaction registry so it can be found by FlowId if the process
// needs to intervene.
type TrackTransactionAction struct {
	actionBase

	FlowId FlowId
}

// ReleaseSoftLocksAction releases every soft lock held on behalf of
// flowUUID. Idempotent.
type ReleaseSoftLocksAction struct {
	actionBase

	FlowUUID FlowId
}

// RemoveSessionBindingsAction removes routing bindings for the given
// sessions so no further inbound traffic is misrouted to a flow that is
// about to be removed.
type RemoveSessionBindingsAction struct {
	actionBase

	Sessions []SessionId
}

// FlowOutcomeKind selects which variant of FlowOutcome is populated.
type FlowOutcomeKind string

const (
	OutcomeOrderlyFinish FlowOutcomeKind = "ORDERLY_FINISH"
	OutcomeErrorFinish   FlowOutcomeKind = "ERROR_FINISH"
)

// FlowOutcome is the terminal result of a flow:
// OrderlyFinish(value) | ErrorFinish(errors[]).
type FlowOutcome struct {
	Kind   FlowOutcomeKind
	Value  any
	Errors []FlowError
}

// RemoveFlowAction is the final action in a flow's life: unregisters it
// from the fiber registry and records its outcome for ClientId-based
// retrieval if applicable.
type RemoveFlowAction struct {
	actionBase

	Id      FlowId
	Outcome FlowOutcome
	// FinalState is kept for diagnostics/history only.
	FinalState Checkpoint
}

// RetryFlowFromSafePointAction is emitted by the RetryFromSafePoint
// transition to tell the fiber to replay lastState after the rollback
// completes.
type RetryFlowFromSafePointAction struct {
	actionBase

	LastState Checkpoint
}

// RetryEventAfterAction is emitted by the hospital's VerdictRetry path:
// redeliver Event to this flow no earlier than At. Unlike every other
// action this one carries an Event rather than only data already on the
// checkpoint, because the event that failed is not itself persisted —
// only the checkpoint it was applied to is. The action executor holds
// this until it is due and then hands it to FlowEngine through
// Executor.RetryDue, which redelivers it the same way any other event
// is delivered.
type RetryEventAfterAction struct {
	actionBase

	FlowId FlowId
	At     int64
	Event  Event
}
