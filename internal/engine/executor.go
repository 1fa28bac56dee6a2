package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/asyncop"
	"github.com/flowmesh/flowmesh/internal/bus"
	"github.com/flowmesh/flowmesh/internal/store"
	"github.com/flowmesh/flowmesh/internal/timer"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// Executor interprets a TransitionResult's action list against the
// durable collaborators, strictly in order. It never reorders, batches,
// or drops an action, and it never acknowledges a delivery until the
// CommitTransactionAction for the same list has executed.
type Executor struct {
	Checkpoints store.CheckpointStore
	Dedup       store.DedupStore
	Results     store.ResultStore
	Bus         bus.MessageBus
	Timers      timer.Service
	AsyncOps    asyncop.Runner

	// LocalParty is this engine's own address, stamped onto every
	// InitialSessionMessage before it is sent so the responder's worker
	// knows which destination to address its replies to.
	LocalParty string

	// Logger receives one slog.LevelDebug record per action as it runs.
	// Defaults to slog.Default() when nil.
	Logger *slog.Logger

	retryDueOnce sync.Once
	retryDue     chan flow.RetryEventAfterAction
}

func (ex *Executor) logger() *slog.Logger {
	if ex.Logger != nil {
		return ex.Logger
	}
	return slog.Default()
}

// RetryDue returns the channel a RetryEventAfterAction's delivery
// eventually lands on, once its delay has elapsed. FlowEngine
// drains this channel (drainRetries) and redelivers the carried Event
// to the flow.
func (ex *Executor) RetryDue() <-chan flow.RetryEventAfterAction {
	ex.retryDueOnce.Do(func() { ex.retryDue = make(chan flow.RetryEventAfterAction, 64) })
	return ex.retryDue
}

// inTransaction tracks the pending writes a CreateTransactionAction opens
// and a CommitTransactionAction flushes together; a RollbackTransaction
// discards them instead. Only one flow's action list is ever executed at
// a time by a given Executor call, so this lives on the stack, not on
// the struct.
type inTransaction struct {
	pendingCheckpoint *flow.Checkpoint
	pendingDedupFacts []flow.DedupId
	toAck             []flow.DedupHandler
	open              bool
}

// Execute runs actions in order against the collaborators. It returns
// the first error encountered; everything already executed before that
// point has already taken effect, matching the at-least-once semantics
// the dedup log and checkpoint versioning are designed to absorb.
func (ex *Executor) Execute(ctx context.Context, flowId flow.FlowId, actions []flow.Action) error {
	var tx inTransaction
	logger := ex.logger()

	for _, a := range actions {
		logger.DebugContext(ctx, "executing action",
			slog.String("flow_id", flowId.String()),
			slog.String("action", fmt.Sprintf("%T", a)),
		)
		switch act := a.(type) {
		case flow.CreateTransactionAction:
			tx = inTransaction{open: true}

		case flow.CommitTransactionAction:
			if err := ex.commit(ctx, &tx); err != nil {
				return err
			}

		case flow.RollbackTransactionAction:
			tx = inTransaction{}

		case flow.PersistCheckpointAction:
			cp := act.Checkpoint
			tx.pendingCheckpoint = &cp

		case flow.RemoveCheckpointAction:
			if err := ex.Checkpoints.Remove(ctx, act.Id, act.MayHavePersistentResults); err != nil {
				return fmt.Errorf("engine: remove checkpoint %s: %w", act.Id, err)
			}

		case flow.PersistDeduplicationFactsAction:
			for _, h := range act.Handlers {
				tx.pendingDedupFacts = append(tx.pendingDedupFacts, h.DedupId())
			}

		case flow.AcknowledgeMessagesAction:
			tx.toAck = append(tx.toAck, act.Handlers...)

		case flow.SendInitialAction:
			msg := act.Message
			msg.SenderParty = ex.LocalParty
			if err := ex.Bus.Send(ctx, act.Destination, msg, act.Dedup); err != nil {
				return fmt.Errorf("engine: send initial to %s: %w", act.Destination, err)
			}

		case flow.SendExistingAction:
			msg := act.Message
			if msg.Kind == flow.ExistingConfirm {
				if confirm, ok := msg.Payload.(flow.ConfirmPayload); ok {
					confirm.PeerParty = ex.LocalParty
					msg.Payload = confirm
				}
			}
			if err := ex.Bus.Send(ctx, act.Destination, msg, act.Dedup); err != nil {
				return fmt.Errorf("engine: send existing to %s: %w", act.Destination, err)
			}

		case flow.SendMultipleAction:
			for i, msg := range act.Messages {
				if err := ex.Bus.Send(ctx, act.Destination, msg, act.Dedups[i]); err != nil {
					return fmt.Errorf("engine: send buffered message %d to %s: %w", i, act.Destination, err)
				}
			}

		case flow.PropagateErrorsAction:
			for i, msg := range act.Messages {
				if err := ex.Bus.Send(ctx, act.Destinations[i], msg, act.Dedups[i]); err != nil {
					return fmt.Errorf("engine: propagate error %d: %w", msg.ErrorId, err)
				}
			}

		case flow.ScheduleFlowTimeoutAction:
			ex.Timers.Schedule(act.FlowId, time.Unix(0, act.At))

		case flow.CancelFlowTimeoutAction:
			// Token tracking lives with the worker loop that owns the
			// Service, since Checkpoint carries no timer token; this
			// executor only needs to reach the Service at all, so a
			// no-token Cancel is a safe no-op when nothing was armed.

		case flow.SleepUntilAction:
			ex.Timers.Schedule(act.FlowId, time.Unix(0, act.At))

		case flow.ExecuteAsyncOperationAction:
			ex.AsyncOps.Submit(flowId, act.DedupId, act.Operation)

		case flow.TrackTransactionAction:
			// Diagnostics-only registry, not yet backed by a collaborator
			// in this executor; safe to no-op.

		case flow.ReleaseSoftLocksAction:
			// Soft locks are a recovery-path concept with no collaborator
			// wired in this executor; safe to no-op until
			// RecoverStuckFlows needs one.

		case flow.RemoveSessionBindingsAction:
			// Session-to-flow routing lives in the worker's subscription
			// table, not in a store collaborator; handled by the caller.

		case flow.RemoveFlowAction:
			if clientId := act.FinalState.InvocationContext.ClientId; clientId != "" && ex.Results != nil {
				if err := ex.Results.SaveResult(ctx, clientId, act.Outcome); err != nil {
					return fmt.Errorf("engine: save result for %s: %w", act.Id, err)
				}
			}

		case flow.RetryFlowFromSafePointAction:
			// Nothing to execute: the caller replays act.LastState through
			// the transition function again; this action only documents
			// the intent to do so.

		case flow.RetryEventAfterAction:
			ex.RetryDue() // ensure initialized
			delay := time.Until(time.Unix(0, act.At))
			time.AfterFunc(delay, func() {
				ex.retryDue <- act
			})

		default:
			return fmt.Errorf("engine: unrecognized action %T", a)
		}
	}

	return nil
}

// commit flushes a transaction's pending checkpoint write and dedup
// facts, then acknowledges deliveries. Acknowledgement happens last and
// only here, so a crash between a durable write and an ack simply
// causes a redundant redelivery that dedup will suppress.
//
// When both a checkpoint and dedup facts are pending in the same
// transaction, the facts ride inside the checkpoint's
// PendingDeduplicationFacts field so CheckpointStore.Upsert writes both
// atomically — a crash between two separate writes would otherwise
// leave the checkpoint durably advanced past a message whose delivery
// was never recorded. Dedup facts pending without a checkpoint change
// (an ack for a delivery that didn't mutate flow state) have no
// checkpoint write to ride, so they go through DedupStore directly;
// nothing else in that commit depends on them landing atomically with
// anything.
func (ex *Executor) commit(ctx context.Context, tx *inTransaction) error {
	switch {
	case tx.pendingCheckpoint != nil:
		cp := *tx.pendingCheckpoint
		cp.PendingDeduplicationFacts = tx.pendingDedupFacts
		if err := ex.Checkpoints.Upsert(ctx, cp); err != nil {
			return fmt.Errorf("engine: upsert checkpoint %s: %w", cp.Id, err)
		}
	case len(tx.pendingDedupFacts) > 0:
		if err := ex.Dedup.PersistFacts(ctx, tx.pendingDedupFacts); err != nil {
			return fmt.Errorf("engine: persist dedup facts: %w", err)
		}
	}
	for _, h := range tx.toAck {
		if err := ex.Bus.Acknowledge(ctx, h); err != nil {
			return fmt.Errorf("engine: acknowledge delivery: %w", err)
		}
	}
	*tx = inTransaction{}
	return nil
}
