// Package engine implements the pure transition function, the action
// executor, and the fiber-scheduler that drives a flow's step list
// deterministically to its next suspension point or terminal outcome.
// Grounded on internal/engine/engine_impl.go's executeSteps loop from
// the prior synchronous implementation, reworked so the step loop only
// ever produces data (a checkpoint and an action list) rather than
// performing I/O directly.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowmesh/flowmesh/internal/session"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

const retryAttemptKey = -1

// NewTransition returns the flow.TransitionFunc for def. Each
// FlowDefinition gets its own closure since the transition function
// needs the step list to know what to run; subFlows is the only piece
// of external state it closes over, and only so SubFlow suspension
// points have something to submit their child-flow dispatch to.
func NewTransition(def flow.FlowDefinition, subFlows SubFlowRunner) flow.TransitionFunc {
	return func(prev flow.Checkpoint, ev flow.Event) flow.TransitionResult {
		return dispatch(def, prev, ev, subFlows)
	}
}

func dispatch(def flow.FlowDefinition, prev flow.Checkpoint, ev flow.Event, subFlows SubFlowRunner) flow.TransitionResult {
	switch e := ev.(type) {
	case flow.StartEvent:
		return handleStart(def, prev, subFlows)
	case flow.MessageReceivedEvent:
		return handleMessageReceived(def, prev, e, subFlows)
	case flow.SessionErrorEvent:
		return handleSessionError(def, prev, e)
	case flow.TimeoutEvent:
		return handleTimeout(def, prev, subFlows)
	case flow.AsyncOpCompletedEvent:
		return handleAsyncOpCompleted(def, prev, e, subFlows)
	case flow.RetryFromSafePointEvent:
		return handleRetryFromSafePoint(prev, e)
	case flow.SoftShutdownEvent:
		return handleSoftShutdown(prev)
	case flow.StartErrorPropagationEvent:
		return handleStartErrorPropagation(prev)
	case flow.DeliverSessionEndedEvent:
		return handleSessionEnded(def, prev, e, subFlows)
	case flow.InitiateFlowEvent:
		return handleInitiateFlow(def, prev, e, subFlows)
	default:
		b := newTransitionBuilder(prev)
		return recordError(b, def, flow.NewInternalException(fmt.Errorf("engine: unrecognized event %T", ev)))
	}
}

func handleStart(def flow.FlowDefinition, prev flow.Checkpoint, subFlows SubFlowRunner) flow.TransitionResult {
	if prev.FlowState.Kind != flow.FlowUnstarted {
		b := newTransitionBuilder(prev)
		return recordError(b, def, flow.NewInternalException(fmt.Errorf("engine: Start delivered to a flow already in state %s", prev.FlowState.Kind)))
	}
	b := newTransitionBuilder(prev).withTransaction()
	return driveSteps(b, def, 0, prev.FlowState.Args, subFlows)
}

func handleMessageReceived(def flow.FlowDefinition, prev flow.Checkpoint, ev flow.MessageReceivedEvent, subFlows SubFlowRunner) flow.TransitionResult {
	b := newTransitionBuilder(prev).withTransaction()
	if ev.DedupHandler != nil {
		b.ack([]flow.DedupHandler{ev.DedupHandler})
	}

	st, ok := b.cp.CheckpointState.Sessions[ev.SessionId]
	if !ok {
		return recordError(b, def, flow.NewInternalException(fmt.Errorf("engine: message for unknown session %d", ev.SessionId)))
	}

	switch ev.Kind {
	case flow.PayloadConfirmSession:
		if st.Kind != flow.SessionInitiating {
			b.commit()
			b.processEvents()
			return b.result()
		}
		next, flushed := session.Confirm(st, ev.PeerSessionId, ev.PeerParty)
		b.cp.CheckpointState.Sessions[ev.SessionId] = next
		if len(flushed) > 0 {
			msgs := make([]flow.ExistingSessionMessage, 0, len(flushed))
			dedups := make([]flow.DedupId, 0, len(flushed))
			for _, m := range flushed {
				msgs = append(msgs, flow.ExistingSessionMessage{
					RecipientSessionId: next.PeerSessionId,
					Kind:               flow.ExistingData,
					Payload:            m.Payload,
				})
				dedups = append(dedups, m.Dedup)
			}
			b.action(flow.SendMultipleAction{Destination: next.PeerParty, Messages: msgs, Dedups: dedups})
		}
		return resumeSuspendedStep(b, def, ev.SessionId, nil, subFlows)

	case flow.PayloadData:
		if st.Kind != flow.SessionInitiated {
			b.commit()
			b.processEvents()
			return b.result()
		}
		if session.HasReceived(st, ev.Seq) {
			b.commit()
			b.processEvents()
			return b.result()
		}
		b.cp.CheckpointState.Sessions[ev.SessionId] = session.AppendReceived(st, ev.Seq, ev.Payload)
		return resumeSuspendedStep(b, def, ev.SessionId, ev.Payload, subFlows)

	case flow.PayloadEndMessage:
		b.cp.CheckpointState.Sessions[ev.SessionId] = session.MarkPeerClosed(st)
		return resumeSuspendedStep(b, def, ev.SessionId, flow.EndPayload{}, subFlows)

	case flow.PayloadErrorMessage:
		b.cp.CheckpointState.Sessions[ev.SessionId] = session.MarkPeerErrored(st)
		cause := ev.ErrorException
		if cause == nil {
			cause = fmt.Errorf("engine: peer session %d errored (errorId %d)", ev.SessionId, ev.ErrorId)
		}
		return recordError(b, def, cause)

	default:
		return recordError(b, def, flow.NewInternalException(fmt.Errorf("engine: unrecognized payload kind %q", ev.Kind)))
	}
}

// resumeSuspendedStep re-drives the step the flow is currently parked in
// after new data (result) becomes available for the session that
// suspended it. A nil result means "wake the step but don't feed it a
// call result" — used for confirm/end notifications that only need to
// unblock an AwaitAny suspension.
func resumeSuspendedStep(b *transitionBuilder, def flow.FlowDefinition, sessionId flow.SessionId, result any, subFlows SubFlowRunner) flow.TransitionResult {
	if b.cp.FlowState.Kind != flow.FlowStarted {
		b.commit()
		b.processEvents()
		return b.result()
	}
	sus := b.cp.FlowState.Suspension
	if !awaits(sus, sessionId) {
		b.commit()
		b.processEvents()
		return b.result()
	}

	idx := sus.StepIndex
	var resolved []any
	if raw, ok := b.cp.FlowState.FrozenCallStack[idx]; ok {
		resolved, _ = raw.([]any)
	}
	if result != nil {
		resolved = append(append([]any{}, resolved...), result)
	}
	return driveSteps(b, def, idx, previousStepOutput(b, idx), subFlows, withResolvedOverride(resolved))
}

func awaits(sus flow.SuspensionReason, sessionId flow.SessionId) bool {
	for _, s := range sus.AwaitingSessions {
		if s == sessionId {
			return true
		}
	}
	return len(sus.AwaitingSessions) == 0
}

// previousStepOutput has no durable record of the input a suspended step
// was called with beyond what the step itself recomputes deterministically
// from its own earlier suspension results, so re-entry always replays with
// a nil "fresh call" input; the step function is expected to derive
// whatever it needs from FiberContext calls rather than the input
// parameter once it has suspended at least once.
func previousStepOutput(b *transitionBuilder, idx int) any { return nil }

// withResolvedOverride is a marker consumed by driveSteps to seed its
// resolved cache explicitly rather than reading FrozenCallStack itself,
// used when the caller has already merged in a newly-arrived result.
type withResolvedOverride []any

// handleSessionError reacts to a local collaborator (not a peer)
// declaring a session can no longer proceed. An Initiating session is
// the "destination unreachable during initiation" case SessionErrorEvent
// documents: there is no peer to mark errored, so it gets a
// rejection_error instead, which propagateAndFinish treats the same way
// it treats a session that has already rejected: no buffered error to
// prepend, since there's nowhere left to deliver one to. Any other
// session kind reaching here has a live peer, which MarkPeerErrored
// still fits.
func handleSessionError(def flow.FlowDefinition, prev flow.Checkpoint, ev flow.SessionErrorEvent) flow.TransitionResult {
	b := newTransitionBuilder(prev).withTransaction()
	if st, ok := b.cp.CheckpointState.Sessions[ev.SessionId]; ok {
		errorId := uint64(len(b.cp.ErrorState.Errors))
		switch st.Kind {
		case flow.SessionInitiating:
			b.cp.CheckpointState.Sessions[ev.SessionId] = session.Reject(st, flow.FlowError{ErrorId: errorId, Exception: ev.Cause})
		default:
			b.cp.CheckpointState.Sessions[ev.SessionId] = session.MarkPeerErrored(st)
		}
	}
	return recordError(b, def, ev.Cause)
}

func handleTimeout(def flow.FlowDefinition, prev flow.Checkpoint, subFlows SubFlowRunner) flow.TransitionResult {
	b := newTransitionBuilder(prev).withTransaction()
	if prev.FlowState.Kind != flow.FlowStarted {
		b.commit()
		b.processEvents()
		return b.result()
	}
	idx := prev.FlowState.Suspension.StepIndex
	switch prev.FlowState.Suspension.Kind {
	case "retry_backoff":
		return driveSteps(b, def, idx, nil, subFlows, withResolvedOverride(nil))
	case "sleep":
		return driveSteps(b, def, idx, nil, subFlows, withResolvedOverride(append(copyResolved(prev, idx), true)))
	default:
		b.commit()
		b.processEvents()
		return b.result()
	}
}

// awaitsAsyncOp reports whether kind is a suspension this event can
// resume: "await" for a plain Await call, or "subflow:"-prefixed for a
// SubFlow call — both submit through the same ExecuteAsyncOperationAction
// and resume on the same AsyncOpCompletedEvent.
func awaitsAsyncOp(kind string) bool {
	return kind == "await" || strings.HasPrefix(kind, "subflow:")
}

func handleAsyncOpCompleted(def flow.FlowDefinition, prev flow.Checkpoint, ev flow.AsyncOpCompletedEvent, subFlows SubFlowRunner) flow.TransitionResult {
	b := newTransitionBuilder(prev).withTransaction()
	if prev.FlowState.Kind != flow.FlowStarted || !awaitsAsyncOp(prev.FlowState.Suspension.Kind) {
		b.commit()
		b.processEvents()
		return b.result()
	}
	idx := prev.FlowState.Suspension.StepIndex
	var result any = ev.Result
	if ev.Err != nil {
		result = ev.Err
	}
	resolved := append(copyResolved(prev, idx), result)
	return driveSteps(b, def, idx, nil, subFlows, withResolvedOverride(resolved))
}

func handleSoftShutdown(prev flow.Checkpoint) flow.TransitionResult {
	b := newTransitionBuilder(prev).withTransaction()
	b.cp.Status = flow.StatusPaused
	b.persist(true).bumpCommits().commit()
	b.processEvents()
	return b.result()
}

func handleSessionEnded(def flow.FlowDefinition, prev flow.Checkpoint, ev flow.DeliverSessionEndedEvent, subFlows SubFlowRunner) flow.TransitionResult {
	b := newTransitionBuilder(prev).withTransaction()
	if st, ok := b.cp.CheckpointState.Sessions[ev.SessionId]; ok {
		b.cp.CheckpointState.Sessions[ev.SessionId] = session.MarkPeerClosed(st)
	}
	return resumeSuspendedStep(b, def, ev.SessionId, flow.EndPayload{}, subFlows)
}

func handleInitiateFlow(def flow.FlowDefinition, prev flow.Checkpoint, ev flow.InitiateFlowEvent, subFlows SubFlowRunner) flow.TransitionResult {
	if prev.FlowState.Kind != flow.FlowUnstarted {
		b := newTransitionBuilder(prev)
		return recordError(b, def, flow.NewInternalException(fmt.Errorf("engine: InitiateFlow delivered to a flow already in state %s", prev.FlowState.Kind)))
	}
	b := newTransitionBuilder(prev).withTransaction()
	st := flow.SessionState{
		Kind:          flow.SessionInitiated,
		PeerSessionId: ev.PeerSessionId,
		PeerParty:     ev.PeerParty,
	}
	// Confirm the handshake immediately: the initiator's session sits in
	// SessionInitiating, buffering any outbound sends, until this arrives
	// and carries our own party name back (stamped by the executor, which
	// is the one place that knows it, same as SendInitialAction.SenderParty).
	// Drawing the confirm's sequence number from NextSend keeps it in the
	// same per-session sequence space as every later data send, so it
	// never collides with one.
	st, seq := session.NextSend(st)
	b.cp.CheckpointState.Sessions[ev.PeerSessionId] = st
	b.action(flow.SendExistingAction{
		Destination: ev.PeerParty,
		Message: flow.ExistingSessionMessage{
			RecipientSessionId: ev.PeerSessionId,
			Kind:               flow.ExistingConfirm,
			Payload:            flow.ConfirmPayload{PeerSessionId: ev.PeerSessionId},
		},
		Dedup: flow.NewNormalDedupId(b.cp.Id, ev.PeerSessionId, seq),
	})
	return driveSteps(b, def, 0, ev.Payload, subFlows)
}

func copyResolved(prev flow.Checkpoint, idx int) []any {
	if raw, ok := prev.FlowState.FrozenCallStack[idx]; ok {
		if s, ok := raw.([]any); ok {
			return append([]any{}, s...)
		}
	}
	return nil
}

// driveSteps runs def.Steps starting at idx with input, looping through
// consecutive steps synchronously the way the prior implementation's
// executeSteps did, stopping at the first suspension, error, or the end
// of the step list. override, if non-nil, seeds the resolved-call cache
// for the first step iterated instead of reading it from the checkpoint
// (used when a caller has just merged in a freshly-arrived result).
func driveSteps(b *transitionBuilder, def flow.FlowDefinition, idx int, input any, subFlows SubFlowRunner, override ...withResolvedOverride) flow.TransitionResult {
	resolved := copyResolved(b.cp, idx)
	if len(override) > 0 {
		resolved = []any(override[0])
	}
	cur := input

	for {
		attempt, _ := b.cp.FlowState.FrozenCallStack[retryAttemptKey].(int)

		outcome := runStep(context.Background(), def, idx, cur, resolved, b.cp.CheckpointState.Sessions, b.cp.CheckpointState.NumCommits, b.cp.Id, subFlows)
		if outcome.sessions != nil {
			b.cp.CheckpointState.Sessions = outcome.sessions
		}
		b.actionsFrom(outcome.actions)

		if outcome.suspended != nil {
			all := append(append([]any{}, resolved...), outcome.newResolved...)
			b.cp.FlowState = flow.FlowState{
				Kind:            flow.FlowStarted,
				Suspension:      *outcome.suspended,
				FrozenCallStack: map[int]any{idx: all},
			}
			b.persist(true).bumpCommits().commit()
			b.processEvents()
			return b.result()
		}

		if outcome.err != nil {
			step := def.Steps[idx]
			nextAttempt := attempt + 1
			if delay, retry := backoffFor(step.Retry, nextAttempt); retry {
				b.cp.FlowState = flow.FlowState{
					Kind: flow.FlowStarted,
					Suspension: flow.SuspensionReason{
						StepIndex: idx,
						Kind:      "retry_backoff",
					},
					FrozenCallStack: map[int]any{retryAttemptKey: nextAttempt},
				}
				b.action(flow.SleepUntilAction{FlowId: b.cp.Id, At: delay})
				b.persist(true).bumpCommits().commit()
				b.processEvents()
				return b.result()
			}
			return recordError(b, def, outcome.err)
		}

		idx++
		resolved = nil
		if idx >= len(def.Steps) {
			return finishFlow(b, flow.OutcomeOrderlyFinish, outcome.output, nil)
		}
		cur = outcome.output
	}
}
