package engine

import (
	"github.com/flowmesh/flowmesh/internal/session"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// recordError appends cause to the checkpoint's error state and decides,
// without waiting for the hospital, whether it can be dealt with here: a
// plain or *flow.FlowException error is a normal business failure and is
// propagated to peers immediately, while an *flow.InternalException or
// *flow.HospitalizeFlowException always waits for the hospital's verdict.
func recordError(b *transitionBuilder, def flow.FlowDefinition, cause error) flow.TransitionResult {
	errorId := uint64(len(b.cp.ErrorState.Errors))
	b.cp.ErrorState.Kind = flow.ErrorErrored
	b.cp.ErrorState.Errors = append(b.cp.ErrorState.Errors, flow.FlowError{ErrorId: errorId, Exception: cause})

	if _, internal := flow.IsInternalException(cause); internal {
		return hospitalize(b)
	}
	if _, forced := flow.IsHospitalizeError(cause); forced {
		return hospitalize(b)
	}

	return propagateAndFinish(b)
}

func hospitalize(b *transitionBuilder) flow.TransitionResult {
	b.cp.Status = flow.StatusHospitalized
	b.persist(true).bumpCommits().commit()
	b.processEvents()
	return b.result()
}

// handleStartErrorPropagation is the hospital's "propagate" verdict: the
// checkpoint already carries one or more recorded errors, and it is time
// to tell every live session about them.
func handleStartErrorPropagation(prev flow.Checkpoint) flow.TransitionResult {
	b := newTransitionBuilder(prev).withTransaction()
	if prev.ErrorState.Kind != flow.ErrorErrored {
		b.commit()
		b.processEvents()
		return b.result()
	}
	return propagateAndFinish(b)
}

// propagateAndFinish emits an ErrorSessionMessage to every session that
// hasn't already seen this flow's errors, then removes the flow with an
// ErrorFinish outcome. Corda's flow state machine keeps a flow alive
// mid-propagation to let already-Initiating sessions reject cleanly
// first; this implementation folds that into a single transition since
// initiation and propagation share one commit boundary here.
func propagateAndFinish(b *transitionBuilder) flow.TransitionResult {
	errs := b.cp.ErrorState.Errors
	newErrors := errs[b.cp.ErrorState.PropagatedIndex:]

	if len(newErrors) > 0 {
		var messages []flow.ErrorSessionMessage
		var destinations []string
		var dedups []flow.DedupId

		for id, st := range b.cp.CheckpointState.Sessions {
			switch st.Kind {
			case flow.SessionInitiated:
				if st.OtherSideErrored || st.OtherSideClosed {
					continue
				}
				for _, fe := range newErrors {
					var fex *flow.FlowException
					if cast, ok := flow.IsFlowException(fe.Exception); ok {
						fex = cast
					} else {
						fex = flow.NewFlowException(fe.Exception.Error())
					}
					messages = append(messages, flow.ErrorSessionMessage{
						RecipientSessionId: st.PeerSessionId,
						FlowException:      fex,
						ErrorId:            fe.ErrorId,
					})
					destinations = append(destinations, st.PeerParty)
					dedups = append(dedups, flow.NewErrorDedupId(fe.ErrorId, id))
				}
			case flow.SessionInitiating:
				if st.RejectionError != nil {
					// Already rejected (e.g. its destination was found
					// unreachable during initiation): only sessions
					// lacking a rejection_error get a buffered error
					// message prepended, since there is nowhere left to
					// deliver one to.
					continue
				}
				for _, fe := range newErrors {
					fex := flow.NewFlowException(fe.Exception.Error())
					dedup := flow.NewErrorDedupId(fe.ErrorId, id)
					b.cp.CheckpointState.Sessions[id] = session.PrependError(b.cp.CheckpointState.Sessions[id], flow.BufferedMessage{
						Dedup:   dedup,
						Payload: fex,
					})
				}
			}
		}

		if len(messages) > 0 {
			b.action(flow.PropagateErrorsAction{
				Messages:     messages,
				Destinations: destinations,
				Dedups:       dedups,
				SenderUUID:   b.cp.Id,
			})
		}
		b.cp.ErrorState.PropagatedIndex = uint32(len(errs))
		b.cp.ErrorState.Propagating = true
	}

	return finishFlow(b, flow.OutcomeErrorFinish, nil, errs)
}

// finishFlow moves the checkpoint into its terminal state and emits the
// cleanup actions common to every flow ending, successfully or not.
func finishFlow(b *transitionBuilder, kind flow.FlowOutcomeKind, value any, errs []flow.FlowError) flow.TransitionResult {
	b.cp.FlowState = flow.FlowState{Kind: flow.FlowFinished}
	if kind == flow.OutcomeOrderlyFinish {
		b.cp.Status = flow.StatusCompleted
	} else {
		b.cp.Status = flow.StatusFailed
	}

	liveSessions := make([]flow.SessionId, 0, len(b.cp.CheckpointState.Sessions))
	for id := range b.cp.CheckpointState.Sessions {
		liveSessions = append(liveSessions, id)
	}

	outcome := flow.FlowOutcome{Kind: kind, Value: value, Errors: errs}

	b.action(flow.CancelFlowTimeoutAction{FlowId: b.cp.Id})
	b.action(flow.ReleaseSoftLocksAction{FlowUUID: b.cp.Id})
	if len(liveSessions) > 0 {
		b.action(flow.RemoveSessionBindingsAction{Sessions: liveSessions})
	}
	b.action(flow.RemoveCheckpointAction{
		Id:                       b.cp.Id,
		MayHavePersistentResults: b.cp.InvocationContext.ClientId != "",
	})
	b.action(flow.RemoveFlowAction{
		Id:         b.cp.Id,
		Outcome:    outcome,
		FinalState: b.cp,
	})
	b.bumpCommits().commit()
	b.resume(value)
	return b.result()
}

// killFlow is the hospital's VerdictKill path: terminate without
// attempting propagation, distinct from finishFlow's ErrorFinish in that
// the resulting status is StatusKilled rather than StatusFailed.
func killFlow(b *transitionBuilder, cause error) flow.TransitionResult {
	errorId := uint64(len(b.cp.ErrorState.Errors))
	errs := append(b.cp.ErrorState.Errors, flow.FlowError{ErrorId: errorId, Exception: cause})

	res := finishFlow(b, flow.OutcomeErrorFinish, nil, errs)
	res.Checkpoint.Status = flow.StatusKilled
	for i, a := range res.Actions {
		if rf, ok := a.(flow.RemoveFlowAction); ok {
			rf.FinalState.Status = flow.StatusKilled
			res.Actions[i] = rf
		}
	}
	return res
}

// handleRetryFromSafePoint asks the executor to roll back any in-flight
// transaction and replay from the last checkpoint that was actually
// committed — which is prev itself, since a transition function only
// ever observes committed state.
func handleRetryFromSafePoint(prev flow.Checkpoint, ev flow.RetryFromSafePointEvent) flow.TransitionResult {
	return flow.TransitionResult{
		Checkpoint: prev,
		Actions: []flow.Action{
			flow.RollbackTransactionAction{},
			flow.RetryFlowFromSafePointAction{LastState: prev},
		},
		Continuation: flow.Abort(),
	}
}
