package engine

import "github.com/flowmesh/flowmesh/pkg/flow"

// transitionBuilder accumulates the checkpoint mutation and action list
// that make up one TransitionResult. Grounded on the inline
// inst.Status/inst.Err/actions bookkeeping the prior synchronous engine
// threaded through executeSteps by hand; generalized here into a small
// accumulator so transition.go and transition_error.go don't repeat the
// same wiring.
type transitionBuilder struct {
	cp      flow.Checkpoint
	actions []flow.Action
	cont    flow.Continuation
}

func newTransitionBuilder(prev flow.Checkpoint) *transitionBuilder {
	return &transitionBuilder{cp: prev.Clone()}
}

func (b *transitionBuilder) withTransaction() *transitionBuilder {
	b.actions = append(b.actions, flow.CreateTransactionAction{})
	return b
}

func (b *transitionBuilder) commit() *transitionBuilder {
	b.actions = append(b.actions, flow.CommitTransactionAction{})
	return b
}

func (b *transitionBuilder) persist(isUpdate bool) *transitionBuilder {
	b.actions = append(b.actions, flow.PersistCheckpointAction{
		Id:         b.cp.Id,
		Checkpoint: b.cp,
		IsUpdate:   isUpdate,
	})
	return b
}

func (b *transitionBuilder) ack(handlers []flow.DedupHandler) *transitionBuilder {
	if len(handlers) == 0 {
		return b
	}
	b.actions = append(b.actions, flow.PersistDeduplicationFactsAction{Handlers: handlers})
	b.actions = append(b.actions, flow.AcknowledgeMessagesAction{Handlers: handlers})
	return b
}

func (b *transitionBuilder) action(a flow.Action) *transitionBuilder {
	b.actions = append(b.actions, a)
	return b
}

func (b *transitionBuilder) actionsFrom(as []flow.Action) *transitionBuilder {
	b.actions = append(b.actions, as...)
	return b
}

func (b *transitionBuilder) resume(value any) *transitionBuilder {
	b.cont = flow.Resume(value)
	return b
}

func (b *transitionBuilder) resumeError(err error) *transitionBuilder {
	b.cont = flow.ResumeError(err)
	return b
}

func (b *transitionBuilder) processEvents() *transitionBuilder {
	b.cont = flow.ProcessEvents()
	return b
}

func (b *transitionBuilder) abort() *transitionBuilder {
	b.cont = flow.Abort()
	return b
}

func (b *transitionBuilder) result() flow.TransitionResult {
	return flow.TransitionResult{
		Checkpoint:   b.cp,
		Actions:      b.actions,
		Continuation: b.cont,
	}
}

// bumpCommits advances the optimistic-concurrency counter; every
// successful transition that persists must call this exactly once.
func (b *transitionBuilder) bumpCommits() *transitionBuilder {
	b.cp.CheckpointState.NumCommits++
	return b
}
