// Package asyncop implements the async-op runner collaborator:
// submit(flowId, dedupId, op) -> future, whose completion surfaces as an
// AsyncOpCompletedEvent. Grounded on
// internal/taskqueue.Queue's future-like dequeue-then-execute shape,
// generalized to run arbitrary flow.AsyncOperation values rather than
// fixed task payloads.
package asyncop

import (
	"sync"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// Completed is delivered when a submitted operation finishes.
type Completed struct {
	FlowId  flow.FlowId
	DedupId flow.DedupId
	Result  any
	Err     error
}

// Runner is the collaborator that executes AsyncOperations off the
// transition function's synchronous path.
type Runner interface {
	// Submit hands op off for execution. Its completion is delivered on
	// the implementation's completion channel; submitting the same
	// (flowId, dedupId) twice while the first is still in flight is a
	// no-op, mirroring the bus's send-side deduplication.
	Submit(id flow.FlowId, dedupId flow.DedupId, op flow.AsyncOperation)
}

// InMemoryRunner executes each submitted operation on its own goroutine
// and reports completions on a shared channel, suitable for tests and
// the LocalRunner.
type InMemoryRunner struct {
	mu      sync.Mutex
	inFlight map[key]struct{}
	done    chan Completed
}

type key struct {
	id    flow.FlowId
	dedup flow.DedupId
}

// NewInMemoryRunner returns an InMemoryRunner whose completion channel
// has the given buffer length.
func NewInMemoryRunner(bufferLen int) *InMemoryRunner {
	if bufferLen <= 0 {
		bufferLen = 64
	}
	return &InMemoryRunner{
		inFlight: make(map[key]struct{}),
		done:     make(chan Completed, bufferLen),
	}
}

var _ Runner = (*InMemoryRunner)(nil)

// Completions returns the channel AsyncOpCompletedEvents are sourced from.
func (r *InMemoryRunner) Completions() <-chan Completed {
	return r.done
}

func (r *InMemoryRunner) Submit(id flow.FlowId, dedupId flow.DedupId, op flow.AsyncOperation) {
	k := key{id: id, dedup: dedupId}

	r.mu.Lock()
	if _, inFlight := r.inFlight[k]; inFlight {
		r.mu.Unlock()
		return
	}
	r.inFlight[k] = struct{}{}
	r.mu.Unlock()

	go func() {
		result, err := op.Run()

		r.mu.Lock()
		delete(r.inFlight, k)
		r.mu.Unlock()

		r.done <- Completed{FlowId: id, DedupId: dedupId, Result: result, Err: err}
	}()
}
