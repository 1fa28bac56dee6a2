package asyncop

import (
	"errors"
	"testing"
	"time"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

type fakeOp struct {
	result any
	err    error
}

func (o fakeOp) Run() (any, error) { return o.result, o.err }

func TestInMemoryRunner_SubmitDeliversResult(t *testing.T) {
	r := NewInMemoryRunner(0)
	id := flow.NewFlowId()
	dedup := flow.NewNormalDedupId(id, flow.NewSessionId(), 1)

	r.Submit(id, dedup, fakeOp{result: "done"})

	select {
	case c := <-r.Completions():
		if c.FlowId != id || c.DedupId != dedup || c.Result != "done" || c.Err != nil {
			t.Fatalf("unexpected completion: %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for completion")
	}
}

func TestInMemoryRunner_SubmitDeliversError(t *testing.T) {
	r := NewInMemoryRunner(0)
	id := flow.NewFlowId()
	dedup := flow.NewNormalDedupId(id, flow.NewSessionId(), 1)
	boom := errors.New("boom")

	r.Submit(id, dedup, fakeOp{err: boom})

	select {
	case c := <-r.Completions():
		if c.Err != boom {
			t.Fatalf("expected error %v, got %v", boom, c.Err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for completion")
	}
}

func TestInMemoryRunner_DuplicateSubmitWhileInFlightIsNoop(t *testing.T) {
	r := NewInMemoryRunner(0)
	id := flow.NewFlowId()
	dedup := flow.NewNormalDedupId(id, flow.NewSessionId(), 1)

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := fakeOpFunc(func() (any, error) {
		close(started)
		<-release
		return "first", nil
	})

	r.Submit(id, dedup, blocking)
	<-started

	// A second Submit for the same (id, dedup) while the first is still
	// running must be dropped rather than launching a second goroutine.
	r.Submit(id, dedup, fakeOp{result: "second"})
	close(release)

	select {
	case c := <-r.Completions():
		if c.Result != "first" {
			t.Fatalf("expected only the original submission to complete, got %v", c.Result)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for completion")
	}

	select {
	case c := <-r.Completions():
		t.Fatalf("did not expect a second completion for a duplicate in-flight submission: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryRunner_SameKeyCanBeResubmittedAfterCompletion(t *testing.T) {
	r := NewInMemoryRunner(0)
	id := flow.NewFlowId()
	dedup := flow.NewNormalDedupId(id, flow.NewSessionId(), 1)

	r.Submit(id, dedup, fakeOp{result: "first"})
	<-r.Completions()

	r.Submit(id, dedup, fakeOp{result: "second"})
	select {
	case c := <-r.Completions():
		if c.Result != "second" {
			t.Fatalf("expected the resubmitted operation to run, got %v", c.Result)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the resubmitted completion")
	}
}

type fakeOpFunc func() (any, error)

func (f fakeOpFunc) Run() (any, error) { return f() }
