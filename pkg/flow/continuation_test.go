package flow

import "testing"

func TestTransitionResult_CarriesCheckpointActionsAndContinuation(t *testing.T) {
	cp := Checkpoint{Id: NewFlowId()}
	action := RemoveCheckpointAction{}

	result := TransitionResult{
		Checkpoint:   cp,
		Actions:      []Action{action},
		Continuation: Resume("done"),
	}

	if result.Checkpoint.Id != cp.Id {
		t.Fatalf("expected the checkpoint to be carried through unchanged")
	}
	if len(result.Actions) != 1 {
		t.Fatalf("expected exactly one action, got %d", len(result.Actions))
	}
	if result.Continuation.Kind != ContinuationResume || result.Continuation.Value != "done" {
		t.Fatalf("unexpected continuation: %+v", result.Continuation)
	}
}
