package flow

import "testing"

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusKilled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %v to be terminal", s)
		}
	}

	nonTerminal := []Status{StatusRunnable, StatusHospitalized, StatusPaused}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Fatalf("expected %v to not be terminal", s)
		}
	}
}

func TestSessionState_CloneDoesNotAliasSlicesOrRejectionError(t *testing.T) {
	original := SessionState{
		Kind:             SessionInitiating,
		BufferedMessages: []BufferedMessage{{Payload: "a"}},
		RejectionError:   &FlowError{ErrorId: 1},
	}

	clone := original.Clone()
	clone.BufferedMessages[0].Payload = "mutated"
	clone.RejectionError.ErrorId = 99

	if original.BufferedMessages[0].Payload != "a" {
		t.Fatalf("expected original BufferedMessages to be unaffected by mutating the clone")
	}
	if original.RejectionError.ErrorId != 1 {
		t.Fatalf("expected original RejectionError to be unaffected by mutating the clone")
	}
}

func TestSessionState_CloneOfNilSlicesStaysNil(t *testing.T) {
	clone := SessionState{}.Clone()
	if clone.BufferedMessages != nil || clone.ReceivedMessages != nil || clone.RejectionError != nil {
		t.Fatalf("expected Clone of a zero-value SessionState to keep nil fields nil, got %+v", clone)
	}
}

func TestErrorState_CloneDoesNotAliasErrorsSlice(t *testing.T) {
	original := ErrorState{Kind: ErrorErrored, Errors: []FlowError{{ErrorId: 1}}}
	clone := original.Clone()
	clone.Errors[0].ErrorId = 99

	if original.Errors[0].ErrorId != 1 {
		t.Fatalf("expected original Errors to be unaffected by mutating the clone")
	}
}

func TestCheckpointState_CloneDeepCopiesSessionTable(t *testing.T) {
	sid := NewSessionId()
	original := CheckpointState{
		Sessions: map[SessionId]SessionState{
			sid: {Kind: SessionInitiating, BufferedMessages: []BufferedMessage{{Payload: "a"}}},
		},
	}

	clone := original.Clone()
	mutated := clone.Sessions[sid]
	mutated.BufferedMessages[0].Payload = "mutated"
	clone.Sessions[sid] = mutated

	if original.Sessions[sid].BufferedMessages[0].Payload != "a" {
		t.Fatalf("expected original session table to be unaffected by mutating the clone")
	}
}

func TestCheckpoint_CloneDeepCopiesFrozenCallStackAndPendingFacts(t *testing.T) {
	original := Checkpoint{
		FlowState: FlowState{
			FrozenCallStack: map[int]any{0: "first"},
			Suspension:      SuspensionReason{AwaitingSessions: []SessionId{1}},
		},
		PendingDeduplicationFacts: []DedupId{{Seq: 1}},
	}

	clone := original.Clone()
	clone.FlowState.FrozenCallStack[0] = "mutated"
	clone.FlowState.Suspension.AwaitingSessions[0] = 2
	clone.PendingDeduplicationFacts[0] = DedupId{Seq: 99}

	if original.FlowState.FrozenCallStack[0] != "first" {
		t.Fatalf("expected original FrozenCallStack to be unaffected by mutating the clone")
	}
	if original.FlowState.Suspension.AwaitingSessions[0] != 1 {
		t.Fatalf("expected original AwaitingSessions to be unaffected by mutating the clone")
	}
	if original.PendingDeduplicationFacts[0].Seq != 1 {
		t.Fatalf("expected original PendingDeduplicationFacts to be unaffected by mutating the clone")
	}
}

func TestCheckpoint_CloneOfZeroValueHasNoNilPanics(t *testing.T) {
	clone := Checkpoint{}.Clone()
	if clone.FlowState.FrozenCallStack != nil {
		t.Fatalf("expected a nil FrozenCallStack to stay nil after Clone")
	}
	if len(clone.FlowState.Suspension.AwaitingSessions) != 0 {
		t.Fatalf("expected empty AwaitingSessions after cloning a zero-value Checkpoint")
	}
}
