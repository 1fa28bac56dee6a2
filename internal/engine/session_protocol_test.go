package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// singleSession extracts the lone SessionId off a checkpoint suspended at
// a session-awaiting step, failing the test if there isn't exactly one.
func singleSession(t *testing.T, cp *flow.Checkpoint) flow.SessionId {
	t.Helper()
	if len(cp.CheckpointState.Sessions) != 1 {
		t.Fatalf("expected exactly one session, got %d", len(cp.CheckpointState.Sessions))
	}
	for id := range cp.CheckpointState.Sessions {
		return id
	}
	panic("unreachable")
}

func TestSessionHandshake_ConfirmThenDataResumesSendAndReceive(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := flow.FlowDefinition{
		Name: "pinger",
		Steps: []flow.StepDefinition{
			{Name: "ping", Fn: func(ctx context.Context, fc flow.FiberContext, input any) (any, error) {
				sid, err := fc.InitiateSession("bob", "ponger", "ping")
				if err != nil {
					return nil, err
				}
				return fc.SendAndReceive(sid, "ping-data")
			}},
		},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	cp, err := eng.Start(ctx, "pinger", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if cp.Status.Terminal() {
		t.Fatalf("expected the flow to suspend awaiting bob's reply, got terminal status %v", cp.Status)
	}
	sid := singleSession(t, cp)

	st := cp.CheckpointState.Sessions[sid]
	if st.Kind != flow.SessionInitiating {
		t.Fatalf("expected the session to still be Initiating before the confirm arrives, got %v", st.Kind)
	}
	if len(st.BufferedMessages) != 1 {
		t.Fatalf("expected the send-and-receive's send to be buffered, got %d buffered messages", len(st.BufferedMessages))
	}

	// Confirm arrives: the session flips to Initiated and its buffered
	// send is flushed, but the step is still awaiting the actual reply.
	cp, err = eng.DeliverMessage(ctx, cp.Id, flow.MessageReceivedEvent{
		SessionId:     sid,
		Kind:          flow.PayloadConfirmSession,
		PeerSessionId: flow.NewSessionId(),
		PeerParty:     "bob",
	})
	if err != nil {
		t.Fatalf("DeliverMessage(confirm) failed: %v", err)
	}
	if cp.Status.Terminal() {
		t.Fatalf("expected the flow to still be suspended after only a confirm, got terminal status %v", cp.Status)
	}
	if cp.CheckpointState.Sessions[sid].Kind != flow.SessionInitiated {
		t.Fatalf("expected the session to be Initiated after the confirm, got %v", cp.CheckpointState.Sessions[sid].Kind)
	}

	// The actual data reply now resumes the suspended step.
	cp, err = eng.DeliverMessage(ctx, cp.Id, flow.MessageReceivedEvent{
		SessionId: sid,
		Kind:      flow.PayloadData,
		Seq:       0,
		Payload:   "pong",
	})
	if err != nil {
		t.Fatalf("DeliverMessage(data) failed: %v", err)
	}
	if cp.Status != flow.StatusCompleted {
		t.Fatalf("expected StatusCompleted once the reply arrives, got %v", cp.Status)
	}
}

func TestSessionHandshake_DuplicateDataDeliveryAfterFinishFailsLookup(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := flow.FlowDefinition{
		Name: "receiver",
		Steps: []flow.StepDefinition{
			{Name: "wait", Fn: func(ctx context.Context, fc flow.FiberContext, input any) (any, error) {
				sid, err := fc.InitiateSession("bob", "echo", nil)
				if err != nil {
					return nil, err
				}
				return fc.Receive(sid)
			}},
		},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	cp, err := eng.Start(ctx, "receiver", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sid := singleSession(t, cp)

	cp, err = eng.DeliverMessage(ctx, cp.Id, flow.MessageReceivedEvent{
		SessionId:     sid,
		Kind:          flow.PayloadConfirmSession,
		PeerSessionId: flow.NewSessionId(),
		PeerParty:     "bob",
	})
	if err != nil {
		t.Fatalf("DeliverMessage(confirm) failed: %v", err)
	}

	cp, err = eng.DeliverMessage(ctx, cp.Id, flow.MessageReceivedEvent{
		SessionId: sid, Kind: flow.PayloadData, Seq: 0, Payload: "hello",
	})
	if err != nil {
		t.Fatalf("DeliverMessage(data) failed: %v", err)
	}
	if cp.Status != flow.StatusCompleted {
		t.Fatalf("expected StatusCompleted after the first data delivery, got %v", cp.Status)
	}

	// The flow has already finished and been removed; redelivering the
	// same sequence number fails the checkpoint lookup with a not-found
	// error instead of resurrecting the flow.
	if _, err := eng.DeliverMessage(ctx, cp.Id, flow.MessageReceivedEvent{
		SessionId: sid, Kind: flow.PayloadData, Seq: 0, Payload: "hello",
	}); err == nil {
		t.Fatalf("expected redelivery to a removed checkpoint to fail with a not-found error")
	}
}

func TestSessionProtocol_PeerErrorPropagatesAndFinishesFailed(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := flow.FlowDefinition{
		Name: "waits-on-peer",
		Steps: []flow.StepDefinition{
			{Name: "wait", Fn: func(ctx context.Context, fc flow.FiberContext, input any) (any, error) {
				sid, err := fc.InitiateSession("bob", "echo", nil)
				if err != nil {
					return nil, err
				}
				return fc.Receive(sid)
			}},
		},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	cp, err := eng.Start(ctx, "waits-on-peer", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sid := singleSession(t, cp)

	cp, err = eng.DeliverMessage(ctx, cp.Id, flow.MessageReceivedEvent{
		SessionId:      sid,
		Kind:           flow.PayloadErrorMessage,
		ErrorException: errors.New("bob blew up"),
	})
	if err != nil {
		t.Fatalf("DeliverMessage(error) failed: %v", err)
	}
	if cp.Status != flow.StatusFailed {
		t.Fatalf("expected StatusFailed once the peer's error is recorded, got %v", cp.Status)
	}

	if _, err := eng.GetCheckpoint(ctx, cp.Id); err == nil {
		t.Fatalf("expected the checkpoint to have been removed after the error finish")
	}
}

func TestSessionProtocol_InitiatingSessionErrorRejectsInsteadOfBuffering(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := flow.FlowDefinition{
		Name: "unreachable-peer",
		Steps: []flow.StepDefinition{
			{Name: "wait", Fn: func(ctx context.Context, fc flow.FiberContext, input any) (any, error) {
				sid, err := fc.InitiateSession("bob", "echo", nil)
				if err != nil {
					return nil, err
				}
				return fc.Receive(sid)
			}},
		},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}

	cp, err := eng.Start(ctx, "unreachable-peer", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	sid := singleSession(t, cp)
	if cp.CheckpointState.Sessions[sid].Kind != flow.SessionInitiating {
		t.Fatalf("expected the session to still be Initiating, got %v", cp.CheckpointState.Sessions[sid].Kind)
	}

	// A local collaborator (e.g. the bus) gives up on ever reaching bob:
	// there is no peer to mark errored, only a rejection to record.
	cp, err = eng.dispatchById(ctx, cp.Id, flow.SessionErrorEvent{
		SessionId: sid,
		Cause:     errors.New("bob unreachable"),
	})
	if err != nil {
		t.Fatalf("dispatchById(SessionErrorEvent) failed: %v", err)
	}
	if cp.Status != flow.StatusFailed {
		t.Fatalf("expected StatusFailed once the unreachable destination is recorded, got %v", cp.Status)
	}

	if _, err := eng.GetCheckpoint(ctx, cp.Id); err == nil {
		t.Fatalf("expected the checkpoint to have been removed after the error finish")
	}
}

func TestSessionProtocol_MessageAgainstAnAlreadyRemovedFlowFailsLookup(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	def := flow.FlowDefinition{
		Name: "lonely",
		Steps: []flow.StepDefinition{
			{Name: "s", Fn: func(ctx context.Context, fc flow.FiberContext, input any) (any, error) {
				return "done", nil
			}},
		},
	}
	if err := eng.RegisterFlow(def); err != nil {
		t.Fatalf("RegisterFlow failed: %v", err)
	}
	cp, err := eng.Start(ctx, "lonely", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if cp.Status != flow.StatusCompleted {
		t.Fatalf("expected the flow to complete immediately, got %v", cp.Status)
	}

	// The flow has already completed and been removed from the store, so
	// delivering anything against its id fails lookup entirely rather
	// than reaching the unknown-session branch.
	if _, err := eng.DeliverMessage(ctx, cp.Id, flow.MessageReceivedEvent{
		SessionId: flow.NewSessionId(), Kind: flow.PayloadData,
	}); err == nil {
		t.Fatalf("expected delivering to an already-removed flow to fail")
	}
}
