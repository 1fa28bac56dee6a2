package bus

import (
	"context"
	"testing"
	"time"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

func TestInMemoryBus_SubscribeThenSendDelivers(t *testing.T) {
	b := NewInMemoryBus(0)
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, "bob")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	dedup := flow.NewNormalDedupId(flow.NewFlowId(), 1, 0)
	if err := b.Send(ctx, "bob", "hello", dedup); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case in := <-ch:
		if in.Destination != "bob" || in.Message != "hello" || in.Dedup != dedup {
			t.Fatalf("unexpected delivery: %+v", in)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for delivery")
	}
}

func TestInMemoryBus_SendWithNoSubscriberIsDropped(t *testing.T) {
	b := NewInMemoryBus(0)
	ctx := context.Background()

	dedup := flow.NewNormalDedupId(flow.NewFlowId(), 1, 0)
	if err := b.Send(ctx, "nobody-home", "hello", dedup); err != nil {
		t.Fatalf("expected Send to an unsubscribed destination to be a silent no-op, got: %v", err)
	}
}

func TestInMemoryBus_DuplicateSendIsSuppressed(t *testing.T) {
	b := NewInMemoryBus(0)
	ctx := context.Background()

	ch, _ := b.Subscribe(ctx, "bob")
	dedup := flow.NewNormalDedupId(flow.NewFlowId(), 1, 0)

	if err := b.Send(ctx, "bob", "first", dedup); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}
	if err := b.Send(ctx, "bob", "duplicate", dedup); err != nil {
		t.Fatalf("duplicate Send failed: %v", err)
	}

	select {
	case in := <-ch:
		if in.Message != "first" {
			t.Fatalf("expected to receive only the first delivery, got %v", in.Message)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the first delivery")
	}

	select {
	case in := <-ch:
		t.Fatalf("did not expect a second delivery for a duplicate DedupId, got %+v", in)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryBus_SendPreservesPerDestinationOrder(t *testing.T) {
	b := NewInMemoryBus(0)
	ctx := context.Background()

	ch, _ := b.Subscribe(ctx, "bob")
	sender := flow.NewFlowId()
	for i := uint64(0); i < 5; i++ {
		dedup := flow.NewNormalDedupId(sender, 1, i)
		if err := b.Send(ctx, "bob", i, dedup); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	for want := uint64(0); want < 5; want++ {
		select {
		case in := <-ch:
			if in.Message != want {
				t.Fatalf("expected message %d in order, got %v", want, in.Message)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", want)
		}
	}
}

func TestInMemoryBus_SubscribeTwiceReplacesPreviousChannel(t *testing.T) {
	b := NewInMemoryBus(0)
	ctx := context.Background()

	first, _ := b.Subscribe(ctx, "bob")
	second, _ := b.Subscribe(ctx, "bob")

	dedup := flow.NewNormalDedupId(flow.NewFlowId(), 1, 0)
	if err := b.Send(ctx, "bob", "hello", dedup); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case <-first:
		t.Fatalf("did not expect the replaced channel to receive anything")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case in := <-second:
		if in.Message != "hello" {
			t.Fatalf("unexpected message on the active channel: %v", in.Message)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for delivery on the active channel")
	}
}

func TestInMemoryBus_AcknowledgeIsIdempotentAndRecorded(t *testing.T) {
	b := NewInMemoryBus(0)
	ctx := context.Background()

	dedup := flow.NewNormalDedupId(flow.NewFlowId(), 1, 0)
	if b.Acked(dedup) {
		t.Fatalf("expected id to be unacked before Acknowledge is called")
	}

	h := NewDedupHandler(dedup)
	if err := b.Acknowledge(ctx, h); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if !b.Acked(dedup) {
		t.Fatalf("expected id to be acked after Acknowledge")
	}

	// Acking again, or acking an id the bus has never seen, must not error.
	if err := b.Acknowledge(ctx, h); err != nil {
		t.Fatalf("re-acking an already-acked handler must not error: %v", err)
	}
	unknown := NewDedupHandler(flow.NewNormalDedupId(flow.NewFlowId(), 2, 0))
	if err := b.Acknowledge(ctx, unknown); err != nil {
		t.Fatalf("acking an unknown handler must not error: %v", err)
	}
}

func TestInMemoryBus_SendRespectsContextCancellationWhenChannelFull(t *testing.T) {
	b := NewInMemoryBus(1)
	ctx := context.Background()

	if _, err := b.Subscribe(ctx, "bob"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sender := flow.NewFlowId()
	// Fill the single-slot buffer.
	if err := b.Send(ctx, "bob", "first", flow.NewNormalDedupId(sender, 1, 0)); err != nil {
		t.Fatalf("first Send failed: %v", err)
	}

	sendCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Send(sendCtx, "bob", "second", flow.NewNormalDedupId(sender, 1, 1))
	if err == nil {
		t.Fatalf("expected Send to report the cancellation once the buffer is full")
	}
}
