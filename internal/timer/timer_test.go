package timer

import (
	"testing"
	"time"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

func TestInMemoryService_ScheduleFiresAfterInstant(t *testing.T) {
	s := NewInMemoryService(0)
	id := flow.NewFlowId()

	tok := s.Schedule(id, time.Now().Add(10*time.Millisecond))

	select {
	case f := <-s.Fired():
		if f.FlowId != id || f.Token != tok {
			t.Fatalf("unexpected Fired: %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the timer to fire")
	}
}

func TestInMemoryService_SchedulePastInstantFiresImmediately(t *testing.T) {
	s := NewInMemoryService(0)
	id := flow.NewFlowId()

	s.Schedule(id, time.Now().Add(-time.Hour))

	select {
	case f := <-s.Fired():
		if f.FlowId != id {
			t.Fatalf("unexpected Fired: %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for a past-instant timer to fire")
	}
}

func TestInMemoryService_RescheduleReplacesThePreviousTimer(t *testing.T) {
	s := NewInMemoryService(0)
	id := flow.NewFlowId()

	s.Schedule(id, time.Now().Add(time.Hour))
	secondTok := s.Schedule(id, time.Now().Add(5*time.Millisecond))

	select {
	case f := <-s.Fired():
		if f.Token != secondTok {
			t.Fatalf("expected the second scheduling's token to fire, got %v", f.Token)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the rescheduled timer to fire")
	}

	select {
	case f := <-s.Fired():
		t.Fatalf("did not expect the superseded first timer to also fire: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryService_CancelPreventsFiring(t *testing.T) {
	s := NewInMemoryService(0)
	id := flow.NewFlowId()

	tok := s.Schedule(id, time.Now().Add(10*time.Millisecond))
	s.Cancel(tok)

	select {
	case f := <-s.Fired():
		t.Fatalf("did not expect a cancelled timer to fire: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryService_CancelOfUnknownTokenIsNoop(t *testing.T) {
	s := NewInMemoryService(0)
	s.Cancel(Token(999))
}
