package flow

import "testing"

func TestFlowId_StringRoundTripsThroughParse(t *testing.T) {
	id := NewFlowId()
	parsed, err := ParseFlowId(id.String())
	if err != nil {
		t.Fatalf("ParseFlowId failed: %v", err)
	}
	if parsed != id {
		t.Fatalf("expected round-tripped id to equal the original, got %v vs %v", parsed, id)
	}
}

func TestParseFlowId_RejectsGarbage(t *testing.T) {
	if _, err := ParseFlowId("not-a-uuid"); err == nil {
		t.Fatalf("expected an error parsing a non-UUID string")
	}
}

func TestNewFlowId_IsUnique(t *testing.T) {
	if NewFlowId() == NewFlowId() {
		t.Fatalf("expected two freshly-allocated FlowIds to differ")
	}
}

func TestNewSessionId_NeverZero(t *testing.T) {
	for i := 0; i < 1000; i++ {
		if NewSessionId() == 0 {
			t.Fatalf("expected NewSessionId to never return the zero value")
		}
	}
}

func TestNewSessionId_IsUnique(t *testing.T) {
	if NewSessionId() == NewSessionId() {
		t.Fatalf("expected two freshly-allocated SessionIds to differ")
	}
}

func TestNewNormalDedupId(t *testing.T) {
	sender := NewFlowId()
	session := NewSessionId()
	id := NewNormalDedupId(sender, session, 3)

	if id.Sender != sender || id.Session != session || id.Seq != 3 || id.Kind != DedupNormal {
		t.Fatalf("unexpected dedup id: %+v", id)
	}
}

func TestNewErrorDedupId(t *testing.T) {
	session := NewSessionId()
	id := NewErrorDedupId(42, session)

	if id.Seq != 42 || id.Session != session || id.Kind != DedupError {
		t.Fatalf("unexpected dedup id: %+v", id)
	}
}

func TestDedupId_NormalAndErrorNeverCollide(t *testing.T) {
	sender := NewFlowId()
	session := NewSessionId()

	normal := NewNormalDedupId(sender, session, 7)
	// An error id sharing the same numeric Seq/Session as the normal id
	// above must still compare unequal, since Kind distinguishes them.
	errDedup := DedupId{Sender: sender, Seq: 7, Session: session, Kind: DedupError}

	if normal == errDedup {
		t.Fatalf("expected a normal and an error DedupId with the same numeric fields to differ by Kind")
	}
}

func TestDedupId_StringDistinguishesKinds(t *testing.T) {
	sender := NewFlowId()
	session := NewSessionId()

	normal := NewNormalDedupId(sender, session, 1)
	errDedup := NewErrorDedupId(1, session)

	if normal.String() == errDedup.String() {
		t.Fatalf("expected distinct String() output for normal vs error dedup ids, got %q for both", normal.String())
	}
}
