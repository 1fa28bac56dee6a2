package flow

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// FlowId is the opaque identifier assigned to a flow once, at creation,
// and never changed.
type FlowId uuid.UUID

// NewFlowId allocates a fresh, random FlowId.
func NewFlowId() FlowId {
	return FlowId(uuid.New())
}

func (id FlowId) String() string {
	return uuid.UUID(id).String()
}

// ParseFlowId parses the string form produced by FlowId.String.
func ParseFlowId(s string) (FlowId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return FlowId{}, fmt.Errorf("flow: invalid flow id %q: %w", s, err)
	}
	return FlowId(u), nil
}

// SessionId is an opaque 64-bit token, unique per flow per peer instance.
// Each side of a session mints its own SessionId; the peer's id is learned
// during the initiation handshake (see internal/session).
type SessionId uint64

// NewSessionId returns a fresh random, non-zero SessionId.
func NewSessionId() SessionId {
	var buf [8]byte
	for {
		_, _ = rand.Read(buf[:])
		id := SessionId(binary.BigEndian.Uint64(buf[:]))
		if id != 0 {
			return id
		}
	}
}

// DedupId identifies a single delivery for exactly-once bookkeeping.
// For normal messages it is derived from (sender, monotonic sequence);
// for error messages it is derived from (errorId, sourceSessionId). Both
// constructions are collision-free by construction, never by hashing.
type DedupId struct {
	// Sender is the FlowId that produced the message, or the empty FlowId
	// for dedup ids minted on locally-synthesized events (never sent).
	Sender FlowId
	// Seq is the monotonic per-session sequence number for normal
	// messages, or the errorId for error messages.
	Seq uint64
	// Session disambiguates error-message dedup ids, which are keyed by
	// (errorId, sourceSessionId) rather than (sender, seq).
	Session SessionId
	// Kind distinguishes the two construction rules so that a normal
	// message and an error message can never collide even if Seq and
	// Session happen to coincide numerically.
	Kind DedupKind
}

// DedupKind selects which of the two DedupId construction rules applies.
type DedupKind uint8

const (
	// DedupNormal is used for ordinary session traffic: keyed by
	// (sender flow, monotonic send sequence).
	DedupNormal DedupKind = iota
	// DedupError is used for ErrorSessionMessage deliveries: keyed by
	// (errorId, sourceSessionId).
	DedupError
)

// NewNormalDedupId builds the DedupId for the seq-th message sent by
// sender on the session identified by the sender's own SessionId.
func NewNormalDedupId(sender FlowId, session SessionId, seq uint64) DedupId {
	return DedupId{Sender: sender, Seq: seq, Session: session, Kind: DedupNormal}
}

// NewErrorDedupId builds the DedupId for an error message derived from
// errorId and the session it originated from.
func NewErrorDedupId(errorId uint64, sourceSession SessionId) DedupId {
	return DedupId{Seq: errorId, Session: sourceSession, Kind: DedupError}
}

func (d DedupId) String() string {
	switch d.Kind {
	case DedupError:
		return fmt.Sprintf("err:%d:%d", d.Seq, d.Session)
	default:
		return fmt.Sprintf("msg:%s:%d:%d", d.Sender, d.Session, d.Seq)
	}
}
