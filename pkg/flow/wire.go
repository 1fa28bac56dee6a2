package flow

import "encoding/gob"

func init() {
	gob.Register(InitialSessionMessage{})
	gob.Register(ExistingSessionMessage{})
	gob.Register(ErrorSessionMessage{})
	gob.Register(DataPayload{})
	gob.Register(ConfirmPayload{})
	gob.Register(EndPayload{})
	gob.Register(FlowOutcome{})
}

// InitialSessionMessage opens a session to a peer.
type InitialSessionMessage struct {
	InitiatorSessionId SessionId
	// SenderParty names the initiating side so the responder knows who
	// to address its own outbound traffic to. Stamped by the engine at
	// send time (it's the one collaborator that knows its own local
	// party identity), never set by the step that calls InitiateSession.
	SenderParty     string
	FlowClassName   string
	AppName         string
	PlatformVersion string
	Payload         any
}

// ExistingSessionPayloadKind selects which payload variant an
// ExistingSessionMessage carries.
type ExistingSessionPayloadKind string

const (
	ExistingData    ExistingSessionPayloadKind = "DATA"
	ExistingConfirm ExistingSessionPayloadKind = "CONFIRM"
	ExistingEnd     ExistingSessionPayloadKind = "END"
	ExistingError   ExistingSessionPayloadKind = "ERROR"
)

// ExistingSessionMessage is sent on a session that has already been
// confirmed by both sides.
type ExistingSessionMessage struct {
	RecipientSessionId SessionId
	Kind               ExistingSessionPayloadKind
	Payload            any
}

// DataPayload wraps a data message's sequence number and body.
type DataPayload struct {
	Seq  uint64
	Body any
}

// ConfirmPayload carries the confirming side's own SessionId and party
// name, completing the Initiating -> Initiated handshake.
type ConfirmPayload struct {
	PeerSessionId SessionId
	PeerParty     string
}

// EndPayload is the (empty) body of an end-of-session message.
type EndPayload struct{}

// ErrorSessionMessage is the dedicated error envelope: either the full
// exception payload (first hop only) or just the correlating errorId
// (every subsequent hop)
type ErrorSessionMessage struct {
	RecipientSessionId SessionId
	FlowException      *FlowException
	ErrorId            uint64
}
