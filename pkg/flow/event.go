package flow

// Event is the closed sum type of every input the transition function can
// be fed; each case has exactly one implementation here. Adding a new
// Event requires updating the exhaustiveness switch in
// internal/engine/transition.go — there is no reflective dispatch.
type Event interface {
	isEvent()
}

type eventBase struct{}

func (eventBase) isEvent() {}

// StartEvent promotes a flow from Unstarted to Started.
type StartEvent struct {
	eventBase
}

// MessageReceivedPayloadKind classifies an inbound ExistingSessionMessage.
type MessageReceivedPayloadKind string

const (
	PayloadConfirmSession MessageReceivedPayloadKind = "CONFIRM_SESSION"
	PayloadData           MessageReceivedPayloadKind = "DATA"
	PayloadErrorMessage   MessageReceivedPayloadKind = "ERROR_MESSAGE"
	PayloadEndMessage     MessageReceivedPayloadKind = "END_MESSAGE"
)

// MessageReceivedEvent carries an inbound message together with the
// DedupHandler the engine must acknowledge after commit.
type MessageReceivedEvent struct {
	eventBase

	SessionId SessionId
	Kind      MessageReceivedPayloadKind

	// Populated when Kind == PayloadData.
	Seq     uint64
	Payload any

	// Populated when Kind == PayloadConfirmSession.
	PeerSessionId SessionId
	PeerParty     string

	// Populated when Kind == PayloadErrorMessage.
	ErrorId         uint64
	ErrorException  error // nil when only the errorId was transmitted

	// DedupId identifies this specific delivery; DedupHandler is the
	// opaque token the executor acknowledges to the bus after commit.
	DedupId       DedupId
	DedupHandler  DedupHandler
}

// DedupHandler is the opaque token a MessageBus hands back with each
// inbound delivery. AcknowledgeMessages actions carry these back to the
// bus after a successful commit.
type DedupHandler interface {
	DedupId() DedupId
}

// SessionErrorEvent reports that a local collaborator (not a peer)
// determined a session can no longer proceed, e.g. destination
// unreachable during initiation.
type SessionErrorEvent struct {
	eventBase

	SessionId SessionId
	Cause     error
}

// TimeoutEvent fires when a TimerService timer for this flow expires.
type TimeoutEvent struct {
	eventBase
}

// AsyncOpCompletedEvent carries the result of a previously submitted
// ExecuteAsyncOperation action.
type AsyncOpCompletedEvent struct {
	eventBase

	DedupId DedupId
	Result  any
	Err     error
}

// RetryFromSafePointEvent instructs the fiber to roll back any open
// transaction and replay from the last committed checkpoint. Issued only
// by Engine.RetryFromSafePoint: neither the hospital's retry verdict
// (which redelivers the failed event through RetryEventAfterAction) nor
// timeout handling produces it.
type RetryFromSafePointEvent struct {
	eventBase

	Reason error
}

// SoftShutdownEvent asks the flow to drain gracefully at its next
// suspension point rather than continuing to run.
type SoftShutdownEvent struct {
	eventBase
}

// StartErrorPropagationEvent instructs the error-flow transition to begin
// propagating already-recorded errors to live sessions, typically issued
// by the hospital after review.
type StartErrorPropagationEvent struct {
	eventBase
}

// SuspendEvent describes user code calling a suspension point
// (send/receive/sendAndReceive/sleep/await/subFlow/explicit suspend).
// The engine never constructs one: the step loop records a suspension
// on the checkpoint directly, and the transition function treats a
// dispatched SuspendEvent as an unrecognized event.
type SuspendEvent struct {
	eventBase

	Reason          SuspensionReason
	FrozenCallStack map[int]any
}

// ErrorEvent describes user code in the fiber failing with an error that
// reaches the top of the flow's call stack without being handled. The
// engine never constructs one: the step loop records a step's error in
// the checkpoint's ErrorState directly, and the transition function
// treats a dispatched ErrorEvent as an unrecognized event.
type ErrorEvent struct {
	eventBase

	Cause error
}

// DeliverSessionEndedEvent is produced when a peer's EndMessage arrives
// (modeled as a MessageReceivedEvent in this implementation) and the flow
// needs to be woken even though it wasn't explicitly awaiting this
// session — kept as a distinct type so callers that want to synthesize
// the wakeup can do so without going through the bus.
type DeliverSessionEndedEvent struct {
	eventBase

	SessionId SessionId
}

// InitiateFlowEvent starts a brand-new flow in response to a peer's
// InitialSessionMessage.
type InitiateFlowEvent struct {
	eventBase

	PeerSessionId SessionId
	PeerParty     string
	DefinitionName string
	Version        string
	Payload        any
}
