package flow

import "time"

// Status is the externally observable lifecycle state of a checkpoint.
type Status string

const (
	StatusRunnable    Status = "RUNNABLE"
	StatusHospitalized Status = "HOSPITALIZED"
	StatusPaused      Status = "PAUSED"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusKilled      Status = "KILLED"
)

// Terminal reports whether status is one of the three terminal states
// after which the checkpoint is scheduled for removal.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusKilled:
		return true
	default:
		return false
	}
}

// InvocationContext records who started the flow, when, and with what
// arguments.
type InvocationContext struct {
	StartedBy string
	StartedAt time.Time
	Args      any
	// ClientId, if set, lets an external caller retrieve the flow's
	// outcome from the persisted-result store after RemoveFlow runs.
	ClientId string
}

// FlowStateKind selects which variant of FlowState is populated.
type FlowStateKind string

const (
	FlowUnstarted FlowStateKind = "UNSTARTED"
	FlowStarted   FlowStateKind = "STARTED"
	FlowFinished  FlowStateKind = "FINISHED"
)

// SuspensionReason names the suspension point a Started flow is parked
// at, and whatever data the fiber needs to resume correctly.
type SuspensionReason struct {
	// StepIndex is the FlowDefinition.Steps index the flow is parked in.
	StepIndex int
	// AwaitingSessions lists sessions whose next inbound message (or
	// error) this suspension point is waiting on. Empty for
	// non-session suspensions (sleep, async-op, explicit suspend).
	AwaitingSessions []SessionId
	// AwaitAny is carried on the checkpoint but the engine neither sets
	// nor reads it: a suspension with several AwaitingSessions resumes as
	// soon as any one of them has data, whatever AwaitAny says.
	AwaitAny bool
	// Kind records why the flow is parked (e.g. "sleep", "retry_backoff",
	// "await", or a "subflow:"-prefixed name). The transition function
	// branches on it to match a timeout or an async-op completion to the
	// suspension it ends.
	Kind string
}

// FlowState is the tagged union:
// Unstarted(args) | Started(suspension_reason, frozen_call_stack) | Finished.
type FlowState struct {
	Kind FlowStateKind

	// Populated when Kind == FlowUnstarted.
	Args any

	// Populated when Kind == FlowStarted.
	Suspension SuspensionReason
	// FrozenCallStack is the serializable resumption blob — not a
	// captured native stack. Keyed by step index, it holds the results of
	// the suspension calls the parked step has already had answered, so
	// the step replays deterministically; key -1 holds the step's retry
	// attempt count.
	FrozenCallStack map[int]any
}

// SessionStateKind selects which variant of SessionState is populated.
type SessionStateKind string

const (
	SessionUninitiated SessionStateKind = "UNINITIATED"
	SessionInitiating  SessionStateKind = "INITIATING"
	SessionInitiated   SessionStateKind = "INITIATED"
)

// BufferedMessage is an outbound payload queued on an Initiating session
// until the handshake completes, paired with the DedupId it will be sent
// under.
type BufferedMessage struct {
	Dedup   DedupId
	Payload any
}

// ReceivedMessage is an inbound data message recorded on an Initiated
// session, paired with its peer-assigned sequence number.
type ReceivedMessage struct {
	Seq     uint64
	Payload any
}

// SessionState is a tagged union. Exactly one group of fields is
// meaningful, selected by Kind; the others are zero.
type SessionState struct {
	Kind SessionStateKind

	// Kind == SessionUninitiated
	Destination string
	InitPayload any

	// Kind == SessionInitiating
	OurSessionId       SessionId
	InitiatingMessage  any
	Sent               bool
	BufferedMessages   []BufferedMessage
	RejectionError     *FlowError

	// Kind == SessionInitiated
	PeerSessionId     SessionId
	PeerParty         string
	NextSendSeq       uint64
	ReceivedMessages  []ReceivedMessage
	OtherSideErrored  bool
	OtherSideClosed   bool
}

// Clone returns a deep-enough copy of s so that the transition function
// can mutate the copy without aliasing the caller's checkpoint.
func (s SessionState) Clone() SessionState {
	c := s
	if s.BufferedMessages != nil {
		c.BufferedMessages = append([]BufferedMessage(nil), s.BufferedMessages...)
	}
	if s.ReceivedMessages != nil {
		c.ReceivedMessages = append([]ReceivedMessage(nil), s.ReceivedMessages...)
	}
	if s.RejectionError != nil {
		cp := *s.RejectionError
		c.RejectionError = &cp
	}
	return c
}

// FlowError pairs a globally unique error id with the exception it
// carries. error_id is how peers correlate a propagated error with the
// ErrorSessionMessage that announces it.
type FlowError struct {
	ErrorId   uint64
	Exception error
}

// ErrorStateKind selects which variant of ErrorState is populated.
type ErrorStateKind string

const (
	ErrorClean   ErrorStateKind = "CLEAN"
	ErrorErrored ErrorStateKind = "ERRORED"
)

// ErrorState is the tagged union:
// Clean | Errored { errors, propagated_index, propagating }.
type ErrorState struct {
	Kind ErrorStateKind

	Errors          []FlowError
	PropagatedIndex uint32
	Propagating     bool
}

// Clone returns a deep-enough copy of e.
func (e ErrorState) Clone() ErrorState {
	c := e
	if e.Errors != nil {
		c.Errors = append([]FlowError(nil), e.Errors...)
	}
	return c
}

// CheckpointState bundles the mutable, per-commit bookkeeping that rides
// with a Checkpoint: the session table and the monotonic commit counter
// used as the optimistic-concurrency version.
type CheckpointState struct {
	Sessions   map[SessionId]SessionState
	NumCommits uint64
}

// Clone deep-copies the session table so mutation of the clone never
// aliases the original.
func (cs CheckpointState) Clone() CheckpointState {
	c := cs
	if cs.Sessions != nil {
		c.Sessions = make(map[SessionId]SessionState, len(cs.Sessions))
		for k, v := range cs.Sessions {
			c.Sessions[k] = v.Clone()
		}
	}
	return c
}

// Checkpoint is the durable unit of this engine.
type Checkpoint struct {
	Id FlowId

	// DefinitionName identifies which registered FlowDefinition this
	// checkpoint's steps belong to; Version pins which registered
	// version of it.
	DefinitionName string

	InvocationContext InvocationContext
	FlowState         FlowState
	CheckpointState   CheckpointState
	ErrorState        ErrorState
	Status            Status

	// PendingDeduplicationFacts are unacked inbound-message dedup
	// records that must be persisted atomically with this checkpoint.
	PendingDeduplicationFacts []DedupId

	// Version is the FlowDefinition.Version this checkpoint was created
	// under. Resuming it under a definition with a different Version
	// fails with ErrVersionDrift rather than silently replaying.
	Version string
}

// Clone returns a deep-enough copy of cp so that Transition can build its
// successor state without mutating the caller's value.
func (cp Checkpoint) Clone() Checkpoint {
	c := cp
	c.FlowState.FrozenCallStack = cloneAnyMap(cp.FlowState.FrozenCallStack)
	c.FlowState.Suspension.AwaitingSessions = append([]SessionId(nil), cp.FlowState.Suspension.AwaitingSessions...)
	c.CheckpointState = cp.CheckpointState.Clone()
	c.ErrorState = cp.ErrorState.Clone()
	c.PendingDeduplicationFacts = append([]DedupId(nil), cp.PendingDeduplicationFacts...)
	return c
}

func cloneAnyMap(m map[int]any) map[int]any {
	if m == nil {
		return nil
	}
	out := make(map[int]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
