// Package session holds the pure session-lifecycle helpers used by the
// transition function. Each helper takes a flow.SessionState by value and
// returns a new value, so the transition function stays side-effect free
// and trivially replayable. Grounded on the copy-on-write checkpoint
// mutation style already used throughout pkg/flow (Checkpoint.Clone and
// friends).
package session

import "github.com/flowmesh/flowmesh/pkg/flow"

// Uninitiated returns the zero-value state a session starts in before
// InitiateSession has been called for it.
func Uninitiated(destination string, initPayload any) flow.SessionState {
	return flow.SessionState{
		Kind:        flow.SessionUninitiated,
		Destination: destination,
		InitPayload: initPayload,
	}
}

// Initiate moves an uninitiated session into Initiating, recording the
// outbound InitialSessionMessage so it can be resent if the process
// crashes before the peer's confirmation arrives.
func Initiate(s flow.SessionState, ourSessionId flow.SessionId, initMsg any) flow.SessionState {
	return flow.SessionState{
		Kind:              flow.SessionInitiating,
		OurSessionId:      ourSessionId,
		InitiatingMessage: initMsg,
	}
}

// MarkSent records that the InitialSessionMessage has actually gone out
// on the bus, so a retry after a crash resends rather than re-enqueues.
func MarkSent(s flow.SessionState) flow.SessionState {
	next := s.Clone()
	next.Sent = true
	return next
}

// BufferOutbound appends msg to an Initiating session's pending queue.
func BufferOutbound(s flow.SessionState, msg flow.BufferedMessage) flow.SessionState {
	next := s.Clone()
	next.BufferedMessages = append(next.BufferedMessages, msg)
	return next
}

// Confirm transitions an Initiating session to Initiated once the peer's
// confirmation arrives, carrying over the peer's session id and party
// name needed to address further sends. The caller is responsible for
// turning the returned buffered messages into SendExistingAction values.
func Confirm(s flow.SessionState, peerSessionId flow.SessionId, peerParty string) (flow.SessionState, []flow.BufferedMessage) {
	flushed := s.BufferedMessages
	next := flow.SessionState{
		Kind:          flow.SessionInitiated,
		PeerSessionId: peerSessionId,
		PeerParty:     peerParty,
		// Continue the sequence space right after the flushed batch so a
		// live send issued just after confirmation never reuses a seq
		// already claimed by a buffered message.
		NextSendSeq: uint64(len(flushed)),
	}
	return next, flushed
}

// Reject records that the peer refused the session (RejectionError set
// on the Initiating session) so the transition function can surface it
// to the flow as a FlowException instead of suspending forever.
func Reject(s flow.SessionState, cause flow.FlowError) flow.SessionState {
	next := s.Clone()
	next.RejectionError = &cause
	return next
}

// AppendReceived records an inbound data message against an Initiated
// session, keyed by the peer's sequence number.
func AppendReceived(s flow.SessionState, seq uint64, payload any) flow.SessionState {
	next := s.Clone()
	next.ReceivedMessages = append(next.ReceivedMessages, flow.ReceivedMessage{Seq: seq, Payload: payload})
	return next
}

// HasReceived reports whether seq has already been recorded against this
// session, making redelivery of an already-applied message a no-op at
// the session level — a second line of defense behind DedupId.
func HasReceived(s flow.SessionState, seq uint64) bool {
	for _, m := range s.ReceivedMessages {
		if m.Seq == seq {
			return true
		}
	}
	return false
}

// NextSend allocates the next outbound sequence number for an Initiated
// session and returns the advanced state alongside it.
func NextSend(s flow.SessionState) (flow.SessionState, uint64) {
	next := s.Clone()
	seq := next.NextSendSeq
	next.NextSendSeq++
	return next, seq
}

// MarkPeerErrored records that the peer side of an Initiated session has
// closed due to an error; further sends into it are rejected by the
// transition function.
func MarkPeerErrored(s flow.SessionState) flow.SessionState {
	next := s.Clone()
	next.OtherSideErrored = true
	return next
}

// MarkPeerClosed records a clean End from the peer.
func MarkPeerClosed(s flow.SessionState) flow.SessionState {
	next := s.Clone()
	next.OtherSideClosed = true
	return next
}

// PrependError splices an error payload to the front of an Initiating
// session's buffered outbound queue, so a peer that later confirms
// learns about the error before any data that was queued ahead of
// confirmation.
func PrependError(s flow.SessionState, errMsg flow.BufferedMessage) flow.SessionState {
	next := s.Clone()
	next.BufferedMessages = append([]flow.BufferedMessage{errMsg}, next.BufferedMessages...)
	return next
}
