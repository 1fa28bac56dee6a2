package engine

import (
	"errors"
	"time"

	"github.com/flowmesh/flowmesh/internal/session"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// suspend is the sentinel a fiberContext method returns when the calling
// step must park until more data arrives. The step runner recognizes it
// via errors.As and reports the step as suspended; nothing outside
// this package ever inspects its fields.
type suspend struct {
	reason flow.SuspensionReason
}

func (s *suspend) Error() string { return "flow: step suspended: " + s.reason.Kind }

func isSuspend(err error) (*suspend, bool) {
	var s *suspend
	if errors.As(err, &s) {
		return s, true
	}
	return nil, false
}

// fiberContext is the FiberContext implementation handed to a running
// FlowStepFunc. Every suspension point it offers is backed by the same
// replay mechanism: calls already answered on a prior pass through this
// step are served from resolved, in the order they were originally made;
// a call with no cached answer either resolves immediately (and is
// appended to newResults so the next pass can replay it) or returns the
// suspend sentinel, on which the step runner parks the step.
type fiberContext struct {
	flowId    flow.FlowId
	stepIndex int

	resolved  []any
	callIndex int

	newResults []any
	actions    []flow.Action
	sessions   map[flow.SessionId]flow.SessionState

	nextSeq uint64 // monotonic DedupId sequence for this flow, carried in from the checkpoint

	subFlows SubFlowRunner
}

func newFiberContext(id flow.FlowId, stepIndex int, resolved []any, sessions map[flow.SessionId]flow.SessionState, nextSeq uint64, subFlows SubFlowRunner) *fiberContext {
	return &fiberContext{
		flowId:    id,
		stepIndex: stepIndex,
		resolved:  resolved,
		sessions:  sessions,
		nextSeq:   nextSeq,
		subFlows:  subFlows,
	}
}

func (fc *fiberContext) FlowId() flow.FlowId { return fc.flowId }

func (fc *fiberContext) Sessions() []flow.SessionId {
	ids := make([]flow.SessionId, 0, len(fc.sessions))
	for id := range fc.sessions {
		ids = append(ids, id)
	}
	return ids
}

// immediate serves a call that always resolves in the same pass it is
// made: either from cache, or by running compute once and caching the
// result for the next pass.
func (fc *fiberContext) immediate(compute func() (any, error)) (any, error) {
	if fc.callIndex < len(fc.resolved) {
		v := fc.resolved[fc.callIndex]
		fc.callIndex++
		if errVal, ok := v.(error); ok {
			return nil, errVal
		}
		return v, nil
	}
	v, err := compute()
	fc.callIndex++
	if err != nil {
		fc.newResults = append(fc.newResults, err)
		return nil, err
	}
	fc.newResults = append(fc.newResults, v)
	return v, nil
}

// awaiting serves a call that may need to suspend: if a cached answer
// exists, it is replayed; otherwise reason describes what this call is
// waiting on and the suspend sentinel is returned.
func (fc *fiberContext) awaiting(reason flow.SuspensionReason) (any, error) {
	if fc.callIndex < len(fc.resolved) {
		v := fc.resolved[fc.callIndex]
		fc.callIndex++
		if errVal, ok := v.(error); ok {
			return nil, errVal
		}
		return v, nil
	}
	reason.StepIndex = fc.stepIndex
	return nil, &suspend{reason: reason}
}

func (fc *fiberContext) allocDedup(ourSession flow.SessionId, seq uint64) flow.DedupId {
	return flow.NewNormalDedupId(fc.flowId, ourSession, seq)
}

func (fc *fiberContext) InitiateSession(destination, className string, initPayload any) (flow.SessionId, error) {
	v, err := fc.immediate(func() (any, error) {
		ourSessionId := flow.NewSessionId()
		initMsg := flow.InitialSessionMessage{
			InitiatorSessionId: ourSessionId,
			FlowClassName:      className,
			Payload:            initPayload,
		}
		fc.sessions[ourSessionId] = session.Initiate(fc.sessions[ourSessionId], ourSessionId, initMsg)
		fc.actions = append(fc.actions, flow.SendInitialAction{
			Destination: destination,
			Message:     initMsg,
			Dedup:       fc.allocDedup(ourSessionId, 0),
		})
		return ourSessionId, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(flow.SessionId), nil
}

func (fc *fiberContext) Send(sessionId flow.SessionId, payload any) error {
	_, err := fc.immediate(func() (any, error) {
		st, ok := fc.sessions[sessionId]
		if !ok {
			return nil, flow.NewInternalException(errNoSuchSession(sessionId))
		}
		switch st.Kind {
		case flow.SessionInitiated:
			next, seq := session.NextSend(st)
			msg := flow.ExistingSessionMessage{
				RecipientSessionId: st.PeerSessionId,
				Kind:               flow.ExistingData,
				Payload:            flow.DataPayload{Seq: seq, Body: payload},
			}
			dedup := fc.allocDedup(sessionId, seq)
			fc.sessions[sessionId] = next
			fc.actions = append(fc.actions, flow.SendExistingAction{
				Destination: st.PeerParty,
				Message:     msg,
				Dedup:       dedup,
			})
			return nil, nil
		case flow.SessionInitiating:
			dedup := fc.allocDedup(sessionId, uint64(len(st.BufferedMessages)))
			fc.sessions[sessionId] = session.BufferOutbound(st, flow.BufferedMessage{Dedup: dedup, Payload: payload})
			return nil, nil
		default:
			return nil, flow.NewInternalException(errNoSuchSession(sessionId))
		}
	})
	return err
}

func (fc *fiberContext) Receive(sessionId flow.SessionId) (any, error) {
	return fc.awaiting(flow.SuspensionReason{
		AwaitingSessions: []flow.SessionId{sessionId},
		Kind:             "receive",
	})
}

func (fc *fiberContext) SendAndReceive(sessionId flow.SessionId, payload any) (any, error) {
	if err := fc.Send(sessionId, payload); err != nil {
		return nil, err
	}
	return fc.awaiting(flow.SuspensionReason{
		AwaitingSessions: []flow.SessionId{sessionId},
		Kind:             "send_and_receive",
	})
}

func (fc *fiberContext) Sleep(d time.Duration) error {
	_, err := fc.awaiting(flow.SuspensionReason{Kind: "sleep"})
	if err != nil {
		if s, ok := isSuspend(err); ok {
			fc.actions = append(fc.actions, flow.SleepUntilAction{
				FlowId: fc.flowId,
				At:     time.Now().Add(d).UnixNano(),
			})
			return s
		}
		return err
	}
	return nil
}

func (fc *fiberContext) Await(op flow.AsyncOperation) (any, error) {
	dedup := fc.allocDedup(flow.SessionId(fc.stepIndex+1), fc.nextSeq)
	v, err := fc.awaiting(flow.SuspensionReason{Kind: "await"})
	if err != nil {
		if s, ok := isSuspend(err); ok {
			fc.actions = append(fc.actions, flow.ExecuteAsyncOperationAction{
				DedupId:   dedup,
				Operation: op,
			})
			return nil, s
		}
		return nil, err
	}
	return v, nil
}

// SubFlowRunner drives a child flow definition to completion and reports
// its outcome, letting SubFlow hand the dispatch off to the same
// async-op plumbing Await uses rather than inventing a second
// suspend/resume mechanism. FlowEngine implements this by starting the
// child through the normal engine entry point and polling its
// checkpoint until it reaches a terminal status.
type SubFlowRunner interface {
	RunSubFlow(definitionName string, args any) (any, error)
}

// subFlowOperation adapts a SubFlowRunner call into a flow.AsyncOperation
// so SubFlow can reuse ExecuteAsyncOperationAction/AsyncOpCompletedEvent
// instead of needing its own action and event types.
type subFlowOperation struct {
	runner         SubFlowRunner
	definitionName string
	args           any
}

func (op subFlowOperation) Run() (any, error) {
	return op.runner.RunSubFlow(op.definitionName, op.args)
}

func (fc *fiberContext) SubFlow(definitionName string, args any) (any, error) {
	dedup := fc.allocDedup(flow.SessionId(fc.stepIndex+1), fc.nextSeq)
	v, err := fc.awaiting(flow.SuspensionReason{Kind: "subflow:" + definitionName})
	if err != nil {
		if s, ok := isSuspend(err); ok {
			fc.actions = append(fc.actions, flow.ExecuteAsyncOperationAction{
				DedupId: dedup,
				Operation: subFlowOperation{
					runner:         fc.subFlows,
					definitionName: definitionName,
					args:           args,
				},
			})
			return nil, s
		}
		return nil, err
	}
	return v, nil
}

type noSuchSessionError struct {
	sessionId flow.SessionId
}

func (e *noSuchSessionError) Error() string {
	return "engine: no such session"
}

func errNoSuchSession(id flow.SessionId) error {
	return &noSuchSessionError{sessionId: id}
}
