package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/asyncop"
	"github.com/flowmesh/flowmesh/internal/bus"
	"github.com/flowmesh/flowmesh/internal/timer"
	"github.com/flowmesh/flowmesh/pkg/flow"
)

// Engine is the subset of flow.Engine a Worker drives, plus
// InitiateFlow, the concrete-only method *engine.FlowEngine exposes for
// starting a responder flow from a peer's InitialSessionMessage. It is
// not part of flow.Engine itself because only a Worker, which owns the
// inbound bus subscription, ever needs to call it.
type Engine interface {
	flow.Engine
	InitiateFlow(ctx context.Context, name, version string, ev flow.InitiateFlowEvent) (*flow.Checkpoint, error)
}

// TimerSource is the timer.Service a Worker drains expirations from.
// Declared locally, rather than adding Fired to timer.Service itself,
// since only the collaborator a Worker is actually wired to needs to
// expose it.
type TimerSource interface {
	timer.Service
	Fired() <-chan timer.Fired
}

// AsyncOpSource is the asyncop.Runner a Worker drains completions from.
type AsyncOpSource interface {
	asyncop.Runner
	Completions() <-chan asyncop.Completed
}

// responderEntry names the registered flow definition a peer's
// FlowClassName should start.
type responderEntry struct {
	name    string
	version string
}

// Worker drives flows forward as external events arrive: it subscribes
// to a MessageBus destination, drains a TimerSource's expirations and an
// AsyncOpSource's completions, and turns each into the matching Engine
// call. Grounded on the prior design's single-loop Worker pulling tasks
// off a queue and dispatching them to an Engine, generalized from one
// pull source (a task queue) to three push sources (a bus subscription,
// a timer channel, an async-op completion channel).
type Worker struct {
	engine      Engine
	bus         bus.MessageBus
	timers      TimerSource
	asyncOps    AsyncOpSource
	destination string

	mu         sync.Mutex
	responders map[string]responderEntry
	sessions   map[flow.SessionId]flow.FlowId
}

// New returns a Worker that drives engine from deliveries addressed to
// destination on msgBus, expirations from timers, and completions from
// asyncOps. destination is this process's own party name; it is also
// the value an Engine built with engine.Config.LocalParty set to the
// same name stamps onto every InitialSessionMessage it sends, so a peer
// worker's responses find their way back here.
func New(engine Engine, msgBus bus.MessageBus, timers TimerSource, asyncOps AsyncOpSource, destination string) *Worker {
	return &Worker{
		engine:      engine,
		bus:         msgBus,
		timers:      timers,
		asyncOps:    asyncOps,
		destination: destination,
		responders:  make(map[string]responderEntry),
		sessions:    make(map[flow.SessionId]flow.FlowId),
	}
}

// RegisterResponder arranges for an inbound InitialSessionMessage whose
// FlowClassName is className to start definitionName at version (an
// empty version starts the latest registered version) via
// Engine.InitiateFlow.
func (w *Worker) RegisterResponder(className, definitionName, version string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.responders[className] = responderEntry{name: definitionName, version: version}
}

// BindSession records that sessionId belongs to id, so a later inbound
// ExistingSessionMessage or ErrorSessionMessage addressed to sessionId
// is routed there. Run calls this automatically for every session a
// checkpoint it observes carries; callers that start flows directly
// against the Engine (bypassing Run's own Start helper) should call it
// themselves for sessions opened by that flow's first Start call.
func (w *Worker) BindSession(sessionId flow.SessionId, id flow.FlowId) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions[sessionId] = id
}

func (w *Worker) bindFromCheckpoint(cp *flow.Checkpoint) {
	if cp == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for sessionId := range cp.CheckpointState.Sessions {
		w.sessions[sessionId] = cp.Id
	}
}

func (w *Worker) lookupSession(sessionId flow.SessionId) (flow.FlowId, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.sessions[sessionId]
	return id, ok
}

// Start starts a new flow and binds any sessions it opens before
// returning, so subsequent replies to those sessions route correctly.
func (w *Worker) Start(ctx context.Context, name string, args any) (*flow.Checkpoint, error) {
	cp, err := w.engine.Start(ctx, name, args)
	w.bindFromCheckpoint(cp)
	return cp, err
}

// Run subscribes to the bus and blocks, dispatching inbound deliveries,
// timer expirations, and async-op completions to the engine until ctx
// is cancelled or the inbound channel closes.
func (w *Worker) Run(ctx context.Context) error {
	inbound, err := w.bus.Subscribe(ctx, w.destination)
	if err != nil {
		return fmt.Errorf("worker: subscribe to %s: %w", w.destination, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case in, ok := <-inbound:
			if !ok {
				return nil
			}
			if _, err := w.handleInbound(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

		case fired, ok := <-w.timers.Fired():
			if !ok {
				continue
			}
			if _, err := w.engine.ExpireTimeout(ctx, fired.FlowId); err != nil {
				return err
			}

		case done, ok := <-w.asyncOps.Completions():
			if !ok {
				continue
			}
			if _, err := w.engine.CompleteAsyncOp(ctx, done.FlowId, done.DedupId, done.Result, done.Err); err != nil {
				return err
			}
		}
	}
}

// handleInbound routes a single bus delivery to the engine, creating a
// new flow via InitiateFlow when it carries an InitialSessionMessage
// with no bound session yet, or delivering a MessageReceivedEvent to
// the flow a prior checkpoint already bound the session to.
func (w *Worker) handleInbound(ctx context.Context, in bus.Inbound) (*flow.Checkpoint, error) {
	switch msg := in.Message.(type) {
	case flow.InitialSessionMessage:
		cp, err := w.startResponder(ctx, msg)
		if err != nil {
			return cp, err
		}
		// The new checkpoint is already durable (InitiateFlow upserts it
		// before driving the first transition), so acking now is safe:
		// a crash before this point simply redelivers the same initial
		// message into a second InitiateFlow call, which the lack of a
		// dedup key on InitiateFlowEvent cannot currently catch.
		if err := w.bus.Acknowledge(ctx, in.Handler); err != nil {
			return cp, fmt.Errorf("worker: acknowledge initial session message: %w", err)
		}
		return cp, nil

	case flow.ExistingSessionMessage:
		ev, ok := existingToEvent(msg)
		if !ok {
			return nil, fmt.Errorf("worker: unrecognized existing-session payload kind %q", msg.Kind)
		}
		ev.DedupId = in.Dedup
		ev.DedupHandler = in.Handler
		return w.deliver(ctx, msg.RecipientSessionId, ev)

	case flow.ErrorSessionMessage:
		ev := flow.MessageReceivedEvent{
			SessionId: msg.RecipientSessionId,
			Kind:      flow.PayloadErrorMessage,
			ErrorId:   msg.ErrorId,
		}
		if msg.FlowException != nil {
			ev.ErrorException = msg.FlowException
		}
		ev.DedupId = in.Dedup
		ev.DedupHandler = in.Handler
		return w.deliver(ctx, msg.RecipientSessionId, ev)

	default:
		return nil, fmt.Errorf("worker: unrecognized inbound message %T", in.Message)
	}
}

// existingToEvent converts an ExistingSessionMessage's tagged payload
// into the matching MessageReceivedEvent fields.
func existingToEvent(msg flow.ExistingSessionMessage) (flow.MessageReceivedEvent, bool) {
	ev := flow.MessageReceivedEvent{SessionId: msg.RecipientSessionId}

	switch msg.Kind {
	case flow.ExistingData:
		data, ok := msg.Payload.(flow.DataPayload)
		if !ok {
			return ev, false
		}
		ev.Kind = flow.PayloadData
		ev.Seq = data.Seq
		ev.Payload = data.Body

	case flow.ExistingConfirm:
		confirm, ok := msg.Payload.(flow.ConfirmPayload)
		if !ok {
			return ev, false
		}
		ev.Kind = flow.PayloadConfirmSession
		ev.PeerSessionId = confirm.PeerSessionId
		ev.PeerParty = confirm.PeerParty

	case flow.ExistingEnd:
		ev.Kind = flow.PayloadEndMessage

	default:
		return ev, false
	}
	return ev, true
}

// sessionBindRetries and sessionBindRetryDelay bound how long deliver
// waits for a session to show up in the routing table before giving up.
// On a fast transport a peer's reply can reach this worker before its own
// Start call has returned and bound the session it just initiated; a
// short retry absorbs that window instead of failing a message that is
// genuinely addressed to a flow this worker owns.
const (
	sessionBindRetries    = 40
	sessionBindRetryDelay = 5 * time.Millisecond
)

func (w *Worker) deliver(ctx context.Context, sessionId flow.SessionId, ev flow.MessageReceivedEvent) (*flow.Checkpoint, error) {
	id, ok := w.lookupSession(sessionId)
	for attempt := 0; !ok && attempt < sessionBindRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sessionBindRetryDelay):
		}
		id, ok = w.lookupSession(sessionId)
	}
	if !ok {
		return nil, fmt.Errorf("worker: no flow bound to session %d", sessionId)
	}
	cp, err := w.engine.DeliverMessage(ctx, id, ev)
	w.bindFromCheckpoint(cp)
	return cp, err
}

// startResponder looks up the registered responder for msg's
// FlowClassName and starts it, binding the new flow to
// msg.InitiatorSessionId — the same SessionId both sides address this
// session by from now on.
func (w *Worker) startResponder(ctx context.Context, msg flow.InitialSessionMessage) (*flow.Checkpoint, error) {
	w.mu.Lock()
	entry, ok := w.responders[msg.FlowClassName]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("worker: no responder registered for flow class %q", msg.FlowClassName)
	}

	cp, err := w.engine.InitiateFlow(ctx, entry.name, entry.version, flow.InitiateFlowEvent{
		PeerSessionId:  msg.InitiatorSessionId,
		PeerParty:      msg.SenderParty,
		DefinitionName: entry.name,
		Version:        entry.version,
		Payload:        msg.Payload,
	})
	w.bindFromCheckpoint(cp)
	return cp, err
}
