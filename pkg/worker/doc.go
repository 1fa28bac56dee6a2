// Package worker provides the background worker implementation used to
// drive flowmesh flows forward.
//
// A Worker subscribes to a MessageBus destination, drains a
// timer.Service's expirations and an asyncop.Runner's completions, and
// turns each into the matching flow.Engine call. It is the piece that
// turns a purely reactive Engine (which only ever responds to a single
// explicit call) into a long-running process that reacts to a peer's
// traffic, a fired timeout, or a completed async operation on its own.
//
// # Session Routing
//
// Sessions carry the same SessionId on both the initiating and the
// responding side, so a Worker only needs a single SessionId -> FlowId
// table, rebuilt incrementally from every checkpoint the engine hands
// back. Inbound ExistingSessionMessage and ErrorSessionMessage
// deliveries carry a RecipientSessionId and are looked up in that
// table; an inbound InitialSessionMessage has no bound flow yet and is
// routed instead through a registered responder, which starts a new
// flow via Engine.InitiateFlow.
//
// # Usage
//
// Most applications construct a Worker directly with New, register
// responders for every flow definition that accepts peer-initiated
// sessions, and run it in its own goroutine for the lifetime of the
// process.
package worker
