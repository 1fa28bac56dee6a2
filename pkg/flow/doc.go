// Package flow defines the vocabulary shared by every other package in
// this module: flow/session/dedup identifiers, the checkpoint model, the
// closed event and action sum types that the transition function consumes
// and produces, the wire messages exchanged between peered flows, and the
// Engine interface that callers program against.
//
// Nothing in this package touches a database, a network socket, or a
// clock. It is deliberately inert so that internal/engine's transition
// function can be unit-tested as a pure function of (Checkpoint, Event).
package flow
