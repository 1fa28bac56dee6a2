package flow

import (
	"context"
	"time"
)

// FlowStepFunc is one step of a flow's deterministic step list. It
// receives a FiberContext offering the available suspension points
// (Send, Receive, SendAndReceive, Sleep, Await, SubFlow), and is
// replayed deterministically from the beginning of the *step* on
// resume — never from the beginning of the flow.
type FlowStepFunc func(ctx context.Context, fc FiberContext, input any) (any, error)

// FiberContext is the handle a running FlowStepFunc uses to reach the
// engine's suspension points. Each method either returns immediately
// with a value already available from a prior suspension on replay, or
// returns a sentinel error that the fiber's step loop recognizes and
// turns into a Suspend transition.
type FiberContext interface {
	// InitiateSession opens a session to destination, returning its
	// SessionId immediately (the handshake itself is async). className
	// names which of the peer's registered responders should handle it,
	// matching the className a peer Worker was given to
	// RegisterResponder.
	InitiateSession(destination, className string, initPayload any) (SessionId, error)
	// Send enqueues payload for delivery on session.
	Send(session SessionId, payload any) error
	// Receive blocks (suspends) until a data message or error/end
	// arrives on session, returning the message's payload.
	Receive(session SessionId) (any, error)
	// SendAndReceive is Send followed by Receive, issued as a single
	// suspension point so replay resumes past both at once.
	SendAndReceive(session SessionId, payload any) (any, error)
	// Sleep suspends the flow until d has elapsed.
	Sleep(d time.Duration) error
	// Await suspends until op completes, returning its result.
	Await(op AsyncOperation) (any, error)
	// SubFlow starts a child flow and suspends until it completes,
	// returning the child's result or error.
	SubFlow(definitionName string, args any) (any, error)
	// FlowId returns the id of the flow this step is running in.
	FlowId() FlowId
	// Sessions returns the SessionIds already bound to this flow — for a
	// responder flow, the session InitiateFlowEvent established before
	// its first step ever ran. Order is unspecified; a responder that
	// only ever holds the one session InitiateFlow bound it to does not
	// need to care.
	Sessions() []SessionId
}

// StepDefinition names a single step and, optionally, the retry policy
// the fiber applies when it returns a plain (non-suspension) error.
type StepDefinition struct {
	Name  string
	Fn    FlowStepFunc
	Retry *RetryPolicy
}

// FlowDefinition describes a flow as an ordered list of steps, the
// deterministic-replay unit this engine uses in place of captured
// native stacks.
type FlowDefinition struct {
	Name    string
	Version string
	Steps   []StepDefinition
}

// RetryPolicy controls how a step is retried when it returns a plain
// error (not a suspension request). MaxAttempts includes the first
// attempt.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// Backoff is a deprecated constant-delay field from single-delay
	// policies; the engine uses it as the initial delay when
	// InitialBackoff is zero or negative. Prefer InitialBackoff.
	Backoff time.Duration
}

// ConditionFunc is used by IfStep to choose a branch.
type ConditionFunc func(input any) bool

// SelectorFunc is used by SwitchStep to choose a named branch.
type SelectorFunc func(input any) string

// InstanceListOptions filters ListCheckpoints. Zero values mean
// "no filter" for that field.
type InstanceListOptions struct {
	DefinitionName string
	Status         Status
}
