package flow

import "time"

// HistoryEntry is one recorded transition, kept by the HistoryRecorder
// interceptor in a bounded per-FlowId ring buffer.
type HistoryEntry struct {
	At           time.Time
	Prev         Checkpoint
	Next         Checkpoint
	Event        Event
	Actions      []Action
	Continuation Continuation
}

// TransitionFunc is the signature of the pure transition function, and
// also the signature each Interceptor wraps.
type TransitionFunc func(prev Checkpoint, ev Event) TransitionResult

// Interceptor wraps a TransitionFunc for diagnostics, hospitalisation, or
// history capture. next is the next link in the chain
// (ultimately the real transition function); an interceptor may call it
// zero or more times, or substitute its own result entirely.
type Interceptor interface {
	Intercept(prev Checkpoint, ev Event, next TransitionFunc) TransitionResult
}

// InterceptorFunc adapts a plain function to Interceptor.
type InterceptorFunc func(prev Checkpoint, ev Event, next TransitionFunc) TransitionResult

func (f InterceptorFunc) Intercept(prev Checkpoint, ev Event, next TransitionFunc) TransitionResult {
	return f(prev, ev, next)
}

// Chain composes interceptors in order: Chain(a, b, c).Intercept wraps
// the real transition function as a(b(c(transition))), so a sees the
// transition's effective result only after b and c have had a chance to
// run and/or substitute their own.
func Chain(interceptors ...Interceptor) Interceptor {
	filtered := make([]Interceptor, 0, len(interceptors))
	for _, ic := range interceptors {
		if ic != nil {
			filtered = append(filtered, ic)
		}
	}
	if len(filtered) == 0 {
		return InterceptorFunc(func(prev Checkpoint, ev Event, next TransitionFunc) TransitionResult {
			return next(prev, ev)
		})
	}
	return &chain{interceptors: filtered}
}

type chain struct {
	interceptors []Interceptor
}

func (c *chain) Intercept(prev Checkpoint, ev Event, next TransitionFunc) TransitionResult {
	return c.build(0, next)(prev, ev)
}

func (c *chain) build(i int, tail TransitionFunc) TransitionFunc {
	if i >= len(c.interceptors) {
		return tail
	}
	rest := c.build(i+1, tail)
	cur := c.interceptors[i]
	return func(prev Checkpoint, ev Event) TransitionResult {
		return cur.Intercept(prev, ev, rest)
	}
}
