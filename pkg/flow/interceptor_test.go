package flow

import "testing"

func TestChain_CallsInOuterToInnerOrderAndReachesTheRealTransition(t *testing.T) {
	var calls []string

	mark := func(name string) Interceptor {
		return InterceptorFunc(func(prev Checkpoint, ev Event, next TransitionFunc) TransitionResult {
			calls = append(calls, name+":before")
			res := next(prev, ev)
			calls = append(calls, name+":after")
			return res
		})
	}

	real := func(prev Checkpoint, ev Event) TransitionResult {
		calls = append(calls, "real")
		return TransitionResult{Checkpoint: prev, Continuation: ProcessEvents()}
	}

	chain := Chain(mark("a"), mark("b"))
	chain.Intercept(Checkpoint{}, StartEvent{}, real)

	want := []string{"a:before", "b:before", "real", "b:after", "a:after"}
	if len(calls) != len(want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	}
}

func TestChain_NilInterceptorsAreSkipped(t *testing.T) {
	ran := false
	real := func(prev Checkpoint, ev Event) TransitionResult {
		ran = true
		return TransitionResult{}
	}

	chain := Chain(nil, nil)
	chain.Intercept(Checkpoint{}, StartEvent{}, real)
	if !ran {
		t.Fatalf("expected the real transition to run even when every interceptor is nil")
	}
}

func TestChain_InterceptorCanSubstituteItsOwnResultWithoutCallingNext(t *testing.T) {
	substitute := TransitionResult{Continuation: Abort()}
	short := InterceptorFunc(func(prev Checkpoint, ev Event, next TransitionFunc) TransitionResult {
		return substitute
	})

	called := false
	real := func(prev Checkpoint, ev Event) TransitionResult {
		called = true
		return TransitionResult{}
	}

	got := Chain(short).Intercept(Checkpoint{}, StartEvent{}, real)
	if called {
		t.Fatalf("expected the real transition to never run once an interceptor short-circuits")
	}
	if got.Continuation.Kind != ContinuationAbort {
		t.Fatalf("expected the substituted result to be returned, got %+v", got)
	}
}

func TestResumeAndResumeErrorAndProcessEventsAndAbort(t *testing.T) {
	if r := Resume("value"); r.Kind != ContinuationResume || r.Value != "value" || r.Err != nil {
		t.Fatalf("unexpected Resume: %+v", r)
	}
	boom := errInternalTest{}
	if r := ResumeError(boom); r.Kind != ContinuationResume || r.Err != boom {
		t.Fatalf("unexpected ResumeError: %+v", r)
	}
	if r := ProcessEvents(); r.Kind != ContinuationProcessEvents {
		t.Fatalf("unexpected ProcessEvents: %+v", r)
	}
	if r := Abort(); r.Kind != ContinuationAbort {
		t.Fatalf("unexpected Abort: %+v", r)
	}
}

type errInternalTest struct{}

func (errInternalTest) Error() string { return "boom" }
