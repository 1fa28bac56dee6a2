package flow

// ContinuationKind selects how the fiber should proceed after a
// transition's actions have executed.
type ContinuationKind string

const (
	// ContinuationResume hands Value (or Err) back to the user code that
	// issued the suspension, resuming execution in-process.
	ContinuationResume ContinuationKind = "RESUME"
	// ContinuationProcessEvents tells the scheduler to pull the next
	// queued event for this flow and run it through Transition again,
	// without resuming user code.
	ContinuationProcessEvents ContinuationKind = "PROCESS_EVENTS"
	// ContinuationAbort tells the scheduler to stop driving this flow
	// entirely for the current cycle — used for RetryFromSafePoint and
	// for terminal removal.
	ContinuationAbort ContinuationKind = "ABORT"
)

// Continuation is the third element of a transition's output:
// one of Resume(value|error), ProcessEvents, or Abort.
type Continuation struct {
	Kind ContinuationKind

	// Populated when Kind == ContinuationResume.
	Value any
	Err   error
}

// Resume builds a successful resume continuation.
func Resume(value any) Continuation {
	return Continuation{Kind: ContinuationResume, Value: value}
}

// ResumeError builds a failing resume continuation.
func ResumeError(err error) Continuation {
	return Continuation{Kind: ContinuationResume, Err: err}
}

// ProcessEvents builds a continue-the-loop continuation.
func ProcessEvents() Continuation {
	return Continuation{Kind: ContinuationProcessEvents}
}

// Abort builds a stop-driving-this-cycle continuation.
func Abort() Continuation {
	return Continuation{Kind: ContinuationAbort}
}

// TransitionResult is what the pure transition function returns: the
// successor checkpoint, the ordered actions to execute, and what the
// fiber should do once they have run.
type TransitionResult struct {
	Checkpoint   Checkpoint
	Actions      []Action
	Continuation Continuation
}
