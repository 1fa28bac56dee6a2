// Package hospital implements the flow hospital collaborator: a policy
// engine that decides, for an errored or stalled flow, whether to retry,
// propagate, pause, or kill it. Grounded
// on the bounded-attempts/backoff shape of retry.go's RetryBuilder,
// generalized from per-step retry to per-flow hospitalisation policy.
package hospital

import (
	"time"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// Verdict is the hospital's decision for a single internal error.
type Verdict string

const (
	// VerdictRetry asks the engine to roll back and replay from the
	// last committed checkpoint.
	VerdictRetry Verdict = "RETRY"
	// VerdictPropagate asks the engine to begin normal error
	// propagation to live sessions.
	VerdictPropagate Verdict = "PROPAGATE"
	// VerdictPause parks the flow without retrying or propagating,
	// awaiting an operator decision.
	VerdictPause Verdict = "PAUSE"
	// VerdictKill removes the flow immediately, firing compensating
	// actions but skipping error propagation.
	VerdictKill Verdict = "KILL"
)

// Case is what the engine hands the hospital about a single errored or
// stalled flow.
type Case struct {
	FlowId      flow.FlowId
	Attempt     int // how many times this case has already been retried
	Cause       error
	Checkpoint  flow.Checkpoint
}

// Hospital reviews a stalled or errored flow and decides its fate.
type Hospital interface {
	// Handle reviews c and returns a verdict plus, for VerdictRetry, how
	// long to wait before the retry is attempted.
	Handle(c Case) (Verdict, time.Duration)
}

// BoundedRetryHospital retries up to MaxAttempts times with exponential
// backoff, grounded on retry.go's WithExponentialBackoff shape, then
// falls back to Propagate. A HospitalizeFlowException always forces
// Pause regardless of attempt count.
type BoundedRetryHospital struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

var _ Hospital = (*BoundedRetryHospital)(nil)

// NewBoundedRetryHospital returns a BoundedRetryHospital with sane
// defaults: 5 attempts, 100ms initial backoff doubling up to 30s.
func NewBoundedRetryHospital() *BoundedRetryHospital {
	return &BoundedRetryHospital{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (h *BoundedRetryHospital) Handle(c Case) (Verdict, time.Duration) {
	if _, forced := flow.IsHospitalizeError(c.Cause); forced {
		return VerdictPause, 0
	}

	if c.Attempt >= h.MaxAttempts {
		return VerdictPropagate, 0
	}

	delay := h.InitialBackoff
	multiplier := h.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	for i := 0; i < c.Attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if h.MaxBackoff > 0 && delay > h.MaxBackoff {
			delay = h.MaxBackoff
			break
		}
	}
	return VerdictRetry, delay
}
