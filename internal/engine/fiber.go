package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// stepOutcome is what running (or replaying) a single step produces.
type stepOutcome struct {
	// suspended is non-nil when the step parked on a suspension point.
	suspended *flow.SuspensionReason
	// newResolved holds this pass's additions to the step's call cache,
	// to be merged into FlowState.FrozenCallStack[stepIndex] when
	// suspended, or dropped once the step completes.
	newResolved []any
	actions     []flow.Action
	sessions    map[flow.SessionId]flow.SessionState

	// Populated only when the step finished (suspended == nil).
	output any
	err    error
}

// runStep drives def.Steps[stepIndex].Fn once, replaying resolved in call
// order and collecting any new results, actions, and session mutations it
// produces. It never blocks: a step that needs external data returns
// immediately with suspended set.
func runStep(ctx context.Context, def flow.FlowDefinition, stepIndex int, input any, resolved []any, sessions map[flow.SessionId]flow.SessionState, nextSeq uint64, flowId flow.FlowId, subFlows SubFlowRunner) stepOutcome {
	if stepIndex < 0 || stepIndex >= len(def.Steps) {
		return stepOutcome{err: fmt.Errorf("engine: step index %d out of range for %q", stepIndex, def.Name)}
	}

	fc := newFiberContext(flowId, stepIndex, resolved, cloneSessions(sessions), nextSeq, subFlows)
	step := def.Steps[stepIndex]

	output, err := step.Fn(ctx, fc, input)
	if err != nil {
		if s, ok := isSuspend(err); ok {
			return stepOutcome{
				suspended:   &s.reason,
				newResolved: fc.newResults,
				actions:     fc.actions,
				sessions:    fc.sessions,
			}
		}
		return stepOutcome{
			err:      err,
			actions:  fc.actions,
			sessions: fc.sessions,
		}
	}

	return stepOutcome{
		output:   output,
		actions:  fc.actions,
		sessions: fc.sessions,
	}
}

func cloneSessions(m map[flow.SessionId]flow.SessionState) map[flow.SessionId]flow.SessionState {
	out := make(map[flow.SessionId]flow.SessionState, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// backoffFor computes the delay before retry attempt n (1-based) of
// policy, grounded on the exponential-backoff shape in retry.go.
func backoffFor(policy *flow.RetryPolicy, attempt int) (delay int64, shouldRetry bool) {
	if policy == nil {
		return 0, false
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if attempt >= maxAttempts {
		return 0, false
	}

	initial := policy.InitialBackoff
	if initial <= 0 {
		initial = policy.Backoff
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	d := initial
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * multiplier)
		if policy.MaxBackoff > 0 && d > policy.MaxBackoff {
			d = policy.MaxBackoff
			break
		}
	}
	return int64(d), true
}
