package flowmesh

import (
	"context"
	"fmt"
	"time"
)

// SleepStep returns a step that suspends for d, then passes its input
// through unchanged.
func SleepStep(d time.Duration) FlowStepFunc {
	return func(_ context.Context, fc FiberContext, input any) (any, error) {
		if err := fc.Sleep(d); err != nil {
			return nil, err
		}
		return input, nil
	}
}

// ReceiveStep returns a step that suspends until a message arrives on
// session, then returns its payload.
func ReceiveStep(session SessionId) FlowStepFunc {
	return func(_ context.Context, fc FiberContext, _ any) (any, error) {
		return fc.Receive(session)
	}
}

// SendStep returns a step that enqueues payload on session and passes
// its input through unchanged.
func SendStep(session SessionId, payload any) FlowStepFunc {
	return func(_ context.Context, fc FiberContext, input any) (any, error) {
		if err := fc.Send(session, payload); err != nil {
			return nil, err
		}
		return input, nil
	}
}

// SendAndReceiveStep returns a step that sends payload on session and
// suspends until the matching reply arrives.
func SendAndReceiveStep(session SessionId, payload any) FlowStepFunc {
	return func(_ context.Context, fc FiberContext, _ any) (any, error) {
		return fc.SendAndReceive(session, payload)
	}
}

// InitiateSessionStep returns a step that opens a session to
// destination, addressed to the peer's className responder, with
// initPayload, returning the new SessionId.
func InitiateSessionStep(destination, className string, initPayload any) FlowStepFunc {
	return func(_ context.Context, fc FiberContext, _ any) (any, error) {
		return fc.InitiateSession(destination, className, initPayload)
	}
}

// SubFlowStep returns a step that starts definitionName as a child flow
// with args and suspends until it completes.
func SubFlowStep(definitionName string, args any) FlowStepFunc {
	return func(_ context.Context, fc FiberContext, _ any) (any, error) {
		return fc.SubFlow(definitionName, args)
	}
}

// AwaitStep returns a step that submits op to the async-op runner and
// suspends until it completes.
func AwaitStep(op AsyncOperation) FlowStepFunc {
	return func(_ context.Context, fc FiberContext, _ any) (any, error) {
		return fc.Await(op)
	}
}

// IfStep returns a step that runs thenStep when cond(input) is true,
// elseStep otherwise. Both branches run through the same FiberContext,
// so whichever one a given input selects must make the same sequence of
// suspension calls on every replay of this step — cond itself must be a
// pure function of input for that to hold.
func IfStep(cond ConditionFunc, thenStep, elseStep FlowStepFunc) FlowStepFunc {
	return func(ctx context.Context, fc FiberContext, input any) (any, error) {
		if cond(input) {
			return thenStep(ctx, fc, input)
		}
		return elseStep(ctx, fc, input)
	}
}

// SwitchStep returns a step that runs the branch selector(input) names
// in branches, or defaultStep if no such branch exists (defaultStep may
// be nil, in which case an unmatched selector is an error).
func SwitchStep(selector SelectorFunc, branches map[string]FlowStepFunc, defaultStep FlowStepFunc) FlowStepFunc {
	return func(ctx context.Context, fc FiberContext, input any) (any, error) {
		key := selector(input)
		if step, ok := branches[key]; ok {
			return step(ctx, fc, input)
		}
		if defaultStep != nil {
			return defaultStep(ctx, fc, input)
		}
		return nil, fmt.Errorf("flowmesh: switch: no branch for %q and no default", key)
	}
}

// While returns a step that repeatedly runs body while cond(input) is
// true, threading body's output back in as the next input. The entire
// loop is replayed as part of this one step; every suspension any
// iteration makes is replayed in the same order on resume.
func While(cond ConditionFunc, body FlowStepFunc) FlowStepFunc {
	return func(ctx context.Context, fc FiberContext, input any) (any, error) {
		cur := input
		for cond(cur) {
			out, err := body(ctx, fc, cur)
			if err != nil {
				return nil, err
			}
			cur = out
		}
		return cur, nil
	}
}

// LoopStep returns a step that runs body exactly times times,
// threading each iteration's output into the next as input.
func LoopStep(times int, body FlowStepFunc) FlowStepFunc {
	return func(ctx context.Context, fc FiberContext, input any) (any, error) {
		cur := input
		for i := 0; i < times; i++ {
			out, err := body(ctx, fc, cur)
			if err != nil {
				return nil, err
			}
			cur = out
		}
		return cur, nil
	}
}

// ParallelStep returns a step that runs each of steps against the same
// input in turn, collecting their outputs into a []any in order.
// "Parallel" describes the branches' independence, not wall-clock
// concurrency: a flow's fiber is single-threaded and every suspension
// point it makes must replay in a fixed order, so true concurrent
// suspension across branches is not supported — each branch suspends
// and resumes to completion before the next one starts.
func ParallelStep(steps ...FlowStepFunc) FlowStepFunc {
	return func(ctx context.Context, fc FiberContext, input any) (any, error) {
		out := make([]any, len(steps))
		for i, step := range steps {
			v, err := step(ctx, fc, input)
			if err != nil {
				return nil, fmt.Errorf("flowmesh: parallel branch %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}
}

// TypedStep adapts a strongly-typed step function into a FlowStepFunc,
// type-asserting its input. Example:
//
//	flowmesh.TypedStep(func(ctx context.Context, order Order) (Receipt, error) { ... })
func TypedStep[I, O any](fn func(context.Context, I) (O, error)) FlowStepFunc {
	return func(ctx context.Context, _ FiberContext, input any) (any, error) {
		typed, ok := input.(I)
		if !ok {
			var zero I
			return nil, fmt.Errorf("flowmesh: typed step expected %T, got %T", zero, input)
		}
		return fn(ctx, typed)
	}
}

// TypedWhile is the typed analog of While.
func TypedWhile[I any](cond func(I) bool, body func(context.Context, I) (I, error)) FlowStepFunc {
	return func(ctx context.Context, _ FiberContext, input any) (any, error) {
		cur, ok := input.(I)
		if !ok {
			var zero I
			return nil, fmt.Errorf("flowmesh: typed while expected %T, got %T", zero, input)
		}
		for cond(cur) {
			next, err := body(ctx, cur)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return cur, nil
	}
}

// TypedLoop is the typed analog of LoopStep.
func TypedLoop[I any](times int, body func(context.Context, I) (I, error)) FlowStepFunc {
	return func(ctx context.Context, _ FiberContext, input any) (any, error) {
		cur, ok := input.(I)
		if !ok {
			var zero I
			return nil, fmt.Errorf("flowmesh: typed loop expected %T, got %T", zero, input)
		}
		for i := 0; i < times; i++ {
			next, err := body(ctx, cur)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return cur, nil
	}
}
