// Package flowmesh provides a durable, crash-recoverable flow state
// machine for Go: long-running, peer-to-peer workflows that suspend at
// well-defined points (sending/receiving on a session, sleeping,
// awaiting an async operation, starting a sub-flow) and resume exactly
// where they left off after a process restart.
//
// # Core Concepts
//
//  1. Engine — registers flow definitions, starts flows, and drives
//     them forward as events (messages, timers, async-op completions)
//     arrive.
//  2. Worker — owns the inbound message-bus subscription and routes
//     peer traffic, timer expirations, and async-op completions into
//     Engine calls.
//  3. FlowBuilder — the fluent API for assembling a FlowDefinition out
//     of named steps.
//  4. FiberContext — the handle a running step uses to reach the
//     engine's suspension points (Send, Receive, Sleep, Await,
//     InitiateSession, SubFlow).
//  5. LocalRunner — an in-memory Engine, bus, timers, async-ops, and
//     Worker bundled together for development and tests.
//
// # Engine
//
// An Engine persists checkpoints, a deduplication log, and (optionally)
// terminal results. It can be backed by:
//
//   - In-memory (non-durable, tests and LocalRunner)
//   - SQLite (embedded durability, via NewSQLiteEngine)
//   - Postgres (via NewPostgresEngine, or the postgres submodule's
//     NewEngine for a raw DSN)
//   - Redis (via the redis submodule's NewEngine)
//   - MongoDB (via the mongo submodule's NewEngine)
//
// Redis and MongoDB require their own driver import, so they live in
// separate submodules (redis/, mongo/) that replace into this module
// rather than being wired into this package directly — this module's
// own go.mod never needs to know those drivers exist.
//
// # Worker
//
// A Worker subscribes to a destination on a MessageBus and drains a
// timer.Service's expirations and an asyncop.Runner's completions,
// translating each into the matching Engine call. Most applications
// never construct one directly except through LocalRunner; a
// multi-process deployment constructs pkg/worker.Worker itself, wired
// to durable bus/timer/async-op implementations.
//
// # FlowBuilder
//
// FlowBuilder is the ergonomic, declarative API for defining flows:
//
//	def := flowmesh.New("OnboardUser").
//	    Step("createAccount", createAccount).
//	    StepWithRetry("chargeCard", chargeCard, flowmesh.Retry(3).
//	        WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second).
//	        Policy()).
//	    Build()
//
//	if err := engine.RegisterFlow(def); err != nil {
//	    log.Fatal(err)
//	}
//
// # Control Flow
//
// steps.go provides combinators over FlowStepFunc — IfStep, SwitchStep,
// While, LoopStep, ParallelStep, TypedStep — that compose a step's body
// out of smaller pieces while preserving the deterministic replay the
// fiber scheduler depends on: each combinator is a plain wrapper that
// calls its constituent FlowStepFuncs through the same FiberContext in
// the same order every time the step is replayed.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory Engine, MessageBus, timer.Service,
// asyncop.Runner, and Worker into a single process-local helper for
// development and unit tests:
//
//	runner := flowmesh.NewLocalRunner("local")
//	def := flowmesh.New("Example").Step("a", doA).Build()
//	runner.MustRegister(def)
//	cp, err := runner.Start(ctx, "Example", input)
package flowmesh
