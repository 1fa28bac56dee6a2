package flowmesh

import "fmt"

// FlowBuilder provides a fluent API for assembling a FlowDefinition:
//
//	def := flowmesh.New("OnboardUser").
//	    Step("createAccount", createAccount).
//	    Step("sendWelcomeEmail", sendWelcomeEmail).
//	    Build()
//
//	if err := engine.RegisterFlow(def); err != nil {
//	    log.Fatal(err)
//	}
type FlowBuilder struct {
	def FlowDefinition
}

// New creates a FlowBuilder named name, registered at version "v1"
// unless Version overrides it.
func New(name string) *FlowBuilder {
	return &FlowBuilder{def: FlowDefinition{Name: name, Version: "v1"}}
}

// Version overrides the definition's version (default "v1").
func (b *FlowBuilder) Version(v string) *FlowBuilder {
	b.def.Version = v
	return b
}

// Name returns the flow's name.
func (b *FlowBuilder) Name() string { return b.def.Name }

// Step appends a named step with no retry policy.
func (b *FlowBuilder) Step(name string, fn FlowStepFunc) *FlowBuilder {
	if name == "" {
		panic("flowmesh: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("flowmesh: step %q has a nil function", name))
	}
	b.def.Steps = append(b.def.Steps, StepDefinition{Name: name, Fn: fn})
	return b
}

// StepWithRetry appends a named step that retries under policy when its
// function returns a plain error (not a suspension request).
func (b *FlowBuilder) StepWithRetry(name string, fn FlowStepFunc, policy RetryPolicy) *FlowBuilder {
	if name == "" {
		panic("flowmesh: step name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("flowmesh: step %q has a nil function", name))
	}
	p := policy
	b.def.Steps = append(b.def.Steps, StepDefinition{Name: name, Fn: fn, Retry: &p})
	return b
}

// If appends a conditional branching step.
func (b *FlowBuilder) If(name string, cond ConditionFunc, thenStep, elseStep FlowStepFunc) *FlowBuilder {
	return b.Step(name, IfStep(cond, thenStep, elseStep))
}

// Switch appends a multi-branch step.
func (b *FlowBuilder) Switch(name string, selector SelectorFunc, branches map[string]FlowStepFunc, defaultStep FlowStepFunc) *FlowBuilder {
	return b.Step(name, SwitchStep(selector, branches, defaultStep))
}

// Build returns the assembled FlowDefinition.
func (b *FlowBuilder) Build() FlowDefinition {
	return b.def
}

// Register builds and registers the flow with eng.
func (b *FlowBuilder) Register(eng Engine) error {
	return eng.RegisterFlow(b.def)
}

// MustRegister is like Register but panics on error, for use during
// process initialization.
func (b *FlowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
