package pipeline

import (
	"context"
	"fmt"
)

// Step is a discrete unit of work in a release run.
type Step func(ctx context.Context) error

// StepName is a strongly-typed identifier for a release step.
type StepName string

// Policy decides whether a step failure halts the run.
type Policy string

const (
	PolicyChecked    Policy = "checked"     // failure prints the diagnostic and halts
	PolicyBestEffort Policy = "best_effort" // failure is recorded as a warning
)

// StepDef pairs a step name with its function, failure policy and the
// one-line diagnostic printed when a checked step fails.
type StepDef struct {
	Name       StepName
	Fn         Step
	Policy     Policy
	Diagnostic string
}

// Builder is a fluent builder for ordered step definitions.
type Builder struct {
	defs      []StepDef
	overrides map[StepName]Policy
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder { return &Builder{defs: make([]StepDef, 0, 12)} }

// Add appends a step unconditionally.
func (b *Builder) Add(def StepDef) *Builder {
	b.defs = append(b.defs, def)
	return b
}

// AddIf appends a step only if cond is true.
func (b *Builder) AddIf(cond bool, def StepDef) *Builder {
	if cond {
		b.Add(def)
	}
	return b
}

// WithPolicy overrides the policy of the named step at Build time.
func (b *Builder) WithPolicy(name StepName, p Policy) *Builder {
	if b.overrides == nil {
		b.overrides = map[StepName]Policy{}
	}
	b.overrides[name] = p
	return b
}

// Build validates and returns a copy of the step list.
func (b *Builder) Build() ([]StepDef, error) {
	seen := make(map[StepName]struct{}, len(b.defs))
	out := make([]StepDef, len(b.defs))
	for i, d := range b.defs {
		if d.Name == "" {
			return nil, fmt.Errorf("step %d has no name", i)
		}
		if d.Fn == nil {
			return nil, fmt.Errorf("step %s has no function", d.Name)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("duplicate step %s", d.Name)
		}
		seen[d.Name] = struct{}{}
		if p, ok := b.overrides[d.Name]; ok {
			d.Policy = p
		}
		if d.Policy == "" {
			d.Policy = PolicyChecked
		}
		if d.Policy != PolicyChecked && d.Policy != PolicyBestEffort {
			return nil, fmt.Errorf("step %s has unknown policy %q", d.Name, d.Policy)
		}
		out[i] = d
	}
	return out, nil
}
