// Package pipeline runs an ordered list of release steps.
//
// Steps are data: each StepDef names its function, its failure Policy and
// the diagnostic line printed when it fails. RunSteps executes them strictly
// in sequence, checks the context between steps, and halts at the first
// checked failure. Best-effort failures are recorded as warnings.
package pipeline
