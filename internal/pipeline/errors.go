package pipeline

import "fmt"

// StepErrorKind classifies the outcome of a failed step.
type StepErrorKind string

const (
	StepErrorFatal    StepErrorKind = "fatal"    // run must abort
	StepErrorWarning  StepErrorKind = "warning"  // record and continue
	StepErrorCanceled StepErrorKind = "canceled" // context cancellation
)

// StepError is a structured error carrying the kind and underlying cause.
type StepError struct {
	Kind       StepErrorKind
	Step       StepName
	Diagnostic string
	Err        error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s step %s: %v", e.Kind, e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

func NewFatalStepError(step StepName, diagnostic string, err error) *StepError {
	return &StepError{Kind: StepErrorFatal, Step: step, Diagnostic: diagnostic, Err: err}
}

func NewWarnStepError(step StepName, err error) *StepError {
	return &StepError{Kind: StepErrorWarning, Step: step, Err: err}
}

func NewCanceledStepError(step StepName, err error) *StepError {
	return &StepError{Kind: StepErrorCanceled, Step: step, Diagnostic: CanceledDiagnostic, Err: err}
}

// CanceledDiagnostic is printed when a run stops on context cancellation.
const CanceledDiagnostic = "Release pipeline canceled"
