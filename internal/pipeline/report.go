package pipeline

import (
	"errors"
	"time"
)

// StepResult captures the high-level outcome of a step.
type StepResult string

const (
	StepResultSuccess  StepResult = "success"
	StepResultWarning  StepResult = "warning"
	StepResultFatal    StepResult = "fatal"
	StepResultCanceled StepResult = "canceled"
	StepResultSkipped  StepResult = "skipped"
)

// RunOutcome is the final status of a run.
type RunOutcome string

const (
	OutcomeSuccess  RunOutcome = "success"
	OutcomeWarning  RunOutcome = "warning"
	OutcomeFailed   RunOutcome = "failed"
	OutcomeCanceled RunOutcome = "canceled"
)

// StepRecord is the per-step entry of a RunReport.
type StepRecord struct {
	Name       StepName      `json:"name"`
	Policy     Policy        `json:"policy"`
	Result     StepResult    `json:"result"`
	Status     int           `json:"status"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// RunReport summarizes a release run.
type RunReport struct {
	RunID        string       `json:"run_id"`
	BaseVersion  string       `json:"base_version"`
	ForkVersion  string       `json:"fork_version"`
	SourceCommit string       `json:"source_commit,omitempty"`
	ArchivePath  string       `json:"archive_path,omitempty"`
	Start        time.Time    `json:"start"`
	End          time.Time    `json:"end"`
	Outcome      RunOutcome   `json:"outcome"`
	ExitCode     int          `json:"exit_code"`
	Steps        []StepRecord `json:"steps"`
	Warnings     []string     `json:"warnings,omitempty"`
}

// NewRunReport starts a report for the given run.
func NewRunReport(runID string) *RunReport {
	return &RunReport{RunID: runID, Start: time.Now()}
}

// Record appends a step record.
func (r *RunReport) Record(rec StepRecord) {
	r.Steps = append(r.Steps, rec)
}

// AddWarning records a non-fatal problem that is not tied to a step result.
func (r *RunReport) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Step returns the record for name, if the step was recorded.
func (r *RunReport) Step(name StepName) (StepRecord, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepRecord{}, false
}

// Executed lists the names of steps whose function actually ran.
func (r *RunReport) Executed() []StepName {
	var out []StepName
	for _, s := range r.Steps {
		if s.Result != StepResultSkipped && s.Result != StepResultCanceled {
			out = append(out, s.Name)
		}
	}
	return out
}

// Finish stamps the end time and derives outcome and exit code from err.
func (r *RunReport) Finish(err error) {
	r.End = time.Now()
	var se *StepError
	switch {
	case err == nil:
		r.Outcome = OutcomeSuccess
		if len(r.Warnings) > 0 || r.hasResult(StepResultWarning) {
			r.Outcome = OutcomeWarning
		}
		r.ExitCode = 0
	case errors.As(err, &se) && se.Kind == StepErrorCanceled:
		r.Outcome = OutcomeCanceled
		r.ExitCode = 1
	default:
		r.Outcome = OutcomeFailed
		r.ExitCode = 1
	}
}

// Duration is the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	if r.End.IsZero() {
		return time.Since(r.Start)
	}
	return r.End.Sub(r.Start)
}

func (r *RunReport) hasResult(res StepResult) bool {
	for _, s := range r.Steps {
		if s.Result == res {
			return true
		}
	}
	return false
}
