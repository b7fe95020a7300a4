package pipeline

import (
	"time"

	"git.home.luguber.info/inful/forkpack/internal/metrics"
)

// Observer receives callbacks around step execution and the run lifecycle.
type Observer interface {
	OnRunStart(report *RunReport)
	OnStepStart(step StepName)
	OnStepComplete(rec StepRecord)
	OnRunComplete(report *RunReport)
}

// NoopObserver is a no-op implementation.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(_ *RunReport)     {}
func (NoopObserver) OnStepStart(_ StepName)      {}
func (NoopObserver) OnStepComplete(_ StepRecord) {}
func (NoopObserver) OnRunComplete(_ *RunReport)  {}

// RecorderObserver adapts metrics.Recorder into an Observer.
type RecorderObserver struct{ Recorder metrics.Recorder }

func (r RecorderObserver) OnRunStart(_ *RunReport) {}
func (r RecorderObserver) OnStepStart(_ StepName)  {}

func (r RecorderObserver) OnStepComplete(rec StepRecord) {
	if r.Recorder == nil {
		return
	}
	if rec.Result != StepResultSkipped {
		r.Recorder.ObserveStepDuration(string(rec.Name), rec.Duration)
	}
	r.Recorder.IncStepResult(string(rec.Name), metrics.ResultLabel(rec.Result))
}

func (r RecorderObserver) OnRunComplete(report *RunReport) {
	if r.Recorder == nil {
		return
	}
	r.Recorder.ObserveRunDuration(report.Duration())
	r.Recorder.IncRunOutcome(string(report.Outcome))
}

// MultiObserver fans callbacks out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) OnRunStart(report *RunReport) {
	for _, o := range m {
		o.OnRunStart(report)
	}
}

func (m MultiObserver) OnStepStart(step StepName) {
	for _, o := range m {
		o.OnStepStart(step)
	}
}

func (m MultiObserver) OnStepComplete(rec StepRecord) {
	for _, o := range m {
		o.OnStepComplete(rec)
	}
}

func (m MultiObserver) OnRunComplete(report *RunReport) {
	for _, o := range m {
		o.OnRunComplete(report)
	}
}

// durationMS converts a duration for log fields.
func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
