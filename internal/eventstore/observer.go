package eventstore

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/forkpack/internal/logfields"
	"git.home.luguber.info/inful/forkpack/internal/pipeline"
)

// Observer records pipeline callbacks as events. Write failures are logged
// and never affect the run.
type Observer struct {
	ctx   context.Context
	store Store
	runID string
	start RunStartedPayload
}

// NewObserver returns an observer writing events for runID. ctx bounds the
// writes; pass a context that outlives cancellation of the run itself so
// the final events are still stored.
func NewObserver(ctx context.Context, store Store, runID string, start RunStartedPayload) *Observer {
	return &Observer{ctx: ctx, store: store, runID: runID, start: start}
}

func (o *Observer) OnRunStart(report *pipeline.RunReport) {
	pl := o.start
	if pl.SourceCommit == "" {
		pl.SourceCommit = report.SourceCommit
	}
	o.append(TypeRunStarted, pl)
}

func (o *Observer) OnStepStart(step pipeline.StepName) {
	o.append(TypeStepStarted, StepStartedPayload{Step: string(step)})
}

func (o *Observer) OnStepComplete(rec pipeline.StepRecord) {
	o.append(TypeStepCompleted, StepCompletedPayload{
		Step:       string(rec.Name),
		Policy:     string(rec.Policy),
		Result:     string(rec.Result),
		Status:     rec.Status,
		Diagnostic: rec.Diagnostic,
		Error:      rec.Error,
		DurationMS: rec.Duration.Milliseconds(),
	})
}

func (o *Observer) OnRunComplete(report *pipeline.RunReport) {
	o.append(TypeRunCompleted, RunCompletedPayload{
		Outcome:     string(report.Outcome),
		ExitCode:    report.ExitCode,
		ArchivePath: report.ArchivePath,
		DurationMS:  report.Duration().Milliseconds(),
		Warnings:    report.Warnings,
	})
}

func (o *Observer) append(eventType string, payload any) {
	e, err := NewEvent(o.runID, eventType, payload)
	if err == nil {
		err = o.store.Append(o.ctx, o.runID, e.Type(), e.Payload(), nil)
	}
	if err != nil {
		slog.Warn("Failed to record run event", logfields.RunID(o.runID), slog.String("event", eventType), logfields.Error(err))
	}
}
