package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"git.home.luguber.info/inful/forkpack/internal/logfields"
	"git.home.luguber.info/inful/forkpack/internal/observability"
)

// exitCoder is implemented by errors that carry a process status.
type exitCoder interface{ ExitCode() int }

// RunSteps executes steps in order, recording timing and stopping on the
// first checked failure. The failing step's diagnostic is written to out.
// Steps after the failure are recorded as skipped and never run.
func RunSteps(ctx context.Context, steps []StepDef, report *RunReport, obs Observer, out io.Writer) error {
	if obs == nil {
		obs = NoopObserver{}
	}
	for i, st := range steps {
		select {
		case <-ctx.Done():
			se := NewCanceledStepError(st.Name, ctx.Err())
			rec := StepRecord{Name: st.Name, Policy: st.Policy, Result: StepResultCanceled, Status: 1, Diagnostic: se.Diagnostic, Error: ctx.Err().Error()}
			report.Record(rec)
			obs.OnStepComplete(rec)
			skipRemaining(steps[i+1:], report, obs)
			fmt.Fprintln(out, se.Diagnostic)
			return se
		default:
		}

		obs.OnStepStart(st.Name)
		stepCtx := observability.WithStep(ctx, string(st.Name))
		observability.DebugContext(stepCtx, "Step started", logfields.Policy(string(st.Policy)))

		t0 := time.Now()
		err := st.Fn(stepCtx)
		dur := time.Since(t0)

		rec := StepRecord{Name: st.Name, Policy: st.Policy, Result: StepResultSuccess, Duration: dur}
		if err == nil {
			report.Record(rec)
			obs.OnStepComplete(rec)
			observability.InfoContext(stepCtx, "Step completed", logfields.DurationMS(durationMS(dur)))
			continue
		}

		rec.Status = statusOf(err)
		rec.Error = err.Error()

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			se := NewCanceledStepError(st.Name, err)
			rec.Result = StepResultCanceled
			rec.Diagnostic = se.Diagnostic
			report.Record(rec)
			obs.OnStepComplete(rec)
			skipRemaining(steps[i+1:], report, obs)
			fmt.Fprintln(out, se.Diagnostic)
			return se
		}

		if st.Policy == PolicyBestEffort {
			se := NewWarnStepError(st.Name, err)
			rec.Result = StepResultWarning
			report.Record(rec)
			obs.OnStepComplete(rec)
			observability.WarnContext(stepCtx, "Best-effort step failed; continuing", logfields.Error(se))
			continue
		}

		se := NewFatalStepError(st.Name, st.Diagnostic, err)
		rec.Result = StepResultFatal
		rec.Diagnostic = st.Diagnostic
		report.Record(rec)
		obs.OnStepComplete(rec)
		observability.ErrorContext(stepCtx, "Step failed", logfields.ExitCode(rec.Status), logfields.Error(err))
		skipRemaining(steps[i+1:], report, obs)
		if st.Diagnostic != "" {
			fmt.Fprintln(out, st.Diagnostic)
		}
		return se
	}
	return nil
}

func skipRemaining(rest []StepDef, report *RunReport, obs Observer) {
	for _, st := range rest {
		rec := StepRecord{Name: st.Name, Policy: st.Policy, Result: StepResultSkipped}
		report.Record(rec)
		obs.OnStepComplete(rec)
	}
}

func statusOf(err error) int {
	var ec exitCoder
	if errors.As(err, &ec) && ec.ExitCode() != 0 {
		return ec.ExitCode()
	}
	return 1
}
