// Package eventstore persists release run events and rebuilds run history from them.
package eventstore

import (
	"context"
	"sort"
	"time"
)

const runStatusRunning = "running"

// RunSummary is a read model of one release run.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	BaseVersion  string        `json:"base_version"`
	ForkVersion  string        `json:"fork_version"`
	SourceCommit string        `json:"source_commit,omitempty"`
	Status       string        `json:"status"` // running or the final outcome
	ExitCode     int           `json:"exit_code"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	FailedStep   string        `json:"failed_step,omitempty"`
	Diagnostic   string        `json:"diagnostic,omitempty"`
	Warnings     int           `json:"warnings"`
	ArchivePath  string        `json:"archive_path,omitempty"`
}

// HistoryProjection reconstructs run summaries from stored events.
type HistoryProjection struct {
	store Store
	runs  map[string]*RunSummary
}

// NewHistoryProjection creates a projection backed by store.
func NewHistoryProjection(store Store) *HistoryProjection {
	return &HistoryProjection{store: store, runs: map[string]*RunSummary{}}
}

// Rebuild replays every event in [since, now] and returns summaries newest first.
func (p *HistoryProjection) Rebuild(ctx context.Context, since time.Time) ([]*RunSummary, error) {
	events, err := p.store.GetRange(ctx, since, time.Now().Add(time.Minute))
	if err != nil {
		return nil, err
	}
	p.runs = map[string]*RunSummary{}
	for _, e := range events {
		p.Apply(e)
	}
	return p.List(), nil
}

// Run replays the events of a single run.
func (p *HistoryProjection) Run(ctx context.Context, runID string) (*RunSummary, []Event, error) {
	events, err := p.store.GetByRunID(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	delete(p.runs, runID)
	for _, e := range events {
		p.Apply(e)
	}
	return p.runs[runID], events, nil
}

// Apply folds a single event into the projection.
func (p *HistoryProjection) Apply(e Event) {
	runID := e.RunID()
	if runID == "" {
		return
	}
	s, ok := p.runs[runID]
	if !ok {
		s = &RunSummary{RunID: runID, Status: runStatusRunning, StartedAt: e.Timestamp()}
		p.runs[runID] = s
	}

	switch e.Type() {
	case TypeRunStarted:
		var pl RunStartedPayload
		if Decode(e, &pl) == nil {
			s.BaseVersion = pl.BaseVersion
			s.ForkVersion = pl.ForkVersion
			s.SourceCommit = pl.SourceCommit
		}
		s.StartedAt = e.Timestamp()
	case TypeStepCompleted:
		var pl StepCompletedPayload
		if Decode(e, &pl) != nil {
			return
		}
		switch pl.Result {
		case "warning":
			s.Warnings++
		case "fatal", "canceled":
			if s.FailedStep == "" {
				s.FailedStep = pl.Step
				s.Diagnostic = pl.Diagnostic
			}
		}
	case TypeRunCompleted:
		var pl RunCompletedPayload
		if Decode(e, &pl) == nil {
			s.Status = pl.Outcome
			s.ExitCode = pl.ExitCode
			s.ArchivePath = pl.ArchivePath
			s.Duration = time.Duration(pl.DurationMS) * time.Millisecond
		}
		ts := e.Timestamp()
		s.CompletedAt = &ts
	}
}

// List returns all known runs, newest first.
func (p *HistoryProjection) List() []*RunSummary {
	out := make([]*RunSummary, 0, len(p.runs))
	for _, s := range p.runs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
