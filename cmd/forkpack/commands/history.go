package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/forkpack/internal/config"
	"git.home.luguber.info/inful/forkpack/internal/eventstore"
	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	RunID string        `name:"run" help:"Show the events of a single run"`
	Since time.Duration `help:"How far back to list runs" default:"168h"`
	JSON  bool          `help:"Print JSON instead of a table"`
}

func (h *HistoryCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	return RunHistory(context.Background(), os.Stdout, cfg, h)
}

// RunHistory prints recorded runs from the configured event store.
func RunHistory(ctx context.Context, w io.Writer, cfg *config.Config, h *HistoryCmd) error {
	if cfg.History.Path == "" {
		return ferrors.ConfigError("history.path is not configured").Build()
	}
	store, err := eventstore.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	proj := eventstore.NewHistoryProjection(store)
	if h.RunID != "" {
		summary, events, err := proj.Run(ctx, h.RunID)
		if err != nil {
			return err
		}
		if summary == nil {
			return ferrors.NewError(ferrors.CategoryNotFound, fmt.Sprintf("no run with id %s", h.RunID)).Build()
		}
		if h.JSON {
			return writeJSON(w, struct {
				Run    *eventstore.RunSummary `json:"run"`
				Events []eventRow             `json:"events"`
			}{summary, eventRows(events)})
		}
		return writeRun(w, summary, events)
	}

	runs, err := proj.Rebuild(ctx, time.Now().Add(-h.Since))
	if err != nil {
		return err
	}
	if h.JSON {
		return writeJSON(w, runs)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RUN\tSTARTED\tFORK\tBASE\tSTATUS\tEXIT\tFAILED STEP")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RunID, r.StartedAt.Format(time.RFC3339), r.ForkVersion, r.BaseVersion, r.Status, r.ExitCode, r.FailedStep)
	}
	return tw.Flush()
}

type eventRow struct {
	Time    time.Time       `json:"time"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func eventRows(events []eventstore.Event) []eventRow {
	rows := make([]eventRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, eventRow{Time: e.Timestamp(), Type: e.Type(), Payload: e.Payload()})
	}
	return rows
}

func writeRun(w io.Writer, s *eventstore.RunSummary, events []eventstore.Event) error {
	_, _ = fmt.Fprintf(w, "Run %s\n", s.RunID)
	_, _ = fmt.Fprintf(w, "  fork %s, base %s\n", s.ForkVersion, s.BaseVersion)
	if s.SourceCommit != "" {
		_, _ = fmt.Fprintf(w, "  commit %s\n", s.SourceCommit)
	}
	_, _ = fmt.Fprintf(w, "  status %s (exit %d)\n", s.Status, s.ExitCode)
	if s.FailedStep != "" {
		_, _ = fmt.Fprintf(w, "  failed at %s: %s\n", s.FailedStep, s.Diagnostic)
	}
	if s.ArchivePath != "" {
		_, _ = fmt.Fprintf(w, "  archive %s\n", s.ArchivePath)
	}
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%s  %-14s %s\n", e.Timestamp().Format(time.RFC3339), e.Type(), e.Payload())
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
