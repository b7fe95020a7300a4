package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/forkpack/internal/config"
	"git.home.luguber.info/inful/forkpack/internal/eventstore"
	"git.home.luguber.info/inful/forkpack/internal/fetch"
	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
	"git.home.luguber.info/inful/forkpack/internal/logfields"
	"git.home.luguber.info/inful/forkpack/internal/metrics"
	"git.home.luguber.info/inful/forkpack/internal/notify"
	"git.home.luguber.info/inful/forkpack/internal/pipeline"
	"git.home.luguber.info/inful/forkpack/internal/release"
	"git.home.luguber.info/inful/forkpack/internal/retry"
	"git.home.luguber.info/inful/forkpack/internal/runner"
)

// PackCmd implements the 'pack' command.
type PackCmd struct {
	BaseVersion   string `name:"base-version" required:"" help:"Upstream react-native version whose prebuilt hermesc is reused"`
	ForkVersion   string `name:"fork-version" required:"" help:"Version stamped into the fork package"`
	HermesVersion string `name:"hermes-version" help:"Hermes version written to the version marker (optional)"`
	Clean         bool   `help:"Remove build directories before building"`
	RepoRoot      string `name:"repo-root" help:"Override layout.repo_root"`
}

func (p *PackCmd) options() release.Options {
	return release.Options{
		BaseVersion:   p.BaseVersion,
		ForkVersion:   p.ForkVersion,
		HermesVersion: p.HermesVersion,
		Clean:         p.Clean,
	}
}

func (p *PackCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if p.RepoRoot != "" {
		cfg.Layout.RepoRoot = p.RepoRoot
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := func(rec metrics.Recorder) release.Fetcher {
		return fetch.NewDownloader(cfg.Registry.Timeout).
			WithPolicy(retry.FromConfig(cfg.Download)).
			WithRecorder(rec)
	}
	return RunPack(ctx, cfg, p.options(), runner.NewExecRunner(os.Stdout, os.Stderr), fetcher)
}

// RunPack wires the observers around a release run and turns its exit code
// into an error for the CLI adapter.
func RunPack(ctx context.Context, cfg *config.Config, opts release.Options, r runner.Runner, newFetcher func(metrics.Recorder) release.Fetcher) error {
	// Surface bad step overrides as configuration errors before anything runs.
	if _, err := release.Plan(cfg, opts); err != nil {
		return err
	}

	runID := uuid.NewString()
	rec := metrics.NewPrometheusRecorder(nil)
	observers := pipeline.MultiObserver{pipeline.RecorderObserver{Recorder: rec}}

	if cfg.History.Path != "" {
		store, err := eventstore.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			slog.Warn("Run history disabled", logfields.Path(cfg.History.Path), logfields.Error(err))
		} else {
			defer func() {
				if cerr := store.Close(); cerr != nil {
					slog.Warn("Failed to close run history", logfields.Error(cerr))
				}
			}()
			observers = append(observers, eventstore.NewObserver(context.WithoutCancel(ctx), store, runID, eventstore.RunStartedPayload{
				BaseVersion:   opts.BaseVersion,
				ForkVersion:   opts.ForkVersion,
				HermesVersion: opts.HermesVersion,
				Clean:         opts.Clean,
			}))
		}
	}

	code, report := release.Run(ctx, cfg, opts, release.Deps{
		Runner:   r,
		Fetcher:  newFetcher(rec),
		Observer: observers,
		Stdout:   os.Stdout,
		RunID:    runID,
	})

	if cfg.Metrics.Textfile != "" {
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			slog.Warn("Failed to write metrics textfile", logfields.Path(cfg.Metrics.Textfile), logfields.Error(err))
		}
	}
	if cfg.Notify.NATSURL != "" {
		publishSummary(cfg.Notify, report)
	}

	for _, w := range report.Warnings {
		slog.Warn("Release warning", logfields.RunID(runID), slog.String("warning", w))
	}
	if code == 0 {
		if report.ArchivePath != "" {
			fmt.Printf("Created %s\n", report.ArchivePath)
		}
		return nil
	}
	return runError(report)
}

func publishSummary(cfg config.NotifyConfig, report *pipeline.RunReport) {
	pub, err := notify.Connect(cfg)
	if err != nil {
		slog.Warn("Run notification skipped", logfields.URL(cfg.NATSURL), logfields.Error(err))
		return
	}
	defer pub.Close()
	if err := pub.Publish(notify.Summarize(report)); err != nil {
		slog.Warn("Run notification failed", logfields.URL(cfg.NATSURL), logfields.Error(err))
	}
}

// runError describes a failed run. The diagnostic is already on stdout.
func runError(report *pipeline.RunReport) error {
	if report.Outcome == pipeline.OutcomeCanceled {
		return ferrors.CanceledError(pipeline.CanceledDiagnostic).
			WithContext("run_id", report.RunID).
			Build()
	}
	b := ferrors.StepError("release pipeline failed").WithContext("run_id", report.RunID)
	for _, s := range report.Steps {
		if s.Result == pipeline.StepResultFatal {
			b = b.WithContext("step", string(s.Name))
			if s.Error != "" {
				b = b.WithCause(errors.New(s.Error))
			}
			break
		}
	}
	return b.Build()
}
