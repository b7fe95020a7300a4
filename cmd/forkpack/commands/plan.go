package commands

import (
	"io"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/forkpack/internal/config"
	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
	"git.home.luguber.info/inful/forkpack/internal/plan"
	"git.home.luguber.info/inful/forkpack/internal/release"
)

// PlanCmd implements the 'plan' command.
type PlanCmd struct {
	Format      string `short:"f" help:"Output format: text, mermaid, dot, json" default:"text" enum:"text,mermaid,dot,json"`
	Output      string `short:"o" help:"Output file path (optional, prints to stdout if not specified)"`
	Clean       bool   `help:"Include the clean step"`
	BaseVersion string `name:"base-version" help:"Base version used in paths and diagnostics" default:"<base-version>"`
	ForkVersion string `name:"fork-version" help:"Fork version used in paths and diagnostics" default:"<fork-version>"`
}

// Run executes the plan command.
func (cmd *PlanCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	if cmd.Output == "" {
		return RunPlan(os.Stdout, cfg, cmd)
	}

	f, err := os.Create(cmd.Output)
	if err != nil {
		return ferrors.FileSystemError("failed to create output file").WithCause(err).
			WithContext("path", cmd.Output).Build()
	}
	if err := RunPlan(f, cfg, cmd); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return ferrors.FileSystemError("failed to write output file").WithCause(err).
			WithContext("path", cmd.Output).Build()
	}
	slog.Info("Release plan written", "file", cmd.Output, "format", cmd.Format)
	return nil
}

// RunPlan renders the step list cfg would run.
func RunPlan(w io.Writer, cfg *config.Config, cmd *PlanCmd) error {
	steps, err := release.Plan(cfg, release.Options{
		BaseVersion: cmd.BaseVersion,
		ForkVersion: cmd.ForkVersion,
		Clean:       cmd.Clean,
	})
	if err != nil {
		return err
	}
	out, err := plan.Render(plan.Format(cmd.Format), steps)
	if err != nil {
		return ferrors.InternalError("failed to render plan").WithCause(err).
			WithContext("format", cmd.Format).Build()
	}
	_, err = io.WriteString(w, out)
	return err
}
