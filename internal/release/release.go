// Package release assembles and runs the fork release pipeline: stamp the
// fork version, graft the base package's prebuilt compiler, build the native
// artifacts and pack the npm tarball.
package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/forkpack/internal/archive"
	"git.home.luguber.info/inful/forkpack/internal/config"
	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
	"git.home.luguber.info/inful/forkpack/internal/gitinfo"
	"git.home.luguber.info/inful/forkpack/internal/logfields"
	"git.home.luguber.info/inful/forkpack/internal/observability"
	"git.home.luguber.info/inful/forkpack/internal/pipeline"
	"git.home.luguber.info/inful/forkpack/internal/runner"
	"git.home.luguber.info/inful/forkpack/internal/versions"
	"git.home.luguber.info/inful/forkpack/internal/workspace"
)

// Options are the per-invocation inputs. They are never mutated during a run.
type Options struct {
	BaseVersion   string
	ForkVersion   string
	HermesVersion string
	Clean         bool
}

// Fetcher downloads a URL to a local file.
type Fetcher interface {
	Download(ctx context.Context, url, destPath string) error
}

// Deps are the capabilities a run needs. Runner and Fetcher are required;
// the rest have defaults.
type Deps struct {
	Runner   runner.Runner
	Fetcher  Fetcher
	Observer pipeline.Observer
	Stdout   io.Writer // diagnostics; defaults to os.Stdout
	RunID    string    // defaults to a random UUID
}

var manifestVersionLine = regexp.MustCompile(`(?m)^version = .*$`)

// releaseRun binds step functions to one run's inputs and resolved paths.
type releaseRun struct {
	cfg    *config.Config
	opts   Options
	paths  workspace.Paths
	deps   Deps
	report *pipeline.RunReport
}

// Plan returns the ordered step list a run with cfg and opts would execute.
func Plan(cfg *config.Config, opts Options) ([]pipeline.StepDef, error) {
	paths, err := workspace.Resolve(cfg.Layout, opts.BaseVersion, opts.ForkVersion)
	if err != nil {
		return nil, err
	}
	r := &releaseRun{cfg: cfg, opts: opts, paths: paths, report: pipeline.NewRunReport("")}
	return r.steps()
}

// Run executes the pipeline and returns the process exit code with the run report.
func Run(ctx context.Context, cfg *config.Config, opts Options, deps Deps) (int, *pipeline.RunReport) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Observer == nil {
		deps.Observer = pipeline.NoopObserver{}
	}
	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}

	ctx = observability.WithRunID(ctx, deps.RunID)
	report := pipeline.NewRunReport(deps.RunID)
	report.BaseVersion = opts.BaseVersion
	report.ForkVersion = opts.ForkVersion
	log := slog.With(logfields.RunID(deps.RunID))

	paths, err := workspace.Resolve(cfg.Layout, opts.BaseVersion, opts.ForkVersion)
	if err != nil {
		log.Error("Failed to resolve workspace", logfields.Error(err))
		_, _ = fmt.Fprintln(deps.Stdout, DiagResolve)
		report.Finish(err)
		return report.ExitCode, report
	}

	if rev, gitErr := gitinfo.Head(paths.RepoRoot); gitErr == nil {
		report.SourceCommit = rev.Commit
	} else {
		log.Debug("Source revision unavailable", logfields.Error(gitErr))
	}
	if cfg.Layout.CheckDirty {
		if dirty, gitErr := gitinfo.Dirty(paths.RepoRoot); gitErr != nil {
			log.Debug("Worktree status unavailable", logfields.Error(gitErr))
		} else if dirty {
			report.AddWarning(DirtyWorktreeWarning)
		}
	}

	if versions.Valid(opts.BaseVersion) && versions.Valid(opts.ForkVersion) &&
		versions.Compare(versions.Core(opts.ForkVersion), versions.Core(opts.BaseVersion)) < 0 {
		msg := fmt.Sprintf("fork version %s sorts below base version %s", opts.ForkVersion, opts.BaseVersion)
		log.Warn(msg)
		report.AddWarning(msg)
	}

	r := &releaseRun{cfg: cfg, opts: opts, paths: paths, deps: deps, report: report}
	steps, err := r.steps()
	if err != nil {
		log.Error("Invalid step configuration", logfields.Error(err))
		_, _ = fmt.Fprintln(deps.Stdout, DiagResolve)
		report.Finish(err)
		return report.ExitCode, report
	}

	log.Info("Release started",
		logfields.Version(opts.ForkVersion),
		slog.String("base_version", opts.BaseVersion),
		logfields.Path(paths.PackageDir))

	deps.Observer.OnRunStart(report)
	err = pipeline.RunSteps(ctx, steps, report, deps.Observer, deps.Stdout)
	report.Finish(err)
	deps.Observer.OnRunComplete(report)

	log.Info("Release finished",
		logfields.Result(string(report.Outcome)),
		logfields.ExitCode(report.ExitCode),
		logfields.DurationMS(float64(report.Duration().Milliseconds())))
	return report.ExitCode, report
}

func (r *releaseRun) steps() ([]pipeline.StepDef, error) {
	b := pipeline.NewBuilder().
		AddIf(r.opts.Clean, pipeline.StepDef{Name: StepClean, Fn: r.clean, Policy: pipeline.PolicyBestEffort}).
		Add(pipeline.StepDef{Name: StepSetVersion, Fn: r.setVersion, Policy: pipeline.PolicyChecked,
			Diagnostic: fmt.Sprintf(DiagSetVersionFmt, r.opts.ForkVersion)}).
		Add(pipeline.StepDef{Name: StepPatchManifest, Fn: r.patchManifest, Policy: pipeline.PolicyBestEffort}).
		Add(pipeline.StepDef{Name: StepDownloadBase, Fn: r.downloadBase, Policy: pipeline.PolicyChecked, Diagnostic: DiagDownload}).
		Add(pipeline.StepDef{Name: StepExtractBase, Fn: r.extractBase, Policy: pipeline.PolicyChecked, Diagnostic: DiagExtract}).
		Add(pipeline.StepDef{Name: StepCopyHermesc, Fn: r.copyHermesc, Policy: pipeline.PolicyChecked, Diagnostic: DiagCopyHermesc}).
		Add(pipeline.StepDef{Name: StepWriteHermesVersion, Fn: r.writeHermesVersion, Policy: pipeline.PolicyBestEffort}).
		Add(pipeline.StepDef{Name: StepClearNativeOutput, Fn: r.clearNativeOutput, Policy: pipeline.PolicyBestEffort}).
		Add(pipeline.StepDef{Name: StepNativeBuild, Fn: r.nativeBuild, Policy: pipeline.PolicyChecked, Diagnostic: DiagNativeBuild}).
		Add(pipeline.StepDef{Name: StepCopyNativeArtifacts, Fn: r.copyNativeArtifacts, Policy: pipeline.PolicyChecked, Diagnostic: DiagCopyArtifacts}).
		Add(pipeline.StepDef{Name: StepPack, Fn: r.pack, Policy: pipeline.PolicyChecked, Diagnostic: DiagPack})

	for name := range r.cfg.PolicyOverrides {
		if !IsStep(name) {
			return nil, ferrors.ConfigError(fmt.Sprintf("policy_overrides: unknown step %q", name)).Build()
		}
		if p, ok := r.cfg.PolicyOverride(name); ok {
			b.WithPolicy(pipeline.StepName(name), pipeline.Policy(p))
		}
	}
	return b.Build()
}

// clean removes every configured clean target. Missing targets are fine.
func (r *releaseRun) clean(ctx context.Context) error {
	var errs []error
	for _, target := range r.paths.CleanTargets {
		if err := os.RemoveAll(target); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", target, err))
			continue
		}
		observability.DebugContext(ctx, "Removed clean target", logfields.Path(target))
	}
	return errors.Join(errs...)
}

func (r *releaseRun) setVersion(ctx context.Context) error {
	if err := versions.Validate("fork version", r.opts.ForkVersion); err != nil {
		return err
	}
	return r.runCommand(ctx, r.cfg.Commands.SetVersion)
}

// patchManifest pins the podspec to the base version so the base package's
// prebuilt binaries are used.
func (r *releaseRun) patchManifest(ctx context.Context) error {
	info, err := os.Stat(r.paths.Manifest)
	if err != nil {
		return fmt.Errorf("stat manifest: %w", err)
	}
	data, err := os.ReadFile(r.paths.Manifest)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if !manifestVersionLine.Match(data) {
		return fmt.Errorf("no version line in %s", r.paths.Manifest)
	}
	patched := manifestVersionLine.ReplaceAllLiteral(data, []byte(fmt.Sprintf("version = '%s'", r.opts.BaseVersion)))
	if err := os.WriteFile(r.paths.Manifest, patched, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	observability.DebugContext(ctx, "Patched manifest version", logfields.Path(r.paths.Manifest), logfields.Version(r.opts.BaseVersion))
	return nil
}

func (r *releaseRun) downloadBase(ctx context.Context) error {
	if err := versions.Validate("base version", r.opts.BaseVersion); err != nil {
		return err
	}
	if err := workspace.NewManager(r.paths.TempDir).Create(); err != nil {
		return err
	}
	url := r.tarballURL()
	observability.InfoContext(ctx, "Downloading base package", logfields.URL(url), logfields.Path(r.paths.DownloadArchive))
	return r.deps.Fetcher.Download(ctx, url, r.paths.DownloadArchive)
}

func (r *releaseRun) tarballURL() string {
	name := r.cfg.Layout.PackageName
	base := strings.TrimRight(r.cfg.Registry.URL, "/")
	// Scoped packages keep their scope in the path but not in the file name.
	file := name[strings.LastIndex(name, "/")+1:]
	return fmt.Sprintf("%s/%s/-/%s-%s.tgz", base, name, file, r.opts.BaseVersion)
}

func (r *releaseRun) extractBase(_ context.Context) error {
	return archive.ExtractTarGz(r.paths.DownloadArchive, r.paths.TempDir)
}

func (r *releaseRun) copyHermesc(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(r.paths.ArtifactDest), 0o750); err != nil {
		return err
	}
	return copyDir(r.paths.ArtifactSource, r.paths.ArtifactDest)
}

// writeHermesVersion writes the marker with exactly the given value. Without
// a value any stale marker is removed so the tree reflects this run only.
func (r *releaseRun) writeHermesVersion(_ context.Context) error {
	if r.opts.HermesVersion == "" {
		if err := os.Remove(r.paths.VersionTag); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.paths.VersionTag), 0o750); err != nil {
		return err
	}
	return os.WriteFile(r.paths.VersionTag, []byte(r.opts.HermesVersion), 0o644) // #nosec G306 -- shipped in the package
}

func (r *releaseRun) clearNativeOutput(_ context.Context) error {
	return os.RemoveAll(r.paths.NativeOutput)
}

func (r *releaseRun) nativeBuild(ctx context.Context) error {
	return r.runCommand(ctx, r.cfg.Commands.NativeBuild)
}

func (r *releaseRun) copyNativeArtifacts(_ context.Context) error {
	return copyDir(r.paths.NativeOutput, r.paths.NativeDest)
}

func (r *releaseRun) pack(ctx context.Context) error {
	if err := r.runCommand(ctx, r.cfg.Commands.Pack); err != nil {
		return err
	}
	if _, err := os.Stat(r.paths.OutputArchive); err != nil {
		msg := fmt.Sprintf("packaging succeeded but %s was not found", r.paths.OutputArchive)
		observability.WarnContext(ctx, msg)
		r.report.AddWarning(msg)
		return nil
	}
	r.report.ArchivePath = r.paths.OutputArchive
	return nil
}

func (r *releaseRun) runCommand(ctx context.Context, spec config.CommandSpec) error {
	cmd := r.command(spec)
	res, err := r.deps.Runner.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &runner.ExitError{Command: cmd.String(), Code: res.ExitCode}
	}
	return nil
}

// command expands placeholders in spec. Dir is relative to the repository root.
func (r *releaseRun) command(spec config.CommandSpec) runner.Command {
	rep := strings.NewReplacer(
		"{fork_version}", r.opts.ForkVersion,
		"{base_version}", r.opts.BaseVersion,
		"{hermes_version}", r.opts.HermesVersion,
		"{repo_root}", r.paths.RepoRoot,
		"{package_dir}", r.paths.PackageDir,
	)
	cmd := runner.Command{Dir: r.paths.RepoRoot}
	for _, a := range spec.Args {
		cmd.Args = append(cmd.Args, rep.Replace(a))
	}
	for _, e := range spec.Env {
		cmd.Env = append(cmd.Env, rep.Replace(e))
	}
	if spec.Dir != "" {
		dir := rep.Replace(spec.Dir)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.paths.RepoRoot, dir)
		}
		cmd.Dir = dir
	}
	return cmd
}
