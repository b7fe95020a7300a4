package release

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/forkpack/internal/config"
	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
	"git.home.luguber.info/inful/forkpack/internal/pipeline"
	"git.home.luguber.info/inful/forkpack/internal/runner"
)

const podspec = "Pod::Spec.new do |spec|\nversion = '1000.0.0'\nend\n"

// fixture is a fake fork checkout with spy capabilities.
type fixture struct {
	t       *testing.T
	root    string
	pkgDir  string
	cfg     *config.Config
	runner  *spyRunner
	fetcher *spyFetcher
	stdout  bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Layout.RepoRoot = root
	cfg.Layout.TempDir = filepath.Join(root, "tmp", "hermesc")
	cfg.Layout.NativeOutputDir = filepath.Join(root, "maven-local")

	f := &fixture{t: t, root: root, pkgDir: filepath.Join(root, "packages", "react-native"), cfg: cfg}
	f.write("sdks/hermes-engine/hermes-engine.podspec", podspec)
	f.runner = &spyRunner{f: f, fail: map[string]int{}}
	f.fetcher = &spyFetcher{body: npmTarball(t)}
	return f
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	p := filepath.Join(f.pkgDir, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o600))
}

func (f *fixture) pkgPath(rel string) string { return filepath.Join(f.pkgDir, rel) }

func (f *fixture) run(opts Options) (int, *pipeline.RunReport) {
	f.stdout.Reset()
	return Run(f.t.Context(), f.cfg, opts, Deps{Runner: f.runner, Fetcher: f.fetcher, Stdout: &f.stdout, RunID: "test-run"})
}

// snapshot maps every path under the package dir to its content.
func (f *fixture) snapshot() map[string]string {
	f.t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(f.pkgDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.pkgDir, path)
		if d.IsDir() {
			out[rel+"/"] = ""
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(f.t, err)
	return out
}

// spyRunner records invocations. The fake native build writes a maven repo,
// the fake pack writes the archive.
type spyRunner struct {
	f     *fixture
	calls []string
	fail  map[string]int // program -> exit code

	// cancel is invoked while the cancelOn program runs, which then
	// completes normally.
	cancelOn string
	cancel   context.CancelFunc

	cleanTargetsPresentAtSetVersion []string
	artifactsPresentAtPack          bool
}

func (s *spyRunner) Run(_ context.Context, cmd runner.Command) (runner.Result, error) {
	name := cmd.Args[0]
	s.calls = append(s.calls, name)
	if name == s.cancelOn && s.cancel != nil {
		s.cancel()
	}

	switch name {
	case "node":
		for _, target := range []string{"android", "sdks/download", "sdks/hermes", "sdks/hermesc"} {
			if _, err := os.Stat(s.f.pkgPath(target)); err == nil {
				s.cleanTargetsPresentAtSetVersion = append(s.cleanTargetsPresentAtSetVersion, target)
			}
		}
	case "npm":
		_, err := os.Stat(s.f.pkgPath("android/com/facebook/react/react-android/1.0/react-android.aar"))
		s.artifactsPresentAtPack = err == nil
	}

	if code, ok := s.fail[name]; ok {
		return runner.Result{ExitCode: code}, &runner.ExitError{Command: cmd.String(), Code: code}
	}

	switch name {
	case "./gradlew":
		out := filepath.Join(s.f.cfg.Layout.NativeOutputDir, "com", "facebook", "react", "react-android", "1.0")
		if err := os.MkdirAll(out, 0o750); err != nil {
			return runner.Result{ExitCode: -1}, err
		}
		if err := os.WriteFile(filepath.Join(out, "react-android.aar"), []byte("aar"), 0o600); err != nil {
			return runner.Result{ExitCode: -1}, err
		}
	case "npm":
		if err := os.WriteFile(filepath.Join(cmd.Dir, "react-native-0.72.0-fork.1.tgz"), []byte("tgz"), 0o600); err != nil {
			return runner.Result{ExitCode: -1}, err
		}
	}
	return runner.Result{}, nil
}

func (s *spyRunner) count(name string) int {
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

type spyFetcher struct {
	body  []byte
	err   error
	calls int
	urls  []string
}

func (s *spyFetcher) Download(_ context.Context, url, dest string) error {
	s.calls++
	s.urls = append(s.urls, url)
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(dest, s.body, 0o600)
}

func npmTarball(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	files := map[string]string{
		"package/package.json":                 `{"name":"react-native","version":"0.72.0"}`,
		"package/sdks/hermesc/osx-bin/hermesc": "mac",
		"package/sdks/hermesc/linux64-bin/hc":  "linux",
	}
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func defaultOpts() Options {
	return Options{BaseVersion: "0.72.0", ForkVersion: "0.72.0-fork.1"}
}

func TestRun_AllStepsSucceed(t *testing.T) {
	f := newFixture(t)

	code, report := f.run(defaultOpts())

	assert.Equal(t, 0, code)
	assert.Equal(t, pipeline.OutcomeSuccess, report.Outcome)
	assert.Empty(t, f.stdout.String())
	assert.Equal(t, []string{"node", "./gradlew", "npm"}, f.runner.calls)
	assert.Equal(t, 1, f.runner.count("npm"))
	assert.True(t, f.runner.artifactsPresentAtPack, "pack must run after artifact collection")
	assert.Equal(t, []string{"https://registry.npmjs.com/react-native/-/react-native-0.72.0.tgz"}, f.fetcher.urls)

	assert.Equal(t, []pipeline.StepName{
		StepSetVersion, StepPatchManifest, StepDownloadBase, StepExtractBase, StepCopyHermesc,
		StepWriteHermesVersion, StepClearNativeOutput, StepNativeBuild, StepCopyNativeArtifacts, StepPack,
	}, report.Executed())

	manifest, err := os.ReadFile(f.pkgPath("sdks/hermes-engine/hermes-engine.podspec"))
	require.NoError(t, err)
	assert.Equal(t, "Pod::Spec.new do |spec|\nversion = '0.72.0'\nend\n", string(manifest))

	assert.FileExists(t, f.pkgPath("sdks/hermesc/osx-bin/hermesc"))
	assert.FileExists(t, f.pkgPath("sdks/hermesc/linux64-bin/hc"))
	assert.Equal(t, f.pkgPath("react-native-0.72.0-fork.1.tgz"), report.ArchivePath)
}

func TestRun_CleanRemovesTargetsBeforeVersioning(t *testing.T) {
	f := newFixture(t)
	for _, target := range []string{"android/stale.aar", "sdks/download/x", "sdks/hermes/y", "sdks/hermesc/z"} {
		f.write(target, "stale")
	}
	opts := defaultOpts()
	opts.Clean = true

	code, report := f.run(opts)

	require.Equal(t, 0, code)
	assert.Empty(t, f.runner.cleanTargetsPresentAtSetVersion)
	assert.Equal(t, StepClean, report.Steps[0].Name)
	assert.NoFileExists(t, f.pkgPath("android/stale.aar"))
	assert.NoFileExists(t, f.pkgPath("sdks/hermesc/z"))
}

func TestRun_WithoutCleanKeepsExistingTree(t *testing.T) {
	f := newFixture(t)
	f.write("sdks/download/keep", "x")

	code, report := f.run(defaultOpts())

	require.Equal(t, 0, code)
	_, ran := report.Step(StepClean)
	assert.False(t, ran)
	assert.FileExists(t, f.pkgPath("sdks/download/keep"))
}

func TestRun_SetVersionFailureHalts(t *testing.T) {
	f := newFixture(t)
	f.runner.fail["node"] = 1

	code, report := f.run(defaultOpts())

	assert.NotEqual(t, 0, code)
	assert.Equal(t, "Failed to set version number to 0.72.0-fork.1\n", f.stdout.String())
	assert.Equal(t, []string{"node"}, f.runner.calls)
	assert.Equal(t, 0, f.fetcher.calls)
	assert.Equal(t, []pipeline.StepName{StepSetVersion}, report.Executed())

	rec, ok := report.Step(StepPack)
	require.True(t, ok)
	assert.Equal(t, pipeline.StepResultSkipped, rec.Result)

	manifest, err := os.ReadFile(f.pkgPath("sdks/hermes-engine/hermes-engine.podspec"))
	require.NoError(t, err)
	assert.Equal(t, podspec, string(manifest))
}

func TestRun_InvalidForkVersionFailsVersioning(t *testing.T) {
	f := newFixture(t)
	opts := defaultOpts()
	opts.ForkVersion = "next"

	code, _ := f.run(opts)

	assert.Equal(t, 1, code)
	assert.Equal(t, "Failed to set version number to next\n", f.stdout.String())
	assert.Empty(t, f.runner.calls)
}

func TestRun_PrefixedBaseVersionFailsDownload(t *testing.T) {
	f := newFixture(t)
	opts := defaultOpts()
	opts.BaseVersion = "v0.72.0"

	code, _ := f.run(opts)

	assert.Equal(t, 1, code)
	assert.Equal(t, "Failed to download base react-native package\n", f.stdout.String())
	assert.Equal(t, 0, f.fetcher.calls)
}

func TestRun_DownloadFailureSkipsRest(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = ferrors.NetworkError("download failed: 404").Build()

	code, report := f.run(defaultOpts())

	assert.Equal(t, 1, code)
	assert.Equal(t, "Failed to download base react-native package\n", f.stdout.String())
	assert.Equal(t, []string{"node"}, f.runner.calls)
	for _, name := range []pipeline.StepName{StepExtractBase, StepCopyHermesc, StepWriteHermesVersion, StepClearNativeOutput, StepNativeBuild, StepCopyNativeArtifacts, StepPack} {
		rec, ok := report.Step(name)
		require.True(t, ok, name)
		assert.Equal(t, pipeline.StepResultSkipped, rec.Result, name)
	}
}

func TestRun_CheckedFailuresHaveDistinctDiagnostics(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		want  string
	}{
		{"extract", func(f *fixture) { f.fetcher.body = []byte("not gzip") }, DiagExtract},
		{"copy hermesc", func(f *fixture) { f.fetcher.body = emptyTarball(t) }, DiagCopyHermesc},
		{"native build", func(f *fixture) { f.runner.fail["./gradlew"] = 1 }, DiagNativeBuild},
		{"pack", func(f *fixture) { f.runner.fail["npm"] = 1 }, DiagPack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			code, _ := f.run(defaultOpts())

			assert.Equal(t, 1, code)
			assert.Equal(t, tt.want+"\n", f.stdout.String())
		})
	}
}

func TestRun_CopyArtifactsFailure(t *testing.T) {
	f := newFixture(t)
	// Point the build command at something that produces no output.
	f.cfg.Commands.NativeBuild = config.CommandSpec{Args: []string{"true"}}

	code, report := f.run(defaultOpts())

	assert.Equal(t, 1, code)
	assert.Equal(t, DiagCopyArtifacts+"\n", f.stdout.String())
	assert.Equal(t, 0, f.runner.count("npm"))
	rec, _ := report.Step(StepCopyNativeArtifacts)
	assert.Equal(t, pipeline.StepResultFatal, rec.Result)
}

func emptyTarball(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "package/package.json", Typeflag: tar.TypeReg, Mode: 0o644, Size: 2}))
	_, err := tw.Write([]byte("{}"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestRun_HermesVersionMarker(t *testing.T) {
	f := newFixture(t)

	code, _ := f.run(defaultOpts())
	require.Equal(t, 0, code)
	assert.NoFileExists(t, f.pkgPath("sdks/.hermesversion"))

	opts := defaultOpts()
	opts.HermesVersion = "v1.2.3"
	code, _ = f.run(opts)
	require.Equal(t, 0, code)

	data, err := os.ReadFile(f.pkgPath("sdks/.hermesversion"))
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", string(data))

	code, _ = f.run(defaultOpts())
	require.Equal(t, 0, code)
	assert.NoFileExists(t, f.pkgPath("sdks/.hermesversion"))
}

func TestRun_CleanRunsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	opts := defaultOpts()
	opts.Clean = true
	opts.HermesVersion = "v1.2.3"

	code, _ := f.run(opts)
	require.Equal(t, 0, code)
	first := f.snapshot()

	code, _ = f.run(opts)
	require.Equal(t, 0, code)
	second := f.snapshot()

	assert.Equal(t, first, second)
}

func TestRun_BestEffortFailuresDoNotHalt(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.pkgPath("sdks/hermes-engine/hermes-engine.podspec")))

	code, report := f.run(defaultOpts())

	assert.Equal(t, 0, code)
	assert.Equal(t, pipeline.OutcomeWarning, report.Outcome)
	rec, _ := report.Step(StepPatchManifest)
	assert.Equal(t, pipeline.StepResultWarning, rec.Result)
	assert.Empty(t, f.stdout.String())
}

func TestRun_PolicyOverridePromotesStep(t *testing.T) {
	f := newFixture(t)
	f.cfg.PolicyOverrides = map[string]string{"patch_manifest": "checked"}
	require.NoError(t, os.Remove(f.pkgPath("sdks/hermes-engine/hermes-engine.podspec")))

	code, report := f.run(defaultOpts())

	assert.Equal(t, 1, code)
	rec, _ := report.Step(StepPatchManifest)
	assert.Equal(t, pipeline.StepResultFatal, rec.Result)
	assert.Equal(t, 0, f.fetcher.calls)
}

func TestRun_MissingArchiveIsWarning(t *testing.T) {
	f := newFixture(t)
	opts := defaultOpts()
	opts.ForkVersion = "0.72.0-fork.2" // spy pack writes the fork.1 name

	code, report := f.run(opts)

	assert.Equal(t, 0, code)
	assert.Equal(t, pipeline.OutcomeWarning, report.Outcome)
	assert.Empty(t, report.ArchivePath)
	assert.NotEmpty(t, report.Warnings)
}

func TestRun_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	code, report := Run(ctx, f.cfg, defaultOpts(), Deps{Runner: f.runner, Fetcher: f.fetcher, Stdout: &f.stdout})

	assert.Equal(t, 1, code)
	assert.Equal(t, pipeline.OutcomeCanceled, report.Outcome)
	assert.Equal(t, pipeline.CanceledDiagnostic+"\n", f.stdout.String())
	assert.Empty(t, f.runner.calls)
	assert.NotEmpty(t, report.RunID)
}

func TestRun_CanceledWhileCommandRuns(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	f.runner.cancelOn = "node"
	f.runner.cancel = cancel

	code, report := Run(ctx, f.cfg, defaultOpts(), Deps{Runner: f.runner, Fetcher: f.fetcher, Stdout: &f.stdout})

	assert.Equal(t, 1, code)
	assert.Equal(t, pipeline.OutcomeCanceled, report.Outcome)
	assert.Equal(t, pipeline.CanceledDiagnostic+"\n", f.stdout.String())
	assert.Equal(t, []string{"node"}, f.runner.calls)
	assert.Equal(t, 0, f.fetcher.calls)

	rec, ok := report.Step(StepSetVersion)
	require.True(t, ok)
	assert.Equal(t, pipeline.StepResultSuccess, rec.Result)
	rec, ok = report.Step(StepPatchManifest)
	require.True(t, ok)
	assert.Equal(t, pipeline.StepResultCanceled, rec.Result)
	rec, ok = report.Step(StepPack)
	require.True(t, ok)
	assert.Equal(t, pipeline.StepResultSkipped, rec.Result)
}

func TestRun_DirtyCheckIsOptIn(t *testing.T) {
	f := newFixture(t)
	_, err := git.PlainInit(f.root, false)
	require.NoError(t, err)

	code, report := f.run(defaultOpts())
	assert.Equal(t, 0, code)
	assert.NotContains(t, report.Warnings, DirtyWorktreeWarning)

	f.cfg.Layout.CheckDirty = true
	code, report = f.run(defaultOpts())
	assert.Equal(t, 0, code)
	assert.Contains(t, report.Warnings, DirtyWorktreeWarning)
}

func TestRun_CommandPlaceholders(t *testing.T) {
	f := newFixture(t)
	rec := &recordingRunner{}
	f.cfg.Commands.SetVersion = config.CommandSpec{
		Args: []string{"node", "set.js", "{fork_version}", "{base_version}", "{hermes_version}"},
		Dir:  "scripts",
		Env:  []string{"ROOT={repo_root}"},
	}
	opts := defaultOpts()
	opts.HermesVersion = "v1"

	// Stop right after versioning.
	rec.failAfter = 1
	_, _ = Run(t.Context(), f.cfg, opts, Deps{Runner: rec, Fetcher: f.fetcher, Stdout: &f.stdout})

	require.NotEmpty(t, rec.cmds)
	cmd := rec.cmds[0]
	assert.Equal(t, []string{"node", "set.js", "0.72.0-fork.1", "0.72.0", "v1"}, cmd.Args)
	assert.Equal(t, filepath.Join(f.root, "scripts"), cmd.Dir)
	assert.Equal(t, []string{"ROOT=" + f.root}, cmd.Env)
}

type recordingRunner struct {
	cmds      []runner.Command
	failAfter int
}

func (r *recordingRunner) Run(_ context.Context, cmd runner.Command) (runner.Result, error) {
	r.cmds = append(r.cmds, cmd)
	if len(r.cmds) >= r.failAfter {
		return runner.Result{ExitCode: 2}, errors.New("stop")
	}
	return runner.Result{}, nil
}

func TestPlan(t *testing.T) {
	cfg := config.Default()
	cfg.Layout.RepoRoot = t.TempDir()

	steps, err := Plan(cfg, Options{BaseVersion: "0.72.0", ForkVersion: "0.72.0-fork.1", Clean: true})
	require.NoError(t, err)
	require.Len(t, steps, len(StepNames()))
	for i, name := range StepNames() {
		assert.Equal(t, name, steps[i].Name)
	}

	policies := map[pipeline.StepName]pipeline.Policy{}
	for _, st := range steps {
		policies[st.Name] = st.Policy
	}
	for _, name := range []pipeline.StepName{StepClean, StepPatchManifest, StepWriteHermesVersion, StepClearNativeOutput} {
		assert.Equal(t, pipeline.PolicyBestEffort, policies[name], name)
	}
	for _, name := range []pipeline.StepName{StepSetVersion, StepDownloadBase, StepExtractBase, StepCopyHermesc, StepNativeBuild, StepCopyNativeArtifacts, StepPack} {
		assert.Equal(t, pipeline.PolicyChecked, policies[name], name)
	}

	steps, err = Plan(cfg, defaultOpts())
	require.NoError(t, err)
	assert.Len(t, steps, len(StepNames())-1)
}

func TestPlan_UnknownOverride(t *testing.T) {
	cfg := config.Default()
	cfg.PolicyOverrides = map[string]string{"deploy": "checked"}

	_, err := Plan(cfg, defaultOpts())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestTarballURL_ScopedPackage(t *testing.T) {
	cfg := config.Default()
	cfg.Registry.URL = "https://registry.example.com/"
	cfg.Layout.PackageName = "@acme/react-native"
	r := &releaseRun{cfg: cfg, opts: defaultOpts()}

	assert.Equal(t, "https://registry.example.com/@acme/react-native/-/react-native-0.72.0.tgz", r.tarballURL())
}
