package commands

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/forkpack/internal/config"
	"git.home.luguber.info/inful/forkpack/internal/eventstore"
	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
	"git.home.luguber.info/inful/forkpack/internal/metrics"
	"git.home.luguber.info/inful/forkpack/internal/release"
	"git.home.luguber.info/inful/forkpack/internal/runner"
)

func TestCLI_ParsesPackFlags(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"}, kong.Exit(func(int) {}))
	require.NoError(t, err)

	ctx, err := parser.Parse([]string{"pack", "--base-version", "0.72.0", "--fork-version", "0.72.0-fork.1", "--hermes-version", "v1", "--clean"})
	require.NoError(t, err)
	assert.Equal(t, "pack", ctx.Command())
	assert.Equal(t, release.Options{BaseVersion: "0.72.0", ForkVersion: "0.72.0-fork.1", HermesVersion: "v1", Clean: true}, cli.Pack.options())
}

func TestCLI_PackRequiresVersions(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"}, kong.Exit(func(int) {}))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"pack", "--base-version", "0.72.0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--fork-version")
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cli := &CLI{}
		cfg, err := cli.loadConfig()
		require.NoError(t, err)
		assert.Equal(t, config.DefaultPackageDir, cfg.Layout.PackageDir)
	})

	t.Run("working directory file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		require.NoError(t, os.WriteFile(config.DefaultConfigFile, []byte("layout:\n  package_name: \"@acme/react-native\"\n"), 0o600))
		cli := &CLI{}
		cfg, err := cli.loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "@acme/react-native", cfg.Layout.PackageName)
	})

	t.Run("explicit path must exist", func(t *testing.T) {
		cli := &CLI{Config: filepath.Join(t.TempDir(), "missing.yaml")}
		_, err := cli.loadConfig()
		require.Error(t, err)
		assert.Equal(t, ferrors.ExitConfig, ExitCode(io.Discard, err, false))
	})
}

func TestLogLevelPrecedence(t *testing.T) {
	t.Setenv(LogLevelEnv, "error")
	assert.Equal(t, "DEBUG", (&CLI{Verbose: true}).logLevel("warn").String())
	assert.Equal(t, "ERROR", (&CLI{}).logLevel("warn").String())

	t.Setenv(LogLevelEnv, "")
	assert.Equal(t, "WARN", (&CLI{}).logLevel("warn").String())
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forkpack.yaml")

	require.NoError(t, RunInit(path, false))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRegistryURL, cfg.Registry.URL)

	err = RunInit(path, false)
	require.Error(t, err)
	assert.Equal(t, ferrors.ExitConfig, ExitCode(io.Discard, err, false))

	require.NoError(t, RunInit(path, true))
}

func TestRunPlan(t *testing.T) {
	cfg := config.Default()
	cfg.Layout.RepoRoot = t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, RunPlan(&buf, cfg, &PlanCmd{Format: "json", BaseVersion: "0.72.0", ForkVersion: "0.72.0-fork.1"}))

	var steps []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &steps))
	require.Len(t, steps, len(release.StepNames())-1)
	assert.Equal(t, "set_version", steps[0]["name"])

	buf.Reset()
	require.NoError(t, RunPlan(&buf, cfg, &PlanCmd{Format: "text", Clean: true, ForkVersion: "1.0.0"}))
	assert.Contains(t, buf.String(), "clean")
	assert.Contains(t, buf.String(), "Failed to set version number to 1.0.0")
}

func TestRunPlan_UnknownOverrideIsConfigError(t *testing.T) {
	cfg := config.Default()
	cfg.PolicyOverrides = map[string]string{"publish": "checked"}

	err := RunPlan(&bytes.Buffer{}, cfg, &PlanCmd{Format: "text"})
	require.Error(t, err)
	assert.Equal(t, ferrors.ExitConfig, ExitCode(io.Discard, err, false))
}

func TestExitCode(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, ferrors.ExitSuccess, ExitCode(&out, nil, false))
	assert.Equal(t, ferrors.ExitFailure, ExitCode(&out, ferrors.StepError("release pipeline failed").Build(), false))
	assert.Empty(t, out.String(), "step diagnostics are already on stdout")

	assert.Equal(t, ferrors.ExitConfig, ExitCode(&out, ferrors.ConfigError("bad").Build(), false))
	assert.Equal(t, "bad\n", out.String())

	out.Reset()
	assert.Equal(t, ferrors.ExitExternal, ExitCode(&out, ferrors.CommandError("executable not found: npm").Build(), false))
	assert.Equal(t, "executable not found: npm\n", out.String())
}

// packEnv is a fake checkout plus the fakes RunPack needs.
type packEnv struct {
	cfg  *config.Config
	pkg  string
	fail string // program that exits non-zero
}

func newPackEnv(t *testing.T) *packEnv {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Layout.RepoRoot = root
	cfg.Layout.TempDir = filepath.Join(root, "tmp")
	cfg.Layout.NativeOutputDir = filepath.Join(root, "maven-local")
	cfg.History.Path = filepath.Join(root, "state", "history.db")
	cfg.Metrics.Textfile = filepath.Join(root, "metrics", "forkpack.prom")

	pkg := filepath.Join(root, config.DefaultPackageDir)
	manifest := filepath.Join(pkg, config.DefaultManifest)
	require.NoError(t, os.MkdirAll(filepath.Dir(manifest), 0o750))
	require.NoError(t, os.WriteFile(manifest, []byte("version = '1000.0.0'\n"), 0o600))
	return &packEnv{cfg: cfg, pkg: pkg}
}

func (e *packEnv) Run(_ context.Context, cmd runner.Command) (runner.Result, error) {
	if cmd.Args[0] == e.fail {
		return runner.Result{ExitCode: 3}, &runner.ExitError{Command: cmd.String(), Code: 3}
	}
	switch cmd.Args[0] {
	case "./gradlew":
		out := filepath.Join(e.cfg.Layout.NativeOutputDir, "com", "facebook")
		if err := os.MkdirAll(out, 0o750); err != nil {
			return runner.Result{ExitCode: -1}, err
		}
		return runner.Result{}, os.WriteFile(filepath.Join(out, "react-android.aar"), []byte("aar"), 0o600)
	case "npm":
		return runner.Result{}, os.WriteFile(filepath.Join(cmd.Dir, "react-native-0.72.0-fork.1.tgz"), []byte("tgz"), 0o600)
	}
	return runner.Result{}, nil
}

type tarballFetcher struct{ body []byte }

func (f tarballFetcher) Download(_ context.Context, _, dest string) error {
	return os.WriteFile(dest, f.body, 0o600)
}

func (e *packEnv) fetcher(t *testing.T) func(metrics.Recorder) release.Fetcher {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := "hermesc"
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "package/sdks/hermesc/osx-bin/hermesc", Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(body))}))
	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return func(metrics.Recorder) release.Fetcher { return tarballFetcher{body: buf.Bytes()} }
}

var packOpts = release.Options{BaseVersion: "0.72.0", ForkVersion: "0.72.0-fork.1"}

func TestRunPack_RecordsHistoryAndMetrics(t *testing.T) {
	env := newPackEnv(t)

	err := RunPack(t.Context(), env.cfg, packOpts, env, env.fetcher(t))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(env.pkg, "react-native-0.72.0-fork.1.tgz"))

	prom, err := os.ReadFile(env.cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `forkpack_run_outcomes_total{outcome="success"} 1`)

	var buf bytes.Buffer
	require.NoError(t, RunHistory(t.Context(), &buf, env.cfg, &HistoryCmd{Since: time.Hour, JSON: true}))
	var runs []eventstore.RunSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].Status)
	assert.Equal(t, "0.72.0-fork.1", runs[0].ForkVersion)

	buf.Reset()
	require.NoError(t, RunHistory(t.Context(), &buf, env.cfg, &HistoryCmd{RunID: runs[0].RunID}))
	assert.Contains(t, buf.String(), "status success (exit 0)")
	assert.Contains(t, buf.String(), eventstore.TypeRunCompleted)
}

func TestRunPack_CheckedFailure(t *testing.T) {
	env := newPackEnv(t)
	env.fail = "./gradlew"

	err := RunPack(t.Context(), env.cfg, packOpts, env, env.fetcher(t))
	require.Error(t, err)
	assert.Equal(t, ferrors.ExitFailure, ExitCode(io.Discard, err, false))

	classified, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	step, _ := classified.Context().GetString("step")
	assert.Equal(t, string(release.StepNativeBuild), step)

	var buf bytes.Buffer
	require.NoError(t, RunHistory(t.Context(), &buf, env.cfg, &HistoryCmd{Since: time.Hour}))
	assert.Contains(t, buf.String(), "failed")
	assert.Contains(t, buf.String(), string(release.StepNativeBuild))
}

func TestRunHistory_RequiresPath(t *testing.T) {
	err := RunHistory(t.Context(), &bytes.Buffer{}, config.Default(), &HistoryCmd{})
	require.Error(t, err)
	assert.Equal(t, ferrors.ExitConfig, ExitCode(io.Discard, err, false))
}

func TestRunHistory_UnknownRun(t *testing.T) {
	cfg := config.Default()
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")

	err := RunHistory(t.Context(), &bytes.Buffer{}, cfg, &HistoryCmd{RunID: "nope"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "nope"))
}
