// Package commands implements the forkpack subcommands.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/forkpack/internal/config"
	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
)

// LogLevelEnv overrides the log level unless -v is given.
const LogLevelEnv = "FORKPACK_LOG_LEVEL"

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (default: forkpack.yaml when present)"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Pack    PackCmd    `cmd:"" help:"Build the fork's npm tarball"`
	Plan    PlanCmd    `cmd:"" help:"Show the release steps (text, mermaid, dot, json)"`
	Init    InitCmd    `cmd:"" help:"Write a configuration file with every default spelled out"`
	History HistoryCmd `cmd:"" help:"Show recorded release runs"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	setupLogging(c.logLevel(""), config.LogFormatText)
	return nil
}

// logLevel picks the level: -v, then the environment, then the config file.
func (c *CLI) logLevel(configured string) slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	if env := os.Getenv(LogLevelEnv); env != "" {
		return config.NormalizeLogLevel(env).SlogLevel()
	}
	return config.NormalizeLogLevel(configured).SlogLevel()
}

// loadConfig reads --config, or forkpack.yaml in the working directory when
// present, and reconfigures logging from it. An explicit path must exist.
func (c *CLI) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.Config != "" {
		cfg, err = config.Load(c.Config)
	} else {
		cfg, err = config.LoadOrDefault(config.DefaultConfigFile)
	}
	if err != nil {
		return nil, err
	}
	setupLogging(c.logLevel(cfg.Logging.Level), config.NormalizeLogFormat(cfg.Logging.Format))
	return cfg, nil
}

func setupLogging(level slog.Level, format config.LogFormat) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// ExitCode reports err on w and maps it to the process exit code.
func ExitCode(w io.Writer, err error, verbose bool) int {
	return ferrors.NewCLIErrorAdapter(verbose, slog.Default()).WithOutput(w).HandleError(err)
}
