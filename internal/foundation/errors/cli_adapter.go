package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess    = 0
	ExitFailure    = 1 // checked step failure, cancellation, unclassified
	ExitUsage      = 2
	ExitExternal   = 8
	ExitInternal   = 10
	ExitFilesystem = 11
	ExitConfig     = 7
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
		out:     os.Stderr,
	}
}

// WithOutput redirects user-facing messages (stderr by default).
func (a *CLIErrorAdapter) WithOutput(w io.Writer) *CLIErrorAdapter {
	if w != nil {
		a.out = w
	}
	return a
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	if classified, ok := AsClassified(err); ok {
		return a.exitCodeFromClassified(classified)
	}

	return ExitFailure
}

func (a *CLIErrorAdapter) exitCodeFromClassified(err *ClassifiedError) int {
	switch err.Category() {
	case CategoryStep, CategoryCanceled:
		return ExitFailure
	case CategoryValidation:
		return ExitUsage
	case CategoryConfig, CategoryNotFound:
		return ExitConfig
	case CategoryNetwork, CategoryCommand:
		return ExitExternal
	case CategoryFileSystem, CategoryArchive, CategoryEventStore:
		return ExitFilesystem
	case CategoryInternal, CategoryRuntime:
		return ExitInternal
	default:
		return ExitFailure
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	classified, ok := AsClassified(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}
	if a.verbose {
		return classified.Error()
	}
	if classified.Category() == CategoryInternal {
		return "Internal error occurred (use -v for details)"
	}
	return classified.Message()
}

// HandleError logs err, prints it to stderr and returns the exit code.
// Step diagnostics have already been printed to stdout by the pipeline, so
// only the log line is emitted for them.
func (a *CLIErrorAdapter) HandleError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	a.logError(err)
	if !HasCategory(err, CategoryStep) {
		_, _ = fmt.Fprintln(a.out, a.FormatError(err))
	}
	return a.ExitCodeFor(err)
}

func (a *CLIErrorAdapter) logError(err error) {
	if classified, ok := AsClassified(err); ok {
		attrs := []slog.Attr{
			slog.String("category", string(classified.Category())),
		}
		if step, ok := classified.Context().GetString("step"); ok {
			attrs = append(attrs, slog.String("step", step))
		}
		if classified.Cause() != nil {
			attrs = append(attrs, slog.String("error", classified.Cause().Error()))
		}
		a.logger.LogAttrs(context.Background(), a.slogLevelFromSeverity(classified.Severity()), classified.Message(), attrs...)
		return
	}

	a.logger.Error("Unclassified error", "error", err)
}

func (a *CLIErrorAdapter) slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
