// Package errors provides foundational, type-safe error primitives used across forkpack.
//
// This package contains classified error types and helpers for robust error handling,
// including a fluent builder API for constructing ClassifiedError values with context.
//
// Key features:
//   - ErrorCategory: Broad error classification (config, network, step, command, etc.)
//   - ErrorSeverity: Impact level (fatal, error, warning, info)
//   - RetryStrategy: Retry behavior (never, immediate, backoff)
//   - ClassifiedError: Structured error with category, severity, and context
//   - ErrorBuilder: Fluent API for creating classified errors
//   - CLIErrorAdapter: exit code and message mapping for the CLI
//
// Example usage:
//
//	err := errors.WrapError(cause, errors.CategoryStep, "Could not generate artifacts").
//		WithContext("step", "native_build").
//		Build()
package errors
