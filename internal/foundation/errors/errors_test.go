package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "forkpack.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if err.Severity() != SeverityFatal {
			t.Errorf("expected severity %s, got %s", SeverityFatal, err.Severity())
		}
		if err.Message() != "invalid configuration" {
			t.Errorf("expected message 'invalid configuration', got %s", err.Message())
		}

		file, exists := err.Context().GetString("file")
		if !exists || file != "forkpack.yaml" {
			t.Errorf("expected context file=forkpack.yaml, got %v", file)
		}
	})

	t.Run("Error detection through wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", StepError("Could not copy artifacts").Build())

		if _, ok := AsClassified(err); !ok {
			t.Error("expected wrapped error to be classified")
		}
		if !HasCategory(err, CategoryStep) {
			t.Error("expected error to have step category")
		}
		if HasCategory(errors.New("plain"), CategoryStep) {
			t.Error("expected plain errors to have no category")
		}
	})

	t.Run("WithContext copies", func(t *testing.T) {
		base := StepError("Failed to generate tarball").Build()
		withStep := base.WithContext("step", "pack")

		if _, ok := base.Context().GetString("step"); ok {
			t.Error("expected original error context to be untouched")
		}
		if step, _ := withStep.Context().GetString("step"); step != "pack" {
			t.Errorf("expected step=pack, got %q", step)
		}
	})
}

func TestErrorBuilder(t *testing.T) {
	t.Run("Fluent API", func(t *testing.T) {
		originalErr := errors.New("original error")
		err := WrapError(originalErr, CategoryNetwork, "download failed").
			WithSeverity(SeverityWarning).
			Retryable().
			WithContext("host", "registry.npmjs.com").
			Build()

		if err.Severity() != SeverityWarning {
			t.Errorf("expected severity %s, got %s", SeverityWarning, err.Severity())
		}
		if err.RetryStrategy() != RetryBackoff {
			t.Errorf("expected retry strategy %s, got %s", RetryBackoff, err.RetryStrategy())
		}
		if !errors.Is(err, originalErr) {
			t.Error("expected error to wrap original error")
		}
		if !err.IsTransient() {
			t.Error("expected backoff error to be transient")
		}
	})

	t.Run("Convenience constructors", func(t *testing.T) {
		tests := []struct {
			name     string
			builder  *ErrorBuilder
			category ErrorCategory
			severity ErrorSeverity
			retry    RetryStrategy
		}{
			{"ConfigError", ConfigError("test"), CategoryConfig, SeverityFatal, RetryUserAction},
			{"ValidationError", ValidationError("test"), CategoryValidation, SeverityFatal, RetryUserAction},
			{"NetworkError", NetworkError("test"), CategoryNetwork, SeverityError, RetryBackoff},
			{"CommandError", CommandError("test"), CategoryCommand, SeverityError, RetryNever},
			{"StepError", StepError("test"), CategoryStep, SeverityFatal, RetryNever},
			{"FileSystemError", FileSystemError("test"), CategoryFileSystem, SeverityError, RetryNever},
			{"ArchiveError", ArchiveError("test"), CategoryArchive, SeverityError, RetryNever},
			{"EventStoreError", EventStoreError("test"), CategoryEventStore, SeverityError, RetryNever},
			{"CanceledError", CanceledError("test"), CategoryCanceled, SeverityFatal, RetryNever},
			{"InternalError", InternalError("test"), CategoryInternal, SeverityFatal, RetryNever},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.builder.Build()
				if err.Category() != tt.category {
					t.Errorf("expected category %s, got %s", tt.category, err.Category())
				}
				if err.Severity() != tt.severity {
					t.Errorf("expected severity %s, got %s", tt.severity, err.Severity())
				}
				if err.RetryStrategy() != tt.retry {
					t.Errorf("expected retry strategy %s, got %s", tt.retry, err.RetryStrategy())
				}
			})
		}
	})
}

func TestErrorContext(t *testing.T) {
	ctx1 := make(ErrorContext)
	ctx1 = ctx1.Set("key1", "value1")
	ctx1 = ctx1.Set("shared", "original")

	ctx2 := make(ErrorContext)
	ctx2 = ctx2.Set("shared", "overridden")

	merged := ctx1.Merge(ctx2)

	value1, _ := merged.GetString("key1")
	shared, _ := merged.GetString("shared")
	if value1 != "value1" {
		t.Errorf("expected key1=value1, got %s", value1)
	}
	if shared != "overridden" {
		t.Errorf("expected shared=overridden, got %s", shared)
	}

	if _, exists := merged.Get("nonexistent"); exists {
		t.Error("expected nonexistent key to not exist")
	}
}
