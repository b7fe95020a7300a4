// Package fetch downloads release inputs over HTTP.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
	"git.home.luguber.info/inful/forkpack/internal/logfields"
	"git.home.luguber.info/inful/forkpack/internal/metrics"
	"git.home.luguber.info/inful/forkpack/internal/retry"
)

// Downloader handles HTTP downloads with a timeout and an optional retry policy.
type Downloader struct {
	client   *http.Client
	policy   retry.Policy
	recorder metrics.Recorder
}

// NewDownloader creates a downloader with the specified timeout and no retries.
func NewDownloader(timeout time.Duration) *Downloader {
	return &Downloader{
		client:   &http.Client{Timeout: timeout},
		policy:   retry.DefaultPolicy(),
		recorder: metrics.NoopRecorder{},
	}
}

// WithPolicy sets the retry policy applied to transient failures.
func (d *Downloader) WithPolicy(p retry.Policy) *Downloader {
	d.policy = p
	return d
}

// WithRecorder sets the metrics recorder used to count retries.
func (d *Downloader) WithRecorder(r metrics.Recorder) *Downloader {
	if r != nil {
		d.recorder = r
	}
	return d
}

// Download fetches url into destPath, retrying transient failures per the policy.
func (d *Downloader) Download(ctx context.Context, url, destPath string) error {
	return d.policy.Do(ctx,
		func() error { return d.downloadOnce(ctx, url, destPath) },
		isTransient,
		func(n int, err error) {
			d.recorder.IncDownloadRetry()
			slog.Warn("Download failed; retrying", logfields.URL(url), logfields.Attempt(n), logfields.Error(err))
		},
	)
}

// downloadOnce writes url to destPath atomically via a temp file in the same directory.
func (d *Downloader) downloadOnce(ctx context.Context, url, destPath string) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create download directory").
			WithContext("path", dir).Build()
	}

	tmpFile, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to create temp file").Build()
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "invalid download URL").
			WithContext("url", url).Build()
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ferrors.WrapError(err, ferrors.CategoryNetwork, fmt.Sprintf("failed to download %s", url)).
			WithRetry(ferrors.RetryBackoff).WithContext("url", url).Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b := ferrors.NetworkError(fmt.Sprintf("download failed: %s returned %s", url, resp.Status)).
			WithContext("url", url).WithContext("status", resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			b = b.WithRetry(ferrors.RetryNever)
		}
		return b.Build()
	}

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to write download").
			WithRetry(ferrors.RetryBackoff).Build()
	}
	if err := tmpFile.Close(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to close temp file").Build()
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to rename temp file").Build()
	}

	success = true
	slog.Debug("Downloaded", logfields.URL(url), logfields.Path(destPath))
	return nil
}

func isTransient(err error) bool {
	ce, ok := ferrors.AsClassified(err)
	return ok && ce.IsTransient()
}
