package workspace

import (
	"log/slog"
	"os"

	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
	"git.home.luguber.info/inful/forkpack/internal/logfields"
)

// Manager owns the download/extraction directory of a release run.
// The directory is fixed and created with ensure-exists semantics; it is
// never removed on failure so leftovers can be inspected.
type Manager struct {
	dir string
}

// NewManager creates a manager for dir. An empty dir falls back to the
// system temp directory.
func NewManager(dir string) *Manager {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Manager{dir: dir}
}

// Create ensures the directory exists.
func (m *Manager) Create() error {
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return ferrors.FileSystemError("failed to create temp directory").WithCause(err).
			WithContext("path", m.dir).Build()
	}
	slog.Debug("Using temp directory", logfields.Path(m.dir))
	return nil
}

// GetPath returns the managed directory.
func (m *Manager) GetPath() string {
	return m.dir
}

// Cleanup removes the managed directory. Only called after a successful
// run when pruning was requested.
func (m *Manager) Cleanup() error {
	if m.dir == "" || m.dir == os.TempDir() {
		return nil
	}
	if err := os.RemoveAll(m.dir); err != nil {
		return ferrors.FileSystemError("failed to cleanup temp directory").WithCause(err).
			WithContext("path", m.dir).Build()
	}
	slog.Info("Cleaned up temp directory", logfields.Path(m.dir))
	return nil
}
