// Package workspace resolves the filesystem layout of a release run and
// manages its download directory.
//
// Paths are derived deterministically from the layout configuration and
// the run's versions before any step executes. The download directory is
// created with ensure-exists semantics and survives failed runs.
package workspace
