// Package versions handles npm-style semantic version strings.
//
// npm versions carry no "v" prefix; golang.org/x/mod/semver requires one.
// Callers keep the npm spelling and use these helpers for checks only.
package versions

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
)

// Canonical returns v with a leading "v" so it can be fed to semver.
func Canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Valid reports whether v is a full major.minor.patch version, optionally
// with prerelease and build metadata, in npm spelling. Shorthands like "1.2"
// and a leading "v" are rejected.
func Valid(v string) bool {
	if v == "" || v != strings.TrimSpace(v) || strings.HasPrefix(v, "v") || strings.HasPrefix(v, "V") {
		return false
	}
	c := Canonical(v)
	if !semver.IsValid(c) {
		return false
	}
	core := strings.TrimPrefix(c, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	return strings.Count(core, ".") == 2
}

// Validate returns a validation error naming the field when v is not valid.
func Validate(field, v string) error {
	if Valid(v) {
		return nil
	}
	return ferrors.ValidationError(fmt.Sprintf("%s %q is not a valid semantic version", field, v)).
		WithContext("field", field).Build()
}

// Compare orders two versions like semver.Compare.
func Compare(a, b string) int {
	return semver.Compare(Canonical(a), Canonical(b))
}

// Prerelease returns the prerelease suffix of v, including the leading "-".
func Prerelease(v string) string {
	return semver.Prerelease(Canonical(v))
}

// Core returns the major.minor.patch part of v without prerelease or build
// metadata, in npm spelling.
func Core(v string) string {
	c := semver.Canonical(Canonical(v))
	if c == "" {
		return ""
	}
	c = strings.TrimSuffix(c, semver.Build(c))
	c = strings.TrimSuffix(c, semver.Prerelease(c))
	return strings.TrimPrefix(c, "v")
}
