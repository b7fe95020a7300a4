package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
)

// Validate checks structural invariants. It does not check version strings;
// those belong to the steps that consume them.
func (c *Config) Validate() error {
	var problems []string

	if NormalizeRetryBackoff(c.Download.RetryBackoff) == "" {
		problems = append(problems, fmt.Sprintf("download.retry_backoff: unknown mode %q", c.Download.RetryBackoff))
	}
	if c.Download.MaxRetries < 0 {
		problems = append(problems, "download.max_retries: cannot be negative")
	}

	commands := []struct {
		name string
		spec CommandSpec
	}{
		{"set_version", c.Commands.SetVersion},
		{"native_build", c.Commands.NativeBuild},
		{"pack", c.Commands.Pack},
	}
	for _, cmd := range commands {
		if len(cmd.spec.Args) == 0 || strings.TrimSpace(cmd.spec.Args[0]) == "" {
			problems = append(problems, fmt.Sprintf("commands.%s: args must name a program", cmd.name))
		}
	}

	steps := make([]string, 0, len(c.PolicyOverrides))
	for step := range c.PolicyOverrides {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	for _, step := range steps {
		if raw := c.PolicyOverrides[step]; NormalizeStepPolicy(raw) == "" {
			problems = append(problems, fmt.Sprintf("policy_overrides.%s: unknown policy %q", step, raw))
		}
	}

	for _, target := range c.Layout.CleanTargets {
		if filepath.IsAbs(target) || strings.HasPrefix(filepath.Clean(target), "..") || filepath.Clean(target) == "." {
			problems = append(problems, fmt.Sprintf("layout.clean_targets: %q must be a path inside the package dir", target))
		}
	}

	if c.Layout.PackageName == "" {
		problems = append(problems, "layout.package_name: required")
	}

	if len(problems) == 0 {
		return nil
	}
	return ferrors.ConfigError("invalid configuration: "+strings.Join(problems, "; ")).
		WithContext("problems", problems).
		Build()
}
