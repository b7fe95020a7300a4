package config

import "git.home.luguber.info/inful/forkpack/internal/foundation/normalization"

// StepPolicy is the configured failure policy for a pipeline step.
type StepPolicy string

const (
	StepPolicyChecked    StepPolicy = "checked"
	StepPolicyBestEffort StepPolicy = "best_effort"
)

var stepPolicyNormalizer = normalization.NewNormalizer(map[string]StepPolicy{
	"checked":     StepPolicyChecked,
	"best_effort": StepPolicyBestEffort,
	"best-effort": StepPolicyBestEffort,
}, "")

// NormalizeStepPolicy returns the typed policy, or empty for unknown input.
func NormalizeStepPolicy(raw string) StepPolicy {
	return stepPolicyNormalizer.Normalize(raw)
}

// PolicyOverride returns the configured override for a step, if any.
func (c *Config) PolicyOverride(step string) (StepPolicy, bool) {
	raw, ok := c.PolicyOverrides[step]
	if !ok {
		return "", false
	}
	p := NormalizeStepPolicy(raw)
	return p, p != ""
}
