package eventstore

import (
	"encoding/json"
	"time"

	"git.home.luguber.info/inful/forkpack/internal/foundation/errors"
)

// Event type names.
const (
	TypeRunStarted    = "RunStarted"
	TypeStepStarted   = "StepStarted"
	TypeStepCompleted = "StepCompleted"
	TypeRunCompleted  = "RunCompleted"
)

// RunStartedPayload describes the inputs of a run.
type RunStartedPayload struct {
	BaseVersion   string `json:"base_version"`
	ForkVersion   string `json:"fork_version"`
	HermesVersion string `json:"hermes_version,omitempty"`
	Clean         bool   `json:"clean"`
	SourceCommit  string `json:"source_commit,omitempty"`
}

// StepStartedPayload names the step that began.
type StepStartedPayload struct {
	Step string `json:"step"`
}

// StepCompletedPayload records a step outcome.
type StepCompletedPayload struct {
	Step       string `json:"step"`
	Policy     string `json:"policy"`
	Result     string `json:"result"`
	Status     int    `json:"status"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// RunCompletedPayload records the final outcome of a run.
type RunCompletedPayload struct {
	Outcome     string   `json:"outcome"`
	ExitCode    int      `json:"exit_code"`
	ArchivePath string   `json:"archive_path,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
	Warnings    []string `json:"warnings,omitempty"`
}

// NewEvent marshals payload into an event of the given type.
func NewEvent(runID, eventType string, payload any) (*BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.EventStoreError("failed to marshal "+eventType+" payload").
			WithCause(err).
			WithContext("run_id", runID).
			Build()
	}
	return &BaseEvent{
		EventRunID:     runID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}

// Decode unmarshals an event payload into v.
func Decode(e Event, v any) error {
	if err := json.Unmarshal(e.Payload(), v); err != nil {
		return errors.EventStoreError("failed to unmarshal "+e.Type()+" payload").
			WithCause(err).
			WithContext("run_id", e.RunID()).
			Build()
	}
	return nil
}
