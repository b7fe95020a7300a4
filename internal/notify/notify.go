// Package notify publishes release run summaries to NATS.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/forkpack/internal/config"
	"git.home.luguber.info/inful/forkpack/internal/logfields"
	"git.home.luguber.info/inful/forkpack/internal/pipeline"
)

// RunSummary is the message published when a run finishes.
type RunSummary struct {
	RunID        string    `json:"run_id"`
	BaseVersion  string    `json:"base_version"`
	ForkVersion  string    `json:"fork_version"`
	SourceCommit string    `json:"source_commit,omitempty"`
	Outcome      string    `json:"outcome"`
	ExitCode     int       `json:"exit_code"`
	FailedStep   string    `json:"failed_step,omitempty"`
	Diagnostic   string    `json:"diagnostic,omitempty"`
	ArchivePath  string    `json:"archive_path,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Summarize builds the message for a finished report.
func Summarize(report *pipeline.RunReport) RunSummary {
	s := RunSummary{
		RunID:        report.RunID,
		BaseVersion:  report.BaseVersion,
		ForkVersion:  report.ForkVersion,
		SourceCommit: report.SourceCommit,
		Outcome:      string(report.Outcome),
		ExitCode:     report.ExitCode,
		ArchivePath:  report.ArchivePath,
		DurationMS:   report.Duration().Milliseconds(),
		FinishedAt:   report.End,
	}
	for _, st := range report.Steps {
		if st.Result == pipeline.StepResultFatal || st.Result == pipeline.StepResultCanceled {
			s.FailedStep = string(st.Name)
			s.Diagnostic = st.Diagnostic
			break
		}
	}
	return s
}

// publisher is the subset of *nats.Conn used here.
type publisher interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Publisher sends run summaries to a NATS subject.
type Publisher struct {
	conn    publisher
	subject string
	timeout time.Duration
}

// Connect dials the configured NATS server.
func Connect(cfg config.NotifyConfig) (*Publisher, error) {
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("forkpack"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newPublisher(conn, cfg.Subject, cfg.Timeout), nil
}

func newPublisher(conn publisher, subject string, timeout time.Duration) *Publisher {
	if subject == "" {
		subject = config.DefaultNotifySubject
	}
	if timeout <= 0 {
		timeout = config.DefaultNotifyTimeout
	}
	return &Publisher{conn: conn, subject: subject, timeout: timeout}
}

// Publish sends the summary and waits for the server to acknowledge the flush.
func (p *Publisher) Publish(s RunSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish run summary: %w", err)
	}
	if err := p.conn.FlushTimeout(p.timeout); err != nil {
		return fmt.Errorf("failed to flush run summary: %w", err)
	}
	slog.Debug("Published run summary", logfields.RunID(s.RunID), slog.String("subject", p.subject))
	return nil
}

// Close releases the connection.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
