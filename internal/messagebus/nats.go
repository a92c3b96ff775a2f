// Package messagebus publishes remediation events over NATS JetStream
// so external consumers (dashboards, pagers, audit sinks) can follow
// what the loop is doing without polling the store.
package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/mend/pkg/models"
)

// Subjects published on the stream. Consumers subscribe to mend.> for
// everything.
const (
	SubjectProblemDetected   = "mend.problem.detected"
	SubjectHypothesisCreated = "mend.hypothesis.created"
	SubjectCycleCompleted    = "mend.cycle.completed"
	SubjectRollbackPerformed = "mend.rollback.performed"
	SubjectRecoveryAttempted = "mend.recovery.attempted"
)

// Config holds NATS connection settings.
type Config struct {
	URL        string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName string        // JetStream stream name (default: "MEND")
	Timeout    time.Duration // Connection timeout
}

// NatsBus is the JetStream-backed event publisher.
type NatsBus struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
}

// NewNatsBus connects to NATS and ensures the event stream exists.
func NewNatsBus(cfg Config) (*NatsBus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "MEND"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Bus] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Bus] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	bus := &NatsBus{conn: nc, js: js, streamName: cfg.StreamName}
	if err := bus.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[Bus] Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return bus, nil
}

// ensureStream creates or updates the event stream. LimitsPolicy so
// multiple consumers can read the same subjects.
func (b *NatsBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{"mend.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := b.js.StreamInfo(b.streamName); err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[Bus] Created JetStream stream: %s", b.streamName)
		return nil
	}
	if _, err := b.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// envelope is the wire shape of every published event.
type envelope struct {
	Subject   string      `json:"subject"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

func (b *NatsBus) publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := json.Marshal(envelope{
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := b.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// PublishProblemDetected announces a newly recorded problem.
func (b *NatsBus) PublishProblemDetected(ctx context.Context, problem *models.DetectedProblem) error {
	return b.publish(ctx, SubjectProblemDetected, problem)
}

// PublishHypothesisCreated announces a new candidate fix.
func (b *NatsBus) PublishHypothesisCreated(ctx context.Context, hypothesis *models.Hypothesis) error {
	return b.publish(ctx, SubjectHypothesisCreated, hypothesis)
}

// PublishCycleCompleted announces the end of one learning cycle.
func (b *NatsBus) PublishCycleCompleted(ctx context.Context, result *models.CycleResult) error {
	return b.publish(ctx, SubjectCycleCompleted, result)
}

// PublishRollbackPerformed announces a rollback attempt, successful or not.
func (b *NatsBus) PublishRollbackPerformed(ctx context.Context, result *models.RollbackResult) error {
	return b.publish(ctx, SubjectRollbackPerformed, result)
}

// PublishRecoveryAttempted announces an automatic recovery attempt.
func (b *NatsBus) PublishRecoveryAttempted(ctx context.Context, result *models.RecoveryResult) error {
	return b.publish(ctx, SubjectRecoveryAttempted, result)
}

// Close drains and closes the NATS connection.
func (b *NatsBus) Close() {
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Drain(); err != nil {
			log.Printf("[Bus] Drain failed: %v", err)
			b.conn.Close()
		}
	}
}
