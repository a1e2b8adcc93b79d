// Package events publishes pipeline output to Kafka so downstream consumers
// (dashboards, archival, alerting) can react to the conversation in real
// time. Windows and evaluation results go to separate topics.
//
// When Kafka is disabled the publisher runs in log-only mode: every publish
// is logged and reported as a success, so the evaluation loop does not need
// to care whether a broker is configured.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/crosstalkhq/crosstalk/pkg/types"
)

// WindowEvent is the wire payload for an emitted transcript window.
type WindowEvent struct {
	Session     string    `json:"session"`
	Trigger     string    `json:"trigger"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Transcripts int       `json:"transcripts"`
	Turns       int       `json:"speaker_turns"`
	Text        string    `json:"text"`
}

// EvaluationEvent is the wire payload for one evaluation result.
type EvaluationEvent struct {
	Session string                 `json:"session"`
	Result  types.EvaluationResult `json:"result"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	// Brokers is the Kafka bootstrap address list. Empty disables publishing.
	Brokers []string

	// TopicWindows receives WindowEvent payloads.
	TopicWindows string

	// TopicEvaluations receives EvaluationEvent payloads.
	TopicEvaluations string

	// Session is the conversation identifier used as the message key, so
	// all events of one session land on the same partition in order.
	Session string

	// Enabled toggles real publishing. False means log-only mode.
	Enabled bool
}

// Publisher writes pipeline events to Kafka.
type Publisher struct {
	writerWindows     *kafka.Writer
	writerEvaluations *kafka.Writer
	session           string
	enabled           bool
	logger            *slog.Logger
}

// New creates a Publisher. With Enabled false or no brokers configured the
// publisher runs in log-only mode and never touches the network.
func New(cfg Config) *Publisher {
	logger := slog.Default().With("component", "events")

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka disabled, publishing in log-only mode")
		return &Publisher{
			session: cfg.Session,
			logger:  logger,
		}
	}

	// Generous dial timeout for DNS resolution inside cluster networks.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info("kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic_windows", cfg.TopicWindows,
		"topic_evaluations", cfg.TopicEvaluations)

	return &Publisher{
		writerWindows:     newWriter(cfg.TopicWindows),
		writerEvaluations: newWriter(cfg.TopicEvaluations),
		session:           cfg.Session,
		enabled:           true,
		logger:            logger,
	}
}

// PublishWindow publishes an emitted window to the windows topic.
func (p *Publisher) PublishWindow(ctx context.Context, window types.BufferedWindow, trigger string) error {
	event := WindowEvent{
		Session:     p.session,
		Trigger:     trigger,
		WindowStart: window.WindowStart,
		WindowEnd:   window.WindowEnd,
		Transcripts: window.Len(),
		Turns:       window.SpeakerTurns,
		Text:        window.Text(true),
	}
	return p.publish(ctx, p.writerWindows, "window", event)
}

// PublishEvaluation publishes an evaluation result to the evaluations topic.
func (p *Publisher) PublishEvaluation(ctx context.Context, result types.EvaluationResult) error {
	event := EvaluationEvent{Session: p.session, Result: result}
	return p.publish(ctx, p.writerEvaluations, "evaluation", event)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, eventType string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s event: %w", eventType, err)
	}

	p.logger.Debug("publishing event",
		"type", eventType,
		"session", p.session,
		"bytes", len(payload))

	if !p.enabled || writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(p.session),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "session", Value: []byte(p.session)},
		},
	}
	if err := writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write %s event: %w", eventType, err)
	}
	return nil
}

// Close closes the Kafka writers. Safe to call in log-only mode.
func (p *Publisher) Close() error {
	var firstErr error
	for _, w := range []*kafka.Writer{p.writerWindows, p.writerEvaluations} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil {
			p.logger.Error("closing kafka writer", "topic", w.Topic, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
