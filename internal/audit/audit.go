// Package audit records one event per tool invocation and publishes it to
// Kafka when the audit stream is enabled.
//
// Publishing is fire-and-forget: encoding or delivery failures are logged and
// counted in snmcp_audit_publish_errors_total, and never reach the tool
// caller.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/config"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/kafka"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/observability"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/partition"
)

// Outcomes of a tool invocation.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Event describes a single tool invocation.
type Event struct {
	Tool       string    `json:"tool"`
	Reference  string    `json:"reference"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Fields renders the event as strings for partition key selection.
func (e Event) Fields() map[string]string {
	return map[string]string{
		"tool":        e.Tool,
		"reference":   e.Reference,
		"outcome":     e.Outcome,
		"error":       e.Error,
		"duration_ms": strconv.FormatInt(e.DurationMS, 10),
	}
}

// Publisher accepts audit events.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
	Close()
}

// Nop discards every event. It is used when auditing is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
func (Nop) Close()                         {}

// Producer is the subset of *kafka.Producer used for publishing.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string, done func(error))
	Close()
}

// KafkaPublisher encodes events and produces them to a single topic.
type KafkaPublisher struct {
	topic       string
	producer    Producer
	encoder     Encoder
	partitioner partition.Partitioner
	logger      *slog.Logger
}

// NewKafkaPublisher creates a publisher for cfg.Topic. With Avro encoding and
// a schema registry URL, events use the Confluent wire format and the schema
// is registered before NewKafkaPublisher returns.
func NewKafkaPublisher(ctx context.Context, cfg config.AuditConfig, producer Producer, logger *slog.Logger) (*KafkaPublisher, error) {
	var registry kafka.SchemaRegistryClient
	if cfg.Kafka.SchemaRegistryURL != "" {
		registry = kafka.NewHTTPRegistryClient(cfg.Kafka.SchemaRegistryURL)
	}
	enc, err := NewEncoder(ctx, cfg.Encoding, cfg.Topic, registry)
	if err != nil {
		return nil, err
	}

	return &KafkaPublisher{
		topic:       cfg.Topic,
		producer:    producer,
		encoder:     enc,
		partitioner: partition.New(cfg),
		logger:      logger.With("component", "audit", "topic", cfg.Topic),
	}, nil
}

// Publish encodes ev and hands it to the producer without waiting for
// delivery. Cancellation of ctx does not abort the send.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) {
	ctx = context.WithoutCancel(ctx)

	value, err := p.encoder.Encode(ctx, ev)
	if err != nil {
		observability.Metrics.AuditPublishErrorsTotal.WithLabelValues(p.topic, "encode").Inc()
		p.logger.Error("❌ audit encode failed", "tool", ev.Tool, "error", err)
		return
	}

	headers := map[string]string{
		"content-type": p.encoder.ContentType(),
		"tool":         ev.Tool,
		"outcome":      ev.Outcome,
	}

	p.producer.Produce(ctx, p.topic, p.partitioner.Key(ev.Fields()), value, headers, func(err error) {
		if err != nil {
			observability.Metrics.AuditPublishErrorsTotal.WithLabelValues(p.topic, "produce").Inc()
			p.logger.Error("❌ audit publish failed", "tool", ev.Tool, "error", err)
			return
		}
		observability.Metrics.AuditPublishedTotal.WithLabelValues(p.topic).Inc()
	})
}

// Close flushes pending events and closes the producer.
func (p *KafkaPublisher) Close() {
	p.producer.Close()
}

// New returns a KafkaPublisher when auditing is enabled and Nop otherwise.
// The returned publisher owns the Kafka producer.
func New(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka, partition.RecordPartitioner(cfg.Partitioner), logger)
	if err != nil {
		return nil, fmt.Errorf("creating audit producer: %w", err)
	}
	pub, err := NewKafkaPublisher(ctx, cfg, producer, logger)
	if err != nil {
		producer.Close()
		return nil, err
	}
	return pub, nil
}
