package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hamba/avro/v2"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/kafka"
)

// Supported audit.encoding values.
const (
	EncodingJSON = "json"
	EncodingAvro = "avro"
)

// Encoder turns an event into a Kafka message value.
type Encoder interface {
	Encode(ctx context.Context, ev Event) ([]byte, error)
	ContentType() string
}

// NewEncoder returns the encoder for encoding. registry is only used by the
// Avro encoder and may be nil, in which case plain Avro binary is produced.
func NewEncoder(ctx context.Context, encoding, topic string, registry kafka.SchemaRegistryClient) (Encoder, error) {
	switch encoding {
	case "", EncodingJSON:
		return JSONEncoder{}, nil
	case EncodingAvro:
		return NewAvroEncoder(ctx, topic, registry)
	default:
		return nil, fmt.Errorf("unsupported audit encoding %q", encoding)
	}
}

// JSONEncoder encodes events as JSON objects.
type JSONEncoder struct{}

func (JSONEncoder) Encode(_ context.Context, ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func (JSONEncoder) ContentType() string { return "application/json" }

// eventFields is the Avro layout of an Event.
var eventFields = []kafka.SchemaField{
	{Name: "tool", Type: avro.String},
	{Name: "reference", Type: avro.String},
	{Name: "outcome", Type: avro.String},
	{Name: "error", Type: avro.String, Optional: true},
	{Name: "duration_ms", Type: avro.Long},
	{Name: "timestamp", Type: avro.Long, Logical: avro.TimestampMillis},
}

type avroEvent struct {
	Tool       string    `avro:"tool"`
	Reference  string    `avro:"reference"`
	Outcome    string    `avro:"outcome"`
	Error      *string   `avro:"error"`
	DurationMS int64     `avro:"duration_ms"`
	Timestamp  time.Time `avro:"timestamp"`
}

// EventSchema returns the Avro schema of audit events.
func EventSchema() (avro.Schema, error) {
	return kafka.NewRecordSchema("ToolCall", "com.servicenow.mcp.audit", eventFields)
}

// AvroEncoder encodes events with [EventSchema], optionally in the Confluent
// wire format under the subject "<topic>-value".
type AvroEncoder struct {
	schema     avro.Schema
	subject    string
	serializer *kafka.AvroSerializer
}

// NewAvroEncoder creates an AvroEncoder. A nil registry disables the
// Confluent framing. Otherwise the schema ID is resolved here, and Encode
// never calls the registry.
func NewAvroEncoder(ctx context.Context, topic string, registry kafka.SchemaRegistryClient) (*AvroEncoder, error) {
	schema, err := EventSchema()
	if err != nil {
		return nil, fmt.Errorf("building audit schema: %w", err)
	}
	enc := &AvroEncoder{schema: schema, subject: topic + "-value"}
	if registry != nil {
		enc.serializer = kafka.NewAvroSerializer(registry)
		if _, err := enc.serializer.Register(ctx, enc.subject, schema); err != nil {
			return nil, fmt.Errorf("registering audit schema: %w", err)
		}
	}
	return enc, nil
}

func (e *AvroEncoder) Encode(ctx context.Context, ev Event) ([]byte, error) {
	rec := avroEvent{
		Tool:       ev.Tool,
		Reference:  ev.Reference,
		Outcome:    ev.Outcome,
		DurationMS: ev.DurationMS,
		Timestamp:  ev.Timestamp,
	}
	if ev.Error != "" {
		rec.Error = &ev.Error
	}

	if e.serializer != nil {
		return e.serializer.Serialize(ctx, e.subject, e.schema, rec)
	}
	data, err := avro.Marshal(e.schema, rec)
	if err != nil {
		return nil, fmt.Errorf("marshaling avro: %w", err)
	}
	return data, nil
}

func (e *AvroEncoder) ContentType() string { return "avro/binary" }
