package kafka

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
)

// SchemaRegistryClient resolves schema IDs from a Confluent-compatible
// Schema Registry.
type SchemaRegistryClient interface {
	// GetSchemaID registers schema under subject if needed and returns its ID.
	GetSchemaID(ctx context.Context, subject string, schema avro.Schema) (int, error)
}

// AvroSerializer encodes values as Avro in the Confluent wire format:
//
//	[magic byte 0] [schema ID, 4 bytes big-endian] [avro data]
//
// Schema IDs are resolved once per subject and cached.
type AvroSerializer struct {
	registry SchemaRegistryClient

	mu  sync.Mutex
	ids map[string]int
}

// NewAvroSerializer creates a serializer backed by registry.
func NewAvroSerializer(registry SchemaRegistryClient) *AvroSerializer {
	return &AvroSerializer{
		registry: registry,
		ids:      make(map[string]int),
	}
}

// Register resolves the schema ID of subject and caches it, so later calls
// to Serialize for that subject do not reach the registry.
func (s *AvroSerializer) Register(ctx context.Context, subject string, schema avro.Schema) (int, error) {
	return s.schemaID(ctx, subject, schema)
}

// Serialize encodes v with schema, prefixed by the schema ID registered for
// subject.
func (s *AvroSerializer) Serialize(ctx context.Context, subject string, schema avro.Schema, v any) ([]byte, error) {
	schemaID, err := s.schemaID(ctx, subject, schema)
	if err != nil {
		return nil, err
	}

	data, err := avro.Marshal(schema, v)
	if err != nil {
		return nil, fmt.Errorf("marshaling avro: %w", err)
	}

	out := make([]byte, 5+len(data))
	binary.BigEndian.PutUint32(out[1:5], uint32(schemaID))
	copy(out[5:], data)
	return out, nil
}

func (s *AvroSerializer) schemaID(ctx context.Context, subject string, schema avro.Schema) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[subject]; ok {
		return id, nil
	}
	id, err := s.registry.GetSchemaID(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("getting schema ID for subject %s: %w", subject, err)
	}
	s.ids[subject] = id
	return id, nil
}
