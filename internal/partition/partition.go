// Package partition chooses the Kafka message key for audit events.
//
// The key decides which partition an event lands on:
//
//   - [DefaultPartitioner]: keys by the event reference (ticket number, item
//     name, ...), so every event about the same subject stays in order.
//
//   - [RoundRobinPartitioner]: returns a nil key. The producer is built with
//     the partitioner from [RecordPartitioner], which rotates through the
//     partitions record by record.
//
//   - [FieldBasedPartitioner]: hashes one or more named event fields, e.g.
//     ["tool"] to keep each tool's events together.
//
// # Usage
//
//	p := partition.New(cfg.Audit)
//	key := p.Key(event.Fields())
package partition

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/config"
)

// Strategy names accepted in audit.partitioner.
const (
	StrategyDefault    = "default"
	StrategyRoundRobin = "round_robin"
	StrategyFieldBased = "field_based"
)

// ReferenceField is the event field used by the default strategy.
const ReferenceField = "reference"

// Partitioner determines the Kafka message key for an event, given its fields
// rendered as strings.
type Partitioner interface {
	// Key returns the message key, or nil for round-robin placement.
	Key(fields map[string]string) []byte
}

// New creates the Partitioner named by cfg.Partitioner. Unknown or empty
// names select the default strategy.
func New(cfg config.AuditConfig) Partitioner {
	switch cfg.Partitioner {
	case StrategyRoundRobin:
		return &RoundRobinPartitioner{}
	case StrategyFieldBased:
		return &FieldBasedPartitioner{Fields: cfg.PartitionKeyFields}
	default:
		return &DefaultPartitioner{Field: ReferenceField}
	}
}

// RecordPartitioner returns the franz-go partitioner the producer needs for
// strategy, or nil to keep the client default (sticky, key hashed).
func RecordPartitioner(strategy string) kgo.Partitioner {
	if strategy == StrategyRoundRobin {
		return kgo.RoundRobinPartitioner()
	}
	return nil
}

// DefaultPartitioner keys by a single field value.
type DefaultPartitioner struct {
	Field string
}

// Key returns the field value, or nil when it is absent or empty.
func (d *DefaultPartitioner) Key(fields map[string]string) []byte {
	val := fields[d.Field]
	if val == "" {
		return nil
	}
	return []byte(val)
}

// RoundRobinPartitioner always returns a nil key.
type RoundRobinPartitioner struct{}

// Key always returns nil.
func (r *RoundRobinPartitioner) Key(_ map[string]string) []byte {
	return nil
}

// FieldBasedPartitioner hashes the values of several fields into a fixed
// 64-character hex key.
//
// Values are joined in sorted field-name order with a NUL separator, then
// SHA-256 hashed. Absent fields contribute an empty value. Given
// fields=["tool", "outcome"] and an event with outcome="ok",
// tool="get_user_id", the key is hex(SHA-256("ok\x00get_user_id")).
type FieldBasedPartitioner struct {
	Fields []string
}

// Key returns the hex SHA-256 of the joined field values, or nil when no
// fields are configured.
func (f *FieldBasedPartitioner) Key(fields map[string]string) []byte {
	if len(f.Fields) == 0 {
		return nil
	}

	sorted := make([]string, len(f.Fields))
	copy(sorted, f.Fields)
	sort.Strings(sorted)

	parts := make([]string, len(sorted))
	for i, name := range sorted {
		parts[i] = fields[name]
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return []byte(hex.EncodeToString(hash[:]))
}
