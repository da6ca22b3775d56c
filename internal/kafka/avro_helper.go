package kafka

import (
	"fmt"

	"github.com/hamba/avro/v2"
)

// SchemaField describes one field of a generated Avro record schema.
type SchemaField struct {
	Name string
	Type avro.Type

	// Logical, when set, annotates the primitive type (e.g. timestamp-millis).
	Logical avro.LogicalType

	// Optional fields become a ["null", Type] union defaulting to null and
	// map to pointer types in Go.
	Optional bool
}

// NewRecordSchema builds an Avro record schema from field descriptions.
func NewRecordSchema(name, namespace string, fields []SchemaField) (avro.Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("cannot generate schema with no fields")
	}

	avroFields := make([]*avro.Field, 0, len(fields))
	for _, f := range fields {
		var logical avro.LogicalSchema
		if f.Logical != "" {
			logical = avro.NewPrimitiveLogicalSchema(f.Logical)
		}
		var typ avro.Schema = avro.NewPrimitiveSchema(f.Type, logical)

		var opts []avro.SchemaOption
		if f.Optional {
			union, err := avro.NewUnionSchema([]avro.Schema{&avro.NullSchema{}, typ})
			if err != nil {
				return nil, fmt.Errorf("creating union for %s: %w", f.Name, err)
			}
			typ = union
			opts = append(opts, avro.WithDefault(nil))
		}

		field, err := avro.NewField(f.Name, typ, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating field %s: %w", f.Name, err)
		}
		avroFields = append(avroFields, field)
	}

	schema, err := avro.NewRecordSchema(name, namespace, avroFields)
	if err != nil {
		return nil, fmt.Errorf("creating record schema: %w", err)
	}
	return schema, nil
}
