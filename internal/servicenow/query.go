package servicenow

import (
	"strings"
)

// Encoded query operators.
const (
	snAND  = "^"
	snOR   = "^OR"
	snIS   = "="
	snLIKE = "LIKE"
)

// QueryBuilder constructs ServiceNow encoded query strings using a fluent API.
//
// Example output: "nameLIKEjane^ORemailLIKEjane^active=true"
type QueryBuilder struct {
	query strings.Builder
}

// NewQueryBuilder creates a new empty QueryBuilder.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// sanitizeValue escapes '^' as '^^' so a value cannot start a new term.
func sanitizeValue(v string) string {
	return strings.ReplaceAll(v, snAND, snAND+snAND)
}

func (q *QueryBuilder) add(sep, field, op, value string) *QueryBuilder {
	q.query.WriteString(sep)
	q.query.WriteString(field)
	q.query.WriteString(op)
	q.query.WriteString(sanitizeValue(value))
	return q
}

// Build returns the final query string, stripping the leading '^' separator.
func (q *QueryBuilder) Build() string {
	return strings.TrimPrefix(q.query.String(), snAND)
}

// String implements fmt.Stringer.
func (q *QueryBuilder) String() string {
	return q.Build()
}

// WhereEquals adds: ^field=value
func (q *QueryBuilder) WhereEquals(field, value string) *QueryBuilder {
	return q.add(snAND, field, snIS, value)
}

// WhereLike adds: ^fieldLIKEvalue (contains)
func (q *QueryBuilder) WhereLike(field, value string) *QueryBuilder {
	return q.add(snAND, field, snLIKE, value)
}

// OrWhereLike adds: ^ORfieldLIKEvalue
func (q *QueryBuilder) OrWhereLike(field, value string) *QueryBuilder {
	return q.add(snOR, field, snLIKE, value)
}
