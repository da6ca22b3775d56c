package servicenow

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for errors.Is checks.
var (
	ErrMissingCredentials = errors.New("missing ServiceNow credentials")
	ErrMissingField       = errors.New("missing field in ServiceNow response")
)

// ConfigError reports that the client cannot authenticate because one or
// more credentials are unset. It is returned before any network I/O.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing %s environment variables", strings.Join(e.Missing, ", "))
}

// Is matches ErrMissingCredentials.
func (e *ConfigError) Is(target error) bool {
	return target == ErrMissingCredentials
}

// APIError is a non-2xx response other than a soft 404.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether the remote answered 404.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// FieldError reports an expected field absent from a ServiceNow record.
type FieldError struct {
	Object string
	Field  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q not present in response", e.Object, e.Field)
}

// Is matches ErrMissingField.
func (e *FieldError) Is(target error) bool {
	return target == ErrMissingField
}
