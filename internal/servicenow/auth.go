package servicenow

import (
	"context"
	"encoding/base64"
)

// Authenticator provides the Authorization header value for ServiceNow API
// requests. Implementations must be safe for concurrent use.
type Authenticator interface {
	// Token returns the current authentication header value, e.g.
	// "Basic <base64>".
	Token(ctx context.Context) (string, error)
}

// BasicAuthenticator implements the Authenticator interface using HTTP Basic
// Authentication. The credentials are encoded once at construction time and
// never refreshed.
type BasicAuthenticator struct {
	header string
}

// NewBasicAuthenticator creates a BasicAuthenticator from the given credentials.
// The username:password pair is base64-encoded per RFC 7617.
func NewBasicAuthenticator(username, password string) *BasicAuthenticator {
	encoded := base64.StdEncoding.EncodeToString(
		[]byte(username + ":" + password),
	)
	return &BasicAuthenticator{
		header: "Basic " + encoded,
	}
}

// Token returns the pre-computed "Basic <base64>" header value.
func (b *BasicAuthenticator) Token(_ context.Context) (string, error) {
	return b.header, nil
}
