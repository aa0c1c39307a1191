package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Authentication errors.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("the provided credentials are incorrect")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrMissingToken       = errors.New("token not present")
)

// Session errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionStore    = errors.New("session store failure")
)

// Remote IAM errors.
var (
	ErrIAMUnavailable = errors.New("identity authority unavailable")
	ErrIAMRejected    = errors.New("identity authority rejected the request")
	ErrIAMMalformed   = errors.New("identity authority returned a malformed response")
)

// Token errors.
var (
	ErrTokenGeneration   = errors.New("token generation failed")
	ErrCSRFSecretMissing = errors.New("CSRF secret not configured")
	ErrCSRFMismatch      = errors.New("CSRF token mismatch")
)

// Infrastructure errors.
var (
	ErrConfiguration = errors.New("invalid configuration")
	ErrMirror        = errors.New("identity mirror failure")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrValidation    = errors.New("validation failed")
)

// RemoteError describes a failed call to the IAM authority.
type RemoteError struct {
	Operation  string
	StatusCode int
	// Reason is a human-readable message extracted from the upstream body, if any.
	Reason string
	Err    error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString("iam ")
	b.WriteString(e.Operation)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error { return e.Err }

// ReasonOf returns the upstream reason carried by err, or fallback.
func ReasonOf(err error, fallback string) string {
	var re *RemoteError
	if errors.As(err, &re) && re.Reason != "" {
		return re.Reason
	}
	return fallback
}

// ValidationError carries field-level messages for request input.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {message}}}
}

// Add appends a message for field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool { return len(e.Fields) > 0 }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
