package services

import (
	"errors"
	"fmt"
)

// FailureKind classifies pipeline failures so the HTTP layer can map each
// one to a status code exactly once.
type FailureKind string

const (
	KindMissingField      FailureKind = "missing_field"
	KindInvalidEncoding   FailureKind = "invalid_encoding"
	KindPayloadTooLarge   FailureKind = "payload_too_large"
	KindMalformedDocument FailureKind = "malformed_document"
	KindRateLimited       FailureKind = "rate_limited"
	KindTimeout           FailureKind = "timeout"
	KindUpstream          FailureKind = "upstream_unavailable"
	KindNoJSONFound       FailureKind = "no_json_found"
	KindParseError        FailureKind = "parse_error"
	KindMissingCredential FailureKind = "missing_credential"
	KindInternal          FailureKind = "internal"
)

// PipelineError is the single error type crossing the service boundary.
// Message is safe to show to callers; the wrapped error is for logs only.
type PipelineError struct {
	Kind       FailureKind
	Message    string
	RetryAfter int // seconds, set for rate-limited failures
	Err        error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func newPipelineError(kind FailureKind, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the failure kind from err, or KindInternal when err is not
// a PipelineError.
func KindOf(err error) FailureKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
