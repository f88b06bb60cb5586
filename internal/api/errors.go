package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies client failures the way callers need to react to
// them: transport errors may be retried, decode and API errors may not.
type ErrorKind int

const (
	// KindTransport covers connection-level failures (refused, DNS, TLS,
	// canceled requests).
	KindTransport ErrorKind = iota
	// KindDecode covers malformed envelope or payload bytes.
	KindDecode
	// KindAPI covers structured {code, message, details} errors returned
	// inside the envelope.
	KindAPI
	// KindEmpty covers responses with an empty body.
	KindEmpty
	// KindUnexpected covers non-success statuses without a structured error.
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	case KindAPI:
		return "api"
	case KindEmpty:
		return "empty response"
	case KindUnexpected:
		return "unexpected status"
	default:
		return "unknown"
	}
}

// ErrorBody is the structured error carried inside a failed envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error is the single error type returned by Client operations.
type Error struct {
	Kind    ErrorKind
	Status  int    // HTTP status when known, 0 otherwise
	TraceID string // envelope trace id when present
	Body    *ErrorBody
	Raw     []byte // raw response body for KindUnexpected
	Err     error  // wrapped cause for transport/decode failures
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindAPI:
		if e.Status > 0 {
			return fmt.Sprintf("api error: %d %s: %s", e.Status, e.Body.Code, e.Body.Message)
		}
		return fmt.Sprintf("api error: %s: %s", e.Body.Code, e.Body.Message)
	case KindEmpty:
		return fmt.Sprintf("empty response body: status %d", e.Status)
	case KindUnexpected:
		return fmt.Sprintf("unexpected status %d: %s", e.Status, strings.TrimSpace(string(e.Raw)))
	default:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Details returns the structured details payload of an API error, or nil.
func (e *Error) Details() any {
	if e.Body == nil {
		return nil
	}
	return e.Body.Details
}

// Code returns the structured error code of an API error, or "".
func (e *Error) Code() string {
	if e.Body == nil {
		return ""
	}
	return e.Body.Code
}

// IsNotFound reports whether the error looks like a missing or
// no-longer-available resource. Used by the disconnect verifier to
// distinguish "cycle gone" from generic verification failures.
func (e *Error) IsNotFound() bool {
	if e.Status == http.StatusNotFound || e.Status == http.StatusGone {
		return true
	}
	code := strings.ToUpper(e.Code())
	return strings.Contains(code, "NOT_FOUND") || strings.Contains(code, "GONE")
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
