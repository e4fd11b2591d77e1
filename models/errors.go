package models

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for the strategy escalator and the API layer.
type Kind int

const (
	// KindValidation is a client-side validation failure (bad URL, SSRF
	// target, oversize input, invalid option). Fatal, never retried.
	KindValidation Kind = iota

	// KindNetwork is a transport failure: DNS, connect, TLS handshake,
	// truncated body. Surfaces immediately; the escalator does not advance.
	KindNetwork

	// KindTimeout is a deadline failure (per-rung, per-action, queue wait).
	KindTimeout

	// KindBlocked is a bot-block signal: 403/503, a challenge page, or a
	// suspiciously small body. The escalator advances one rung on it.
	KindBlocked
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeInvalidURL  = "INVALID_URL"
	ErrCodeSSRFBlocked = "SSRF_BLOCKED"
	ErrCodeInvalidOpt  = "INVALID_OPTION"
	ErrCodeTooLarge    = "RESPONSE_TOO_LARGE"
	ErrCodeNetwork     = "NETWORK"
	ErrCodeTimeout     = "TIMEOUT"
	ErrCodeBlocked     = "BLOCKED"
	ErrCodeInternal    = "INTERNAL"

	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeRateLimited  = "RATE_LIMITED"

	ErrCodeLLMFailure = "LLM_FAILURE"
)

// PeelError is the internal error type carrying a kind and a machine code.
// It implements the error interface and supports wrapping via Unwrap.
type PeelError struct {
	Kind    Kind
	Code    string
	Message string
	Hint    string
	Err     error // wrapped original error
}

func (e *PeelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PeelError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a fatal client-side validation error.
func NewValidationError(code, message string) *PeelError {
	return &PeelError{Kind: KindValidation, Code: code, Message: message}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(message string, err error) *PeelError {
	return &PeelError{Kind: KindNetwork, Code: ErrCodeNetwork, Message: message, Err: err}
}

// NewTimeoutError wraps a deadline failure.
func NewTimeoutError(message string, err error) *PeelError {
	return &PeelError{Kind: KindTimeout, Code: ErrCodeTimeout, Message: message, Err: err}
}

// NewBlockedError creates a bot-block error that drives escalation.
func NewBlockedError(message string) *PeelError {
	return &PeelError{Kind: KindBlocked, Code: ErrCodeBlocked, Message: message}
}

// KindOf returns the Kind of err if it is (or wraps) a PeelError.
// Unclassified errors report KindNetwork, the conservative default:
// they surface immediately instead of triggering another rung.
func KindOf(err error) Kind {
	var pe *PeelError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNetwork
}

// IsBlocked reports whether err carries KindBlocked.
func IsBlocked(err error) bool {
	return KindOf(err) == KindBlocked
}

// ErrorDetail is the sanitized, user-visible error in API responses.
type ErrorDetail struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Docs      string `json:"docs,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
// Messages are sanitized so they can never carry markup into a client.
func (e *PeelError) ToDetail(requestID string) *ErrorDetail {
	return &ErrorDetail{
		Type:      e.Code,
		Message:   SanitizeMessage(e.Message),
		Hint:      e.Hint,
		RequestID: requestID,
	}
}

// DetailFor builds an ErrorDetail from any error, mapping unclassified
// errors to INTERNAL.
func DetailFor(err error, requestID string) *ErrorDetail {
	var pe *PeelError
	if errors.As(err, &pe) {
		return pe.ToDetail(requestID)
	}
	return &ErrorDetail{
		Type:      ErrCodeInternal,
		Message:   SanitizeMessage(err.Error()),
		RequestID: requestID,
	}
}

// SanitizeMessage strips characters that could smuggle markup into clients.
func SanitizeMessage(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'':
			return -1
		}
		return r
	}, s)
}
