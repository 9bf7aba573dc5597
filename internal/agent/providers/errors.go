package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind separates transport failures from errors produced by the
// provider itself.
type ErrorKind string

const (
	// KindNetwork covers transport-level failures: connection errors,
	// DNS, timeouts, cancelled contexts.
	KindNetwork ErrorKind = "network"

	// KindProtocol covers errors from the provider: non-2xx statuses,
	// unparseable response bodies, responses missing required fields.
	KindProtocol ErrorKind = "protocol"
)

// ErrorReason categorizes why a provider request failed, driving the
// adapters' retry decisions.
type ErrorReason string

const (
	ReasonRateLimit        ErrorReason = "rate_limit"
	ReasonAuth             ErrorReason = "auth"
	ReasonTimeout          ErrorReason = "timeout"
	ReasonServerError      ErrorReason = "server_error"
	ReasonInvalidRequest   ErrorReason = "invalid_request"
	ReasonModelUnavailable ErrorReason = "model_unavailable"
	ReasonUnknown          ErrorReason = "unknown"
)

// IsRetryable reports whether a retry may plausibly succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured failure from a provider adapter. It carries
// enough context for retry decisions and for the executor's task ledger.
type ProviderError struct {
	// Kind distinguishes transport failures from provider-side errors.
	Kind ErrorKind

	// Reason categorizes the failure for retry logic.
	Reason ErrorReason

	// Provider is the adapter name (anthropic, openai, gemini, ollama).
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code when one was received.
	Status int

	// Code is the provider-specific error code, when reported.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the provider's request id, when reported.
	RequestID string

	// Cause is the underlying error.
	Cause error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewNetworkError wraps a transport-level failure.
func NewNetworkError(provider, model string, cause error) *ProviderError {
	e := &ProviderError{
		Kind:     KindNetwork,
		Reason:   ReasonUnknown,
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
	if cause != nil {
		e.Message = cause.Error()
		e.Reason = classifyMessage(cause.Error())
	}
	return e
}

// NewProtocolError wraps a provider-side failure: bad status, unparseable
// body, or a response missing required fields.
func NewProtocolError(provider, model, message string) *ProviderError {
	return &ProviderError{
		Kind:     KindProtocol,
		Reason:   ReasonUnknown,
		Provider: provider,
		Model:    model,
		Message:  message,
	}
}

// WithStatus records the HTTP status and reclassifies the reason. A status
// implies the provider answered, so the kind becomes protocol.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Kind = KindProtocol
	if reason := classifyStatus(status); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records the provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithMessage sets the human-readable message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// WithRequestID records the provider's request id.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether the error is worth retrying, classifying raw
// errors by message when they are not ProviderErrors.
func IsRetryable(err error) bool {
	if pe, ok := AsProviderError(err); ok {
		return pe.Reason.IsRetryable()
	}
	return classifyMessage(errString(err)).IsRetryable()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func classifyStatus(status int) ErrorReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyCode(code string) ErrorReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return ReasonRateLimit
	case "authentication_error", "permission_error", "invalid_api_key":
		return ReasonAuth
	case "not_found_error", "model_not_found":
		return ReasonModelUnavailable
	case "overloaded_error", "server_error", "internal_error", "api_error":
		return ReasonServerError
	case "invalid_request_error":
		return ReasonInvalidRequest
	case "timeout_error":
		return ReasonTimeout
	default:
		return ReasonUnknown
	}
}

func classifyMessage(msg string) ErrorReason {
	s := strings.ToLower(msg)
	switch {
	case strings.Contains(s, "timeout"),
		strings.Contains(s, "deadline exceeded"),
		strings.Contains(s, "context deadline"):
		return ReasonTimeout
	case strings.Contains(s, "rate limit"),
		strings.Contains(s, "rate_limit"),
		strings.Contains(s, "too many requests"),
		strings.Contains(s, "429"):
		return ReasonRateLimit
	case strings.Contains(s, "unauthorized"),
		strings.Contains(s, "invalid api key"),
		strings.Contains(s, "authentication"),
		strings.Contains(s, "401"),
		strings.Contains(s, "403"):
		return ReasonAuth
	case strings.Contains(s, "model not found"),
		strings.Contains(s, "does not exist"):
		return ReasonModelUnavailable
	case strings.Contains(s, "internal server"),
		strings.Contains(s, "server error"),
		strings.Contains(s, "overloaded"),
		strings.Contains(s, "500"),
		strings.Contains(s, "502"),
		strings.Contains(s, "503"),
		strings.Contains(s, "504"):
		return ReasonServerError
	case strings.Contains(s, "connection refused"),
		strings.Contains(s, "no such host"),
		strings.Contains(s, "connection reset"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}
