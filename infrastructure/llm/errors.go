package llm

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by the LLM client and providers.
var (
	// ErrEmptyAPIKey indicates that an API key was required but not provided.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse indicates that the provider's API returned an empty or nil response body.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrNoResponseChoice indicates that the provider's response contained no valid choices.
	ErrNoResponseChoice = errors.New("no response choices returned")
	// ErrEmptyPrompt indicates that a request carried neither system text nor a user message.
	ErrEmptyPrompt = errors.New("request has no prompt text")
)

// ErrorType represents the category of an error returned by an LLM provider.
// It helps classify errors for standardized handling, such as determining retryability.
type ErrorType int

const (
	// ErrorTypeUnknown indicates an error of an undetermined category.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeAuthentication indicates a problem with authentication or authorization (e.g., invalid API key).
	ErrorTypeAuthentication
	// ErrorTypeRateLimit indicates that a rate limit has been exceeded.
	ErrorTypeRateLimit
	// ErrorTypeBadRequest indicates a malformed request or invalid parameters.
	ErrorTypeBadRequest
	// ErrorTypeNotFound indicates that a requested resource (e.g., a model) could not be found.
	ErrorTypeNotFound
	// ErrorTypeServerError indicates a problem on the provider's end.
	ErrorTypeServerError
	// ErrorTypeContentPolicy indicates that the request was blocked by a content policy.
	ErrorTypeContentPolicy
	// ErrorTypeNetwork indicates a client-side network problem.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates that the request timed out.
	ErrorTypeTimeout
	// ErrorTypeCanceled indicates that the caller canceled the request.
	ErrorTypeCanceled
)

// ProviderError represents a structured error from an LLM provider.
// It normalizes provider-specific errors into a common format,
// including a classified error type and relevant metadata.
type ProviderError struct {
	// Type classifies the error into a standard category.
	Type ErrorType
	// Provider identifies the name of the LLM provider that produced the error.
	Provider string
	// StatusCode holds the HTTP status code from the provider's response, if applicable.
	StatusCode int
	// Message contains the user-facing error message from the provider.
	Message string
	// WrappedError holds the original underlying error, allowing for error chaining.
	WrappedError error
}

// Error returns a string representation of the ProviderError.
func (e *ProviderError) Error() string {
	base := fmt.Sprintf("%s error", e.Provider)
	if e.StatusCode > 0 {
		base += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}

	typeStr := e.typeString()
	if typeStr != "" {
		base += fmt.Sprintf(" [%s]", typeStr)
	}

	if e.Message != "" {
		base += ": " + e.Message
	}

	if e.WrappedError != nil {
		base += fmt.Sprintf(": %v", e.WrappedError)
	}

	return base
}

// Unwrap returns the underlying wrapped error.
func (e *ProviderError) Unwrap() error {
	return e.WrappedError
}

// IsRetryable reports whether the failure is transient: rate limits, 5xx
// responses, network failures and deadlines. Other 4xx responses, content
// policy blocks and caller cancellations are terminal.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// typeString returns a human-readable error type.
func (e *ProviderError) typeString() string {
	switch e.Type {
	case ErrorTypeAuthentication:
		return "authentication"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeServerError:
		return "server_error"
	case ErrorTypeContentPolicy:
		return "content_policy"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeCanceled:
		return "canceled"
	default:
		return ""
	}
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:         errType,
		Provider:     provider,
		StatusCode:   statusCode,
		Message:      message,
		WrappedError: wrapped,
	}
}

// IsRetryable reports whether err, or any error it wraps, is classified as
// retryable. Errors without a classification are not retryable.
func IsRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

// ErrorClassifier standardizes provider-specific errors into ProviderError instances.
// It uses context such as HTTP status codes to determine the appropriate ErrorType.
type ErrorClassifier struct {
	// Provider is the name of the LLM provider for which this classifier works.
	Provider string
}

// ClassifyHTTPError creates a ProviderError by classifying an error based on its HTTP status code.
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, message string, err error) *ProviderError {
	var errType ErrorType
	var userMessage string

	switch statusCode {
	case 401, 403:
		errType = ErrorTypeAuthentication
		userMessage = fmt.Sprintf("%s authentication failed", ec.Provider)
	case 429:
		errType = ErrorTypeRateLimit
		userMessage = fmt.Sprintf("%s rate limit exceeded", ec.Provider)
	case 400:
		errType = ErrorTypeBadRequest
		userMessage = message
	case 404:
		errType = ErrorTypeNotFound
		userMessage = message
	case 408:
		errType = ErrorTypeTimeout
		userMessage = message
	case 500, 502, 503, 504, 529:
		errType = ErrorTypeServerError
		userMessage = message
	default:
		if statusCode >= 400 && statusCode < 500 {
			errType = ErrorTypeBadRequest
		} else if statusCode >= 500 {
			errType = ErrorTypeServerError
		} else {
			errType = ErrorTypeUnknown
		}
		userMessage = message
	}

	return NewProviderError(ec.Provider, errType, statusCode, userMessage, err)
}

// ClassifyContextError creates a ProviderError from a context error.
// A missed deadline is a retryable timeout; a cancellation is terminal.
func (ec *ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "context deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeCanceled, 0, "request canceled", err)
	default:
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "", err)
	}
}

// ClassifyTransportError classifies an error that carries no HTTP status,
// such as a refused connection or a truncated body, as a network failure.
func (ec *ErrorClassifier) ClassifyTransportError(err error) *ProviderError {
	if isContextError(err) {
		return ec.ClassifyContextError(err)
	}
	return NewProviderError(ec.Provider, ErrorTypeNetwork, 0, "request failed", err)
}

// isContextError checks if an error is a context-related error, such as a
// deadline exceeded or cancellation.
func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
