package executor

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why an execution did not produce a result.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindNotFound
	KindInvalidState
	KindRateLimited
	KindDataCorruption
	KindProviderFailure
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindRateLimited:
		return "rate_limited"
	case KindDataCorruption:
		return "data_corruption"
	case KindProviderFailure:
		return "provider_failure"
	default:
		return "internal"
	}
}

// HTTPStatus maps k onto the status returned to API callers.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

const (
	MsgMissingTenant     = "missing tenant"
	MsgProjectNotFound   = "Project not found"
	MsgPromptNotFound    = "Prompt not found"
	MsgPromptInactive    = "Prompt is not active"
	MsgNoActiveVersion   = "No active version found for prompt"
	MsgNoMessages        = "Prompt has no messages"
	MsgCorruptVersion    = "Stored prompt version is corrupt"
	MsgInternal          = "Internal server error"
	MsgRateLimitFallback = "rate limit exceeded"
)

// Error is returned by Execute. Message is safe to show to the caller;
// provider messages are passed through verbatim.
type Error struct {
	Kind              Kind
	Message           string
	RetryAfterSeconds int
	Err               error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StatusCode returns the HTTP status for err. Errors that are not *Error
// are internal.
func StatusCode(err error) int {
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Kind.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the message to put in an error response body.
func PublicMessage(err error) string {
	var execErr *Error
	if errors.As(err, &execErr) && execErr.Message != "" {
		return execErr.Message
	}
	return MsgInternal
}

// logged is the error recorded on the execution log: the public message plus
// the underlying cause when the cause adds detail.
func (e *Error) logged() error {
	if e.Err == nil || e.Err.Error() == e.Message {
		return e
	}
	return fmt.Errorf("%s: %w", e.Message, e.Err)
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}
