package common

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an AppError into the error taxonomy surfaced by the API.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindInsufficientCredits
	KindAlreadyInProgress
	KindParseError
	KindDecodeError
	KindProviderTimeout
	KindProviderOverloaded
	KindProviderInvalidInput
	KindProviderAuth
	KindProviderOther
	KindIOFailure
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "INVALID_INPUT"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindInsufficientCredits:
		return "INSUFFICIENT_CREDITS"
	case KindAlreadyInProgress:
		return "ALREADY_IN_PROGRESS"
	case KindParseError:
		return "PARSE_ERROR"
	case KindDecodeError:
		return "DECODE_ERROR"
	case KindProviderTimeout:
		return "PROVIDER_TIMEOUT"
	case KindProviderOverloaded:
		return "PROVIDER_OVERLOADED"
	case KindProviderInvalidInput:
		return "PROVIDER_INVALID_INPUT"
	case KindProviderAuth:
		return "PROVIDER_AUTH"
	case KindProviderOther:
		return "PROVIDER_OTHER"
	case KindIOFailure:
		return "IO_FAILURE"
	}
	return "UNKNOWN"
}

// AppError represents application-specific errors.
type AppError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match two AppErrors by Kind.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Error constructors.
func NewAppError(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

func Errorf(kind Kind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// KindOf extracts the taxonomy kind from any error chain.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// UserMessage returns the message intended for API consumers, without the
// wrapped cause chain.
func UserMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

// HTTPStatus maps the taxonomy onto the REST surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput, KindParseError, KindDecodeError, KindProviderInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindProviderTimeout:
		return http.StatusRequestTimeout
	case KindAlreadyInProgress:
		return http.StatusConflict
	case KindProviderOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
