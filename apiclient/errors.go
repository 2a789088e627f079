package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every failure the client can return.
type Kind int

const (
	// KindNetwork means no response was received.
	KindNetwork Kind = iota + 1
	// KindTimeout means the request exceeded its time budget.
	KindTimeout
	// KindHTTP is any non-2xx status that was not handled by a token refresh.
	KindHTTP
	// KindSessionExpired means the refresh token could not be exchanged and the
	// stored session was cleared.
	KindSessionExpired
	// KindMalformed is a 2xx response whose body is not valid JSON.
	KindMalformed
	// KindValidation is a client-side check that failed before any request or
	// state change.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	case KindSessionExpired:
		return "session_expired"
	case KindMalformed:
		return "malformed"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the client.
type Error struct {
	Kind       Kind
	StatusCode int
	// Code is the backend's machine-readable error code, if any.
	Code    string
	Message string
	// Details is the backend's structured error payload, if any.
	Details json.RawMessage

	Method    string
	Path      string
	RequestID string

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel values such as
// ErrSessionExpired work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.StatusCode == 0 || t.StatusCode == e.StatusCode)
}

// Sentinels for errors.Is checks.
var (
	ErrNetwork        = &Error{Kind: KindNetwork}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrSessionExpired = &Error{Kind: KindSessionExpired}
	ErrMalformed      = &Error{Kind: KindMalformed}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrUnauthorized   = &Error{Kind: KindHTTP, StatusCode: http.StatusUnauthorized}
)

// Messages shown to users; mirrors the web client's wording.
const (
	msgNetwork        = "Network error. Please check your connection."
	msgTimeout        = "Request timed out. Please try again."
	msgUploadTimeout  = "Upload timed out. Please try again with a smaller file."
	msgSessionExpired = "Session expired. Please log in again."
	msgMalformed      = "Invalid response from server"
	msgServer         = "Server error. Please try again later."
	msgUnauthorized   = "You are not authorized to perform this action."
	msgNotFound       = "The requested resource was not found."
	msgSomethingWrong = "Something went wrong. Please try again."
)

// NewValidationError returns a KindValidation error.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsAuthError reports whether err means the credentials are no longer usable:
// an HTTP 401/403 or an expired session.
func IsAuthError(err error) bool {
	switch KindOf(err) {
	case KindSessionExpired:
		return true
	case KindHTTP:
		code := StatusCode(err)
		return code == http.StatusUnauthorized || code == http.StatusForbidden
	default:
		return false
	}
}

// UserMessage turns err into text suitable for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	switch apiErr.Kind {
	case KindNetwork:
		return msgNetwork
	case KindTimeout:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return msgTimeout
	case KindSessionExpired:
		return msgSessionExpired
	case KindMalformed:
		return msgServer
	case KindValidation, KindHTTP:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return defaultStatusMessage(apiErr.StatusCode)
	default:
		return msgSomethingWrong
	}
}

// defaultStatusMessage is used when an error response carries no message.
func defaultStatusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "Invalid request. Please check your input."
	case http.StatusUnauthorized:
		return msgUnauthorized
	case http.StatusForbidden:
		return "You do not have permission to perform this action."
	case http.StatusNotFound:
		return msgNotFound
	case http.StatusConflict:
		return "This resource already exists."
	case http.StatusUnprocessableEntity:
		return "Unable to process your request. Please check your input."
	case http.StatusTooManyRequests:
		return "Too many requests. Please try again later."
	case http.StatusInternalServerError:
		return msgServer
	case http.StatusServiceUnavailable:
		return "Service temporarily unavailable. Please try again later."
	default:
		return msgSomethingWrong
	}
}
