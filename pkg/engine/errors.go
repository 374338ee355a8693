package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorClass decides whether a failed mutation is retried.
type ErrorClass string

const (
	// ErrorClassTransient failures (transport errors, 5xx) are retried.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled failures are retried with a longer backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent failures are reported as is.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes carried by EngineError.
const (
	ErrCodeAuth           = "AUTH_FAILED"
	ErrCodeNetwork        = "NETWORK_ERROR"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeRemoteRejected = "REMOTE_REJECTED"
	ErrCodeCancelled      = "CANCELLED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// EngineError is a classified failure of a remote call or mutation.
// nolint:revive // the package name alone does not tell it apart from ValidationError
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`

	// Resource is the change ID, e.g. "endpoint/ops".
	Resource string `json:"resource,omitempty"`

	// Operation is the change type, or "METHOD path" for a raw request.
	Operation string `json:"operation,omitempty"`

	// Status is the HTTP status of the response, when there was one.
	Status int `json:"status,omitempty"`

	// RetryAfter is the delay the remote asked for before the next attempt.
	RetryAfter time.Duration `json:"retryAfter,omitempty"`

	Err error `json:"-"`
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var where []string
	if e.Resource != "" {
		where = append(where, "resource="+e.Resource)
	}
	if e.Operation != "" && e.Resource != "" {
		where = append(where, "operation="+e.Operation)
	}
	if len(where) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(where, ", "))
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{Class: class, Code: code, Message: message, Err: err}
}

// NewTransientError reports a failure that may succeed on retry.
func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, "", message, err)
}

// NewPermanentError reports a failure no retry can fix.
func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, "", message, err)
}

// NewAuthError reports a credential rejected by the remote. It is fatal to the run.
func NewAuthError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeAuth, message, err)
}

// NewNetworkError reports a transport failure or a remote 5xx.
func NewNetworkError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, ErrCodeNetwork, message, err)
}

// NewRateLimitedError reports a remote rate limit response.
func NewRateLimitedError(message string, err error) *EngineError {
	return newError(ErrorClassThrottled, ErrCodeRateLimited, message, err)
}

// NewRemoteRejected reports a request the remote understood but refused.
// The reason is the remote's own explanation.
func NewRemoteRejected(reason string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeRemoteRejected, reason, err)
}

// WithResource sets the change ID the error belongs to.
func (e *EngineError) WithResource(id string) *EngineError {
	e.Resource = id
	return e
}

// WithOperation sets the operation that failed.
func (e *EngineError) WithOperation(op string) *EngineError {
	e.Operation = op
	return e
}

// WithCode overrides the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithStatus records the HTTP status of the failed response.
func (e *EngineError) WithStatus(status int) *EngineError {
	e.Status = status
	return e
}

// WithRetryAfter records the delay the remote asked for.
func (e *EngineError) WithRetryAfter(d time.Duration) *EngineError {
	e.RetryAfter = d
	return e
}

func asEngineError(err error) (*EngineError, bool) {
	var e *EngineError
	ok := errors.As(err, &e)
	return e, ok
}

func hasClass(err error, class ErrorClass) bool {
	e, ok := asEngineError(err)
	return ok && e.Class == class
}

func hasCode(err error, code string) bool {
	e, ok := asEngineError(err)
	return ok && e.Code == code
}

// IsThrottled reports whether the remote rate limited the request.
func IsThrottled(err error) bool { return hasClass(err, ErrorClassThrottled) }

// IsRetryable reports whether err is transient or throttled.
func IsRetryable(err error) bool {
	return hasClass(err, ErrorClassTransient) || hasClass(err, ErrorClassThrottled)
}

// IsAuth reports whether the remote rejected the credential.
func IsAuth(err error) bool { return hasCode(err, ErrCodeAuth) }

// IsRemoteRejected reports whether the remote refused the operation.
func IsRemoteRejected(err error) bool { return hasCode(err, ErrCodeRemoteRejected) }

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool { return hasCode(err, ErrCodeNetwork) }

// RetryAfter returns the delay the remote asked for, or zero.
func RetryAfter(err error) time.Duration {
	if e, ok := asEngineError(err); ok {
		return e.RetryAfter
	}
	return 0
}

// ErrValidation matches every validation failure raised while building desired state.
var ErrValidation = errors.New("validation error")

// ValidationError reports a malformed document, a bad shorthand shape or
// an unresolved endpoint reference. It is raised before any network call.
type ValidationError struct {
	// Path locates the offending value, e.g. "emailAddresses.hello@example.com".
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// NewValidationError creates a validation error at path.
func NewValidationError(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// IsValidation reports whether err is, or wraps, a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
