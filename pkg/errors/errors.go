package errors

import (
	"errors"
	"fmt"
)

// Kind classifies failures by how the caller should react to them.
type Kind string

const (
	// KindTransport covers DNS, TCP connect and handshake failures. Recoverable
	// by moving to the next candidate host.
	KindTransport Kind = "TRANSPORT"
	// KindProtocol covers malformed frames and broken frame sequences. Only the
	// current operation is abandoned.
	KindProtocol Kind = "PROTOCOL"
	// KindFatal ends the session and cancels its round.
	KindFatal Kind = "FATAL"
	// KindResource covers listener bind failures; logged and retried later.
	KindResource Kind = "RESOURCE"
	KindConfig   Kind = "CONFIG"
)

// AppError represents an application error with kind and context
type AppError struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new application error
func New(kind Kind, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with an application error
func Wrap(err error, kind Kind, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

func Transport(err error, message string) *AppError { return Wrap(err, KindTransport, message) }
func Protocol(err error, message string) *AppError  { return Wrap(err, KindProtocol, message) }
func Fatal(err error, message string) *AppError     { return Wrap(err, KindFatal, message) }
func Resource(err error, message string) *AppError  { return Wrap(err, KindResource, message) }

// KindOf returns the kind of the first AppError in the chain, or "" if none.
func KindOf(err error) Kind {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err carries kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
