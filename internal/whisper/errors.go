package whisper

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so API callers can react without parsing text.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindNotFound             Kind = "not_found"
	KindResourceExhausted    Kind = "resource_exhausted"
	KindLoadFailure          Kind = "load_failure"
	KindTranscriptionFailure Kind = "transcription_failure"
	KindTimeout              Kind = "timeout"
)

// Error is a classified failure with a human-readable detail message.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error with a formatted detail message
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapError wraps an underlying error with a kind and detail message
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindTranscriptionFailure if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTranscriptionFailure
}

// DetailOf returns the human-readable detail of err
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return err.Error()
}
