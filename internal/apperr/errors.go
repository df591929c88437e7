// Package apperr defines the error kinds surfaced at operation boundaries.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports a caller-supplied value that is empty or
// malformed, or a payload the sanitizer refused to write.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validation returns a ValidationError for field.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// PreconditionError reports an operation that is not allowed in the
// current state: run cap reached, no active run, missing document.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }

// Precondition returns a PreconditionError.
func Precondition(format string, args ...any) error {
	return &PreconditionError{Msg: fmt.Sprintf(format, args...)}
}

// ExternalServiceError wraps a failure of the review generator. Its
// message is shown to the user verbatim.
type ExternalServiceError struct {
	Service string
	Msg     string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Service, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Service, e.Msg)
	}
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External returns an ExternalServiceError for service.
func External(service string, err error, format string, args ...any) error {
	return &ExternalServiceError{Service: service, Msg: fmt.Sprintf(format, args...), Err: err}
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStore wraps err as a StoreError for op unless err is nil or already
// carries one of the typed kinds.
func WrapStore(op string, err error) error {
	if err == nil || KindOf(err) != KindUnknown {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Kind classifies an error for callers that map errors to responses.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindPrecondition
	KindExternal
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindExternal:
		return "external_service"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// KindOf reports the kind of the first typed error in err's chain.
func KindOf(err error) Kind {
	var (
		ve *ValidationError
		pe *PreconditionError
		ee *ExternalServiceError
		se *StoreError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &pe):
		return KindPrecondition
	case errors.As(err, &ee):
		return KindExternal
	case errors.As(err, &se):
		return KindStore
	}
	return KindUnknown
}
