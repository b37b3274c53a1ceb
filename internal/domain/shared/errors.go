// Package shared holds the error vocabulary every layer of the participation
// tools speaks. It has no dependencies outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// Kinds. Match them with errors.Is; a *DomainError matches its Kind and
// anything its wrapped error matches.
var (
	ErrNotFound = errors.New("not found")

	ErrValidation    = errors.New("validation error")
	ErrInvalidFormat = errors.New("invalid format")
	// ErrSeasonOverlap is a validation failure; IsValidation reports it.
	ErrSeasonOverlap = errors.New("overlapping seasons")

	// ErrFetch is a transport failure that ends a pull.
	ErrFetch = errors.New("fetch failed")
	// ErrMalformedPage is a response that decoded but does not have the
	// expected shape. It is never retried.
	ErrMalformedPage = errors.New("malformed page")

	ErrUnsupportedVersion = errors.New("unsupported schema version")
	ErrCorrupted          = errors.New("corrupted data")
)

// DomainError places a failure: which package (Domain), which call (Op),
// what kind, and a message for people.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the wrapped error, or the kind when nothing is wrapped.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches the kind even when a cause is wrapped.
func (e *DomainError) Is(target error) bool {
	return e.Kind != nil && errors.Is(e.Kind, target)
}

// NewDomainError builds a DomainError without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError builds a DomainError around cause.
func WrapError(domain, op string, kind error, message string, cause error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: cause}
}

// Malformed builds an ErrMalformedPage error with a formatted message.
func Malformed(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrMalformedPage, fmt.Sprintf(format, args...))
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports input the caller has to fix.
func IsValidation(err error) bool {
	for _, kind := range []error{ErrValidation, ErrSeasonOverlap, ErrInvalidFormat} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
