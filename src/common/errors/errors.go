// Package errors provides a structured error system for kbuilder.
// It supports error domains, codes, wrapping, and a consistent process exit
// code mapping across the kbuilder packages.
package errors

import (
	"errors"
	"fmt"
)

// Code represents a unique error code within a domain
type Code string

// Domain represents an error domain (e.g., "kernel", "toolchain", "build")
type Domain string

// Error domains
const (
	DomainKernel    Domain = "kernel"
	DomainToolchain Domain = "toolchain"
	DomainArch      Domain = "arch"
	DomainMake      Domain = "make"
	DomainBuild     Domain = "build"
	DomainPackaging Domain = "packaging"
	DomainStorage   Domain = "storage"
	DomainDatabase  Domain = "database"
	DomainConfig    Domain = "config"
	DomainInternal  Domain = "internal"
)

// Error represents a structured error with domain and code
type Error struct {
	// Domain categorizes the error (e.g., "toolchain", "build")
	Domain Domain `json:"domain"`

	// Code is a unique identifier within the domain (e.g., "not_found")
	Code Code `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// cause is the underlying error if this error wraps another
	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As support
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error with the same domain and code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Domain == t.Domain && e.Code == t.Code
}

// WithCause returns a copy of the error with the underlying cause attached
func (e *Error) WithCause(cause error) *Error {
	return &Error{
		Domain:  e.Domain,
		Code:    e.Code,
		Message: e.Message,
		cause:   cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		Domain:  e.Domain,
		Code:    e.Code,
		Message: message,
		cause:   e.cause,
	}
}

// WithMessagef returns a copy of the error with a formatted custom message
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// New creates a new Error
func New(domain Domain, code Code, message string) *Error {
	return &Error{
		Domain:  domain,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an Error
func Wrap(err error, domain Domain, code Code, message string) *Error {
	return &Error{
		Domain:  domain,
		Code:    code,
		Message: message,
		cause:   err,
	}
}

// GetCode returns the error code if the error is an *Error, otherwise empty string
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetDomain returns the error domain if the error is an *Error, otherwise empty string
func GetDomain(err error) Domain {
	var e *Error
	if errors.As(err, &e) {
		return e.Domain
	}
	return ""
}

// ExitCode maps an error to the process exit code: 0 for nil, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// Is checks if an error matches a target error (delegates to errors.Is)
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target (delegates to errors.As)
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
