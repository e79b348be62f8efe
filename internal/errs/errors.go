// Package errs defines the error taxonomy shared by the delivery core.
//
// Validation and configuration failures are never retried. Delivery
// failures are transient and retried up to the job attempt cap. A lost
// claim is expected under concurrent pollers and is not an error worth
// logging.
package errs

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an entity is missing or not owned by the tenant.
var ErrNotFound = errors.New("not found")

// ValidationError reports bad caller input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigurationError reports a tenant misconfiguration, such as a missing
// or unverifiable relay credential. It must reach an operator rather than
// being swallowed by retry machinery.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Configuration wraps err as a ConfigurationError.
func Configuration(msg string, err error) error {
	return &ConfigurationError{Msg: msg, Err: err}
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// DeliveryError wraps a transient relay failure (connect, auth, send).
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Delivery wraps err as a transient DeliveryError.
func Delivery(err error) error {
	return &DeliveryError{Err: err}
}

// IsTransient reports whether err is a retryable DeliveryError.
func IsTransient(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
