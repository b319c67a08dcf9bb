// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a read targets an id that does not exist.
// High-frequency mutating calls (Mark*, Update*) report absence as a false
// return instead, so bulk operations stay composable.
var ErrNotFound = errors.New("not found")

// ValidationError rejects malformed input before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProviderError is a failed provider invocation. Permanent errors (provider
// rejected the message as invalid) are excluded from the retry sweep;
// transient ones (timeout, network) stay eligible.
type ProviderError struct {
	ProviderID string
	Permanent  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("provider %s: %s failure: %v", e.ProviderID, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewTransientProviderError(providerID string, err error) error {
	return &ProviderError{ProviderID: providerID, Err: err}
}

func NewPermanentProviderError(providerID string, err error) error {
	return &ProviderError{ProviderID: providerID, Permanent: true, Err: err}
}

// IsPermanent reports whether err carries a permanent provider rejection.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Permanent
}
