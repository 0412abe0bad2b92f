package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the orchestrator boundary.
var (
	ErrUnknownModel         = errors.New("unknown model")
	ErrUnsupportedOperation = errors.New("operation not supported by provider")
	ErrExtensionUnavailable = errors.New("extension unavailable: original operation metadata missing")
	ErrNotFound             = errors.New("job not found")
	ErrForbidden            = errors.New("not authorized")
)

// ValidationError reports a request that fails capability checks. It is never
// persisted and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ProviderError means the vendor accepted the connection and rejected the
// call. Surfaced synchronously on Submit/Remix/Extend, and as a failed job
// when discovered during polling.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: provider error %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: provider error: %s", e.Provider, e.Message)
}

// TransportError means we could not complete a round trip to the vendor.
// Reconciliation retries these silently; they never fail a job on their own.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
