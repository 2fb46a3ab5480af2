// -----------------------------------------------------------------------
// Error taxonomy - Configuration, fetch and persistence failures
// -----------------------------------------------------------------------

package models

import (
	"errors"
	"fmt"
)

// ConfigError is an invalid or missing required input detected before any
// job runs. It is fatal to the whole run; nothing is dispatched.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// NewConfigError builds a ConfigError with a formatted message.
func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// FatalFetchError is a permission, not-found or malformed-request failure
// from a source API. It fails only the owning job and is never retried:
// the condition is credential or request related and retrying cannot help.
type FatalFetchError struct {
	Source     Source
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *FatalFetchError) Error() string {
	return fmt.Sprintf("%s fetch failed permanently: %s (status %d, endpoint %s)",
		e.Source, e.Message, e.StatusCode, e.Endpoint)
}

// TransientFetchError is a rate-limit, network or 5xx failure that survived
// all retries. The owning job fails; re-running the application resumes from
// the last advanced cursor and naturally retries it.
type TransientFetchError struct {
	Source   Source
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s fetch failed after %d attempts (endpoint %s): %v",
		e.Source, e.Attempts, e.Endpoint, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// PersistenceError is a record or cursor write that did not complete
// durably. The owning job must fail without advancing its cursor.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s (key %s): %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsFatalFetch reports whether err classifies as a non-retryable fetch
// failure.
func IsFatalFetch(err error) bool {
	var fatal *FatalFetchError
	return errors.As(err, &fatal)
}

// IsTransientFetch reports whether err classifies as a retries-exhausted
// transient fetch failure.
func IsTransientFetch(err error) bool {
	var transient *TransientFetchError
	return errors.As(err, &transient)
}

// IsPersistence reports whether err classifies as a persistence failure.
func IsPersistence(err error) bool {
	var persistence *PersistenceError
	return errors.As(err, &persistence)
}
