package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUserAbort means the configured merge policy declined to write. It is a clean no-op.
var ErrUserAbort = errors.New("aborted by merge policy: nothing written")

// ConfigurationError reports missing or malformed credentials, flags, or input paths.
// It is always raised before any network call.
type ConfigurationError struct {
	Stage   string
	Missing []string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "configuration error"
	}
	parts := []string{"configuration error"}
	if e.Stage != "" {
		parts[0] += " (" + e.Stage + ")"
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ConfigurationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RateLimitedError is the provider telling us to wait until Reset.
// A zero Reset means the provider did not say when the window ends.
type RateLimitedError struct {
	Reset time.Time
	Err   error
}

func (e *RateLimitedError) Error() string {
	if e == nil {
		return "rate limited"
	}
	msg := "rate limited"
	if !e.Reset.IsZero() {
		msg += " until " + e.Reset.UTC().Format(time.RFC3339)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransportError is a failed fetch for one batch (or search page).
type TransportError struct {
	Batch int
	IDs   []string
	Err   error
}

func (e *TransportError) Error() string {
	if e == nil || e.Err == nil {
		return "transport error"
	}
	return fmt.Sprintf("batch %d (%d ids): %v", e.Batch, len(e.IDs), e.Err)
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// MalformedRecordError marks a fetched record that lacks a required field.
type MalformedRecordError struct {
	ID     string
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e == nil {
		return "malformed record"
	}
	id := e.ID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("malformed record %s: %s %s", id, e.Field, e.Reason)
}

// PersistenceError means an existing dataset could not be read or written.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return "persistence error"
	}
	return fmt.Sprintf("persistence error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TransientError marks an error as retryable by worker implementations.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LimitedTransientError is retryable, but only ExtraRetries more times.
type LimitedTransientError struct {
	Err          error
	ExtraRetries int
}

func (e *LimitedTransientError) Error() string {
	if e == nil || e.Err == nil {
		return "transient error"
	}
	return e.Err.Error()
}

func (e *LimitedTransientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *LimitedTransientError) MaxExtraRetries() int {
	if e == nil {
		return 0
	}
	return e.ExtraRetries
}
