package mithril

import (
	"errors"
	"fmt"
)

// Sentinel errors for the credential domain.
var (
	// ErrUnavailable marks a backend that is inapplicable in the current
	// environment (no IMDS endpoint, az not installed, env vars unset).
	// The default credential chain skips these; standalone modes surface them.
	ErrUnavailable = errors.New("credential unavailable in this environment")

	// ErrDenied marks a backend that was reached but rejected the credential.
	// Permanent; never retried.
	ErrDenied = errors.New("credential denied")

	// ErrRefreshFailed is the terminal outcome of the unauthorized-response
	// protocol: a forced refresh already happened (or failed permanently) and
	// the request must not be retried again.
	ErrRefreshFailed = errors.New("token refresh failed permanently")
)

// ConfigError reports a missing or invalid configuration field, detected at
// build time. It always names the mode that required the field.
type ConfigError struct {
	Mode   string
	Field  string
	Reason string
}

// Error formats "auth mode <mode>: <field>: <reason>" without ever including
// a secret value.
func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("auth mode %s: missing required field %s", e.Mode, e.Field)
	}
	return fmt.Sprintf("auth mode %s: field %s: %s", e.Mode, e.Field, e.Reason)
}

// NetworkError wraps a transient backend communication failure, including
// acquire-timeout expiry. Callers may retry within the bounded refresh
// protocol.
type NetworkError struct {
	Backend string
	Err     error
}

// Error includes the backend mode tag and the underlying cause.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Backend, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *NetworkError) Unwrap() error { return e.Err }

// HeaderValueError reports a secret containing bytes illegal in an HTTP
// header value. The offending byte is identified by position only; the
// secret itself is never echoed.
type HeaderValueError struct {
	Position int
}

// Error names the position of the illegal byte.
func (e *HeaderValueError) Error() string {
	return fmt.Sprintf("auth header: secret contains illegal byte at position %d", e.Position)
}

// IsTransient reports whether err is a retryable communication failure
// rather than a configuration problem or a definitive denial.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDenied) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRefreshFailed) {
		return false
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return false
	}
	var ne *NetworkError
	return errors.As(err, &ne)
}
