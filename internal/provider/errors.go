package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies provider failures so the resolver and orchestrator can
// decide between retry, fall-through and immediate surfacing.
type ErrorKind int

const (
	// ErrTransport covers network faults and server-side failures.
	ErrTransport ErrorKind = iota
	// ErrRateLimited is an explicit 429 with an optional server retry hint.
	ErrRateLimited
	// ErrNotFound means the provider answered but had nothing useful.
	ErrNotFound
	// ErrParse means the response did not decode as the expected format.
	ErrParse
	// ErrConfig means a required credential or setting is missing.
	ErrConfig
)

func (k ErrorKind) String() string {
	switch k {
	case ErrRateLimited:
		return "rate_limited"
	case ErrNotFound:
		return "not_found"
	case ErrParse:
		return "parse"
	case ErrConfig:
		return "config"
	default:
		return "transport"
	}
}

type Error struct {
	Kind       ErrorKind
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err, defaulting to ErrTransport
// for plain errors bubbling out of the HTTP stack.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrTransport
}

func asProviderError(err error, target **Error) bool {
	return errors.As(err, target)
}

// ConfigError reports a missing or malformed credential for a named provider.
func ConfigError(provider, detail string) error {
	return &Error{Kind: ErrConfig, Message: provider + ": " + detail}
}

// EmptyError reports a well-formed response that carried no usable data.
func EmptyError(detail string) error {
	return &Error{Kind: ErrNotFound, Message: detail}
}
