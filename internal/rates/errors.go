package rates

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSourceAvailable is matched by NoSourceError via errors.Is.
var ErrNoSourceAvailable = errors.New("no rate source available")

// FetchError is a transport-level failure talking to a source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError names the malformed field of a source payload.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("parse %s %q", e.Field, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError rejects a whole source result.
type ValidationError struct {
	Source string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: %s", e.Source, e.Reason)
}

// SourceAttempt records why one source in the chain failed.
type SourceAttempt struct {
	Source string
	Err    error
}

// NoSourceError aggregates every failed attempt of one fetch cycle.
type NoSourceError struct {
	Attempts []SourceAttempt
}

func (e *NoSourceError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoSourceAvailable.Error() + ": no sources configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Source, a.Err))
	}
	return ErrNoSourceAvailable.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *NoSourceError) Is(target error) bool {
	return target == ErrNoSourceAvailable
}

func (e *NoSourceError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
