package errors

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// ErrInterrupted is returned by blocking queue operations after an interrupt.
// It is a control-flow signal, not a failure.
var ErrInterrupted = errors.New("interrupted")

// ErrNotFound marks lookups that found nothing.
var ErrNotFound = errors.New("not found")

// Coordinates identify a component package.
type Coordinates struct {
	GroupID    string
	ArtifactID string
	Version    string
}

func (c Coordinates) String() string {
	return fmt.Sprintf("(%s, %s, %s)", c.GroupID, c.ArtifactID, c.Version)
}

// ConfigError reports a bad or missing descriptor field.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Field != "" {
		b.WriteString(" at ")
		b.WriteString(e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Attempt is one remote location tried while retrieving a package.
type Attempt struct {
	URL    string
	Status int
	Err    error
}

// RetrievalError aggregates every failed mirror for one package.
type RetrievalError struct {
	Package  Coordinates
	Attempts []Attempt
}

func (e *RetrievalError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to retrieve %s/%s/%s", e.Package.GroupID, e.Package.ArtifactID, e.Package.Version)
	if len(e.Attempts) == 0 {
		b.WriteString(": no repository configured")
		return b.String()
	}
	for _, attempt := range e.Attempts {
		b.WriteString("\n    ")
		b.WriteString(attempt.URL)
		if attempt.Status > 0 {
			fmt.Fprintf(&b, " -> HTTP %d", attempt.Status)
		}
		if attempt.Err != nil {
			b.WriteString(" -> ")
			b.WriteString(attempt.Err.Error())
		}
	}
	return b.String()
}

// Unwrap exposes the per-attempt errors to errors.Is/As.
func (e *RetrievalError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		if attempt.Err != nil {
			errs = append(errs, attempt.Err)
		}
	}
	return errs
}

// CollisionError reports a duplicate id or name in a registry.
type CollisionError struct {
	Kind     string // "resource", "plugin", "factory"
	Field    string // "id" or "name"
	Key      string
	Existing Coordinates
	Incoming Coordinates
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%s with %s=%s already exists\n    Existed: %s\n    Current: %s",
		e.Kind, e.Field, e.Key, e.Existing, e.Incoming)
}

// RoutingError reports a message that cannot be delivered.
type RoutingError struct {
	Reason string
}

func (e *RoutingError) Error() string { return e.Reason }

// NewRoutingError builds a RoutingError with a formatted reason.
func NewRoutingError(format string, args ...any) *RoutingError {
	return &RoutingError{Reason: fmt.Sprintf(format, args...)}
}

// ParseError reports LLM output that could not be decoded.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to parse model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsInterrupted reports whether err carries the interrupt signal.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// TypeName returns the exported type name of the most specific typed error in
// the chain, or "Error" for anonymous errors. Used when errors are folded into
// conversation history as "<Type>: <text>".
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	for current := err; current != nil; current = errors.Unwrap(current) {
		t := reflect.TypeOf(current)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		name := t.Name()
		if name != "" && unicode.IsUpper([]rune(name)[0]) {
			return name
		}
	}
	return "Error"
}
