package errors

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "explicit transient error", err: NewTransientError(errors.New("test"), "transient"), expected: true},
		{name: "explicit permanent error", err: NewPermanentError(errors.New("test"), "permanent"), expected: false},
		{name: "http 503", err: &HTTPStatusError{Method: "GET", URL: "http://x", StatusCode: 503}, expected: true},
		{name: "http 429", err: &HTTPStatusError{Method: "GET", URL: "http://x", StatusCode: 429}, expected: true},
		{name: "http 404", err: &HTTPStatusError{Method: "GET", URL: "http://x", StatusCode: 404}, expected: false},
		{name: "wrapped http 502", err: fmt.Errorf("download: %w", &HTTPStatusError{StatusCode: 502}), expected: true},
		{name: "timeout text", err: fmt.Errorf("context deadline exceeded"), expected: true},
		{name: "connection refused", err: fmt.Errorf("dial tcp 127.0.0.1:80: connect: connection refused"), expected: true},
		{name: "syscall connection refused", err: syscall.ECONNREFUSED, expected: true},
		{name: "regular error", err: errors.New("regular error"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "explicit permanent error", err: NewPermanentError(errors.New("test"), "permanent"), expected: true},
		{name: "explicit transient error", err: NewTransientError(errors.New("test"), "transient"), expected: false},
		{name: "http 401", err: &HTTPStatusError{StatusCode: 401}, expected: true},
		{name: "http 404", err: &HTTPStatusError{StatusCode: 404}, expected: true},
		{name: "http 429", err: &HTTPStatusError{StatusCode: 429}, expected: false},
		{name: "file not found", err: fmt.Errorf("file not found: /path/to/file"), expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.expected {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeTransient, GetErrorType(NewTransientError(errors.New("x"), "")))
	assert.Equal(t, ErrorTypePermanent, GetErrorType(errors.New("boom")))
	assert.Equal(t, ErrorTypePermanent, GetErrorType(nil))
}

func TestErrorWrapping(t *testing.T) {
	baseErr := errors.New("base error")

	assert.ErrorIs(t, NewTransientError(baseErr, "transient message"), baseErr)
	assert.ErrorIs(t, NewPermanentError(baseErr, "permanent message"), baseErr)
	assert.ErrorIs(t, &ConfigError{Field: "version", Err: baseErr}, baseErr)
	assert.ErrorIs(t, &ParseError{Err: baseErr}, baseErr)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 500, StatusCode(fmt.Errorf("wrap: %w", &HTTPStatusError{StatusCode: 500})))
	assert.Equal(t, 429, StatusCode(&TransientError{StatusCode: 429}))
	assert.Equal(t, 0, StatusCode(errors.New("generic error")))
}

func TestRetrievalErrorListsAttempts(t *testing.T) {
	err := &RetrievalError{
		Package: Coordinates{GroupID: "org.example", ArtifactID: "echo", Version: "0.1.0"},
		Attempts: []Attempt{
			{URL: "https://a.example/repository/releases/org/example/echo/0.1.0", Status: 404, Err: &HTTPStatusError{StatusCode: 404}},
			{URL: "https://b.example/repository/releases/org/example/echo/0.1.0", Err: syscall.ECONNREFUSED},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "org.example/echo/0.1.0")
	assert.Contains(t, msg, "https://a.example/repository/releases/org/example/echo/0.1.0 -> HTTP 404")
	assert.Contains(t, msg, "https://b.example")
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
}

func TestCollisionErrorNamesBothComponents(t *testing.T) {
	err := &CollisionError{
		Kind:     "plugin",
		Field:    "name",
		Key:      "echo",
		Existing: Coordinates{"org.a", "echo", "1.0"},
		Incoming: Coordinates{"org.b", "echo2", "2.0"},
	}
	assert.Contains(t, err.Error(), "(org.a, echo, 1.0)")
	assert.Contains(t, err.Error(), "(org.b, echo2, 2.0)")
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: errors.New("x"), want: "Error"},
		{name: "routing", err: NewRoutingError("no plugin %q", "x"), want: "RoutingError"},
		{name: "wrapped routing", err: fmt.Errorf("dispatch: %w", NewRoutingError("x")), want: "RoutingError"},
		{name: "config", err: NewConfigError("version", "bad"), want: "ConfigError"},
		{name: "interrupted", err: fmt.Errorf("get: %w", ErrInterrupted), want: "Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, TypeName(tt.err))
		})
	}
}
