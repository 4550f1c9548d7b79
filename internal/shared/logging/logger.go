package logging

import "reflect"

// Logger is the printf-style contract every component logs through.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop discards everything.
func Nop() Logger { return nopLogger{} }

// IsNil also catches a typed nil pointer stored in the interface.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Slice:
		return v.IsNil()
	}
	return false
}

func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// NewComponentLogger returns the process logger named after a component,
// for example "registry" or the artifact id of a built component.
func NewComponentLogger(component string) Logger {
	return &zapLogger{sugar: base().Named(component)}
}
