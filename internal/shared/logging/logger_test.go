package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Debug(format string, args ...any) { r.add("DEBUG", format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.add("INFO", format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.add("WARN", format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.add("ERROR", format, args...) }

func (r *recordingLogger) add(level, format string, args ...any) {
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var typed *recordingLogger
	assert.True(t, IsNil(typed))
	assert.NotPanics(t, func() { OrNop(typed).Info("hello %s", "world") })
}

func TestOrNopKeepsRealLogger(t *testing.T) {
	r := &recordingLogger{}
	OrNop(r).Warn("n=%d", 3)
	require.Equal(t, []string{"WARN n=3"}, r.lines)
	assert.False(t, IsNil(r))
	assert.IsType(t, nopLogger{}, OrNop(nil))
}

func TestSetLevelRejectsUnknown(t *testing.T) {
	require.NoError(t, SetLevel("debug"))
	require.Error(t, SetLevel("chatty"))
	require.NoError(t, SetLevel("info"))
}

func TestComponentLoggerDoesNotPanic(t *testing.T) {
	logger := NewComponentLogger("test")
	assert.NotPanics(t, func() {
		logger.Debug("debug %d", 1)
		logger.Info("info")
	})
}
