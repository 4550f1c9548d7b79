package async

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubPanicLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *stubPanicLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

func (l *stubPanicLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for goroutine")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger := &stubPanicLogger{}

	waitDone(t, Go(logger, "test", func() { panic("boom") }))

	messages := logger.snapshot()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "goroutine panic [test]: boom")
}

func TestGoClosesDoneAfterReturn(t *testing.T) {
	defer goleak.VerifyNone(t)
	ran := false
	waitDone(t, Go(nil, "", func() { ran = true }))
	assert.True(t, ran)
}

func TestRecoverHandlesNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover(nil, "nil-logger")
		panic("boom")
	})
}
