package interactor

import (
	"errors"
	"sync/atomic"

	"github.com/ConCopilot/concopilot/internal/framework"
)

// ErrAlreadyStarted is returned when a loop is started twice.
var ErrAlreadyStarted = errors.New("interactor loop already started")

// lifecycle moves NotStarted → Starting → Running → Stopping → Stopped and
// never back.
type lifecycle struct {
	state atomic.Int32
}

func (l *lifecycle) State() framework.State {
	return framework.State(l.state.Load())
}

// start claims the loop. It reports false without error when Stop arrived
// before the loop began.
func (l *lifecycle) start() (bool, error) {
	if l.state.CompareAndSwap(int32(framework.StateNotStarted), int32(framework.StateStarting)) {
		return true, nil
	}
	if l.State() == framework.StateStopping {
		l.state.Store(int32(framework.StateStopped))
		return false, nil
	}
	return false, ErrAlreadyStarted
}

func (l *lifecycle) running() {
	l.state.CompareAndSwap(int32(framework.StateStarting), int32(framework.StateRunning))
}

// Stop asks the loop to end at the next iteration boundary.
func (l *lifecycle) Stop() {
	for {
		current := l.state.Load()
		if current >= int32(framework.StateStopping) {
			return
		}
		if l.state.CompareAndSwap(current, int32(framework.StateStopping)) {
			return
		}
	}
}

func (l *lifecycle) stopping() bool {
	return l.State() >= framework.StateStopping
}

func (l *lifecycle) finish() {
	l.state.Store(int32(framework.StateStopped))
}
