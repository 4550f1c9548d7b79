package interactor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newChatInteractor(t *testing.T, f *fixture, cfg map[string]any) *Chat {
	t.Helper()
	c, err := NewChat(&config.Descriptor{Name: "chat", Config: cfg}, f.deps(), testOpts()...)
	require.NoError(t, err)
	c.ConfigContext(f.fctx)
	require.NoError(t, c.SetupPrompts(context.Background()))
	require.NoError(t, c.SetupPlugins(context.Background()))
	return c
}

// runChat starts the loop and returns a channel carrying its result.
func runChat(c *Chat) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.InteractLoop(context.Background()) }()
	return done
}

func nextText(t *testing.T, f *fixture) *message.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := f.ui.WaitAgentMsg(ctx)
	require.NoError(t, err)
	return msg
}

func say(t *testing.T, f *fixture, text string) {
	t.Helper()
	require.NoError(t, f.ui.SendMsgToAgent(message.NewText(&message.Identity{Role: message.RoleUser}, nil, text)))
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("chat loop did not end")
	}
}

func TestChatGreetsRepliesAndExits(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, brainReply{content: "hey there"})
	c := newChatInteractor(t, f, map[string]any{"persist_history": true})
	assert.Nil(t, f.brain.catalog)
	done := runChat(c)

	hello := nextText(t, f)
	text, _ := hello.Text()
	assert.Equal(t, "Hello! What can I do for you?", text)
	assert.Equal(t, message.RoleCerebrum, hello.Sender.Role)

	say(t, f, "hi")
	reply := nextText(t, f)
	text, _ = reply.Text()
	assert.Equal(t, "hey there", text)
	assert.Equal(t, "brain", reply.Sender.Name)
	assert.Equal(t, message.RoleUser, reply.Receiver.Role)

	say(t, f, "  quit ")
	waitDone(t, done)

	calls := f.brain.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "hi", calls[0].Command)
	assert.Empty(t, calls[0].MessageHistory)

	history := f.history(t, "message_history")
	require.Len(t, history, 2)
	assert.Equal(t, message.RoleUser, history[0].Sender.Role)
	assert.Equal(t, message.RoleCerebrum, history[1].Sender.Role)
}

func TestChatResumesPendingUserMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, brainReply{content: "resumed answer"})
	require.NoError(t, storage.SaveMessages(f.store, "history", []*message.Message{
		message.NewText(&message.Identity{Role: message.RoleCerebrum}, &message.Identity{Role: message.RoleUser}, "earlier"),
		message.NewText(&message.Identity{Role: message.RoleUser}, nil, "unanswered"),
	}))
	c := newChatInteractor(t, f, map[string]any{"persist_history": true, "message_history_key": "history"})
	done := runChat(c)

	reply := nextText(t, f)
	text, _ := reply.Text()
	assert.Equal(t, "resumed answer", text)

	say(t, f, "exit")
	waitDone(t, done)

	calls := f.brain.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "unanswered", calls[0].Command)
	require.Len(t, calls[0].MessageHistory, 1)
	assert.Len(t, f.history(t, "history"), 3)
}

func TestChatResendsLastAgentMessage(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	require.NoError(t, storage.SaveMessages(f.store, "message_history", []*message.Message{
		message.NewText(&message.Identity{Role: message.RoleCerebrum}, &message.Identity{Role: message.RoleUser}, "where were we"),
	}))
	c := newChatInteractor(t, f, map[string]any{"persist_history": true})
	done := runChat(c)

	msg := nextText(t, f)
	text, _ := msg.Text()
	assert.Equal(t, "where were we", text)

	say(t, f, "exit")
	waitDone(t, done)
	assert.Empty(t, f.brain.calls())
}

func TestChatReportsTurnErrorsToUser(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, brainReply{err: errors.New("model unavailable")})
	c := newChatInteractor(t, f, map[string]any{"hello_msg_content": "hi!", "exit_tokens": []any{"bye"}})
	done := runChat(c)

	nextText(t, f)
	say(t, f, "hello")
	msg := nextText(t, f)
	text, _ := msg.Text()
	assert.Equal(t, "Error: model unavailable", text)
	assert.Equal(t, message.RoleSystem, msg.Sender.Role)

	say(t, f, "exit")
	msg = nextText(t, f)
	text, _ = msg.Text()
	assert.Contains(t, text, "no scripted reply left", "exit is not an exit token here")

	say(t, f, "  BYE ")
	waitDone(t, done)

	_, found, err := f.store.Get("message_history")
	require.NoError(t, err)
	assert.False(t, found, "history is not persisted by default")
}

func TestChatStopsOnInterrupt(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	c := newChatInteractor(t, f, nil)
	done := runChat(c)

	nextText(t, f)
	f.ui.Interrupt()
	waitDone(t, done)
}
