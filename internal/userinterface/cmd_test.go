package userinterface

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/shared/clock"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	"github.com/ConCopilot/concopilot/internal/shared/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCmd(t *testing.T, input string, cfg map[string]any) (*Cmd, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	c, err := NewCmd(&config.Descriptor{Name: "cmd", Config: cfg},
		[]CmdOption{WithStreams(strings.NewReader(input), out)},
		component.WithLogger(logging.Nop()),
		component.WithClock(clock.Fixed(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))),
	)
	require.NoError(t, err)
	return c, out
}

func TestCmdPrintsWithPrefixAndSuffix(t *testing.T) {
	c, out := newCmd(t, "", map[string]any{
		"non_user_msg_prefix": "=== agent ===",
		"non_user_msg_suffix": "=============",
	})

	require.NoError(t, c.SendMsgUser(message.NewText(cerebrum, userID, "**hello**")))
	assert.Equal(t, "=== agent ===\n**hello**\n=============\n", out.String())
}

func TestCmdPrintsStructuredContentAsJSON(t *testing.T) {
	c, out := newCmd(t, "", nil)
	require.NoError(t, c.SendMsgUser(&message.Message{
		Sender:      cerebrum,
		ContentType: "data",
		Content:     message.Data{V: map[string]any{"k": "v"}},
	}))
	assert.Equal(t, "{\n    \"k\": \"v\"\n}\n", out.String())
}

func TestCmdReplyIsAddressedToLastSender(t *testing.T) {
	c, _ := newCmd(t, "what time is it\n", nil)
	require.NoError(t, c.SendMsgUser(message.NewText(cerebrum, &message.Identity{Role: message.RoleUser, Name: "alice"}, "ask me")))

	reply, err := c.WaitUserMsg(context.Background())
	require.NoError(t, err)
	require.NotNil(t, reply)
	text, _ := reply.Text()
	assert.Equal(t, "what time is it", text)
	assert.Equal(t, message.RoleUser, reply.Sender.Role)
	assert.Equal(t, "alice", reply.Sender.Name)
	assert.Equal(t, message.RoleCerebrum, reply.Receiver.Role)
	assert.Equal(t, "2024-01-02 03:04:05.000", reply.Time)
}

func TestCmdReplyWithoutPriorMessage(t *testing.T) {
	c, _ := newCmd(t, "hi\n", nil)
	reply, err := c.WaitUserMsg(context.Background())
	require.NoError(t, err)
	assert.Equal(t, message.RoleUser, reply.Sender.Role)
	assert.Nil(t, reply.Receiver)
}

func TestCmdMultipleLineInput(t *testing.T) {
	c, out := newCmd(t, "line one\nline two\n\nnext\n", map[string]any{
		"multiple_line_input": true,
		"user_msg_prefix":     "--- you ---",
	})

	first, err := c.WaitUserMsg(context.Background())
	require.NoError(t, err)
	text, _ := first.Text()
	assert.Equal(t, "line one\nline two", text)
	assert.Contains(t, out.String(), "--- you ---")

	second, err := c.WaitUserMsg(context.Background())
	require.NoError(t, err)
	text, _ = second.Text()
	assert.Equal(t, "next", text)
}

func TestCmdEndOfInputYieldsNil(t *testing.T) {
	c, _ := newCmd(t, "", nil)
	msg, err := c.WaitUserMsg(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestCmdInterrupt(t *testing.T) {
	c, _ := newCmd(t, "never read\n", nil)
	assert.False(t, c.HasUserMsg())
	c.Interrupt()
	c.Interrupt()
	assert.True(t, c.Interrupted())

	_, err := c.WaitUserMsg(context.Background())
	assert.ErrorIs(t, err, errs.ErrInterrupted)
	assert.ErrorIs(t, c.SendMsgUser(message.NewText(cerebrum, userID, "x")), errs.ErrInterrupted)
}
