package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/shared/clock"
	"github.com/ConCopilot/concopilot/internal/shared/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stamp = "2024-01-02 03:04:05.000"

func fixedClock() clock.Clock {
	return clock.Fixed(time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local))
}

func newJSONManager(t *testing.T) *JSONManager {
	t.Helper()
	m, err := NewJSONManager(&config.Descriptor{}, component.WithClock(fixedClock()), component.WithLogger(logging.Nop()))
	require.NoError(t, err)
	return m
}

func TestJSONManagerParsesCommandObject(t *testing.T) {
	m := newJSONManager(t)
	msgs, err := m.Parse(context.Background(), &framework.InteractResponse{Content: "```json\n" + `{
		"thoughts": {"plan": "echo it"},
		"receiver": {"role": "plugin", "name": "echo"},
		"content": {"command": "echo", "param": {"x": 1}}
	}` + "\n```"}, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg := msgs[0]
	assert.Equal(t, message.ContentTypeCommand, msg.ContentType)
	assert.Equal(t, "echo", msg.Receiver.Name)
	cmd, ok := msg.AsCommand()
	require.True(t, ok)
	assert.Equal(t, "echo", cmd.Command)
	assert.Equal(t, map[string]any{"x": 1.0}, cmd.Param)
	assert.Equal(t, map[string]any{"plan": "echo it"}, msg.Extra["thoughts"])
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, stamp, msg.Time)
}

func TestJSONManagerParsesListAndScalars(t *testing.T) {
	m := newJSONManager(t)
	msgs, err := m.Parse(context.Background(), &framework.InteractResponse{
		Content: `[{"receiver": "user", "content": "first", "time": "2020-01-01 00:00:00.000"}, "second", 3]`,
	}, "t2")
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	text, ok := msgs[0].Text()
	require.True(t, ok)
	assert.Equal(t, "first", text)
	assert.Equal(t, message.RoleUser, msgs[0].Receiver.Role)
	assert.Equal(t, "2020-01-01 00:00:00.000", msgs[0].Time)

	text, ok = msgs[1].Text()
	require.True(t, ok)
	assert.Equal(t, "second", text)
	assert.Equal(t, message.Data{V: 3.0}, msgs[2].Content)
	for _, msg := range msgs {
		assert.Equal(t, "t2", msg.ThreadID)
	}
}

func TestJSONManagerKeepsUnparseableText(t *testing.T) {
	m := newJSONManager(t)
	for _, content := range []string{
		"I could not decide what to do.",
		`{"content_type": "command", "content": "not an object"}`,
	} {
		msgs, err := m.Parse(context.Background(), &framework.InteractResponse{Content: content}, "t3")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Empty(t, msgs[0].ContentType)
		text, ok := msgs[0].Text()
		require.True(t, ok)
		assert.Equal(t, content, text)
		assert.Equal(t, stamp, msgs[0].Time)
	}
}

func TestJSONManagerAppendsPluginCalls(t *testing.T) {
	m := newJSONManager(t)
	msgs, err := m.Parse(context.Background(), &framework.InteractResponse{
		Content: `{"receiver": "user", "content": "working on it"}`,
		PluginCalls: []framework.PluginCall{
			{PluginName: "search", Command: "query", Param: map[string]any{"q": "go"}},
			{PluginName: "disk", Command: "list"},
		},
	}, "t4")
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	for i, want := range []string{"search", "disk"} {
		msg := msgs[i+1]
		assert.Equal(t, message.ContentTypeCommand, msg.ContentType)
		assert.Equal(t, &message.Identity{Role: message.RolePlugin, Name: want}, msg.Receiver)
		assert.Equal(t, "t4", msg.ThreadID)
		assert.Equal(t, stamp, msg.Time)
	}
	cmd, _ := msgs[1].AsCommand()
	assert.Equal(t, "query", cmd.Command)
}

func TestJSONManagerEmptyResponse(t *testing.T) {
	m := newJSONManager(t)
	msgs, err := m.Parse(context.Background(), &framework.InteractResponse{}, "t")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestParseCommand(t *testing.T) {
	m := newJSONManager(t)
	out, err := m.Command(context.Background(), "parse", map[string]any{
		"response": map[string]any{"content": `{"receiver": "user", "content": "hi"}`},
		"thrd_id":  "t5",
	})
	require.NoError(t, err)
	list, ok := out.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "hi", list[0].(map[string]any)["content"])
}

func TestTextManager(t *testing.T) {
	m, err := NewTextManager(&config.Descriptor{}, component.WithClock(fixedClock()))
	require.NoError(t, err)
	ctx := context.Background()

	msgs, err := m.Parse(ctx, &framework.InteractResponse{Content: "plain answer"}, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	text, ok := msgs[0].Text()
	require.True(t, ok)
	assert.Equal(t, "plain answer", text)
	assert.Equal(t, stamp, msgs[0].Time)

	msgs, err = m.Parse(ctx, &framework.InteractResponse{
		Content:     "ignored",
		PluginCalls: []framework.PluginCall{{PluginName: "echo", Command: "echo"}, {PluginName: "x", Command: "y"}},
	}, "t2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "echo", msgs[0].Receiver.Name)
	assert.Equal(t, "t2", msgs[0].ThreadID)

	msgs, err = m.Parse(ctx, &framework.InteractResponse{}, "t3")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
