package message

import (
	"testing"
	"time"

	"github.com/ConCopilot/concopilot/internal/shared/clock"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityMatches(t *testing.T) {
	tests := []struct {
		name string
		a, b Identity
		want bool
	}{
		{"same id", Identity{Role: RolePlugin, ID: "1"}, Identity{Role: RolePlugin, ID: "1", Name: "x"}, true},
		{"same name", Identity{Role: RolePlugin, Name: "echo"}, Identity{Role: RolePlugin, ID: "9", Name: "echo"}, true},
		{"role differs", Identity{Role: RoleUser, Name: "echo"}, Identity{Role: RolePlugin, Name: "echo"}, false},
		{"empty id and name", Identity{Role: RoleUser}, Identity{Role: RoleUser}, false},
		{"different id and name", Identity{Role: RolePlugin, ID: "1", Name: "a"}, Identity{Role: RolePlugin, ID: "2", Name: "b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Matches(tt.b))
		})
	}
}

func TestFromMapInfersCommandContentType(t *testing.T) {
	msg, err := FromMap(map[string]any{
		"receiver": map[string]any{"role": "plugin", "name": "echo", "id": float64(7)},
		"content":  map[string]any{"command": "echo", "param": map[string]any{"x": float64(1)}},
		"thoughts": map[string]any{"plan": "call echo"},
	})
	require.NoError(t, err)

	assert.Equal(t, ContentTypeCommand, msg.ContentType)
	assert.Equal(t, "7", msg.Receiver.ID)
	cmd, ok := msg.AsCommand()
	require.True(t, ok)
	assert.Equal(t, "echo", cmd.Command)
	assert.Equal(t, map[string]any{"x": float64(1)}, cmd.Param)
	assert.Equal(t, map[string]any{"plan": "call echo"}, msg.Extra["thoughts"])
}

func TestFromMapRejectsCommandWithoutName(t *testing.T) {
	_, err := FromMap(map[string]any{
		"content_type": "command",
		"content":      map[string]any{"param": 1},
	})
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = FromMap(map[string]any{
		"content_type": "command",
		"content":      map[string]any{"command": ""},
	})
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecodeContentVariants(t *testing.T) {
	c, err := DecodeContent("", "hello")
	require.NoError(t, err)
	assert.Equal(t, Text("hello"), c)

	c, err = DecodeContent("", []any{float64(1)})
	require.NoError(t, err)
	assert.Equal(t, Data{V: []any{float64(1)}}, c)

	c, err = DecodeContent("", map[string]any{"content": "error"})
	require.NoError(t, err)
	assert.Equal(t, "error", Signal(c))

	_, err = DecodeContent(ContentTypeCommand, "echo")
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestNewValidatesEagerly(t *testing.T) {
	_, err := New(nil, &Identity{Role: RolePlugin, Name: "echo"}, ContentTypeCommand, Text("echo"))
	require.ErrorIs(t, err, ErrInvalidMessage)

	msg, err := New(nil, &Identity{Role: RolePlugin, Name: "echo"}, ContentTypeCommand, &Command{Command: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "echo", Signal(msg.Content))
}

func TestRetrieveModes(t *testing.T) {
	msg := &Message{
		Sender:      &Identity{Role: RoleCerebrum, Name: "brain"},
		Receiver:    &Identity{Role: RolePlugin, Name: "echo"},
		ContentType: ContentTypeCommand,
		Content:     &Command{Command: "echo", Param: "hi"},
		Time:        "2024-01-01 00:00:00.000",
		ThreadID:    "t-1",
	}

	all := msg.Retrieve(RetrieveAll).(map[string]any)
	assert.Contains(t, all, "sender")
	assert.Equal(t, "t-1", all["thrd_id"])

	noSender := msg.Retrieve(RetrieveNoSender).(map[string]any)
	assert.NotContains(t, noSender, "sender")
	assert.Contains(t, noSender, "receiver")

	info := msg.Retrieve(RetrieveContentInfo).(map[string]any)
	assert.Len(t, info, 2)
	assert.Equal(t, ContentTypeCommand, info["content_type"])

	content := msg.Retrieve(RetrieveContent)
	assert.Equal(t, map[string]any{"command": "echo", "param": "hi"}, content)
}

func TestJSONRoundTrip(t *testing.T) {
	msg := &Message{
		Sender:   &Identity{Role: RoleUser},
		Receiver: &Identity{Role: RoleCerebrum, ID: "c-1", Name: "brain"},
		Content:  Text("hello"),
		ID:       "m-1",
		ThreadID: "t-9",
		Extra:    map[string]any{"thoughts": "none"},
	}
	msg.Stamp(clock.Fixed(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	data, err := jsonx.Marshal([]*Message{msg})
	require.NoError(t, err)

	var decoded []*Message
	require.NoError(t, jsonx.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, msg, decoded[0])
	assert.Equal(t, "2024-01-02 03:04:05.000", decoded[0].Time)
}

func TestCloneIsIndependent(t *testing.T) {
	msg := NewCommand(&Identity{Role: RoleUser}, &Identity{Role: RolePlugin, Name: "echo"}, "echo", 1)
	msg.Extra = map[string]any{"k": "v"}

	cp := msg.Clone()
	cp.Receiver.Name = "other"
	cp.Extra["k"] = "changed"
	cmd, _ := cp.AsCommand()
	cmd.Command = "changed"

	assert.Equal(t, "echo", msg.Receiver.Name)
	assert.Equal(t, "v", msg.Extra["k"])
	orig, _ := msg.AsCommand()
	assert.Equal(t, "echo", orig.Command)
}

func TestIdentityUnmarshalAcceptsBareRole(t *testing.T) {
	var msg Message
	require.NoError(t, jsonx.Unmarshal([]byte(`{"sender":"user","content":"hi"}`), &msg))
	assert.Equal(t, RoleUser, msg.Sender.Role)
	text, ok := msg.Text()
	assert.True(t, ok)
	assert.Equal(t, "hi", text)
}
