package storage

import (
	"context"
	"testing"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/message"
	"github.com/ConCopilot/concopilot/internal/resource"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	"github.com/ConCopilot/concopilot/internal/shared/logging"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiskStorage(t *testing.T, cfg map[string]any) (*Disk, *resource.Disk) {
	t.Helper()
	fs := afero.NewMemMapFs()
	disk, err := resource.NewDisk(&config.Descriptor{
		ResourceType: resource.TypeDisk, Name: "disk",
		Config: map[string]any{"root_directory": "/data"},
	}, fs, "")
	require.NoError(t, err)
	rm, err := resource.NewManager(&config.Descriptor{}, component.WithLogger(logging.Nop()))
	require.NoError(t, err)
	require.NoError(t, rm.AddResource(disk))

	s, err := NewDisk(&config.Descriptor{Name: "storage", Config: cfg}, "", component.WithLogger(logging.Nop()))
	require.NoError(t, err)
	require.NoError(t, s.ConfigResources(rm))
	return s, disk
}

func TestDiskRoundTrips(t *testing.T) {
	s, disk := newDiskStorage(t, map[string]any{"root_directory": "store"})
	assert.Equal(t, "/data/store", s.Root())

	tests := []struct {
		key   string
		value any
		info  string
	}{
		{key: "note", value: "hello", info: InfoText},
		{key: "blob", value: []byte{0, 1, 2}, info: InfoBinary},
		{key: "nested/history", value: []any{map[string]any{"a": 1.0}}, info: InfoJSON},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.NoError(t, s.Put(tt.key, tt.value))
			got, ok, err := s.Get(tt.key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.value, got)
			info, err := disk.ReadFile("store/" + tt.key + ".info")
			require.NoError(t, err)
			assert.Equal(t, tt.info, string(info))
		})
	}

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	def, err := s.GetOrDefault("missing", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", def)

	removed, err := s.Remove("nested/history")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"a": 1.0}}, removed)
	assert.False(t, disk.Exists("store/nested"), "empty folders are pruned")
	assert.True(t, disk.Exists("store/note"))

	removed, err = s.Remove("nested/history")
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestDiskRejectsBadKeys(t *testing.T) {
	s, _ := newDiskStorage(t, nil)
	assert.Equal(t, "/data", s.Root())

	require.ErrorIs(t, s.Put("  ", "x"), ErrInvalidKey)
	require.Error(t, s.Put("__sub__/x", "x"))
	require.Error(t, s.Put("../escape", "x"))
}

func TestDiskRootMustBeUnderDisk(t *testing.T) {
	fs := afero.NewMemMapFs()
	disk, err := resource.NewDisk(&config.Descriptor{ResourceType: resource.TypeDisk, Config: map[string]any{"root_directory": "/data"}}, fs, "")
	require.NoError(t, err)
	rm, err := resource.NewManager(&config.Descriptor{})
	require.NoError(t, err)
	require.NoError(t, rm.AddResource(disk))

	s, err := NewDisk(&config.Descriptor{Config: map[string]any{"root_directory": "/elsewhere"}}, "")
	require.NoError(t, err)
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, s.ConfigResources(rm), &cfgErr)

	unbound, err := NewDisk(&config.Descriptor{}, "")
	require.NoError(t, err)
	require.Error(t, unbound.Put("k", "v"))
	empty, err := resource.NewManager(&config.Descriptor{})
	require.NoError(t, err)
	require.ErrorAs(t, unbound.ConfigResources(empty), &cfgErr)
}

func TestDiskSubStorage(t *testing.T) {
	s, disk := newDiskStorage(t, nil)
	sub, err := s.SubStorage("session")
	require.NoError(t, err)
	again, err := s.SubStorage("session")
	require.NoError(t, err)
	assert.Same(t, sub, again)

	require.NoError(t, sub.Put("k", "v"))
	assert.True(t, disk.Exists("__sub__/session/k"))
	_, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := s.RemoveSubStorage("session")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, disk.Exists("__sub__/session"))
	removed, err = s.RemoveSubStorage("session")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDiskCommandsTrackAssets(t *testing.T) {
	s, _ := newDiskStorage(t, map[string]any{"asset_key": "saved_files"})
	shared := &framework.Context{}
	s.ConfigContext(shared)
	ctx := context.Background()

	_, err := s.Command(ctx, "write", map[string]any{"file_path": "report.md", "content": "# Report"})
	require.NoError(t, err)
	_, err = s.Command(ctx, "write", map[string]any{"file_path": "report.md", "content": "# Report v2"})
	require.NoError(t, err)
	require.Contains(t, shared.Assets, "saved_files")
	a := shared.Assets["saved_files"]
	assert.Equal(t, StorageLocationAsset, a.Type)
	assert.Equal(t, []string{"report.md"}, a.Content)

	got, err := s.Command(ctx, "read", map[string]any{"file_path": "report.md"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"content": "# Report v2"}, got)

	_, err = s.Command(ctx, "delete", map[string]any{"file_path": "report.md"})
	require.NoError(t, err)
	assert.NotContains(t, shared.Assets, "saved_files")

	for _, bad := range []string{"/abs/path.md", "a.b.md", ""} {
		_, err = s.Command(ctx, "read", map[string]any{"file_path": bad})
		require.Error(t, err, bad)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	m, err := NewMemory(&config.Descriptor{})
	require.NoError(t, err)
	v := map[string]any{"n": 1}
	require.NoError(t, m.Put("k", v))
	v["n"] = 2

	got, ok, err := m.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"n": 1.0}, got)
	got.(map[string]any)["n"] = 3.0
	again, _, _ := m.Get("k")
	assert.Equal(t, map[string]any{"n": 1.0}, again)

	removed, err := m.Remove("k")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1.0}, removed)
	removed, err = m.Remove("k")
	require.NoError(t, err)
	assert.Nil(t, removed)

	sub, err := m.SubStorage("s")
	require.NoError(t, err)
	require.NoError(t, sub.Put("x", "y"))
	_, ok, _ = m.Get("x")
	assert.False(t, ok)
	ok, err = m.RemoveSubStorage("s")
	require.NoError(t, err)
	assert.True(t, ok)
}

type countingStorage struct {
	*Memory
	gets int
}

func (c *countingStorage) Get(key string) (any, bool, error) {
	c.gets++
	return c.Memory.Get(key)
}

func TestCachedReadsThrough(t *testing.T) {
	mem, err := NewMemory(&config.Descriptor{})
	require.NoError(t, err)
	inner := &countingStorage{Memory: mem}
	c, err := NewCached(inner, 4)
	require.NoError(t, err)

	require.NoError(t, c.Put("k", "v1"))
	for i := 0; i < 3; i++ {
		got, ok, err := c.Get("k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "v1", got)
	}
	assert.Equal(t, 1, inner.gets)

	require.NoError(t, c.Put("k", "v2"))
	got, _, err := c.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
	assert.Equal(t, 2, inner.gets)

	_, err = c.Remove("k")
	require.NoError(t, err)
	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	def, err := c.GetOrDefault("k", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, def)
}

func TestMessageHistoryRoundTrip(t *testing.T) {
	user := &message.Identity{Role: message.RoleUser, Name: "user"}
	echo := &message.Identity{Role: message.RolePlugin, Name: "echo"}
	msgs := []*message.Message{
		message.NewText(user, nil, "hi"),
		message.NewCommand(nil, echo, "echo", map[string]any{"x": 1.0}),
	}
	msgs[0].Time = "2024-01-02 03:04:05.000"
	msgs[1].Time = "2024-01-02 03:04:06.000"

	stores := map[string]framework.Storage{}
	mem, err := NewMemory(&config.Descriptor{})
	require.NoError(t, err)
	stores["memory"] = mem
	disk, _ := newDiskStorage(t, nil)
	stores["disk"] = disk

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			empty, err := LoadMessages(s, "history")
			require.NoError(t, err)
			assert.Empty(t, empty)

			require.NoError(t, SaveMessages(s, "history", msgs))
			loaded, err := LoadMessages(s, "history")
			require.NoError(t, err)
			require.Len(t, loaded, 2)
			text, ok := loaded[0].Text()
			require.True(t, ok)
			assert.Equal(t, "hi", text)
			cmd, ok := loaded[1].AsCommand()
			require.True(t, ok)
			assert.Equal(t, "echo", cmd.Command)
			assert.Equal(t, "2024-01-02 03:04:06.000", loaded[1].Time)
		})
	}
}
