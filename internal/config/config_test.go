package config

import (
	"os"
	"path/filepath"
	"testing"

	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeParentWinsRecursively(t *testing.T) {
	parent := map[string]any{"a": 1, "b": map[string]any{"c": 2}}
	child := map[string]any{"a": 9, "b": map[string]any{"c": 9, "d": 9}, "e": 9}

	got := Merge(parent, child)

	assert.Equal(t, map[string]any{"a": 1, "b": map[string]any{"c": 2, "d": 9}, "e": 9}, got)
	assert.Equal(t, map[string]any{"c": 9, "d": 9}, child["b"], "child must not be mutated")
}

func TestMergeListsReplace(t *testing.T) {
	parent := map[string]any{"l": []any{1}}
	child := map[string]any{"l": []any{2, 3}, "m": map[string]any{"x": 1}}
	got := Merge(parent, child)
	assert.Equal(t, []any{1}, got["l"])

	got = Merge(map[string]any{"m": "scalar"}, child)
	assert.Equal(t, "scalar", got["m"])

	assert.Empty(t, Merge(nil, nil))
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in       string
		main     string
		info     string
		snapshot bool
		raw      string
		wantErr  bool
	}{
		{in: "1.0.0", main: "1.0.0", raw: "1.0.0"},
		{in: "0.2", main: "0.2", raw: "0.2"},
		{in: "1.2.3-beta", main: "1.2.3", info: "beta", raw: "1.2.3-beta"},
		{in: "1.2.3-snapshot", main: "1.2.3", snapshot: true, raw: "1.2.3-SNAPSHOT"},
		{in: "1.2.3-rc1-Snapshot", main: "1.2.3", info: "rc1", snapshot: true, raw: "1.2.3-rc1-SNAPSHOT"},
		{in: "v1.0", wantErr: true},
		{in: "1.0-bad/info", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if tt.wantErr {
				var cfgErr *errs.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.main, v.Main)
			assert.Equal(t, tt.info, v.Info)
			assert.Equal(t, tt.snapshot, v.Snapshot)
			assert.Equal(t, tt.raw, v.String())
		})
	}
}

func TestSortVersions(t *testing.T) {
	sorted, err := SortVersions([]string{"1.0.0", "1.10.0", "1.2.0-SNAPSHOT", "1.2.0", "1.2.0.1", "0.9", "1.2.0-alpha"})
	require.NoError(t, err)

	var got []string
	for _, v := range sorted {
		got = append(got, v.Raw)
	}
	assert.Equal(t, []string{"1.10.0", "1.2.0.1", "1.2.0", "1.2.0-SNAPSHOT", "1.2.0-alpha", "1.0.0", "0.9"}, got)

	_, err = SortVersions([]string{"nope"})
	assert.Error(t, err)
}

func TestParseDescriptor(t *testing.T) {
	doc := `
group_id: org.concopilot.basic
artifact_id: echo
version: 0.1.0
type: plugin
as_plugin: "True"
setup:
  package: echo
  commands:
    - echo ready
    - [sh, -c, "true"]
info:
  title: Echo
  prompt: Echo things back.
commands:
  - command_name: echo
    parameters:
      - name: text
        type: str
        required: true
resources:
  - type: model
config:
  id: default
  name: echoer
  resources:
    - name: disk
  limit: 3
`
	d, err := ParseDescriptor([]byte(doc))
	require.NoError(t, err)

	assert.True(t, bool(d.AsPlugin))
	assert.Equal(t, []Argv{{"echo", "ready"}, {"sh", "-c", "true"}}, d.Setup.Commands)
	assert.Equal(t, "Echo", d.Info.Title)
	require.Len(t, d.Commands, 1)
	assert.True(t, d.Commands[0].Parameters[0].Required)
	assert.Equal(t, "echoer", d.ConfigString("name"))
	assert.Equal(t, "3", d.ConfigString("limit"))
	assert.Equal(t, errs.Coordinates{GroupID: "org.concopilot.basic", ArtifactID: "echo", Version: "0.1.0"}, d.Coordinates())

	refs, err := d.AllResourceRefs()
	require.NoError(t, err)
	assert.Equal(t, []ResourceRef{{Type: "model"}, {Name: "disk"}}, refs)

	var settings struct {
		Limit int    `yaml:"limit"`
		Mode  string `yaml:"mode"`
	}
	settings.Mode = "fast"
	require.NoError(t, d.Settings(&settings))
	assert.Equal(t, 3, settings.Limit)
	assert.Equal(t, "fast", settings.Mode, "absent keys keep defaults")
}

func TestParseDescriptorRejectsUnknownKeys(t *testing.T) {
	_, err := ParseDescriptor([]byte("group_id: g\nartifcat_id: typo\n"))
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestFlexBool(t *testing.T) {
	for doc, want := range map[string]bool{
		"as_plugin: true":     true,
		"as_plugin: 1":        true,
		"as_plugin: 0":        false,
		"as_plugin: 'TRUE'":   true,
		"as_plugin: nope":     false,
		"as_plugin: ":         false,
		"as_plugin: False":    false,
		"as_plugin: \"true\"": true,
	} {
		d, err := ParseDescriptor([]byte(doc))
		require.NoError(t, err, doc)
		assert.Equal(t, want, bool(d.AsPlugin), doc)
	}
}

func TestConfigDescriptor(t *testing.T) {
	d, err := ParseDescriptor([]byte(`
config:
  storage:
    group_id: org.concopilot.basic.storage
    artifact_id: disk
    version: 0.0.1
    config:
      root_directory: data
  plugins:
    - group_id: g
      artifact_id: a
      version: "1"
`))
	require.NoError(t, err)

	sub, err := d.ConfigDescriptor("storage")
	require.NoError(t, err)
	assert.Equal(t, "disk", sub.ArtifactID)
	assert.Equal(t, "data", sub.ConfigString("root_directory"))

	none, err := d.ConfigDescriptor("missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	subs, err := d.ConfigDescriptors("plugins")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "1", subs[0].Version)
}

func TestLoadDescriptorRecordsLocation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("artifact_id: a\ninfo:\n  prompt_file_name: prompt.txt\n"), 0o644))

	d, err := LoadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, dir, d.Location.Folder)
	assert.Equal(t, path, d.FilePath(""))
	assert.Equal(t, filepath.Join(dir, "prompt.txt"), d.FilePath(d.Info.PromptFileName))

	clone := d.Clone()
	assert.Equal(t, d.Location, clone.Location)
	clone.Info.Title = "changed"
	assert.Empty(t, d.Info.Title)
}

func TestFolder(t *testing.T) {
	got, err := Folder("root", "org.example.tools", "echo", "1.0", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("root", "org", "example", "tools", "echo", "1.0"), got)

	s := Settings{WorkingDirectory: "wd", LocalRepoPath: "repo"}
	got, err = s.RuntimeFolder("g", "a", "1", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("wd", ".runtime", "g", "a", "1", "0"), got)

	_, err = Folder("root", "", "a", "1", "")
	assert.Error(t, err)
}

func TestRepoPackageURL(t *testing.T) {
	r := DefaultRepo()
	assert.Equal(t, "https://concopilot.org/repository/releases/org/example/echo/1.0", r.PackageURL("org.example", "echo", "1.0", false))
	assert.Equal(t, "https://concopilot.org/repository/snapshots/org/example", r.PackageURL("org.example", "", "", true))
	assert.True(t, r.Policy(true).Update)
	assert.False(t, r.Policy(false).Update)
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
local_repo_path: /tmp/repo
repos:
  - url: http://mirror.local
    release:
      enable: true
      update: true
skip_setup: true
metrics:
  enabled: true
  address: ""
`), 0o644))

	s, err := LoadSettings(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/repo", s.LocalRepoPath)
	assert.True(t, s.SkipSetup)
	require.Len(t, s.Repos, 1)
	assert.True(t, s.Repos[0].Release.Update)
	assert.True(t, s.Repos[0].Snapshot.Enable, "missing policy gets defaults")
	assert.True(t, s.Observability.Metrics.Enabled)
	assert.Equal(t, ".", s.WorkingDirectory)
	assert.NotNil(t, s.Clock)
}

func TestLoadSettingsMissingExplicitFile(t *testing.T) {
	_, err := LoadSettings(nil, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadSettingsRejectsBadRepo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repos:\n  - url: not a url\n"), 0o644))
	_, err := LoadSettings(nil, path)
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("working_directory: from-file\n"), 0o644))
	t.Setenv("CONCOPILOT_WORKING_DIRECTORY", "from-env")

	s, err := LoadSettings(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.WorkingDirectory)
}

func TestResourceRefAcceptsComponentReferences(t *testing.T) {
	d, err := ParseDescriptor([]byte(`
type: resource_manager
resources:
  - group_id: org.test
    artifact_id: disk
    version: 0.1.0
    config:
      id: d1
      root_directory: /tmp/x
config:
  resources:
    - type: model
`))
	require.NoError(t, err)
	require.Len(t, d.Resources, 1)
	ref := d.Resources[0]
	require.NotNil(t, ref.Component)
	assert.Equal(t, "disk", ref.Component.ArtifactID)
	assert.Equal(t, "d1", ref.ID)
	assert.False(t, ref.IsZero())

	refs, err := d.AllResourceRefs()
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Nil(t, refs[1].Component)
	assert.Equal(t, "model", refs[1].Type)

	clone := d.Clone()
	require.NotNil(t, clone.Resources[0].Component)
	assert.Equal(t, "/tmp/x", clone.Resources[0].Component.Config["root_directory"])
}
