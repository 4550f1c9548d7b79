package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ConCopilot/concopilot/internal/config"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	settings := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(settings, []byte("local_repo_path: /repo\nworking_directory: /work\nlog_level: error\n"), 0o644))

	root := newRootCommandWith(&cli{viper: config.NewViper(), fs: fs})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--settings", settings}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestParseReference(t *testing.T) {
	d, err := parseReference("org.concopilot.basic:copilot:0.1.0")
	require.NoError(t, err)
	assert.Equal(t, "org.concopilot.basic", d.GroupID)
	assert.Equal(t, "copilot", d.ArtifactID)
	assert.Equal(t, "0.1.0", d.Version)

	for _, bad := range []string{"copilot", "a:b", "a::1.0", "a:b:c:d"} {
		_, err := parseReference(bad)
		var cfgErr *errs.ConfigError
		assert.ErrorAs(t, err, &cfgErr, bad)
	}
}

func TestRepoPathUsesSettings(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "repo", "path", "org.example:echo:1.0.0")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "runtime: "+filepath.Join("/work", ".runtime", "org", "example", "echo", "1.0.0", "0"), lines[0])
	assert.Equal(t, "local:   "+filepath.Join("/repo", "org", "example", "echo", "1.0.0"), lines[1])

	out, err = execute(t, afero.NewMemMapFs(), "repo", "path", "--group-id", "org.example", "--artifact-id", "echo", "--version", "1.0.0", "--instance-id", "7")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join("echo", "1.0.0", "7"))
}

func TestRepoInstallCopiesIntoLocalRepository(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/config.yaml", []byte("type: plugin\nname: echo\n"), 0o644))

	_, err := execute(t, fs, "repo", "install", "/src", "org.example:echo:1.0.0")
	require.NoError(t, err)

	entries, err := afero.ReadDir(fs, "/repo/org/example/echo/1.0.0")
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRepoInstallReadsCoordinatesFromConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/config.yaml", []byte("group_id: org.example\nartifact_id: echo\nversion: 2.0.0\ntype: plugin\n"), 0o644))

	_, err := execute(t, fs, "repo", "install", "/src")
	require.NoError(t, err)
	exists, err := afero.DirExists(fs, "/repo/org/example/echo/2.0.0")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, afero.WriteFile(fs, "/bare/config.yaml", []byte("type: plugin\n"), 0o644))
	_, err = execute(t, fs, "repo", "install", "/bare")
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestBuildNeedsCompleteCoordinates(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), "build", "--group-id", "org.example")
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	_, err = execute(t, afero.NewMemMapFs(), "build")
	require.ErrorAs(t, err, &cfgErr)
}

func TestRunRejectsUnknownTarget(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), "run", "not-a-file")
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestInfoDescribesPlugin(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/pkg/config.yaml", []byte(`group_id: org.example
artifact_id: echo
version: 1.0.0
type: plugin
as_plugin: true
name: echo
info:
  title: Echo
  description: Repeats what it is told.
commands:
  - command_name: echo
    description: Return the parameter.
    parameters:
      - {name: text, type: string, description: what to repeat}
`), 0o644))

	out, err := execute(t, fs, "info", "--plain", "/pkg/config.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "# Echo")
	assert.Contains(t, out, "`org.example:echo:1.0.0`")
	assert.Contains(t, out, "### echo")
	assert.Contains(t, out, "| text | string | what to repeat |")
}

func TestDescribeListsCopilotParts(t *testing.T) {
	d := &config.Descriptor{
		Name: "demo",
		Type: config.TypeCopilot,
		Config: map[string]any{
			"interactor": map[string]any{"group_id": "org.concopilot.basic", "artifact_id": "auto-interactor", "version": "0.1.0"},
		},
	}
	md := describe(d)
	assert.Contains(t, md, "# demo")
	assert.Contains(t, md, "- **interactor**: `org.concopilot.basic:auto-interactor:0.1.0`")
	assert.NotContains(t, md, "## Commands")
}
