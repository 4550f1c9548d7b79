package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ConCopilot/concopilot/internal/observability"
	"github.com/ConCopilot/concopilot/internal/shared/clock"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/spf13/viper"
)

const (
	// DefaultRepoBaseURL hosts the public snapshots and releases repositories.
	DefaultRepoBaseURL = "https://concopilot.org"

	EnvPrefix = "CONCOPILOT"
)

// RepoPolicy switches one repository flavour on or off.
type RepoPolicy struct {
	Enable bool `mapstructure:"enable" yaml:"enable"`
	Update bool `mapstructure:"update" yaml:"update"`
}

// Repo is a remote package mirror.
type Repo struct {
	URL      string      `mapstructure:"url" yaml:"url"`
	Snapshot *RepoPolicy `mapstructure:"snapshot" yaml:"snapshot,omitempty"`
	Release  *RepoPolicy `mapstructure:"release" yaml:"release,omitempty"`
}

// DefaultRepo returns the public mirror with default policies.
func DefaultRepo() Repo {
	r := Repo{URL: DefaultRepoBaseURL}
	r.applyDefaults()
	return r
}

func (r *Repo) applyDefaults() {
	if r.Snapshot == nil {
		r.Snapshot = &RepoPolicy{Enable: true, Update: true}
	}
	if r.Release == nil {
		r.Release = &RepoPolicy{Enable: true, Update: false}
	}
}

func (r Repo) validate() error {
	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errs.NewConfigError("repos.url", "invalid url: %q", r.URL)
	}
	return nil
}

// Policy returns the policy governing snapshot or release packages.
func (r Repo) Policy(snapshot bool) RepoPolicy {
	p := r.Release
	if snapshot {
		p = r.Snapshot
	}
	if p == nil {
		return RepoPolicy{Enable: true, Update: snapshot}
	}
	return *p
}

// PackageURL returns <url>/repository/<snapshots|releases>/<group as path>/<artifact>/<version>.
func (r Repo) PackageURL(groupID, artifactID, version string, snapshot bool) string {
	flavour := "releases"
	if snapshot {
		flavour = "snapshots"
	}
	parts := []string{strings.TrimRight(r.URL, "/"), "repository", flavour}
	if groupID != "" {
		parts = append(parts, strings.ReplaceAll(groupID, ".", "/"))
		if artifactID != "" {
			parts = append(parts, artifactID)
			if version != "" {
				parts = append(parts, version)
			}
		}
	}
	return strings.Join(parts, "/")
}

// Settings is the process configuration handed to the registry, repository
// and CLI. It is an explicit value; nothing reads it through a global.
type Settings struct {
	LocalRepoPath    string               `mapstructure:"local_repo_path" yaml:"local_repo_path"`
	Repos            []Repo               `mapstructure:"repos" yaml:"repos"`
	WorkingDirectory string               `mapstructure:"working_directory" yaml:"working_directory"`
	SkipSetup        bool                 `mapstructure:"skip_setup" yaml:"skip_setup"`
	LogLevel         string               `mapstructure:"log_level" yaml:"log_level"`
	LogJSON          bool                 `mapstructure:"log_json" yaml:"log_json"`
	Observability    observability.Config `mapstructure:",squash" yaml:",inline"`

	Clock clock.Clock `mapstructure:"-" yaml:"-"`
}

// DefaultSettings returns settings rooted at the user's home directory.
func DefaultSettings() Settings {
	return Settings{
		LocalRepoPath:    filepath.Join(homeDir(), ".concopilot", "repository"),
		Repos:            []Repo{DefaultRepo()},
		WorkingDirectory: ".",
		LogLevel:         "info",
		Observability:    observability.DefaultConfig(),
		Clock:            clock.System(),
	}
}

// DefaultSettingsPath is ~/.concopilot/settings.yaml.
func DefaultSettingsPath() string {
	return filepath.Join(homeDir(), ".concopilot", "settings.yaml")
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// NewViper returns a viper instance carrying the setting defaults and the
// CONCOPILOT_ environment binding. Callers may bind flags to it before
// LoadSettings.
func NewViper() *viper.Viper {
	v := viper.New()
	d := DefaultSettings()
	v.SetDefault("local_repo_path", d.LocalRepoPath)
	v.SetDefault("working_directory", d.WorkingDirectory)
	v.SetDefault("skip_setup", d.SkipSetup)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("metrics.enabled", d.Observability.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Observability.Metrics.Address)
	v.SetDefault("tracing.enabled", d.Observability.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Observability.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Observability.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Observability.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Observability.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Observability.Tracing.ServiceVersion)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads path (or the default settings file when path is empty)
// into v and decodes the result. A missing default file is not an error; a
// missing explicit file is.
func LoadSettings(v *viper.Viper, path string) (Settings, error) {
	if v == nil {
		v = NewViper()
	}
	explicit := path != ""
	if !explicit {
		path = DefaultSettingsPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	settings := DefaultSettings()
	settings.Repos = nil
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("decode settings %s: %w", path, err)
	}
	if err := settings.Normalize(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Normalize fills defaults and validates repository URLs.
func (s *Settings) Normalize() error {
	if s.LocalRepoPath == "" {
		s.LocalRepoPath = filepath.Join(homeDir(), ".concopilot", "repository")
	}
	if s.WorkingDirectory == "" {
		s.WorkingDirectory = "."
	}
	if len(s.Repos) == 0 {
		s.Repos = []Repo{DefaultRepo()}
	}
	for i := range s.Repos {
		if err := s.Repos[i].validate(); err != nil {
			return err
		}
		s.Repos[i].applyDefaults()
	}
	if s.Clock == nil {
		s.Clock = clock.System()
	}
	return s.Observability.Validate()
}

// RuntimeFolder returns the cache folder a component instance is resolved into:
// <working_directory>/.runtime/<group segments>/<artifact>/<version>/<instance>.
func (s Settings) RuntimeFolder(groupID, artifactID, version, instanceID string) (string, error) {
	if instanceID == "" {
		instanceID = "0"
	}
	return Folder(filepath.Join(s.WorkingDirectory, ".runtime"), groupID, artifactID, version, instanceID)
}

// LocalRepoFolder returns <local_repo_path>/<group segments>/<artifact>/<version>.
func (s Settings) LocalRepoFolder(groupID, artifactID, version string) (string, error) {
	return Folder(s.LocalRepoPath, groupID, artifactID, version, "")
}

// Folder joins root with the package coordinates, splitting the group id on dots.
func Folder(root, groupID, artifactID, version, instanceID string) (string, error) {
	switch {
	case root == "":
		return "", errs.NewConfigError("root", "must not be empty")
	case groupID == "":
		return "", errs.NewConfigError("group_id", "must not be empty")
	case artifactID == "":
		return "", errs.NewConfigError("artifact_id", "must not be empty")
	case version == "":
		return "", errs.NewConfigError("version", "must not be empty")
	}
	parts := append([]string{root}, strings.Split(groupID, ".")...)
	parts = append(parts, artifactID, version)
	if instanceID != "" {
		parts = append(parts, instanceID)
	}
	return filepath.Join(parts...), nil
}
