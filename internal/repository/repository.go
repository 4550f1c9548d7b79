// Package repository resolves component packages into runtime folders. A
// package is looked up in the runtime cache first, then in the local
// repository, and finally downloaded from the configured mirrors.
package repository

import (
	"net/http"
	"time"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/httpclient"
	"github.com/ConCopilot/concopilot/internal/shared/logging"

	"github.com/spf13/afero"
)

// CompletionFlag marks a local repository folder whose download finished.
const CompletionFlag = "__COMPLETED"

// DefaultConfigFiles are tried in order when no config file is named.
var DefaultConfigFiles = []string{"config.yaml", "config.yml"}

var ignoredSuffixes = map[string]struct{}{
	".md5": {}, ".sha1": {}, ".sha256": {}, ".sha512": {}, ".asc": {},
}

// Repository moves packages between mirrors, the local repository and
// runtime folders.
type Repository struct {
	settings config.Settings
	fs       afero.Fs
	client   *http.Client
	logger   logging.Logger

	maxTries        uint
	initialInterval time.Duration
	maxFileSize     int64
}

type Option func(*Repository)

// WithFs replaces the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(r *Repository) { r.fs = fs }
}

// WithHTTPClient replaces the mirror client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Repository) { r.client = client }
}

// WithLogger replaces the repository logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Repository) { r.logger = logger }
}

// WithRetry sets how often one mirror request is tried and the first backoff
// interval.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(r *Repository) {
		r.maxTries = maxTries
		r.initialInterval = initial
	}
}

// WithMaxFileSize caps a downloaded file.
func WithMaxFileSize(n int64) Option {
	return func(r *Repository) { r.maxFileSize = n }
}

func New(settings config.Settings, opts ...Option) *Repository {
	r := &Repository{
		settings:        settings,
		fs:              afero.NewOsFs(),
		logger:          logging.NewComponentLogger("repository"),
		maxTries:        3,
		initialInterval: 500 * time.Millisecond,
		maxFileSize:     httpclient.DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	if r.client == nil {
		r.client = httpclient.New(httpclient.DefaultTimeout, r.logger)
	}
	if r.maxTries == 0 {
		r.maxTries = 1
	}
	return r
}

// Fs returns the filesystem packages are read from and written to.
func (r *Repository) Fs() afero.Fs { return r.fs }

// Settings returns the settings the repository was built with.
func (r *Repository) Settings() config.Settings { return r.settings }
