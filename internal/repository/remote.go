package repository

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/httpclient"
	"github.com/ConCopilot/concopilot/internal/observability"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Download fetches a package from the first mirror that serves it into the
// local folder dest and marks it complete. Every failed mirror is reported in
// the returned *errors.RetrievalError.
func (r *Repository) Download(ctx context.Context, pkg errs.Coordinates, dest string) (err error) {
	v, err := config.ParseVersion(pkg.Version)
	if err != nil {
		return err
	}
	pkg.Version = v.Raw

	ctx, span := observability.StartSpan(ctx, observability.SpanRepositoryFetch,
		observability.ArtifactAttrs(pkg.GroupID, pkg.ArtifactID, pkg.Version)...)
	defer func() { observability.EndSpan(span, err) }()

	failure := &errs.RetrievalError{Package: pkg}
	for _, repo := range r.settings.Repos {
		if !repo.Policy(v.Snapshot).Enable {
			r.logger.Debug("skip %s: disabled for this version kind", repo.URL)
			continue
		}
		url := repo.PackageURL(pkg.GroupID, pkg.ArtifactID, pkg.Version, v.Snapshot)
		r.logger.Info("attempt to download %s/%s/%s from `%s`...", pkg.GroupID, pkg.ArtifactID, pkg.Version, url)
		if err := r.downloadFrom(ctx, url, dest); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("download from %s failed: %v", url, err)
			failure.Attempts = append(failure.Attempts, errs.Attempt{URL: url, Status: errs.StatusCode(err), Err: err})
			continue
		}
		r.logger.Info("downloaded %s/%s/%s", pkg.GroupID, pkg.ArtifactID, pkg.Version)
		return nil
	}
	return failure
}

func (r *Repository) downloadFrom(ctx context.Context, url, dest string) error {
	listing, err := r.fetch(ctx, http.MethodPost, url)
	if err != nil {
		return err
	}
	var files []string
	if err := yaml.Unmarshal(listing, &files); err != nil {
		return &errs.ParseError{Input: string(listing), Err: err}
	}
	if err := r.fs.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, file := range files {
		name := path.Base(strings.ReplaceAll(file, "\\", "/"))
		if name == "." || name == "/" || name == CompletionFlag {
			continue
		}
		data, err := r.fetch(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/"+name)
		if err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
		if err := afero.WriteFile(r.fs, filepath.Join(dest, name), data, 0o644); err != nil {
			return err
		}
	}
	return r.touch(filepath.Join(dest, CompletionFlag))
}

// fetch performs one request, retrying transient failures with exponential
// backoff.
func (r *Repository) fetch(ctx context.Context, method, url string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialInterval

	return backoff.Retry(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, classify(err)
		}
		defer resp.Body.Close()
		if err := httpclient.CheckStatus(resp); err != nil {
			return nil, classify(err)
		}
		data, err := httpclient.ReadAll(resp.Body, r.maxFileSize)
		if err != nil {
			return nil, classify(err)
		}
		return data, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(r.maxTries))
}

func classify(err error) error {
	if errs.IsTransient(err) {
		return err
	}
	return backoff.Permanent(err)
}
