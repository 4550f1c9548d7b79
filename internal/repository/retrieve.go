package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
)

// RetrieveOptions tunes RetrieveConfig.
type RetrieveOptions struct {
	// ConfigFile names the wanted config file inside the folder. Empty
	// selects the first of DefaultConfigFiles.
	ConfigFile string
	// ForceUpdate ignores the runtime folder and the local repository and
	// downloads the package again.
	ForceUpdate bool
}

// RetrieveConfig makes sure folder holds the package config and returns its
// file name and path. When an explicit config file is requested but only the
// default exists, the default is copied to the requested name. A folder that
// already holds a config is used as is and pkg may then be empty; the package
// coordinates are only needed to fall back to the local or remote repository.
func (r *Repository) RetrieveConfig(ctx context.Context, pkg errs.Coordinates, folder string, opts RetrieveOptions) (string, string, error) {
	explicit := strings.TrimSpace(opts.ConfigFile) != ""

	var (
		exists, defaultExists, localExists bool
		file, filePath                     string
		defaultFile, defaultPath           string
	)
	if !opts.ForceUpdate && folder != "" {
		if explicit {
			exists, file, filePath = r.findConfig(folder, opts.ConfigFile, nil, false)
		}
		if exists {
			r.logger.Debug("config file %q confirmed", filePath)
			return file, filePath, nil
		}
		defaultExists, defaultFile, defaultPath = r.findConfig(folder, "", nil, false)
		if defaultExists {
			if !explicit {
				r.logger.Debug("config file %q confirmed", defaultPath)
				return defaultFile, defaultPath, nil
			}
			return r.copyDefault(defaultPath, file, filePath)
		}
	}

	if pkg.GroupID == "" || pkg.ArtifactID == "" || pkg.Version == "" {
		return "", "", errs.NewConfigError("group_id", "no config in %q and no package coordinates to retrieve one, got %s", folder, pkg)
	}
	v, err := config.ParseVersion(pkg.Version)
	if err != nil {
		return "", "", err
	}
	pkg.Version = v.Raw
	localFolder, err := r.LocalFolder(pkg)
	if err != nil {
		return "", "", err
	}
	if !opts.ForceUpdate {
		localExists, _, _ = r.findConfig(localFolder, "", &pkg, true)
	}

	if !localExists {
		r.logger.Info("downloading %s/%s/%s from remote repository...", pkg.GroupID, pkg.ArtifactID, pkg.Version)
		if err := r.Download(ctx, pkg, localFolder); err != nil {
			return "", "", err
		}
		if ok, _, _ := r.findConfig(localFolder, "", &pkg, true); !ok {
			return "", "", errs.NewConfigError("config_file", "no valid config file in package %s/%s/%s", pkg.GroupID, pkg.ArtifactID, pkg.Version)
		}
	}

	if !defaultExists {
		r.logger.Info("retrieving %s/%s/%s from local repository...", pkg.GroupID, pkg.ArtifactID, pkg.Version)
		if err := r.FromLocal(pkg, folder); err != nil {
			return "", "", fmt.Errorf("copy %s/%s/%s from local repository: %w", pkg.GroupID, pkg.ArtifactID, pkg.Version, err)
		}
		defaultExists, defaultFile, defaultPath = r.findConfig(folder, "", nil, false)
		if !defaultExists {
			return "", "", errs.NewConfigError("config_file", "cannot copy config file from local repository to %s", folder)
		}
		if explicit {
			exists, file, filePath = r.findConfig(folder, opts.ConfigFile, nil, false)
		}
	}

	if !explicit {
		r.logger.Debug("config file %q for %s/%s/%s confirmed", defaultPath, pkg.GroupID, pkg.ArtifactID, pkg.Version)
		return defaultFile, defaultPath, nil
	}
	if !exists {
		if defaultPath == "" {
			_, defaultFile, defaultPath = r.findConfig(folder, "", nil, false)
		}
		return r.copyDefault(defaultPath, file, filePath)
	}
	r.logger.Debug("config file %q for %s/%s/%s confirmed", filePath, pkg.GroupID, pkg.ArtifactID, pkg.Version)
	return file, filePath, nil
}

func (r *Repository) copyDefault(defaultPath, file, filePath string) (string, string, error) {
	r.logger.Info("copy default config file to %s", filePath)
	if err := r.copyFile(defaultPath, filePath); err != nil {
		return "", "", fmt.Errorf("copy default config file to %s: %w", file, err)
	}
	return file, filePath, nil
}
