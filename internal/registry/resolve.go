package registry

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/repository"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/spf13/afero"
)

type cachedDescriptor struct {
	modTime time.Time
	size    int64
	desc    *config.Descriptor
}

// Resolve locates the config file a reference points at and returns the
// component descriptor with the reference's config merged over its own.
func (r *Registry) Resolve(ctx context.Context, ref *config.Descriptor) (*config.Descriptor, error) {
	if ref == nil {
		return nil, errs.NewConfigError("descriptor", "component reference is required")
	}
	folder := strings.TrimSpace(ref.ConfigFolder)
	file := ref.ConfigFile
	if folder == "" && !ref.HasCoordinates() && filepath.Dir(file) != "." {
		folder, file = filepath.Split(file)
	}
	if folder == "" {
		if !ref.HasCoordinates() {
			return nil, errs.NewConfigError("group_id", "component reference needs group_id, artifact_id and version or a config folder, got (%s, %s, %s)",
				ref.GroupID, ref.ArtifactID, ref.Version)
		}
		var err error
		folder, err = r.settings.RuntimeFolder(ref.GroupID, ref.ArtifactID, ref.Version, ref.InstanceID)
		if err != nil {
			return nil, err
		}
	}
	_, path, err := r.repo.RetrieveConfig(ctx, ref.Coordinates(), folder, repository.RetrieveOptions{ConfigFile: file})
	if err != nil {
		return nil, err
	}

	d, err := r.load(path)
	if err != nil {
		return nil, err
	}
	if d.GroupID == "" {
		d.GroupID = ref.GroupID
	}
	if d.ArtifactID == "" {
		d.ArtifactID = ref.ArtifactID
	}
	if d.Version == "" {
		d.Version = ref.Version
	}
	if d.InstanceID == "" {
		d.InstanceID = ref.InstanceID
	}
	d.Config = config.Merge(ref.Config, d.Config)
	return d, nil
}

// load reads and parses the descriptor at path. Parsed descriptors are cached
// by path and file stamp; callers always get a private copy.
func (r *Registry) load(path string) (*config.Descriptor, error) {
	info, err := r.fs.Stat(path)
	if err != nil {
		return nil, &errs.ConfigError{Field: "config_file", Reason: "cannot read " + path, Err: err}
	}
	if r.descriptors != nil {
		if hit, ok := r.descriptors.Get(path); ok && hit.modTime.Equal(info.ModTime()) && hit.size == info.Size() {
			return hit.desc.Clone(), nil
		}
	}
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, &errs.ConfigError{Field: "config_file", Reason: "cannot read " + path, Err: err}
	}
	d, err := config.ParseDescriptor(data)
	if err != nil {
		return nil, err
	}
	d.Location = config.Location{Folder: filepath.Dir(path), File: filepath.Base(path)}
	if r.descriptors != nil {
		r.descriptors.Add(path, cachedDescriptor{modTime: info.ModTime(), size: info.Size(), desc: d.Clone()})
	}
	return d, nil
}
