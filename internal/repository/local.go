package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ConCopilot/concopilot/internal/config"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"github.com/spf13/afero"
)

// ToRepoFileName prefixes name with "<artifact>-<version>-".
func ToRepoFileName(name, artifactID, version string) string {
	return artifactID + "-" + version + "-" + name
}

// FromRepoFileName strips the "<artifact>-<version>-" prefix when present.
func FromRepoFileName(name, artifactID, version string) string {
	return strings.TrimPrefix(name, artifactID+"-"+version+"-")
}

func ignored(name string) bool {
	if name == CompletionFlag {
		return true
	}
	_, ok := ignoredSuffixes[strings.ToLower(filepath.Ext(name))]
	return ok
}

// LocalFolder returns the local repository folder of a package.
func (r *Repository) LocalFolder(pkg errs.Coordinates) (string, error) {
	return r.settings.LocalRepoFolder(pkg.GroupID, pkg.ArtifactID, pkg.Version)
}

// findConfig looks for file, or the default config files when file is empty.
// With a package given, names carry the repository prefix. With
// requireCompletion the folder must also hold the completion flag.
func (r *Repository) findConfig(folder, file string, pkg *errs.Coordinates, requireCompletion bool) (bool, string, string) {
	candidates := DefaultConfigFiles
	if file != "" {
		candidates = []string{file}
	}
	var name, path string
	for _, candidate := range candidates {
		name = candidate
		if pkg != nil {
			name = ToRepoFileName(candidate, pkg.ArtifactID, pkg.Version)
		}
		path = filepath.Join(folder, name)
		if info, err := r.fs.Stat(path); err == nil && !info.IsDir() {
			if requireCompletion {
				if _, err := r.fs.Stat(filepath.Join(folder, CompletionFlag)); err != nil {
					return false, name, path
				}
			}
			return true, name, path
		}
	}
	return false, name, path
}

// FromLocal copies a package from the local repository into dest, stripping
// the repository file name prefix.
func (r *Repository) FromLocal(pkg errs.Coordinates, dest string) error {
	src, err := r.LocalFolder(pkg)
	if err != nil {
		return err
	}
	return r.copyTree(src, dest, func(name string) string {
		return FromRepoFileName(name, pkg.ArtifactID, pkg.Version)
	})
}

// Install replaces the local repository copy of a package with the contents
// of src and marks it complete.
func (r *Repository) Install(pkg errs.Coordinates, src string) error {
	v, err := config.ParseVersion(pkg.Version)
	if err != nil {
		return err
	}
	pkg.Version = v.Raw
	dest, err := r.LocalFolder(pkg)
	if err != nil {
		return err
	}
	if err := r.fs.RemoveAll(dest); err != nil {
		return fmt.Errorf("clear %s: %w", dest, err)
	}
	if err := r.copyTree(src, dest, func(name string) string {
		return ToRepoFileName(name, pkg.ArtifactID, pkg.Version)
	}); err != nil {
		return err
	}
	r.logger.Info("installed %s/%s/%s into %s", pkg.GroupID, pkg.ArtifactID, pkg.Version, dest)
	return r.touch(filepath.Join(dest, CompletionFlag))
}

func (r *Repository) touch(path string) error {
	return afero.WriteFile(r.fs, path, nil, 0o644)
}

// copyTree copies src into dest, renaming files with rename and skipping
// checksums, signatures and the completion flag. Existing files are
// overwritten.
func (r *Repository) copyTree(src, dest string, rename func(string) string) error {
	if err := r.fs.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return afero.Walk(r.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if ignored(info.Name()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return r.fs.MkdirAll(target, 0o755)
		}
		target = filepath.Join(filepath.Dir(target), rename(info.Name()))
		data, err := afero.ReadFile(r.fs, path)
		if err != nil {
			return err
		}
		return afero.WriteFile(r.fs, target, data, info.Mode().Perm()|0o200)
	})
}

func (r *Repository) copyFile(src, dest string) error {
	data, err := afero.ReadFile(r.fs, src)
	if err != nil {
		return err
	}
	return afero.WriteFile(r.fs, dest, data, 0o644)
}
