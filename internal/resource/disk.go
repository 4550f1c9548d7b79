package resource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework/component"

	"github.com/spf13/afero"
)

// ErrOutsideRoot rejects paths that leave the disk root or name the root
// itself.
var ErrOutsideRoot = errors.New("path is not under the disk root")

// DiskSettings is the config section of a disk resource.
type DiskSettings struct {
	RootDirectory string `yaml:"root_directory"`
}

// Disk is a filesystem rooted at one directory.
type Disk struct {
	*Base
	fs   afero.Fs
	root string
}

// NewDisk builds a disk rooted at config.root_directory, or at workingDir
// when unset. Relative roots are made absolute against the process directory
// on the OS filesystem.
func NewDisk(d *config.Descriptor, fs afero.Fs, workingDir string, opts ...component.Option) (*Disk, error) {
	base, err := NewBase(d, opts...)
	if err != nil {
		return nil, err
	}
	if base.ResourceType() != TypeDisk {
		return nil, fmt.Errorf("resource type %q is not %q", base.ResourceType(), TypeDisk)
	}
	var settings DiskSettings
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	root := settings.RootDirectory
	if root == "" {
		root = workingDir
	}
	if root == "" {
		root = "."
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if _, ok := fs.(*afero.OsFs); ok {
		if root, err = filepath.Abs(root); err != nil {
			return nil, err
		}
	}
	disk := &Disk{Base: base, fs: fs, root: filepath.Clean(root)}
	disk.Commands().
		Handle("read_file", disk.readCommand).
		Handle("write_file", disk.writeCommand).
		Handle("delete_file", disk.deleteCommand).
		Handle("list_dir", disk.listCommand)
	return disk, nil
}

func (d *Disk) Root() string { return d.root }
func (d *Disk) Fs() afero.Fs { return d.fs }

// Resolve maps path to an absolute location strictly below the root.
// Relative paths are taken relative to the root.
func (d *Disk) Resolve(path string) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(d.root, abs)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(d.root, abs)
	if err != nil || rel == "." || rel == ".." || (len(rel) > 3 && rel[:3] == ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s (root %s)", ErrOutsideRoot, path, d.root)
	}
	return abs, nil
}

func (d *Disk) ReadFile(path string) ([]byte, error) {
	abs, err := d.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := d.fs.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, os.ErrNotExist)
	}
	return afero.ReadFile(d.fs, abs)
}

// WriteFile creates parent folders as needed.
func (d *Disk) WriteFile(path string, data []byte) error {
	abs, err := d.Resolve(path)
	if err != nil {
		return err
	}
	if info, err := d.fs.Stat(abs); err == nil && info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if err := d.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(d.fs, abs, data, 0o644)
}

func (d *Disk) DeleteFile(path string) error {
	abs, err := d.Resolve(path)
	if err != nil {
		return err
	}
	info, err := d.fs.Stat(abs)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory: %w", path, os.ErrNotExist)
	}
	return d.fs.Remove(abs)
}

func (d *Disk) DeleteFolder(path string) error {
	abs, err := d.Resolve(path)
	if err != nil {
		return err
	}
	info, err := d.fs.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", path, os.ErrNotExist)
	}
	return d.fs.RemoveAll(abs)
}

// ListDir returns the sorted entry names of a folder. An empty path lists the
// root.
func (d *Disk) ListDir(path string) ([]string, error) {
	abs := d.root
	if path != "" {
		var err error
		if abs, err = d.Resolve(path); err != nil {
			return nil, err
		}
	}
	entries, err := afero.ReadDir(d.fs, abs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether path names a file or folder under the root.
func (d *Disk) Exists(path string) bool {
	abs, err := d.Resolve(path)
	if err != nil {
		return false
	}
	ok, _ := afero.Exists(d.fs, abs)
	return ok
}

type diskParam struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (d *Disk) readCommand(_ context.Context, param any) (any, error) {
	p, err := component.Param[diskParam](param)
	if err != nil {
		return nil, err
	}
	data, err := d.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": string(data)}, nil
}

func (d *Disk) writeCommand(_ context.Context, param any) (any, error) {
	p, err := component.Param[diskParam](param)
	if err != nil {
		return nil, err
	}
	if err := d.WriteFile(p.Path, []byte(p.Content)); err != nil {
		return nil, err
	}
	return map[string]any{"path": p.Path, "bytes": len(p.Content)}, nil
}

func (d *Disk) deleteCommand(_ context.Context, param any) (any, error) {
	p, err := component.Param[diskParam](param)
	if err != nil {
		return nil, err
	}
	if err := d.DeleteFile(p.Path); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": p.Path}, nil
}

func (d *Disk) listCommand(_ context.Context, param any) (any, error) {
	p, err := component.Param[diskParam](param)
	if err != nil {
		return nil, err
	}
	names, err := d.ListDir(p.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": names}, nil
}
