package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ConCopilot/concopilot/internal/asset"
	"github.com/ConCopilot/concopilot/internal/config"
	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/framework/component"
	"github.com/ConCopilot/concopilot/internal/resource"
	errs "github.com/ConCopilot/concopilot/internal/shared/errors"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
)

// Value kinds recorded in the .info companion file.
const (
	InfoText   = "text"
	InfoBinary = "binary"
	InfoJSON   = "json"

	infoSuffix = ".info"

	// StorageLocationAsset is the asset type listing files written through
	// the write command.
	StorageLocationAsset = "storage location"
)

// DiskSettings is the config section of a disk storage.
type DiskSettings struct {
	RootDirectory string `yaml:"root_directory"`
	SubRootKey    string `yaml:"sub_root_key"`
	AssetKey      string `yaml:"asset_key"`
}

// Disk stores each value in a file named after its key, next to a <key>.info
// file recording how the value was encoded. Sub-storages live below
// <root>/<sub_root_key>, which plain keys may not reach.
type Disk struct {
	*component.Base
	settings DiskSettings
	workDir  string

	mu      sync.Mutex
	disk    *resource.Disk
	root    string
	subRoot string
	subs    map[string]*Disk
}

var _ framework.Storage = (*Disk)(nil)

// NewDisk returns a storage that becomes usable once ConfigResources has
// bound a disk resource. A relative root_directory is taken relative to the
// disk root; without one the storage uses workingDir.
func NewDisk(d *config.Descriptor, workingDir string, opts ...component.Option) (*Disk, error) {
	b, err := component.New(d, append([]component.Option{component.WithType(config.TypeStorage)}, opts...)...)
	if err != nil {
		return nil, err
	}
	settings := DiskSettings{SubRootKey: "__sub__"}
	if err := d.Settings(&settings); err != nil {
		return nil, err
	}
	if strings.TrimSpace(settings.SubRootKey) == "" {
		return nil, errs.NewConfigError("config.sub_root_key", "must not be empty")
	}
	s := &Disk{Base: b, settings: settings, workDir: workingDir, subs: make(map[string]*Disk)}
	s.Commands().
		Handle("read", s.readCommand).
		Handle("write", s.writeCommand).
		Handle("delete", s.deleteCommand)
	return s, nil
}

// ConfigResources binds the first disk resource, either declared in the
// descriptor or found by type, and checks the storage root lies below it.
func (s *Disk) ConfigResources(provider framework.ResourceProvider) error {
	if err := s.Base.ConfigResources(provider); err != nil {
		return err
	}
	var disk *resource.Disk
	for _, r := range s.Resources() {
		if d, ok := r.(*resource.Disk); ok {
			disk = d
			break
		}
	}
	if disk == nil && provider != nil {
		disk, _ = provider.GetResource(framework.ResourceQuery{Type: resource.TypeDisk}).(*resource.Disk)
	}
	if disk == nil {
		return errs.NewConfigError("resources", "storage %s needs a disk resource", s.Name())
	}
	root := s.settings.RootDirectory
	if root == "" {
		root = s.workDir
	}
	return s.bind(disk, root)
}

func (s *Disk) bind(disk *resource.Disk, root string) error {
	if root == "" {
		root = disk.Root()
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(disk.Root(), root)
	}
	root = filepath.Clean(root)
	if rel, err := filepath.Rel(disk.Root(), root); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errs.NewConfigError("config.root_directory", "storage path %s is not under the disk resource path %s", root, disk.Root())
	}
	s.mu.Lock()
	s.disk, s.root, s.subRoot = disk, root, filepath.Join(root, s.settings.SubRootKey)
	s.mu.Unlock()
	return nil
}

// Root returns the folder holding this storage's values.
func (s *Disk) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

func (s *Disk) backing() (*resource.Disk, string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disk == nil {
		return nil, "", "", fmt.Errorf("storage %s has no disk resource bound", s.Name())
	}
	return s.disk, s.root, s.subRoot, nil
}

func (s *Disk) path(key string) (*resource.Disk, string, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, "", err
	}
	disk, root, subRoot, err := s.backing()
	if err != nil {
		return nil, "", err
	}
	p := filepath.Clean(filepath.Join(root, key))
	if p == subRoot || strings.HasPrefix(p, subRoot+string(filepath.Separator)) {
		return nil, "", fmt.Errorf("key %q points into the sub-storage area %s", key, subRoot)
	}
	if p == root || !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return nil, "", fmt.Errorf("key %q leaves the storage root %s", key, root)
	}
	return disk, p, nil
}

func (s *Disk) Get(key string) (any, bool, error) {
	disk, p, err := s.path(key)
	if err != nil {
		return nil, false, err
	}
	info, err := disk.ReadFile(p + infoSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := disk.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	switch kind := strings.TrimSpace(string(info)); kind {
	case InfoText:
		return string(data), true, nil
	case InfoBinary:
		return data, true, nil
	case InfoJSON:
		var v any
		if err := jsonx.Unmarshal(data, &v); err != nil {
			return nil, false, fmt.Errorf("decode stored value %q: %w", key, err)
		}
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("stored value %q has unknown encoding %q", key, kind)
	}
}

func (s *Disk) GetOrDefault(key string, def any) (any, error) {
	return getOrDefault(s, key, def)
}

func (s *Disk) Put(key string, value any) error {
	disk, p, err := s.path(key)
	if err != nil {
		return err
	}
	var (
		data []byte
		kind string
	)
	switch v := value.(type) {
	case string:
		data, kind = []byte(v), InfoText
	case []byte:
		data, kind = v, InfoBinary
	default:
		if data, err = jsonx.Marshal(v); err != nil {
			return fmt.Errorf("encode value %q: %w", key, err)
		}
		kind = InfoJSON
	}
	if err := disk.WriteFile(p, data); err != nil {
		return err
	}
	return disk.WriteFile(p+infoSuffix, []byte(kind))
}

// Remove deletes the value and prunes folders left empty, up to the root.
func (s *Disk) Remove(key string) (any, error) {
	disk, p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	v, ok, err := s.Get(key)
	if err != nil || !ok {
		return nil, err
	}
	if err := disk.DeleteFile(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := disk.DeleteFile(p + infoSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	root := s.Root()
	for dir := filepath.Dir(p); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		entries, err := disk.ListDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := disk.DeleteFolder(dir); err != nil {
			break
		}
	}
	return v, nil
}

func (s *Disk) SubStorage(key string) (framework.Storage, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	disk, _, subRoot, err := s.backing()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[key]; ok {
		return sub, nil
	}
	sub, err := NewDisk(s.Config(), s.workDir, component.WithLogger(s.Logger()), component.WithClock(s.Clock()))
	if err != nil {
		return nil, err
	}
	if err := sub.bind(disk, filepath.Join(subRoot, key)); err != nil {
		return nil, err
	}
	sub.ConfigContext(s.Context())
	s.subs[key] = sub
	return sub, nil
}

func (s *Disk) RemoveSubStorage(key string) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	disk, _, subRoot, err := s.backing()
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[key]; !ok {
		return false, nil
	}
	if err := disk.DeleteFolder(filepath.Join(subRoot, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	delete(s.subs, key)
	return true, nil
}

type fileParam struct {
	FilePath string `json:"file_path"`
	Content  any    `json:"content"`
}

func checkFilePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("file_path is required")
	}
	if filepath.IsAbs(p) {
		return errors.New("only relative file paths are acceptable")
	}
	if strings.Contains(strings.TrimSuffix(p, filepath.Ext(p)), ".") {
		return errors.New("'.' is not allowed in file_path unless it is the filename extension separator")
	}
	return nil
}

func (s *Disk) readCommand(_ context.Context, param any) (any, error) {
	p, err := component.Param[fileParam](param)
	if err != nil {
		return nil, err
	}
	if err := checkFilePath(p.FilePath); err != nil {
		return nil, err
	}
	v, _, err := s.Get(p.FilePath)
	if err != nil {
		return nil, err
	}
	if data, ok := v.([]byte); ok {
		v = string(data)
	}
	return map[string]any{"content": v}, nil
}

func (s *Disk) writeCommand(_ context.Context, param any) (any, error) {
	p, err := component.Param[fileParam](param)
	if err != nil {
		return nil, err
	}
	if err := checkFilePath(p.FilePath); err != nil {
		return nil, err
	}
	if err := s.Put(p.FilePath, p.Content); err != nil {
		return nil, err
	}
	s.trackLocation(p.FilePath, true)
	return map[string]any{"status": true}, nil
}

func (s *Disk) deleteCommand(_ context.Context, param any) (any, error) {
	p, err := component.Param[fileParam](param)
	if err != nil {
		return nil, err
	}
	if err := checkFilePath(p.FilePath); err != nil {
		return nil, err
	}
	if _, err := s.Remove(p.FilePath); err != nil {
		return nil, err
	}
	s.trackLocation(p.FilePath, false)
	return map[string]any{"status": true}, nil
}

// trackLocation keeps the asset_key asset listing the files written through
// commands. The asset is dropped once its list is empty.
func (s *Disk) trackLocation(filePath string, add bool) {
	key := s.settings.AssetKey
	ctx := s.Context()
	if key == "" || ctx == nil {
		return
	}
	if ctx.Assets == nil {
		if !add {
			return
		}
		ctx.Assets = asset.Map{}
	}
	a, ok := ctx.Assets[key]
	if !ok {
		if !add {
			return
		}
		a = asset.New(asset.Asset{Type: StorageLocationAsset, ContentType: "list", Content: []string{}})
		ctx.Assets[key] = a
	}
	paths, _ := a.Content.([]string)
	kept := make([]string, 0, len(paths)+1)
	for _, existing := range paths {
		if existing != filePath {
			kept = append(kept, existing)
		}
	}
	if add {
		kept = append(kept, filePath)
	}
	if len(kept) == 0 {
		delete(ctx.Assets, key)
		return
	}
	a.Content = kept
}
