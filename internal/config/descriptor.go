package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	errs "github.com/ConCopilot/concopilot/internal/shared/errors"

	"gopkg.in/yaml.v3"
)

// Component types used in descriptors.
const (
	TypePlugin         = "plugin"
	TypeResource       = "resource"
	TypeCerebrum       = "cerebrum"
	TypeStorage        = "storage"
	TypeInteractor     = "interactor"
	TypeUserInterface  = "user_interface"
	TypeMessageManager = "message_manager"
	TypeCopilot        = "copilot"

	TypeResourceManager = "resource_manager"
	TypePluginManager   = "plugin_manager"
)

// Descriptor is a component config file, or a reference to one. Fields are
// optional; the free-form Config section is decoded into typed settings with
// Settings.
type Descriptor struct {
	GroupID      string `yaml:"group_id,omitempty"`
	ArtifactID   string `yaml:"artifact_id,omitempty"`
	Version      string `yaml:"version,omitempty"`
	InstanceID   string `yaml:"instance_id,omitempty"`
	ConfigFolder string `yaml:"config_folder,omitempty"`
	ConfigFile   string `yaml:"config_file,omitempty"`

	Type         string   `yaml:"type,omitempty"`
	ResourceType string   `yaml:"resource_type,omitempty"`
	AsPlugin     FlexBool `yaml:"as_plugin,omitempty"`
	Name         string   `yaml:"name,omitempty"`

	Setup     *Setup         `yaml:"setup,omitempty"`
	Resources []ResourceRef  `yaml:"resources,omitempty"`
	Commands  []CommandSpec  `yaml:"commands,omitempty"`
	Info      *Info          `yaml:"info,omitempty"`
	Plugins   []*Descriptor  `yaml:"plugins,omitempty"`
	Generator *Descriptor    `yaml:"plugin_prompt_generator,omitempty"`
	Config    map[string]any `yaml:"config,omitempty"`

	// Location is where the descriptor was read from. It is set by the
	// registry and never serialised.
	Location Location `yaml:"-"`
}

// Location records the folder and file a descriptor came from.
type Location struct {
	Folder string
	File   string
}

// Setup declares the provisioning step run before construction.
type Setup struct {
	Package  string `yaml:"package,omitempty"`
	Commands []Argv `yaml:"commands,omitempty"`
}

// Argv is a command line given either as a YAML list or a single string split
// on whitespace.
type Argv []string

func (a *Argv) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*a = strings.Fields(node.Value)
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := node.Decode(&parts); err != nil {
			return err
		}
		*a = parts
		return nil
	default:
		return fmt.Errorf("line %d: setup command must be a string or a list", node.Line)
	}
}

// ResourceRef selects a resource by id, name or type. Inside a resource
// manager descriptor an entry is a full component reference instead, kept in
// Component.
type ResourceRef struct {
	ID   string `yaml:"id,omitempty" json:"id,omitempty"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	Component *Descriptor `yaml:"-" json:"-"`
}

type plainResourceRef struct {
	ID   string `yaml:"id,omitempty"`
	Name string `yaml:"name,omitempty"`
	Type string `yaml:"type,omitempty"`
}

func (r *ResourceRef) UnmarshalYAML(node *yaml.Node) error {
	var probe struct {
		GroupID    string `yaml:"group_id"`
		ArtifactID string `yaml:"artifact_id"`
	}
	if node.Kind == yaml.MappingNode {
		if err := node.Decode(&probe); err != nil {
			return err
		}
	}
	if probe.GroupID != "" || probe.ArtifactID != "" {
		var d Descriptor
		if err := node.Decode(&d); err != nil {
			return err
		}
		*r = ResourceRef{ID: d.ConfigString("id"), Name: d.Name, Component: &d}
		return nil
	}
	var plain plainResourceRef
	if err := node.Decode(&plain); err != nil {
		return err
	}
	*r = ResourceRef{ID: plain.ID, Name: plain.Name, Type: plain.Type}
	return nil
}

func (r ResourceRef) MarshalYAML() (any, error) {
	if r.Component != nil {
		return r.Component, nil
	}
	return plainResourceRef{ID: r.ID, Name: r.Name, Type: r.Type}, nil
}

// IsZero reports whether no selector is set.
func (r ResourceRef) IsZero() bool {
	return r.ID == "" && r.Name == "" && r.Type == "" && r.Component == nil
}

// CommandSpec describes one plugin command for prompts and function calling.
type CommandSpec struct {
	CommandName string      `yaml:"command_name" json:"command_name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  []Parameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Response    any         `yaml:"response,omitempty" json:"response,omitempty"`
}

// Parameter is one named command parameter.
type Parameter struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Enum        []any  `yaml:"enum,omitempty" json:"enum,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Info is the human and model facing description of a plugin.
type Info struct {
	Title               string `yaml:"title,omitempty" json:"title,omitempty"`
	Description         string `yaml:"description,omitempty" json:"description,omitempty"`
	DescriptionForModel string `yaml:"description_for_model,omitempty" json:"description_for_model,omitempty"`
	Prompt              string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	PromptFileName      string `yaml:"prompt_file_name,omitempty" json:"prompt_file_name,omitempty"`
	PromptFilePath      string `yaml:"prompt_file_path,omitempty" json:"prompt_file_path,omitempty"`
}

// FlexBool accepts true/false, non-zero integers and "true" in any case.
type FlexBool bool

func (b *FlexBool) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: as_plugin must be a scalar", node.Line)
	}
	switch node.Tag {
	case "!!bool":
		v, err := strconv.ParseBool(node.Value)
		if err != nil {
			return err
		}
		*b = FlexBool(v)
	case "!!int":
		v, err := strconv.ParseInt(node.Value, 0, 64)
		if err != nil {
			return err
		}
		*b = v != 0
	case "!!null":
		*b = false
	default:
		*b = FlexBool(strings.EqualFold(strings.TrimSpace(node.Value), "true"))
	}
	return nil
}

// LoadDescriptor reads a YAML descriptor and records its location.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	d.Location = Location{Folder: filepath.Dir(path), File: filepath.Base(path)}
	return d, nil
}

// ParseDescriptor decodes YAML bytes. Unknown top-level keys are rejected so
// typos surface at load time.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return nil, &errs.ConfigError{Reason: "invalid descriptor", Err: err}
	}
	return &d, nil
}

// Coordinates returns the (group, artifact, version) triple.
func (d *Descriptor) Coordinates() errs.Coordinates {
	if d == nil {
		return errs.Coordinates{}
	}
	return errs.Coordinates{GroupID: d.GroupID, ArtifactID: d.ArtifactID, Version: d.Version}
}

// HasCoordinates reports whether group, artifact and version are all set.
func (d *Descriptor) HasCoordinates() bool {
	return d != nil && d.GroupID != "" && d.ArtifactID != "" && d.Version != ""
}

// Clone deep-copies the descriptor through YAML, keeping Location.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		cp := *d
		return &cp
	}
	var out Descriptor
	if err := yaml.Unmarshal(data, &out); err != nil {
		cp := *d
		return &cp
	}
	out.Location = d.Location
	return &out
}

// Settings decodes the free-form config section into into. Fields absent from
// the section keep whatever value into already holds, so callers pass a
// struct pre-filled with defaults.
func (d *Descriptor) Settings(into any) error {
	if d == nil || len(d.Config) == 0 {
		return nil
	}
	data, err := yaml.Marshal(d.Config)
	if err != nil {
		return &errs.ConfigError{Field: "config", Err: err}
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return &errs.ConfigError{Field: "config", Reason: fmt.Sprintf("%s/%s", d.GroupID, d.ArtifactID), Err: err}
	}
	return nil
}

// ConfigString returns config[key] when it is a non-empty scalar.
func (d *Descriptor) ConfigString(key string) string {
	if d == nil || d.Config == nil {
		return ""
	}
	switch v := d.Config[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// ConfigDescriptor decodes config[key] as a nested descriptor. It returns nil
// when the key is absent.
func (d *Descriptor) ConfigDescriptor(key string) (*Descriptor, error) {
	if d == nil || d.Config == nil || d.Config[key] == nil {
		return nil, nil
	}
	data, err := yaml.Marshal(d.Config[key])
	if err != nil {
		return nil, &errs.ConfigError{Field: "config." + key, Err: err}
	}
	var sub Descriptor
	if err := yaml.Unmarshal(data, &sub); err != nil {
		return nil, &errs.ConfigError{Field: "config." + key, Err: err}
	}
	return &sub, nil
}

// ConfigDescriptors decodes config[key] as a list of nested descriptors.
func (d *Descriptor) ConfigDescriptors(key string) ([]*Descriptor, error) {
	if d == nil || d.Config == nil || d.Config[key] == nil {
		return nil, nil
	}
	data, err := yaml.Marshal(d.Config[key])
	if err != nil {
		return nil, &errs.ConfigError{Field: "config." + key, Err: err}
	}
	var subs []*Descriptor
	if err := yaml.Unmarshal(data, &subs); err != nil {
		return nil, &errs.ConfigError{Field: "config." + key, Err: err}
	}
	return subs, nil
}

// AllResourceRefs returns the top-level resources followed by config.resources.
func (d *Descriptor) AllResourceRefs() ([]ResourceRef, error) {
	if d == nil {
		return nil, nil
	}
	refs := append([]ResourceRef(nil), d.Resources...)
	if d.Config != nil && d.Config["resources"] != nil {
		data, err := yaml.Marshal(d.Config["resources"])
		if err != nil {
			return nil, &errs.ConfigError{Field: "config.resources", Err: err}
		}
		var extra []ResourceRef
		if err := yaml.Unmarshal(data, &extra); err != nil {
			return nil, &errs.ConfigError{Field: "config.resources", Err: err}
		}
		refs = append(refs, extra...)
	}
	return refs, nil
}

// FilePath joins file (or the descriptor's own file when empty) with the
// folder the descriptor was loaded from.
func (d *Descriptor) FilePath(file string) string {
	if file == "" {
		file = d.Location.File
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(d.Location.Folder, file)
}
