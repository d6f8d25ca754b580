// Package manifest implements plugin manifest parsing, validation, and
// directory discovery.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Kind describes how a plugin executes.
type Kind string

const (
	// KindProcess marks plugins backed by an independent OS process.
	KindProcess Kind = "process"

	// KindModule marks plugins backed by in-process interpreted code.
	KindModule Kind = "module"
)

// DefaultCategory is assigned when a manifest declares no category.
const DefaultCategory = "general"

var (
	// ErrDiscovery marks manifests that could not be discovered or parsed.
	ErrDiscovery = errors.New("plugin discovery failed")

	// ErrNoEntry is returned when a manifest declares neither an executable
	// nor a code-module entry.
	ErrNoEntry = errors.New("manifest declares no binary and no entry file")
)

// Manifest is the immutable descriptor of a plugin. It is created once at
// discovery and never mutated; configuration changes are persisted separately.
type Manifest struct {
	// Name is the unique plugin key within the live table.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Version is the declared plugin version.
	Version string `json:"version" yaml:"version" validate:"required"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty" yaml:"description"`

	// Author is the plugin author or organization.
	Author string `json:"author,omitempty" yaml:"author"`

	// Binary is the executable entry, relative to the plugin directory.
	// Declaring Binary and no Entry makes the plugin process-backed.
	Binary string `json:"binary,omitempty" yaml:"binary"`

	// Entry is the code-module entry file (a .go source file interpreted
	// in-process), relative to the plugin directory.
	Entry string `json:"entry,omitempty" yaml:"entry"`

	// ConfigTemplate describes the configuration fields the plugin accepts.
	// Informational only; this core enforces no schema.
	ConfigTemplate map[string]any `json:"config_template,omitempty" yaml:"config_template"`

	// DefaultConfig is merged under the persisted document at start time.
	DefaultConfig map[string]any `json:"default_config,omitempty" yaml:"default_config"`

	// Commands documents the custom commands the plugin exposes
	// (name -> description). Dispatch is governed by the plugin itself.
	Commands map[string]string `json:"commands,omitempty" yaml:"commands"`

	// Dependencies lists declared plugin dependencies. Recorded only; this
	// core performs no resolution.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies"`

	// Icon is an optional icon reference for UIs.
	Icon string `json:"icon,omitempty" yaml:"icon"`

	// Category is a free-form grouping tag.
	Category string `json:"category,omitempty" yaml:"category"`

	// Builtin marks protected plugins: they cannot be stopped, restarted,
	// or uninstalled through the control API.
	Builtin bool `json:"builtin,omitempty" yaml:"builtin"`

	// UITemplate is an optional frontend template reference.
	UITemplate string `json:"ui_template,omitempty" yaml:"ui_template"`
}

// Kind classifies the plugin from its declared entry references. A manifest
// is process-backed if it declares an executable and no code entry; anything
// else is module-backed. The kind is fixed at discovery, never inferred from
// runtime types.
func (m *Manifest) Kind() Kind {
	if m.Binary != "" && m.Entry == "" {
		return KindProcess
	}

	return KindModule
}

// EntryRef returns the declared entry reference for the manifest's kind.
func (m *Manifest) EntryRef() string {
	if m.Kind() == KindProcess {
		return m.Binary
	}

	return m.Entry
}

// Parse reads and decodes a manifest file. YAML and JSON are the two accepted
// forms, selected by file extension.
func Parse(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from directory discovery
	if err != nil {
		return nil, errors.Wrap(err, "failed to read manifest")
	}

	var m Manifest

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "failed to parse YAML manifest")
		}
	case ".json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.Wrap(err, "failed to parse JSON manifest")
		}
	default:
		return nil, errors.Newf("unsupported manifest format: %s", filepath.Ext(path))
	}

	if m.Category == "" {
		m.Category = DefaultCategory
	}

	return &m, nil
}

// Validate checks the required fields: name, version, and an entry reference.
func Validate(v *validator.Validate, m *Manifest) error {
	if err := v.Struct(m); err != nil {
		return errors.Wrap(err, "manifest validation failed")
	}

	if m.Binary == "" && m.Entry == "" {
		return ErrNoEntry
	}

	return nil
}
