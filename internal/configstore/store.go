// Package configstore persists per-plugin configuration documents.
//
// Each plugin owns one JSON document on disk. At start time the document is
// merged over the manifest's default configuration, and call-site overrides
// merge over both. Documents are open-ended key-value maps; no schema is
// enforced here.
package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/maps"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/smykla-labs/pluginhost/pkg/logger"
)

const (
	configFilePermissions = 0o600
	configDirPermissions  = 0o755

	// delim is the koanf key path delimiter used during merges.
	delim = "."
)

// Store reads and writes per-plugin configuration documents under one
// directory, one `<name>.json` per plugin.
type Store struct {
	dir string
	log logger.Logger
}

// New creates a Store rooted at dir.
func New(dir string, log logger.Logger) *Store {
	return &Store{dir: dir, log: log}
}

// Path returns the on-disk path of the plugin's document.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Exists reports whether a persisted document is present for the plugin.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))

	return err == nil
}

// Load returns the persisted document merged over defaults. An unreadable
// document degrades to a copy of the defaults rather than failing the caller.
func (s *Store) Load(name string, defaults map[string]any) map[string]any {
	return s.Merge(name, defaults, nil)
}

// Merge layers override over the persisted document over defaults and
// returns the effective configuration.
func (s *Store) Merge(name string, defaults, override map[string]any) map[string]any {
	k := koanf.New(delim)

	if len(defaults) > 0 {
		if err := k.Load(confmap.Provider(maps.Copy(defaults), delim), nil); err != nil {
			s.log.Error("failed to merge default config", "plugin", name, "error", err)
		}
	}

	if s.Exists(name) {
		if err := k.Load(file.Provider(s.Path(name)), kjson.Parser()); err != nil {
			s.log.Error("failed to read persisted config, using defaults",
				"plugin", name,
				"path", s.Path(name),
				"error", err,
			)
		}
	}

	if len(override) > 0 {
		if err := k.Load(confmap.Provider(maps.Copy(override), delim), nil); err != nil {
			s.log.Error("failed to merge config override", "plugin", name, "error", err)
		}
	}

	return k.Raw()
}

// Save overwrites the plugin's persisted document.
func (s *Store) Save(name string, doc map[string]any) error {
	if err := os.MkdirAll(s.dir, configDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode config document")
	}

	if err := os.WriteFile(s.Path(name), data, configFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config document")
	}

	return nil
}

// Remove deletes the plugin's persisted document. Removing a document that
// does not exist is not an error.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove config document")
	}

	return nil
}
