package manifest

import (
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/smykla-labs/pluginhost/pkg/logger"
)

// manifestFileNames are the accepted manifest file names, in lookup order.
var manifestFileNames = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

// Root is one plugin root directory. Builtin roots force the protected flag
// on every manifest they contain.
type Root struct {
	Path    string
	Builtin bool
}

// Discovered pairs a validated manifest with the directory it was found in.
type Discovered struct {
	Manifest *Manifest
	Dir      string
}

// Registry scans plugin roots and produces the deduplicated manifest table.
type Registry struct {
	validate *validator.Validate
	log      logger.Logger
}

// NewRegistry creates a manifest registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// Discover walks the given roots in priority order and returns the plugin
// table keyed by name. A broken manifest fails only that plugin: the error is
// logged and discovery continues. Name collisions across roots resolve
// first-root-wins; the later manifest is skipped with an error log, never
// silently overwritten.
func (r *Registry) Discover(roots []Root) map[string]*Discovered {
	table := make(map[string]*Discovered)

	for _, root := range roots {
		r.discoverRoot(root, table)
	}

	return table
}

func (r *Registry) discoverRoot(root Root, table map[string]*Discovered) {
	entries, err := os.ReadDir(root.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Error("failed to read plugin root", "root", root.Path, "error", err)
		}

		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(root.Path, entry.Name())

		m, err := r.loadDir(dir)
		if err != nil {
			r.log.Error("skipping plugin",
				"dir", dir,
				"error", errors.Mark(err, ErrDiscovery),
			)

			continue
		}

		if root.Builtin {
			m.Builtin = true
		}

		if existing, ok := table[m.Name]; ok {
			r.log.Error("duplicate plugin name, keeping first discovery",
				"name", m.Name,
				"kept", existing.Dir,
				"skipped", dir,
			)

			continue
		}

		table[m.Name] = &Discovered{Manifest: m, Dir: dir}

		r.log.Info("discovered plugin",
			"name", m.Name,
			"version", m.Version,
			"kind", string(m.Kind()),
			"builtin", m.Builtin,
		)
	}
}

func (r *Registry) loadDir(dir string) (*Manifest, error) {
	path, err := findManifest(dir)
	if err != nil {
		return nil, err
	}

	m, err := Parse(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(r.validate, m); err != nil {
		return nil, err
	}

	// Lenient version check: a non-semver version logs a warning but does
	// not fail the plugin, matching the permissive manifest handling the
	// ecosystem relies on.
	if _, err := semver.NewVersion(m.Version); err != nil {
		r.log.Debug("manifest version is not valid semver",
			"name", m.Name,
			"version", m.Version,
		)
	}

	return m, nil
}

func findManifest(dir string) (string, error) {
	for _, name := range manifestFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", errors.Newf("no manifest file in %s", dir)
}
