// Package runtime owns the lifecycle of code-module-backed plugins: lazy
// code loading through the yaegi interpreter, instantiation with merged
// configuration, background execution on a cooperative worker, and custom
// command dispatch.
package runtime

import (
	"go/parser"
	"go/token"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/smykla-labs/pluginhost/pkg/logger"
	"github.com/smykla-labs/pluginhost/pkg/sdk"
)

var (
	// ErrLoad is returned when a plugin's code unit cannot be imported.
	ErrLoad = errors.New("failed to load plugin code")

	// ErrInstantiation is returned when a loaded code unit does not expose
	// the expected constructor.
	ErrInstantiation = errors.New("failed to instantiate plugin")
)

// constructorName is the symbol every code-module entry file must export.
const constructorName = "New"

// Constructor is the signature of the exported New symbol.
type Constructor = func(cfg map[string]any, dir string) (sdk.Plugin, error)

// CodeUnit is an opaque handle to one imported plugin code unit. Each unit
// lives in its own interpreter, so plugins cannot see each other's symbols.
type CodeUnit struct {
	interp *interp.Interpreter
	pkg    string
	entry  string
}

// Instantiate looks up the unit's constructor and builds the plugin's
// capability object with the merged configuration and the plugin directory.
func (u *CodeUnit) Instantiate(cfg map[string]any, dir string) (sdk.Plugin, error) {
	v, err := u.interp.Eval(u.pkg + "." + constructorName)
	if err != nil {
		return nil, errors.Wrapf(ErrInstantiation, "no %s symbol in package %s: %v",
			constructorName, u.pkg, err)
	}

	ctor, ok := v.Interface().(Constructor)
	if !ok {
		return nil, errors.Wrapf(ErrInstantiation,
			"%s.%s does not have signature func(map[string]any, string) (sdk.Plugin, error)",
			u.pkg, constructorName)
	}

	inst, err := ctor(cfg, dir)
	if err != nil {
		return nil, errors.Wrapf(ErrInstantiation, "constructor failed: %v", err)
	}

	if inst == nil {
		return nil, errors.Wrap(ErrInstantiation, "constructor returned nil plugin")
	}

	return inst, nil
}

// Loader imports plugin code units and caches them per plugin name.
type Loader interface {
	// Load imports the entry file into an isolated namespace. Idempotent:
	// a cached unit is returned as-is until purged.
	Load(name, entry string) (*CodeUnit, error)

	// Purge drops the cached code unit so the next Load re-imports the
	// source. Without the purge, edited plugin code would be silently
	// ignored on reload.
	Purge(name string)

	// Loaded reports whether a unit is cached for the plugin.
	Loaded(name string) bool
}

// yaegiLoader implements Loader on the yaegi Go interpreter.
type yaegiLoader struct {
	mu    sync.Mutex
	units map[string]*CodeUnit
	log   logger.Logger
}

// NewLoader creates the yaegi-backed Loader.
//
//nolint:ireturn // constructor intentionally returns the Loader interface
func NewLoader(log logger.Logger) Loader {
	return &yaegiLoader{
		units: make(map[string]*CodeUnit),
		log:   log,
	}
}

func (l *yaegiLoader) Load(name, entry string) (*CodeUnit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if unit, ok := l.units[name]; ok {
		return unit, nil
	}

	src, err := os.ReadFile(entry) //nolint:gosec // entry comes from the validated manifest
	if err != nil {
		return nil, errors.Wrapf(ErrLoad, "entry file %s: %v", entry, err)
	}

	pkg, err := packageName(entry, src)
	if err != nil {
		return nil, errors.Wrapf(ErrLoad, "entry file %s: %v", entry, err)
	}

	i := interp.New(interp.Options{})

	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, errors.Wrapf(ErrLoad, "binding stdlib symbols: %v", err)
	}

	if err := i.Use(Symbols); err != nil {
		return nil, errors.Wrapf(ErrLoad, "binding sdk symbols: %v", err)
	}

	if _, err := i.Eval(string(src)); err != nil {
		return nil, errors.Wrapf(ErrLoad, "evaluating %s: %v", entry, err)
	}

	unit := &CodeUnit{interp: i, pkg: pkg, entry: entry}
	l.units[name] = unit

	l.log.Debug("loaded plugin code unit", "plugin", name, "entry", entry, "package", pkg)

	return unit, nil
}

func (l *yaegiLoader) Purge(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.units[name]; ok {
		// Dropping the unit discards the whole interpreter, taking every
		// symbol the unit ever defined with it.
		delete(l.units, name)
		l.log.Debug("purged plugin code unit", "plugin", name)
	}
}

func (l *yaegiLoader) Loaded(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.units[name]

	return ok
}

// packageName extracts the package clause from the entry source.
func packageName(path string, src []byte) (string, error) {
	fset := token.NewFileSet()

	f, err := parser.ParseFile(fset, path, src, parser.PackageClauseOnly)
	if err != nil {
		return "", errors.Wrap(err, "parsing package clause")
	}

	if f.Name == nil || f.Name.Name == "" || f.Name.Name == "main" {
		return "", errors.New("entry file must declare a non-main package")
	}

	return f.Name.Name, nil
}
